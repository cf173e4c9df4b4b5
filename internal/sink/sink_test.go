package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/agrinode-simulator/internal/observability"
	"github.com/signalsfoundry/agrinode-simulator/model"
	"github.com/signalsfoundry/agrinode-simulator/wire"
)

type captureWriter struct {
	got        []wire.Telemetry
	receivedAt []time.Time
	err        error
}

func (w *captureWriter) WriteTelemetry(_ context.Context, t wire.Telemetry, receivedAt time.Time) error {
	if w.err != nil {
		return w.err
	}
	w.got = append(w.got, t)
	w.receivedAt = append(w.receivedAt, receivedAt)
	return nil
}

func testFrame(t *testing.T) []byte {
	t.Helper()
	codec := wire.NewCodec(wire.DefaultTeamID, wire.FormatExtended)
	return codec.Encode(model.NodeState{
		NodeID:          1002,
		SoilMoisturePct: 44,
		AirTempC:        23.5,
		AirHumidityPct:  61,
		Irrigation:      model.IrrigationOn,
		DataTimestamp:   1_700_000_000,
	}, -65)
}

func newTestReceiver(t *testing.T, writer PointWriter) (*Receiver, *observability.ReceiverCollector) {
	t.Helper()
	metrics, err := observability.NewReceiverCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewReceiverCollector() error = %v", err)
	}
	codec := wire.NewCodec(wire.DefaultTeamID, wire.FormatExtended)
	return NewReceiver(codec, writer, metrics, nil), metrics
}

func TestHandleFramePersistsDecodedTelemetry(t *testing.T) {
	writer := &captureWriter{}
	r, metrics := newTestReceiver(t, writer)

	if err := r.HandleFrame(context.Background(), testFrame(t)); err != nil {
		t.Fatalf("HandleFrame() error = %v", err)
	}
	if len(writer.got) != 1 {
		t.Fatalf("writer received %d points, want 1", len(writer.got))
	}
	got := writer.got[0]
	if got.NodeID != 1002 || got.SoilMoisturePct != 44 || got.Irrigation != model.IrrigationOn {
		t.Fatalf("decoded telemetry = %+v", got)
	}
	if got.AirTempC < 23.4 || got.AirTempC > 23.6 {
		t.Fatalf("AirTempC = %.2f, want 23.5 within codec precision", got.AirTempC)
	}
	if v := testutil.ToFloat64(metrics.FramesDecoded.WithLabelValues("1002")); v != 1 {
		t.Fatalf("ground_frames_decoded_total = %v, want 1", v)
	}
	if v := testutil.ToFloat64(metrics.PointsWritten); v != 1 {
		t.Fatalf("ground_points_written_total = %v, want 1", v)
	}
}

func TestHandleFrameCountsDecodeFailuresByReason(t *testing.T) {
	writer := &captureWriter{}
	r, metrics := newTestReceiver(t, writer)
	ctx := context.Background()

	good := testFrame(t)
	badMagic := append([]byte{}, good...)
	badMagic[0] = 0x00

	for _, tc := range []struct {
		name     string
		frame    []byte
		sentinel error
		reason   string
	}{
		{"bad magic", badMagic, wire.ErrFormat, "format"},
		{"truncated", good[:10], wire.ErrLength, "length"},
	} {
		err := r.HandleFrame(ctx, tc.frame)
		if !errors.Is(err, tc.sentinel) {
			t.Errorf("%s: HandleFrame() error = %v, want %v", tc.name, err, tc.sentinel)
		}
		if v := testutil.ToFloat64(metrics.DecodeFailures.WithLabelValues(tc.reason)); v != 1 {
			t.Errorf("%s: decode failures reason=%s = %v, want 1", tc.name, tc.reason, v)
		}
	}
	if len(writer.got) != 0 {
		t.Fatalf("writer received %d points from bad frames, want 0", len(writer.got))
	}
}

func TestHandleFrameCountsWriteFailures(t *testing.T) {
	writer := &captureWriter{err: errors.New("bucket gone")}
	r, metrics := newTestReceiver(t, writer)

	if err := r.HandleFrame(context.Background(), testFrame(t)); err == nil {
		t.Fatal("HandleFrame() = nil with a failing writer, want error")
	}
	if v := testutil.ToFloat64(metrics.WriteFailures); v != 1 {
		t.Fatalf("ground_point_write_failures_total = %v, want 1", v)
	}
	if v := testutil.ToFloat64(metrics.PointsWritten); v != 0 {
		t.Fatalf("ground_points_written_total = %v, want 0", v)
	}
}

func TestTelemetryPointPrefersFrameTimestamp(t *testing.T) {
	receivedAt := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	stamped := wire.Telemetry{NodeID: 1001, TeamID: 666, DataTimestamp: 1_700_000_000, AirTempC: 21}
	p := telemetryPoint(stamped, receivedAt)
	if p.Name() != "agrinode_telemetry" {
		t.Fatalf("measurement = %q, want agrinode_telemetry", p.Name())
	}
	if got, want := p.Time(), time.Unix(1_700_000_000, 0).UTC(); !got.Equal(want) {
		t.Fatalf("stamped point time = %v, want %v", got, want)
	}

	unstamped := wire.Telemetry{NodeID: 1001, TeamID: 666}
	if got := telemetryPoint(unstamped, receivedAt).Time(); !got.Equal(receivedAt) {
		t.Fatalf("unstamped point time = %v, want arrival time %v", got, receivedAt)
	}

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["node_id"] != "1001" || tags["team_id"] != "666" {
		t.Fatalf("tags = %v, want node_id=1001 team_id=666", tags)
	}
	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	if fields["air_temp_c"] != 21.0 {
		t.Fatalf("air_temp_c field = %v, want 21", fields["air_temp_c"])
	}
}
