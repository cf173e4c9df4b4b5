// Package sink is the ground receiver pipeline: frames off the uplink are
// decoded and persisted as time-series points. Malformed frames are
// dropped and counted; the pipeline never stops on a bad frame.
package sink

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/agrinode-simulator/internal/logging"
	"github.com/signalsfoundry/agrinode-simulator/internal/observability"
	"github.com/signalsfoundry/agrinode-simulator/wire"
)

// PointWriter persists one decoded frame. receivedAt is the ground-side
// arrival time, used when the frame carries no timestamp of its own.
type PointWriter interface {
	WriteTelemetry(ctx context.Context, t wire.Telemetry, receivedAt time.Time) error
}

// Receiver decodes raw frames and hands them to a PointWriter.
type Receiver struct {
	codec   *wire.Codec
	writer  PointWriter
	metrics *observability.ReceiverCollector
	log     logging.Logger
	tracer  trace.Tracer
}

// NewReceiver wires a decode pipeline. metrics may be nil.
func NewReceiver(codec *wire.Codec, writer PointWriter, metrics *observability.ReceiverCollector, log logging.Logger) *Receiver {
	if log == nil {
		log = logging.Noop()
	}
	return &Receiver{
		codec:   codec,
		writer:  writer,
		metrics: metrics,
		log:     log,
		tracer:  otel.Tracer("agrinode/sink"),
	}
}

// HandleFrame decodes one raw frame and persists it. Decode failures are
// returned after being counted; the caller keeps consuming.
func (r *Receiver) HandleFrame(ctx context.Context, frame []byte) error {
	ctx, span := r.tracer.Start(ctx, "sink.frame",
		trace.WithAttributes(attribute.Int("frame.bytes", len(frame))))
	defer span.End()

	t, err := r.codec.Decode(frame)
	if err != nil {
		span.RecordError(err)
		r.metrics.DecodeFailed(decodeFailureReason(err))
		r.log.Warn(ctx, "frame dropped",
			logging.Int("frame_bytes", len(frame)),
			logging.String("error", err.Error()))
		return fmt.Errorf("decode frame: %w", err)
	}
	r.metrics.FrameDecoded(t.NodeID)
	span.SetAttributes(attribute.Int("node.id", int(t.NodeID)))

	if err := r.writer.WriteTelemetry(ctx, t, time.Now().UTC()); err != nil {
		span.RecordError(err)
		r.metrics.WriteFailed()
		r.log.Warn(ctx, "telemetry point not persisted",
			logging.Int("node_id", int(t.NodeID)),
			logging.String("error", err.Error()))
		return fmt.Errorf("write telemetry: %w", err)
	}
	r.metrics.PointWritten()
	r.log.Debug(ctx, "telemetry persisted",
		logging.Int("node_id", int(t.NodeID)),
		logging.Any("soil_pct", t.SoilMoisturePct),
		logging.Any("irrigation", t.Irrigation))
	return nil
}

func decodeFailureReason(err error) string {
	switch {
	case errors.Is(err, wire.ErrFormat):
		return "format"
	case errors.Is(err, wire.ErrLength):
		return "length"
	case errors.Is(err, wire.ErrIrrigation):
		return "irrigation"
	}
	return "other"
}

// InfluxWriter persists telemetry through the InfluxDB blocking write API.
type InfluxWriter struct {
	writeAPI api.WriteAPIBlocking
}

// NewInfluxWriter builds a writer for the given org and bucket.
func NewInfluxWriter(client influxdb2.Client, org, bucket string) *InfluxWriter {
	return &InfluxWriter{writeAPI: client.WriteAPIBlocking(org, bucket)}
}

func (w *InfluxWriter) WriteTelemetry(ctx context.Context, t wire.Telemetry, receivedAt time.Time) error {
	return w.writeAPI.WritePoint(ctx, telemetryPoint(t, receivedAt))
}

// telemetryPoint maps one frame to an Influx point. Frames stamped by a
// synchronized node clock keep their own time; unstamped frames get the
// arrival time.
func telemetryPoint(t wire.Telemetry, receivedAt time.Time) *write.Point {
	ts := receivedAt
	if t.DataTimestamp != 0 {
		ts = time.Unix(int64(t.DataTimestamp), 0).UTC()
	}
	return influxdb2.NewPoint(
		"agrinode_telemetry",
		map[string]string{
			"node_id": strconv.FormatUint(uint64(t.NodeID), 10),
			"team_id": strconv.FormatUint(uint64(t.TeamID), 10),
		},
		map[string]interface{}{
			"soil_moisture_pct": int64(t.SoilMoisturePct),
			"air_temp_c":        t.AirTempC,
			"air_humidity_pct":  int64(t.AirHumidityPct),
			"irrigation":        int64(t.Irrigation),
			"signal_dbm":        int64(t.SignalDBm),
		},
		ts,
	)
}
