package report

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/signalsfoundry/agrinode-simulator/core"
	"github.com/signalsfoundry/agrinode-simulator/model"
	"github.com/signalsfoundry/agrinode-simulator/timectrl"
)

type fixedStats struct{ stats core.TxStats }

func (f fixedStats) Statistics() core.TxStats { return f.stats }

func newReportFleet(t *testing.T) *core.FleetStore {
	t.Helper()
	store, err := core.NewFleetStore(core.FleetConfig{
		NodeCount:  3,
		NodeIDBase: 1000,
		Ranges:     model.DefaultSensorRanges(),
	}, rand.New(rand.NewPCG(7, 7)))
	if err != nil {
		t.Fatalf("NewFleetStore() error = %v", err)
	}
	return store
}

func TestReportCollectsFleetCounters(t *testing.T) {
	store := newReportFleet(t)
	clock := timectrl.NewManualClock()
	r := New(DefaultConfig(), store, fixedStats{core.TxStats{TotalSent: 9, TotalFailed: 2}}, clock, nil)

	clock.Advance(90 * time.Second)
	s := r.Report(context.Background())

	if s.UptimeSeconds != 90 {
		t.Errorf("UptimeSeconds = %d, want 90", s.UptimeSeconds)
	}
	if s.TotalSent != 9 || s.TotalFailed != 2 {
		t.Errorf("counters = (%d, %d), want (9, 2)", s.TotalSent, s.TotalFailed)
	}
	if len(s.Nodes) != 3 {
		t.Fatalf("nodes = %d, want 3", len(s.Nodes))
	}
	for i, n := range s.Nodes {
		if n.NodeID != uint16(1000+i) {
			t.Errorf("node %d: NodeID = %d, want %d", i, n.NodeID, 1000+i)
		}
	}
}

func TestReportPostsSummaryToCollector(t *testing.T) {
	var posts atomic.Int64
	var got Summary
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		posts.Add(1)
		if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
			t.Errorf("decode POST body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.RemoteURL = srv.URL
	r := New(cfg, newReportFleet(t), fixedStats{core.TxStats{TotalSent: 4}}, timectrl.NewManualClock(), nil)

	r.Report(context.Background())

	if posts.Load() != 1 {
		t.Fatalf("collector received %d posts, want 1", posts.Load())
	}
	if got.TotalSent != 4 || len(got.Nodes) != 3 {
		t.Fatalf("posted summary = %+v, want sent 4 over 3 nodes", got)
	}
	if r.PostFailures() != 0 {
		t.Fatalf("PostFailures() = %d, want 0", r.PostFailures())
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var posts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.RemoteURL = srv.URL
	r := New(cfg, newReportFleet(t), fixedStats{}, timectrl.NewManualClock(), nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r.Report(ctx)
	}

	// The breaker trips after the third consecutive failure; later reports
	// are rejected locally without touching the collector.
	if posts.Load() != 3 {
		t.Fatalf("collector received %d posts, want 3 before the breaker opened", posts.Load())
	}
	if r.PostFailures() != 5 {
		t.Fatalf("PostFailures() = %d, want 5", r.PostFailures())
	}
	if state := r.breaker.State(); state != gobreaker.StateOpen {
		t.Fatalf("breaker state = %v, want open", state)
	}
}

func TestRunPacesThroughInjectedClock(t *testing.T) {
	var posts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Second
	cfg.RemoteURL = srv.URL
	clock := timectrl.NewManualClock()
	r := New(cfg, newReportFleet(t), fixedStats{}, clock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for posts.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if posts.Load() < 3 {
		t.Fatalf("collector received %d posts, want at least 3", posts.Load())
	}
	// Every report is preceded by one full interval on the virtual clock.
	if got := clock.MonotonicMs(); got < 30_000 {
		t.Fatalf("clock advanced %d ms over 3 reports, want at least 30000", got)
	}
}

func TestLogOnlyReporterNeverDials(t *testing.T) {
	r := New(DefaultConfig(), newReportFleet(t), fixedStats{}, timectrl.NewManualClock(), nil)
	if r.client != nil || r.breaker != nil {
		t.Fatal("reporter without a remote URL built an HTTP client")
	}
	r.Report(context.Background())
	if r.PostFailures() != 0 {
		t.Fatalf("PostFailures() = %d, want 0", r.PostFailures())
	}
}
