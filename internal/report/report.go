// Package report logs periodic fleet statistics and optionally posts them
// to a remote collector. The remote leg is fire-and-forget: failures are
// logged, counted and absorbed by a circuit breaker.
package report

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/signalsfoundry/agrinode-simulator/core"
	"github.com/signalsfoundry/agrinode-simulator/internal/logging"
	"github.com/signalsfoundry/agrinode-simulator/timectrl"
)

// StatsSource exposes the scheduler's lifetime counters.
type StatsSource interface {
	Statistics() core.TxStats
}

// Config tunes the reporter.
type Config struct {
	// Interval is the reporting cadence.
	Interval time.Duration
	// RemoteURL receives a JSON summary per report; empty keeps the
	// reporter log-only.
	RemoteURL string
	// RequestTimeout bounds each remote POST.
	RequestTimeout time.Duration
}

// DefaultConfig returns the reference reporting policy.
func DefaultConfig() Config {
	return Config{
		Interval:       time.Minute,
		RequestTimeout: 5 * time.Second,
	}
}

// Summary is one report; it is also the POST body.
type Summary struct {
	UptimeSeconds uint64        `json:"uptime_seconds"`
	TotalSent     uint64        `json:"total_sent"`
	TotalFailed   uint64        `json:"total_failed"`
	Nodes         []NodeSummary `json:"nodes"`
}

// NodeSummary is the per-node slice of a Summary.
type NodeSummary struct {
	NodeID         uint16 `json:"node_id"`
	SequenceNumber uint32 `json:"sequence"`
	TxCount        uint32 `json:"tx_count"`
	LastRSSIdBm    int16  `json:"last_rssi_dbm"`
}

// Reporter emits a Summary every interval. Run it on its own goroutine;
// the fleet store's lock isolates it from the simulation loop.
type Reporter struct {
	cfg   Config
	store *core.FleetStore
	stats StatsSource
	clock timectrl.Clock
	log   logging.Logger

	client  *resty.Client
	breaker *gobreaker.CircuitBreaker
	startMs uint64

	mu         sync.Mutex
	postFailed uint64
}

// New builds a reporter. The circuit breaker trips after three consecutive
// POST failures and probes again after 30 seconds.
func New(cfg Config, store *core.FleetStore, stats StatsSource, clock timectrl.Clock, log logging.Logger) *Reporter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if log == nil {
		log = logging.Noop()
	}

	r := &Reporter{
		cfg:     cfg,
		store:   store,
		stats:   stats,
		clock:   clock,
		log:     log,
		startMs: clock.MonotonicMs(),
	}
	if cfg.RemoteURL != "" {
		r.client = resty.New().SetTimeout(cfg.RequestTimeout)
		r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "stats-collector",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
		})
	}
	return r
}

// Run reports every interval until the context is cancelled. Pacing goes
// through the injected clock, so a ManualClock drives the loop in tests
// the same way it drives the simulation loop.
func (r *Reporter) Run(ctx context.Context) {
	for {
		r.clock.Sleep(r.cfg.Interval)
		select {
		case <-ctx.Done():
			return
		default:
		}
		r.Report(ctx)
	}
}

// Report logs one summary and, when a remote collector is configured,
// posts it.
func (r *Reporter) Report(ctx context.Context) Summary {
	s := r.collect()
	r.log.Info(ctx, "fleet statistics",
		logging.Any("uptime_s", s.UptimeSeconds),
		logging.Any("sent", s.TotalSent),
		logging.Any("failed", s.TotalFailed),
		logging.Int("nodes", len(s.Nodes)))
	for _, n := range s.Nodes {
		r.log.Debug(ctx, "node statistics",
			logging.Int("node_id", int(n.NodeID)),
			logging.Any("seq", n.SequenceNumber),
			logging.Any("tx_count", n.TxCount),
			logging.Int("last_rssi_dbm", int(n.LastRSSIdBm)))
	}

	if r.client != nil {
		if err := r.post(ctx, s); err != nil {
			r.mu.Lock()
			r.postFailed++
			r.mu.Unlock()
			r.log.Warn(ctx, "stats report not delivered",
				logging.String("url", r.cfg.RemoteURL),
				logging.String("error", err.Error()))
		}
	}
	return s
}

// PostFailures returns how many remote reports were not delivered.
func (r *Reporter) PostFailures() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.postFailed
}

func (r *Reporter) collect() Summary {
	stats := r.stats.Statistics()
	s := Summary{
		UptimeSeconds: (r.clock.MonotonicMs() - r.startMs) / 1000,
		TotalSent:     stats.TotalSent,
		TotalFailed:   stats.TotalFailed,
	}
	for _, n := range r.store.SnapshotAll() {
		s.Nodes = append(s.Nodes, NodeSummary{
			NodeID:         n.NodeID,
			SequenceNumber: n.SequenceNumber,
			TxCount:        n.TxCount,
			LastRSSIdBm:    n.LastRSSIdBm,
		})
	}
	return s
}

func (r *Reporter) post(ctx context.Context, s Summary) error {
	_, err := r.breaker.Execute(func() (any, error) {
		resp, err := r.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(s).
			Post(r.cfg.RemoteURL)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= http.StatusBadRequest {
			return nil, fmt.Errorf("collector returned %s", resp.Status())
		}
		return nil, nil
	})
	return err
}
