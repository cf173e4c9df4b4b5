package core

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/signalsfoundry/agrinode-simulator/internal/logging"
	"github.com/signalsfoundry/agrinode-simulator/model"
	"github.com/signalsfoundry/agrinode-simulator/radio"
	"github.com/signalsfoundry/agrinode-simulator/timectrl"
	"github.com/signalsfoundry/agrinode-simulator/wire"
)

// TxMetrics receives transmission outcomes. Implementations must be safe
// for concurrent use.
type TxMetrics interface {
	FrameSent(nodeID uint16, frameBytes int)
	FrameFailed(nodeID uint16)
	ChannelBusy(nodeID uint16)
}

type nopTxMetrics struct{}

func (nopTxMetrics) FrameSent(uint16, int) {}
func (nopTxMetrics) FrameFailed(uint16)    {}
func (nopTxMetrics) ChannelBusy(uint16)    {}

// NopTxMetrics returns a TxMetrics that discards every observation.
func NopTxMetrics() TxMetrics { return nopTxMetrics{} }

// SchedulerConfig carries the airtime policy of the shared uplink.
type SchedulerConfig struct {
	// BaseIntervalMs is the shared transmit period. JitterSpanMs is spread
	// across the fleet so nodes do not become due in the same cycle:
	// node i waits BaseIntervalMs + i*(JitterSpanMs/nodeCount).
	BaseIntervalMs uint64
	JitterSpanMs   uint64
	// MinIntervalMs is the regulatory duty-cycle floor. It overrides any
	// smaller computed interval.
	MinIntervalMs uint64

	// Listen-before-talk: SenseSamples readings taken SenseGap apart must
	// all sit at or below BusyThresholdDBm for the channel to count as
	// clear.
	BusyThresholdDBm int16
	SenseSamples     int
	SenseGap         time.Duration

	// Busy-channel backoff is drawn uniformly from [BackoffMin, BackoffMax).
	BackoffMin time.Duration
	BackoffMax time.Duration
	// SettleDelay follows every transmit attempt before the next node is
	// considered.
	SettleDelay time.Duration

	// Synthetic payload signal strength is drawn uniformly from
	// [SignalFloorDBm, SignalCeilDBm).
	SignalFloorDBm int16
	SignalCeilDBm  int16
}

// DefaultSchedulerConfig returns the reference airtime policy.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BaseIntervalMs:   60_000,
		JitterSpanMs:     5_000,
		MinIntervalMs:    14_000,
		BusyThresholdDBm: -90,
		SenseSamples:     3,
		SenseGap:         10 * time.Millisecond,
		BackoffMin:       100 * time.Millisecond,
		BackoffMax:       500 * time.Millisecond,
		SettleDelay:      100 * time.Millisecond,
		SignalFloorDBm:   -80,
		SignalCeilDBm:    -50,
	}
}

// Validate reports the first configuration fault.
func (c SchedulerConfig) Validate() error {
	if c.MinIntervalMs == 0 {
		return fmt.Errorf("minimum interval must be positive")
	}
	if c.SenseSamples < 1 {
		return fmt.Errorf("sense samples %d must be at least 1", c.SenseSamples)
	}
	if c.BackoffMax < c.BackoffMin {
		return fmt.Errorf("backoff range [%v, %v] is inverted", c.BackoffMin, c.BackoffMax)
	}
	if c.SignalCeilDBm <= c.SignalFloorDBm {
		return fmt.Errorf("signal range [%d, %d] dBm is empty", c.SignalFloorDBm, c.SignalCeilDBm)
	}
	return nil
}

// TxStats are the lifetime transmission counters.
type TxStats struct {
	TotalSent   uint64
	TotalFailed uint64
}

// TxScheduler walks the fleet once per cycle and transmits every node that
// is due, subject to channel sensing and the duty-cycle floor. One
// scheduler owns one transport; frames never interleave.
type TxScheduler struct {
	cfg     SchedulerConfig
	store   *FleetStore
	codec   *wire.Codec
	link    radio.Transport
	clock   timectrl.Clock
	rng     *rand.Rand
	log     logging.Logger
	metrics TxMetrics

	mu    sync.Mutex
	stats TxStats
}

// NewTxScheduler wires a scheduler over the given fleet and transport.
func NewTxScheduler(cfg SchedulerConfig, store *FleetStore, codec *wire.Codec, link radio.Transport, clock timectrl.Clock, rng *rand.Rand, log logging.Logger, metrics TxMetrics) (*TxScheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scheduler config: %w", err)
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if log == nil {
		log = logging.Noop()
	}
	if metrics == nil {
		metrics = NopTxMetrics()
	}
	return &TxScheduler{
		cfg:     cfg,
		store:   store,
		codec:   codec,
		link:    link,
		clock:   clock,
		rng:     rng,
		log:     log,
		metrics: metrics,
	}, nil
}

// IntervalFor returns the enforced transmit interval of the node at the
// given fleet index, in milliseconds.
func (s *TxScheduler) IntervalFor(index int) uint64 {
	interval := s.cfg.BaseIntervalMs
	if count := s.store.Len(); count > 0 {
		interval += uint64(index) * (s.cfg.JitterSpanMs / uint64(count))
	}
	if interval < s.cfg.MinIntervalMs {
		return s.cfg.MinIntervalMs
	}
	return interval
}

// Tick runs one scheduling cycle over the whole fleet in index order.
// Nodes that are not yet due are skipped without touching the channel.
func (s *TxScheduler) Tick(ctx context.Context) {
	for i := 0; i < s.store.Len(); i++ {
		s.tickNode(ctx, i)
	}
}

func (s *TxScheduler) tickNode(ctx context.Context, i int) {
	n, err := s.store.Snapshot(i)
	if err != nil {
		return
	}
	if s.clock.MonotonicMs()-n.LastTxMs < s.IntervalFor(i) {
		return
	}

	if !s.channelClear() {
		// The node stays eligible; it retries on a later cycle once the
		// backoff has drained.
		s.metrics.ChannelBusy(n.NodeID)
		backoff := s.drawBackoff()
		s.log.Debug(ctx, "channel busy, backing off",
			logging.Int("node_id", int(n.NodeID)),
			logging.Any("backoff", backoff))
		s.clock.Sleep(backoff)
		return
	}

	s.transmit(ctx, i)
	s.clock.Sleep(s.cfg.SettleDelay)
}

// SendProbe transmits the first node's state immediately, bypassing the
// schedule and channel sensing. It exercises the full encode and transport
// path once at bring-up.
func (s *TxScheduler) SendProbe(ctx context.Context) error {
	if s.store.Len() == 0 {
		return fmt.Errorf("empty fleet")
	}
	return s.transmit(ctx, 0)
}

// channelClear samples ambient RSSI before transmitting. The first sample
// above the busy threshold aborts the remaining samples.
func (s *TxScheduler) channelClear() bool {
	for sample := 0; sample < s.cfg.SenseSamples; sample++ {
		if sample > 0 {
			s.clock.Sleep(s.cfg.SenseGap)
		}
		if s.link.MeasureChannelActivity() > s.cfg.BusyThresholdDBm {
			return false
		}
	}
	return true
}

func (s *TxScheduler) transmit(ctx context.Context, i int) error {
	n, err := s.store.Snapshot(i)
	if err != nil {
		return err
	}

	frame := s.codec.Encode(n, s.drawSignal())
	if err := s.sendFrame(frame); err != nil {
		s.mu.Lock()
		s.stats.TotalFailed++
		s.mu.Unlock()
		s.metrics.FrameFailed(n.NodeID)
		s.log.Warn(ctx, "frame not delivered",
			logging.Int("node_id", int(n.NodeID)),
			logging.Any("seq", n.SequenceNumber),
			logging.Any("error", err))
		return err
	}

	now := s.clock.MonotonicMs()
	rssi := s.link.LastReceivedSignalLevel()
	_ = s.store.Mutate(i, func(n *model.NodeState) {
		n.LastTxMs = now
		n.SequenceNumber++
		n.TxCount++
		n.LastRSSIdBm = rssi
	})

	s.mu.Lock()
	s.stats.TotalSent++
	s.mu.Unlock()
	s.metrics.FrameSent(n.NodeID, len(frame))
	s.log.Debug(ctx, "frame sent",
		logging.Int("node_id", int(n.NodeID)),
		logging.Any("seq", n.SequenceNumber+1),
		logging.Int("rssi_dbm", int(rssi)),
		logging.String("frame_hex", hex.EncodeToString(frame)))
	return nil
}

func (s *TxScheduler) sendFrame(frame []byte) error {
	if err := s.link.BeginFrame(); err != nil {
		return fmt.Errorf("begin frame: %w", err)
	}
	if err := s.link.WriteBytes(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if err := s.link.EndFrame(true); err != nil {
		return fmt.Errorf("end frame: %w", err)
	}
	return nil
}

// Statistics returns the lifetime sent/failed counters.
func (s *TxScheduler) Statistics() TxStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *TxScheduler) drawBackoff() time.Duration {
	span := s.cfg.BackoffMax - s.cfg.BackoffMin
	if span <= 0 {
		return s.cfg.BackoffMin
	}
	return s.cfg.BackoffMin + time.Duration(s.rng.Int64N(int64(span)))
}

func (s *TxScheduler) drawSignal() int16 {
	span := int(s.cfg.SignalCeilDBm) - int(s.cfg.SignalFloorDBm)
	if span <= 0 {
		return s.cfg.SignalFloorDBm
	}
	return s.cfg.SignalFloorDBm + int16(s.rng.IntN(span))
}
