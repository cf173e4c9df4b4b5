package core

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/agrinode-simulator/internal/logging"
	"github.com/signalsfoundry/agrinode-simulator/timectrl"
)

// EngineConfig paces the cooperative simulation loop.
type EngineConfig struct {
	// PollInterval is the scheduler cycle period. It must stay well below
	// the smallest per-node transmit interval.
	PollInterval time.Duration
	// UpdateInterval is the sensor dynamics cadence.
	UpdateInterval time.Duration
}

// DefaultEngineConfig returns the reference loop timing.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		PollInterval:   250 * time.Millisecond,
		UpdateInterval: 30 * time.Second,
	}
}

// Validate reports the first configuration fault.
func (c EngineConfig) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval %v must be positive", c.PollInterval)
	}
	if c.UpdateInterval < c.PollInterval {
		return fmt.Errorf("update interval %v below poll interval %v", c.UpdateInterval, c.PollInterval)
	}
	return nil
}

// Engine drives dynamics and scheduling from a single goroutine. The
// dynamics pass fires on its own cadence inside the faster polling cycle;
// the scheduler runs every cycle.
type Engine struct {
	cfg       EngineConfig
	dynamics  *Dynamics
	scheduler *TxScheduler
	clock     timectrl.Clock
	log       logging.Logger

	tickListeners []func(nowMs uint64)

	dynamicsRan    bool
	lastDynamicsMs uint64
}

// NewEngine assembles the simulation loop.
func NewEngine(cfg EngineConfig, dynamics *Dynamics, scheduler *TxScheduler, clock timectrl.Clock, log logging.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Engine{
		cfg:       cfg,
		dynamics:  dynamics,
		scheduler: scheduler,
		clock:     clock,
		log:       log,
	}, nil
}

// RegisterTickListener adds a hook invoked once per polling cycle after the
// scheduler has run. Listeners run on the simulation goroutine and must not
// block. Not safe to call once Run has started.
func (e *Engine) RegisterTickListener(fn func(nowMs uint64)) {
	e.tickListeners = append(e.tickListeners, fn)
}

// Run polls until the context is cancelled. The first cycle runs a dynamics
// pass immediately so frames never carry unseeded readings.
func (e *Engine) Run(ctx context.Context) {
	e.log.Info(ctx, "simulation loop started",
		logging.Any("poll_interval", e.cfg.PollInterval),
		logging.Any("update_interval", e.cfg.UpdateInterval))
	for {
		select {
		case <-ctx.Done():
			e.log.Info(ctx, "simulation loop stopped", logging.Any("reason", ctx.Err()))
			return
		default:
		}
		e.Step(ctx)
		e.clock.Sleep(e.cfg.PollInterval)
	}
}

// Step executes a single polling cycle: a dynamics pass when due, then one
// scheduler cycle, then the tick listeners.
func (e *Engine) Step(ctx context.Context) {
	now := e.clock.MonotonicMs()
	if !e.dynamicsRan || now-e.lastDynamicsMs >= uint64(e.cfg.UpdateInterval/time.Millisecond) {
		e.dynamics.AdvanceAll()
		e.dynamicsRan = true
		e.lastDynamicsMs = now
	}

	e.scheduler.Tick(ctx)

	for _, fn := range e.tickListeners {
		fn(now)
	}
}
