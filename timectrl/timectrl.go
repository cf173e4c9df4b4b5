package timectrl

import (
	"sync"
	"time"
)

// Clock is the time abstraction the simulation core depends on. It mirrors
// the two time sources a field node has: a monotonic millisecond counter
// running since boot, and an epoch wall clock that only carries meaning
// once network time has been acquired.
type Clock interface {
	// MonotonicMs returns milliseconds elapsed since the clock started.
	MonotonicMs() uint64
	// EpochSeconds returns the current Unix time and whether the wall
	// clock is considered synchronized. Callers must treat the value as
	// garbage when the flag is false.
	EpochSeconds() (uint32, bool)
	// Sleep blocks for d. Virtual clocks advance instead of blocking.
	Sleep(d time.Duration)
}

// SystemClock is the production clock. Its monotonic counter starts at
// construction; epoch validity tracks the link-ready signal so a run
// without network time behaves like a node that never reached NTP.
type SystemClock struct {
	start time.Time

	mu     sync.RWMutex
	synced bool
}

// NewSystemClock returns a SystemClock that reports a synchronized epoch.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now(), synced: true}
}

// SetSynchronized flips the epoch validity flag, mirroring network time
// acquisition or loss.
func (c *SystemClock) SetSynchronized(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.synced = ok
}

// Synchronized reports the current epoch validity flag.
func (c *SystemClock) Synchronized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.synced
}

func (c *SystemClock) MonotonicMs() uint64 {
	return uint64(time.Since(c.start) / time.Millisecond)
}

func (c *SystemClock) EpochSeconds() (uint32, bool) {
	c.mu.RLock()
	synced := c.synced
	c.mu.RUnlock()
	if !synced {
		return 0, false
	}
	return uint32(time.Now().Unix()), true
}

func (c *SystemClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

// ManualClock is a virtual clock for tests. Sleep advances it instead of
// blocking, so schedules that span minutes run instantly. The epoch, when
// set, advances in lockstep with the monotonic counter.
type ManualClock struct {
	mu         sync.Mutex
	nowMs      uint64
	epoch      uint32
	epochSetMs uint64
	valid      bool
}

// NewManualClock returns a ManualClock at monotonic zero with no valid
// epoch source.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// SetEpoch marks the wall clock as synchronized at the given Unix time.
// Passing valid=false drops back to the unsynchronized state.
func (c *ManualClock) SetEpoch(epoch uint32, valid bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch = epoch
	c.epochSetMs = c.nowMs
	c.valid = valid
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	if d < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nowMs += uint64(d / time.Millisecond)
}

func (c *ManualClock) MonotonicMs() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowMs
}

func (c *ManualClock) EpochSeconds() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid {
		return 0, false
	}
	return c.epoch + uint32((c.nowMs-c.epochSetMs)/1000), true
}

// Sleep advances the clock by d without blocking.
func (c *ManualClock) Sleep(d time.Duration) {
	c.Advance(d)
}
