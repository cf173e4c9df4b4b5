package radio

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// SimRadioConfig shapes the synthetic channel model.
type SimRadioConfig struct {
	// AmbientFloorDBm is the reading of a quiet channel.
	AmbientFloorDBm int16
	// AmbientJitterDB is the uniform spread applied to ambient readings.
	AmbientJitterDB int16
	// BusyProbability is the chance any single activity sample reads as
	// foreign traffic.
	BusyProbability float64
	// BusyLevelDBm is the reading reported for foreign traffic.
	BusyLevelDBm int16
	// FailProbability is the chance EndFrame reports a lost frame.
	FailProbability float64
	// DownlinkFloorDBm and DownlinkCeilDBm bound the synthetic RSSI
	// attributed to downlink traffic after a delivery.
	DownlinkFloorDBm int16
	DownlinkCeilDBm  int16
}

// DefaultSimRadioConfig returns a quiet, reliable channel.
func DefaultSimRadioConfig() SimRadioConfig {
	return SimRadioConfig{
		AmbientFloorDBm:  -115,
		AmbientJitterDB:  5,
		BusyProbability:  0,
		BusyLevelDBm:     -60,
		FailProbability:  0,
		DownlinkFloorDBm: -80,
		DownlinkCeilDBm:  -50,
	}
}

// SimRadio emulates the shared medium for runs without a broker. Tests
// drive it deterministically through scripted channel readings and the
// delivered-frame log.
type SimRadio struct {
	cfg SimRadioConfig

	mu      sync.Mutex
	rng     *rand.Rand
	inFrame bool
	buf     []byte
	frames  [][]byte
	script  []int16
	lastRx  int16
}

// NewSimRadio returns a SimRadio driven by rng.
func NewSimRadio(cfg SimRadioConfig, rng *rand.Rand) *SimRadio {
	return &SimRadio{
		cfg:    cfg,
		rng:    rng,
		lastRx: cfg.DownlinkFloorDBm,
	}
}

func (r *SimRadio) BeginFrame() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFrame {
		return ErrFrameOpen
	}
	r.inFrame = true
	r.buf = r.buf[:0]
	return nil
}

func (r *SimRadio) WriteBytes(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.inFrame {
		return ErrNoFrame
	}
	r.buf = append(r.buf, p...)
	return nil
}

func (r *SimRadio) EndFrame(wait bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.inFrame {
		return ErrNoFrame
	}
	r.inFrame = false
	if r.cfg.FailProbability > 0 && r.rng.Float64() < r.cfg.FailProbability {
		return fmt.Errorf("simulated link drop: %w", ErrNotDelivered)
	}
	frame := make([]byte, len(r.buf))
	copy(frame, r.buf)
	r.frames = append(r.frames, frame)
	r.lastRx = r.drawDownlinkLocked()
	return nil
}

// MeasureChannelActivity consumes a scripted reading when one is queued,
// otherwise it draws from the probabilistic channel model.
func (r *SimRadio) MeasureChannelActivity() int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.script) > 0 {
		v := r.script[0]
		r.script = r.script[1:]
		return v
	}
	if r.cfg.BusyProbability > 0 && r.rng.Float64() < r.cfg.BusyProbability {
		return r.cfg.BusyLevelDBm
	}
	jitter := int16(0)
	if r.cfg.AmbientJitterDB > 0 {
		jitter = int16(r.rng.IntN(int(r.cfg.AmbientJitterDB) + 1))
	}
	return r.cfg.AmbientFloorDBm + jitter
}

func (r *SimRadio) LastReceivedSignalLevel() int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRx
}

// PushChannelReadings queues RSSI values returned by the next calls to
// MeasureChannelActivity, ahead of the probabilistic model.
func (r *SimRadio) PushChannelReadings(readings ...int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.script = append(r.script, readings...)
}

// Frames returns copies of every delivered frame in order.
func (r *SimRadio) Frames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.frames))
	for i, f := range r.frames {
		cp := make([]byte, len(f))
		copy(cp, f)
		out[i] = cp
	}
	return out
}

func (r *SimRadio) drawDownlinkLocked() int16 {
	lo, hi := r.cfg.DownlinkFloorDBm, r.cfg.DownlinkCeilDBm
	if hi <= lo {
		return lo
	}
	return lo + int16(r.rng.IntN(int(hi-lo)))
}
