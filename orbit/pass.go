package orbit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/agrinode-simulator/internal/logging"
)

// GroundStation is the field site the fleet uplinks from.
type GroundStation struct {
	Name   string
	LatDeg float64
	LonDeg float64
	AltKm  float64
}

// PassTrackerConfig tunes pass detection.
type PassTrackerConfig struct {
	// MinElevationDeg is the elevation at which the relay counts as
	// usable overhead.
	MinElevationDeg float64
	// UpdateEvery rate-limits propagation; calls inside the window are
	// dropped.
	UpdateEvery time.Duration
}

// DefaultPassTrackerConfig returns the reference pass policy.
func DefaultPassTrackerConfig() PassTrackerConfig {
	return PassTrackerConfig{
		MinElevationDeg: 10,
		UpdateEvery:     5 * time.Second,
	}
}

// Status is a snapshot of the relay geometry.
type Status struct {
	Visible      bool
	ElevationDeg float64
	RangeKm      float64
}

// PassTracker propagates a TLE with SGP4 and watches the relay rise and
// set over the ground station.
type PassTracker struct {
	sat     satellite.Satellite
	station Vec3
	cfg     PassTrackerConfig
	log     logging.Logger

	mu           sync.Mutex
	lastUpdate   time.Time
	status       Status
	propagations int
}

// NewPassTracker builds a tracker from raw TLE lines.
func NewPassTracker(tle1, tle2 string, gs GroundStation, cfg PassTrackerConfig, log logging.Logger) (*PassTracker, error) {
	tle1, tle2 = strings.TrimSpace(tle1), strings.TrimSpace(tle2)
	if len(tle1) < 64 || !strings.HasPrefix(tle1, "1 ") {
		return nil, fmt.Errorf("TLE line 1 %q is not a valid element line", tle1)
	}
	if len(tle2) < 64 || !strings.HasPrefix(tle2, "2 ") {
		return nil, fmt.Errorf("TLE line 2 %q is not a valid element line", tle2)
	}
	if cfg.UpdateEvery <= 0 {
		cfg.UpdateEvery = DefaultPassTrackerConfig().UpdateEvery
	}
	if log == nil {
		log = logging.Noop()
	}
	return &PassTracker{
		sat:     satellite.TLEToSat(tle1, tle2, satellite.GravityWGS72),
		station: LatLonToECEF(gs.LatDeg, gs.LonDeg, gs.AltKm),
		cfg:     cfg,
		log:     log.With(logging.String("station", gs.Name)),
	}, nil
}

// Update propagates the relay to the given wall-clock time and logs pass
// transitions. Calls closer together than the configured window are
// ignored.
func (p *PassTracker) Update(ctx context.Context, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.lastUpdate.IsZero() && now.Sub(p.lastUpdate) < p.cfg.UpdateEvery {
		return
	}
	p.lastUpdate = now

	pos := p.propagateLocked(now)
	elevation := ElevationDegrees(p.station, pos)
	visible := elevation >= p.cfg.MinElevationDeg

	prev := p.status.Visible
	p.status = Status{
		Visible:      visible,
		ElevationDeg: elevation,
		RangeKm:      p.station.DistanceTo(pos),
	}

	if visible && !prev {
		p.log.Info(ctx, "relay pass started",
			logging.Any("elevation_deg", elevation),
			logging.Any("range_km", p.status.RangeKm))
	} else if !visible && prev {
		p.log.Info(ctx, "relay pass ended",
			logging.Any("elevation_deg", elevation))
	}
}

// Status returns the geometry from the most recent update.
func (p *PassTracker) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// propagateLocked runs SGP4 for the given time and returns the relay
// position in ECEF kilometres.
func (p *PassTracker) propagateLocked(now time.Time) Vec3 {
	now = now.UTC()
	year, month, day := now.Date()
	hour, minute, sec := now.Clock()

	posECI, _ := satellite.Propagate(p.sat, year, int(month), day, hour, minute, sec)
	jd := satellite.JDay(year, int(month), day, hour, minute, sec)
	gmst := satellite.ThetaG_JD(jd)
	posECEF := satellite.ECIToECEF(posECI, gmst)

	p.propagations++
	return Vec3{X: posECEF.X, Y: posECEF.Y, Z: posECEF.Z}
}
