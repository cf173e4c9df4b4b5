package core

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/signalsfoundry/agrinode-simulator/model"
)

// SeedProfile fixes the per-slot operating points a node is seeded around.
// When the fleet is larger than the profile table, entries repeat.
type SeedProfile struct {
	BaseTempC       float64
	BaseMoisturePct float64
}

// DefaultSeedProfiles mirrors the reference field deployment.
var DefaultSeedProfiles = []SeedProfile{
	{BaseTempC: 24, BaseMoisturePct: 45},
	{BaseTempC: 26, BaseMoisturePct: 55},
	{BaseTempC: 22, BaseMoisturePct: 65},
	{BaseTempC: 28, BaseMoisturePct: 40},
	{BaseTempC: 25, BaseMoisturePct: 50},
}

// Seed noise applied to the initial readings, as relative spreads.
const (
	seedMoistureNoise = 0.10
	seedTempNoise     = 0.05
	seedHumidityNoise = 0.15
)

// ReadingEvent is delivered to fleet subscribers after a dynamics pass
// updates a node.
type ReadingEvent struct {
	Node model.NodeState
}

// FleetConfig seeds a fleet.
type FleetConfig struct {
	NodeCount  int
	NodeIDBase uint16
	Ranges     model.SensorRanges
	// Profiles overrides DefaultSeedProfiles when non-empty.
	Profiles []SeedProfile
}

// FleetStore holds the mutable state of every simulated node. All access
// goes through the store lock; snapshot accessors return copies so readers
// never observe torn state. The zero value is not usable.
type FleetStore struct {
	mu       sync.RWMutex
	nodes    []model.NodeState
	profiles []SeedProfile
	ranges   model.SensorRanges
	subs     []func(ReadingEvent)
}

// NewFleetStore seeds a fleet. Initial readings are the per-slot operating
// points disturbed by bounded relative noise, then clamped into range.
func NewFleetStore(cfg FleetConfig, rng *rand.Rand) (*FleetStore, error) {
	if cfg.NodeCount <= 0 {
		return nil, fmt.Errorf("node count %d must be positive", cfg.NodeCount)
	}
	if err := cfg.Ranges.Validate(); err != nil {
		return nil, fmt.Errorf("sensor ranges: %w", err)
	}
	profiles := cfg.Profiles
	if len(profiles) == 0 {
		profiles = DefaultSeedProfiles
	}

	s := &FleetStore{
		nodes:    make([]model.NodeState, cfg.NodeCount),
		profiles: make([]SeedProfile, cfg.NodeCount),
		ranges:   cfg.Ranges,
	}
	for i := range s.nodes {
		p := profiles[i%len(profiles)]
		s.profiles[i] = p

		n := &s.nodes[i]
		n.NodeID = cfg.NodeIDBase + uint16(i)
		n.Crop = model.CropType(i % model.NumCropTypes)
		n.SoilMoisturePct = clamp(addNoise(rng, p.BaseMoisturePct, seedMoistureNoise), cfg.Ranges.SoilMin, cfg.Ranges.SoilMax)
		n.AirTempC = clamp(addNoise(rng, p.BaseTempC, seedTempNoise), cfg.Ranges.TempMin, cfg.Ranges.TempMax)
		n.AirHumidityPct = clamp(addNoise(rng, cfg.Ranges.HumidityAvg, seedHumidityNoise), cfg.Ranges.HumidityMin, cfg.Ranges.HumidityMax)
		n.Irrigation = model.IrrigationOff
	}
	return s, nil
}

// Len returns the number of nodes in the fleet.
func (s *FleetStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Ranges returns the fleet's sensor ranges.
func (s *FleetStore) Ranges() model.SensorRanges {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ranges
}

// Snapshot returns a copy of the node at index i.
func (s *FleetStore) Snapshot(i int) (model.NodeState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.nodes) {
		return model.NodeState{}, fmt.Errorf("node index %d out of range [0, %d)", i, len(s.nodes))
	}
	return s.nodes[i], nil
}

// SnapshotAll returns copies of every node in index order.
func (s *FleetStore) SnapshotAll() []model.NodeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.NodeState, len(s.nodes))
	copy(out, s.nodes)
	return out
}

// ByNodeID returns a copy of the node with the given radio id.
func (s *FleetStore) ByNodeID(id uint16) (model.NodeState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.nodes {
		if s.nodes[i].NodeID == id {
			return s.nodes[i], true
		}
	}
	return model.NodeState{}, false
}

// Mutate applies fn to the node at index i under the store lock. fn
// receives the live entry and must not retain the pointer.
func (s *FleetStore) Mutate(i int, fn func(*model.NodeState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.nodes) {
		return fmt.Errorf("node index %d out of range [0, %d)", i, len(s.nodes))
	}
	fn(&s.nodes[i])
	return nil
}

// Subscribe registers a callback invoked with a copy of each node updated
// by a dynamics pass. Callbacks run on the simulation goroutine and must
// not block.
func (s *FleetStore) Subscribe(fn func(ReadingEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *FleetStore) profileFor(i int) SeedProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.profiles) {
		return SeedProfile{}
	}
	return s.profiles[i]
}

func (s *FleetStore) notify(ev ReadingEvent) {
	s.mu.RLock()
	subs := s.subs
	s.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// addNoise disturbs v by a uniform relative spread in [-rel, +rel].
func addNoise(rng *rand.Rand, v, rel float64) float64 {
	return v * (1 + (rng.Float64()*2-1)*rel)
}

// uniform draws from [lo, hi).
func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}
