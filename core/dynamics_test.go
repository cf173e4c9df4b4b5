package core

import (
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/agrinode-simulator/model"
	"github.com/signalsfoundry/agrinode-simulator/timectrl"
)

// epochAtHour returns a valid epoch whose UTC time of day is the given
// whole hour.
func epochAtHour(hour int) uint32 {
	const midnight = 1_699_920_000 // 2023-11-14T00:00:00Z
	return midnight + uint32(hour)*3600
}

func TestAdvanceAllKeepsReadingsWithinRanges(t *testing.T) {
	clock := timectrl.NewManualClock()
	store := newTestFleet(t, 5, testRNG())
	dyn := NewDynamics(DynamicsConfig{FaultOneIn: 0}, store, clock, testRNG())

	r := store.Ranges()
	for tick := 0; tick < 500; tick++ {
		clock.Advance(30 * time.Second)
		dyn.AdvanceAll()

		for i, n := range store.SnapshotAll() {
			if n.SoilMoisturePct < r.SoilMin || n.SoilMoisturePct > r.SoilMax {
				t.Fatalf("tick %d node %d: soil %.2f outside [%.1f, %.1f]", tick, i, n.SoilMoisturePct, r.SoilMin, r.SoilMax)
			}
			if n.AirTempC < r.TempMin || n.AirTempC > r.TempMax {
				t.Fatalf("tick %d node %d: temp %.2f outside [%.1f, %.1f]", tick, i, n.AirTempC, r.TempMin, r.TempMax)
			}
			if n.AirHumidityPct < r.HumidityMin || n.AirHumidityPct > r.HumidityMax {
				t.Fatalf("tick %d node %d: humidity %.2f outside [%.1f, %.1f]", tick, i, n.AirHumidityPct, r.HumidityMin, r.HumidityMax)
			}
			if n.Irrigation == model.IrrigationError {
				t.Fatalf("tick %d node %d: fault raised with faults disabled", tick, i)
			}
			if n.LastUpdateMs != clock.MonotonicMs() {
				t.Fatalf("tick %d node %d: LastUpdateMs = %d, want %d", tick, i, n.LastUpdateMs, clock.MonotonicMs())
			}
			if n.DataTimestamp != 0 {
				t.Fatalf("tick %d node %d: DataTimestamp = %d without a synced clock", tick, i, n.DataTimestamp)
			}
		}
	}
}

func TestHourOfDayPrefersEpoch(t *testing.T) {
	clock := timectrl.NewManualClock()
	store := newTestFleet(t, 1, testRNG())
	dyn := NewDynamics(DefaultDynamicsConfig(), store, clock, testRNG())

	clock.Advance(5 * time.Hour) // uptime disagrees with the wall clock
	clock.SetEpoch(epochAtHour(22), true)

	if got := dyn.HourOfDay(); math.Abs(got-22) > 1e-9 {
		t.Fatalf("HourOfDay() = %v, want 22", got)
	}

	clock.Advance(90 * time.Minute)
	if got := dyn.HourOfDay(); math.Abs(got-23.5) > 1e-9 {
		t.Fatalf("HourOfDay() after 90m = %v, want 23.5", got)
	}

	clock.Advance(30 * time.Minute) // crosses midnight
	if got := dyn.HourOfDay(); math.Abs(got-0) > 1e-9 {
		t.Fatalf("HourOfDay() past midnight = %v, want 0", got)
	}
}

func TestHourOfDayTimezoneOffset(t *testing.T) {
	clock := timectrl.NewManualClock()
	store := newTestFleet(t, 1, testRNG())
	dyn := NewDynamics(DynamicsConfig{FaultOneIn: 1000, TimezoneOffsetSec: -3 * 3600}, store, clock, testRNG())

	clock.SetEpoch(epochAtHour(14), true)
	if got := dyn.HourOfDay(); math.Abs(got-11) > 1e-9 {
		t.Fatalf("HourOfDay() = %v, want 11", got)
	}

	// Negative offsets wrap instead of going below zero.
	clock.SetEpoch(epochAtHour(1), true)
	if got := dyn.HourOfDay(); math.Abs(got-22) > 1e-9 {
		t.Fatalf("HourOfDay() = %v, want 22", got)
	}
}

func TestHourOfDayFallsBackToUptime(t *testing.T) {
	clock := timectrl.NewManualClock()
	store := newTestFleet(t, 1, testRNG())
	dyn := NewDynamics(DefaultDynamicsConfig(), store, clock, testRNG())

	clock.Advance(3 * time.Hour)
	if got := dyn.HourOfDay(); math.Abs(got-3) > 1e-9 {
		t.Fatalf("HourOfDay() = %v, want 3", got)
	}

	// A pre-2021 epoch means the clock never synced; keep using uptime.
	clock.SetEpoch(1000, true)
	if got := dyn.HourOfDay(); math.Abs(got-3) > 1e-9 {
		t.Fatalf("HourOfDay() with junk epoch = %v, want 3", got)
	}

	clock.Advance(22 * time.Hour) // synthetic day wraps at 24h uptime
	if got := dyn.HourOfDay(); math.Abs(got-1) > 1e-9 {
		t.Fatalf("HourOfDay() after wrap = %v, want 1", got)
	}
}

func TestIrrigationOpensBelowCriticalAndClosesAtTarget(t *testing.T) {
	clock := timectrl.NewManualClock()
	store := newTestFleet(t, 1, testRNG())
	dyn := NewDynamics(DynamicsConfig{FaultOneIn: 0}, store, clock, testRNG())

	if err := store.Mutate(0, func(n *model.NodeState) { n.SoilMoisturePct = 12 }); err != nil {
		t.Fatalf("Mutate() error = %v", err)
	}

	dyn.AdvanceAll()
	n, _ := store.Snapshot(0)
	if n.Irrigation != model.IrrigationOn {
		t.Fatalf("Irrigation = %v after dry reading, want %v", n.Irrigation, model.IrrigationOn)
	}
	if !n.NeedsIrrigation {
		t.Fatal("NeedsIrrigation = false after valve opened, want true")
	}

	// Each watered tick gains 3 to 5 points, so well under 100 ticks
	// reach the shutoff threshold.
	for i := 0; i < 100 && n.Irrigation == model.IrrigationOn; i++ {
		prev := n.SoilMoisturePct
		dyn.AdvanceAll()
		n, _ = store.Snapshot(0)
		if n.Irrigation == model.IrrigationOn && n.SoilMoisturePct <= prev {
			t.Fatalf("soil fell from %.2f to %.2f while watering", prev, n.SoilMoisturePct)
		}
	}

	if n.Irrigation != model.IrrigationOff {
		t.Fatalf("Irrigation = %v after reaching target, want %v", n.Irrigation, model.IrrigationOff)
	}
	if n.SoilMoisturePct < irrigationStopPct {
		t.Fatalf("valve closed at %.2f, want >= %.1f", n.SoilMoisturePct, irrigationStopPct)
	}
	if n.NeedsIrrigation {
		t.Fatal("NeedsIrrigation still set after valve closed")
	}
}

func TestFaultForcesAbsorbingErrorState(t *testing.T) {
	clock := timectrl.NewManualClock()
	store := newTestFleet(t, 5, testRNG())
	dyn := NewDynamics(DynamicsConfig{FaultOneIn: 1}, store, clock, testRNG())

	dyn.AdvanceAll()
	for i, n := range store.SnapshotAll() {
		if n.Irrigation != model.IrrigationError {
			t.Fatalf("node %d: Irrigation = %v, want %v", i, n.Irrigation, model.IrrigationError)
		}
	}

	// Faulted valves never water again, even once the soil dries out
	// below the critical threshold. 200 ticks at the minimum loss rate
	// drain any seeded reading to the floor.
	for tick := 0; tick < 200; tick++ {
		dyn.AdvanceAll()
	}
	r := store.Ranges()
	for i, n := range store.SnapshotAll() {
		if n.Irrigation != model.IrrigationError {
			t.Fatalf("node %d: Irrigation = %v after fault, want %v", i, n.Irrigation, model.IrrigationError)
		}
		if n.SoilMoisturePct != r.SoilMin {
			t.Fatalf("node %d: soil = %.2f after 200 dry ticks, want floor %.1f", i, n.SoilMoisturePct, r.SoilMin)
		}
	}
}

func TestTemperatureAndHumidityTrackDiurnalTargets(t *testing.T) {
	clock := timectrl.NewManualClock()
	store := newTestFleet(t, 1, testRNG())
	dyn := NewDynamics(DynamicsConfig{FaultOneIn: 0}, store, clock, testRNG())

	clock.SetEpoch(epochAtHour(14), true) // mid-afternoon peak
	variation := diurnalAmplitudeC * math.Sin((14-6)*math.Pi/12)

	for i := 0; i < 200; i++ {
		dyn.AdvanceAll()
	}

	n, _ := store.Snapshot(0)
	r := store.Ranges()

	wantTemp := r.TempAvg + variation
	if math.Abs(n.AirTempC-wantTemp) > 3 {
		t.Fatalf("AirTempC = %.2f, want near %.2f", n.AirTempC, wantTemp)
	}
	wantHumidity := r.HumidityAvg - humidityCoupling*variation
	if math.Abs(n.AirHumidityPct-wantHumidity) > 6 {
		t.Fatalf("AirHumidityPct = %.2f, want near %.2f", n.AirHumidityPct, wantHumidity)
	}
	if n.DataTimestamp == 0 {
		t.Fatal("DataTimestamp = 0 with a synced clock")
	}
}

func TestTemperatureConvergesToRangeAverageAcrossFleet(t *testing.T) {
	clock := timectrl.NewManualClock()
	store := newTestFleet(t, 5, testRNG())
	dyn := NewDynamics(DynamicsConfig{FaultOneIn: 0}, store, clock, testRNG())

	// Hour 6 zeroes the diurnal term, so the smoothing target is the bare
	// range average for every node.
	clock.SetEpoch(epochAtHour(6), true)
	r := store.Ranges()

	// The fleet seeds from per-slot bases as far as 3 degrees off the
	// average; those must wash out instead of pinning the steady state.
	if a, b := store.profileFor(2).BaseTempC, store.profileFor(3).BaseTempC; a == r.TempAvg || b == r.TempAvg {
		t.Fatalf("seed bases (%.1f, %.1f) coincide with TempAvg %.1f, test is vacuous", a, b, r.TempAvg)
	}

	for i := 0; i < 100; i++ {
		dyn.AdvanceAll()
	}
	sums := make([]float64, store.Len())
	const samples = 200
	for i := 0; i < samples; i++ {
		dyn.AdvanceAll()
		for j, n := range store.SnapshotAll() {
			sums[j] += n.AirTempC
		}
	}

	for j, sum := range sums {
		mean := sum / samples
		if math.Abs(mean-r.TempAvg) > 1.5 {
			t.Errorf("node %d: steady-state temp %.2f, want near %.1f", j, mean, r.TempAvg)
		}
	}
}

func TestAdvanceAllPublishesOneEventPerNode(t *testing.T) {
	clock := timectrl.NewManualClock()
	clock.SetEpoch(epochAtHour(9), true)
	store := newTestFleet(t, 3, testRNG())
	dyn := NewDynamics(DynamicsConfig{FaultOneIn: 0}, store, clock, testRNG())

	var events []ReadingEvent
	store.Subscribe(func(ev ReadingEvent) { events = append(events, ev) })

	dyn.AdvanceAll()

	if len(events) != 3 {
		t.Fatalf("received %d events, want 3", len(events))
	}
	for i, ev := range events {
		if want := uint16(1000 + i); ev.Node.NodeID != want {
			t.Errorf("event %d: NodeID = %d, want %d", i, ev.Node.NodeID, want)
		}
		if ev.Node.DataTimestamp != epochAtHour(9) {
			t.Errorf("event %d: DataTimestamp = %d, want %d", i, ev.Node.DataTimestamp, epochAtHour(9))
		}
	}
}
