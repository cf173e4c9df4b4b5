package core

import (
	"math"
	"math/rand/v2"

	"github.com/signalsfoundry/agrinode-simulator/model"
	"github.com/signalsfoundry/agrinode-simulator/timectrl"
)

// Weights and limits of the sensor model.
const (
	diurnalAmplitudeC = 8.0

	tempSmoothing = 0.9
	tempNoiseRel  = 0.02

	humiditySmoothing = 0.85
	humidityNoiseRel  = 0.03
	humidityCoupling  = 2.0

	irrigationGainMin = 3.0
	irrigationGainMax = 5.0
	// irrigationStopPct is the moisture level at which an open valve
	// closes again.
	irrigationStopPct = 70.0

	evapoMin            = 0.5
	evapoMax            = 1.5
	evapoHeatFactor     = 1.5
	evapoHeatThresholdC = 30.0

	// minValidEpoch is 2021-01-01T00:00:00Z. Epoch readings below it are
	// treated as an unsynchronized clock.
	minValidEpoch = 1609459200
)

// DynamicsConfig tunes the per-tick sensor evolution.
type DynamicsConfig struct {
	// FaultOneIn is the denominator of the per-node per-tick fault roll
	// that forces the irrigation state to Error. Zero or negative
	// disables faults.
	FaultOneIn int
	// TimezoneOffsetSec shifts the wall-clock hour feeding the diurnal
	// model; zero keeps UTC.
	TimezoneOffsetSec int
}

// DefaultDynamicsConfig returns the reference fault rate and UTC hours.
func DefaultDynamicsConfig() DynamicsConfig {
	return DynamicsConfig{FaultOneIn: 1000}
}

// Dynamics advances the sensor model of every node. One pass per update
// interval; all stochastic draws come from the injected RNG so runs can
// be reproduced from a seed.
type Dynamics struct {
	cfg   DynamicsConfig
	store *FleetStore
	clock timectrl.Clock
	rng   *rand.Rand
}

// NewDynamics builds a dynamics engine over the given fleet.
func NewDynamics(cfg DynamicsConfig, store *FleetStore, clock timectrl.Clock, rng *rand.Rand) *Dynamics {
	return &Dynamics{cfg: cfg, store: store, clock: clock, rng: rng}
}

// HourOfDay returns the fractional hour driving the diurnal model. The
// wall clock wins when the epoch is plausible; otherwise process uptime
// wraps a synthetic 24h day.
func (d *Dynamics) HourOfDay() float64 {
	if epoch, ok := d.clock.EpochSeconds(); ok && epoch >= minValidEpoch {
		sec := (int64(epoch) + int64(d.cfg.TimezoneOffsetSec)) % 86400
		if sec < 0 {
			sec += 86400
		}
		return float64(sec) / 3600
	}
	return float64(d.clock.MonotonicMs()%86_400_000) / 3_600_000
}

// AdvanceAll runs one dynamics pass over the whole fleet and publishes a
// reading event per node.
func (d *Dynamics) AdvanceAll() {
	hour := d.HourOfDay()
	// Peaks near 14:00, bottoms out near 02:00.
	variation := diurnalAmplitudeC * math.Sin((hour-6)*math.Pi/12)

	nowMs := d.clock.MonotonicMs()
	epoch, ok := d.clock.EpochSeconds()
	if !ok || epoch < minValidEpoch {
		epoch = 0
	}

	for i := 0; i < d.store.Len(); i++ {
		d.advanceNode(i, variation, nowMs, epoch)
	}
}

func (d *Dynamics) advanceNode(i int, variation float64, nowMs uint64, epoch uint32) {
	r := d.store.Ranges()

	var ev ReadingEvent
	err := d.store.Mutate(i, func(n *model.NodeState) {
		// Temperature follows the diurnal wave around the range average;
		// per-node seed bases only spread the initial readings.
		target := r.TempAvg + variation
		temp := n.AirTempC*tempSmoothing + target*(1-tempSmoothing)
		temp = addNoise(d.rng, temp, tempNoiseRel)
		n.AirTempC = clamp(temp, r.TempMin, r.TempMax)

		// Humidity runs inverse to the wave around the range average.
		humidityTarget := r.HumidityAvg - humidityCoupling*variation
		humidity := n.AirHumidityPct*humiditySmoothing + humidityTarget*(1-humiditySmoothing)
		humidity = addNoise(d.rng, humidity, humidityNoiseRel)
		n.AirHumidityPct = clamp(humidity, r.HumidityMin, r.HumidityMax)

		if n.Irrigation == model.IrrigationOn {
			n.SoilMoisturePct += uniform(d.rng, irrigationGainMin, irrigationGainMax)
			if n.SoilMoisturePct > r.SoilMax {
				n.SoilMoisturePct = r.SoilMax
			}
			if n.SoilMoisturePct >= irrigationStopPct {
				n.Irrigation = model.IrrigationOff
			}
		} else {
			loss := uniform(d.rng, evapoMin, evapoMax)
			if n.AirTempC > evapoHeatThresholdC {
				loss *= evapoHeatFactor
			}
			n.SoilMoisturePct = clamp(n.SoilMoisturePct-loss, r.SoilMin, r.SoilMax)
		}

		// Below-critical soil opens the valve. The fault roll runs after
		// the control step and may override it within the same pass.
		if n.SoilMoisturePct < r.SoilCritical && n.Irrigation == model.IrrigationOff {
			n.Irrigation = model.IrrigationOn
			n.NeedsIrrigation = true
		} else {
			n.NeedsIrrigation = false
		}
		if d.cfg.FaultOneIn > 0 && d.rng.IntN(d.cfg.FaultOneIn) == 0 {
			n.Irrigation = model.IrrigationError
		}

		n.DataTimestamp = epoch
		n.LastUpdateMs = nowMs
		ev = ReadingEvent{Node: *n}
	})
	if err != nil {
		return
	}
	d.store.notify(ev)
}
