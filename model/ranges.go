package model

import "fmt"

// SensorRanges bounds the simulated sensor values and carries the
// operating points the dynamics steer toward. One set applies to the
// whole fleet.
type SensorRanges struct {
	SoilMin float64
	SoilMax float64
	// SoilCritical is the moisture level below which the controller
	// opens the irrigation valve.
	SoilCritical float64

	HumidityMin float64
	HumidityMax float64
	HumidityAvg float64

	TempMin float64
	TempMax float64
	TempAvg float64
}

// DefaultSensorRanges returns the reference field profile.
func DefaultSensorRanges() SensorRanges {
	return SensorRanges{
		SoilMin:      10,
		SoilMax:      90,
		SoilCritical: 30,
		HumidityMin:  30,
		HumidityMax:  90,
		HumidityAvg:  60,
		TempMin:      10,
		TempMax:      40,
		TempAvg:      25,
	}
}

// Validate checks internal consistency of the ranges.
func (r SensorRanges) Validate() error {
	if r.SoilMin >= r.SoilMax {
		return fmt.Errorf("soil range invalid: min %.1f >= max %.1f", r.SoilMin, r.SoilMax)
	}
	if r.SoilCritical < r.SoilMin || r.SoilCritical > r.SoilMax {
		return fmt.Errorf("soil critical %.1f outside [%.1f, %.1f]", r.SoilCritical, r.SoilMin, r.SoilMax)
	}
	if r.HumidityMin >= r.HumidityMax {
		return fmt.Errorf("humidity range invalid: min %.1f >= max %.1f", r.HumidityMin, r.HumidityMax)
	}
	if r.HumidityAvg < r.HumidityMin || r.HumidityAvg > r.HumidityMax {
		return fmt.Errorf("humidity average %.1f outside [%.1f, %.1f]", r.HumidityAvg, r.HumidityMin, r.HumidityMax)
	}
	if r.TempMin >= r.TempMax {
		return fmt.Errorf("temperature range invalid: min %.1f >= max %.1f", r.TempMin, r.TempMax)
	}
	if r.TempAvg < r.TempMin || r.TempAvg > r.TempMax {
		return fmt.Errorf("temperature average %.1f outside [%.1f, %.1f]", r.TempAvg, r.TempMin, r.TempMax)
	}
	return nil
}
