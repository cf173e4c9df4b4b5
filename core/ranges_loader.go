package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/signalsfoundry/agrinode-simulator/model"
)

// JSON shapes stay unexported so the file format can evolve without
// touching the model types. Absent fields keep their defaults.
type sensorRangesJSON struct {
	Soil        *soilRangeJSON   `json:"soil"`
	Humidity    *metricRangeJSON `json:"humidity"`
	Temperature *metricRangeJSON `json:"temperature"`
}

type soilRangeJSON struct {
	Min      *float64 `json:"min"`
	Max      *float64 `json:"max"`
	Critical *float64 `json:"critical"`
}

type metricRangeJSON struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
	Avg *float64 `json:"avg"`
}

// LoadSensorRanges reads a JSON ranges document from r, overlays it on the
// defaults and validates the result. A partial document overrides only the
// fields it names.
func LoadSensorRanges(r io.Reader) (model.SensorRanges, error) {
	ranges := model.DefaultSensorRanges()

	var payload sensorRangesJSON
	dec := json.NewDecoder(r)
	if err := dec.Decode(&payload); err != nil {
		return ranges, fmt.Errorf("decode sensor ranges: %w", err)
	}

	if s := payload.Soil; s != nil {
		overlay(&ranges.SoilMin, s.Min)
		overlay(&ranges.SoilMax, s.Max)
		overlay(&ranges.SoilCritical, s.Critical)
	}
	if h := payload.Humidity; h != nil {
		overlay(&ranges.HumidityMin, h.Min)
		overlay(&ranges.HumidityMax, h.Max)
		overlay(&ranges.HumidityAvg, h.Avg)
	}
	if t := payload.Temperature; t != nil {
		overlay(&ranges.TempMin, t.Min)
		overlay(&ranges.TempMax, t.Max)
		overlay(&ranges.TempAvg, t.Avg)
	}

	if err := ranges.Validate(); err != nil {
		return ranges, fmt.Errorf("sensor ranges: %w", err)
	}
	return ranges, nil
}

// LoadSensorRangesFile loads ranges from the file at path. An empty path
// returns the defaults untouched.
func LoadSensorRangesFile(path string) (model.SensorRanges, error) {
	if path == "" {
		return model.DefaultSensorRanges(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return model.DefaultSensorRanges(), fmt.Errorf("open sensor ranges: %w", err)
	}
	defer f.Close()
	return LoadSensorRanges(f)
}

func overlay(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}
