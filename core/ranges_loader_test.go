package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadSensorRangesFullDocument(t *testing.T) {
	doc := `{
		"soil": {"min": 5, "max": 95, "critical": 25},
		"humidity": {"min": 20, "max": 95, "avg": 55},
		"temperature": {"min": -5, "max": 45, "avg": 22}
	}`
	r, err := LoadSensorRanges(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadSensorRanges() error = %v", err)
	}
	if r.SoilMin != 5 || r.SoilMax != 95 || r.SoilCritical != 25 {
		t.Errorf("soil = {%.1f %.1f %.1f}, want {5 95 25}", r.SoilMin, r.SoilMax, r.SoilCritical)
	}
	if r.HumidityMin != 20 || r.HumidityMax != 95 || r.HumidityAvg != 55 {
		t.Errorf("humidity = {%.1f %.1f %.1f}, want {20 95 55}", r.HumidityMin, r.HumidityMax, r.HumidityAvg)
	}
	if r.TempMin != -5 || r.TempMax != 45 || r.TempAvg != 22 {
		t.Errorf("temperature = {%.1f %.1f %.1f}, want {-5 45 22}", r.TempMin, r.TempMax, r.TempAvg)
	}
}

func TestLoadSensorRangesPartialOverlay(t *testing.T) {
	r, err := LoadSensorRanges(strings.NewReader(`{"soil": {"critical": 35}}`))
	if err != nil {
		t.Fatalf("LoadSensorRanges() error = %v", err)
	}
	if r.SoilCritical != 35 {
		t.Errorf("SoilCritical = %.1f, want 35", r.SoilCritical)
	}
	if r.SoilMin != 10 || r.SoilMax != 90 || r.HumidityAvg != 60 || r.TempAvg != 25 {
		t.Errorf("untouched fields drifted from defaults: %+v", r)
	}
}

func TestLoadSensorRangesRejectsBadInput(t *testing.T) {
	if _, err := LoadSensorRanges(strings.NewReader("{not json")); err == nil {
		t.Error("malformed JSON: want error")
	}
	if _, err := LoadSensorRanges(strings.NewReader(`{"soil": {"min": 95}}`)); err == nil {
		t.Error("inverted soil range: want validation error")
	}
	if _, err := LoadSensorRanges(strings.NewReader(`{"temperature": {"avg": 99}}`)); err == nil {
		t.Error("average outside range: want validation error")
	}
}

func TestLoadSensorRangesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranges.json")
	if err := os.WriteFile(path, []byte(`{"humidity": {"avg": 50}}`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	r, err := LoadSensorRangesFile(path)
	if err != nil {
		t.Fatalf("LoadSensorRangesFile() error = %v", err)
	}
	if r.HumidityAvg != 50 {
		t.Errorf("HumidityAvg = %.1f, want 50", r.HumidityAvg)
	}

	if r, err = LoadSensorRangesFile(""); err != nil {
		t.Errorf("empty path error = %v", err)
	} else if r.HumidityAvg != 60 {
		t.Errorf("empty path HumidityAvg = %.1f, want default 60", r.HumidityAvg)
	}

	if _, err := LoadSensorRangesFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file: want error")
	}
}
