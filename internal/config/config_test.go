package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadSimulatorDefaults(t *testing.T) {
	cfg, err := LoadSimulator()
	if err != nil {
		t.Fatalf("LoadSimulator() error = %v", err)
	}
	if cfg.NodeCount != 5 || cfg.NodeIDBase != 1000 || cfg.TeamID != 666 {
		t.Errorf("fleet identity = (%d, %d, %d), want (5, 1000, 666)", cfg.NodeCount, cfg.NodeIDBase, cfg.TeamID)
	}
	if !cfg.ExtendedFrames {
		t.Error("ExtendedFrames = false, want true by default")
	}
	if cfg.BaseIntervalMs != 60_000 || cfg.JitterSpanMs != 5_000 || cfg.MinIntervalMs != 14_000 {
		t.Errorf("intervals = (%d, %d, %d), want (60000, 5000, 14000)", cfg.BaseIntervalMs, cfg.JitterSpanMs, cfg.MinIntervalMs)
	}
	if cfg.BusyThresholdDBm != -90 {
		t.Errorf("BusyThresholdDBm = %d, want -90", cfg.BusyThresholdDBm)
	}
	if cfg.PollInterval != 250*time.Millisecond || cfg.UpdateInterval != 30*time.Second {
		t.Errorf("loop timing = (%v, %v), want (250ms, 30s)", cfg.PollInterval, cfg.UpdateInterval)
	}
	if cfg.Uplink != "sim" {
		t.Errorf("Uplink = %q, want sim", cfg.Uplink)
	}
	if cfg.ProbeEnabled {
		t.Error("ProbeEnabled = true, want false by default")
	}
}

func TestLoadSimulatorOverrides(t *testing.T) {
	t.Setenv("SIM_NODE_COUNT", "8")
	t.Setenv("SIM_TEAM_ID", "42")
	t.Setenv("SIM_FRAME_TIMESTAMP", "false")
	t.Setenv("SIM_UPDATE_INTERVAL", "10s")
	t.Setenv("SIM_UPLINK", "MQTT")
	t.Setenv("MQTT_TOPIC", "farm/uplink")
	t.Setenv("SIM_BUSY_THRESHOLD_DBM", "-85")

	cfg, err := LoadSimulator()
	if err != nil {
		t.Fatalf("LoadSimulator() error = %v", err)
	}
	if cfg.NodeCount != 8 {
		t.Errorf("NodeCount = %d, want 8", cfg.NodeCount)
	}
	if cfg.TeamID != 42 {
		t.Errorf("TeamID = %d, want 42", cfg.TeamID)
	}
	if cfg.ExtendedFrames {
		t.Error("ExtendedFrames = true, want false")
	}
	if cfg.UpdateInterval != 10*time.Second {
		t.Errorf("UpdateInterval = %v, want 10s", cfg.UpdateInterval)
	}
	if cfg.Uplink != "mqtt" {
		t.Errorf("Uplink = %q, want mqtt (lowercased)", cfg.Uplink)
	}
	if cfg.MQTTTopic != "farm/uplink" {
		t.Errorf("MQTTTopic = %q, want farm/uplink", cfg.MQTTTopic)
	}
	if cfg.BusyThresholdDBm != -85 {
		t.Errorf("BusyThresholdDBm = %d, want -85", cfg.BusyThresholdDBm)
	}
}

func TestLoadSimulatorRejectsMalformedValues(t *testing.T) {
	for key, value := range map[string]string{
		"SIM_NODE_COUNT":      "five",
		"SIM_UPDATE_INTERVAL": "-3s",
		"SIM_UPLINK":          "carrier-pigeon",
		"MQTT_QOS":            "7",
		"SIM_TEAM_ID":         "70000",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := LoadSimulator(); err == nil {
				t.Fatalf("LoadSimulator() with %s=%q: want error", key, value)
			} else if !strings.Contains(err.Error(), key) {
				t.Fatalf("error %q does not name %s", err, key)
			}
		})
	}
}

func TestLoadSimulatorRequiresPairedTLELines(t *testing.T) {
	t.Setenv("RELAY_TLE1", "1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9990")
	if _, err := LoadSimulator(); err == nil {
		t.Fatal("LoadSimulator() with only RELAY_TLE1: want error")
	}
}

func TestLoadReceiverRequiresToken(t *testing.T) {
	if _, err := LoadReceiver(); err == nil {
		t.Fatal("LoadReceiver() without INFLUX_TOKEN: want error")
	}

	t.Setenv("INFLUX_TOKEN", "secret")
	t.Setenv("INFLUX_BUCKET", "farm")
	cfg, err := LoadReceiver()
	if err != nil {
		t.Fatalf("LoadReceiver() error = %v", err)
	}
	if cfg.InfluxBucket != "farm" {
		t.Errorf("InfluxBucket = %q, want farm", cfg.InfluxBucket)
	}
	if cfg.MQTTTopic != "agrinode/uplink" {
		t.Errorf("MQTTTopic = %q, want agrinode/uplink", cfg.MQTTTopic)
	}
}
