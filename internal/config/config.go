// Package config loads process configuration from the environment. An
// optional .env file is read first; explicit environment variables win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Simulator is the full configuration of the fleet simulator binary.
type Simulator struct {
	NodeCount  int
	NodeIDBase uint16
	TeamID     uint16
	// ExtendedFrames selects the timestamp-bearing wire format.
	ExtendedFrames bool
	// Seed fixes the simulation RNG; zero draws a fresh seed per run.
	Seed uint64

	BaseIntervalMs   uint64
	JitterSpanMs     uint64
	MinIntervalMs    uint64
	BusyThresholdDBm int16

	PollInterval   time.Duration
	UpdateInterval time.Duration
	StatsInterval  time.Duration

	FaultOneIn        int
	TimezoneOffsetSec int

	// RangesFile points at an optional JSON sensor-ranges override.
	RangesFile string

	HTTPAddr string

	// Uplink selects the radio transport: "sim" or "mqtt".
	Uplink        string
	MQTTBrokerURL string
	MQTTClientID  string
	MQTTTopic     string
	MQTTQoS       byte

	// ReportURL is the remote stats collector; empty disables the POST.
	ReportURL string

	ProbeEnabled      bool
	ProbeI2CBus       string
	ProbeI2CAddr      uint16
	ProbePollInterval time.Duration

	// RelayTLE1/RelayTLE2 enable the overhead relay pass tracker.
	RelayTLE1  string
	RelayTLE2  string
	SiteName   string
	SiteLatDeg float64
	SiteLonDeg float64
	SiteAltKm  float64
}

// Receiver is the configuration of the ground receiver binary.
type Receiver struct {
	TeamID         uint16
	ExtendedFrames bool

	MQTTBrokerURL string
	MQTTClientID  string
	MQTTTopic     string
	MQTTQoS       byte

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	HTTPAddr string
}

// LoadSimulator reads the simulator configuration, loading .env when
// present, and validates it.
func LoadSimulator() (Simulator, error) {
	loadDotenv()

	cfg := Simulator{
		NodeCount:         5,
		NodeIDBase:        1000,
		TeamID:            666,
		ExtendedFrames:    true,
		BaseIntervalMs:    60_000,
		JitterSpanMs:      5_000,
		MinIntervalMs:     14_000,
		BusyThresholdDBm:  -90,
		PollInterval:      250 * time.Millisecond,
		UpdateInterval:    30 * time.Second,
		StatsInterval:     60 * time.Second,
		FaultOneIn:        1000,
		HTTPAddr:          ":8080",
		Uplink:            "sim",
		MQTTBrokerURL:     "tcp://localhost:1883",
		MQTTClientID:      "agrinode-sim",
		MQTTTopic:         "agrinode/uplink",
		MQTTQoS:           1,
		ProbeI2CAddr:      0x76,
		ProbePollInterval: time.Minute,
	}

	var err error
	if cfg.NodeCount, err = envInt("SIM_NODE_COUNT", cfg.NodeCount); err != nil {
		return cfg, err
	}
	if cfg.NodeIDBase, err = envUint16("SIM_NODE_ID_BASE", cfg.NodeIDBase); err != nil {
		return cfg, err
	}
	if cfg.TeamID, err = envUint16("SIM_TEAM_ID", cfg.TeamID); err != nil {
		return cfg, err
	}
	if cfg.ExtendedFrames, err = envBool("SIM_FRAME_TIMESTAMP", cfg.ExtendedFrames); err != nil {
		return cfg, err
	}
	if cfg.Seed, err = envUint64("SIM_SEED", cfg.Seed); err != nil {
		return cfg, err
	}
	if cfg.BaseIntervalMs, err = envUint64("SIM_BASE_INTERVAL_MS", cfg.BaseIntervalMs); err != nil {
		return cfg, err
	}
	if cfg.JitterSpanMs, err = envUint64("SIM_JITTER_SPAN_MS", cfg.JitterSpanMs); err != nil {
		return cfg, err
	}
	if cfg.MinIntervalMs, err = envUint64("SIM_MIN_INTERVAL_MS", cfg.MinIntervalMs); err != nil {
		return cfg, err
	}
	if cfg.BusyThresholdDBm, err = envInt16("SIM_BUSY_THRESHOLD_DBM", cfg.BusyThresholdDBm); err != nil {
		return cfg, err
	}
	if cfg.PollInterval, err = envDuration("SIM_POLL_INTERVAL", cfg.PollInterval); err != nil {
		return cfg, err
	}
	if cfg.UpdateInterval, err = envDuration("SIM_UPDATE_INTERVAL", cfg.UpdateInterval); err != nil {
		return cfg, err
	}
	if cfg.StatsInterval, err = envDuration("SIM_STATS_INTERVAL", cfg.StatsInterval); err != nil {
		return cfg, err
	}
	if cfg.FaultOneIn, err = envInt("SIM_FAULT_ONE_IN", cfg.FaultOneIn); err != nil {
		return cfg, err
	}
	if cfg.TimezoneOffsetSec, err = envInt("SIM_TZ_OFFSET_SEC", cfg.TimezoneOffsetSec); err != nil {
		return cfg, err
	}
	cfg.RangesFile = envStr("SIM_RANGES_FILE", cfg.RangesFile)
	cfg.HTTPAddr = envStr("SIM_HTTP_ADDR", cfg.HTTPAddr)
	cfg.Uplink = strings.ToLower(envStr("SIM_UPLINK", cfg.Uplink))
	cfg.MQTTBrokerURL = envStr("MQTT_BROKER_URL", cfg.MQTTBrokerURL)
	cfg.MQTTClientID = envStr("MQTT_CLIENT_ID", cfg.MQTTClientID)
	cfg.MQTTTopic = envStr("MQTT_TOPIC", cfg.MQTTTopic)
	if cfg.MQTTQoS, err = envQoS("MQTT_QOS", cfg.MQTTQoS); err != nil {
		return cfg, err
	}
	cfg.ReportURL = envStr("SIM_REPORT_URL", cfg.ReportURL)
	if cfg.ProbeEnabled, err = envBool("PROBE_ENABLED", cfg.ProbeEnabled); err != nil {
		return cfg, err
	}
	cfg.ProbeI2CBus = envStr("PROBE_I2C_BUS", cfg.ProbeI2CBus)
	if cfg.ProbeI2CAddr, err = envUint16("PROBE_I2C_ADDR", cfg.ProbeI2CAddr); err != nil {
		return cfg, err
	}
	if cfg.ProbePollInterval, err = envDuration("PROBE_POLL_INTERVAL", cfg.ProbePollInterval); err != nil {
		return cfg, err
	}
	cfg.RelayTLE1 = envStr("RELAY_TLE1", cfg.RelayTLE1)
	cfg.RelayTLE2 = envStr("RELAY_TLE2", cfg.RelayTLE2)
	cfg.SiteName = envStr("SITE_NAME", cfg.SiteName)
	if cfg.SiteLatDeg, err = envFloat("SITE_LAT_DEG", cfg.SiteLatDeg); err != nil {
		return cfg, err
	}
	if cfg.SiteLonDeg, err = envFloat("SITE_LON_DEG", cfg.SiteLonDeg); err != nil {
		return cfg, err
	}
	if cfg.SiteAltKm, err = envFloat("SITE_ALT_KM", cfg.SiteAltKm); err != nil {
		return cfg, err
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Simulator) validate() error {
	if c.NodeCount <= 0 {
		return fmt.Errorf("SIM_NODE_COUNT %d must be positive", c.NodeCount)
	}
	if c.MinIntervalMs == 0 {
		return fmt.Errorf("SIM_MIN_INTERVAL_MS must be positive")
	}
	switch c.Uplink {
	case "sim", "mqtt":
	default:
		return fmt.Errorf("invalid SIM_UPLINK %q (allowed: sim, mqtt)", c.Uplink)
	}
	if c.Uplink == "mqtt" && c.MQTTBrokerURL == "" {
		return fmt.Errorf("MQTT_BROKER_URL is required when SIM_UPLINK=mqtt")
	}
	if (c.RelayTLE1 == "") != (c.RelayTLE2 == "") {
		return fmt.Errorf("RELAY_TLE1 and RELAY_TLE2 must be set together")
	}
	return nil
}

// LoadReceiver reads the ground receiver configuration, loading .env when
// present, and validates it.
func LoadReceiver() (Receiver, error) {
	loadDotenv()

	cfg := Receiver{
		TeamID:         666,
		ExtendedFrames: true,
		MQTTBrokerURL:  "tcp://localhost:1883",
		MQTTClientID:   "agrinode-ground-rx",
		MQTTTopic:      "agrinode/uplink",
		MQTTQoS:        1,
		InfluxURL:      "http://localhost:8086",
		InfluxOrg:      "agrinode",
		InfluxBucket:   "telemetry",
		HTTPAddr:       ":8081",
	}

	var err error
	if cfg.TeamID, err = envUint16("SIM_TEAM_ID", cfg.TeamID); err != nil {
		return cfg, err
	}
	if cfg.ExtendedFrames, err = envBool("SIM_FRAME_TIMESTAMP", cfg.ExtendedFrames); err != nil {
		return cfg, err
	}
	cfg.MQTTBrokerURL = envStr("MQTT_BROKER_URL", cfg.MQTTBrokerURL)
	cfg.MQTTClientID = envStr("MQTT_CLIENT_ID", cfg.MQTTClientID)
	cfg.MQTTTopic = envStr("MQTT_TOPIC", cfg.MQTTTopic)
	if cfg.MQTTQoS, err = envQoS("MQTT_QOS", cfg.MQTTQoS); err != nil {
		return cfg, err
	}
	cfg.InfluxURL = envStr("INFLUX_URL", cfg.InfluxURL)
	cfg.InfluxToken = envStr("INFLUX_TOKEN", cfg.InfluxToken)
	cfg.InfluxOrg = envStr("INFLUX_ORG", cfg.InfluxOrg)
	cfg.InfluxBucket = envStr("INFLUX_BUCKET", cfg.InfluxBucket)
	cfg.HTTPAddr = envStr("GROUND_HTTP_ADDR", cfg.HTTPAddr)

	if cfg.MQTTBrokerURL == "" {
		return cfg, fmt.Errorf("MQTT_BROKER_URL is required")
	}
	if cfg.InfluxToken == "" {
		return cfg, fmt.Errorf("INFLUX_TOKEN is required")
	}
	return cfg, nil
}

func loadDotenv() {
	// Missing files are fine; a malformed one is not worth failing boot
	// over either, explicit env still applies.
	_ = godotenv.Load()
}

func envStr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envInt16(key string, fallback int16) (int16, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 16)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return int16(v), nil
}

func envUint16(key string, fallback uint16) (uint16, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 0, 16)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return uint16(v), nil
}

func envUint64(key string, fallback uint64) (uint64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if v <= 0 {
		return fallback, fmt.Errorf("invalid %s %q: must be positive", key, raw)
	}
	return v, nil
}

func envQoS(key string, fallback byte) (byte, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 8)
	if err != nil || v > 2 {
		return fallback, fmt.Errorf("invalid %s %q (allowed: 0, 1, 2)", key, raw)
	}
	return byte(v), nil
}
