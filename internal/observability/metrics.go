package observability

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/agrinode-simulator/core"
)

// FleetCollector bundles Prometheus metrics for the simulator: uplink
// counters fed by the transmission scheduler, per-node reading gauges fed
// by the dynamics subscriber, relay geometry, and HTTP API latency.
type FleetCollector struct {
	gatherer prometheus.Gatherer

	FramesSent     *prometheus.CounterVec
	FramesFailed   *prometheus.CounterVec
	BusyEncounters *prometheus.CounterVec
	FrameBytes     prometheus.Counter
	SoilMoisture   *prometheus.GaugeVec
	AirTemperature *prometheus.GaugeVec
	AirHumidity    *prometheus.GaugeVec
	IrrigationOrd  *prometheus.GaugeVec
	LastRSSI       *prometheus.GaugeVec

	RelayElevation prometheus.Gauge
	RelayVisible   prometheus.Gauge

	APIRequests  *prometheus.CounterVec
	APIDurations *prometheus.HistogramVec
}

// NewFleetCollector registers the simulator metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewFleetCollector(reg prometheus.Registerer) (*FleetCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	sent, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uplink_frames_sent_total",
		Help: "Confirmed telemetry frames per node.",
	}, []string{"node_id"}), "uplink_frames_sent_total")
	if err != nil {
		return nil, err
	}
	failed, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uplink_frames_failed_total",
		Help: "Transmit attempts the link layer did not confirm, per node.",
	}, []string{"node_id"}), "uplink_frames_failed_total")
	if err != nil {
		return nil, err
	}
	busy, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uplink_channel_busy_total",
		Help: "Channel-sensing aborts followed by backoff, per node.",
	}, []string{"node_id"}), "uplink_channel_busy_total")
	if err != nil {
		return nil, err
	}
	frameBytes, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uplink_frame_bytes_total",
		Help: "Payload bytes handed to the link layer in confirmed frames.",
	}), "uplink_frame_bytes_total")
	if err != nil {
		return nil, err
	}

	soil, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_soil_moisture_pct",
		Help: "Simulated soil moisture per node.",
	}, []string{"node_id", "crop"}), "fleet_soil_moisture_pct")
	if err != nil {
		return nil, err
	}
	temp, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_air_temp_celsius",
		Help: "Simulated air temperature per node.",
	}, []string{"node_id", "crop"}), "fleet_air_temp_celsius")
	if err != nil {
		return nil, err
	}
	humidity, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_air_humidity_pct",
		Help: "Simulated relative air humidity per node.",
	}, []string{"node_id", "crop"}), "fleet_air_humidity_pct")
	if err != nil {
		return nil, err
	}
	irrigation, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_irrigation_state",
		Help: "Irrigation actuator ordinal per node (0 off, 1 on, 2 auto, 3 error).",
	}, []string{"node_id"}), "fleet_irrigation_state")
	if err != nil {
		return nil, err
	}
	rssi, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_last_rssi_dbm",
		Help: "Downlink RSSI observed at the last confirmed transmission, per node.",
	}, []string{"node_id"}), "fleet_last_rssi_dbm")
	if err != nil {
		return nil, err
	}

	elevation, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_elevation_degrees",
		Help: "Elevation of the overhead relay as seen from the field site.",
	}), "relay_elevation_degrees")
	if err != nil {
		return nil, err
	}
	visible, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_visible",
		Help: "1 while the relay is above the minimum usable elevation.",
	}), "relay_visible")
	if err != nil {
		return nil, err
	}

	apiRequests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "api_requests_total",
		Help: "Handled status API requests, labeled by method, route, and HTTP status code.",
	}, []string{"method", "route", "code"}), "api_requests_total")
	if err != nil {
		return nil, err
	}
	apiDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "api_request_duration_seconds",
		Help:    "Status API latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method", "route"}), "api_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &FleetCollector{
		gatherer:       gatherer,
		FramesSent:     sent,
		FramesFailed:   failed,
		BusyEncounters: busy,
		FrameBytes:     frameBytes,
		SoilMoisture:   soil,
		AirTemperature: temp,
		AirHumidity:    humidity,
		IrrigationOrd:  irrigation,
		LastRSSI:       rssi,
		RelayElevation: elevation,
		RelayVisible:   visible,
		APIRequests:    apiRequests,
		APIDurations:   apiDurations,
	}, nil
}

// FrameSent records one confirmed transmission.
func (c *FleetCollector) FrameSent(nodeID uint16, frameBytes int) {
	if c == nil {
		return
	}
	if c.FramesSent != nil {
		c.FramesSent.WithLabelValues(nodeLabel(nodeID)).Inc()
	}
	if c.FrameBytes != nil {
		c.FrameBytes.Add(float64(frameBytes))
	}
}

// FrameFailed records one unconfirmed transmit attempt.
func (c *FleetCollector) FrameFailed(nodeID uint16) {
	if c == nil || c.FramesFailed == nil {
		return
	}
	c.FramesFailed.WithLabelValues(nodeLabel(nodeID)).Inc()
}

// ChannelBusy records one busy-channel backoff.
func (c *FleetCollector) ChannelBusy(nodeID uint16) {
	if c == nil || c.BusyEncounters == nil {
		return
	}
	c.BusyEncounters.WithLabelValues(nodeLabel(nodeID)).Inc()
}

// ObserveReading pushes one dynamics reading into the per-node gauges. It
// matches the fleet store's subscriber signature.
func (c *FleetCollector) ObserveReading(ev core.ReadingEvent) {
	if c == nil {
		return
	}
	n := ev.Node
	id, crop := nodeLabel(n.NodeID), n.Crop.String()
	if c.SoilMoisture != nil {
		c.SoilMoisture.WithLabelValues(id, crop).Set(n.SoilMoisturePct)
	}
	if c.AirTemperature != nil {
		c.AirTemperature.WithLabelValues(id, crop).Set(n.AirTempC)
	}
	if c.AirHumidity != nil {
		c.AirHumidity.WithLabelValues(id, crop).Set(n.AirHumidityPct)
	}
	if c.IrrigationOrd != nil {
		c.IrrigationOrd.WithLabelValues(id).Set(float64(n.Irrigation))
	}
	if c.LastRSSI != nil {
		c.LastRSSI.WithLabelValues(id).Set(float64(n.LastRSSIdBm))
	}
}

// SetRelayStatus publishes the latest pass-tracker geometry.
func (c *FleetCollector) SetRelayStatus(elevationDeg float64, visible bool) {
	if c == nil {
		return
	}
	if c.RelayElevation != nil {
		c.RelayElevation.Set(elevationDeg)
	}
	if c.RelayVisible != nil {
		v := 0.0
		if visible {
			v = 1
		}
		c.RelayVisible.Set(v)
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *FleetCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ReceiverCollector bundles Prometheus metrics for the ground receiver.
type ReceiverCollector struct {
	gatherer prometheus.Gatherer

	FramesDecoded  *prometheus.CounterVec
	DecodeFailures *prometheus.CounterVec
	PointsWritten  prometheus.Counter
	WriteFailures  prometheus.Counter
}

// NewReceiverCollector registers the ground receiver metrics against the
// provided registerer, defaulting to the global Prometheus registry when
// nil.
func NewReceiverCollector(reg prometheus.Registerer) (*ReceiverCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	decoded, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ground_frames_decoded_total",
		Help: "Telemetry frames decoded off the uplink, per node.",
	}, []string{"node_id"}), "ground_frames_decoded_total")
	if err != nil {
		return nil, err
	}
	failures, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ground_decode_failures_total",
		Help: "Frames dropped by the decoder, labeled by failure reason.",
	}, []string{"reason"}), "ground_decode_failures_total")
	if err != nil {
		return nil, err
	}
	written, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ground_points_written_total",
		Help: "Telemetry points persisted to the time-series store.",
	}), "ground_points_written_total")
	if err != nil {
		return nil, err
	}
	writeFailures, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ground_point_write_failures_total",
		Help: "Telemetry points the time-series store rejected.",
	}), "ground_point_write_failures_total")
	if err != nil {
		return nil, err
	}

	return &ReceiverCollector{
		gatherer:       gatherer,
		FramesDecoded:  decoded,
		DecodeFailures: failures,
		PointsWritten:  written,
		WriteFailures:  writeFailures,
	}, nil
}

// FrameDecoded records one successfully decoded frame.
func (c *ReceiverCollector) FrameDecoded(nodeID uint16) {
	if c == nil || c.FramesDecoded == nil {
		return
	}
	c.FramesDecoded.WithLabelValues(nodeLabel(nodeID)).Inc()
}

// DecodeFailed records one dropped frame.
func (c *ReceiverCollector) DecodeFailed(reason string) {
	if c == nil || c.DecodeFailures == nil {
		return
	}
	c.DecodeFailures.WithLabelValues(reason).Inc()
}

// PointWritten records one persisted telemetry point.
func (c *ReceiverCollector) PointWritten() {
	if c == nil || c.PointsWritten == nil {
		return
	}
	c.PointsWritten.Inc()
}

// WriteFailed records one rejected telemetry point.
func (c *ReceiverCollector) WriteFailed() {
	if c == nil || c.WriteFailures == nil {
		return
	}
	c.WriteFailures.Inc()
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ReceiverCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func nodeLabel(nodeID uint16) string {
	return strconv.FormatUint(uint64(nodeID), 10)
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
