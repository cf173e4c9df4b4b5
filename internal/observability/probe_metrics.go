package observability

import "github.com/prometheus/client_golang/prometheus"

// ProbeCollector exposes the ambient ground-truth probe readings.
type ProbeCollector struct {
	Temperature prometheus.Gauge
	Humidity    prometheus.Gauge
	Pressure    prometheus.Gauge
}

// NewProbeCollector registers the probe gauges against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewProbeCollector(reg prometheus.Registerer) (*ProbeCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	temp, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "probe_air_temp_celsius",
		Help: "Ambient air temperature measured by the ground-truth probe.",
	}), "probe_air_temp_celsius")
	if err != nil {
		return nil, err
	}
	humidity, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "probe_air_humidity_pct",
		Help: "Ambient relative humidity measured by the ground-truth probe.",
	}), "probe_air_humidity_pct")
	if err != nil {
		return nil, err
	}
	pressure, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "probe_pressure_hpa",
		Help: "Barometric pressure measured by the ground-truth probe.",
	}), "probe_pressure_hpa")
	if err != nil {
		return nil, err
	}

	return &ProbeCollector{Temperature: temp, Humidity: humidity, Pressure: pressure}, nil
}

// SetReading publishes one probe reading.
func (c *ProbeCollector) SetReading(tempC, humidityPct, pressureHPa float64) {
	if c == nil {
		return
	}
	c.Temperature.Set(tempC)
	c.Humidity.Set(humidityPct)
	c.Pressure.Set(pressureHPa)
}
