// Package probe polls an optional BME280 over I²C for ambient ground
// truth next to the simulated fleet. Missing hardware is a clean disable,
// never a failure of the simulation loop.
package probe

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"

	"github.com/signalsfoundry/agrinode-simulator/internal/logging"
)

// Config selects the I²C device and polling cadence.
type Config struct {
	// Bus names the I²C bus; empty opens the platform default.
	Bus string
	// Addr is the device address, 0x76 or 0x77 on a BME280.
	Addr uint16
	// PollInterval is the sensing cadence.
	PollInterval time.Duration
}

// DefaultConfig returns the usual BME280 wiring.
func DefaultConfig() Config {
	return Config{Addr: 0x76, PollInterval: time.Minute}
}

// Reading is one probe measurement in engineering units.
type Reading struct {
	TempC       float64
	HumidityPct float64
	PressureHPa float64
}

// Probe owns the device and delivers readings to a callback.
type Probe struct {
	cfg       Config
	log       logging.Logger
	onReading func(Reading)
}

// New builds a probe. onReading runs on the probe goroutine and must not
// block.
func New(cfg Config, log logging.Logger, onReading func(Reading)) (*Probe, error) {
	if cfg.Addr == 0 {
		return nil, fmt.Errorf("probe address is required")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval %v must be positive", cfg.PollInterval)
	}
	if log == nil {
		log = logging.Noop()
	}
	if onReading == nil {
		onReading = func(Reading) {}
	}
	return &Probe{cfg: cfg, log: log, onReading: onReading}, nil
}

// Run opens the device and polls until the context is cancelled. Setup
// errors are returned so the caller can log-and-disable.
func (p *Probe) Run(ctx context.Context) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("host init: %w", err)
	}
	bus, err := i2creg.Open(p.cfg.Bus)
	if err != nil {
		return fmt.Errorf("open i2c bus %q: %w", p.cfg.Bus, err)
	}
	defer bus.Close()

	dev, err := bmxx80.NewI2C(bus, p.cfg.Addr, &bmxx80.DefaultOpts)
	if err != nil {
		return fmt.Errorf("probe at 0x%02x: %w", p.cfg.Addr, err)
	}
	defer dev.Halt()

	p.log.Info(ctx, "ambient probe online",
		logging.Any("addr", fmt.Sprintf("0x%02x", p.cfg.Addr)),
		logging.Any("poll_interval", p.cfg.PollInterval))

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			var env physic.Env
			if err := dev.Sense(&env); err != nil {
				p.log.Warn(ctx, "probe read failed", logging.String("error", err.Error()))
				continue
			}
			r := readingFromEnv(env)
			p.log.Debug(ctx, "probe reading",
				logging.Any("temp_c", r.TempC),
				logging.Any("humidity_pct", r.HumidityPct),
				logging.Any("pressure_hpa", r.PressureHPa))
			p.onReading(r)
		}
	}
}

// readingFromEnv converts the driver's fixed-point units.
func readingFromEnv(env physic.Env) Reading {
	return Reading{
		TempC:       env.Temperature.Celsius(),
		HumidityPct: float64(env.Humidity) / float64(physic.PercentRH),
		PressureHPa: float64(env.Pressure) / float64(100*physic.Pascal),
	}
}
