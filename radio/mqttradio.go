package radio

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/agrinode-simulator/internal/logging"
)

// MQTTBridgeConfig configures the MQTT uplink bridge.
type MQTTBridgeConfig struct {
	BrokerURL string // e.g. tcp://localhost:1883
	ClientID  string
	Topic     string
	QoS       byte

	ConnectTimeout time.Duration
	PublishTimeout time.Duration

	// OccupancyWindow is how long the channel keeps reading busy after
	// foreign traffic was seen on the uplink topic.
	OccupancyWindow time.Duration

	AmbientFloorDBm  int16
	BusyLevelDBm     int16
	DownlinkFloorDBm int16
	DownlinkCeilDBm  int16
}

// DefaultMQTTBridgeConfig returns the local-broker defaults.
func DefaultMQTTBridgeConfig() MQTTBridgeConfig {
	return MQTTBridgeConfig{
		BrokerURL:        "tcp://localhost:1883",
		ClientID:         "agrinode-sim",
		Topic:            "agrinode/uplink",
		QoS:              1,
		ConnectTimeout:   10 * time.Second,
		PublishTimeout:   5 * time.Second,
		OccupancyWindow:  500 * time.Millisecond,
		AmbientFloorDBm:  -115,
		BusyLevelDBm:     -60,
		DownlinkFloorDBm: -80,
		DownlinkCeilDBm:  -50,
	}
}

// Validate checks the bridge configuration.
func (cfg MQTTBridgeConfig) Validate() error {
	if cfg.BrokerURL == "" {
		return fmt.Errorf("broker URL is required")
	}
	if cfg.Topic == "" {
		return fmt.Errorf("uplink topic is required")
	}
	if cfg.QoS > 2 {
		return fmt.Errorf("invalid QoS %d", cfg.QoS)
	}
	return nil
}

// MQTTBridge publishes frames to an MQTT uplink topic and models channel
// occupancy from traffic observed on the same topic. The bridge's own
// publishes echo back through the subscription and are filtered out by
// payload comparison, so only foreign transmitters count as activity.
type MQTTBridge struct {
	cfg    MQTTBridgeConfig
	log    logging.Logger
	client mqtt.Client
	tracer trace.Tracer

	mu           sync.Mutex
	rng          *rand.Rand
	inFrame      bool
	buf          []byte
	lastSent     []byte
	lastActivity time.Time
	lastRx       int16

	stopOnce sync.Once
}

// NewMQTTBridge builds the bridge without connecting. Call Connect before
// first use.
func NewMQTTBridge(cfg MQTTBridgeConfig, log logging.Logger, rng *rand.Rand) (*MQTTBridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("mqtt bridge config: %w", err)
	}
	if log == nil {
		log = logging.Noop()
	}

	b := &MQTTBridge{
		cfg:    cfg,
		log:    log,
		rng:    rng,
		lastRx: cfg.DownlinkFloorDBm,
		tracer: otel.Tracer("agrinode/radio"),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		log.Info(context.Background(), "mqtt connected", logging.String("broker", cfg.BrokerURL))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn(context.Background(), "mqtt connection lost", logging.String("error", err.Error()))
	})

	b.client = mqtt.NewClient(opts)
	return b, nil
}

// Connect dials the broker with exponential backoff and subscribes to the
// uplink topic for occupancy modeling.
func (b *MQTTBridge) Connect(ctx context.Context) error {
	operation := func() error {
		token := b.client.Connect()
		if !token.WaitTimeout(b.cfg.ConnectTimeout) {
			return fmt.Errorf("connect timeout after %s", b.cfg.ConnectTimeout)
		}
		return token.Error()
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	token := b.client.Subscribe(b.cfg.Topic, b.cfg.QoS, b.onMessage)
	if !token.WaitTimeout(b.cfg.ConnectTimeout) {
		return fmt.Errorf("subscribe timeout after %s", b.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe: %w", err)
	}

	b.log.Info(ctx, "uplink bridge ready",
		logging.String("broker", b.cfg.BrokerURL),
		logging.String("topic", b.cfg.Topic),
	)
	return nil
}

// Ready reports whether the broker connection is open.
func (b *MQTTBridge) Ready() bool {
	return b.client.IsConnectionOpen()
}

// Close tears the bridge down. Safe to call more than once.
func (b *MQTTBridge) Close() {
	b.stopOnce.Do(func() {
		if token := b.client.Unsubscribe(b.cfg.Topic); token != nil {
			token.WaitTimeout(time.Second)
		}
		b.client.Disconnect(250)
	})
}

func (b *MQTTBridge) BeginFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inFrame {
		return ErrFrameOpen
	}
	b.inFrame = true
	b.buf = b.buf[:0]
	return nil
}

func (b *MQTTBridge) WriteBytes(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.inFrame {
		return ErrNoFrame
	}
	b.buf = append(b.buf, p...)
	return nil
}

func (b *MQTTBridge) EndFrame(wait bool) error {
	b.mu.Lock()
	if !b.inFrame {
		b.mu.Unlock()
		return ErrNoFrame
	}
	b.inFrame = false
	frame := make([]byte, len(b.buf))
	copy(frame, b.buf)
	b.lastSent = frame
	b.mu.Unlock()

	_, span := b.tracer.Start(context.Background(), "radio.publish",
		trace.WithAttributes(
			attribute.String("mqtt.topic", b.cfg.Topic),
			attribute.Int("frame.bytes", len(frame)),
		))
	defer span.End()

	token := b.client.Publish(b.cfg.Topic, b.cfg.QoS, false, frame)
	if !wait {
		return nil
	}
	if !token.WaitTimeout(b.cfg.PublishTimeout) {
		err := fmt.Errorf("publish timeout after %s: %w", b.cfg.PublishTimeout, ErrNotDelivered)
		span.RecordError(err)
		return err
	}
	if err := token.Error(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("publish: %w", err)
	}

	b.mu.Lock()
	b.lastRx = b.drawDownlinkLocked()
	b.mu.Unlock()
	return nil
}

func (b *MQTTBridge) MeasureChannelActivity() int16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.lastActivity.IsZero() && time.Since(b.lastActivity) <= b.cfg.OccupancyWindow {
		return b.cfg.BusyLevelDBm
	}
	jitter := int16(0)
	if b.rng != nil {
		jitter = int16(b.rng.IntN(6))
	}
	return b.cfg.AmbientFloorDBm + jitter
}

func (b *MQTTBridge) LastReceivedSignalLevel() int16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRx
}

// onMessage tracks foreign uplink traffic. Our own frames come back via
// the subscription too and are dropped here.
func (b *MQTTBridge) onMessage(_ mqtt.Client, msg mqtt.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastSent != nil && bytes.Equal(msg.Payload(), b.lastSent) {
		b.lastSent = nil
		return
	}
	b.lastActivity = time.Now()
	b.lastRx = b.drawDownlinkLocked()
}

func (b *MQTTBridge) drawDownlinkLocked() int16 {
	lo, hi := b.cfg.DownlinkFloorDBm, b.cfg.DownlinkCeilDBm
	if hi <= lo || b.rng == nil {
		return lo
	}
	return lo + int16(b.rng.IntN(int(hi-lo)))
}
