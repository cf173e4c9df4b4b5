package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/signalsfoundry/agrinode-simulator/internal/logging"
)

// ConsumerConfig configures the uplink subscription.
type ConsumerConfig struct {
	BrokerURL string
	ClientID  string
	Topic     string
	QoS       byte

	ConnectTimeout time.Duration
}

// DefaultConsumerConfig returns the local-broker defaults.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		BrokerURL:      "tcp://localhost:1883",
		ClientID:       "agrinode-ground-rx",
		Topic:          "agrinode/uplink",
		QoS:            1,
		ConnectTimeout: 10 * time.Second,
	}
}

// Consumer subscribes the uplink topic and feeds every message through a
// Receiver. Handling runs on the MQTT client's delivery goroutine.
type Consumer struct {
	cfg      ConsumerConfig
	receiver *Receiver
	log      logging.Logger
	client   mqtt.Client

	stopOnce sync.Once
}

// NewConsumer builds the consumer without connecting. Call Connect before
// first use.
func NewConsumer(cfg ConsumerConfig, receiver *Receiver, log logging.Logger) (*Consumer, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("broker URL is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("uplink topic is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConsumerConfig().ConnectTimeout
	}
	if log == nil {
		log = logging.Noop()
	}

	c := &Consumer{cfg: cfg, receiver: receiver, log: log}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		log.Info(context.Background(), "mqtt connected", logging.String("broker", cfg.BrokerURL))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn(context.Background(), "mqtt connection lost", logging.String("error", err.Error()))
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// Connect dials the broker with exponential backoff and subscribes to the
// uplink topic.
func (c *Consumer) Connect(ctx context.Context) error {
	operation := func() error {
		token := c.client.Connect()
		if !token.WaitTimeout(c.cfg.ConnectTimeout) {
			return fmt.Errorf("connect timeout after %s", c.cfg.ConnectTimeout)
		}
		return token.Error()
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	token := c.client.Subscribe(c.cfg.Topic, c.cfg.QoS, c.onMessage)
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("subscribe timeout after %s", c.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe: %w", err)
	}

	c.log.Info(ctx, "uplink consumer ready",
		logging.String("broker", c.cfg.BrokerURL),
		logging.String("topic", c.cfg.Topic),
	)
	return nil
}

// Close tears the consumer down. Safe to call more than once.
func (c *Consumer) Close() {
	c.stopOnce.Do(func() {
		if token := c.client.Unsubscribe(c.cfg.Topic); token != nil {
			token.WaitTimeout(time.Second)
		}
		c.client.Disconnect(250)
	})
}

func (c *Consumer) onMessage(_ mqtt.Client, msg mqtt.Message) {
	// HandleFrame already counts and logs failures; nothing to escalate.
	_ = c.receiver.HandleFrame(context.Background(), msg.Payload())
}
