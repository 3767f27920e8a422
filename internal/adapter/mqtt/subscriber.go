package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/agrosentinel-etl/internal/config"
	"github.com/couchcryptid/agrosentinel-etl/internal/domain"
	"github.com/couchcryptid/agrosentinel-etl/internal/observability"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// SourceName tags samples received over MQTT.
const SourceName = "mqtt"

const qosAtLeastOnce = byte(1)

var errStopped = errors.New("mqtt subscriber stopped")

// Enqueuer accepts raw events without blocking. *pipeline.Queue satisfies it.
type Enqueuer interface {
	TryPush(ev domain.RawEvent) error
}

// Subscriber receives sensor telemetry from an MQTT broker and hands every
// message to the pipeline queue. Decoding and validation happen in the
// pipeline so that bad payloads are counted like any other transform error.
type Subscriber struct {
	client    pahomqtt.Client
	topic     string
	queue     Enqueuer
	metrics   *observability.Metrics
	logger    *slog.Logger
	connected atomic.Bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSubscriber configures an auto-reconnecting client for the broker in cfg.
// The topic subscription is renewed on every (re)connect.
func NewSubscriber(cfg *config.Config, queue Enqueuer, metrics *observability.Metrics, logger *slog.Logger) *Subscriber {
	s := &Subscriber{
		topic:   cfg.MQTTTopic,
		queue:   queue,
		metrics: metrics,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		s.connected.Store(true)
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
		if err := s.subscribe(c); err != nil {
			logger.Error("mqtt subscribe failed", "topic", s.topic, "error", err)
		}
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.connected.Store(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	s.client = pahomqtt.NewClient(opts)
	return s
}

// Connect starts connecting to the broker and waits until the first attempt
// completes, the context ends, or the subscriber is stopped.
func (s *Subscriber) Connect(ctx context.Context) error {
	select {
	case <-s.stopCh:
		return errStopped
	default:
	}

	token := s.client.Connect()

	const poll = 200 * time.Millisecond
	for !token.WaitTimeout(poll) {
		select {
		case <-ctx.Done():
			s.client.Disconnect(0)
			return ctx.Err()
		case <-s.stopCh:
			s.client.Disconnect(0)
			return errStopped
		default:
		}
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (s *Subscriber) subscribe(c pahomqtt.Client) error {
	token := c.Subscribe(s.topic, qosAtLeastOnce, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		s.handleMessage(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout for topic %s", s.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.topic, err)
	}
	s.logger.Info("subscribed to mqtt topic", "topic", s.topic, "qos", qosAtLeastOnce)
	return nil
}

func (s *Subscriber) handleMessage(topic string, payload []byte) {
	sensorID := SensorFromTopic(topic)
	s.logger.Debug("received mqtt message", "topic", topic, "sensor_id", sensorID, "size", len(payload))

	raw := domain.RawEvent{
		Key:   []byte(sensorID),
		Value: append([]byte(nil), payload...),
		Headers: map[string]string{
			"source":    SourceName,
			"sensor_id": sensorID,
		},
		Topic:     topic,
		Timestamp: time.Now().UTC(),
	}
	if err := s.queue.TryPush(raw); err != nil {
		s.metrics.QueueDropped.WithLabelValues(SourceName).Inc()
		s.logger.Warn("dropping mqtt message", "topic", topic, "error", err)
	}
}

// CheckReadiness reports whether the broker connection is up.
func (s *Subscriber) CheckReadiness(_ context.Context) error {
	if !s.connected.Load() || !s.client.IsConnected() {
		return errors.New("mqtt broker not connected")
	}
	return nil
}

// Disconnect unsubscribes and closes the connection. Safe to call more than once.
func (s *Subscriber) Disconnect() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	if s.client.IsConnected() {
		s.client.Unsubscribe(s.topic).WaitTimeout(2 * time.Second)
	}
	s.client.Disconnect(250)
	s.connected.Store(false)
	s.logger.Info("mqtt subscriber disconnected")
}

// SensorFromTopic returns the segment before the last one, so
// "agrosentinel/greenhouse-1/telemetry" yields "greenhouse-1". Topics with a
// single segment yield "".
func SensorFromTopic(topic string) string {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}
