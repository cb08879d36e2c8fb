// Package mqtt implements ports.Broker on top of the Eclipse Paho client.
package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/bft-labs/kiosk/internal/domain"
	"github.com/bft-labs/kiosk/internal/ports"
	"github.com/bft-labs/kiosk/pkg/log"
)

// qos is used for every subscription and publish: broker receipt is
// acknowledged, device execution is not.
const qos byte = 1

const (
	defaultKeepAlive      = 30 * time.Second
	defaultConnectTimeout = 10 * time.Second
	subscribeTimeout      = 10 * time.Second
	disconnectQuiesceMS   = 250
)

// Config configures the broker session.
type Config struct {
	BrokerURL string
	ClientID  string // defaults to "vending_<uuid>"
	Username  string
	Password  string

	KeepAlive      time.Duration
	ConnectTimeout time.Duration
}

type subscription struct {
	topic   string
	handler ports.MessageHandler
}

// Broker is a ports.Broker backed by a Paho client with automatic
// reconnection. Subscriptions are re-established on every connect.
type Broker struct {
	client paho.Client
	logger log.Logger

	mu       sync.Mutex
	subs     []subscription
	listener ports.ConnectionListener
}

var _ ports.Broker = (*Broker)(nil)

// New creates a disconnected broker session.
func New(cfg Config, logger log.Logger) (*Broker, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("%w: broker URL is required", domain.ErrInvalidConfig)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "vending_" + uuid.NewString()
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}

	b := &Broker{logger: logger.With(log.String("component", "mqtt"))}

	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetKeepAlive(cfg.KeepAlive).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(b.onConnectionLost)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	b.client = paho.NewClient(opts)

	b.logger.Debug("mqtt client created",
		log.String("broker", cfg.BrokerURL),
		log.String("client_id", cfg.ClientID),
	)
	return b, nil
}

// SetConnectionListener implements ports.Broker.
func (b *Broker) SetConnectionListener(l ports.ConnectionListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = l
}

// Connect opens the session and blocks until the broker answered or ctx
// ends.
func (b *Broker) Connect(ctx context.Context) error {
	if err := wait(ctx, b.client.Connect()); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Connected implements ports.Publisher.
func (b *Broker) Connected() bool {
	return b.client.IsConnectionOpen()
}

// Subscribe implements ports.Broker.
func (b *Broker) Subscribe(topic string, handler ports.MessageHandler) error {
	b.mu.Lock()
	b.subs = append(b.subs, subscription{topic: topic, handler: handler})
	b.mu.Unlock()

	if !b.client.IsConnectionOpen() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()
	return b.subscribe(ctx, subscription{topic: topic, handler: handler})
}

// Publish implements ports.Publisher.
func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	if !b.client.IsConnectionOpen() {
		return domain.ErrBrokerDisconnected
	}
	if err := wait(ctx, b.client.Publish(topic, qos, false, payload)); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

// Close implements ports.Broker.
func (b *Broker) Close() {
	b.client.Disconnect(disconnectQuiesceMS)
	b.logger.Info("mqtt client disconnected")
}

func (b *Broker) subscribe(ctx context.Context, s subscription) error {
	handler := s.handler
	token := b.client.Subscribe(s.topic, qos, func(_ paho.Client, m paho.Message) {
		handler(ports.Message{Topic: m.Topic(), Payload: m.Payload()})
	})
	if err := wait(ctx, token); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", s.topic, err)
	}
	b.logger.Info("subscribed", log.String("topic", s.topic))
	return nil
}

// onConnect runs on a Paho goroutine after every successful (re)connect.
func (b *Broker) onConnect(paho.Client) {
	b.mu.Lock()
	subs := append([]subscription(nil), b.subs...)
	listener := b.listener
	b.mu.Unlock()

	b.logger.Info("connected to mqtt broker")
	for _, s := range subs {
		ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
		if err := b.subscribe(ctx, s); err != nil {
			b.logger.Error("resubscribe failed", log.String("topic", s.topic), log.Err(err))
		}
		cancel()
	}
	if listener != nil {
		listener.OnConnect()
	}
}

func (b *Broker) onConnectionLost(_ paho.Client, err error) {
	b.mu.Lock()
	listener := b.listener
	b.mu.Unlock()

	b.logger.Warn("mqtt connection lost", log.Err(err))
	if listener != nil {
		listener.OnConnectionLost(err)
	}
}

// wait blocks until token completes or ctx ends.
func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("waiting for broker: %w", ctx.Err())
	}
}
