package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-rules/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger the client uses.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// pahoClient is the part of pahomqtt.Client the wrapper calls.
type pahoClient interface {
	Connect() pahomqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	Unsubscribe(topics ...string) pahomqtt.Token
}

// MessageHandler receives one message. A returned error is logged.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client is a paho connection that remembers its subscriptions and
// restores them after every reconnect. Safe for concurrent use.
type Client struct {
	client   pahoClient
	clientID string
	qos      byte
	logger   Logger

	connected atomic.Bool

	mu   sync.RWMutex
	subs map[string]subscription
}

// Connect dials the broker described by cfg and waits for the first
// connection. Paho keeps reconnecting in the background afterwards.
//
// Parameters:
//   - cfg: mqtt section of the configuration
//   - logger: may be nil
//
// Returns:
//   - *Client: connected client
//   - error: ErrConnectionFailed on timeout or broker refusal
func Connect(cfg config.MQTTConfig, logger Logger) (*Client, error) {
	opts := buildClientOptions(cfg)
	c := newClient(nil, cfg, logger)

	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.onConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onConnectionLost(err) })

	c.client = pahomqtt.NewClient(opts)
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func newClient(pc pahoClient, cfg config.MQTTConfig, logger Logger) *Client {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Client{
		client:   pc,
		clientID: cfg.Broker.ClientID,
		qos:      byte(cfg.QoS),
		logger:   logger,
		subs:     make(map[string]subscription),
	}
}

func (c *Client) connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	// The on-connect callback runs asynchronously; mark connected here so
	// Subscribe works straight after Connect returns.
	c.connected.Store(true)
	return nil
}

// onConnect runs on the first connection and every reconnect.
func (c *Client) onConnect() {
	c.connected.Store(true)

	c.mu.RLock()
	for topic, sub := range c.subs {
		c.client.Subscribe(topic, sub.qos, c.wrap(sub.handler))
	}
	n := len(c.subs)
	c.mu.RUnlock()

	c.client.Publish(Topics{}.SystemStatus(), 1, true, statusPayload(c.clientID, "online", ""))
	c.logger.Info("mqtt connected", "client_id", c.clientID, "subscriptions", n)
}

func (c *Client) onConnectionLost(err error) {
	c.connected.Store(false)
	c.logger.Warn("mqtt connection lost", "client_id", c.clientID, "error", err)
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client.IsConnected()
}

// HealthCheck returns ErrNotConnected while the connection is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// DefaultQoS is the configured QoS for this connection.
func (c *Client) DefaultQoS() byte {
	return c.qos
}

// Close publishes a graceful offline status and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		token := c.client.Publish(Topics{}.SystemStatus(), 1, true,
			statusPayload(c.clientID, "offline", "graceful_shutdown"))
		token.WaitTimeout(opTimeout)
	}
	c.client.Disconnect(disconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// wrap adapts a MessageHandler to paho, logging errors and recovering
// panics so one bad message cannot kill paho's router goroutine.
func (c *Client) wrap(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("mqtt handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn("mqtt handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}
