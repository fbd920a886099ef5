// Package mqtt is the platform driver for the camera's MQTT event bridge.
// Output events are published retained so late subscribers see the current level.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/oshokin/apd-alarms/internal/logger"
	"github.com/oshokin/apd-alarms/internal/platform"
)

const (
	// DefaultQoS is used for subscriptions and publishes.
	DefaultQoS byte = 1
	// DefaultTimeout bounds connect, subscribe and publish round trips.
	DefaultTimeout = 5 * time.Second
	// disconnectQuiesce is how long Disconnect waits for in-flight work, in milliseconds.
	disconnectQuiesce = 250
)

var (
	// ErrTimeout is returned when the broker does not acknowledge in time.
	ErrTimeout = errors.New("mqtt operation timed out")
	// errBrokerRequired is returned when no broker URL is configured.
	errBrokerRequired = errors.New("mqtt broker must be provided")
)

// Options configures the MQTT connection.
type Options struct {
	// Broker is the broker URL, e.g. "tcp://127.0.0.1:1883".
	Broker string
	// ClientID is the MQTT client id; a random one is generated when empty.
	ClientID string
	// Username for broker authentication.
	Username string
	// Password for broker authentication.
	Password string
	// Prefix is prepended to every event topic.
	Prefix string
	// QoS is used for subscriptions and publishes.
	QoS byte
	// Timeout bounds every broker round trip.
	Timeout time.Duration
}

// Platform implements platform.Platform over MQTT.
type Platform struct {
	// client is the paho connection.
	client paho.Client
	// opts holds the resolved options.
	opts Options
	// router fans messages out to subscriptions sharing a topic.
	router *platform.Router
	// declarations holds declared output events.
	declarations *platform.Declarations
	// ctx is handed to handlers; it carries the driver logger.
	ctx context.Context //nolint:containedctx // Handlers run on paho goroutines without a caller context.
}

// Connect dials the broker and returns a ready platform.
func Connect(ctx context.Context, opts Options) (*Platform, error) {
	if opts.Broker == "" {
		return nil, errBrokerRequired
	}

	if opts.ClientID == "" {
		opts.ClientID = "apd-alarms-" + uuid.NewString()[:8]
	}

	if opts.QoS == 0 {
		opts.QoS = DefaultQoS
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	ctx = logger.WithName(ctx, "mqtt")

	clientOptions := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectTimeout(opts.Timeout).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.WarnKV(ctx, "MQTT connection lost", "error", err)
		}).
		SetOnConnectHandler(func(paho.Client) {
			logger.InfoKV(ctx, "MQTT connected", "broker", opts.Broker)
		})

	if opts.Username != "" {
		clientOptions.SetUsername(opts.Username)
	}

	if opts.Password != "" {
		clientOptions.SetPassword(opts.Password)
	}

	p := &Platform{
		client:       paho.NewClient(clientOptions),
		opts:         opts,
		router:       platform.NewRouter(),
		declarations: platform.NewDeclarations(),
		ctx:          ctx,
	}

	if err := p.wait(p.client.Connect()); err != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", opts.Broker, err)
	}

	return p, nil
}

// Declare registers the output event and publishes its initial value.
func (p *Platform) Declare(ctx context.Context, declaration *platform.Declaration) (platform.DeclarationID, error) {
	if err := declaration.Validate(); err != nil {
		return 0, err
	}

	if !p.client.IsConnectionOpen() {
		return 0, fmt.Errorf("declare %s: %w", declaration.Topic, platform.ErrClosed)
	}

	id := p.declarations.Add(declaration)

	if err := p.Send(ctx, id, declaration.Initial, time.Now()); err != nil {
		return 0, fmt.Errorf("declare %s: %w", declaration.Topic, err)
	}

	return id, nil
}

// Send publishes a retained value for a declared event.
func (p *Platform) Send(_ context.Context, id platform.DeclarationID, value string, timestamp time.Time) error {
	declaration, err := p.declarations.Get(id)
	if err != nil {
		return err
	}

	payload, err := platform.Encode(declaration.Event(value, timestamp))
	if err != nil {
		return err
	}

	channel := platform.ChannelName(p.opts.Prefix, declaration.Topic)

	if err = p.wait(p.client.Publish(channel, p.opts.QoS, true, payload)); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}

	return nil
}

// Subscribe delivers events on topic to handler. The broker subscription is
// shared between handlers of the same topic.
func (p *Platform) Subscribe(_ context.Context, topic string, handler platform.Handler) (platform.SubscriptionID, error) {
	if topic == "" {
		return 0, platform.ErrEmptyTopic
	}

	id, first := p.router.Add(topic, handler)
	if !first {
		return id, nil
	}

	channel := platform.ChannelName(p.opts.Prefix, topic)

	if err := p.wait(p.client.Subscribe(channel, p.opts.QoS, p.onMessage(topic))); err != nil {
		p.router.Remove(id)

		return 0, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	return id, nil
}

// Unsubscribe drops a subscription and releases the broker subscription with the last handler.
func (p *Platform) Unsubscribe(_ context.Context, id platform.SubscriptionID) error {
	topic, last, ok := p.router.Remove(id)
	if !ok {
		return platform.ErrUnknownSubscription
	}

	if !last {
		return nil
	}

	channel := platform.ChannelName(p.opts.Prefix, topic)

	if err := p.wait(p.client.Unsubscribe(channel)); err != nil {
		return fmt.Errorf("unsubscribe from %s: %w", channel, err)
	}

	return nil
}

// Close disconnects from the broker.
func (p *Platform) Close() error {
	p.client.Disconnect(disconnectQuiesce)

	return nil
}

// onMessage decodes broker messages for topic and routes them.
// The envelope topic is replaced with the subscribed one so routing does not
// depend on what the producer wrote there.
func (p *Platform) onMessage(topic string) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		event, err := platform.Decode(msg.Payload())
		if err != nil {
			logger.WarnKV(p.ctx, "Dropping malformed MQTT event", "topic", msg.Topic(), "error", err)
			return
		}

		event.Topic = topic
		p.router.Dispatch(p.ctx, event)
	}
}

// wait blocks until the token completes or the timeout passes.
func (p *Platform) wait(token paho.Token) error {
	if !token.WaitTimeout(p.opts.Timeout) {
		return ErrTimeout
	}

	return token.Error()
}
