// Package redis is a platform driver over Redis pub/sub, for deployments that
// relay camera events through a Redis instance. Declared events also keep
// their last value under the channel name so late readers can fetch the level.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/oshokin/apd-alarms/internal/logger"
	"github.com/oshokin/apd-alarms/internal/platform"
)

// errAddressRequired is returned when no Redis address is configured.
var errAddressRequired = errors.New("redis address must be provided")

// Options configures the Redis connection.
type Options struct {
	// Addr is host:port of the Redis server.
	Addr string
	// Username for ACL authentication.
	Username string
	// Password for authentication.
	Password string
	// DB selects the logical database used for last values.
	DB int
	// Prefix is prepended to every event topic.
	Prefix string
}

// Platform implements platform.Platform over Redis pub/sub.
type Platform struct {
	// client is the Redis connection pool.
	client *goredis.Client
	// opts holds the options.
	opts Options
	// router fans messages out to subscriptions sharing a topic.
	router *platform.Router
	// declarations holds declared output events.
	declarations *platform.Declarations
	// ctx is handed to handlers and bounds reader goroutines.
	ctx context.Context //nolint:containedctx // Reader goroutines outlive the Subscribe call.
	// cancel stops reader goroutines on Close.
	cancel context.CancelFunc

	// mu protects pubsubs.
	mu sync.Mutex
	// pubsubs holds one Redis subscription per topic.
	pubsubs map[string]*goredis.PubSub
	// readers tracks reader goroutines.
	readers sync.WaitGroup
}

// Connect opens the pool and verifies the server answers.
func Connect(ctx context.Context, opts Options) (*Platform, error) {
	if opts.Addr == "" {
		return nil, errAddressRequired
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}

	readerCtx, cancel := context.WithCancel(logger.WithName(context.WithoutCancel(ctx), "redis"))

	return &Platform{
		client:       client,
		opts:         opts,
		router:       platform.NewRouter(),
		declarations: platform.NewDeclarations(),
		ctx:          readerCtx,
		cancel:       cancel,
		pubsubs:      make(map[string]*goredis.PubSub),
	}, nil
}

// Declare registers the output event and publishes its initial value.
func (p *Platform) Declare(ctx context.Context, declaration *platform.Declaration) (platform.DeclarationID, error) {
	if err := declaration.Validate(); err != nil {
		return 0, err
	}

	id := p.declarations.Add(declaration)

	if err := p.Send(ctx, id, declaration.Initial, time.Now()); err != nil {
		return 0, fmt.Errorf("declare %s: %w", declaration.Topic, err)
	}

	return id, nil
}

// Send stores the value as the channel's last value and publishes it.
func (p *Platform) Send(ctx context.Context, id platform.DeclarationID, value string, timestamp time.Time) error {
	declaration, err := p.declarations.Get(id)
	if err != nil {
		return err
	}

	payload, err := platform.Encode(declaration.Event(value, timestamp))
	if err != nil {
		return err
	}

	channel := platform.ChannelName(p.opts.Prefix, declaration.Topic)

	_, err = p.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, channel, payload, 0)
		pipe.Publish(ctx, channel, payload)

		return nil
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}

	return nil
}

// Last returns the last value sent on a declared topic, as stored by Send.
func (p *Platform) Last(ctx context.Context, topic string) (*platform.Event, error) {
	payload, err := p.client.Get(ctx, platform.ChannelName(p.opts.Prefix, topic)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("read last value of %s: %w", topic, err)
	}

	return platform.Decode(payload)
}

// Subscribe delivers events on topic to handler. One Redis subscription is
// opened per topic and confirmed before returning.
func (p *Platform) Subscribe(ctx context.Context, topic string, handler platform.Handler) (platform.SubscriptionID, error) {
	if topic == "" {
		return 0, platform.ErrEmptyTopic
	}

	id, first := p.router.Add(topic, handler)
	if !first {
		return id, nil
	}

	channel := platform.ChannelName(p.opts.Prefix, topic)
	pubsub := p.client.Subscribe(ctx, channel)

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		p.router.Remove(id)

		return 0, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	p.mu.Lock()
	p.pubsubs[topic] = pubsub
	p.mu.Unlock()

	p.readers.Add(1)

	go p.read(topic, pubsub)

	return id, nil
}

// Unsubscribe drops a subscription and closes the Redis subscription with the last handler.
func (p *Platform) Unsubscribe(_ context.Context, id platform.SubscriptionID) error {
	topic, last, ok := p.router.Remove(id)
	if !ok {
		return platform.ErrUnknownSubscription
	}

	if !last {
		return nil
	}

	p.mu.Lock()
	pubsub := p.pubsubs[topic]
	delete(p.pubsubs, topic)
	p.mu.Unlock()

	if pubsub == nil {
		return nil
	}

	if err := pubsub.Close(); err != nil {
		return fmt.Errorf("unsubscribe from %s: %w", topic, err)
	}

	return nil
}

// Close stops readers and closes the pool.
func (p *Platform) Close() error {
	p.cancel()

	p.mu.Lock()
	for topic, pubsub := range p.pubsubs {
		_ = pubsub.Close()
		delete(p.pubsubs, topic)
	}
	p.mu.Unlock()

	p.readers.Wait()

	return p.client.Close()
}

// read forwards messages of one Redis subscription to the router until it is closed.
func (p *Platform) read(topic string, pubsub *goredis.PubSub) {
	defer p.readers.Done()

	messages := pubsub.Channel()

	for {
		select {
		case <-p.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}

			event, err := platform.Decode([]byte(msg.Payload))
			if err != nil {
				logger.WarnKV(p.ctx, "Dropping malformed Redis event", "channel", msg.Channel, "error", err)
				continue
			}

			event.Topic = topic
			p.router.Dispatch(p.ctx, event)
		}
	}
}
