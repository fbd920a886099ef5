// Package memory is an in-process platform driver. Sent events are delivered
// to local subscribers, and every call is recorded, which makes it the driver
// of choice for tests and for running the daemon without a broker.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oshokin/apd-alarms/internal/platform"
)

// Sent is one recorded Send call.
type Sent struct {
	// Declaration is the id the value was sent on.
	Declaration platform.DeclarationID
	// Value is the sent data value.
	Value string
	// Timestamp is the event timestamp.
	Timestamp time.Time
}

// Platform implements platform.Platform in memory.
type Platform struct {
	// router delivers events to subscribers.
	router *platform.Router
	// declarations holds declared output events.
	declarations *platform.Declarations

	// mu protects the fields below.
	mu sync.Mutex
	// calls is an ordered log like "subscribe <topic>" or "unsubscribe <id>".
	calls []string
	// sent records Declare initial values and Send calls.
	sent []Sent
	// closed is set by Close.
	closed bool

	// FailDeclare, when set, is returned by Declare.
	FailDeclare error
	// FailSubscribe, when set, is returned by Subscribe.
	FailSubscribe error
	// FailUnsubscribe, when set, is returned by Unsubscribe after the subscription is dropped.
	FailUnsubscribe error
	// FailSend, when set, is returned by Send.
	FailSend error
}

// New returns an empty in-memory platform.
func New() *Platform {
	return &Platform{
		router:       platform.NewRouter(),
		declarations: platform.NewDeclarations(),
	}
}

// Declare records the declaration and delivers its initial value.
func (p *Platform) Declare(ctx context.Context, declaration *platform.Declaration) (platform.DeclarationID, error) {
	if err := declaration.Validate(); err != nil {
		return 0, err
	}

	p.record("declare " + declaration.Topic)

	if err := p.check(p.FailDeclare); err != nil {
		return 0, err
	}

	id := p.declarations.Add(declaration)

	if err := p.Send(ctx, id, declaration.Initial, time.Now()); err != nil {
		return 0, err
	}

	return id, nil
}

// Send records the value and delivers it to subscribers of the declared topic.
func (p *Platform) Send(ctx context.Context, id platform.DeclarationID, value string, timestamp time.Time) error {
	if err := p.check(p.FailSend); err != nil {
		return err
	}

	declaration, err := p.declarations.Get(id)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.sent = append(p.sent, Sent{Declaration: id, Value: value, Timestamp: timestamp})
	p.mu.Unlock()

	p.router.Dispatch(ctx, declaration.Event(value, timestamp))

	return nil
}

// Subscribe registers handler on topic.
func (p *Platform) Subscribe(_ context.Context, topic string, handler platform.Handler) (platform.SubscriptionID, error) {
	if topic == "" {
		return 0, platform.ErrEmptyTopic
	}

	p.record("subscribe " + topic)

	if err := p.check(p.FailSubscribe); err != nil {
		return 0, err
	}

	id, _ := p.router.Add(topic, handler)

	return id, nil
}

// Unsubscribe drops a subscription.
func (p *Platform) Unsubscribe(_ context.Context, id platform.SubscriptionID) error {
	p.record(fmt.Sprintf("unsubscribe %d", id))

	if _, _, ok := p.router.Remove(id); !ok {
		return platform.ErrUnknownSubscription
	}

	return p.FailUnsubscribe
}

// Close marks the platform closed.
func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true

	return nil
}

// Inject delivers an event to the subscribers of its topic, as if it came from the camera.
func (p *Platform) Inject(ctx context.Context, event *platform.Event) int {
	return p.router.Dispatch(ctx, event)
}

// Calls returns a copy of the call log.
func (p *Platform) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.calls...)
}

// SentValues returns a copy of the recorded Send calls.
func (p *Platform) SentValues() []Sent {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]Sent(nil), p.sent...)
}

// Subscriptions returns the number of live subscriptions.
func (p *Platform) Subscriptions() int {
	return p.router.Len()
}

// Topic returns the topic of a live subscription.
func (p *Platform) Topic(id platform.SubscriptionID) (string, bool) {
	return p.router.Topic(id)
}

// Closed reports whether Close was called.
func (p *Platform) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.closed
}

// record appends to the call log.
func (p *Platform) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, call)
}

// check returns ErrClosed after Close, otherwise the injected failure.
func (p *Platform) check(fail error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return platform.ErrClosed
	}

	return fail
}
