package platform

import (
	"context"
	"errors"
	"time"
)

// SubscriptionID identifies a live subscription. Zero is never assigned.
type SubscriptionID uint64

// DeclarationID identifies a declared output event. Zero is never assigned.
type DeclarationID uint64

// Handler receives events for a subscription. Drivers call it from their own
// goroutines, so handlers must hand work off instead of touching shared state.
type Handler func(ctx context.Context, event *Event)

// Declaration describes an output event before anything is sent on it.
type Declaration struct {
	// Topic is the event topic, e.g. "tnsaxis:CameraApplicationPlatform/APDCustomAlarm/CombinedAlarm".
	Topic string
	// Source holds the fixed source fields of the event.
	Source map[string]string
	// DataKey is the name of the single data field.
	DataKey string
	// NiceName is the human readable name of DataKey.
	NiceName string
	// Initial is the value sent when the event is declared.
	Initial string
}

// Platform is the event system contract shared by every driver.
type Platform interface {
	// Declare registers an output event and sends its initial value.
	Declare(ctx context.Context, declaration *Declaration) (DeclarationID, error)
	// Send publishes a value for a declared event.
	Send(ctx context.Context, id DeclarationID, value string, timestamp time.Time) error
	// Subscribe delivers every event on topic to handler until Unsubscribe.
	Subscribe(ctx context.Context, topic string, handler Handler) (SubscriptionID, error)
	// Unsubscribe stops a subscription.
	Unsubscribe(ctx context.Context, id SubscriptionID) error
	// Close releases the connection.
	Close() error
}

var (
	// ErrUnknownDeclaration is returned by Send for ids that were never declared.
	ErrUnknownDeclaration = errors.New("unknown event declaration")
	// ErrUnknownSubscription is returned by Unsubscribe for ids that are not live.
	ErrUnknownSubscription = errors.New("unknown subscription")
	// ErrInvalidDeclaration is returned when a declaration lacks a topic or data key.
	ErrInvalidDeclaration = errors.New("declaration requires topic and data key")
	// ErrEmptyTopic is returned when subscribing to an empty topic.
	ErrEmptyTopic = errors.New("topic must not be empty")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("platform is closed")
)

// ChannelName maps an event topic to the transport channel, "<prefix>/event/<topic>".
func ChannelName(prefix, topic string) string {
	if prefix == "" {
		return "event/" + topic
	}

	return prefix + "/event/" + topic
}

// Validate checks the declaration for required fields.
func (d *Declaration) Validate() error {
	if d == nil || d.Topic == "" || d.DataKey == "" {
		return ErrInvalidDeclaration
	}

	return nil
}

// Event builds the event carrying value for the declaration.
func (d *Declaration) Event(value string, timestamp time.Time) *Event {
	source := make(map[string]string, len(d.Source))
	for k, v := range d.Source {
		source[k] = v
	}

	return &Event{
		Topic:     d.Topic,
		Timestamp: timestamp,
		Source:    source,
		Data:      map[string]string{d.DataKey: value},
	}
}
