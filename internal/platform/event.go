package platform

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrMalformedEvent is returned when a payload is not an event envelope.
var ErrMalformedEvent = errors.New("malformed event payload")

// Event is a single platform event.
type Event struct {
	// Topic is the event topic without the transport prefix.
	Topic string
	// Timestamp is when the producer emitted the event.
	Timestamp time.Time
	// Source identifies the producing instance, e.g. PresetToken.
	Source map[string]string
	// Key holds additional key fields.
	Key map[string]string
	// Data holds the stateful values, e.g. active or enabled.
	Data map[string]string
}

// Value looks a field up in data, then source, then key.
func (e *Event) Value(name string) (string, bool) {
	for _, fields := range []map[string]string{e.Data, e.Source, e.Key} {
		if v, ok := fields[name]; ok {
			return v, true
		}
	}

	return "", false
}

// Bool returns a boolean field; "1", "true" and friends are accepted.
func (e *Event) Bool(name string) (bool, error) {
	raw, ok := e.Value(name)
	if !ok {
		return false, fmt.Errorf("field %q: %w", name, ErrMalformedEvent)
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("field %q: %w", name, err)
	}

	return v, nil
}

// Int returns an integer field.
func (e *Event) Int(name string) (int, error) {
	raw, ok := e.Value(name)
	if !ok {
		return 0, fmt.Errorf("field %q: %w", name, ErrMalformedEvent)
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", name, err)
	}

	return v, nil
}

// envelope is the wire form of an Event.
type envelope struct {
	Topic     string  `json:"topic"`
	Timestamp int64   `json:"timestamp"`
	Message   message `json:"message"`
}

// message carries the three field groups of an event.
type message struct {
	Source map[string]any `json:"source"`
	Key    map[string]any `json:"key"`
	Data   map[string]any `json:"data"`
}

// Encode renders the event as a JSON envelope.
func Encode(e *Event) ([]byte, error) {
	env := envelope{
		Topic:     e.Topic,
		Timestamp: e.Timestamp.UnixMilli(),
		Message: message{
			Source: toAny(e.Source),
			Key:    toAny(e.Key),
			Data:   toAny(e.Data),
		},
	}

	data, err := json.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	return data, nil
}

// Decode parses a JSON envelope. Field values may be strings, numbers or booleans.
func Decode(payload []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	return &Event{
		Topic:     env.Topic,
		Timestamp: time.UnixMilli(env.Timestamp),
		Source:    toStrings(env.Message.Source),
		Key:       toStrings(env.Message.Key),
		Data:      toStrings(env.Message.Data),
	}, nil
}

// toAny converts string fields for JSON encoding, keeping an empty object for nil maps.
func toAny(fields map[string]string) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}

	return out
}

// toStrings flattens decoded JSON scalars to their textual form.
func toStrings(fields map[string]any) map[string]string {
	out := make(map[string]string, len(fields))

	for k, v := range fields {
		switch typed := v.(type) {
		case string:
			out[k] = typed
		case bool:
			out[k] = strconv.FormatBool(typed)
		case float64:
			out[k] = strconv.FormatFloat(typed, 'f', -1, 64)
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(typed)
		}
	}

	return out
}
