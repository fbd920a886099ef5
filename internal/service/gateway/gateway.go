package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/oshokin/apd-alarms/internal/domain/alarm"
	"github.com/oshokin/apd-alarms/internal/logger"
	"github.com/oshokin/apd-alarms/internal/metrics"
	"github.com/oshokin/apd-alarms/internal/platform"
)

const (
	// DefaultOutputTopic is the topic of the combined alarm event.
	DefaultOutputTopic = "tnsaxis:CameraApplicationPlatform/APDCustomAlarm/CombinedAlarm"
	// DefaultScenarioTopic is formatted with the scenario identifier.
	DefaultScenarioTopic = "tnsaxis:CameraApplicationPlatform/ObjectAnalytics/Device1Scenario%d"
	// DefaultPresetTopic carries preset-reached events of the first PTZ channel.
	DefaultPresetTopic = "tns1:PTZController/tnsaxis:PTZPresets/Channel_1"
	// DefaultWiperPreset is the preset that triggers the wiper.
	DefaultWiperPreset = 2

	// outputFeature is the source value identifying the combined alarm.
	outputFeature = "CombinedAlarm"
	// outputDataKey is the single data field of the output event.
	outputDataKey = "enabled"
	// scenarioDataKey carries the scenario state.
	scenarioDataKey = "active"
	// presetTokenKey carries the preset index.
	presetTokenKey = "PresetToken"
	// onPresetKey is true while the camera is on the preset.
	onPresetKey = "on_preset"
)

var (
	// ErrNotDeclared is returned by Publish before DeclareOutputEvent succeeded.
	ErrNotDeclared = errors.New("output event is not declared")
	// ErrInvalidScenario is returned for negative scenario identifiers.
	ErrInvalidScenario = errors.New("scenario identifier must be non-negative")
)

// Options configures topics.
type Options struct {
	// OutputTopic is the topic of the combined alarm event.
	OutputTopic string
	// ScenarioTopic is a format string taking the scenario identifier.
	ScenarioTopic string
	// PresetTopic carries preset-reached events.
	PresetTopic string
	// WiperPreset is the preset token that triggers the wiper.
	WiperPreset int
}

// binding is the live subscription of one slot.
type binding struct {
	// scenario is the bound scenario identifier.
	scenario int
	// subscription is the platform subscription id.
	subscription platform.SubscriptionID
	// generation tags events delivered on this binding.
	generation uint64
}

// Gateway owns every platform subscription and the output declaration.
// Apart from the handlers it registers, it is used from the dispatcher loop only.
type Gateway struct {
	// platform is the event system.
	platform platform.Platform
	// opts holds topics.
	opts Options
	// sink receives decoded events.
	sink Sink
	// metrics counts subscription operations and publishes.
	metrics *metrics.Metrics
	// output is the declared event id, zero until declared.
	output platform.DeclarationID
	// slots holds at most one binding per slot.
	slots map[domain.Slot]binding
	// presets is the preset subscription, zero when not subscribed.
	presets platform.SubscriptionID
	// generation is incremented on every scenario subscribe.
	generation uint64
}

// New creates a gateway. Empty options fall back to the defaults.
func New(p platform.Platform, opts Options, sink Sink, m *metrics.Metrics) *Gateway {
	if opts.OutputTopic == "" {
		opts.OutputTopic = DefaultOutputTopic
	}

	if opts.ScenarioTopic == "" {
		opts.ScenarioTopic = DefaultScenarioTopic
	}

	if opts.PresetTopic == "" {
		opts.PresetTopic = DefaultPresetTopic
	}

	if opts.WiperPreset == 0 {
		opts.WiperPreset = DefaultWiperPreset
	}

	if m == nil {
		m = metrics.New(nil)
	}

	return &Gateway{
		platform: p,
		opts:     opts,
		sink:     sink,
		metrics:  m,
		slots:    make(map[domain.Slot]binding, len(domain.Slots)),
	}
}

// DeclareOutputEvent registers the combined alarm event with initial value false.
// Every later Publish depends on it, so callers treat failure as fatal.
func (g *Gateway) DeclareOutputEvent(ctx context.Context) error {
	id, err := g.platform.Declare(ctx, &platform.Declaration{
		Topic:    g.opts.OutputTopic,
		Source:   map[string]string{"feature": outputFeature},
		DataKey:  outputDataKey,
		NiceName: "Alarm Active",
		Initial:  encodeBool(false),
	})
	if err != nil {
		return fmt.Errorf("declare output event: %w", err)
	}

	g.output = id

	logger.InfoKV(ctx, "Output event declared", "topic", g.opts.OutputTopic, "declaration", id)

	return nil
}

// Publish sends the combined flag. Consumers treat it as level data.
func (g *Gateway) Publish(ctx context.Context, combined bool, timestamp time.Time) error {
	if g.output == 0 {
		return ErrNotDeclared
	}

	err := g.platform.Send(ctx, g.output, encodeBool(combined), timestamp)
	g.metrics.Published.WithLabelValues(metrics.Result(err)).Inc()

	if err != nil {
		return fmt.Errorf("publish combined alarm: %w", err)
	}

	logger.InfoKV(ctx, "Combined alarm published", "enabled", combined)

	return nil
}

// Subscribe binds slot to scenarioID, releasing the previous binding first.
// On failure the slot is left unbound.
func (g *Gateway) Subscribe(ctx context.Context, slot domain.Slot, scenarioID int) error {
	if !slot.Valid() {
		return fmt.Errorf("subscribe %d: %w", int(slot), domain.ErrInvalidSlot)
	}

	g.Unbind(ctx, slot)

	if scenarioID < 0 {
		return fmt.Errorf("subscribe %s to %d: %w", slot, scenarioID, ErrInvalidScenario)
	}

	topic := fmt.Sprintf(g.opts.ScenarioTopic, scenarioID)

	g.generation++
	generation := g.generation

	id, err := g.platform.Subscribe(ctx, topic, g.scenarioHandler(slot, generation))
	g.metrics.SubscriptionOps.WithLabelValues("subscribe", metrics.Result(err)).Inc()

	if err != nil {
		return fmt.Errorf("subscribe %s to %s: %w", slot, topic, err)
	}

	g.slots[slot] = binding{scenario: scenarioID, subscription: id, generation: generation}

	logger.InfoKV(ctx, "Scenario subscribed", "slot", slot, "scenario", scenarioID, "subscription", id)

	return nil
}

// Unbind releases the subscription of slot, if any. The binding is forgotten
// even when the platform reports an error, so handles never accumulate.
func (g *Gateway) Unbind(ctx context.Context, slot domain.Slot) {
	current, ok := g.slots[slot]
	if !ok {
		return
	}

	delete(g.slots, slot)

	err := g.platform.Unsubscribe(ctx, current.subscription)
	g.metrics.SubscriptionOps.WithLabelValues("unsubscribe", metrics.Result(err)).Inc()

	if err != nil {
		logger.WarnKV(ctx, "Unsubscribe failed", "slot", slot, "subscription", current.subscription, "error", err)
		return
	}

	logger.InfoKV(ctx, "Scenario unsubscribed", "slot", slot, "subscription", current.subscription)
}

// Binding returns the scenario and subscription bound to slot.
func (g *Gateway) Binding(slot domain.Slot) (int, platform.SubscriptionID, bool) {
	b, ok := g.slots[slot]

	return b.scenario, b.subscription, ok
}

// IsCurrent reports whether a scenario event still belongs to the binding of its slot.
// Events queued before a rebind fail this check and are dropped.
func (g *Gateway) IsCurrent(event ScenarioEvent) bool {
	b, ok := g.slots[event.Slot]

	return ok && b.generation == event.Generation
}

// SubscribePresets subscribes to preset-reached events once.
func (g *Gateway) SubscribePresets(ctx context.Context) error {
	if g.presets != 0 {
		return nil
	}

	id, err := g.platform.Subscribe(ctx, g.opts.PresetTopic, g.presetHandler())
	g.metrics.SubscriptionOps.WithLabelValues("subscribe", metrics.Result(err)).Inc()

	if err != nil {
		return fmt.Errorf("subscribe to presets: %w", err)
	}

	g.presets = id

	logger.InfoKV(ctx, "Preset events subscribed", "topic", g.opts.PresetTopic, "subscription", id)

	return nil
}

// TriggersWiper reports whether a preset event should start the wiper.
func (g *Gateway) TriggersWiper(event PresetEvent) bool {
	return event.Reached && event.Preset == g.opts.WiperPreset
}

// Close releases every subscription.
func (g *Gateway) Close(ctx context.Context) {
	for _, slot := range domain.Slots {
		g.Unbind(ctx, slot)
	}

	if g.presets == 0 {
		return
	}

	err := g.platform.Unsubscribe(ctx, g.presets)
	g.metrics.SubscriptionOps.WithLabelValues("unsubscribe", metrics.Result(err)).Inc()

	if err != nil {
		logger.WarnKV(ctx, "Preset unsubscribe failed", "error", err)
	}

	g.presets = 0
}

// scenarioHandler decodes scenario payloads for slot.
func (g *Gateway) scenarioHandler(slot domain.Slot, generation uint64) platform.Handler {
	return func(ctx context.Context, event *platform.Event) {
		active, err := event.Bool(scenarioDataKey)
		if err != nil {
			logger.WarnKV(ctx, "Dropping scenario event", "slot", slot, "topic", event.Topic, "error", err)
			return
		}

		g.sink(ScenarioEvent{
			Timestamp:  event.Timestamp,
			Slot:       slot,
			Generation: generation,
			Active:     active,
		})
	}
}

// presetHandler decodes preset payloads.
func (g *Gateway) presetHandler() platform.Handler {
	return func(ctx context.Context, event *platform.Event) {
		preset, err := event.Int(presetTokenKey)
		if err != nil {
			logger.WarnKV(ctx, "Dropping preset event", "topic", event.Topic, "error", err)
			return
		}

		reached, err := event.Bool(onPresetKey)
		if err != nil {
			logger.WarnKV(ctx, "Dropping preset event", "topic", event.Topic, "error", err)
			return
		}

		g.sink(PresetEvent{
			Timestamp: event.Timestamp,
			Preset:    preset,
			Reached:   reached,
		})
	}
}

// encodeBool renders a boolean the way camera events carry them.
func encodeBool(v bool) string {
	if v {
		return "1"
	}

	return "0"
}

// ParseScenario parses a Scenario parameter value. Empty means unbound.
func ParseScenario(value string) (int, bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false, nil
	}

	id, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("parse scenario %q: %w", value, err)
	}

	if id < 0 {
		return 0, false, fmt.Errorf("parse scenario %q: %w", value, ErrInvalidScenario)
	}

	return id, true, nil
}
