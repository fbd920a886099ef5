package daemon

import (
	"context"

	domain "github.com/oshokin/apd-alarms/internal/domain/alarm"
	"github.com/oshokin/apd-alarms/internal/logger"
	"github.com/oshokin/apd-alarms/internal/metrics"
	"github.com/oshokin/apd-alarms/internal/repository/params"
	"github.com/oshokin/apd-alarms/internal/service/gateway"
)

// handle dispatches one queued event.
func (d *Daemon) handle(ctx context.Context, event gateway.Inbound) {
	d.metrics.InboundEvents.WithLabelValues(event.Kind()).Inc()

	switch e := event.(type) {
	case paramChanged:
		d.applyParam(ctx, e.name, e.value)
	case gateway.ScenarioEvent:
		d.onScenario(ctx, e)
	case gateway.PresetEvent:
		d.onPreset(ctx, e)
	default:
		logger.WarnKV(ctx, "Unknown event dropped", "kind", event.Kind())
	}
}

// applyParam reacts to a parameter value.
func (d *Daemon) applyParam(ctx context.Context, name, value string) {
	switch name {
	case params.Scenario1:
		d.rebind(ctx, domain.Slot1, value)
	case params.Scenario2:
		d.rebind(ctx, domain.Slot2, value)
	case params.Username:
		d.setCredentials(ctx, value, d.password)
	case params.Password:
		d.setCredentials(ctx, d.username, value)
	default:
		logger.WarnKV(ctx, "Unknown parameter ignored", "param", name)
	}
}

// rebind points slot at a new scenario. The slot input is cleared because
// the new scenario has not reported yet.
func (d *Daemon) rebind(ctx context.Context, slot domain.Slot, value string) {
	ctx = logger.WithKV(ctx, "slot", slot)

	scenario, bound, err := gateway.ParseScenario(value)
	if err != nil {
		logger.WarnKV(ctx, "Invalid scenario, slot left unbound", "value", value, "error", err)
	}

	if current, _, ok := d.gateway.Binding(slot); ok && bound && current == scenario {
		return
	}

	d.gateway.Unbind(ctx, slot)
	d.setInput(ctx, slot, false)

	if !bound {
		return
	}

	if err = d.gateway.Subscribe(ctx, slot, scenario); err != nil {
		logger.ErrorKV(ctx, "Scenario subscription failed, slot left unbound", "scenario", scenario, "error", err)
	}
}

// setCredentials updates the control-plane credentials and redraws the overlays.
func (d *Daemon) setCredentials(ctx context.Context, username, password string) {
	if username == d.username && password == d.password {
		return
	}

	d.username, d.password = username, password
	d.control.SetCredentials(username, password)

	if !d.control.HasCredentials() {
		logger.Info(ctx, "Control-plane credentials incomplete, overlays paused")
		return
	}

	logger.InfoKV(ctx, "Control-plane credentials updated", "username", username)

	d.initOverlays(ctx)
}

// initOverlays clears overlays left by earlier runs and shows the current color.
// The overlay drawn under the previous credentials is removed first, its identity
// may lie outside the swept range.
func (d *Daemon) initOverlays(ctx context.Context) {
	d.hideOverlay(ctx)
	d.overlays.RemoveAllKnown(ctx, d.cfg.Overlay.SweepMaxIdentity)

	if d.cfg.Overlay.UploadAssets {
		d.overlays.UploadAssets(ctx)
	}

	d.showColor(ctx)
}

// hideOverlay removes the visible overlay, if any.
func (d *Daemon) hideOverlay(ctx context.Context) {
	color, ok := d.overlays.Active()
	if !ok {
		return
	}

	if err := d.overlays.Deactivate(ctx, color); err != nil {
		logger.WarnKV(ctx, "Overlay removal failed", "color", color, "error", err)
	}
}

// onScenario feeds a scenario event into the state machine.
func (d *Daemon) onScenario(ctx context.Context, event gateway.ScenarioEvent) {
	if !d.gateway.IsCurrent(event) {
		logger.DebugKV(ctx, "Stale scenario event dropped", "slot", event.Slot)
		return
	}

	logger.DebugKV(ctx, "Scenario event", "slot", event.Slot, "active", event.Active)

	d.setInput(ctx, event.Slot, event.Active)
}

// setInput updates one input and applies the resulting transition.
func (d *Daemon) setInput(ctx context.Context, slot domain.Slot, active bool) {
	if d.machine.State().Input(slot) == active {
		return
	}

	transition, err := d.machine.Set(slot, active, d.now())
	if err != nil {
		logger.ErrorKV(ctx, "Input rejected", "slot", slot, "error", err)
		return
	}

	current := d.machine.State()
	d.states.Publish(current)

	if transition == domain.None {
		return
	}

	d.applyTransition(ctx, transition, current)
}

// applyTransition performs the side effects of one combined alarm edge.
func (d *Daemon) applyTransition(ctx context.Context, transition domain.Transition, current *domain.State) {
	logger.InfoKV(ctx, "Combined alarm changed", "transition", transition)

	d.metrics.Transitions.WithLabelValues(transition.String()).Inc()
	d.metrics.SetCombined(current.Combined)

	d.showColor(ctx)

	if err := d.gateway.Publish(ctx, current.Combined, current.Timestamp); err != nil {
		logger.ErrorKV(ctx, "Combined alarm not published", "error", err)
	}

	d.save(ctx, current)
}

// showColor draws the overlay for the current state once credentials are known.
func (d *Daemon) showColor(ctx context.Context) {
	if !d.control.HasCredentials() {
		return
	}

	color := domain.ColorFor(d.machine.Combined())

	if _, err := d.overlays.Activate(ctx, color); err != nil {
		logger.ErrorKV(ctx, "Overlay not shown", "color", color, "error", err)
	}
}

// onPreset starts the wiper when the camera reaches the wiper preset.
func (d *Daemon) onPreset(ctx context.Context, event gateway.PresetEvent) {
	logger.DebugKV(ctx, "Preset event", "preset", event.Preset, "reached", event.Reached)

	if !d.gateway.TriggersWiper(event) {
		return
	}

	err := d.control.StartWiper(ctx, d.cfg.Wiper.ID, d.cfg.Wiper.Duration)
	d.metrics.WiperRuns.WithLabelValues(metrics.Result(err)).Inc()

	if err != nil {
		logger.ErrorKV(ctx, "Wiper not started", "preset", event.Preset, "error", err)
		return
	}

	logger.InfoKV(ctx, "Wiper started", "preset", event.Preset, "duration", d.cfg.Wiper.Duration)
}
