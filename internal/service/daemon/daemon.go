package daemon

import (
	"context"
	"errors"
	"time"

	alarmapi "github.com/oshokin/apd-alarms/internal/api/grpc/alarm"
	"github.com/oshokin/apd-alarms/internal/config"
	domain "github.com/oshokin/apd-alarms/internal/domain/alarm"
	"github.com/oshokin/apd-alarms/internal/logger"
	"github.com/oshokin/apd-alarms/internal/metrics"
	"github.com/oshokin/apd-alarms/internal/platform"
	"github.com/oshokin/apd-alarms/internal/repository/params"
	"github.com/oshokin/apd-alarms/internal/repository/state"
	"github.com/oshokin/apd-alarms/internal/service/gateway"
	"github.com/oshokin/apd-alarms/internal/service/overlay"
)

const (
	// queueSize bounds pending events before producers block.
	queueSize = 64
	// shutdownTimeout bounds overlay cleanup and unsubscribes on exit.
	shutdownTimeout = 10 * time.Second
)

// ControlPlane is the camera API used by the daemon.
type ControlPlane interface {
	overlay.API

	SetCredentials(username, password string)
	HasCredentials() bool
	StartWiper(ctx context.Context, id int, duration time.Duration) error
}

// Params is the operator parameter store.
type Params interface {
	All() map[string]string
	OnChange(callback params.ChangeFunc)
}

// Deps are the collaborators of a Daemon.
type Deps struct {
	// Config holds overlay, wiper and topic settings.
	Config *config.Config
	// Params provides operator parameters and change notifications.
	Params Params
	// Platform is the event system.
	Platform platform.Platform
	// Control is the camera control-plane API.
	Control ControlPlane
	// Repository persists the published alarm state, optional.
	Repository state.Repository
	// States receives every state change for API watchers, optional.
	States *alarmapi.Broadcaster
	// Metrics records daemon activity, optional.
	Metrics *metrics.Metrics
	// Now returns the current time, optional.
	Now func() time.Time
}

// paramChanged is queued when an operator parameter changes.
type paramChanged struct {
	// name is the parameter name.
	name string
	// value is the new value.
	value string
}

// Kind implements gateway.Inbound.
func (paramChanged) Kind() string { return "param" }

// Daemon is the alarm application. Everything below is owned by the dispatcher.
type Daemon struct {
	// cfg holds settings.
	cfg *config.Config
	// params is the parameter store.
	params Params
	// control is the camera API.
	control ControlPlane
	// repo persists the published state.
	repo state.Repository
	// states fans state changes out to watchers.
	states *alarmapi.Broadcaster
	// metrics records activity.
	metrics *metrics.Metrics
	// now returns the current time.
	now func() time.Time

	// machine combines the scenario inputs.
	machine *domain.Machine
	// gateway owns platform subscriptions.
	gateway *gateway.Gateway
	// overlays shows the alarm color.
	overlays *overlay.Controller
	// username is the current control-plane user.
	username string
	// password is the current control-plane password.
	password string

	// events is the dispatcher queue.
	events chan gateway.Inbound
	// stopped is closed when the dispatcher exits.
	stopped chan struct{}
}

// New wires a daemon. It does not touch the platform until Run.
func New(deps *Deps) *Daemon {
	d := &Daemon{
		cfg:     deps.Config,
		params:  deps.Params,
		control: deps.Control,
		repo:    deps.Repository,
		states:  deps.States,
		metrics: deps.Metrics,
		now:     deps.Now,
		events:  make(chan gateway.Inbound, queueSize),
		stopped: make(chan struct{}),
	}

	if d.metrics == nil {
		d.metrics = metrics.New(nil)
	}

	if d.now == nil {
		d.now = time.Now
	}

	if d.states == nil {
		d.states = alarmapi.NewBroadcaster(nil)
	}

	d.machine = domain.NewMachine(d.now())

	d.gateway = gateway.New(deps.Platform, gateway.Options{
		OutputTopic:   d.cfg.Platform.OutputTopic,
		ScenarioTopic: d.cfg.Platform.ScenarioTopic,
		PresetTopic:   d.cfg.Platform.PresetTopic,
		WiperPreset:   d.cfg.Wiper.Preset,
	}, d.enqueue, d.metrics)

	d.overlays = overlay.NewController(deps.Control, overlay.Options{
		OverlayDir: d.cfg.Overlay.Dir,
		AssetDir:   d.cfg.Overlay.AssetDir,
		Position:   [2]float64{d.cfg.Overlay.PositionX, d.cfg.Overlay.PositionY},
		ZIndex:     d.cfg.Overlay.ZIndex,
	}, d.metrics)

	return d
}

// Run starts the daemon and dispatches events until ctx is canceled.
// It returns an error only when startup fails.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.start(ctx); err != nil {
		close(d.stopped)

		return err
	}

	logger.Info(ctx, "Dispatcher started")

	for {
		select {
		case <-ctx.Done():
			d.shutdown(ctx)

			return nil
		case event := <-d.events:
			d.handle(ctx, event)
		}
	}
}

// start declares the output event, restores the published level and queues the initial parameters.
func (d *Daemon) start(ctx context.Context) error {
	// Everything depends on the output event, so its failure is fatal.
	if err := d.gateway.DeclareOutputEvent(ctx); err != nil {
		return err
	}

	d.restoreLevel(ctx)
	d.states.Publish(d.machine.State())
	d.metrics.SetCombined(false)

	if err := d.gateway.SubscribePresets(ctx); err != nil {
		logger.ErrorKV(ctx, "Wiper disabled, preset subscription failed", "error", err)
	}

	// Changes racing with the snapshot below are queued after it, so the last value wins.
	d.params.OnChange(func(name, value string) {
		d.enqueue(paramChanged{name: name, value: value})
	})

	current := d.params.All()
	for _, name := range params.Names {
		d.enqueue(paramChanged{name: name, value: current[name]})
	}

	return nil
}

// restoreLevel rewrites the persisted state when the previous run ended with the alarm active.
func (d *Daemon) restoreLevel(ctx context.Context) {
	if d.repo == nil {
		return
	}

	previous, err := d.repo.Load(ctx)

	switch {
	case errors.Is(err, state.ErrNotFound):
		return
	case err != nil:
		logger.WarnKV(ctx, "Previous alarm state unreadable", "error", err)
		return
	case previous == nil || !previous.Combined:
		return
	}

	// The declaration already sent the initial false level, only the record is stale.
	logger.InfoKV(ctx, "Clearing alarm left active by previous run", "since", previous.Timestamp)

	d.save(ctx, d.machine.State())
}

// enqueue hands an event to the dispatcher. It blocks while the queue is full
// and drops the event once the dispatcher has exited.
func (d *Daemon) enqueue(event gateway.Inbound) {
	select {
	case d.events <- event:
	case <-d.stopped:
	}
}

// shutdown hides the overlays and releases subscriptions.
func (d *Daemon) shutdown(ctx context.Context) {
	close(d.stopped)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	logger.Info(ctx, "Shutting down")

	if d.control.HasCredentials() {
		d.hideOverlay(ctx)
		d.overlays.RemoveAllKnown(ctx, d.cfg.Overlay.SweepMaxIdentity)
	}

	d.gateway.Close(ctx)

	logger.Info(ctx, "Dispatcher stopped")
}

// save persists the state, logging failures.
func (d *Daemon) save(ctx context.Context, current *domain.State) {
	if d.repo == nil {
		return
	}

	if err := d.repo.Save(ctx, current); err != nil {
		logger.WarnKV(ctx, "Alarm state not persisted", "error", err)
	}
}
