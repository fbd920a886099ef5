package daemon

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/apd-alarms/internal/config"
	"github.com/oshokin/apd-alarms/internal/control"
	domain "github.com/oshokin/apd-alarms/internal/domain/alarm"
	"github.com/oshokin/apd-alarms/internal/platform"
	"github.com/oshokin/apd-alarms/internal/platform/memory"
	"github.com/oshokin/apd-alarms/internal/repository/params"
	"github.com/oshokin/apd-alarms/internal/repository/state"
	"github.com/oshokin/apd-alarms/internal/service/gateway"
)

var errTestDeclare = errors.New("declare refused")

// fakeControl records control-plane calls like "add red_quarter.ovl", "remove 101" or "wiper 0 30s".
type fakeControl struct {
	mu       sync.Mutex
	calls    []string
	username string
	password string
	nextID   int
}

func newFakeControl() *fakeControl {
	return &fakeControl{nextID: 100}
}

func (f *fakeControl) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, call)
}

func (f *fakeControl) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.calls...)
}

func (f *fakeControl) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = nil
}

func (f *fakeControl) CreateOverlay(_ context.Context, assetPath string) error {
	f.record("upload " + path.Base(assetPath))

	return nil
}

func (f *fakeControl) AddImage(_ context.Context, overlayPath string, _ control.Position, _ int) (int, error) {
	f.record("add " + path.Base(overlayPath))

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++

	return f.nextID, nil
}

func (f *fakeControl) RemoveOverlay(_ context.Context, identity int) error {
	f.record(fmt.Sprintf("remove %d", identity))

	return nil
}

func (f *fakeControl) SetCredentials(username, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.username, f.password = username, password
}

func (f *fakeControl) HasCredentials() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.username != "" && f.password != ""
}

func (f *fakeControl) StartWiper(_ context.Context, id int, duration time.Duration) error {
	f.record(fmt.Sprintf("wiper %d %s", id, duration))

	return nil
}

// fakeParams is an in-memory parameter store.
type fakeParams struct {
	mu        sync.Mutex
	values    map[string]string
	callbacks []params.ChangeFunc
}

func newFakeParams(values map[string]string) *fakeParams {
	return &fakeParams{values: values}
}

func (f *fakeParams) All() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	values := make(map[string]string, len(f.values))
	for name, value := range f.values {
		values[name] = value
	}

	return values
}

func (f *fakeParams) OnChange(callback params.ChangeFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.callbacks = append(f.callbacks, callback)
}

func (f *fakeParams) set(name, value string) {
	f.mu.Lock()
	f.values[name] = value
	callbacks := append([]params.ChangeFunc(nil), f.callbacks...)
	f.mu.Unlock()

	for _, callback := range callbacks {
		callback(name, value)
	}
}

// fakeRepository keeps the state in memory.
type fakeRepository struct {
	mu    sync.Mutex
	state *domain.State
}

func (f *fakeRepository) Load(context.Context) (*domain.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == nil {
		return nil, state.ErrNotFound
	}

	return f.state.Clone(), nil
}

func (f *fakeRepository) Save(_ context.Context, s *domain.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state = s.Clone()

	return nil
}

// harness bundles a daemon with its fakes.
type harness struct {
	daemon   *Daemon
	platform *memory.Platform
	control  *fakeControl
	params   *fakeParams
	repo     *fakeRepository
}

func newHarness(values map[string]string) *harness {
	h := &harness{
		platform: memory.New(),
		control:  newFakeControl(),
		params:   newFakeParams(values),
		repo:     new(fakeRepository),
	}

	h.daemon = New(&Deps{
		Config:     config.Defaults(),
		Params:     h.params,
		Platform:   h.platform,
		Control:    h.control,
		Repository: h.repo,
	})

	return h
}

// boot starts the daemon without the loop and applies the initial parameters.
func (h *harness) boot(t *testing.T) {
	t.Helper()

	require.NoError(t, h.daemon.start(context.Background()))
	h.drain()
}

// drain handles every queued event on the calling goroutine.
func (h *harness) drain() {
	for {
		select {
		case event := <-h.daemon.events:
			h.daemon.handle(context.Background(), event)
		default:
			return
		}
	}
}

// scenario injects a scenario event for the given scenario identifier.
func (h *harness) scenario(id int, active bool) int {
	value := "0"
	if active {
		value = "1"
	}

	return h.platform.Inject(context.Background(), &platform.Event{
		Topic: scenarioTopic(id),
		Data:  map[string]string{"active": value},
	})
}

// preset injects a preset event.
func (h *harness) preset(token int, reached bool) {
	value := "0"
	if reached {
		value = "1"
	}

	h.platform.Inject(context.Background(), &platform.Event{
		Topic:  gateway.DefaultPresetTopic,
		Source: map[string]string{"PresetToken": fmt.Sprint(token)},
		Data:   map[string]string{"on_preset": value},
	})
}

// sentValues returns the published combined values.
func (h *harness) sentValues() []string {
	sent := h.platform.SentValues()
	values := make([]string, 0, len(sent))

	for _, s := range sent {
		values = append(values, s.Value)
	}

	return values
}

func scenarioTopic(id int) string {
	return fmt.Sprintf(gateway.DefaultScenarioTopic, id)
}

func bothScenarios() map[string]string {
	return map[string]string{
		params.Scenario1: "1",
		params.Scenario2: "2",
		params.Username:  "root",
		params.Password:  "secret",
	}
}

// TestStart_DeclaresAndSubscribes checks the startup order and initial bindings.
func TestStart_DeclaresAndSubscribes(t *testing.T) {
	t.Parallel()

	h := newHarness(bothScenarios())
	h.boot(t)

	require.Equal(t, []string{
		"declare " + gateway.DefaultOutputTopic,
		"subscribe " + gateway.DefaultPresetTopic,
		"subscribe " + scenarioTopic(1),
		"subscribe " + scenarioTopic(2),
	}, h.platform.Calls())
	require.Equal(t, []string{"0"}, h.sentValues())

	// Credentials arrived, so stale overlays are swept and green is shown.
	require.Equal(t, []string{
		"remove 1", "remove 2", "remove 3", "remove 4", "remove 5", "remove 6",
		"add green_quarter.ovl",
	}, h.control.Calls())
}

// TestStart_DeclareFailureIsFatal stops the daemon when the output event cannot be declared.
func TestStart_DeclareFailureIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(bothScenarios())
	h.platform.FailDeclare = errTestDeclare

	require.ErrorIs(t, h.daemon.Run(context.Background()), errTestDeclare)
	require.Zero(t, h.platform.Subscriptions())
}

// TestTransitions_OneOverlayAndPublishPerEdge drives both inputs through a full cycle.
func TestTransitions_OneOverlayAndPublishPerEdge(t *testing.T) {
	t.Parallel()

	h := newHarness(bothScenarios())
	h.boot(t)
	h.control.Reset()

	// First input alone does not trigger.
	require.Equal(t, 1, h.scenario(1, true))
	h.drain()
	require.Equal(t, []string{"0"}, h.sentValues())
	require.Empty(t, h.control.Calls())

	// Both inputs: one activation.
	h.scenario(2, true)
	h.scenario(2, true)
	h.drain()
	require.Equal(t, []string{"0", "1"}, h.sentValues())
	require.Equal(t, []string{"remove 101", "add red_quarter.ovl"}, h.control.Calls())
	require.True(t, h.daemon.states.Latest().Combined)

	saved, err := h.repo.Load(context.Background())
	require.NoError(t, err)
	require.True(t, saved.Combined)

	// Dropping one input: one deactivation.
	h.control.Reset()
	h.scenario(1, false)
	h.scenario(1, false)
	h.drain()
	require.Equal(t, []string{"0", "1", "0"}, h.sentValues())
	require.Equal(t, []string{"remove 102", "add green_quarter.ovl"}, h.control.Calls())
	require.False(t, h.daemon.states.Latest().Combined)
	require.True(t, h.daemon.states.Latest().Scenario2Active)
}

// TestRebind_UnsubscribesOnceBeforeSubscribe rescopes a slot and clears its input.
func TestRebind_UnsubscribesOnceBeforeSubscribe(t *testing.T) {
	t.Parallel()

	h := newHarness(bothScenarios())
	h.boot(t)

	h.scenario(1, true)
	h.scenario(2, true)
	h.drain()
	require.True(t, h.daemon.machine.Combined())

	_, old, ok := h.daemon.gateway.Binding(domain.Slot1)
	require.True(t, ok)

	before := len(h.platform.Calls())

	h.params.set(params.Scenario1, "5")
	h.drain()

	require.Equal(t, []string{
		fmt.Sprintf("unsubscribe %d", old),
		"subscribe " + scenarioTopic(5),
	}, h.platform.Calls()[before:])
	require.Equal(t, 3, h.platform.Subscriptions())

	// The new scenario has not reported yet, so the alarm drops.
	require.False(t, h.daemon.machine.Combined())
	require.Equal(t, []string{"0", "1", "0"}, h.sentValues())

	// The old scenario no longer reaches the daemon.
	require.Zero(t, h.scenario(1, true))

	// Setting the same scenario again is a no-op.
	before = len(h.platform.Calls())

	h.params.set(params.Scenario1, "5")
	h.drain()
	require.Len(t, h.platform.Calls(), before)
}

// TestRebind_InvalidValueLeavesSlotUnbound unsubscribes and does not resubscribe.
func TestRebind_InvalidValueLeavesSlotUnbound(t *testing.T) {
	t.Parallel()

	h := newHarness(bothScenarios())
	h.boot(t)

	h.params.set(params.Scenario2, "abc")
	h.drain()

	_, _, ok := h.daemon.gateway.Binding(domain.Slot2)
	require.False(t, ok)
	require.Equal(t, 2, h.platform.Subscriptions())

	h.params.set(params.Scenario2, "")
	h.drain()
	require.Equal(t, 2, h.platform.Subscriptions())
}

// TestScenario_StaleEventDropped ignores events queued before a rebind.
func TestScenario_StaleEventDropped(t *testing.T) {
	t.Parallel()

	h := newHarness(bothScenarios())
	h.boot(t)

	h.scenario(1, true)
	stale := <-h.daemon.events

	h.daemon.handle(context.Background(), paramChanged{name: params.Scenario1, value: "7"})
	h.daemon.handle(context.Background(), stale)

	require.False(t, h.daemon.machine.State().Scenario1Active)
}

// TestPreset_WiperOnlyOnWiperPreset runs the wiper exactly once for preset 2.
func TestPreset_WiperOnlyOnWiperPreset(t *testing.T) {
	t.Parallel()

	h := newHarness(bothScenarios())
	h.boot(t)
	h.control.Reset()

	h.preset(1, true)
	h.drain()
	require.Empty(t, h.control.Calls())

	h.preset(2, true)
	h.preset(2, false)
	h.drain()
	require.Equal(t, []string{"wiper 0 30s"}, h.control.Calls())
}

// TestCredentials_OverlaysWaitForBoth keeps the overlays untouched until both credentials exist.
func TestCredentials_OverlaysWaitForBoth(t *testing.T) {
	t.Parallel()

	h := newHarness(map[string]string{
		params.Scenario1: "1",
		params.Scenario2: "2",
		params.Username:  "root",
		params.Password:  "",
	})
	h.boot(t)

	h.scenario(1, true)
	h.scenario(2, true)
	h.drain()

	require.Equal(t, []string{"0", "1"}, h.sentValues())
	require.Empty(t, h.control.Calls())

	h.params.set(params.Password, "secret")
	h.drain()

	calls := h.control.Calls()
	require.Equal(t, "add red_quarter.ovl", calls[len(calls)-1])
}

// TestCredentials_ChangeReplacesVisibleOverlay removes the overlay drawn under the old
// credentials before sweeping, so only one color stays on screen.
func TestCredentials_ChangeReplacesVisibleOverlay(t *testing.T) {
	t.Parallel()

	sweep := []string{"remove 1", "remove 2", "remove 3", "remove 4", "remove 5", "remove 6"}

	h := newHarness(bothScenarios())
	h.boot(t)

	green, ok := h.daemon.overlays.Handle(domain.Green)
	require.True(t, ok)
	require.Equal(t, 101, green)

	h.control.Reset()
	h.params.set(params.Password, "rotated")
	h.drain()

	want := append([]string{"remove 101"}, sweep...)
	require.Equal(t, append(want, "add green_quarter.ovl"), h.control.Calls())

	// With the alarm active the red overlay is replaced the same way.
	h.scenario(1, true)
	h.scenario(2, true)
	h.drain()

	red, ok := h.daemon.overlays.Handle(domain.Red)
	require.True(t, ok)

	h.control.Reset()
	h.params.set(params.Username, "operator")
	h.drain()

	want = append([]string{fmt.Sprintf("remove %d", red)}, sweep...)
	require.Equal(t, append(want, "add red_quarter.ovl"), h.control.Calls())

	_, ok = h.daemon.overlays.Handle(domain.Green)
	require.False(t, ok)
}

// TestStart_ClearsLevelLeftByPreviousRun rewrites the stale record after an unclean exit
// without sending more than the declared false level.
func TestStart_ClearsLevelLeftByPreviousRun(t *testing.T) {
	t.Parallel()

	h := newHarness(bothScenarios())
	require.NoError(t, h.repo.Save(context.Background(), &domain.State{
		Timestamp:       time.Unix(100, 0),
		Scenario1Active: true,
		Scenario2Active: true,
		Combined:        true,
	}))

	h.boot(t)

	require.Equal(t, []string{"0"}, h.sentValues())

	saved, err := h.repo.Load(context.Background())
	require.NoError(t, err)
	require.False(t, saved.Combined)
}

// TestRun_ShutdownCleansUp removes overlays and subscriptions on cancellation.
func TestRun_ShutdownCleansUp(t *testing.T) {
	t.Parallel()

	h := newHarness(bothScenarios())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- h.daemon.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		calls := h.control.Calls()

		return h.platform.Subscriptions() == 3 && len(calls) > 0 && calls[len(calls)-1] == "add green_quarter.ovl"
	}, 5*time.Second, 10*time.Millisecond)

	h.control.Reset()
	cancel()

	require.NoError(t, <-done)
	require.Zero(t, h.platform.Subscriptions())
	require.Equal(t, []string{
		"remove 101",
		"remove 1", "remove 2", "remove 3", "remove 4", "remove 5", "remove 6",
	}, h.control.Calls())

	// Late producers do not block once the dispatcher is gone.
	h.params.set(params.Scenario1, "9")
}
