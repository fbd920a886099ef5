package alarm

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	domain "github.com/oshokin/apd-alarms/internal/domain/alarm"
)

var errStopWatching = errors.New("stop watching")

// startServer serves a broadcaster over bufconn and returns a connected client.
func startServer(t *testing.T, states *Broadcaster) *Client {
	t.Helper()

	listener := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- Serve(ctx, listener, NewServer(states))
	}()

	client, err := Dial(context.Background(), "passthrough:///bufnet",
		WithCallTimeout(time.Second),
		WithDialOptions(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		})),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, client.Close())
		cancel()
		require.NoError(t, <-done)
	})

	return client
}

// TestDial_ValidatesAddress verifies that Dial rejects empty addresses.
func TestDial_ValidatesAddress(t *testing.T) {
	t.Parallel()

	c, err := Dial(context.Background(), "")
	require.ErrorIs(t, err, errAddressRequired)
	require.Nil(t, c)
}

// TestClient_callContext checks timeout vs cancel-only behavior of callContext.
func TestClient_callContext(t *testing.T) {
	t.Parallel()

	c := &Client{
		callTimeout: 0,
	}

	ctx, cancel := c.callContext(context.Background())
	cancel()

	require.NotNil(t, ctx)

	c.callTimeout = 10 * time.Millisecond

	ctx, cancel = c.callContext(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(10*time.Millisecond), deadline, 30*time.Millisecond)
}

// TestGetAlarmState returns the latest published state.
func TestGetAlarmState(t *testing.T) {
	t.Parallel()

	states := NewBroadcaster(nil)
	client := startServer(t, states)

	state, err := client.GetAlarmState(context.Background())
	require.NoError(t, err)
	require.False(t, state.Combined)
	require.True(t, state.Timestamp.IsZero())

	now := time.Now().UTC().Truncate(time.Millisecond)
	states.Publish(&domain.State{Timestamp: now, Scenario1Active: true, Scenario2Active: true, Combined: true})

	state, err = client.GetAlarmState(context.Background())
	require.NoError(t, err)
	require.True(t, state.Combined)
	require.True(t, state.Scenario2Active)
	require.True(t, now.Equal(state.Timestamp))
}

// TestWatchAlarmState streams the current state and then changes.
func TestWatchAlarmState(t *testing.T) {
	t.Parallel()

	states := NewBroadcaster(&domain.State{Scenario1Active: true})
	client := startServer(t, states)

	var received []bool

	err := client.Watch(context.Background(), func(state *domain.State) error {
		received = append(received, state.Combined)

		switch len(received) {
		case 1:
			require.True(t, state.Scenario1Active)
			states.Publish(&domain.State{Scenario1Active: true, Scenario2Active: true, Combined: true})
		case 2:
			states.Publish(&domain.State{Scenario2Active: true})
		case 3:
			return errStopWatching
		}

		return nil
	})
	require.ErrorIs(t, err, errStopWatching)
	require.Equal(t, []bool{false, true, false}, received)
}

// TestWatchAlarmState_Canceled ends the stream with the context.
func TestWatchAlarmState_Canceled(t *testing.T) {
	t.Parallel()

	client := startServer(t, NewBroadcaster(nil))
	ctx, cancel := context.WithCancel(context.Background())

	err := client.Watch(ctx, func(*domain.State) error {
		cancel()

		return nil
	})
	require.Error(t, err)
	require.Equal(t, codes.Canceled, status.Code(errors.Unwrap(err)))
}

// TestBroadcaster_DropsOldestForSlowWatchers keeps the newest state deliverable.
func TestBroadcaster_DropsOldestForSlowWatchers(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil)
	updates, cancel := b.Subscribe()

	for i := range watchBuffer + 3 {
		b.Publish(&domain.State{Timestamp: time.Unix(int64(i), 0)})
	}

	var last *domain.State

	for len(updates) > 0 {
		last = <-updates
	}

	require.Equal(t, int64(watchBuffer+2), last.Timestamp.Unix())
	require.Equal(t, 1, b.Watchers())

	cancel()
	cancel()
	require.Zero(t, b.Watchers())
}
