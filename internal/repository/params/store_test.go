package params

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestStore_SetGetPersist stores a value, reads it back and reopens the file.
func TestStore_SetGetPersist(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "params.yaml")

	s, err := Open(path)
	require.NoError(t, err)

	value, err := s.Get(Scenario1)
	require.NoError(t, err)
	require.Empty(t, value)

	require.NoError(t, s.Set(Scenario1, "3"))
	require.NoError(t, s.Set(Username, "root"))

	reopened, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		Scenario1: "3",
		Scenario2: "",
		Username:  "root",
		Password:  "",
	}, reopened.All())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

// TestStore_UnknownParameter rejects names outside the fixed set.
func TestStore_UnknownParameter(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "params.yaml"))
	require.NoError(t, err)

	_, err = s.Get("Scenario3")
	require.ErrorIs(t, err, ErrUnknownParameter)
	require.ErrorIs(t, s.Set("Scenario3", "1"), ErrUnknownParameter)
	require.NotContains(t, s.All(), "Scenario3")
}

// TestStore_OnChange notifies only on actual changes.
func TestStore_OnChange(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "params.yaml"))
	require.NoError(t, err)

	var changes []string

	s.OnChange(func(name, value string) {
		changes = append(changes, name+"="+value)
	})

	require.NoError(t, s.Set(Scenario2, "4"))
	require.NoError(t, s.Set(Scenario2, "4"))
	require.NoError(t, s.Set(Password, "secret"))

	require.Equal(t, []string{"Scenario2=4", "Password=secret"}, changes)
}

// TestStore_OnChangeFollowsCommitOrder holds the callback of one change while a later
// change is stored, and expects the later value to be delivered last.
func TestStore_OnChangeFollowsCommitOrder(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "params.yaml"))
	require.NoError(t, err)

	var (
		mu        sync.Mutex
		delivered []string
	)

	entered := make(chan struct{})
	release := make(chan struct{})

	s.OnChange(func(_, value string) {
		mu.Lock()
		delivered = append(delivered, value)
		mu.Unlock()

		if value == "3" {
			close(entered)
			<-release
		}
	})

	var wg sync.WaitGroup

	errs := make(chan error, 2)

	wg.Go(func() { errs <- s.Set(Scenario1, "3") })

	<-entered

	wg.Go(func() { errs <- s.Set(Scenario1, "4") })

	require.Eventually(t, func() bool {
		value, getErr := s.Get(Scenario1)

		return getErr == nil && value == "4"
	}, time.Second, time.Millisecond)

	mu.Lock()
	require.Equal(t, []string{"3"}, delivered)
	mu.Unlock()

	close(release)
	wg.Wait()
	close(errs)

	for setErr := range errs {
		require.NoError(t, setErr)
	}

	require.Equal(t, []string{"3", "4"}, delivered)

	value, err := s.Get(Scenario1)
	require.NoError(t, err)
	require.Equal(t, "4", value)

	_, err = os.Stat(s.path + ".tmp")
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestStore_WriteFailureKeepsOldValue rolls back when the file cannot be written.
func TestStore_WriteFailureKeepsOldValue(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "missing-dir", "params.yaml"))
	require.NoError(t, err)

	notified := false

	s.OnChange(func(string, string) { notified = true })

	require.Error(t, s.Set(Scenario1, "1"))

	value, err := s.Get(Scenario1)
	require.NoError(t, err)
	require.Empty(t, value)
	require.False(t, notified)
}

// TestOpen_Malformed rejects files that are not a YAML mapping.
func TestOpen_Malformed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- a\n- b\n"), 0o600))

	_, err := Open(path)
	require.Error(t, err)
}
