package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/apd-alarms/internal/domain/alarm"
)

// TestFileRepository_NotFound verifies Load returns ErrNotFound for missing file.
func TestFileRepository_NotFound(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(filepath.Join(t.TempDir(), "missing.json"))
	s, err := repo.Load(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
	require.Nil(t, s)
}

// TestFileRepository_SaveLoad_Roundtrip ensures Save followed by Load returns equal state.
func TestFileRepository_SaveLoad_Roundtrip(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "state.json")
	repo := NewFileRepository(file)

	want := &domain.State{
		Timestamp:       time.Now().UTC().Truncate(time.Millisecond),
		Scenario1Active: true,
		Scenario2Active: true,
		Combined:        true,
	}

	require.NoError(t, repo.Save(context.Background(), want))

	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, want.Combined, got.Combined)
	require.Equal(t, want.Scenario1Active, got.Scenario1Active)
	require.Equal(t, want.Scenario2Active, got.Scenario2Active)
	require.True(t, want.Timestamp.Equal(got.Timestamp))

	_, err = os.Stat(file + ".tmp")
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestFileRepository_Malformed rejects documents without the combined flag.
func TestFileRepository_Malformed(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"scenario1_active": true}`), 0o600))

	_, err := NewFileRepository(file).Load(context.Background())
	require.ErrorIs(t, err, ErrMalformedState)

	require.NoError(t, os.WriteFile(file, []byte(`not json`), 0o600))

	_, err = NewFileRepository(file).Load(context.Background())
	require.Error(t, err)
}
