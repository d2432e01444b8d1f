package settings

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func openTestStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteFreshDatabaseHasDefaults(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "settings.db"))

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Defaults(), got)
}

func TestSQLitePersistsAcrossSessions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "settings.db")

	first, err := OpenSQLite(path)
	require.NoError(t, err)
	offset := r3.Vec{X: 0.125, Y: -0.5, Z: -9.80665}
	require.NoError(t, first.SaveOffset(ctx, offset))
	require.NoError(t, first.SavePreferences(ctx, Preferences{Sound: false, Vibration: true}))
	// overwrite, not append
	require.NoError(t, first.SavePreferences(ctx, Preferences{Sound: false, Vibration: false}))
	require.NoError(t, first.Close())

	second := openTestStore(t, path)
	got, err := second.Load(ctx)
	require.NoError(t, err)

	want := Settings{Offset: offset, Preferences: Preferences{}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteCorruptValueFallsBack(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "settings.db"))
	_, err := s.db.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES (?, ?)`, KeyOffsetX, "not-a-number")
	require.NoError(t, err)

	_, err = s.Load(ctx)
	require.Error(t, err)
	assert.Equal(t, Defaults(), LoadOrDefault(ctx, s))
}

func TestSQLiteNonFiniteOffsetFallsBack(t *testing.T) {
	for _, value := range []string{"NaN", "+Inf", "-Inf"} {
		t.Run(value, func(t *testing.T) {
			ctx := context.Background()
			s := openTestStore(t, filepath.Join(t.TempDir(), "settings.db"))
			require.NoError(t, s.SavePreferences(ctx, Preferences{Sound: false, Vibration: true}))
			_, err := s.db.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES (?, ?)`, KeyOffsetY, value)
			require.NoError(t, err)

			_, err = s.Load(ctx)
			require.Error(t, err)
			assert.Equal(t, Defaults(), LoadOrDefault(ctx, s))
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, Defaults(), LoadOrDefault(ctx, nil))

	m := NewMemoryStore()
	require.NoError(t, m.SavePreferences(ctx, Preferences{Sound: false, Vibration: true}))
	assert.False(t, LoadOrDefault(ctx, m).Preferences.Sound)

	m.LoadErr = errors.New("permission denied")
	assert.Equal(t, Defaults(), LoadOrDefault(ctx, m))
}

func TestMemoryStoreSaveError(t *testing.T) {
	m := NewMemoryStore()
	m.SaveErr = errors.New("read-only")
	assert.Error(t, m.SaveOffset(context.Background(), r3.Vec{X: 1}))
	assert.Equal(t, 1, m.Saves)

	m.SaveErr = nil
	got, err := m.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, r3.Vec{}, got.Offset)
}
