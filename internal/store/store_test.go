package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s Store) {
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, "vpnConnectionStartTime", "1700000000000"))
	v, ok, err := s.Get(ctx, "vpnConnectionStartTime")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1700000000000", v)

	require.NoError(t, s.Set(ctx, "vpnConnectionStartTime", "1700000001000"))
	v, _, err = s.Get(ctx, "vpnConnectionStartTime")
	require.NoError(t, err)
	require.Equal(t, "1700000001000", v)

	require.NoError(t, s.Remove(ctx, "vpnConnectionStartTime"))
	_, ok, err = s.Get(ctx, "vpnConnectionStartTime")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Remove(ctx, "vpnConnectionStartTime"), "removing twice is fine")
}

func TestMemory(t *testing.T) {
	testStore(t, NewMemory())
}

func TestMemoryZeroValue(t *testing.T) {
	var m Memory
	require.NoError(t, m.Set(context.Background(), "k", "v"))
}

func TestMemoryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, NewMemory().Set(ctx, "k", "v"), context.Canceled)
}

func TestSQLiteInMemory(t *testing.T) {
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer s.Close()
	testStore(t, s)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	ctx := context.Background()

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "vpnConnectionStartTime", "42"))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	v, ok, err := s.Get(ctx, "vpnConnectionStartTime")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "42", v)
}
