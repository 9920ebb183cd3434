// ABOUTME: Shared behaviour tests run against every Registry implementation
// ABOUTME: Also checks that the SQLite registry survives a reopen

package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wardlink/internal/session"
)

var (
	stationA = session.Contact{Identity: "station-a", Address: "10.0.0.1"}
	stationB = session.Contact{Identity: "station-b", Address: "10.0.0.2"}
	carerA   = session.Contact{Identity: "carer-a", Address: "10.0.1.1"}
	carerB   = session.Contact{Identity: "carer-b", Address: "10.0.1.2"}
)

func implementations(t *testing.T) map[string]func(t *testing.T) Registry {
	return map[string]func(t *testing.T) Registry{
		"memory": func(t *testing.T) Registry { return NewMemoryRegistry() },
		"sqlite": func(t *testing.T) Registry {
			r, err := NewSQLiteRegistry(filepath.Join(t.TempDir(), "registry.db"), nil)
			require.NoError(t, err)
			t.Cleanup(func() { r.Close() })
			return r
		},
		"sqlite-memory": func(t *testing.T) Registry {
			r, err := NewSQLiteRegistry(MemoryPath, nil)
			require.NoError(t, err)
			t.Cleanup(func() { r.Close() })
			return r
		},
	}
}

func forEach(t *testing.T, fn func(t *testing.T, r Registry)) {
	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func TestRegistry_UnknownResource(t *testing.T) {
	forEach(t, func(t *testing.T, r Registry) {
		ctx := context.Background()

		_, err := r.Coordinator(ctx, "res-1")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = r.Requesters(ctx, "res-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRegistry_AssignCoordinatorUpserts(t *testing.T) {
	forEach(t, func(t *testing.T, r Registry) {
		ctx := context.Background()

		require.NoError(t, r.AssignCoordinator(ctx, "res-1", stationA))
		c, err := r.Coordinator(ctx, "res-1")
		require.NoError(t, err)
		assert.Equal(t, stationA, c)

		require.NoError(t, r.AssignCoordinator(ctx, "res-1", stationB))
		c, err = r.Coordinator(ctx, "res-1")
		require.NoError(t, err)
		assert.Equal(t, stationB, c)
	})
}

func TestRegistry_UnassignCoordinatorMatchesIdentity(t *testing.T) {
	forEach(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		require.NoError(t, r.AssignCoordinator(ctx, "res-1", stationA))

		require.NoError(t, r.UnassignCoordinator(ctx, "res-1", stationB))
		c, err := r.Coordinator(ctx, "res-1")
		require.NoError(t, err)
		assert.Equal(t, stationA, c, "a different coordinator must not unassign")

		require.NoError(t, r.UnassignCoordinator(ctx, "res-1", stationA))
		_, err = r.Coordinator(ctx, "res-1")
		assert.ErrorIs(t, err, ErrNotFound)

		// Unassigning on an unknown resource is a no-op.
		assert.NoError(t, r.UnassignCoordinator(ctx, "res-404", stationA))
	})
}

func TestRegistry_AddRequesterOncePerIdentity(t *testing.T) {
	forEach(t, func(t *testing.T, r Registry) {
		ctx := context.Background()

		require.NoError(t, r.AddRequester(ctx, "res-1", carerA))
		require.NoError(t, r.AddRequester(ctx, "res-1", carerB))
		require.NoError(t, r.AddRequester(ctx, "res-1", session.Contact{Identity: "carer-a", Address: "10.9.9.9"}))

		got, err := r.Requesters(ctx, "res-1")
		require.NoError(t, err)
		assert.Equal(t, []session.Contact{carerA, carerB}, got)

		// A resource created by AddRequester has no coordinator yet.
		_, err = r.Coordinator(ctx, "res-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRegistry_RemoveRequesterFromAllResources(t *testing.T) {
	forEach(t, func(t *testing.T, r Registry) {
		ctx := context.Background()

		require.NoError(t, r.AddRequester(ctx, "res-1", carerA))
		require.NoError(t, r.AddRequester(ctx, "res-1", carerB))
		require.NoError(t, r.AddRequester(ctx, "res-2", carerA))

		require.NoError(t, r.RemoveRequester(ctx, "carer-a"))

		got, err := r.Requesters(ctx, "res-1")
		require.NoError(t, err)
		assert.Equal(t, []session.Contact{carerB}, got)

		got, err = r.Requesters(ctx, "res-2")
		require.NoError(t, err)
		assert.Empty(t, got)

		assert.NoError(t, r.RemoveRequester(ctx, "nobody"))
	})
}

func TestRegistry_RequestersAreCopies(t *testing.T) {
	forEach(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		require.NoError(t, r.AddRequester(ctx, "res-1", carerA))

		got, err := r.Requesters(ctx, "res-1")
		require.NoError(t, err)
		got[0].Identity = "mutated"

		again, err := r.Requesters(ctx, "res-1")
		require.NoError(t, err)
		assert.Equal(t, "carer-a", again[0].Identity)
	})
}

func TestSQLiteRegistry_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "registry.db")

	r, err := NewSQLiteRegistry(path, nil)
	require.NoError(t, err)
	defer r.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestSQLiteRegistry_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	ctx := context.Background()

	r, err := NewSQLiteRegistry(path, nil)
	require.NoError(t, err)
	require.NoError(t, r.AssignCoordinator(ctx, "res-1", stationA))
	require.NoError(t, r.AddRequester(ctx, "res-1", carerA))
	require.NoError(t, r.Close())

	r, err = NewSQLiteRegistry(path, nil)
	require.NoError(t, err)
	defer r.Close()

	c, err := r.Coordinator(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, stationA, c)

	got, err := r.Requesters(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, []session.Contact{carerA}, got)
}
