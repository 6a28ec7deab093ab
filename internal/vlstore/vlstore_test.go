package vlstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vl.dat")
	s, err := Open(path, 64, 256, 8)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAllocateStoreReadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	id, err := s.Allocate(10)
	require.NoError(t, err)

	require.NoError(t, s.Store(id, 0, []byte("0123456789")))

	out := make([]byte, 10)
	require.NoError(t, s.Read(id, 0, 10, out))
	require.Equal(t, "0123456789", string(out))
}

func TestRefCountLifecycle(t *testing.T) {
	s := openTestStore(t)

	id, err := s.Allocate(8)
	require.NoError(t, err)

	count, ok := s.RefCount(id)
	require.True(t, ok)
	require.Equal(t, uint32(1), count)

	require.NoError(t, s.IncRef(id))
	count, _ = s.RefCount(id)
	require.Equal(t, uint32(2), count)

	require.NoError(t, s.DecRef(id))
	count, _ = s.RefCount(id)
	require.Equal(t, uint32(1), count)

	require.NoError(t, s.DecRef(id))
	_, ok = s.RefCount(id)
	require.False(t, ok, "extent should be deallocated once refcount hits zero")
}

func TestTruncateGrowPreservesData(t *testing.T) {
	s := openTestStore(t)

	id, err := s.Allocate(4)
	require.NoError(t, err)
	require.NoError(t, s.Store(id, 0, []byte("abcd")))

	require.NoError(t, s.Truncate(id, 200)) // forces reallocation past granule size

	out := make([]byte, 4)
	require.NoError(t, s.Read(id, 0, 4, out))
	require.Equal(t, "abcd", string(out))
}

func TestSyncPersistsIndexAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vl.dat")
	s, err := Open(path, 64, 256, 8)
	require.NoError(t, err)

	id, err := s.Allocate(16)
	require.NoError(t, err)
	require.NoError(t, s.Store(id, 0, []byte("persisted-extent")))
	require.NoError(t, s.Sync())
	require.NoError(t, s.Close())

	reopened, err := Open(path, 64, 256, 8)
	require.NoError(t, err)
	defer reopened.Close()

	count, ok := reopened.RefCount(id)
	require.True(t, ok)
	require.Equal(t, uint32(1), count)

	out := make([]byte, 16)
	require.NoError(t, reopened.Read(id, 0, 16, out))
	require.Equal(t, "persisted-extent", string(out))
}
