package storage

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltStore_Lifecycle(t *testing.T) {
	fileAsDir, _ := unusableDirs(t)
	dir := t.TempDir()

	store, err := OpenBoltStore([]string{fileAsDir, dir}, "license.db", nil)
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, filepath.Join(dir, "license.db"), store.Path())
	assert.True(t, store.Writable("trial.json"))

	_, err = store.Read("trial.json")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Create("trial.json", []byte("first"))
	require.NoError(t, err)
	_, err = store.Create("trial.json", []byte("second"))
	assert.ErrorIs(t, err, ErrExists)

	data, err := store.Read("trial.json")
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	_, err = store.Write("trial.json", []byte("third"))
	require.NoError(t, err)
	data, err = store.Read("trial.json")
	require.NoError(t, err)
	assert.Equal(t, "third", string(data))

	require.NoError(t, store.Delete("trial.json"))
	assert.ErrorIs(t, store.Delete("trial.json"), ErrNotFound)
}

func TestBoltStore_PrefersExistingDatabase(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()

	store, err := OpenBoltStore([]string{second}, "license.db", nil)
	require.NoError(t, err)
	_, err = store.Write("trial.json", []byte("kept"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := OpenBoltStore([]string{first, second}, "license.db", nil)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, filepath.Join(second, "license.db"), reopened.Path())

	data, err := reopened.Read("trial.json")
	require.NoError(t, err)
	assert.Equal(t, "kept", string(data))
}

func TestBoltStore_NoWritableLocation(t *testing.T) {
	fileAsDir, underFile := unusableDirs(t)
	_, err := OpenBoltStore([]string{fileAsDir, underFile}, "license.db", nil)
	assert.ErrorIs(t, err, ErrNoWritableLocation)
}

func TestBoltStore_ConcurrentCreate(t *testing.T) {
	store, err := OpenBoltStore([]string{t.TempDir()}, "license.db", nil)
	require.NoError(t, err)
	defer store.Close()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Create("trial.json", []byte("x")); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}
