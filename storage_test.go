package localmr

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	store := NewFileStore(t.TempDir(), nil)
	entries := []KeyValue{
		{Key: "banana", Value: "1"},
		{Key: "apple", Value: "1"},
		{Key: "banana", Value: "1"},
	}

	require.NoError(t, store.Write(entries, "mr-0-1", 0, MapTask))

	got, err := store.ReadEntries("mr-0-1", 1, ReduceTask)
	require.NoError(t, err)
	assert.Equal(t, entries, got, "entries must come back in write order")
}

func TestWriteOverwriteReplacesContent(t *testing.T) {
	store := NewFileStore(t.TempDir(), nil)
	first := []KeyValue{{Key: "a", Value: "1"}}
	second := []KeyValue{{Key: "b", Value: "2"}, {Key: "c", Value: "3"}}

	require.NoError(t, store.Write(first, "mr-0-0", 0, MapTask))
	require.NoError(t, store.Write(second, "mr-0-0", 0, MapTask))

	got, err := store.ReadEntries("mr-0-0", 0, MapTask)
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestReadEntriesSkipsLinesWithoutTab(t *testing.T) {
	root := t.TempDir()
	store := NewFileStore(root, nil)
	entries := []KeyValue{{Key: "apple", Value: "1"}}
	require.NoError(t, store.Write(entries, "mr-3-0", 3, MapTask))

	// Corrupt the published file with a record that has no separator.
	path := filepath.Join(root, "map-3", "mr-3-0")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("not a record\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := store.ReadEntries("mr-3-0", 3, MapTask)
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestReduceOutputPromotedToRoot(t *testing.T) {
	root := t.TempDir()
	store := NewFileStore(root, nil)
	entries := []KeyValue{{Key: "apple", Value: "3"}}

	require.NoError(t, store.Write(entries, "mr-out-2", 2, ReduceTask))

	_, err := os.Stat(filepath.Join(root, "mr-out-2"))
	require.NoError(t, err, "final output must live directly under root")

	_, err = os.Stat(filepath.Join(root, "reduce-2"))
	assert.True(t, os.IsNotExist(err), "emptied task directory must be removed")

	got, err := store.ReadEntries("mr-out-2", 2, ReduceTask)
	require.NoError(t, err)
	assert.Equal(t, entries, got, "index must follow the promoted path")
}

func TestReadEntriesUnknownName(t *testing.T) {
	store := NewFileStore(t.TempDir(), nil)

	_, err := store.ReadEntries("mr-9-9", 9, ReduceTask)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReadFile(t *testing.T) {
	root := t.TempDir()
	store := NewFileStore(root, nil)
	require.NoError(t, os.WriteFile(filepath.Join(root, "input.txt"), []byte("hello"), 0o666))

	data, err := store.ReadFile("input.txt", 0, MapTask)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = store.ReadFile("missing.txt", 0, MapTask)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClearFilesIsIdempotent(t *testing.T) {
	root := t.TempDir()
	store := NewFileStore(root, nil)
	require.NoError(t, store.Write([]KeyValue{{Key: "a", Value: "1"}}, "mr-0-0", 0, MapTask))
	require.NoError(t, store.Write([]KeyValue{{Key: "b", Value: "1"}}, "mr-0-1", 0, MapTask))

	names := []string{"mr-0-0", "mr-0-1"}
	require.NoError(t, store.ClearFiles(names, 0, ReduceTask))

	_, err := os.Stat(filepath.Join(root, "map-0"))
	assert.True(t, os.IsNotExist(err), "emptied task directory must be removed")

	_, err = store.ReadEntries("mr-0-0", 0, ReduceTask)
	require.ErrorIs(t, err, ErrNotFound)

	// A retried reduce clearing the same names again is a no-op.
	require.NoError(t, store.ClearFiles(names, 0, ReduceTask))
}

func TestWriteSweepsStaleTemps(t *testing.T) {
	root := t.TempDir()
	store := NewFileStore(root, nil)
	dir := filepath.Join(root, "map-5")
	require.NoError(t, os.MkdirAll(dir, 0o777))
	stale := filepath.Join(dir, "mr-5-0.deadbeef.tmp")
	require.NoError(t, os.WriteFile(stale, []byte("partial"), 0o666))

	require.NoError(t, store.Write([]KeyValue{{Key: "a", Value: "1"}}, "mr-5-0", 5, MapTask))

	temps, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, temps, "no temporary file may remain after a write")
}

func TestConcurrentWritersSameName(t *testing.T) {
	store := NewFileStore(t.TempDir(), nil)
	entries := []KeyValue{{Key: "apple", Value: "1"}, {Key: "banana", Value: "1"}}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Write(entries, "mr-0-0", 0, MapTask))
		}()
	}
	wg.Wait()

	got, err := store.ReadEntries("mr-0-0", 0, MapTask)
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestSetRoot(t *testing.T) {
	store := NewFileStore("unused", nil)
	root := t.TempDir()
	store.SetRoot(root)

	require.NoError(t, store.Write([]KeyValue{{Key: "a", Value: "1"}}, "mr-0-0", 0, MapTask))
	_, err := os.Stat(filepath.Join(root, "map-0", "mr-0-0"))
	require.NoError(t, err)
}
