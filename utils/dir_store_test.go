package utils

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirStoreLoadSave(t *testing.T) {
	store := NewDirStore(filepath.Join(t.TempDir(), "nested", "last_dir.txt"))

	dir, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, dir)

	require.NoError(t, store.Save("/data/runs"))
	dir, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, "/data/runs", dir)

	require.NoError(t, os.WriteFile(store.Path(), []byte("  /other\n"), 0644))
	dir, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, "/other", dir)
}

func TestDirStoreWatch(t *testing.T) {
	store := NewDirStore(filepath.Join(t.TempDir(), "last_dir.txt"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 8)
	require.NoError(t, store.Watch(ctx, func(dir string) { got <- dir }))

	require.NoError(t, NewDirStore(store.Path()).Save("/from/elsewhere"))

	select {
	case dir := <-got:
		assert.Equal(t, "/from/elsewhere", dir)
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not report the change")
	}
}
