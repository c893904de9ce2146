package scratch

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspace_ReleaseRemovesEverything(t *testing.T) {
	root := t.TempDir()

	ws, err := New(root)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(ws.Path("video.mp4"), []byte("payload"), 0o644))
	require.NoError(t, os.WriteFile(ws.Path("frame.jpg"), []byte("frame"), 0o644))

	ws.Release()
	ws.Release()

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWorkspace_UniquePerAcquire(t *testing.T) {
	root := t.TempDir()

	a, err := New(root)
	require.NoError(t, err)
	defer a.Release()
	b, err := New(root)
	require.NoError(t, err)
	defer b.Release()

	assert.NotEqual(t, a.Dir(), b.Dir())
}

func TestWorkspace_RemoveMissingFile(t *testing.T) {
	ws, err := New(t.TempDir())
	require.NoError(t, err)
	defer ws.Release()

	ws.Remove("does-not-exist.mp4")

	_, err = os.Stat(ws.Dir())
	assert.NoError(t, err)
}
