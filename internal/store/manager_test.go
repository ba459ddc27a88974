package store

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)), t.TempDir())
	require.NoError(t, err)
	return m
}

func TestNewManagerCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "downloads")
	_, err := NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)), dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewStemIsUnique(t *testing.T) {
	m := newTestManager(t)

	a := m.NewStem("media")
	b := m.NewStem("media")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, filepath.Join(m.Dir(), "media_")))
}

func TestSave(t *testing.T) {
	m := newTestManager(t)

	path, err := m.Save("pic.jpg", strings.NewReader("jpeg-bytes"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	// No temp file should survive a successful save.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestRemove(t *testing.T) {
	m := newTestManager(t)

	path, err := m.Save("pic.jpg", strings.NewReader("x"))
	require.NoError(t, err)

	m.Remove(path)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Removing again, or removing nothing, must not panic.
	m.Remove(path)
	m.Remove("")
}

func TestSweepStale(t *testing.T) {
	m := newTestManager(t)

	oldPath, err := m.Save("old.mp4", strings.NewReader("old"))
	require.NoError(t, err)
	freshPath, err := m.Save("fresh.mp4", strings.NewReader("fresh"))
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	removed, err := m.SweepStale(time.Now(), 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err), "old file should be gone")
	_, err = os.Stat(freshPath)
	assert.NoError(t, err, "fresh file should survive")

	removed, err = m.SweepStale(time.Now(), 30*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, removed, "second sweep has nothing to do")
}

func TestSweepStaleSkipsDirs(t *testing.T) {
	m := newTestManager(t)

	sub := filepath.Join(m.Dir(), "keep")
	require.NoError(t, os.Mkdir(sub, 0o755))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(sub, past, past))

	removed, err := m.SweepStale(time.Now(), 30*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, removed)

	_, err = os.Stat(sub)
	assert.NoError(t, err)
}
