package reportsink

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/cachefs/internal/events"
)

func TestRotatingFileSinkWritesLines(t *testing.T) {
	bus := events.New()
	path := filepath.Join(t.TempDir(), "cachefs.log")

	sink, err := NewRotatingFileSink(path, bus)
	require.NoError(t, err)
	defer sink.Close()

	bus.Emit(events.Hit, "/a/01.flac")
	bus.Emit(events.Request, events.RequestArg{Reason: "read", Path: "/a/01.flac"})
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hit")
	assert.Contains(t, string(data), "/a/01.flac")
	assert.Contains(t, string(data), "[read /a/01.flac]")
}

func TestRotatingFileSinkCreatesDirectory(t *testing.T) {
	bus := events.New()
	path := filepath.Join(t.TempDir(), "nested", "dir", "cachefs.log")

	sink, err := NewRotatingFileSink(path, bus)
	require.NoError(t, err)
	defer sink.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestPruneBackupsRemovesOnlyAgedOutFiles(t *testing.T) {
	bus := events.New()
	path := filepath.Join(t.TempDir(), "cachefs.log")

	sink, err := NewRotatingFileSink(path, bus)
	require.NoError(t, err)
	defer sink.Close()
	sink.backupRetention = time.Hour

	fresh := path + ".20260101-000000.gz"
	stale := path + ".20200101-000000.gz"
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	sink.pruneBackups()

	_, err = os.Stat(fresh)
	assert.NoError(t, err)
	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}
