package cachefs

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/cachefs/internal/config"
	"github.com/yourusername/cachefs/internal/events"
)

type eventLog struct {
	mu  sync.Mutex
	log []string
}

func (e *eventLog) attach(bus *events.Bus) {
	for _, topic := range []events.Topic{events.Hit, events.Miss, events.Read, events.Cache, events.Uncache} {
		topic := topic
		bus.On(topic, func(arg interface{}) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.log = append(e.log, string(topic)+" "+arg.(string))
		})
	}
	bus.On(events.Request, func(arg interface{}) {
		e.mu.Lock()
		defer e.mu.Unlock()
		ra := arg.(events.RequestArg)
		e.log = append(e.log, "request ["+ra.Reason+" "+ra.Path+"]")
	})
}

func (e *eventLog) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.log))
	copy(out, e.log)
	return out
}

func newScenarioCore(t *testing.T, preloadOpen time.Duration, preloadRead int) (*Core, *eventLog, string) {
	t.Helper()
	sourceRoot := t.TempDir()
	cacheRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(sourceRoot, "a"), 0o755))
	for _, n := range []string{"01.flac", "02.flac", "03.flac", "04.flac", "05.flac"} {
		require.NoError(t, os.WriteFile(filepath.Join(sourceRoot, "a", n), make([]byte, 10), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(sourceRoot, "a", "meta.json"), []byte("{}"), 0o644))

	cfg := config.Default()
	cfg.SourceRoot = sourceRoot
	cfg.CacheRoot = cacheRoot
	cfg.PreloadSiblings = 2
	cfg.PreloadOpen = preloadOpen
	cfg.PreloadRead = preloadRead

	filter, ignore, err := cfg.Validate()
	require.NoError(t, err)

	core := New(cfg, filter, ignore)
	log := &eventLog{}
	log.attach(core.Bus)
	return core, log, cacheRoot
}

func waitForLen(t *testing.T, get func() []string, n int, timeout time.Duration) []string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if got := get(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "did not observe enough events in time")
	return nil
}

// Holding a file open past preloadOpen fires the time-based trigger.
func TestScenarioHoldOpenPreload(t *testing.T) {
	core, log, cacheRoot := newScenarioCore(t, 50*time.Millisecond, 50)
	defer core.Stop(context.Background())

	require.NoError(t, core.OnOpen(1, "/a/01.flac"))
	time.Sleep(70 * time.Millisecond)
	core.OnClose(1)

	got := waitForLen(t, log.snapshot, 5, time.Second)
	assert.Equal(t, []string{
		"miss /a/01.flac",
		"request [time /a/01.flac]",
		"cache /a/01.flac",
		"cache /a/02.flac",
		"cache /a/03.flac",
	}, got)

	for _, n := range []string{"01.flac", "02.flac", "03.flac"} {
		_, err := os.Stat(filepath.Join(cacheRoot, "a", n))
		assert.NoError(t, err)
	}
	for _, n := range []string{"04.flac", "05.flac"} {
		_, err := os.Stat(filepath.Join(cacheRoot, "a", n))
		assert.True(t, os.IsNotExist(err))
	}
}

// Reading past preloadRead percent of a file's size fires the read-based trigger.
func TestScenarioReadVolumePreload(t *testing.T) {
	core, log, _ := newScenarioCore(t, 10*time.Second, 50)
	defer core.Stop(context.Background())

	require.NoError(t, core.OnOpen(1, "/a/01.flac"))
	time.Sleep(20 * time.Millisecond) // let the async size-fetch complete
	core.OnRead(1, 2)
	core.OnRead(1, 2)
	core.OnRead(1, 2)
	core.OnClose(1)

	got := waitForLen(t, log.snapshot, 5, time.Second)
	assert.Equal(t, "miss /a/01.flac", got[0])
	assert.Equal(t, "request [read /a/01.flac]", got[1])
	assert.ElementsMatch(t, []string{"cache /a/01.flac", "cache /a/02.flac", "cache /a/03.flac"}, got[2:5])
}

// A file that fails the preload filter only ever emits a read event.
func TestScenarioNonCacheable(t *testing.T) {
	core, log, _ := newScenarioCore(t, 50*time.Millisecond, 50)
	defer core.Stop(context.Background())

	require.NoError(t, core.OnOpen(1, "/a/meta.json"))
	core.OnClose(1)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"read /a/meta.json"}, log.snapshot())
}

// Closing before the trigger fires cancels it; no preload is requested.
func TestScenarioEarlyCloseCancels(t *testing.T) {
	core, log, _ := newScenarioCore(t, 50*time.Millisecond, 50)
	defer core.Stop(context.Background())

	require.NoError(t, core.OnOpen(1, "/a/01.flac"))
	time.Sleep(5 * time.Millisecond)
	core.OnClose(1)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"miss /a/01.flac"}, log.snapshot())
}

// Reopening an already-cached file still re-arms a trigger, but every sibling copy is a no-op.
func TestScenarioCachedReopen(t *testing.T) {
	core, log, _ := newScenarioCore(t, 50*time.Millisecond, 50)
	defer core.Stop(context.Background())

	require.NoError(t, core.OnOpen(1, "/a/01.flac"))
	time.Sleep(70 * time.Millisecond)
	core.OnClose(1)
	waitForLen(t, log.snapshot, 5, time.Second)

	require.NoError(t, core.OnOpen(2, "/a/01.flac"))
	time.Sleep(70 * time.Millisecond)
	core.OnClose(2)

	got := waitForLen(t, log.snapshot, 7, time.Second)
	assert.Equal(t, "hit /a/01.flac", got[5])
	assert.Equal(t, "request [time /a/01.flac]", got[6])
	assert.Len(t, got, 7, "no further cache events once every sibling is already cached")
}

// A cleaner sweep evicts stale cached siblings while respecting the ignore filter.
func TestScenarioCleanerEviction(t *testing.T) {
	core, log, cacheRoot := newScenarioCore(t, 50*time.Millisecond, 50)
	defer core.Stop(context.Background())

	require.NoError(t, core.OnOpen(1, "/a/01.flac"))
	time.Sleep(70 * time.Millisecond)
	core.OnClose(1)
	waitForLen(t, log.snapshot, 5, time.Second)

	old := time.Now().Add(-3600 * time.Second)
	require.NoError(t, os.Chtimes(filepath.Join(cacheRoot, "a", "02.flac"), old, old))
	require.NoError(t, os.Chtimes(filepath.Join(cacheRoot, "a", "03.flac"), old, old))

	var uncached []string
	var mu sync.Mutex
	core.Bus.On(events.Uncache, func(arg interface{}) {
		mu.Lock()
		defer mu.Unlock()
		uncached = append(uncached, arg.(string))
	})

	core.mutator.Clean(regexp.MustCompile(`01\.flac$`), 60*time.Second)

	waitForLen(t, func() []string {
		mu.Lock()
		defer mu.Unlock()
		out := make([]string, len(uncached))
		copy(out, uncached)
		return out
	}, 2, time.Second)

	_, err := os.Stat(filepath.Join(cacheRoot, "a", "01.flac"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(cacheRoot, "a", "02.flac"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(cacheRoot, "a", "03.flac"))
	assert.True(t, os.IsNotExist(err))
}
