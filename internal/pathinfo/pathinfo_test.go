package pathinfo

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel string, data string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(data), 0o644))
}

func newTestLocator(t *testing.T) (*Locator, string, string) {
	t.Helper()
	cacheRoot := t.TempDir()
	sourceRoot := t.TempDir()
	filter := regexp.MustCompile(`^.*\.flac$`)
	return New(cacheRoot, sourceRoot, filter, 10), cacheRoot, sourceRoot
}

func TestLocateFallsThroughToSourceWhenUncached(t *testing.T) {
	loc, _, sourceRoot := newTestLocator(t)
	writeFile(t, sourceRoot, "/a/01.flac", "0123456789")

	pi, err := loc.Locate("/a/01.flac")
	require.NoError(t, err)
	assert.False(t, pi.Cached)
	assert.True(t, pi.Cacheable)
	assert.Equal(t, filepath.Join(sourceRoot, "/a/01.flac"), pi.Fullpath)
	assert.Equal(t, int64(10), pi.Stats.Size)
}

func TestLocatePrefersCacheWhenPresent(t *testing.T) {
	loc, cacheRoot, sourceRoot := newTestLocator(t)
	writeFile(t, sourceRoot, "/a/01.flac", "0123456789")
	writeFile(t, cacheRoot, "/a/01.flac", "0123456789")

	pi, err := loc.Locate("/a/01.flac")
	require.NoError(t, err)
	assert.True(t, pi.Cached)
	assert.Equal(t, filepath.Join(cacheRoot, "/a/01.flac"), pi.Fullpath)
}

func TestLocateMissingEverywhereFails(t *testing.T) {
	loc, _, _ := newTestLocator(t)
	_, err := loc.Locate("/a/nope.flac")
	assert.Error(t, err)
}

func TestLocateNonCacheableFile(t *testing.T) {
	loc, _, sourceRoot := newTestLocator(t)
	writeFile(t, sourceRoot, "/a/meta.json", "{}")

	pi, err := loc.Locate("/a/meta.json")
	require.NoError(t, err)
	assert.False(t, pi.Cacheable)
}

func TestLocateCachesPositiveResultOnly(t *testing.T) {
	loc, _, sourceRoot := newTestLocator(t)
	writeFile(t, sourceRoot, "/a/01.flac", "0123456789")

	_, err := loc.Locate("/a/missing.flac")
	assert.Error(t, err)
	assert.Equal(t, 0, loc.mru.Len(), "a locate miss must not be cached")

	_, err = loc.Locate("/a/01.flac")
	require.NoError(t, err)
	assert.Equal(t, 1, loc.mru.Len())
}

func TestLocateHitMovesToMRUEnd(t *testing.T) {
	loc, _, sourceRoot := newTestLocator(t)
	writeFile(t, sourceRoot, "/a/01.flac", "x")
	writeFile(t, sourceRoot, "/a/02.flac", "x")

	_, err := loc.Locate("/a/01.flac")
	require.NoError(t, err)
	_, err = loc.Locate("/a/02.flac")
	require.NoError(t, err)
	_, err = loc.Locate("/a/01.flac")
	require.NoError(t, err)

	assert.Equal(t, "/a/02.flac", loc.mru.ll.Front().Value.(*mruEntry).path)
}

func TestMRUEvictsOldest(t *testing.T) {
	m := NewMRU(2)
	m.Put("a", PathInfo{Path: "a"})
	m.Put("b", PathInfo{Path: "b"})
	m.Put("c", PathInfo{Path: "c"})

	_, ok := m.Get("a")
	assert.False(t, ok, "oldest entry must be evicted once bound exceeded")
	assert.Equal(t, 2, m.Len())
}

func TestLocateInvalidateForcesRestat(t *testing.T) {
	loc, cacheRoot, sourceRoot := newTestLocator(t)
	writeFile(t, sourceRoot, "/a/01.flac", "x")

	pi, err := loc.Locate("/a/01.flac")
	require.NoError(t, err)
	assert.False(t, pi.Cached)

	writeFile(t, cacheRoot, "/a/01.flac", "x")
	loc.Invalidate("/a/01.flac")

	pi, err = loc.Locate("/a/01.flac")
	require.NoError(t, err)
	assert.True(t, pi.Cached)
}
