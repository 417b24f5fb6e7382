// Package pathinfo implements the Path Locator: for a virtual
// path it reports whether a cache copy exists and the underlying file's
// metadata, backed by a small MRU so repeated locates of a hot path don't
// repeat the stat calls.
package pathinfo

import (
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/agilira/go-errors"
	"github.com/mutagen-io/extstat"
)

// Error codes returned by Locate.
const (
	ErrCodeLocateFailed = "CACHEFS_LOCATE_FAILED"
)

// Stats mirrors the portion of a file's metadata the core cares about:
// size, access time, and modification time.
type Stats struct {
	Size  int64
	Atime time.Time
	Mtime time.Time
}

// PathInfo is the result of locating a virtual path.
type PathInfo struct {
	Path      string
	Fullpath  string
	Cached    bool
	Cacheable bool
	Stats     Stats
}

// Locator resolves virtual paths to PathInfo, consulting cacheRoot before
// falling through to sourceRoot.
type Locator struct {
	cacheRoot     string
	sourceRoot    string
	preloadFilter *regexp.Regexp
	mru           *MRU
}

// New constructs a Locator. preloadFilter is a regular expression matched
// against a path's basename to decide cacheability; mruSize
// bounds the number of positive locate results retained.
func New(cacheRoot, sourceRoot string, preloadFilter *regexp.Regexp, mruSize int) *Locator {
	return &Locator{
		cacheRoot:     cacheRoot,
		sourceRoot:    sourceRoot,
		preloadFilter: preloadFilter,
		mru:           NewMRU(mruSize),
	}
}

// Invalidate removes any MRU entry for path, forcing the next Locate to
// re-stat. Used by the Cache Mutator after a copy or eviction.
func (l *Locator) Invalidate(path string) {
	l.mru.Remove(path)
}

// InvalidateAll clears the MRU entirely. Used by the Cleaner after a full
// sweep.
func (l *Locator) InvalidateAll() {
	l.mru.Clear()
}

// Cacheable reports whether path's basename matches the preload filter,
// without performing any IO.
func (l *Locator) Cacheable(path string) bool {
	return l.preloadFilter.MatchString(filepath.Base(path))
}

// Locate resolves path, preferring a cached copy over the source.
func (l *Locator) Locate(path string) (PathInfo, error) {
	if pi, ok := l.mru.Get(path); ok {
		return pi, nil
	}

	cacheable := l.Cacheable(path)

	cachePath := filepath.Join(l.cacheRoot, path)
	if st, err := os.Lstat(cachePath); err == nil {
		pi := PathInfo{
			Path:      path,
			Fullpath:  cachePath,
			Cached:    true,
			Cacheable: cacheable,
			Stats:     statOf(cachePath, st),
		}
		l.mru.Put(path, pi)
		return pi, nil
	} else if !os.IsNotExist(err) {
		return PathInfo{}, errors.Wrap(err, ErrCodeLocateFailed, "stat cache path failed").
			WithContext("path", path).
			WithContext("fullpath", cachePath)
	}

	sourcePath := filepath.Join(l.sourceRoot, path)
	st, err := os.Lstat(sourcePath)
	if err != nil {
		return PathInfo{}, errors.Wrap(err, ErrCodeLocateFailed, "stat source path failed").
			WithContext("path", path).
			WithContext("fullpath", sourcePath)
	}

	pi := PathInfo{
		Path:      path,
		Fullpath:  sourcePath,
		Cached:    false,
		Cacheable: cacheable,
		Stats:     statOf(sourcePath, st),
	}
	l.mru.Put(path, pi)
	return pi, nil
}

func statOf(fullpath string, st os.FileInfo) Stats {
	s := Stats{Size: st.Size(), Mtime: st.ModTime(), Atime: st.ModTime()}
	if ext, err := extstat.NewFromFileInfo(st); err == nil {
		s.Atime = ext.AccessTime
	}
	return s
}
