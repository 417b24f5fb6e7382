// Package cleaner implements the Cleaner / Sweeper: the
// periodic scan of the cache tree that selects stale files for eviction.
package cleaner

import (
	"io/fs"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/mutagen-io/extstat"

	"github.com/agilira/go-timecache"
)

// Scan walks cacheRoot once and returns the virtual (cacheRoot-relative)
// paths of every regular file whose basename does not match ignoreFilter
// and whose access time is older than now - after. Files are returned in
// the order the walk yields them; each eligible file is considered
// exactly once per invocation, with no further ordering guarantee.
func Scan(cacheRoot string, ignoreFilter *regexp.Regexp, after time.Duration) ([]string, error) {
	var evict []string
	cutoff := time.Unix(0, timecache.CachedTimeNano()).Add(-after)

	err := filepath.WalkDir(cacheRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ignoreFilter != nil && ignoreFilter.MatchString(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		atime := info.ModTime()
		if ext, err := extstat.NewFromFileInfo(info); err == nil {
			atime = ext.AccessTime
		}
		if atime.After(cutoff) {
			return nil
		}

		rel, err := filepath.Rel(cacheRoot, path)
		if err != nil {
			return err
		}
		evict = append(evict, string(filepath.Separator)+rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return evict, nil
}

// Ticker periodically enqueues a Clean work item on the Cache Mutator's
// executor. The enqueue itself is
// supplied by the caller so this package has no dependency on mutator,
// avoiding an import cycle (mutator's call to Scan is the only coupling
// in the other direction).
type Ticker struct {
	interval time.Duration
	clean    func()
	stop     chan struct{}
	stopOnce sync.Once
}

// NewTicker constructs a Ticker that calls clean every interval until
// Stop is called.
func NewTicker(interval time.Duration, clean func()) *Ticker {
	return &Ticker{interval: interval, clean: clean, stop: make(chan struct{})}
}

// Start begins the periodic loop in a new goroutine.
func (t *Ticker) Start() {
	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.clean()
			case <-t.stop:
				return
			}
		}
	}()
}

// Stop ends the periodic loop. It does not wait for an in-flight clean
// enqueue to be processed; that is the Mutator's responsibility.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}
