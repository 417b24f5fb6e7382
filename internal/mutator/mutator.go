// Package mutator implements the Cache Mutator: the single
// worker, FIFO-serialized executor that performs every filesystem mutation
// — copies from source to cache, and evictions of stale cache files.
package mutator

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/agilira/go-errors"
	"github.com/google/uuid"

	"github.com/yourusername/cachefs/internal/cleaner"
	"github.com/yourusername/cachefs/internal/events"
	"github.com/yourusername/cachefs/internal/pathinfo"
	"github.com/yourusername/cachefs/internal/siblings"
	"github.com/yourusername/cachefs/internal/trigger"
)

// Error codes for work-item failures.
const (
	ErrCodeLocateFailed = "CACHEFS_MUTATOR_LOCATE_FAILED"
	ErrCodeCopyFailed   = "CACHEFS_COPY_FAILED"
	ErrCodeUnlinkFailed = "CACHEFS_UNLINK_FAILED"
	ErrCodeMkdirFailed  = "CACHEFS_MKDIR_FAILED"
	ErrCodeUtimesFailed = "CACHEFS_UTIMES_FAILED"
	ErrCodeScanFailed   = "CACHEFS_SCAN_FAILED"
	ErrCodeRmdirFailed  = "CACHEFS_RMDIR_FAILED"
)

type kind int

const (
	kindPreload kind = iota
	kindClean
)

type workItem struct {
	id     uuid.UUID
	kind   kind
	reason trigger.Reason
	path   string

	ignore *regexp.Regexp
	after  time.Duration
}

// Mutator is the single-concurrency, strictly-FIFO background executor.
// Construct with New; call Stop to drain and shut down.
type Mutator struct {
	locator    *pathinfo.Locator
	selector   *siblings.Selector
	bus        *events.Bus
	cacheRoot  string
	sourceRoot string

	queue    chan workItem
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Mutator and starts its single background worker.
func New(locator *pathinfo.Locator, selector *siblings.Selector, bus *events.Bus, cacheRoot, sourceRoot string) *Mutator {
	m := &Mutator{
		locator:    locator,
		selector:   selector,
		bus:        bus,
		cacheRoot:  cacheRoot,
		sourceRoot: sourceRoot,
		queue:      make(chan workItem, 256),
		stopCh:     make(chan struct{}),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

// RequestPreload enqueues a preload work item for path. The enqueue is
// idempotent from the caller's perspective: duplicate requests for the
// same path are harmless because cacheOne is a no-op on an already-cached
// path.
func (m *Mutator) RequestPreload(reason trigger.Reason, path string) {
	m.enqueue(workItem{id: uuid.New(), kind: kindPreload, reason: reason, path: path})
}

// Clean enqueues a cleaner sweep work item.
func (m *Mutator) Clean(ignore *regexp.Regexp, after time.Duration) {
	m.enqueue(workItem{id: uuid.New(), kind: kindClean, ignore: ignore, after: after})
}

// CleanSync runs one cleaner sweep on the calling goroutine, bypassing the
// queue entirely. It is for one-shot callers (the `clean` CLI subcommand)
// that have no concurrently running preloads and therefore no need for
// the serialized executor's FIFO ordering; Clean must be used instead
// whenever a mount is live, since a Clean immediately followed by Stop
// races Stop's drain-then-discard shutdown against the worker picking up
// the just-enqueued item — either select case may win, so the sweep can
// be discarded unrun instead of executed.
func (m *Mutator) CleanSync(ignore *regexp.Regexp, after time.Duration) {
	m.clean(ignore, after)
}

func (m *Mutator) enqueue(item workItem) {
	select {
	case <-m.stopCh:
		return
	default:
	}
	select {
	case m.queue <- item:
	case <-m.stopCh:
	}
}

// Stop drains the in-flight work item to completion, then discards anything
// still queued without executing it. It blocks until the worker has
// exited or ctx is done.
func (m *Mutator) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stopCh) })

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Mutator) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			m.drain()
			return
		default:
		}

		select {
		case item, ok := <-m.queue:
			if !ok {
				return
			}
			m.process(item)
		case <-m.stopCh:
			m.drain()
			return
		}
	}
}

// drain discards every item still queued without executing it.
func (m *Mutator) drain() {
	for {
		select {
		case _, ok := <-m.queue:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (m *Mutator) process(item workItem) {
	switch item.kind {
	case kindPreload:
		m.preload(item.reason, item.path)
	case kindClean:
		m.clean(item.ignore, item.after)
	}
}

// preload is the work-item body for a fired Preload Trigger.
func (m *Mutator) preload(reason trigger.Reason, path string) {
	m.bus.Emit(events.Request, events.RequestArg{Reason: string(reason), Path: path})

	paths, err := m.selector.Siblings(path)
	if err != nil {
		m.bus.Emit(events.Error, err)
		return
	}

	for _, p := range paths {
		newlyCached, err := m.cacheOne(p)
		if err != nil {
			m.bus.Emit(events.Error, err)
			continue
		}
		if newlyCached {
			m.bus.Emit(events.Cache, p)
		}
	}
}

// cacheOne copies p from source to cache if not already cached. It returns
// true iff it performed a fresh copy (caching an already-cached path is a
// no-op).
func (m *Mutator) cacheOne(p string) (bool, error) {
	pi, err := m.locator.Locate(p)
	if err != nil {
		return false, errors.Wrap(err, ErrCodeLocateFailed, "locate before cache failed").
			WithContext("path", p)
	}
	if pi.Cached {
		return false, nil
	}

	src := filepath.Join(m.sourceRoot, p)
	dst := filepath.Join(m.cacheRoot, p)

	if err := copyAtomic(src, dst); err != nil {
		return false, err
	}
	if err := os.Chtimes(dst, pi.Stats.Atime, pi.Stats.Mtime); err != nil {
		return false, errors.Wrap(err, ErrCodeUtimesFailed, "preserve timestamps failed").
			WithContext("path", dst)
	}

	m.locator.Invalidate(p)
	return true, nil
}

// copyAtomic copies src to dst via a temp file in dst's directory followed
// by a rename, so a partial copy never appears at dst.
func copyAtomic(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrap(err, ErrCodeMkdirFailed, "mkdir cache parent failed").
			WithContext("dst", dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, ErrCodeCopyFailed, "open source failed").WithContext("src", src)
	}
	defer in.Close()

	tmp := dst + ".cachefs-tmp-" + uuid.New().String()
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return errors.Wrap(err, ErrCodeCopyFailed, "create temp file failed").WithContext("tmp", tmp)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return errors.Wrap(err, ErrCodeCopyFailed, "copy failed").
			WithContext("src", src).WithContext("dst", dst)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, ErrCodeCopyFailed, "close temp file failed").WithContext("tmp", tmp)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, ErrCodeCopyFailed, "rename into place failed").WithContext("dst", dst)
	}
	return nil
}

// clean runs one Cleaner scan and evicts every candidate it selects. When
// enqueued via Clean it serializes against preloads by running on the same
// executor; CleanSync runs it on the caller's goroutine instead.
func (m *Mutator) clean(ignore *regexp.Regexp, after time.Duration) {
	evict, err := cleaner.Scan(m.cacheRoot, ignore, after)
	if err != nil {
		m.bus.Emit(events.Error, errors.Wrap(err, ErrCodeScanFailed, "cleaner scan failed"))
		return
	}

	for _, p := range evict {
		if err := m.uncache(p); err != nil {
			m.bus.Emit(events.Error, err)
		}
	}

	m.locator.InvalidateAll()
}

// uncache evicts p from the cache.
func (m *Mutator) uncache(p string) error {
	// Invalidate before unlinking so no MRU entry keeps pointing at the
	// cache copy, and again after, so an entry re-created by a locate that
	// ran between the two is dropped as well.
	m.locator.Invalidate(p)

	cachePath := filepath.Join(m.cacheRoot, p)
	if err := os.Remove(cachePath); err != nil {
		return errors.Wrap(err, ErrCodeUnlinkFailed, "unlink cache file failed").
			WithContext("path", cachePath)
	}
	m.locator.Invalidate(p)

	m.removeEmptyParents(filepath.Dir(cachePath))
	m.bus.Emit(events.Uncache, p)
	return nil
}

// removeEmptyParents walks upward from dir removing empty directories until
// reaching m.cacheRoot (exclusive), stopping silently on ENOTEMPTY — a
// benign, expected condition when a sibling file still occupies dir. Any
// other removal failure is surfaced as an error event instead of being
// swallowed, since it leaves a directory entry behind that a future
// eviction in the same place won't retry on its own.
func (m *Mutator) removeEmptyParents(dir string) {
	root := filepath.Clean(m.cacheRoot)
	for {
		dir = filepath.Clean(dir)
		if dir == root {
			return
		}
		rel, err := filepath.Rel(root, dir)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			return
		}
		if err := os.Remove(dir); err != nil {
			if !stderrors.Is(err, syscall.ENOTEMPTY) {
				m.bus.Emit(events.Error, errors.Wrap(err, ErrCodeRmdirFailed, "rmdir cache parent failed").
					WithContext("path", dir))
			}
			return
		}
		dir = filepath.Dir(dir)
	}
}
