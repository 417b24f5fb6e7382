// Package openfiles implements the Open-File Tracker: per-fd
// bookkeeping that arms a Preload Trigger on open, feeds it from read
// volume, and tears it down on close.
package openfiles

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-errors"

	"github.com/yourusername/cachefs/internal/events"
	"github.com/yourusername/cachefs/internal/pathinfo"
	"github.com/yourusername/cachefs/internal/trigger"
)

const ErrCodeLocateFailed = "CACHEFS_OPENFILES_LOCATE_FAILED"

// sizeUnknown is the sentinel stored in Record.size before the async
// size-fetch completes.
const sizeUnknown = -1

// Record is the per-descriptor bookkeeping entry.
type Record struct {
	path      string
	bytesRead atomic.Int64
	size      atomic.Int64
	trigger   *trigger.Trigger
}

// EnqueueFunc hands a fired trigger's (reason, path) to the Cache Mutator's
// serialized executor.
type EnqueueFunc func(reason trigger.Reason, path string)

// Tracker implements the per-descriptor open/read/close bookkeeping that
// drives preload decisions.
type Tracker struct {
	locator        *pathinfo.Locator
	bus            *events.Bus
	enqueue        EnqueueFunc
	preloadOpen    time.Duration
	preloadReadPct int

	table sync.Map // fd -> *Record
}

// New constructs a Tracker. preloadOpen is the open-duration timeout;
// preloadReadPct is the percentage of file size that, once read, fires the
// read-based trigger.
func New(locator *pathinfo.Locator, bus *events.Bus, enqueue EnqueueFunc, preloadOpen time.Duration, preloadReadPct int) *Tracker {
	return &Tracker{
		locator:        locator,
		bus:            bus,
		enqueue:        enqueue,
		preloadOpen:    preloadOpen,
		preloadReadPct: preloadReadPct,
	}
}

// OnOpen handles a successful open of fd at path.
func (t *Tracker) OnOpen(fd uint64, path string) error {
	if !t.locator.Cacheable(path) {
		t.bus.Emit(events.Read, path)
		return nil
	}

	pi, err := t.locator.Locate(path)
	if err != nil {
		return errors.Wrap(err, ErrCodeLocateFailed, "locate on open failed").
			WithContext("path", path)
	}

	if pi.Cached {
		t.bus.Emit(events.Hit, path)
	} else {
		t.bus.Emit(events.Miss, path)
	}

	rec := &Record{path: path, trigger: trigger.New()}
	rec.size.Store(sizeUnknown)
	t.table.Store(fd, rec)

	rec.trigger.FireAfter(t.preloadOpen, trigger.Time)
	go t.awaitTrigger(rec)
	go t.fetchSize(rec, path)

	return nil
}

// awaitTrigger enqueues a preload once rec's trigger resolves, unless it
// resolved via cancellation.
func (t *Tracker) awaitTrigger(rec *Record) {
	<-rec.trigger.Subscribe()
	res := rec.trigger.Resolution()
	if res.State == trigger.Fired {
		t.enqueue(res.Reason, rec.path)
	}
}

// fetchSize resolves the file's size in the background so the read-volume
// trigger has a denominator. A failure here simply leaves size unknown;
// the read-volume trigger then never fires for that fd, which the
// time-based trigger still covers.
func (t *Tracker) fetchSize(rec *Record, path string) {
	pi, err := t.locator.Locate(path)
	if err != nil {
		return
	}
	rec.size.Store(pi.Stats.Size)
}

// OnRead handles a successful read of n bytes on fd.
func (t *Tracker) OnRead(fd uint64, n int64) {
	v, ok := t.table.Load(fd)
	if !ok {
		return
	}
	rec := v.(*Record)

	total := rec.bytesRead.Add(n)

	size := rec.size.Load()
	if size == sizeUnknown {
		return
	}
	if total*100 > size*int64(t.preloadReadPct) {
		rec.trigger.Fire(trigger.Read)
	}
}

// OnClose handles release of fd.
func (t *Tracker) OnClose(fd uint64) {
	v, ok := t.table.LoadAndDelete(fd)
	if !ok {
		return
	}
	rec := v.(*Record)
	rec.trigger.Cancel()
}

// Len reports how many descriptors are currently tracked.
func (t *Tracker) Len() int {
	n := 0
	t.table.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
