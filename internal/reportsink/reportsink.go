// Package reportsink is a pure sink for named cache-policy events: it
// subscribes to every event bus topic, logs one structured line per
// event, and keeps cumulative hit/miss/preload/eviction statistics.
package reportsink

import (
	"encoding/json"
	"os"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/cachefs/internal/events"
)

// Stats accumulates per-topic counters for the lifetime of a sink.
type Stats struct {
	Hits     uint64
	Misses   uint64
	Reads    uint64
	Requests uint64
	Cached   uint64
	Uncached uint64
	Errors   uint64

	startedAt time.Time
}

// Sink subscribes to every Event Bus topic and logs one structured line
// per event via logrus, while keeping running counters.
type Sink struct {
	log *logrus.Logger

	hits, misses, reads, requests, cached, uncached, errs uint64
	startedAt                                             time.Time
}

// NewSink constructs a Sink writing structured entries to w (logrus's
// default, os.Stderr, if nil) and attaches it to bus.
func NewSink(bus *events.Bus, w *os.File) *Sink {
	log := logrus.New()
	if w != nil {
		log.SetOutput(w)
	}
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	s := &Sink{log: log, startedAt: time.Now()}
	s.attach(bus)
	return s
}

func (s *Sink) attach(bus *events.Bus) {
	bus.On(events.Hit, func(arg interface{}) {
		atomic.AddUint64(&s.hits, 1)
		s.log.WithField("path", arg).Info("cache hit")
	})
	bus.On(events.Miss, func(arg interface{}) {
		atomic.AddUint64(&s.misses, 1)
		s.log.WithField("path", arg).Info("cache miss")
	})
	bus.On(events.Read, func(arg interface{}) {
		atomic.AddUint64(&s.reads, 1)
		s.log.WithField("path", arg).Info("passthrough read")
	})
	bus.On(events.Request, func(arg interface{}) {
		atomic.AddUint64(&s.requests, 1)
		ra := arg.(events.RequestArg)
		s.log.WithFields(logrus.Fields{"reason": ra.Reason, "path": ra.Path}).Info("preload requested")
	})
	bus.On(events.Cache, func(arg interface{}) {
		atomic.AddUint64(&s.cached, 1)
		s.log.WithField("path", arg).Info("cached")
	})
	bus.On(events.Uncache, func(arg interface{}) {
		atomic.AddUint64(&s.uncached, 1)
		s.log.WithField("path", arg).Info("evicted")
	})
	bus.On(events.Error, func(arg interface{}) {
		atomic.AddUint64(&s.errs, 1)
		s.log.WithError(arg.(error)).Warn("work item failed")
	})
}

// Stats returns a snapshot of the running counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Hits:      atomic.LoadUint64(&s.hits),
		Misses:    atomic.LoadUint64(&s.misses),
		Reads:     atomic.LoadUint64(&s.reads),
		Requests:  atomic.LoadUint64(&s.requests),
		Cached:    atomic.LoadUint64(&s.cached),
		Uncached:  atomic.LoadUint64(&s.uncached),
		Errors:    atomic.LoadUint64(&s.errs),
		startedAt: s.startedAt,
	}
}

// HitRate returns the hit rate as a percentage in [0, 100].
func (st Stats) HitRate() float64 {
	total := st.Hits + st.Misses
	if total == 0 {
		return 0
	}
	return float64(st.Hits) * 100 / float64(total)
}

// SaveJSON writes the snapshot to path as JSON.
func (st Stats) SaveJSON(path string) error {
	doc := map[string]interface{}{
		"timestamp":     time.Now().Format(time.RFC3339),
		"uptimeSeconds": time.Since(st.startedAt).Seconds(),
		"hits":          st.Hits,
		"misses":        st.Misses,
		"hitRatePct":    st.HitRate(),
		"reads":         st.Reads,
		"requests":      st.Requests,
		"cached":        st.Cached,
		"uncached":      st.Uncached,
		"errors":        st.Errors,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Humanized renders a byte count as a human-friendly string instead of a
// raw integer.
func Humanized(bytes int64) string {
	return humanize.Bytes(uint64(bytes))
}
