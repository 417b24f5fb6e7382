// Size-based rotating file sink: logs cache-policy events
// (hit/miss/read/request/cache/uncache/error), rotating by size,
// compressing the retired segment, and pruning backups once they age
// past backupRetention.
package reportsink

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-timecache"

	"github.com/yourusername/cachefs/internal/events"
)

const (
	defaultMaxLogSize = 512 * 1024 * 1024
	// defaultBackupRetention mirrors the core's cache eviction policy:
	// backups are pruned by how long ago they rotated out, not by how
	// many of them have piled up, so a quiet mount doesn't lose its
	// oldest history just because a burst of preloads rotated several
	// segments in a row.
	defaultBackupRetention = 7 * 24 * time.Hour
)

// RotatingFileSink writes one line per event to a size-rotated log file,
// compressing each retired segment and pruning backups once they age
// past backupRetention.
type RotatingFileSink struct {
	mu              sync.Mutex
	file            *os.File
	path            string
	currentSize     int64
	maxSize         int64
	backupRetention time.Duration
}

// NewRotatingFileSink opens (creating if needed) the log file at path and
// attaches it to bus.
func NewRotatingFileSink(path string, bus *events.Bus) (*RotatingFileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}

	r := &RotatingFileSink{
		file:            file,
		path:            path,
		currentSize:     info.Size(),
		maxSize:         defaultMaxLogSize,
		backupRetention: defaultBackupRetention,
	}
	r.attach(bus)
	return r, nil
}

func (r *RotatingFileSink) attach(bus *events.Bus) {
	log := func(topic events.Topic) events.Handler {
		return func(arg interface{}) {
			r.writeLine(topic, arg)
		}
	}
	bus.On(events.Hit, log(events.Hit))
	bus.On(events.Miss, log(events.Miss))
	bus.On(events.Read, log(events.Read))
	bus.On(events.Cache, log(events.Cache))
	bus.On(events.Uncache, log(events.Uncache))
	bus.On(events.Request, log(events.Request))
	bus.On(events.Error, log(events.Error))
}

func (r *RotatingFileSink) writeLine(topic events.Topic, arg interface{}) {
	var detail string
	switch v := arg.(type) {
	case events.RequestArg:
		detail = fmt.Sprintf("[%s %s]", v.Reason, v.Path)
	case error:
		detail = v.Error()
	default:
		detail = fmt.Sprintf("%v", v)
	}

	ts := time.Now().Format("2006-01-02 15:04:05.000")
	if err := r.write("%s | %-8s | %s", ts, topic, detail); err != nil {
		fmt.Fprintf(os.Stderr, "cachefs: report sink write failed: %v\n", err)
	}
}

func (r *RotatingFileSink) write(format string, args ...interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}

	n, err := r.file.WriteString(msg)
	if err != nil {
		return err
	}
	r.currentSize += int64(n)

	if r.currentSize >= r.maxSize {
		return r.rotate()
	}
	return nil
}

// rotate must be called with r.mu held. Unlike a plain rename-and-reopen,
// pruning is chained to run only after the just-rotated segment has
// actually been compressed: running them independently could prune an
// old backup to make room before the new one exists to replace it,
// shrinking the retained window for no reason.
func (r *RotatingFileSink) rotate() error {
	r.file.Close()

	timestamp := time.Now().Format("20060102-150405")
	newName := fmt.Sprintf("%s.%s", r.path, timestamp)
	if err := os.Rename(r.path, newName); err != nil {
		return err
	}

	go func() {
		if err := r.compressFile(newName); err != nil {
			fmt.Fprintf(os.Stderr, "cachefs: report sink compress failed: %v\n", err)
			return
		}
		r.pruneBackups()
	}()

	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	r.file = file
	r.currentSize = 0
	return nil
}

func (r *RotatingFileSink) compressFile(path string) error {
	source, err := os.Open(path)
	if err != nil {
		return err
	}
	defer source.Close()

	dest, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer dest.Close()

	gz := gzip.NewWriter(dest)
	defer gz.Close()

	if _, err := io.Copy(gz, source); err != nil {
		return err
	}
	return os.Remove(path)
}

// pruneBackups removes compressed backups older than backupRetention,
// the same age-since-last-touch criterion the core Cleaner applies to
// cached media; timecache supplies "now" here for the same reason
// internal/cleaner and internal/trigger use it, so every background
// sweep in the process reads the clock the same way.
func (r *RotatingFileSink) pruneBackups() {
	dir := filepath.Dir(r.path)
	base := filepath.Base(r.path)

	files, err := filepath.Glob(filepath.Join(dir, base+".*.gz"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "cachefs: report sink backup scan failed: %v\n", err)
		return
	}

	cutoff := time.Unix(0, timecache.CachedTimeNano()).Add(-r.backupRetention)
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(f)
		}
	}
}

// Close closes the underlying file.
func (r *RotatingFileSink) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}
