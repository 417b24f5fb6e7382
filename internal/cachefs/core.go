// Package cachefs wires the seven cooperating components (A–G) behind
// the inbound API an external VFS adapter consumes: Locate,
// OnOpen, OnRead, OnClose, plus a Clean entry point for signal-driven
// sweeps.
package cachefs

import (
	"context"
	"regexp"

	"github.com/yourusername/cachefs/internal/cleaner"
	"github.com/yourusername/cachefs/internal/config"
	"github.com/yourusername/cachefs/internal/events"
	"github.com/yourusername/cachefs/internal/mutator"
	"github.com/yourusername/cachefs/internal/openfiles"
	"github.com/yourusername/cachefs/internal/pathinfo"
	"github.com/yourusername/cachefs/internal/siblings"
)

// Core is the assembled cache policy engine.
type Core struct {
	Bus *events.Bus

	locator *pathinfo.Locator
	tracker *openfiles.Tracker
	mutator *mutator.Mutator
	ticker  *cleaner.Ticker
	cfg     config.Config
	ignore  *regexp.Regexp
}

// New constructs a Core from cfg, which must already have passed
// cfg.Validate(). preloadFilter and cleanIgnore are the compiled regular
// expressions Validate returned.
func New(cfg config.Config, preloadFilter, cleanIgnore *regexp.Regexp) *Core {
	bus := events.New()
	locator := pathinfo.New(cfg.CacheRoot, cfg.SourceRoot, preloadFilter, cfg.MRUSize)
	selector := siblings.New(cfg.SourceRoot, preloadFilter, cfg.PreloadSiblings)
	mut := mutator.New(locator, selector, bus, cfg.CacheRoot, cfg.SourceRoot)

	c := &Core{
		Bus:     bus,
		locator: locator,
		mutator: mut,
		cfg:     cfg,
		ignore:  cleanIgnore,
	}
	c.tracker = openfiles.New(locator, bus, mut.RequestPreload, cfg.PreloadOpen, cfg.PreloadRead)
	c.ticker = cleaner.NewTicker(cfg.CleanInterval, c.CleanNow)
	return c
}

// Start begins the periodic Cleaner tick.
func (c *Core) Start() {
	c.ticker.Start()
}

// Stop ends the Cleaner tick and drains the Cache Mutator's executor:
// the in-flight work item finishes, then the remaining queue is dropped.
func (c *Core) Stop(ctx context.Context) error {
	c.ticker.Stop()
	return c.mutator.Stop(ctx)
}

// Locate resolves a virtual path to its PathInfo. Called
// by the VFS adapter before routing a getattr/open.
func (c *Core) Locate(path string) (pathinfo.PathInfo, error) {
	return c.locator.Locate(path)
}

// OnOpen is called after a successful open.
func (c *Core) OnOpen(fd uint64, path string) error {
	return c.tracker.OnOpen(fd, path)
}

// OnRead is called after each successful read.
func (c *Core) OnRead(fd uint64, n int64) {
	c.tracker.OnRead(fd, n)
}

// OnClose is called on release/close.
func (c *Core) OnClose(fd uint64) {
	c.tracker.OnClose(fd)
}

// CleanNow enqueues an immediate cleaner sweep, independent of the
// periodic ticker. Use this while a mount is live, so the sweep
// serializes against any in-flight or pending preload.
func (c *Core) CleanNow() {
	c.mutator.Clean(c.ignore, c.cfg.CleanAfter)
}

// CleanSync runs one cleaner sweep on the calling goroutine and returns
// once it completes. Use this only for one-shot invocations (the `clean`
// CLI subcommand) with no live mount and therefore no concurrent preload
// traffic to serialize against.
func (c *Core) CleanSync() {
	c.mutator.CleanSync(c.ignore, c.cfg.CleanAfter)
}

// OpenCount reports the number of currently tracked open descriptors.
func (c *Core) OpenCount() int {
	return c.tracker.Len()
}
