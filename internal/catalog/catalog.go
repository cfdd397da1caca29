// Package catalog holds the server's current item batch: the events file
// merged with expanded external calendar feeds, plus the calendar index
// built from it.
package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"khojum/internal/calendar"
	"khojum/internal/filter"
	"khojum/internal/ics"
	appLog "khojum/internal/log"
	"khojum/internal/model"
	"khojum/internal/store"
)

// Snapshot is one loaded batch. It is never modified after it is published.
type Snapshot struct {
	Items    []model.Item
	Index    *calendar.Index
	LoadedAt time.Time
	// Err is the error of the most recent load attempt, if it failed. Items
	// and Index are then those of the last good load.
	Err error
}

// Options wire a Catalog.
type Options struct {
	Events   store.EventsFile
	Importer *ics.Importer
	Sources  []ics.Source
	Engine   *filter.Engine
	MaxDots  int
	Location *time.Location
}

type Catalog struct {
	opts Options

	mu   sync.RWMutex
	snap Snapshot

	hooksMu sync.Mutex
	hooks   []func(Snapshot)

	cron *cron.Cron
}

func New(opts Options) *Catalog {
	if opts.Engine == nil {
		opts.Engine = filter.NewEngine(nil, nil)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Catalog{opts: opts}
}

// Snapshot returns the current batch.
func (c *Catalog) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// OnReload registers fn to run after every successful load.
func (c *Catalog) OnReload(fn func(Snapshot)) {
	c.hooksMu.Lock()
	c.hooks = append(c.hooks, fn)
	c.hooksMu.Unlock()
}

// Load reads the events file and the feeds and publishes a new snapshot.
// When the events file cannot be read the previous snapshot stays in place
// and the error is recorded on it. Feed failures only drop that feed.
func (c *Catalog) Load(ctx context.Context) error {
	now := c.opts.Engine.Now()

	items, err := c.opts.Events.Load()
	if err != nil {
		appLog.Error("catalog load failed", err, "path", c.opts.Events.Path)
		c.mu.Lock()
		c.snap.Err = err
		c.mu.Unlock()
		return err
	}

	if c.opts.Importer != nil && len(c.opts.Sources) > 0 {
		imported, errs := c.opts.Importer.Import(ctx, c.opts.Sources, now)
		for _, e := range errs {
			appLog.Error("feed import failed", e)
		}
		items = append(items, imported...)
	}

	ix := calendar.Build(items, calendar.DefaultKey(c.opts.Engine))
	if c.opts.MaxDots > 0 {
		ix.MaxDots = c.opts.MaxDots
	}
	snap := Snapshot{Items: items, Index: ix, LoadedAt: now}

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	appLog.Info("catalog loaded", "items", len(items), "days", ix.Len())

	c.hooksMu.Lock()
	hooks := append([]func(Snapshot){}, c.hooks...)
	c.hooksMu.Unlock()
	for _, fn := range hooks {
		fn(snap)
	}
	return nil
}

// Start schedules Load on spec, a standard five-field cron expression
// evaluated in the catalog location. Overlapping reloads are skipped.
func (c *Catalog) Start(ctx context.Context, spec string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil
	}
	cr := cron.New(
		cron.WithLocation(c.opts.Location),
		cron.WithLogger(cron.PrintfLogger(appLog.Logger())),
		cron.WithChain(cron.Recover(cron.PrintfLogger(appLog.Logger())), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := cr.AddFunc(spec, func() { _ = c.Load(ctx) }); err != nil {
		return err
	}
	cr.Start()
	c.cron = cr
	appLog.Info("catalog refresh scheduled", "cron", spec)
	return nil
}

// Stop cancels the schedule and waits for a running reload.
func (c *Catalog) Stop() {
	c.mu.Lock()
	cr := c.cron
	c.cron = nil
	c.mu.Unlock()
	if cr != nil {
		<-cr.Stop().Done()
	}
}
