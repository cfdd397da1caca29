// Package view is the terminal listing page: it owns the loaded items, the
// current filter and sort, and the live countdowns of what is on screen.
package view

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"khojum/internal/countdown"
	"khojum/internal/filter"
	"khojum/internal/lifecycle"
	appLog "khojum/internal/log"
	"khojum/internal/model"
	"khojum/internal/prefs"
)

// BannerLoadFailed is shown in place of the list when a fetch fails.
const BannerLoadFailed = "Could not load listings. Please try again later."

// Fetcher loads the item batch.
type Fetcher interface {
	FetchItems(ctx context.Context) ([]model.Item, error)
}

type Options struct {
	Variant filter.Variant
	// Duration is the estimated event length when an item has no end.
	Duration time.Duration
	SoonDays int
	Location *time.Location
}

type Controller struct {
	fetcher Fetcher
	engine  *filter.Engine
	prefs   *prefs.Store
	opts    Options
	// out is shared with the display, whose flushes run on the tick
	// goroutine.
	out *lockedWriter

	display   *TermDisplay
	scheduler *countdown.Scheduler

	mu     sync.Mutex
	items  []model.Item
	spec   filter.Spec
	sort   filter.SortKey
	banner string
	gen    uint64
	closed bool
}

// New restores the saved filter and sort for the variant. store may be
// nil, in which case nothing is persisted.
func New(fetcher Fetcher, engine *filter.Engine, store *prefs.Store, out io.Writer, opts Options) *Controller {
	if opts.Variant.Name == "" {
		opts.Variant = filter.Events
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	c := &Controller{
		fetcher: fetcher,
		engine:  engine,
		prefs:   store,
		opts:    opts,
		out:     &lockedWriter{w: out},
		spec:    filter.DefaultSpec(),
		sort:    opts.Variant.DefaultSort,
	}
	c.display = NewTermDisplay(c.out)
	if store != nil {
		c.spec, c.sort = store.Load(opts.Variant)
	}
	c.scheduler = countdown.New(c.display, countdown.WithClock(engine.Now))
	return c
}

// Scheduler exposes the countdown driver so callers can Start it.
func (c *Controller) Scheduler() *countdown.Scheduler { return c.scheduler }

// Load fetches a fresh batch and renders it. Only the most recent call
// applies its result; a load that finishes after a newer one started, or
// after Close, is dropped. A failed fetch empties the list and shows the
// banner; the countdowns of the items it replaced are dropped.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	items, err := c.fetcher.FetchItems(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen {
		appLog.Debug("discarding stale load", "generation", gen)
		return nil
	}
	if err != nil {
		appLog.Error("failed to load listings", err)
		c.items = nil
		c.banner = BannerLoadFailed
		c.renderLocked(c.out)
		return err
	}
	c.items = items
	c.banner = ""
	c.renderLocked(c.out)
	return nil
}

// Close stops the countdowns and invalidates loads still in flight.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.gen++
	c.mu.Unlock()
	c.scheduler.Stop()
}

func (c *Controller) Spec() filter.Spec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spec
}

func (c *Controller) SortKey() filter.SortKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sort
}

// SetFilter applies a filter button value ("all", "today", "Free", a
// category). The current search term is kept.
func (c *Controller) SetFilter(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spec = filter.ParseFilterKey(key).WithSearch(c.spec.Search)
	if c.prefs != nil {
		if err := c.prefs.SaveFilter(c.spec); err != nil {
			appLog.Error("failed to save filter preference", err)
		}
	}
	c.renderLocked(c.out)
}

// SetSort switches the comparator. Names the variant does not offer fall
// back to its default.
func (c *Controller) SetSort(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sort = c.opts.Variant.ParseSort(name)
	if c.prefs != nil {
		if err := c.prefs.SaveSort(c.sort); err != nil {
			appLog.Error("failed to save sort preference", err)
		}
	}
	c.renderLocked(c.out)
}

func (c *Controller) SetSearch(term string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spec = c.spec.WithSearch(term)
	c.renderLocked(c.out)
}

// Render writes the current page to w and points the countdowns at the
// visible items.
func (c *Controller) Render(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renderLocked(w)
}

// Visible returns the filtered and sorted items currently on screen.
func (c *Controller) Visible() []model.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visibleLocked()
}

func (c *Controller) visibleLocked() []model.Item {
	return c.engine.Apply(filter.ByVariant(c.items, c.opts.Variant), c.spec, c.sort)
}

type row struct {
	item   model.Item
	status lifecycle.Status
	expiry *lifecycle.Expiry
	target countdown.Target
}

func (c *Controller) options(it model.Item) lifecycle.Options {
	return lifecycle.Options{
		Duration:    c.opts.Duration,
		End:         c.engine.End(it),
		ExpiredText: c.opts.Variant.ExpiredText,
	}
}

func (c *Controller) rows(items []model.Item, now time.Time) []row {
	out := make([]row, 0, len(items))
	for _, it := range items {
		start := c.engine.Instant(it)
		opts := c.options(it)
		r := row{
			item:   it,
			status: lifecycle.Classify(start, now, opts),
			target: countdown.Target{ID: it.ID, Start: start, Options: opts},
		}
		if it.Kind == model.KindDeal {
			exp := lifecycle.ClassifyExpiry(c.engine.Parser.ParseDate(it.ExpiryDate), now, c.opts.Location, c.opts.SoonDays)
			r.expiry = &exp
		}
		out = append(out, r)
	}
	return out
}

// renderLocked writes the page to w in a single Write and points the
// countdowns at what it showed. With the banner up nothing is visible, so
// every countdown is dropped.
func (c *Controller) renderLocked(w io.Writer) {
	now := c.engine.Now()
	var rows []row
	if c.banner == "" {
		rows = c.rows(c.visibleLocked(), now)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "== %s (%d) | filter: %s | sort: %s", c.opts.Variant.Name, len(rows), c.spec.Key(), c.sort)
	if c.spec.Search != "" {
		fmt.Fprintf(&buf, " | search: %q", c.spec.Search)
	}
	fmt.Fprintln(&buf)

	switch {
	case c.banner != "":
		fmt.Fprintln(&buf, c.banner)
	case len(rows) == 0:
		fmt.Fprintf(&buf, "No %s found.\n", c.opts.Variant.Name)
	}
	for _, r := range rows {
		writeCard(&buf, r)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		appLog.Error("failed to write page", err)
	}

	c.display.Reset(rows)
	targets := make([]countdown.Target, 0, len(rows))
	for _, r := range rows {
		targets = append(targets, r.target)
	}
	c.scheduler.Sync(targets)
}

func writeCard(w io.Writer, r row) {
	it := r.item
	fmt.Fprintf(w, "- %s", it.Title)
	if it.IsFeatured {
		fmt.Fprint(w, " [featured]")
	}
	fmt.Fprintln(w)

	var meta []string
	when := strings.TrimSpace(strings.TrimSpace(it.DateText) + " " + strings.TrimSpace(it.TimeText))
	if when != "" {
		meta = append(meta, when)
	}
	if len(it.Category) > 0 {
		meta = append(meta, strings.Join(it.Category, ", "))
	}
	if p := it.DisplayPrice().String(); p != "" {
		meta = append(meta, p)
	}
	if it.Location != "" {
		meta = append(meta, it.Location)
	}
	if len(meta) > 0 {
		fmt.Fprintf(w, "  %s\n", strings.Join(meta, " | "))
	}

	if r.expiry != nil {
		fmt.Fprintf(w, "  %s\n", r.expiry.Text)
		return
	}
	fmt.Fprintf(w, "  %s\n", r.status.Text)
}
