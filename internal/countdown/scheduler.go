// Package countdown keeps live countdown displays current with a single
// shared one-second driver.
package countdown

import (
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"khojum/internal/datetime"
	"khojum/internal/lifecycle"
	appLog "khojum/internal/log"
)

// Display receives recomputed statuses.
type Display interface {
	Update(id string, st lifecycle.Status)
}

// Flusher is an optional Display hook called once after every tick.
type Flusher interface {
	Flush()
}

// DisplayFunc adapts a function to Display.
type DisplayFunc func(id string, st lifecycle.Status)

func (f DisplayFunc) Update(id string, st lifecycle.Status) { f(id, st) }

// Target is a visible item that needs a countdown.
type Target struct {
	ID      string
	Start   datetime.Instant
	Options lifecycle.Options
}

func (t Target) sameSchedule(o Target) bool {
	return sameInstant(t.Start, o.Start) && sameInstant(t.Options.End, o.Options.End) && t.Options.Duration == o.Options.Duration
}

func sameInstant(a, b datetime.Instant) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Time.Equal(b.Time)
}

type entry struct {
	target Target
	since  time.Time
}

// Scheduler is the registry of live countdowns plus the tick driver.
// All methods are safe for concurrent use; ticks never overlap.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry
	display Display
	now     func() time.Time

	driver *cron.Cron
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(display Display, opts ...Option) *Scheduler {
	s := &Scheduler{
		entries: make(map[string]*entry),
		display: display,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync rebuilds the registry from the visible set. Entries for ids that are
// no longer visible are dropped; entries whose schedule is unchanged are
// kept as they are. New or rescheduled targets get an immediate update,
// and targets that are already terminal are pushed once without being
// registered.
func (s *Scheduler) Sync(targets []Target) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	next := make(map[string]*entry, len(targets))
	for _, t := range targets {
		if t.ID == "" {
			continue
		}
		if old, ok := s.entries[t.ID]; ok && old.target.sameSchedule(t) {
			old.target = t
			next[t.ID] = old
			continue
		}
		st := lifecycle.Classify(t.Start, now, t.Options)
		s.push(t.ID, st)
		if st.State.Terminal() {
			delete(next, t.ID)
			continue
		}
		next[t.ID] = &entry{target: t, since: now}
	}
	s.entries = next
	s.flush()
}

// Tick recomputes every registered countdown once and retires the ones
// that reached Expired.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, id := range s.sortedIDs() {
		e := s.entries[id]
		st := lifecycle.Classify(e.target.Start, now, e.target.Options)
		s.push(id, st)
		if st.State.Terminal() {
			delete(s.entries, id)
		}
	}
	s.flush()
}

// Start launches the shared driver. Calling Start on a running scheduler
// is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.driver != nil {
		return nil
	}

	logger := cron.PrintfLogger(appLog.Logger())
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc("@every 1s", s.Tick); err != nil {
		return err
	}
	c.Start()
	s.driver = c
	appLog.Debug("countdown driver started", "entries", len(s.entries))
	return nil
}

// Stop cancels the driver and waits for an in-flight tick to finish. The
// registry is kept so a later Start resumes where it left off.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.driver
	s.driver = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	appLog.Debug("countdown driver stopped")
}

// Running reports whether the driver is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driver != nil
}

// Len returns the number of active countdowns.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Has reports whether id is registered.
func (s *Scheduler) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// Since returns when id was (re)registered.
func (s *Scheduler) Since(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return e.since, true
}

func (s *Scheduler) sortedIDs() []string {
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Scheduler) push(id string, st lifecycle.Status) {
	if s.display != nil {
		s.display.Update(id, st)
	}
}

func (s *Scheduler) flush() {
	if f, ok := s.display.(Flusher); ok {
		f.Flush()
	}
}
