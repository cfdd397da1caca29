package view

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"khojum/internal/lifecycle"
)

// lockedWriter serializes writes from the command loop and the tick
// goroutine. Callers write whole pages or batches of lines at once.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// TermDisplay prints countdown changes as lines. Update only records the
// new text; Flush writes every line that changed since the last flush.
type TermDisplay struct {
	mu      sync.Mutex
	w       io.Writer
	titles  map[string]string
	last    map[string]lifecycle.Status
	pending []string
}

func NewTermDisplay(w io.Writer) *TermDisplay {
	return &TermDisplay{
		w:      w,
		titles: map[string]string{},
		last:   map[string]lifecycle.Status{},
	}
}

// Reset replaces the known rows with what was just rendered, so the
// scheduler's first push for them is not printed twice.
func (d *TermDisplay) Reset(rows []row) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.titles = make(map[string]string, len(rows))
	d.last = make(map[string]lifecycle.Status, len(rows))
	d.pending = nil
	for _, r := range rows {
		d.titles[r.item.ID] = r.item.Title
		d.last[r.item.ID] = r.status
	}
}

func (d *TermDisplay) Update(id string, st lifecycle.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.last[id]; ok && prev == st {
		return
	}
	d.last[id] = st
	d.pending = append(d.pending, id)
}

func (d *TermDisplay) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return
	}
	var buf bytes.Buffer
	for _, id := range d.pending {
		title := d.titles[id]
		if title == "" {
			title = id
		}
		fmt.Fprintf(&buf, "  * %s: %s\n", title, d.last[id].Text)
	}
	d.pending = nil
	_, _ = d.w.Write(buf.Bytes())
}
