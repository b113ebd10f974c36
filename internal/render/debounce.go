// Package render coalesces store mutations into repaints.
package render

import (
	"sync"
	"time"
)

// DefaultWindow is how long bursts of changes are collected before one
// repaint.
const DefaultWindow = 50 * time.Millisecond

// Frame describes one repaint.
type Frame struct {
	// ScrollToBottom is set when a change in the window asked to follow the
	// newest message.
	ScrollToBottom bool
	// Changes is the number of triggers folded into this frame.
	Changes int
}

// Debouncer turns many Trigger calls into at most one paint per window.
type Debouncer struct {
	window time.Duration
	paint  func(Frame)

	mu      sync.Mutex
	timer   *time.Timer
	pending Frame
	stopped bool
}

// NewDebouncer creates a debouncer calling paint at most once per window.
func NewDebouncer(window time.Duration, paint func(Frame)) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Debouncer{window: window, paint: paint}
}

// Trigger schedules a repaint.
func (d *Debouncer) Trigger(scroll bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.pending.Changes++
	d.pending.ScrollToBottom = d.pending.ScrollToBottom || scroll
	if d.timer == nil {
		d.timer = time.AfterFunc(d.window, d.fire)
	}
}

// Flush paints now if anything is pending.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
	d.fire()
}

// Stop drops pending work; later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = Frame{}
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	frame := d.pending
	d.pending = Frame{}
	d.timer = nil
	stopped := d.stopped
	d.mu.Unlock()

	if stopped || frame.Changes == 0 || d.paint == nil {
		return
	}
	d.paint(frame)
}
