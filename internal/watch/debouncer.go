package watch

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of file events into a single batch emitted
// after a quiet interval. Editors and git operations touch many files in
// quick succession; one engine run per burst is enough.
type Debouncer struct {
	interval time.Duration

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer

	out chan []string
}

// NewDebouncer creates a debouncer emitting batches on Out after the
// given quiet interval.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{
		interval: interval,
		pending:  make(map[string]struct{}),
		out:      make(chan []string, 1),
	}
}

// Out delivers batches of distinct paths seen since the previous batch.
func (d *Debouncer) Out() <-chan []string {
	return d.out
}

// Add records a path and (re)arms the quiet timer.
func (d *Debouncer) Add(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending[path] = struct{}{}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, d.flush)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	if len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	batch := make([]string, 0, len(d.pending))
	for p := range d.pending {
		batch = append(batch, p)
	}
	d.pending = make(map[string]struct{})
	d.mu.Unlock()

	select {
	case d.out <- batch:
	default:
		// Consumer is mid-run; merge into the next batch instead of
		// blocking the timer goroutine.
		d.mu.Lock()
		for _, p := range batch {
			d.pending[p] = struct{}{}
		}
		d.timer = time.AfterFunc(d.interval, d.flush)
		d.mu.Unlock()
	}
}

// Stop cancels any armed timer. Pending paths are discarded.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = make(map[string]struct{})
}
