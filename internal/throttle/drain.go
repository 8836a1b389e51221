// Package throttle drives a lazy sequence through a step function while
// keeping the share of wall-clock time spent inside steps under a ceiling.
//
// A Drain sleeps between items whenever the time spent working in the
// current measurement window exceeds the configured percentage of the time
// elapsed in it. It is single-use: create one per iteration.
package throttle

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"
)

// Outcome tells how a Drain finished.
type Outcome int

const (
	// Exhausted means the source ran out of items.
	Exhausted Outcome = iota
	// Stopped means the step function asked to stop.
	Stopped
	// Aborted means Abort was called or the parent context ended.
	Aborted
	// Failed means the source or a step returned an error.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Exhausted:
		return "exhausted"
	case Stopped:
		return "stopped"
	case Aborted:
		return "aborted"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

const (
	DefaultCeiling = 50
	DefaultWait    = 60 * time.Millisecond
	DefaultWindow  = time.Second
)

// Options configures a Drain. Zero values pick the defaults.
type Options struct {
	// Ceiling is the maximum percentage (0, 100] of wall time spent in steps.
	Ceiling float64
	// Wait is the minimum length of a cooperative pause.
	Wait time.Duration
	// Window is how long busy time accumulates before the accounting resets.
	Window time.Duration
}

func (o Options) withDefaults() Options {
	if o.Ceiling <= 0 {
		o.Ceiling = DefaultCeiling
	}
	if o.Ceiling > 100 {
		o.Ceiling = 100
	}
	if o.Wait <= 0 {
		o.Wait = DefaultWait
	}
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	return o
}

// Step processes one item. Returning stop=true ends the drain with Stopped.
// The context is cancelled when the drain is aborted.
type Step[T any] func(ctx context.Context, item T) (stop bool, err error)

// Drain is a cancellable, rate limited consumer of one sequence.
type Drain[T any] struct {
	opts Options

	mu      sync.Mutex
	aborted bool
	cancel  context.CancelFunc

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New[T any](opts Options) *Drain[T] {
	return &Drain[T]{
		opts:  opts.withDefaults(),
		now:   time.Now,
		sleep: sleepContext,
	}
}

// Abort stops the drain. Once Abort returns no new step is started; a step
// already running may finish but its result is discarded. Safe to call more
// than once and before Run.
func (d *Drain[T]) Abort() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.aborted = true
	if d.cancel != nil {
		d.cancel()
	}
}

// enter reports whether another step may start.
func (d *Drain[T]) enter(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.aborted && ctx.Err() == nil
}

// Run consumes seq, calling step for each item, and returns once: when the
// source is exhausted, the step stops, the drain is aborted, or an error
// occurs. The error is non-nil only for Failed.
func (d *Drain[T]) Run(ctx context.Context, seq iter.Seq2[T, error], step Step[T]) (Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	if d.aborted {
		d.mu.Unlock()
		return Aborted, nil
	}
	d.cancel = cancel
	d.mu.Unlock()

	windowStart := d.now()
	var busy time.Duration

	for item, err := range seq {
		if !d.enter(ctx) {
			return Aborted, nil
		}
		if err != nil {
			return Failed, err
		}

		started := d.now()
		stop, err := step(ctx, item)
		finished := d.now()
		busy += finished.Sub(started)

		if !d.enter(ctx) {
			return Aborted, nil
		}
		if err != nil {
			return Failed, err
		}
		if stop {
			return Stopped, nil
		}

		elapsed := finished.Sub(windowStart)
		if pause := d.pauseFor(busy, elapsed); pause > 0 {
			if err := d.sleep(ctx, pause); err != nil {
				return Aborted, nil
			}
			windowStart = d.now()
			busy = 0
		} else if elapsed >= d.opts.Window {
			windowStart = finished
			busy = 0
		}
	}

	if !d.enter(ctx) {
		return Aborted, nil
	}
	return Exhausted, nil
}

// pauseFor returns how long to sleep so that busy is at most Ceiling percent
// of the window, never less than Wait. Zero means no pause is needed.
func (d *Drain[T]) pauseFor(busy, elapsed time.Duration) time.Duration {
	ratio := d.opts.Ceiling / 100
	if float64(busy) <= ratio*float64(elapsed) {
		return 0
	}
	pause := time.Duration(float64(busy)/ratio) - elapsed
	if pause < d.opts.Wait {
		pause = d.opts.Wait
	}
	return pause
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Values adapts a slice to the sequence shape Run expects.
func Values[T any](items []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}
