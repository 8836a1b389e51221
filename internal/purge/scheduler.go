package purge

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lucasew/blobpurge/internal/errutil"
	"github.com/lucasew/blobpurge/internal/notify"
	"github.com/lucasew/blobpurge/internal/throttle"
)

type State int

const (
	Idle State = iota
	Scanning
	Listening
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Listening:
		return "listening"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for _, c := range []State{Idle, Scanning, Listening} {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Status is a snapshot of the scheduler.
type Status struct {
	State     State     `json:"state"`
	Config    RunConfig `json:"config"`
	LastError string    `json:"last_error,omitempty"`

	// Threshold is the score cutoff being scanned, set only while scanning.
	Threshold *float64 `json:"threshold,omitempty"`
}

// Options wires a Scheduler to its collaborators.
type Options struct {
	Store     Store
	Backlinks Backlinks
	Probe     UsageProbe
	// Dir is the blob directory handed to Probe.
	Dir       string
	// Identity is the local author id; blobs it references are never deleted.
	Identity  string
	// Persisted is optional.
	Persisted PersistedConfig
	// Events is optional; a new notifier is created when nil.
	Events    *notify.Notifier[Event]
}

// Scheduler deletes the most disposable blobs until the blob directory fits
// under the storage limit, then waits for new blobs before trying again.
//
// All state transitions happen under mu. The scan and the change listener
// run in their own goroutine and at most one of them is alive at a time.
type Scheduler struct {
	store     Store
	oracle    *OwnershipOracle
	probe     UsageProbe
	dir       string
	persisted PersistedConfig
	events    *notify.Notifier[Event]
	now       func() time.Time

	mu      sync.Mutex
	cfg     RunConfig
	state   State
	task    *task
	lastErr error
}

// task is the one cancellable operation in flight: a scan or a listener.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
	rung   atomic.Int32
}

func NewScheduler(opts Options) (*Scheduler, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: missing blob store", ErrConfiguration)
	}
	if opts.Backlinks == nil {
		return nil, fmt.Errorf("%w: missing backlink index", ErrConfiguration)
	}
	if opts.Probe == nil {
		return nil, fmt.Errorf("%w: missing usage probe", ErrConfiguration)
	}
	if opts.Identity == "" {
		return nil, fmt.Errorf("%w: missing local identity", ErrConfiguration)
	}

	events := opts.Events
	if events == nil {
		events = notify.New[Event]()
	}

	return &Scheduler{
		store:     opts.Store,
		oracle:    &OwnershipOracle{Index: opts.Backlinks, Identity: opts.Identity},
		probe:     opts.Probe,
		dir:       opts.Dir,
		persisted: opts.Persisted,
		events:    events,
		now:       time.Now,
	}, nil
}

// Subscribe returns a live feed of scheduler events. Close it when done.
func (s *Scheduler) Subscribe() *notify.Subscription[Event] {
	return s.events.Subscribe()
}

// Start resolves the run limits and begins a purge cycle, cancelling whatever
// was running. Calling it again with the same limits while the scheduler is
// active and healthy does nothing. Usage probe failures are returned.
func (s *Scheduler) Start(ctx context.Context, arg Overrides) error {
	var persisted Overrides
	if s.persisted != nil {
		p, err := s.persisted()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		persisted = p
	}
	cfg, err := Resolve(persisted, arg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Idle && s.lastErr == nil && s.cfg == cfg {
		slog.Debug("Purge task already running", "state", s.state)
		return nil
	}

	s.cfg = cfg
	s.cancelTaskLocked()
	s.state = Idle
	s.lastErr = nil
	slog.Info("Started the purge task", "limit_mb", bytesToMB(cfg.StorageLimit), "cpu_max", cfg.CPUMax)

	if err := s.resumeLocked(ctx); err != nil {
		s.lastErr = err
		return err
	}
	return nil
}

// Stop cancels any scan or listener and returns to Idle. A deletion already
// in progress is allowed to finish first.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Idle && s.task == nil {
		return
	}
	s.cancelTaskLocked()
	s.state = Idle
	slog.Info("Stopped the purge task")
}

// Close stops the scheduler and ends every event subscription.
func (s *Scheduler) Close() {
	s.Stop()
	s.events.Close()
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{State: s.state, Config: s.cfg}
	if s.state == Scanning && s.task != nil {
		th := Thresholds[s.task.rung.Load()]
		st.Threshold = &th
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func (s *Scheduler) cancelTaskLocked() {
	if s.task == nil {
		return
	}
	t := s.task
	s.task = nil
	t.cancel()
	<-t.done
}

func (s *Scheduler) resumeLocked(ctx context.Context) error {
	s.events.Publish(Event{Kind: Resumed})

	used, err := s.probe.Measure(ctx, s.dir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProbe, err)
	}

	if used < s.cfg.StorageLimit {
		slog.Debug("Blobs directory already fits within the limit",
			"used_mb", bytesToMB(used), "limit_mb", bytesToMB(s.cfg.StorageLimit))
		s.pauseLocked()
		return nil
	}

	s.cancelTaskLocked()

	scanCtx, cancel := context.WithCancel(context.Background())
	d := throttle.New[Blob](throttle.Options{Ceiling: s.cfg.CPUMax, Wait: throttle.DefaultWait})
	t := &task{
		cancel: func() {
			d.Abort()
			cancel()
		},
		done: make(chan struct{}),
	}
	s.task = t
	s.state = Scanning

	cfg := s.cfg
	go func() {
		outcome, err := d.Run(scanCtx, s.candidates(scanCtx, t), func(ctx context.Context, b Blob) (bool, error) {
			return s.maybeDelete(ctx, cfg, b)
		})
		cancel()
		close(t.done)
		s.finish(t, outcome, err)
	}()
	return nil
}

// pauseLocked announces the pause and waits for new blobs.
func (s *Scheduler) pauseLocked() {
	slog.Info("Paused the purge task")
	s.events.Publish(Event{Kind: Paused})
	s.listenLocked()
}

func (s *Scheduler) listenLocked() {
	s.cancelTaskLocked()

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}
	s.task = t
	s.state = Listening

	go func() {
		burst, err := waitForBurst(ctx, s.store.Changes(ctx), BurstSize)
		cancel()
		close(t.done)

		if err != nil && ctx.Err() == nil {
			errutil.ReportError(err, "Blob change feed failed")
			return
		}
		if !burst {
			return
		}
		slog.Info("Resuming the purge task because new blobs have been added")
		s.resumeFrom(t)
	}()
}

// resumeFrom starts a new cycle if t is still the active listener.
func (s *Scheduler) resumeFrom(t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.task != t {
		return
	}
	s.task = nil
	if err := s.resumeLocked(context.Background()); err != nil {
		s.lastErr = err
		errutil.ReportError(err, "Failed to resume the purge task")
	}
}

// finish handles the end of scan t.
func (s *Scheduler) finish(t *task, outcome throttle.Outcome, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.task != t {
		return
	}
	s.task = nil

	switch outcome {
	case throttle.Stopped:
		slog.Debug("Blobs directory now fits within the limit", "limit_mb", bytesToMB(s.cfg.StorageLimit))
		s.pauseLocked()
	case throttle.Exhausted:
		slog.Debug("Scanned every threshold", "limit_mb", bytesToMB(s.cfg.StorageLimit))
		s.pauseLocked()
	case throttle.Failed:
		// State stays Scanning until the host stops or restarts the task.
		s.lastErr = err
		errutil.ReportError(err, "Purge scan failed")
	}
}

// candidates yields, for each threshold in turn, the blobs scoring above it.
// Listings are lazy: a threshold is expanded only once the previous one ran out.
func (s *Scheduler) candidates(ctx context.Context, t *task) iter.Seq2[Blob, error] {
	return func(yield func(Blob, error) bool) {
		for i, th := range Thresholds {
			t.rung.Store(int32(i))
			now := s.now()
			for b, err := range s.store.List(ctx) {
				if err != nil {
					yield(Blob{}, fmt.Errorf("failed to list blobs: %w", err))
					return
				}
				if Score(b, now) <= th {
					continue
				}
				if !yield(b, nil) {
					return
				}
			}
		}
	}
}

// maybeDelete removes b when the directory is still over the limit and b is
// not referenced by the local identity. It stops the scan once under the limit.
func (s *Scheduler) maybeDelete(ctx context.Context, cfg RunConfig, b Blob) (bool, error) {
	used, err := s.probe.Measure(ctx, s.dir)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrProbe, err)
	}
	if used <= cfg.StorageLimit {
		return true, nil
	}

	mine, err := s.oracle.IsOwnedByMe(ctx, b.ID, cfg.CPUMax)
	if err != nil {
		return false, err
	}
	if mine {
		slog.Debug("Keeping blob referenced by our own records", "blob_id", b.ID)
		return false, nil
	}

	slog.Debug("Blobs directory occupies too much space", "used_mb", bytesToMB(used))
	slog.Debug("Deleting blob", "blob_id", b.ID, "size_mb", bytesToMB(b.Size))
	if err := s.store.Remove(ctx, b.ID); err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrDeletion, b.ID, err)
	}
	s.events.Publish(Event{Kind: Deleted, BlobID: b.ID})
	return false, nil
}

func bytesToMB(x int64) int64 {
	return int64(math.Round(float64(x) / (1 << 20)))
}
