package purge

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"
)

const me = "@me"

type fakeStore struct {
	mu        sync.Mutex
	blobs     []Blob
	removed   []string
	removeErr error
	// blockRemove makes Remove wait for ctx and signal on removing first.
	blockRemove bool
	removing    chan string

	changes   chan string
	listCalls int
}

func newFakeStore(blobs ...Blob) *fakeStore {
	return &fakeStore{
		blobs:    blobs,
		changes:  make(chan string),
		removing: make(chan string, 16),
	}
}

func (s *fakeStore) List(ctx context.Context) iter.Seq2[Blob, error] {
	return func(yield func(Blob, error) bool) {
		s.mu.Lock()
		s.listCalls++
		snapshot := append([]Blob(nil), s.blobs...)
		s.mu.Unlock()
		for _, b := range snapshot {
			if !yield(b, nil) {
				return
			}
		}
	}
}

func (s *fakeStore) Remove(ctx context.Context, id string) error {
	if s.blockRemove {
		s.removing <- id
		<-ctx.Done()
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeErr != nil {
		return s.removeErr
	}
	for i, b := range s.blobs {
		if b.ID == id {
			s.blobs = append(s.blobs[:i], s.blobs[i+1:]...)
			break
		}
	}
	s.removed = append(s.removed, id)
	return nil
}

func (s *fakeStore) Changes(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case id := <-s.changes:
				if !yield(id, nil) {
					return
				}
			}
		}
	}
}

func (s *fakeStore) Removed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.removed...)
}

func (s *fakeStore) size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, b := range s.blobs {
		total += b.Size
	}
	return total
}

// fakeProbe reports base plus whatever the store still holds.
type fakeProbe struct {
	base  int64
	store *fakeStore
	err   error
}

func (p *fakeProbe) Measure(ctx context.Context, path string) (int64, error) {
	if p.err != nil {
		return 0, p.err
	}
	return p.base + p.store.size(), nil
}

type fakeIndex struct {
	refs map[string][]Reference
	err  error
}

func (i *fakeIndex) ReadReferencing(ctx context.Context, id string) iter.Seq2[Reference, error] {
	return func(yield func(Reference, error) bool) {
		if i.err != nil {
			yield(Reference{}, i.err)
			return
		}
		for _, r := range i.refs[id] {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func oldBlob(id string, size int64, age time.Duration) Blob {
	return Blob{ID: id, Size: size, Timestamp: time.Now().Add(-age)}
}

func newTestScheduler(t *testing.T, store *fakeStore, probe UsageProbe, index Backlinks) *Scheduler {
	t.Helper()
	s, err := NewScheduler(Options{
		Store:     store,
		Backlinks: index,
		Probe:     probe,
		Dir:       "/blobs",
		Identity:  me,
	})
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// fullSpeed keeps the throttle from sleeping in tests.
var fullSpeed = Overrides{StorageLimit: 10e9, CPUMax: 100}

func nextEvent(t *testing.T, c <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-c:
		if !ok {
			t.Fatal("event stream closed")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an event")
	}
	return Event{}
}

func expectEvents(t *testing.T, c <-chan Event, want ...Event) {
	t.Helper()
	for _, w := range want {
		if got := nextEvent(t, c); got != w {
			t.Fatalf("expected %s, got %s", w, got)
		}
	}
}

func expectQuiet(t *testing.T, c <-chan Event) {
	t.Helper()
	select {
	case ev := <-c:
		t.Fatalf("unexpected event %s", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var errBoom = errors.New("boom")
