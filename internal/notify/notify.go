// Package notify is a fan-out broadcaster. Every subscriber receives every
// value published after it subscribed, in order. Publishing never blocks:
// each subscriber has its own unbounded queue drained by a goroutine.
package notify

import "sync"

type Notifier[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

func New[T any]() *Notifier[T] {
	return &Notifier[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscription is one listener. Read values from C until it is closed.
type Subscription[T any] struct {
	C <-chan T

	n       *Notifier[T]
	out     chan T
	mu      sync.Mutex
	pending []T
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Subscribe registers a new listener. Values published before this call are
// not delivered.
func (n *Notifier[T]) Subscribe() *Subscription[T] {
	out := make(chan T)
	s := &Subscription[T]{
		C:    out,
		n:    n,
		out:  out,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(out)
		return s
	}
	n.subs[s] = struct{}{}
	n.mu.Unlock()

	go s.pump()
	return s
}

// Publish queues v for every current subscriber.
func (n *Notifier[T]) Publish(v T) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for s := range n.subs {
		s.push(v)
	}
}

// Len returns the number of active subscriptions.
func (n *Notifier[T]) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// Close ends every subscription. Later subscriptions are closed immediately.
func (n *Notifier[T]) Close() {
	n.mu.Lock()
	subs := n.subs
	n.subs = make(map[*Subscription[T]]struct{})
	n.closed = true
	n.mu.Unlock()

	for s := range subs {
		s.stop()
	}
}

// Close unsubscribes. Queued values not yet received are dropped.
func (s *Subscription[T]) Close() {
	s.n.mu.Lock()
	delete(s.n.subs, s)
	s.n.mu.Unlock()
	s.stop()
}

func (s *Subscription[T]) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription[T]) push(v T) {
	s.mu.Lock()
	s.pending = append(s.pending, v)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()

		for _, v := range batch {
			select {
			case s.out <- v:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}
