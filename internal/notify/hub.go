// Package notify provides ordered, cancellable in-process fan-out used to
// relay session changes and live query states to their listeners.
package notify

import (
	"sync"
)

// Hub fans values out to every live Subscription. Publish never blocks;
// each subscription buffers pending values and delivers them in publish order.
type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

// NewHub creates an empty hub
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscribe registers a new listener
func (h *Hub[T]) Subscribe() *Subscription[T] {
	return h.subscribe(nil)
}

// SubscribeWith registers a new listener whose first delivery is initial.
// No published value can be delivered ahead of initial.
func (h *Hub[T]) SubscribeWith(initial T) *Subscription[T] {
	return h.subscribe(&initial)
}

func (h *Hub[T]) subscribe(initial *T) *Subscription[T] {
	s := &Subscription[T]{
		hub:    h,
		wake:   make(chan struct{}, 1),
		out:    make(chan T),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	if initial != nil {
		s.queue = append(s.queue, *initial)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(s.done)
		close(s.out)
		close(s.exited)
		return s
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	go s.pump()
	return s
}

// Publish queues v for every current subscriber
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		s.push(v)
	}
}

// Len returns the number of live subscriptions
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close unsubscribes every listener; later subscriptions are closed immediately
func (h *Hub[T]) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription[T], 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}

func (h *Hub[T]) remove(s *Subscription[T]) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// Subscription is an explicit, cancellable registration on a Hub.
type Subscription[T any] struct {
	hub *Hub[T]

	mu    sync.Mutex
	queue []T

	wake   chan struct{}
	out    chan T
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

// C returns the delivery channel. It is closed after Unsubscribe.
func (s *Subscription[T]) C() <-chan T {
	return s.out
}

// Unsubscribe stops delivery. When it returns no further value will be
// delivered on C. It is idempotent and safe to call from the receiving goroutine.
func (s *Subscription[T]) Unsubscribe() {
	s.once.Do(func() {
		s.hub.remove(s)
		select {
		case <-s.done:
		default:
			close(s.done)
		}
	})
	<-s.exited
}

func (s *Subscription[T]) push(v T) {
	s.mu.Lock()
	s.queue = append(s.queue, v)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) pump() {
	defer close(s.exited)
	defer close(s.out)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		v := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		// done is checked first so a cancelled subscription never wins a race
		// against a ready receiver.
		select {
		case <-s.done:
			return
		default:
		}
		select {
		case s.out <- v:
		case <-s.done:
			return
		}
	}
}
