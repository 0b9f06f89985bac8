package notify

import (
	"testing"
	"time"
)

func receive[T any](t *testing.T, s *Subscription[T]) T {
	t.Helper()
	select {
	case v, ok := <-s.C():
		if !ok {
			t.Fatal("Subscription channel closed unexpectedly")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for delivery")
	}
	var zero T
	return zero
}

func TestHub_DeliversInPublishOrder(t *testing.T) {
	t.Parallel()

	hub := NewHub[int]()
	sub := hub.Subscribe()
	defer sub.Unsubscribe()

	for i := 0; i < 100; i++ {
		hub.Publish(i)
	}
	for i := 0; i < 100; i++ {
		if got := receive(t, sub); got != i {
			t.Fatalf("Expected %d, got %d", i, got)
		}
	}
}

func TestHub_SubscribeWithDeliversInitialFirst(t *testing.T) {
	t.Parallel()

	hub := NewHub[string]()
	sub := hub.SubscribeWith("initial")
	defer sub.Unsubscribe()
	hub.Publish("next")

	if got := receive(t, sub); got != "initial" {
		t.Errorf("Expected initial value first, got %q", got)
	}
	if got := receive(t, sub); got != "next" {
		t.Errorf("Expected published value second, got %q", got)
	}
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	hub := NewHub[int]()
	sub := hub.Subscribe()
	hub.Publish(1)
	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent

	if hub.Len() != 0 {
		t.Errorf("Expected no live subscriptions, got %d", hub.Len())
	}

	hub.Publish(2)
	for v := range sub.C() {
		if v == 2 {
			t.Fatal("Received a value published after Unsubscribe")
		}
	}
}

func TestHub_UnsubscribeFromReceiver(t *testing.T) {
	t.Parallel()

	hub := NewHub[int]()
	sub := hub.Subscribe()
	hub.Publish(1)
	hub.Publish(2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range sub.C() {
			sub.Unsubscribe()
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Unsubscribe from receiver deadlocked")
	}
}

func TestHub_Close(t *testing.T) {
	t.Parallel()

	hub := NewHub[int]()
	a := hub.Subscribe()
	b := hub.Subscribe()
	hub.Close()

	for _, s := range []*Subscription[int]{a, b} {
		if _, ok := <-s.C(); ok {
			t.Error("Expected channel to be closed after hub Close")
		}
	}

	late := hub.Subscribe()
	if _, ok := <-late.C(); ok {
		t.Error("Expected subscription on closed hub to be closed")
	}
	late.Unsubscribe()
}
