package eventbus

import (
	"sync"
	"testing"
)

func TestPublishFiltersByType(t *testing.T) {
	t.Parallel()
	b := New()
	finished, unsubFinished := b.Subscribe(4, TypeActivityFinished)
	defer unsubFinished()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()

	b.Publish(Event{Type: TypeActivityStarted, HealthID: "h1"})
	b.Publish(Event{Type: TypeActivityFinished, HealthID: "h1", Data: ActivityData{ActivityGUID: "a"}})

	if len(finished) != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", len(finished))
	}
	e := <-finished
	if e.Time.IsZero() {
		t.Fatal("publish must stamp the time")
	}
	if d, ok := e.Data.(ActivityData); !ok || d.ActivityGUID != "a" {
		t.Fatalf("data = %#v", e.Data)
	}
	if len(all) != 2 {
		t.Fatalf("unfiltered subscriber got %d events, want 2", len(all))
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()
	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: TypeReconciled})
	}
	if got := b.Dropped(); got != 4 {
		t.Fatalf("Dropped = %d, want 4", got)
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	t.Parallel()
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		ch, unsub := b.Subscribe(1)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range ch {
			}
		}()
		go func() {
			defer wg.Done()
			unsub()
			unsub()
		}()
	}
	for i := 0; i < 100; i++ {
		b.Publish(Event{Type: TypeActivityStarted})
	}
	wg.Wait()
}
