// Package eventbus carries participant life-cycle signals between components
// of one process.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	TypeActivityStarted  = "activity.started"
	TypeActivityFinished = "activity.finished"
	TypeReconciled       = "schedule.reconciled"
)

// Event is a small, JSON-serializable signal.
//
// Publish never blocks: subscribers get buffered channels and a slow
// subscriber drops events instead of stalling the publisher.
type Event struct {
	Type     string    `json:"type"`
	Time     time.Time `json:"time"`
	HealthID string    `json:"health_id,omitempty"`
	Data     any       `json:"data,omitempty"`
}

// ActivityData is the payload of activity.* events.
type ActivityData struct {
	InstanceGUID string `json:"instance_guid"`
	ActivityGUID string `json:"activity_guid"`
	// EventID is the life-cycle event recorded for the participant, if any.
	EventID string `json:"event_id,omitempty"`
}

// ReconciledData is the payload of schedule.reconciled events.
type ReconciledData struct {
	Saved   int `json:"saved"`
	Deleted int `json:"deleted"`
	Visible int `json:"visible"`
}

type Bus interface {
	Publish(e Event)
	// Subscribe delivers events of the given types, or all events when no
	// type is named.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
	// Dropped counts deliveries skipped because a subscriber was full.
	Dropped() uint64
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*subscriber{}}
}

type subscriber struct {
	ch    chan Event
	types map[string]bool
}

func (s *subscriber) wants(t string) bool {
	return len(s.types) == 0 || s.types[t]
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Send under the read lock so unsubscribe cannot close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[string]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
	return s.ch, unsub
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
