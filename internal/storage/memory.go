package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"studysched/internal/schedule"
)

type memoryStore struct {
	mu         sync.RWMutex
	activities map[string]map[string]schedule.ScheduledActivity
	events     map[string]map[string]time.Time
}

// NewMemory returns an empty process-local store.
func NewMemory() Store { return newMemory() }

func newMemory() *memoryStore {
	return &memoryStore{
		activities: map[string]map[string]schedule.ScheduledActivity{},
		events:     map[string]map[string]time.Time{},
	}
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) Persisted(ctx context.Context, healthID string, now time.Time) ([]schedule.ScheduledActivity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schedule.ScheduledActivity, 0, len(s.activities[healthID]))
	for _, a := range s.activities[healthID] {
		if visibleAt(a, now) {
			out = append(out, a)
		}
	}
	sortByScheduledOn(out)
	return out, nil
}

func (s *memoryStore) Get(ctx context.Context, healthID, guid string) (schedule.ScheduledActivity, error) {
	if err := ctx.Err(); err != nil {
		return schedule.ScheduledActivity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.activities[healthID][guid]
	if !ok {
		return schedule.ScheduledActivity{}, ErrNotFound
	}
	return a, nil
}

func (s *memoryStore) GetMany(ctx context.Context, healthID string, guids []string) ([]schedule.ScheduledActivity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []schedule.ScheduledActivity
	for _, g := range guids {
		if a, ok := s.activities[healthID][g]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memoryStore) Save(ctx context.Context, acts []schedule.ScheduledActivity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := batch{op: "save"}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range acts {
		if err := checkKey(a); err != nil {
			b.fail(a.GUID, err)
			continue
		}
		s.putLocked(a)
	}
	return b.err()
}

func (s *memoryStore) putLocked(a schedule.ScheduledActivity) {
	m := s.activities[a.HealthID]
	if m == nil {
		m = map[string]schedule.ScheduledActivity{}
		s.activities[a.HealthID] = m
	}
	m[a.GUID] = a
}

func (s *memoryStore) Delete(ctx context.Context, acts []schedule.ScheduledActivity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range acts {
		s.deleteLocked(a.HealthID, a.GUID)
	}
	return nil
}

func (s *memoryStore) deleteLocked(healthID, guid string) {
	m := s.activities[healthID]
	delete(m, guid)
	if len(m) == 0 {
		delete(s.activities, healthID)
	}
}

func (s *memoryStore) EventMap(ctx context.Context, healthID string) (map[string]time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]time.Time, len(s.events[healthID]))
	for k, v := range s.events[healthID] {
		out[k] = v
	}
	return out, nil
}

func (s *memoryStore) PutEvent(ctx context.Context, healthID, eventID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	healthID, eventID = strings.TrimSpace(healthID), strings.TrimSpace(eventID)
	if healthID == "" || eventID == "" {
		return errMissingEventKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putEventLocked(healthID, eventID, at.UTC())
	return nil
}

func (s *memoryStore) putEventLocked(healthID, eventID string, at time.Time) {
	m := s.events[healthID]
	if m == nil {
		m = map[string]time.Time{}
		s.events[healthID] = m
	}
	m[eventID] = at
}
