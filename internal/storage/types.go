package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"studysched/internal/schedule"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// If Driver is empty the memory driver is used; "none" disables storage.
type Config struct {
	Driver      string
	Path        string        // file and sqlite
	BusyTimeout time.Duration // sqlite only; 0 means default

	Addr      string // redis
	Password  string
	DB        int
	KeyPrefix string
}

// ActivityStore holds scheduled activity instances per participant.
type ActivityStore interface {
	// Persisted returns the participant's instances that are not hidden at
	// now (HidesAfter > now), ordered by scheduled instant.
	Persisted(ctx context.Context, healthID string, now time.Time) ([]schedule.ScheduledActivity, error)
	Get(ctx context.Context, healthID, guid string) (schedule.ScheduledActivity, error)
	// GetMany returns the stored instances among guids in one read, hidden
	// ones included, in the order of guids. Unknown guids are skipped.
	GetMany(ctx context.Context, healthID string, guids []string) ([]schedule.ScheduledActivity, error)
	// Save upserts by (health id, guid).
	Save(ctx context.Context, acts []schedule.ScheduledActivity) error
	Delete(ctx context.Context, acts []schedule.ScheduledActivity) error
}

// EventStore holds named life-cycle event timestamps per participant.
type EventStore interface {
	EventMap(ctx context.Context, healthID string) (map[string]time.Time, error)
	PutEvent(ctx context.Context, healthID, eventID string, at time.Time) error
}

type Store interface {
	ActivityStore
	EventStore
	Close() error
}

// Failure is one instance a batch could not write.
type Failure struct {
	GUID string
	Err  error
}

// BatchError reports the instances of a batch that failed. Instances not
// listed were written.
type BatchError struct {
	Op       string
	Failures []Failure
}

func (e *BatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d instance(s) failed", e.Op, len(e.Failures))
	for i, f := range e.Failures {
		if i == 3 {
			fmt.Fprintf(&b, "; and %d more", len(e.Failures)-i)
			break
		}
		fmt.Fprintf(&b, "; %s: %v", f.GUID, f.Err)
	}
	return b.String()
}

func (e *BatchError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.Err)
	}
	return out
}

func (e *BatchError) GUIDs() []string {
	out := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.GUID)
	}
	return out
}

// batch collects per-instance failures for one operation.
type batch struct {
	op       string
	failures []Failure
}

func (b *batch) fail(guid string, err error) {
	b.failures = append(b.failures, Failure{GUID: guid, Err: err})
}

func (b *batch) failAll(acts []schedule.ScheduledActivity, err error) {
	for _, a := range acts {
		b.fail(a.GUID, err)
	}
}

func (b *batch) err() error {
	if len(b.failures) == 0 {
		return nil
	}
	return &BatchError{Op: b.op, Failures: b.failures}
}

var (
	errMissingKey      = errors.New("instance needs a guid and a health id")
	errMissingEventKey = errors.New("event needs a health id and an event id")
)

func checkKey(a schedule.ScheduledActivity) error {
	if strings.TrimSpace(a.GUID) == "" || strings.TrimSpace(a.HealthID) == "" {
		return errMissingKey
	}
	return nil
}
