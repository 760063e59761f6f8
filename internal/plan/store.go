package plan

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"studysched/internal/config"
	"studysched/internal/schedule"
)

// Store returns the plans of a study that apply to a client.
type Store interface {
	Plans(ctx context.Context, ci schedule.ClientInfo, studyID string) ([]Plan, error)
}

// Registry is an in-memory Store. Plans are activated all-or-nothing: a set
// containing any invalid plan is rejected and the previous set stays active.
type Registry struct {
	mu    sync.RWMutex
	plans []Plan
}

// NewRegistry validates plans against study and activates them.
func NewRegistry(study config.StudyConfig, plans ...Plan) (*Registry, error) {
	r := &Registry{}
	if err := r.Replace(study, plans); err != nil {
		return nil, err
	}
	return r, nil
}

type planFile struct {
	Plans []Plan `json:"plans"`
}

// LoadFile reads a JSON or YAML plan file.
func LoadFile(path string) ([]Plan, error) {
	var f planFile
	if err := config.DecodeFile(path, &f); err != nil {
		return nil, err
	}
	return f.Plans, nil
}

// Replace validates plans and, only if all of them are valid, makes them the
// active set.
func (r *Registry) Replace(study config.StudyConfig, plans []Plan) error {
	var errs []error
	seen := make(map[string]int, len(plans))
	for i, p := range plans {
		if err := p.Validate(study); err != nil {
			errs = append(errs, fmt.Errorf("plans[%d] %q: %w", i, p.GUID, err))
		}
		if j, dup := seen[p.GUID]; dup && p.GUID != "" {
			errs = append(errs, fmt.Errorf("plans[%d]: guid %q already used by plans[%d]", i, p.GUID, j))
		}
		seen[p.GUID] = i
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	active := make([]Plan, len(plans))
	copy(active, plans)
	r.mu.Lock()
	r.plans = active
	r.mu.Unlock()
	return nil
}

// Reload loads path and replaces the active set with its plans.
func (r *Registry) Reload(path string, study config.StudyConfig) error {
	plans, err := LoadFile(path)
	if err != nil {
		return err
	}
	return r.Replace(study, plans)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plans)
}

func (r *Registry) Plans(ctx context.Context, ci schedule.ClientInfo, studyID string) ([]Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plan, 0, len(r.plans))
	for _, p := range r.plans {
		if p.StudyID == studyID && p.AppliesTo(ci) {
			out = append(out, p)
		}
	}
	return out, nil
}
