// Package survey freezes floating survey references to concrete published
// versions so a participant's assigned content cannot change after generation.
package survey

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"studysched/internal/config"
	"studysched/internal/schedule"
)

var ErrNotPublished = errors.New("survey has no published version")

// Resolver returns ref pinned to the most recently published version of its
// survey. Pinned references are returned unchanged.
type Resolver interface {
	MostRecentPublished(ctx context.Context, ref schedule.SurveyReference) (schedule.SurveyReference, error)
}

// Version is one revision of a survey.
type Version struct {
	GUID       string    `json:"guid"`
	Identifier string    `json:"identifier,omitempty"`
	CreatedOn  time.Time `json:"created_on"`
	Published  bool      `json:"published"`
}

// Catalog is an in-memory Resolver. It is safe for concurrent use and can be
// swapped wholesale with Replace.
type Catalog struct {
	mu     sync.RWMutex
	latest map[string]Version
}

func NewCatalog(versions ...Version) *Catalog {
	c := &Catalog{}
	c.Replace(versions)
	return c
}

type catalogFile struct {
	Surveys []Version `json:"surveys"`
}

// LoadCatalog reads a JSON or YAML catalog file of survey versions.
func LoadCatalog(path string) (*Catalog, error) {
	var f catalogFile
	if err := config.DecodeFile(path, &f); err != nil {
		return nil, err
	}
	for i, v := range f.Surveys {
		if strings.TrimSpace(v.GUID) == "" {
			return nil, fmt.Errorf("%s: surveys[%d].guid is required", path, i)
		}
	}
	return NewCatalog(f.Surveys...), nil
}

// Replace swaps in a new set of versions, keeping only the latest published
// one per survey guid.
func (c *Catalog) Replace(versions []Version) {
	latest := make(map[string]Version, len(versions))
	for _, v := range versions {
		if !v.Published {
			continue
		}
		if cur, ok := latest[v.GUID]; !ok || v.CreatedOn.After(cur.CreatedOn) {
			latest[v.GUID] = v
		}
	}
	c.mu.Lock()
	c.latest = latest
	c.mu.Unlock()
}

// Versions returns the latest published version of every survey, ordered
// by guid.
func (c *Catalog) Versions() []Version {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Version, 0, len(c.latest))
	for _, v := range c.latest {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b Version) int { return strings.Compare(a.GUID, b.GUID) })
	return out
}

// GUIDs lists the surveys that have a published version.
func (c *Catalog) GUIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.latest))
	for g := range c.latest {
		out = append(out, g)
	}
	slices.Sort(out)
	return out
}

func (c *Catalog) MostRecentPublished(ctx context.Context, ref schedule.SurveyReference) (schedule.SurveyReference, error) {
	if ref.Pinned() {
		return ref, nil
	}
	if err := ctx.Err(); err != nil {
		return ref, err
	}
	c.mu.RLock()
	v, ok := c.latest[ref.GUID]
	c.mu.RUnlock()
	if !ok {
		return ref, fmt.Errorf("survey %s: %w", ref.GUID, ErrNotPublished)
	}
	if ref.Identifier == "" {
		ref.Identifier = v.Identifier
	}
	return ref.WithCreatedOn(v.CreatedOn), nil
}

type pinResult struct {
	ref schedule.SurveyReference
	err error
}

// Cache memoizes resolutions by survey guid for the lifetime of one request.
// It is not safe for concurrent use.
type Cache struct {
	r      Resolver
	pinned map[string]pinResult
}

func NewCache(r Resolver) *Cache {
	return &Cache{r: r, pinned: map[string]pinResult{}}
}

// Pin resolves ref through the underlying Resolver at most once per survey
// guid and returns the resolved reference. Without a Resolver, references are
// returned unchanged.
func (c *Cache) Pin(ctx context.Context, ref schedule.SurveyReference) (schedule.SurveyReference, error) {
	if ref.Pinned() || c == nil || c.r == nil {
		return ref, nil
	}
	res, ok := c.pinned[ref.GUID]
	if !ok {
		got, err := c.r.MostRecentPublished(ctx, ref)
		res = pinResult{ref: got, err: err}
		c.pinned[ref.GUID] = res
	}
	if res.err != nil {
		return ref, res.err
	}
	if !res.ref.Pinned() {
		return ref, nil
	}
	out := ref.WithCreatedOn(*res.ref.CreatedOn)
	if out.Identifier == "" {
		out.Identifier = res.ref.Identifier
	}
	return out, nil
}

// Lookups reports how many distinct surveys were resolved.
func (c *Cache) Lookups() int { return len(c.pinned) }
