package survey

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"studysched/internal/schedule"
)

var (
	v1 = time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	v2 = time.Date(2015, 2, 1, 0, 0, 0, 0, time.UTC)
	v3 = time.Date(2015, 3, 1, 0, 0, 0, 0, time.UTC)
)

func TestCatalogPicksLatestPublished(t *testing.T) {
	t.Parallel()
	c := NewCatalog(
		Version{GUID: "s1", Identifier: "mood", CreatedOn: v1, Published: true},
		Version{GUID: "s1", Identifier: "mood", CreatedOn: v2, Published: true},
		Version{GUID: "s1", Identifier: "mood", CreatedOn: v3},
	)
	got, err := c.MostRecentPublished(context.Background(), schedule.SurveyReference{GUID: "s1"})
	if err != nil {
		t.Fatalf("MostRecentPublished: %v", err)
	}
	if !got.Pinned() || !got.CreatedOn.Equal(v2) || got.Identifier != "mood" {
		t.Fatalf("got %+v", got)
	}

	pinned := schedule.SurveyReference{GUID: "s1"}.WithCreatedOn(v1)
	got, err = c.MostRecentPublished(context.Background(), pinned)
	if err != nil || !got.CreatedOn.Equal(v1) {
		t.Fatalf("pinned ref changed: %+v, %v", got, err)
	}

	_, err = c.MostRecentPublished(context.Background(), schedule.SurveyReference{GUID: "missing"})
	if !errors.Is(err, ErrNotPublished) {
		t.Fatalf("err = %v, want ErrNotPublished", err)
	}
}

type countingResolver struct {
	calls map[string]int
	inner Resolver
}

func (r *countingResolver) MostRecentPublished(ctx context.Context, ref schedule.SurveyReference) (schedule.SurveyReference, error) {
	r.calls[ref.GUID]++
	return r.inner.MostRecentPublished(ctx, ref)
}

func TestCacheResolvesOncePerSurvey(t *testing.T) {
	t.Parallel()
	r := &countingResolver{calls: map[string]int{}, inner: NewCatalog(
		Version{GUID: "s1", CreatedOn: v1, Published: true},
		Version{GUID: "s2", CreatedOn: v2, Published: true},
	)}
	c := NewCache(r)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		for _, g := range []string{"s1", "s2"} {
			if _, err := c.Pin(ctx, schedule.SurveyReference{GUID: g}); err != nil {
				t.Fatalf("Pin(%s): %v", g, err)
			}
		}
	}
	if r.calls["s1"] != 1 || r.calls["s2"] != 1 || c.Lookups() != 2 {
		t.Fatalf("calls = %v", r.calls)
	}
	if _, err := c.Pin(ctx, schedule.SurveyReference{GUID: "nope"}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := c.Pin(ctx, schedule.SurveyReference{GUID: "nope"}); err == nil || r.calls["nope"] != 1 {
		t.Fatalf("failed lookups must be cached too: %v, %v", err, r.calls)
	}
}

func TestCacheKeepsResolvedIdentifier(t *testing.T) {
	t.Parallel()
	c := NewCache(NewCatalog(Version{GUID: "s1", Identifier: "mood", CreatedOn: v1, Published: true}))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		got, err := c.Pin(ctx, schedule.SurveyReference{GUID: "s1"})
		if err != nil {
			t.Fatalf("Pin: %v", err)
		}
		if got.Identifier != "mood" || !got.Pinned() || !got.CreatedOn.Equal(v1) {
			t.Fatalf("pin %d = %+v", i, got)
		}
	}
	got, err := c.Pin(ctx, schedule.SurveyReference{GUID: "s1", Identifier: "mood-v2"})
	if err != nil || got.Identifier != "mood-v2" {
		t.Fatalf("own identifier must win: %+v, %v", got, err)
	}
}

func TestNilCachePassesThrough(t *testing.T) {
	t.Parallel()
	var c *Cache
	ref := schedule.SurveyReference{GUID: "s1"}
	got, err := c.Pin(context.Background(), ref)
	if err != nil || got.Pinned() {
		t.Fatalf("got %+v, %v", got, err)
	}
}

func TestLoadCatalog(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "surveys.yaml")
	body := `
surveys:
  - guid: s1
    identifier: mood
    created_on: "2015-01-01T00:00:00Z"
    published: true
  - guid: s1
    created_on: "2015-02-01T00:00:00Z"
`
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := LoadCatalog(p)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	got, err := c.MostRecentPublished(context.Background(), schedule.SurveyReference{GUID: "s1"})
	if err != nil || !got.CreatedOn.Equal(v1) {
		t.Fatalf("got %+v, %v", got, err)
	}
	if gs := c.GUIDs(); len(gs) != 1 || gs[0] != "s1" {
		t.Fatalf("GUIDs = %v", gs)
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte(`{"surveys":[{"created_on":"2015-01-01T00:00:00Z"}]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCatalog(bad); err == nil {
		t.Fatal("expected missing guid error")
	}
}
