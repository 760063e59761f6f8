package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"studysched/internal/schedule"
	"studysched/internal/survey"
)

var (
	base = civil.DateTime{Date: civil.Date{Year: 2015, Month: time.April, Day: 1}, Time: civil.Time{Hour: 9}}
	now  = time.Date(2015, 4, 1, 12, 0, 0, 0, time.UTC)
)

func instance(actGUID string, hoursFromBase int) schedule.ScheduledActivity {
	local := civil.DateTimeOf(base.In(time.UTC).Add(time.Duration(hoursFromBase) * time.Hour))
	return schedule.ScheduledActivity{
		GUID:             schedule.InstanceGUID(actGUID, local),
		HealthID:         "h1",
		Activity:         schedule.Activity{GUID: actGUID, Label: actGUID, Task: &schedule.TaskReference{Identifier: actGUID}},
		LocalScheduledOn: local,
		TimeZone:         "UTC",
	}
}

func surveyInstance(actGUID, surveyGUID string, hoursFromBase int) schedule.ScheduledActivity {
	a := instance(actGUID, hoursFromBase)
	a.Activity.Task = nil
	a.Activity.Survey = &schedule.SurveyReference{GUID: surveyGUID}
	return a
}

func guids(as []schedule.ScheduledActivity) []string {
	out := make([]string, 0, len(as))
	for _, a := range as {
		out = append(out, a.GUID)
	}
	return out
}

func TestPersistedWinsAndStartedSurvive(t *testing.T) {
	t.Parallel()
	kept := instance("a", 0).WithStarted(now.Add(-time.Hour))
	stale := instance("b", -24)
	startedStale := instance("c", -2).WithStarted(now.Add(-time.Minute))
	fresh := instance("d", 2)

	res, err := Reconcile(context.Background(),
		[]schedule.ScheduledActivity{instance("a", 0), fresh},
		[]schedule.ScheduledActivity{kept, stale, startedStale},
		Options{Now: now},
	)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got := guids(res.ToSave); len(got) != 1 || got[0] != fresh.GUID {
		t.Fatalf("ToSave = %v", got)
	}
	if got := guids(res.ToDelete); len(got) != 1 || got[0] != stale.GUID {
		t.Fatalf("ToDelete = %v", got)
	}
	want := []string{startedStale.GUID, kept.GUID, fresh.GUID}
	if fmt.Sprint(guids(res.Visible)) != fmt.Sprint(want) {
		t.Fatalf("Visible = %v, want %v", guids(res.Visible), want)
	}
	if !res.Visible[1].Started() {
		t.Fatal("persisted copy did not win")
	}
}

func TestDuplicateGeneratedCollapse(t *testing.T) {
	t.Parallel()
	a := instance("a", 1)
	res, err := Reconcile(context.Background(), []schedule.ScheduledActivity{a, a, a}, nil, Options{Now: now})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.ToSave) != 1 || len(res.Visible) != 1 {
		t.Fatalf("ToSave=%d Visible=%d", len(res.ToSave), len(res.Visible))
	}
}

func TestVisibleFiltersAndOrders(t *testing.T) {
	t.Parallel()
	finished := instance("f", -3).WithStarted(now.Add(-2 * time.Hour)).WithFinished(now.Add(-time.Hour))
	expired := instance("e", -5)
	exp := civil.DateTimeOf(expired.LocalScheduledOn.In(time.UTC).Add(time.Hour))
	expired.LocalExpiresOn = &exp
	b := instance("b", 4)
	a := instance("a", 4)
	available := instance("z", -1)

	got := Visible([]schedule.ScheduledActivity{finished, b, expired, a, available}, now)
	want := []string{available.GUID, a.GUID, b.GUID}
	if fmt.Sprint(guids(got)) != fmt.Sprint(want) {
		t.Fatalf("Visible = %v, want %v", guids(got), want)
	}
}

type countingResolver struct {
	calls int
	inner survey.Resolver
}

func (r *countingResolver) MostRecentPublished(ctx context.Context, ref schedule.SurveyReference) (schedule.SurveyReference, error) {
	r.calls++
	return r.inner.MostRecentPublished(ctx, ref)
}

func TestSurveysPinnedOncePerRequest(t *testing.T) {
	t.Parallel()
	published := time.Date(2015, 3, 1, 0, 0, 0, 0, time.UTC)
	r := &countingResolver{inner: survey.NewCatalog(survey.Version{GUID: "s1", CreatedOn: published, Published: true})}
	pinnedAlready := surveyInstance("p", "s1", 1)
	old := published.Add(-24 * time.Hour)
	pinnedAlready.Activity.Survey.CreatedOn = &old

	generated := []schedule.ScheduledActivity{
		surveyInstance("x", "s1", 1),
		surveyInstance("x", "s1", 25),
		surveyInstance("y", "s1", 2),
		pinnedAlready,
		instance("t", 3),
	}
	res, err := Reconcile(context.Background(), generated, nil, Options{Now: now, Resolver: r})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if r.calls != 1 {
		t.Fatalf("resolver called %d times, want 1", r.calls)
	}
	for _, a := range res.ToSave {
		s := a.Activity.Survey
		if s == nil {
			continue
		}
		want := published
		if a.GUID == pinnedAlready.GUID {
			want = old
		}
		if !s.Pinned() || !s.CreatedOn.Equal(want) {
			t.Fatalf("%s pinned to %v, want %v", a.GUID, s.CreatedOn, want)
		}
	}
	if generated[0].Activity.Survey.Pinned() {
		t.Fatal("input instance was mutated")
	}
}

func TestResolverFailureAborts(t *testing.T) {
	t.Parallel()
	_, err := Reconcile(context.Background(),
		[]schedule.ScheduledActivity{surveyInstance("x", "missing", 1)}, nil,
		Options{Now: now, Resolver: survey.NewCatalog()},
	)
	if !errors.Is(err, survey.ErrNotPublished) {
		t.Fatalf("err = %v", err)
	}
}
