package strategy

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"studysched/internal/schedule"
	"studysched/internal/validation"
)

const planGUID = "6f0b8f3c-3f57-4b57-8f0e-0c7a1b2f3d40"

func labeled(label string) schedule.Schedule {
	return schedule.Schedule{
		Label:      label,
		Type:       schedule.Once,
		Activities: []schedule.Activity{{GUID: label, Label: label, Task: &schedule.TaskReference{Identifier: label}}},
	}
}

func participant(t *testing.T, healthID, version string, groups ...string) schedule.Context {
	t.Helper()
	ci, err := schedule.NewClientInfo("App", version)
	if err != nil {
		t.Fatalf("NewClientInfo: %v", err)
	}
	return schedule.NewContext(schedule.ContextOptions{
		StudyID:    "study",
		HealthID:   healthID,
		ClientInfo: ci,
		TimeZone:   time.UTC,
		WindowEnd:  time.Now().Add(24 * time.Hour),
		DataGroups: groups,
	})
}

func TestSimpleAlwaysSelects(t *testing.T) {
	t.Parallel()
	s := Simple(labeled("only"))
	got, ok := s.Select(planGUID, participant(t, "anyone", ""))
	if !ok || got.Label != "only" {
		t.Fatalf("Select = %q, %v", got.Label, ok)
	}
}

func TestBucketPreservesSeedArithmetic(t *testing.T) {
	t.Parallel()
	tests := []struct {
		plan, health string
		want         int
	}{
		{"00000000-0000-0000-0000-000000000000", "00000000-0000-0000-0000-000000000005", 6},
		{"00000000-0000-0000-0000-000000000064", "00000000-0000-0000-0000-0000000000c8", 1},
		{"00000000-0000-0000-ffff-ffffffffffff", "00000000-0000-0000-0000-000000000000", 2},
		// MinInt64 has no positive counterpart; the bucket goes negative.
		{"00000000-0000-0000-8000-000000000000", "00000000-0000-0000-0000-000000000000", -7},
	}
	for _, tt := range tests {
		if got := Bucket(tt.plan, tt.health); got != tt.want {
			t.Fatalf("Bucket(%s, %s) = %d, want %d", tt.plan, tt.health, got, tt.want)
		}
	}
}

func TestABTestNegativeBucketSelectsFirstGroup(t *testing.T) {
	t.Parallel()
	s := ABTest(Group{Percentage: 50, Schedule: labeled("A")}, Group{Percentage: 50, Schedule: labeled("B")})
	got, ok := s.Select("00000000-0000-0000-8000-000000000000", participant(t, "00000000-0000-0000-0000-000000000000", ""))
	if !ok || got.Label != "A" {
		t.Fatalf("Select = %q, %v", got.Label, ok)
	}
}

func TestABTestDistribution(t *testing.T) {
	t.Parallel()
	s := ABTest(
		Group{Percentage: 40, Schedule: labeled("A")},
		Group{Percentage: 40, Schedule: labeled("B")},
		Group{Percentage: 20, Schedule: labeled("C")},
	)
	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("participant-%d", i))).String()
		got, ok := s.Select(planGUID, participant(t, id, ""))
		if !ok {
			t.Fatalf("participant %d got no schedule", i)
		}
		counts[got.Label]++
	}
	for label, want := range map[string]int{"A": 400, "B": 400, "C": 200} {
		if math.Abs(float64(counts[label]-want)) > 50 {
			t.Fatalf("group %s selected %d times, want about %d (all: %v)", label, counts[label], want, counts)
		}
	}
}

func TestABTestIsStablePerParticipant(t *testing.T) {
	t.Parallel()
	s := ABTest(Group{Percentage: 50, Schedule: labeled("A")}, Group{Percentage: 50, Schedule: labeled("B")})
	ctx := participant(t, "2c1d4bb1-7f0e-4a4c-9b1e-6a3f8a2d9e10", "")
	first, _ := s.Select(planGUID, ctx)
	for i := 0; i < 20; i++ {
		again, _ := s.Select(planGUID, ctx.WithNow(time.Now().Add(time.Duration(i)*time.Hour)))
		if again.Label != first.Label {
			t.Fatalf("selection changed from %s to %s", first.Label, again.Label)
		}
	}
	if _, ok := s.Select(planGUID, participant(t, "", "")); ok {
		t.Fatal("expected no selection without a health id")
	}
}

func TestCriteriaFirstMatchWins(t *testing.T) {
	t.Parallel()
	s1, s2, s3 := labeled("one"), labeled("two"), labeled("three")
	s := ByCriteria(
		CriteriaSchedule{Criteria: Criteria{AllOfGroups: []string{"a"}}, Schedule: &s1},
		CriteriaSchedule{Criteria: Criteria{AllOfGroups: []string{"b"}}, Schedule: &s2},
		CriteriaSchedule{Criteria: Criteria{NoneOfGroups: []string{"c"}, MinAppVersion: "20"}, Schedule: &s3},
	)

	got, ok := s.Select(planGUID, participant(t, "h", "10", "a", "b"))
	if !ok || got.Label != "one" {
		t.Fatalf("Select = %q, %v; want one", got.Label, ok)
	}
	if _, ok := s.Select(planGUID, participant(t, "h", "10", "c")); ok {
		t.Fatal("expected no match")
	}
	got, ok = s.Select(planGUID, participant(t, "h", "", "d"))
	if !ok || got.Label != "three" {
		t.Fatalf("Select = %q, %v; want three for a client without version", got.Label, ok)
	}
}

func TestInVersionRange(t *testing.T) {
	t.Parallel()
	v := func(s string) schedule.ClientInfo {
		ci, err := schedule.NewClientInfo("App", s)
		if err != nil {
			t.Fatalf("NewClientInfo(%q): %v", s, err)
		}
		return ci
	}
	tests := []struct {
		version, lo, hi string
		want            bool
	}{
		{"5", "5", "10", true},
		{"10", "5", "10", true},
		{"4", "5", "10", false},
		{"10.0.1", "5", "10", false},
		{"11", "5", "", true},
		{"1.2.3", "", "1.2.3", true},
	}
	for _, tt := range tests {
		if got := InVersionRange(v(tt.version).AppVersion, tt.lo, tt.hi); got != tt.want {
			t.Fatalf("InVersionRange(%s, %s, %s) = %v, want %v", tt.version, tt.lo, tt.hi, got, tt.want)
		}
	}
	if !InVersionRange(nil, "5", "10") {
		t.Fatal("a missing version must match")
	}
}

func TestValidateReportsAllViolations(t *testing.T) {
	t.Parallel()
	bad := labeled("bad")
	bad.Type = ""
	ab := ABTest(Group{Percentage: 60, Schedule: labeled("A")}, Group{Percentage: 30, Schedule: bad})
	v := validation.New("strategy")
	ab.Validate(v, nil)
	for _, f := range []string{"groups", "groups[1].schedule.type"} {
		if !v.Has(f) {
			t.Fatalf("missing %q in %v", f, v.Fields())
		}
	}

	good := labeled("good")
	crit := ByCriteria(
		CriteriaSchedule{Criteria: Criteria{AllOfGroups: []string{"a"}}},
		CriteriaSchedule{Criteria: Criteria{AllOfGroups: []string{"undeclared"}, MinAppVersion: "10", MaxAppVersion: "2"}, Schedule: &good},
	)
	v = validation.New("strategy")
	crit.Validate(v, map[string]bool{"a": true})
	for _, f := range []string{"rules[0].schedule", "rules[1].criteria.all_of_groups", "rules[1].criteria.max_app_version"} {
		if !v.Has(f) {
			t.Fatalf("missing %q in %v", f, v.Fields())
		}
	}
	if v.Has("rules[0].criteria.all_of_groups") {
		t.Fatalf("declared group rejected: %v", v.Fields())
	}
}

func TestAllSchedules(t *testing.T) {
	t.Parallel()
	one := labeled("one")
	tests := []struct {
		s    Strategy
		want int
	}{
		{Simple(one), 1},
		{ABTest(Group{Percentage: 100, Schedule: one}, Group{Schedule: one}), 2},
		{ByCriteria(CriteriaSchedule{Schedule: &one}, CriteriaSchedule{}), 1},
	}
	for _, tt := range tests {
		got, err := tt.s.AllSchedules()
		if err != nil || len(got) != tt.want {
			t.Fatalf("%s: AllSchedules = %d, %v; want %d", tt.s.Kind, len(got), err, tt.want)
		}
	}
	if _, err := (Strategy{Kind: "bogus"}).AllSchedules(); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
