package plan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"studysched/internal/config"
	"studysched/internal/schedule"
	"studysched/internal/strategy"
	"studysched/internal/validation"
)

var study = config.StudyConfig{ID: "asthma", DataGroups: []string{"sdk-int-1"}}

func activity(label string) schedule.Activity {
	return schedule.Activity{GUID: label, Label: label, Task: &schedule.TaskReference{Identifier: label}}
}

func onceSchedule(label string) schedule.Schedule {
	return schedule.Schedule{Label: label, Type: schedule.Once, Activities: []schedule.Activity{activity(label)}}
}

func simplePlan(guid string) Plan {
	return Plan{GUID: guid, StudyID: "asthma", Label: guid, Strategy: strategy.Simple(onceSchedule(guid))}
}

func client(t *testing.T, version string) schedule.ClientInfo {
	t.Helper()
	ci, err := schedule.NewClientInfo("Asthma", version)
	if err != nil {
		t.Fatal(err)
	}
	return ci
}

func TestValidateItemizesNestedFields(t *testing.T) {
	t.Parallel()
	broken := onceSchedule("b")
	broken.Activities[0].Label = ""
	p := Plan{
		GUID:          "p1",
		StudyID:       "other",
		MinAppVersion: "10",
		MaxAppVersion: "2",
		Strategy: strategy.ABTest(
			strategy.Group{Percentage: 50, Schedule: onceSchedule("a")},
			strategy.Group{Percentage: 40, Schedule: broken},
		),
	}
	err := p.Validate(study)
	var verr *validation.Errors
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *validation.Errors", err)
	}
	for _, f := range []string{
		"label",
		"study_id",
		"max_app_version",
		"strategy.groups",
		"strategy.groups[1].schedule.activities[0].label",
	} {
		if !verr.Has(f) {
			t.Fatalf("missing %q in %v", f, verr.Fields())
		}
	}
	if err := simplePlan("ok").Validate(study); err != nil {
		t.Fatalf("valid plan rejected: %v", err)
	}
}

func TestSelectScheduleUsesPlanGUID(t *testing.T) {
	t.Parallel()
	p := Plan{GUID: "00000000-0000-0000-0000-000000000000", StudyID: "asthma", Label: "ab",
		Strategy: strategy.ABTest(
			strategy.Group{Percentage: 10, Schedule: onceSchedule("low")},
			strategy.Group{Percentage: 90, Schedule: onceSchedule("high")},
		)}
	ctx := schedule.NewContext(schedule.ContextOptions{
		StudyID:   "asthma",
		HealthID:  "00000000-0000-0000-0000-000000000005",
		TimeZone:  time.UTC,
		WindowEnd: time.Now().Add(time.Hour),
	})
	got, ok := p.SelectSchedule(ctx)
	if !ok || got.Label != "low" {
		t.Fatalf("SelectSchedule = %q, %v; want low (bucket 6)", got.Label, ok)
	}
}

func TestRegistryIsAllOrNothing(t *testing.T) {
	t.Parallel()
	r, err := NewRegistry(study, simplePlan("p1"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	bad := simplePlan("p3")
	bad.Strategy = strategy.Strategy{}
	err = r.Replace(study, []Plan{simplePlan("p2"), bad, simplePlan("p2")})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "already used") || !strings.Contains(err.Error(), "strategy.type") {
		t.Fatalf("error does not list every problem: %v", err)
	}

	got, err := r.Plans(context.Background(), client(t, ""), "asthma")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].GUID != "p1" {
		t.Fatalf("previous plans not kept: %+v", got)
	}
}

func TestRegistryFiltersByStudyAndVersion(t *testing.T) {
	t.Parallel()
	old := simplePlan("old")
	old.MaxAppVersion = "9"
	current := simplePlan("current")
	current.MinAppVersion = "10"
	r, err := NewRegistry(config.StudyConfig{}, old, current, Plan{
		GUID: "elsewhere", StudyID: "other", Label: "x", Strategy: strategy.Simple(onceSchedule("x")),
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	tests := []struct {
		version string
		want    []string
	}{
		{"5", []string{"old"}},
		{"12", []string{"current"}},
		{"", []string{"old", "current"}},
	}
	for _, tt := range tests {
		got, err := r.Plans(context.Background(), client(t, tt.version), "asthma")
		if err != nil {
			t.Fatal(err)
		}
		var guids []string
		for _, p := range got {
			guids = append(guids, p.GUID)
		}
		if strings.Join(guids, ",") != strings.Join(tt.want, ",") {
			t.Fatalf("version %q: plans %v, want %v", tt.version, guids, tt.want)
		}
	}
}

func TestLoadFileYAML(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "plans.yaml")
	body := `
plans:
  - guid: 6f0b8f3c-3f57-4b57-8f0e-0c7a1b2f3d40
    study_id: asthma
    label: Daily check-in
    strategy:
      type: criteria
      rules:
        - criteria:
            all_of_groups: [sdk-int-1]
          schedule:
            type: recurring
            cron: "0 0 9 ? * MON-FRI *"
            expires: PT2H
            activities:
              - guid: checkin
                label: Check in
                survey:
                  guid: s1
        - criteria: {}
          schedule:
            type: recurring
            interval: P1D
            times: ["09:00", "18:30"]
            delay: P1D
            activities:
              - guid: diary
                label: Diary
                task:
                  identifier: diary
`
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	plans, err := LoadFile(p)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(plans) != 1 {
		t.Fatalf("got %d plans", len(plans))
	}
	if err := plans[0].Validate(study); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	rules := plans[0].Strategy.Rules
	if len(rules) != 2 || rules[1].Schedule.Interval != schedule.DaysPeriod(1) || len(rules[1].Schedule.TimesOfDay) != 2 {
		t.Fatalf("decoded rules: %+v", rules)
	}
	if rules[0].Schedule.ExpiresAfter != schedule.HoursPeriod(2) {
		t.Fatalf("expires = %v", rules[0].Schedule.ExpiresAfter)
	}

	r := &Registry{}
	if err := r.Reload(p, study); err != nil || r.Len() != 1 {
		t.Fatalf("Reload: %v (len %d)", err, r.Len())
	}
}
