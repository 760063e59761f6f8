package schedule

import (
	"strings"
	"time"

	"studysched/internal/validation"
)

type ActivityType string

const (
	ActivityTypeSurvey ActivityType = "survey"
	ActivityTypeTask   ActivityType = "task"
)

// SurveyReference points at a survey. A nil CreatedOn means "the most recently
// published version"; a set CreatedOn pins one immutable version.
type SurveyReference struct {
	Identifier string     `json:"identifier,omitempty"`
	GUID       string     `json:"guid"`
	CreatedOn  *time.Time `json:"created_on,omitempty"`
}

// Pinned reports whether the reference names a concrete survey version.
func (r SurveyReference) Pinned() bool { return r.CreatedOn != nil }

// WithCreatedOn returns a copy pinned to the given version.
func (r SurveyReference) WithCreatedOn(at time.Time) SurveyReference {
	at = at.UTC()
	r.CreatedOn = &at
	return r
}

type TaskReference struct {
	Identifier string `json:"identifier"`
}

// Activity is one thing a participant is asked to do.
type Activity struct {
	GUID        string           `json:"guid"`
	Label       string           `json:"label"`
	LabelDetail string           `json:"label_detail,omitempty"`
	Survey      *SurveyReference `json:"survey,omitempty"`
	Task        *TaskReference   `json:"task,omitempty"`
}

func (a Activity) Type() ActivityType {
	if a.Survey != nil {
		return ActivityTypeSurvey
	}
	return ActivityTypeTask
}

// WithSurvey returns a copy of a that references ref.
func (a Activity) WithSurvey(ref SurveyReference) Activity {
	a.Survey = &ref
	return a
}

// validate checks a in the current path of v.
func (a Activity) validate(v *validation.Errors) {
	if strings.TrimSpace(a.GUID) == "" {
		v.Reject("guid", "is required")
	}
	if strings.TrimSpace(a.Label) == "" {
		v.Reject("label", "is required")
	}
	switch {
	case a.Survey == nil && a.Task == nil:
		v.RejectHere("must have a survey or a task")
	case a.Survey != nil && a.Task != nil:
		v.RejectHere("must have either a survey or a task, not both")
	case a.Survey != nil:
		if strings.TrimSpace(a.Survey.GUID) == "" {
			v.Reject("survey.guid", "is required")
		}
	case a.Task != nil:
		if strings.TrimSpace(a.Task.Identifier) == "" {
			v.Reject("task.identifier", "is required")
		}
	}
}
