package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorsFieldPaths(t *testing.T) {
	t.Parallel()
	v := New("plan")
	v.Push("strategy")
	v.PushIndex("groups", 1)
	v.Push("schedule")
	v.PushIndex("activities", 0)
	v.Reject("label", "is required")
	v.Pop()
	v.Pop()
	v.Pop()
	v.Reject("percentage", "must be between 0 and 100")
	v.Pop()
	v.Reject("groups", "must add up to 100%%")

	for _, k := range []string{
		"strategy.groups[1].schedule.activities[0].label",
		"strategy.groups[1].percentage",
		"strategy.groups",
	} {
		if !v.Has(k) {
			t.Fatalf("missing %q in %v", k, v.Fields())
		}
	}
	err := v.Err()
	if err == nil {
		t.Fatal("expected error")
	}
	var ve *Errors
	if !errors.As(err, &ve) {
		t.Fatalf("expected *Errors, got %T", err)
	}
	if !strings.Contains(err.Error(), "must add up to 100%") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestErrorsEmpty(t *testing.T) {
	t.Parallel()
	v := New("context")
	if v.Err() != nil {
		t.Fatal("expected nil error")
	}
	v.RejectHere("is broken")
	if !v.Has("context") {
		t.Fatalf("expected entity-level key, got %v", v.Fields())
	}
}
