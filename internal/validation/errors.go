// Package validation collects field-path scoped validation failures.
//
// A single Errors value is threaded through nested validators; each validator
// pushes its path segment, records failures, and pops it again. The resulting
// error lists every failure, not just the first one.
package validation

import (
	"fmt"
	"sort"
	"strings"
)

// Errors accumulates validation failures keyed by field path
// (e.g. "strategy.groups[1].schedule.activities[0].label").
type Errors struct {
	entity string
	path   []string
	fields map[string][]string
	order  []string
}

// New returns an empty collector for the named entity ("plan", "context", ...).
func New(entity string) *Errors {
	return &Errors{entity: entity, fields: map[string][]string{}}
}

// Push enters a nested field.
func (e *Errors) Push(segment string) { e.path = append(e.path, segment) }

// PushIndex enters element i of a list field.
func (e *Errors) PushIndex(segment string, i int) {
	e.Push(fmt.Sprintf("%s[%d]", segment, i))
}

// Pop leaves the most recently pushed field.
func (e *Errors) Pop() {
	if len(e.path) > 0 {
		e.path = e.path[:len(e.path)-1]
	}
}

// Reject records a failure for field (relative to the current path).
func (e *Errors) Reject(field, format string, args ...any) {
	key := e.key(field)
	if _, ok := e.fields[key]; !ok {
		e.order = append(e.order, key)
	}
	e.fields[key] = append(e.fields[key], fmt.Sprintf(format, args...))
}

// RejectHere records a failure for the current path itself.
func (e *Errors) RejectHere(format string, args ...any) { e.Reject("", format, args...) }

func (e *Errors) key(field string) string {
	parts := append(make([]string, 0, len(e.path)+1), e.path...)
	if field != "" {
		parts = append(parts, field)
	}
	if len(parts) == 0 {
		return e.entity
	}
	return strings.Join(parts, ".")
}

// HasErrors reports whether anything was rejected.
func (e *Errors) HasErrors() bool { return e != nil && len(e.fields) > 0 }

// Fields returns a copy of the failures keyed by field path.
func (e *Errors) Fields() map[string][]string {
	out := make(map[string][]string, len(e.fields))
	for k, v := range e.fields {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Has reports whether field has at least one failure.
func (e *Errors) Has(field string) bool {
	_, ok := e.fields[field]
	return ok
}

// Err returns e as an error, or nil when nothing was rejected.
func (e *Errors) Err() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

func (e *Errors) Error() string {
	keys := append([]string(nil), e.order...)
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(e.entity)
	b.WriteString(" is invalid: ")
	for i, k := range keys {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(k)
		b.WriteString(" ")
		b.WriteString(strings.Join(e.fields[k], ", "))
	}
	return b.String()
}
