package strategy

import (
	"strings"

	"github.com/Masterminds/semver/v3"

	"studysched/internal/schedule"
	"studysched/internal/validation"
)

// Criteria restricts a schedule to participants by app version and data
// groups. Empty fields do not restrict.
type Criteria struct {
	MinAppVersion string   `json:"min_app_version,omitempty"`
	MaxAppVersion string   `json:"max_app_version,omitempty"`
	AllOfGroups   []string `json:"all_of_groups,omitempty"`
	NoneOfGroups  []string `json:"none_of_groups,omitempty"`
}

// Matches evaluates the version range and the data-group sets independently;
// both must hold.
func (c Criteria) Matches(ctx schedule.Context) bool {
	return c.matchesAppVersion(ctx.ClientInfo()) && c.matchesDataGroups(ctx)
}

// InVersionRange reports whether v lies in [min,max]. A nil version always
// matches: clients that report no version are not filtered out.
func InVersionRange(v *semver.Version, minRaw, maxRaw string) bool {
	if v == nil {
		return true
	}
	if lo, ok := parseBound(minRaw); ok && v.LessThan(lo) {
		return false
	}
	if hi, ok := parseBound(maxRaw); ok && v.GreaterThan(hi) {
		return false
	}
	return true
}

func (c Criteria) matchesAppVersion(ci schedule.ClientInfo) bool {
	return InVersionRange(ci.AppVersion, c.MinAppVersion, c.MaxAppVersion)
}

func (c Criteria) matchesDataGroups(ctx schedule.Context) bool {
	for _, g := range c.AllOfGroups {
		if !ctx.HasDataGroup(g) {
			return false
		}
	}
	for _, g := range c.NoneOfGroups {
		if ctx.HasDataGroup(g) {
			return false
		}
	}
	return true
}

func parseBound(raw string) (*semver.Version, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, false
	}
	return v, true
}

// Validate records every problem under the current path of v.
func (c Criteria) Validate(v *validation.Errors, dataGroups map[string]bool) {
	ValidateVersionRange(v, c.MinAppVersion, c.MaxAppVersion)
	c.validateGroups(v, "all_of_groups", c.AllOfGroups, dataGroups)
	c.validateGroups(v, "none_of_groups", c.NoneOfGroups, dataGroups)
	for _, g := range c.AllOfGroups {
		for _, n := range c.NoneOfGroups {
			if g == n {
				v.Reject("all_of_groups", "includes %q, which is also prohibited, so no participant can match", g)
			}
		}
	}
}

// ValidateVersionRange checks that both bounds parse and min <= max.
func ValidateVersionRange(v *validation.Errors, minRaw, maxRaw string) {
	var lo, hi *semver.Version
	if strings.TrimSpace(minRaw) != "" {
		var err error
		if lo, err = semver.NewVersion(strings.TrimSpace(minRaw)); err != nil {
			v.Reject("min_app_version", "is not a valid version: %v", err)
		}
	}
	if strings.TrimSpace(maxRaw) != "" {
		var err error
		if hi, err = semver.NewVersion(strings.TrimSpace(maxRaw)); err != nil {
			v.Reject("max_app_version", "is not a valid version: %v", err)
		}
	}
	if lo != nil && hi != nil && hi.LessThan(lo) {
		v.Reject("max_app_version", "cannot be less than min_app_version")
	}
}

func (c Criteria) validateGroups(v *validation.Errors, field string, groups []string, declared map[string]bool) {
	for _, g := range groups {
		if !declared[g] {
			v.Reject(field, "%q is not a data group declared by the study", g)
		}
	}
}
