package schedule

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"studysched/internal/validation"
)

// ClientInfo identifies the app a participant is using.
// AppVersion is nil when the client did not report a version.
type ClientInfo struct {
	AppName    string
	AppVersion *semver.Version
}

// NewClientInfo parses version leniently: a bare build number like "12" is
// accepted and compares as 12.0.0. An empty version yields no version.
func NewClientInfo(appName, version string) (ClientInfo, error) {
	ci := ClientInfo{AppName: strings.TrimSpace(appName)}
	version = strings.TrimSpace(version)
	if version == "" {
		return ci, nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return ClientInfo{}, fmt.Errorf("invalid app version %q: %w", version, err)
	}
	ci.AppVersion = v
	return ci, nil
}

var reUserAgent = regexp.MustCompile(`^\s*([^/()]+?)/(\d+(?:\.\d+){0,2})\b`)

// ParseUserAgent extracts app name and version from a User-Agent style string
// such as "Asthma/26 (iPhone; iOS 9.1) StudySDK/4". Unparseable input yields an
// empty ClientInfo.
func ParseUserAgent(ua string) ClientInfo {
	m := reUserAgent.FindStringSubmatch(ua)
	if len(m) != 3 {
		return ClientInfo{}
	}
	ci, err := NewClientInfo(m[1], m[2])
	if err != nil {
		return ClientInfo{}
	}
	return ci
}

var reOffset = regexp.MustCompile(`^([+-])(\d{2}):?(\d{2})$`)

// ParseTimeZone accepts an IANA zone name or a fixed UTC offset such as
// "-07:00". Offsets become fixed zones named after the offset.
func ParseTimeZone(raw string) (*time.Location, error) {
	raw = strings.TrimSpace(raw)
	if m := reOffset.FindStringSubmatch(raw); m != nil {
		h, _ := strconv.Atoi(m[2])
		mm, _ := strconv.Atoi(m[3])
		if h > 18 || mm > 59 {
			return nil, fmt.Errorf("time zone offset %q out of range", raw)
		}
		secs := h*3600 + mm*60
		if m[1] == "-" {
			secs = -secs
		}
		return time.FixedZone(m[1]+m[2]+":"+m[3], secs), nil
	}
	if raw == "" {
		return nil, fmt.Errorf("time zone is required")
	}
	return time.LoadLocation(raw)
}

func (c ClientInfo) HasVersion() bool { return c.AppVersion != nil }

func (c ClientInfo) String() string {
	if c.AppVersion == nil {
		return c.AppName
	}
	return c.AppName + "/" + c.AppVersion.Original()
}

// ContextOptions carries the inputs for NewContext.
type ContextOptions struct {
	StudyID            string
	HealthID           string
	ClientInfo         ClientInfo
	TimeZone           *time.Location
	Now                time.Time
	WindowEnd          time.Time
	MinimumPerSchedule int
	DataGroups         []string
	Events             map[string]time.Time
	AccountCreatedOn   time.Time
}

// Context is an immutable snapshot of everything needed to compute one
// participant's schedule at one point in time. Build it with NewContext; the
// zero value is not useful.
type Context struct {
	studyID            string
	healthID           string
	clientInfo         ClientInfo
	timeZone           *time.Location
	now                time.Time
	windowEnd          time.Time
	minimumPerSchedule int
	dataGroups         map[string]struct{}
	events             map[string]time.Time
	accountCreatedOn   time.Time
}

// NewContext copies o into a Context. Event timestamps are normalized to UTC.
// A zero Now defaults to the current time.
func NewContext(o ContextOptions) Context {
	c := Context{
		studyID:            strings.TrimSpace(o.StudyID),
		healthID:           strings.TrimSpace(o.HealthID),
		clientInfo:         o.ClientInfo,
		timeZone:           o.TimeZone,
		now:                o.Now,
		windowEnd:          o.WindowEnd,
		minimumPerSchedule: o.MinimumPerSchedule,
		dataGroups:         make(map[string]struct{}, len(o.DataGroups)),
		events:             make(map[string]time.Time, len(o.Events)),
		accountCreatedOn:   o.AccountCreatedOn,
	}
	if c.now.IsZero() {
		c.now = time.Now()
	}
	for _, g := range o.DataGroups {
		if g = strings.TrimSpace(g); g != "" {
			c.dataGroups[g] = struct{}{}
		}
	}
	for id, at := range o.Events {
		if id = strings.TrimSpace(id); id != "" && !at.IsZero() {
			c.events[id] = at.UTC()
		}
	}
	return c
}

func (c Context) StudyID() string        { return c.studyID }
func (c Context) HealthID() string       { return c.healthID }
func (c Context) ClientInfo() ClientInfo { return c.clientInfo }
func (c Context) Now() time.Time         { return c.now }
func (c Context) WindowEnd() time.Time   { return c.windowEnd }
func (c Context) MinimumPerSchedule() int {
	return c.minimumPerSchedule
}
func (c Context) AccountCreatedOn() time.Time { return c.accountCreatedOn }

// TimeZone returns the participant's zone, UTC when unset.
func (c Context) TimeZone() *time.Location {
	if c.timeZone == nil {
		return time.UTC
	}
	return c.timeZone
}

// DataGroups returns the participant's data groups, sorted.
func (c Context) DataGroups() []string {
	var keys []string
	for k := range c.dataGroups {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (c Context) HasDataGroup(g string) bool {
	_, ok := c.dataGroups[g]
	return ok
}

// Event returns the timestamp of a life-cycle event; ok is false when the
// event has not occurred.
func (c Context) Event(id string) (time.Time, bool) {
	at, ok := c.events[id]
	return at, ok
}

func (c Context) HasEvents() bool { return len(c.events) > 0 }

// Events returns a copy of the event map.
func (c Context) Events() map[string]time.Time { return maps.Clone(c.events) }

// WithNow returns a copy of c evaluated at now.
func (c Context) WithNow(now time.Time) Context {
	c.now = now
	return c
}

// WithEvents returns a copy of c with the event map replaced.
func (c Context) WithEvents(events map[string]time.Time) Context {
	next := make(map[string]time.Time, len(events))
	for id, at := range events {
		if id != "" && !at.IsZero() {
			next[id] = at.UTC()
		}
	}
	c.events = next
	return c
}

// Validate reports every missing required field in one error.
func (c Context) Validate() error {
	v := validation.New("context")
	if c.studyID == "" {
		v.Reject("studyId", "is required")
	}
	if c.healthID == "" {
		v.Reject("healthId", "is required")
	}
	if c.timeZone == nil {
		v.Reject("timeZone", "is required")
	}
	if c.windowEnd.IsZero() {
		v.Reject("windowEnd", "is required")
	}
	if c.minimumPerSchedule < 0 {
		v.Reject("minimumPerSchedule", "must be zero or more")
	}
	return v.Err()
}
