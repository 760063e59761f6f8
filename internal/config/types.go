package config

import logx "studysched/pkg/logx"

// Config is the root configuration document, read from JSON or YAML.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	Scheduling SchedulingConfig `json:"scheduling"`
	Study      StudyConfig      `json:"study"`

	// Plans is the path of the plan file. Relative paths resolve against the
	// directory of the config file.
	Plans string `json:"plans"`
	// Surveys is the optional path of the published survey catalog.
	Surveys string `json:"surveys,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

func (l LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
	}
}

// StorageConfig selects the activity and event store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./studysched.db" }
//	"storage": { "driver": "redis", "addr": "127.0.0.1:6379", "db": 2 }
//
// A nil section means the in-memory store.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	Addr      string `json:"addr,omitempty"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// SchedulingConfig bounds scheduling requests.
//
// Defaults (when fields are omitted/zero):
//   - max_window_days: 15
//   - default_window_days: 4
//   - max_minimum_per_schedule: 5
//   - degraded_warn_every: "1m"
type SchedulingConfig struct {
	MaxWindowDays         int `json:"max_window_days,omitempty"`
	DefaultWindowDays     int `json:"default_window_days,omitempty"`
	MaxMinimumPerSchedule int `json:"max_minimum_per_schedule,omitempty"`

	// DegradedWarnEvery throttles the degraded-path warnings (Go duration string).
	DegradedWarnEvery string `json:"degraded_warn_every,omitempty"`
}

// StudyConfig describes the study plans are validated against.
type StudyConfig struct {
	ID         string   `json:"id"`
	DataGroups []string `json:"data_groups,omitempty"`
}

// DataGroupSet returns the declared data groups as a lookup set.
func (s StudyConfig) DataGroupSet() map[string]bool {
	out := make(map[string]bool, len(s.DataGroups))
	for _, g := range s.DataGroups {
		out[g] = true
	}
	return out
}
