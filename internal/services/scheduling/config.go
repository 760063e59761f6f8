package scheduling

import (
	"fmt"
	"time"

	"studysched/internal/config"
)

const (
	defaultMaxWindowDays     = 15
	defaultWindowDays        = 4
	defaultMaxMinimum        = 5
	defaultDegradedWarnEvery = time.Minute
)

// Config bounds requests. Zero fields take the defaults above.
type Config struct {
	MaxWindowDays         int
	DefaultWindowDays     int
	MaxMinimumPerSchedule int
	DegradedWarnEvery     time.Duration
}

// ConfigFrom maps the scheduling section of the config file.
func ConfigFrom(c config.SchedulingConfig) (Config, error) {
	every, err := config.ParseDurationOrDefault("scheduling.degraded_warn_every", c.DegradedWarnEvery, defaultDegradedWarnEvery)
	if err != nil {
		return Config{}, err
	}
	switch {
	case c.MaxWindowDays < 0:
		return Config{}, fmt.Errorf("scheduling.max_window_days must be >= 0")
	case c.DefaultWindowDays < 0:
		return Config{}, fmt.Errorf("scheduling.default_window_days must be >= 0")
	case c.MaxMinimumPerSchedule < 0:
		return Config{}, fmt.Errorf("scheduling.max_minimum_per_schedule must be >= 0")
	}
	out := Config{
		MaxWindowDays:         c.MaxWindowDays,
		DefaultWindowDays:     c.DefaultWindowDays,
		MaxMinimumPerSchedule: c.MaxMinimumPerSchedule,
		DegradedWarnEvery:     every,
	}.withDefaults()
	if out.DefaultWindowDays > out.MaxWindowDays {
		return Config{}, fmt.Errorf("scheduling.default_window_days (%d) exceeds max_window_days (%d)", out.DefaultWindowDays, out.MaxWindowDays)
	}
	return out, nil
}

func (c Config) withDefaults() Config {
	if c.MaxWindowDays <= 0 {
		c.MaxWindowDays = defaultMaxWindowDays
	}
	if c.DefaultWindowDays <= 0 {
		c.DefaultWindowDays = min(defaultWindowDays, c.MaxWindowDays)
	}
	if c.MaxMinimumPerSchedule <= 0 {
		c.MaxMinimumPerSchedule = defaultMaxMinimum
	}
	if c.DegradedWarnEvery <= 0 {
		c.DegradedWarnEvery = defaultDegradedWarnEvery
	}
	return c
}
