package config

import (
	"reflect"
	"slices"
	"strings"

	logx "studysched/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and safe attributes
// for logging them. Secrets (the storage password) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	var oldS, newS StorageConfig
	if oldCfg.Storage != nil {
		oldS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newS = *newCfg.Storage
	}
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
			logx.String("storage.addr", strings.TrimSpace(newS.Addr)),
			logx.Bool("storage.password_set", newS.Password != ""),
		)
	}

	if oldCfg.Scheduling != newCfg.Scheduling {
		changed = append(changed, "scheduling")
		attrs = append(attrs,
			logx.Int("scheduling.max_window_days", newCfg.Scheduling.MaxWindowDays),
			logx.Int("scheduling.max_minimum_per_schedule", newCfg.Scheduling.MaxMinimumPerSchedule),
			logx.String("scheduling.degraded_warn_every", newCfg.Scheduling.DegradedWarnEvery),
		)
	}

	if !reflect.DeepEqual(oldCfg.Study, newCfg.Study) {
		changed = append(changed, "study")
		attrs = append(attrs,
			logx.String("study.id", newCfg.Study.ID),
			logx.Int("study.data_groups", len(newCfg.Study.DataGroups)),
		)
	}

	if oldCfg.Plans != newCfg.Plans {
		changed = append(changed, "plans")
	}
	if oldCfg.Surveys != newCfg.Surveys {
		changed = append(changed, "surveys")
	}

	slices.Sort(changed)
	return changed, attrs
}
