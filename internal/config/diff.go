package config

import (
	"reflect"
	"strings"

	logx "opsbook/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (the telegram token) are never
// included in the attrs.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	var attrs []logx.Field

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
			logx.String("scheduler.sweep_interval", newCfg.Scheduler.SweepInterval))
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newCfg.Notifier.Enabled),
			logx.String("notifier.sink", newCfg.Notifier.Sink),
			logx.Int("notifier.workers", newCfg.Notifier.Workers))
	}
	if !reflect.DeepEqual(oldCfg.Knowledge, newCfg.Knowledge) {
		changed = append(changed, "knowledge")
		attrs = append(attrs, logx.String("knowledge.mode", newCfg.Knowledge.Mode))
	}
	if !reflect.DeepEqual(oldCfg.Templates, newCfg.Templates) {
		changed = append(changed, "templates")
	}

	return changed, attrs
}

// ChangedContains reports whether a section name is in the changed list.
func ChangedContains(changed []string, section string) bool {
	for _, c := range changed {
		if strings.EqualFold(c, section) {
			return true
		}
	}
	return false
}
