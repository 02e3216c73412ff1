package app

import (
	"fmt"
	"strings"
	"time"

	"opsbook/internal/config"
	"opsbook/internal/knowledge"
	"opsbook/internal/notifier"
	"opsbook/internal/sched"
	"opsbook/internal/storage"
	logx "opsbook/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" {
		driver = "memory"
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, nil
}

func mapSchedConfig(cfg *config.Config) (sched.Config, error) {
	sweep, err := config.ParseDurationField("scheduler.sweep_interval", cfg.Scheduler.SweepInterval)
	if err != nil {
		return sched.Config{}, err
	}
	return sched.Config{SweepInterval: sweep}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	retryBase, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	dedupWindow, err := config.ParseDurationField("notifier.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	if n.Workers < 0 || n.QueueSize < 0 || n.RetryMax < 0 || n.RatePerSec < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: counts must be >= 0")
	}
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: n.DedupMaxEntries,
	}, nil
}

func buildSink(cfg *config.Config, log logx.Logger) (notifier.Sink, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Notifier.Sink)) {
	case "", "log":
		return notifier.LogSink{Log: log}, nil
	case "telegram":
		return notifier.NewTelegramSink(cfg.Notifier.TelegramToken, log)
	default:
		return nil, fmt.Errorf("notifier.sink: unknown sink %q", cfg.Notifier.Sink)
	}
}

func buildLookup(cfg *config.Config, log logx.Logger) (knowledge.Lookup, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Knowledge.Mode)) {
	case "", "none":
		return knowledge.Nop(), nil
	case "static":
		return knowledge.NewRegistry(cfg.Knowledge.Dir, log)
	case "http":
		timeout, err := config.ParseDurationField("knowledge.timeout", cfg.Knowledge.Timeout)
		if err != nil {
			return nil, err
		}
		return knowledge.NewHTTP(cfg.Knowledge.BaseURL, timeout, log)
	default:
		return nil, fmt.Errorf("knowledge.mode: unknown mode %q", cfg.Knowledge.Mode)
	}
}
