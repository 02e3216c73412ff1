package config

// Config is the full opsbookd configuration. JSON and YAML files are both
// accepted; unknown keys are rejected so typos surface at load time.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Notifier  NotifierConfig  `json:"notifier"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	Templates TemplatesConfig `json:"templates"`
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

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./opsbook.sqlite" }
type StorageConfig struct {
	Driver      string `json:"driver"` // memory | file | sqlite
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// SchedulerConfig controls the schedule timer manager.
type SchedulerConfig struct {
	// Timezone is the default IANA zone applied to schedules that don't name
	// their own (e.g. "Europe/Berlin").
	Timezone string `json:"timezone,omitempty"`

	// SweepInterval is how often persisted schedules are checked for missed
	// fires. Default "1m".
	SweepInterval string `json:"sweep_interval,omitempty"`
}

// NotifierConfig controls the async delivery pipeline.
type NotifierConfig struct {
	Enabled bool `json:"enabled"`

	// Sink selects the delivery backend: "log" (default) or "telegram".
	Sink          string `json:"sink,omitempty"`
	TelegramToken string `json:"telegram_token,omitempty"`

	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
}

// KnowledgeConfig controls prompt materialization.
type KnowledgeConfig struct {
	// Mode: "none" (default, prompts stay literal), "static" (YAML article
	// dir) or "http" (external service).
	Mode string `json:"mode,omitempty"`

	// Dir holds *.yaml articles for static mode.
	Dir string `json:"dir,omitempty"`

	// BaseURL and Timeout configure http mode.
	BaseURL string `json:"base_url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// TemplatesConfig controls template seeding at startup.
type TemplatesConfig struct {
	// SeedDir holds *.yaml template definitions loaded into the store on
	// start. Existing templates with a newer or equal version are kept.
	SeedDir string `json:"seed_dir,omitempty"`
}
