package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Engine sizes the concurrency pipeline. These fields are read at
	// startup only; resizing a live pipeline is not supported.
	Engine EngineConfig `json:"engine"`

	Metrics  *MetricsConfig  `json:"metrics,omitempty"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
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

// EngineConfig controls pipeline sizing.
//
// Defaults (when fields are omitted/zero):
//   - buffer_size: 4
//   - max_alarms_per_worker: 2
//   - max_workers: 0 (unlimited)
//   - spawn_retry_limit: 5
//   - sweep_every: "1s"
type EngineConfig struct {
	BufferSize         int    `json:"buffer_size,omitempty"`
	MaxAlarmsPerWorker int    `json:"max_alarms_per_worker,omitempty"`
	MaxWorkers         int    `json:"max_workers,omitempty"`
	SpawnRetryLimit    int    `json:"spawn_retry_limit,omitempty"`
	SweepEvery         string `json:"sweep_every,omitempty"` // Go duration string
}

// MetricsConfig controls the optional Prometheus listener.
//
// Security note: prefer binding to localhost.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9180"
}

// NotifierConfig controls the optional Telegram mirror of alarm events.
type NotifierConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the optional request-audit journal.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./alarmd_audit.jsonl" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
