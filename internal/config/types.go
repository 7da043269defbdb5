package config

// Config is the daemon's file-backed configuration. YAML and JSON are both
// accepted; YAML is coerced to JSON and decoded strictly, so unknown keys
// are rejected in either format.
//
// All durations are Go duration strings (e.g. "500ms", "30s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Directory DirectoryConfig `json:"directory"`
	Transport TransportConfig `json:"transport"`
	Dispatch  DispatchConfig  `json:"dispatch"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./notifier.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// DirectoryConfig points at the static user directory seed. Production
// deployments replace this with the backend user service.
type DirectoryConfig struct {
	SeedPath string `json:"seed_path"`
}

// TransportConfig selects the delivery channel.
//
// Driver values: "log" (dry-run, default), "telegram".
type TransportConfig struct {
	Driver   string         `json:"driver,omitempty"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token,omitempty"`
}

// DispatchConfig controls the dispatch worker.
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "30s"
//   - workers: 2
//   - fanout: 8
//   - rate_per_sec: 10
//   - cycle_timeout: "5m"
//   - send_timeout: "10s"
//   - retry_max: 3
//
// retry_max is a pointer so an explicit 0 (no retries) is distinguishable
// from an omitted field.
type DispatchConfig struct {
	Enabled      bool   `json:"enabled"`
	PollInterval string `json:"poll_interval,omitempty"`
	Workers      int    `json:"workers,omitempty"`
	Fanout       int    `json:"fanout,omitempty"`
	RatePerSec   int    `json:"rate_per_sec,omitempty"`
	CycleTimeout string `json:"cycle_timeout,omitempty"`
	SendTimeout  string `json:"send_timeout,omitempty"`
	RetryMax     *int   `json:"retry_max,omitempty"`
}
