// Package config loads the orchestrator's tunables from defaults, an
// optional JSON file, and environment variable overrides, layered in that
// order (DefaultConfig -> LoadFromFile -> LoadFromEnv).
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// OrchestratorConfig holds the reconciliation loop's tunables.
type OrchestratorConfig struct {
	MaxVms         int           `json:"max_vms"`
	MaxDelta       int           `json:"max_delta"`
	VmStartTimeout time.Duration `json:"vm_start_timeout"`
	Delay          time.Duration `json:"delay"`
	WorkerPoolSize int64         `json:"worker_pool_size"`
}

// PolicyConfig holds the Threshold policy's tunables.
type PolicyConfig struct {
	NamePrefix string        `json:"name_prefix"`
	K          float64       `json:"k"`
	MinIdle    time.Duration `json:"min_idle"`
}

// BatchSystemConfig selects and configures one of the built-in BatchSystem
// adapters.
type BatchSystemConfig struct {
	Mode string `json:"mode"` // "replay" or "random"

	// Replay mode.
	TracePath string `json:"trace_path"`

	// Random mode.
	RandomN       int     `json:"random_n"`
	RandomP       float64 `json:"random_p"`
	RandomMinSecs int     `json:"random_min_seconds"`
	RandomMaxSecs int     `json:"random_max_seconds"`
	RandomSeed    int64   `json:"random_seed"`
}

// WebConfig holds the web surface's bind address.
type WebConfig struct {
	Addr string `json:"addr"`
}

// CheckpointConfig selects and configures an optional checkpoint.Store
// backend.
type CheckpointConfig struct {
	Enabled   bool   `json:"enabled"`
	Backend   string `json:"backend"` // "file" or "redis"
	FilePath  string `json:"file_path"`
	RedisAddr string `json:"redis_addr"`
	RedisKey  string `json:"redis_key"`
}

// AuditConfig configures the optional Postgres lifecycle-event log.
type AuditConfig struct {
	Enabled bool   `json:"enabled"`
	DSN     string `json:"dsn"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Exporter    string  `json:"exporter"`     // otlp-http, stdout
	Endpoint    string  `json:"endpoint"`     // localhost:4318
	ServiceName string  `json:"service_name"` // vmmad
	SampleRate  float64 `json:"sample_rate"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// ObservabilityConfig groups the ambient-stack toggles.
type ObservabilityConfig struct {
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`
	Logging LoggingConfig `json:"logging"`
}

// Config is the root configuration for both cmd/cumulus and cmd/squall.
type Config struct {
	Orchestrator  OrchestratorConfig  `json:"orchestrator"`
	Policy        PolicyConfig        `json:"policy"`
	BatchSystem   BatchSystemConfig   `json:"batch_system"`
	Web           WebConfig           `json:"web"`
	Checkpoint    CheckpointConfig    `json:"checkpoint"`
	Audit         AuditConfig         `json:"audit"`
	Observability ObservabilityConfig `json:"observability"`
}

// DefaultConfig returns a Config with conservative defaults matching
// orchestrator.DefaultConfig.
func DefaultConfig() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			MaxVms:         10,
			MaxDelta:       2,
			VmStartTimeout: 10 * time.Minute,
			Delay:          20 * time.Second,
			WorkerPoolSize: 8,
		},
		Policy: PolicyConfig{
			NamePrefix: "",
			K:          0,
			MinIdle:    30 * time.Second,
		},
		BatchSystem: BatchSystemConfig{
			Mode:          "replay",
			RandomN:       5,
			RandomP:       0.1,
			RandomMinSecs: 60,
			RandomMaxSecs: 600,
			RandomSeed:    1,
		},
		Web: WebConfig{
			Addr: ":8080",
		},
		Checkpoint: CheckpointConfig{
			Enabled:  false,
			Backend:  "file",
			FilePath: "vmmad-checkpoint.json",
			RedisKey: "vmmad:checkpoint",
		},
		Audit: AuditConfig{
			Enabled: false,
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "vmmad",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled: true,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "text",
			},
		},
	}
}

// LoadFromFile loads configuration from a JSON file, starting from
// DefaultConfig so unset fields keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv applies VMMAD_* environment variable overrides to cfg in
// place.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("VMMAD_MAX_VMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Orchestrator.MaxVms = n
		}
	}
	if v := os.Getenv("VMMAD_MAX_DELTA"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Orchestrator.MaxDelta = n
		}
	}
	if v := os.Getenv("VMMAD_VM_START_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Orchestrator.VmStartTimeout = d
		}
	}
	if v := os.Getenv("VMMAD_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Orchestrator.Delay = d
		}
	}
	if v := os.Getenv("VMMAD_WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Orchestrator.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("VMMAD_POLICY_NAME_PREFIX"); v != "" {
		cfg.Policy.NamePrefix = v
	}
	if v := os.Getenv("VMMAD_POLICY_K"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Policy.K = f
		}
	}
	if v := os.Getenv("VMMAD_POLICY_MIN_IDLE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Policy.MinIdle = d
		}
	}
	if v := os.Getenv("VMMAD_TRACE_PATH"); v != "" {
		cfg.BatchSystem.TracePath = v
	}
	if v := os.Getenv("VMMAD_HTTP_ADDR"); v != "" {
		cfg.Web.Addr = v
	}
	if v := os.Getenv("VMMAD_CHECKPOINT_ENABLED"); v != "" {
		cfg.Checkpoint.Enabled = parseBool(v)
	}
	if v := os.Getenv("VMMAD_CHECKPOINT_BACKEND"); v != "" {
		cfg.Checkpoint.Backend = v
	}
	if v := os.Getenv("VMMAD_CHECKPOINT_FILE_PATH"); v != "" {
		cfg.Checkpoint.FilePath = v
	}
	if v := os.Getenv("VMMAD_CHECKPOINT_REDIS_ADDR"); v != "" {
		cfg.Checkpoint.RedisAddr = v
	}
	if v := os.Getenv("VMMAD_AUDIT_ENABLED"); v != "" {
		cfg.Audit.Enabled = parseBool(v)
	}
	if v := os.Getenv("VMMAD_AUDIT_DSN"); v != "" {
		cfg.Audit.DSN = v
		cfg.Audit.Enabled = true
	}
	if v := os.Getenv("VMMAD_LOG_LEVEL"); v != "" {
		cfg.Observability.Logging.Level = v
	}
	if v := os.Getenv("VMMAD_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}
	if v := os.Getenv("VMMAD_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("VMMAD_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("VMMAD_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
