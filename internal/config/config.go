package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// BrokerConfig holds task-queue broker settings.
type BrokerConfig struct {
	RedisURL     string        `json:"redis_url"`
	ResultTTL    time.Duration `json:"result_ttl"`    // how long a result stays in the broker after completion
	WaitPollTick time.Duration `json:"wait_poll_tick"` // fallback poll interval if pub/sub wake-up is missed
}

// BlobStoreConfig holds object-store settings for cloud-staged files.
type BlobStoreConfig struct {
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint,omitempty"` // non-empty for S3-compatible endpoints
	ForcePathStyle  bool   `json:"force_path_style"`
}

// AuditConfig holds the optional run-history database settings.
type AuditConfig struct {
	DSN string `json:"dsn"` // empty disables the audit log entirely
}

// PaletteConfig points at the YAML files describing the available commands
// and the server-side environment-injection values.
type PaletteConfig struct {
	CommandPaletteFile string   `json:"command_palette_file"`
	EnvironmentsFile   string   `json:"environments_file"`
	ExtQueues          []string `json:"ext_queues"` // extra queues consumed besides the palette's command names
}

// DaemonConfig holds server-daemon settings.
type DaemonConfig struct {
	ScratchDir string `json:"scratch_dir"`
	LogLevel   string `json:"log_level"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Exporter    string  `json:"exporter"`     // not read by tracing.Init, which always uses OTLP/HTTP
	Endpoint    string  `json:"endpoint"`     // localhost:4318
	ServiceName string  `json:"service_name"` // cmdproxy
	SampleRate  float64 `json:"sample_rate"`  // 1.0
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled          bool      `json:"enabled"`
	Namespace        string    `json:"namespace"`
	Addr             string    `json:"addr"` // promhttp listen address, e.g. ":9100"
	HistogramBuckets []float64 `json:"histogram_buckets"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level          string `json:"level"`  // debug, info, warn, error
	Format         string `json:"format"` // text, json
	IncludeTraceID bool   `json:"include_trace_id"`
	RunLogFile     string `json:"run_log_file,omitempty"` // JSON-lines run history; empty = console only
}

// ObservabilityConfig holds all observability-related settings.
type ObservabilityConfig struct {
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`
	Logging LoggingConfig `json:"logging"`
}

// GRPCConfig holds the liveness gRPC server settings.
type GRPCConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"` // :9090
}

// Config is the central configuration struct embedding all component configs.
type Config struct {
	Broker        BrokerConfig        `json:"broker"`
	BlobStore     BlobStoreConfig     `json:"blob_store"`
	Audit         AuditConfig         `json:"audit"`
	Palette       PaletteConfig       `json:"palette"`
	Daemon        DaemonConfig        `json:"daemon"`
	Observability ObservabilityConfig `json:"observability"`
	GRPC          GRPCConfig          `json:"grpc"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			RedisURL:     "redis://localhost:6379/0",
			ResultTTL:    1 * time.Hour,
			WaitPollTick: 500 * time.Millisecond,
		},
		BlobStore: BlobStoreConfig{
			Bucket: "cmdproxy",
			Region: "us-east-1",
		},
		Audit: AuditConfig{
			DSN: "",
		},
		Palette: PaletteConfig{
			CommandPaletteFile: "command_palette.yaml",
			EnvironmentsFile:   "environments.yaml",
		},
		Daemon: DaemonConfig{
			ScratchDir: "/tmp/cmdproxy",
			LogLevel:   "info",
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "cmdproxy",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:          true,
				Namespace:        "cmdproxy",
				Addr:             ":9100",
				HistogramBuckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
			},
			Logging: LoggingConfig{
				Level:          "info",
				Format:         "text",
				IncludeTraceID: true,
			},
		},
		GRPC: GRPCConfig{
			Enabled: true,
			Addr:    ":9090",
		},
	}
}

// LoadFromFile loads configuration from a JSON file, overlaid on the defaults.
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

// LoadFromEnv applies CMDPROXY_* environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("CMDPROXY_REDIS_URL"); v != "" {
		cfg.Broker.RedisURL = v
	}
	if v := os.Getenv("CMDPROXY_BROKER_RESULT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Broker.ResultTTL = d
		}
	}
	if v := os.Getenv("CMDPROXY_BROKER_WAIT_POLL_TICK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Broker.WaitPollTick = d
		}
	}

	if v := os.Getenv("CMDPROXY_BLOBSTORE_BUCKET"); v != "" {
		cfg.BlobStore.Bucket = v
	}
	if v := os.Getenv("CMDPROXY_BLOBSTORE_REGION"); v != "" {
		cfg.BlobStore.Region = v
	}
	if v := os.Getenv("CMDPROXY_BLOBSTORE_ENDPOINT"); v != "" {
		cfg.BlobStore.Endpoint = v
	}
	if v := os.Getenv("CMDPROXY_BLOBSTORE_FORCE_PATH_STYLE"); v != "" {
		cfg.BlobStore.ForcePathStyle = parseBool(v)
	}

	if v := os.Getenv("CMDPROXY_AUDIT_DSN"); v != "" {
		cfg.Audit.DSN = v
	}

	if v := os.Getenv("CMDPROXY_COMMAND_PALETTE"); v != "" {
		cfg.Palette.CommandPaletteFile = v
	}
	if v := os.Getenv("CMDPROXY_ENVIRONMENTS"); v != "" {
		cfg.Palette.EnvironmentsFile = v
	}
	if v := os.Getenv("CMDPROXY_EXT_QUEUES"); v != "" {
		cfg.Palette.ExtQueues = strings.Split(v, ",")
	}

	if v := os.Getenv("CMDPROXY_SCRATCH_DIR"); v != "" {
		cfg.Daemon.ScratchDir = v
	}
	if v := os.Getenv("CMDPROXY_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
		cfg.Observability.Logging.Level = v
	}

	if v := os.Getenv("CMDPROXY_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("CMDPROXY_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("CMDPROXY_TRACING_EXPORTER"); v != "" {
		cfg.Observability.Tracing.Exporter = v
	}
	if v := os.Getenv("CMDPROXY_TRACING_SERVICE_NAME"); v != "" {
		cfg.Observability.Tracing.ServiceName = v
	}
	if v := os.Getenv("CMDPROXY_TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Observability.Tracing.SampleRate = f
		}
	}

	if v := os.Getenv("CMDPROXY_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("CMDPROXY_METRICS_NAMESPACE"); v != "" {
		cfg.Observability.Metrics.Namespace = v
	}
	if v := os.Getenv("CMDPROXY_METRICS_ADDR"); v != "" {
		cfg.Observability.Metrics.Addr = v
	}

	if v := os.Getenv("CMDPROXY_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}
	if v := os.Getenv("CMDPROXY_LOG_INCLUDE_TRACE_ID"); v != "" {
		cfg.Observability.Logging.IncludeTraceID = parseBool(v)
	}
	if v := os.Getenv("CMDPROXY_RUN_LOG_FILE"); v != "" {
		cfg.Observability.Logging.RunLogFile = v
	}

	if v := os.Getenv("CMDPROXY_GRPC_ENABLED"); v != "" {
		cfg.GRPC.Enabled = parseBool(v)
	}
	if v := os.Getenv("CMDPROXY_GRPC_ADDR"); v != "" {
		cfg.GRPC.Addr = v
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
