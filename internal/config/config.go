package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory    = "memory"
	BackendCommitLog = "commitlog"
	BackendPebble    = "pebble"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
	Limits  LimitsConfig  `yaml:"limits"`
	CORS    CORSConfig    `yaml:"cors"`
	Tracing TracingConfig `yaml:"tracing"`
}

type ServerConfig struct {
	Addr              string   `yaml:"addr" validate:"required,hostname_port"`
	ReadHeaderTimeout Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	Backend   string          `yaml:"backend" validate:"oneof=memory commitlog pebble"`
	DataDir   string          `yaml:"data_dir" validate:"required_unless=Backend memory"`
	CommitLog CommitLogConfig `yaml:"commit_log"`
	Pebble    PebbleConfig    `yaml:"pebble"`
}

type CommitLogConfig struct {
	Buffer         SizeBytes `yaml:"buffer" validate:"gte=0"`
	FlushInterval  Duration  `yaml:"flush_interval" validate:"gte=0"`
	EnqueueTimeout Duration  `yaml:"enqueue_timeout" validate:"gte=0"`
	MaxEnqueuing   int       `yaml:"max_enqueuing" validate:"gte=0"`
	SyncOnAppend   bool      `yaml:"sync_on_append"`
}

type PebbleConfig struct {
	NoSync bool `yaml:"no_sync"`
}

type LogConfig struct {
	Level      string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format     string `yaml:"format" validate:"omitempty,oneof=json console"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
}

// LimitsConfig bounds mutating requests per client IP. RPS 0 disables it.
type LimitsConfig struct {
	RPS   float64 `yaml:"rps" validate:"gte=0"`
	Burst int     `yaml:"burst" validate:"gte=0"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type TracingConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Environment  string `yaml:"environment"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              "127.0.0.1:8080",
			ReadHeaderTimeout: Duration(5 * time.Second),
			ShutdownTimeout:   Duration(10 * time.Second),
		},
		Storage: StorageConfig{
			Backend: BackendCommitLog,
			DataDir: "./data",
			CommitLog: CommitLogConfig{
				Buffer:         4 << 20,
				FlushInterval:  Duration(time.Second),
				EnqueueTimeout: Duration(time.Second),
				MaxEnqueuing:   1024,
				SyncOnAppend:   true,
			},
		},
		Log:     LogConfig{Level: "info", Format: "json"},
		Tracing: TracingConfig{Environment: "development"},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (if path is non-empty), then BRANCHDOWN_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CommitLogPath and PebblePath place each backend's files under DataDir.
func (c *Config) CommitLogPath() string {
	return filepath.Join(c.Storage.DataDir, "branchdown.wal")
}

func (c *Config) PebblePath() string {
	return filepath.Join(c.Storage.DataDir, "pebble")
}

var validate = validator.New()

func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("BRANCHDOWN_HTTP_ADDR", &cfg.Server.Addr)
	str("BRANCHDOWN_STORAGE", &cfg.Storage.Backend)
	str("BRANCHDOWN_DATA_DIR", &cfg.Storage.DataDir)
	str("BRANCHDOWN_LOG_LEVEL", &cfg.Log.Level)
	str("BRANCHDOWN_LOG_FORMAT", &cfg.Log.Format)
	str("BRANCHDOWN_LOG_FILE", &cfg.Log.File)
	str("BRANCHDOWN_OTLP_ENDPOINT", &cfg.Tracing.OTLPEndpoint)
	str("BRANCHDOWN_ENV", &cfg.Tracing.Environment)

	if v := getenv("BRANCHDOWN_COMMIT_LOG_BUFFER"); v != "" {
		size, err := ParseSize(v)
		if err != nil {
			return fmt.Errorf("BRANCHDOWN_COMMIT_LOG_BUFFER: %w", err)
		}
		cfg.Storage.CommitLog.Buffer = size
	}
	if v := getenv("BRANCHDOWN_FLUSH_INTERVAL"); v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("BRANCHDOWN_FLUSH_INTERVAL: %w", err)
		}
		cfg.Storage.CommitLog.FlushInterval = d
	}
	if v := getenv("BRANCHDOWN_SYNC_ON_APPEND"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("BRANCHDOWN_SYNC_ON_APPEND: %w", err)
		}
		cfg.Storage.CommitLog.SyncOnAppend = b
	}
	if v := getenv("BRANCHDOWN_RATE_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("BRANCHDOWN_RATE_RPS: %w", err)
		}
		cfg.Limits.RPS = f
	}
	if v := getenv("BRANCHDOWN_RATE_BURST"); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BRANCHDOWN_RATE_BURST: %w", err)
		}
		cfg.Limits.Burst = i
	}
	if v := getenv("BRANCHDOWN_CORS_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.CORS.AllowedOrigins = origins
	}
	return nil
}
