package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RunsDirEnv overrides the configured runs root.
const RunsDirEnv = "SCANLENS_RUNS_DIR"

const (
	DefaultRunsDir           = "scan_runs"
	DefaultAddr              = ":8000"
	DefaultPageSize          = 200
	DefaultMaxPageSize       = 1000
	DefaultPollInterval      = 500 * time.Millisecond
	DefaultRedisKey          = "scanlens:events"
	DefaultRedisTimeout      = 5 * time.Second
	DefaultNotifyTimeout     = 10 * time.Second
	DefaultNotifyStatePrefix = "scanlens:notify"
	DefaultIngestRun         = "ingest"
)

// Config is the root configuration.
type Config struct {
	ScanLens ScanLensConfig `yaml:"scanlens"`
}

// ScanLensConfig is the project configuration.
type ScanLensConfig struct {
	Runs    RunsConfig    `yaml:"runs"`
	Server  ServerConfig  `yaml:"server"`
	Tail    TailConfig    `yaml:"tail"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Notify  NotifyConfig  `yaml:"notify"`
	Logging LoggingConfig `yaml:"logging"`
}

// RunsConfig locates the run journals.
type RunsConfig struct {
	Dir string `yaml:"dir"`
}

// ServerConfig controls the query and stream server.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	FrontendDir     string `yaml:"frontend_dir"`
	MaxPageSize     int    `yaml:"max_page_size"`
	DefaultPageSize int    `yaml:"default_page_size"`
}

// TailConfig controls live tail behavior.
type TailConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	UseFsnotify  *bool         `yaml:"use_fsnotify"`
}

// IngestConfig controls remote record ingest.
type IngestConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig controls Redis input.
type RedisConfig struct {
	Addr            string        `yaml:"addr"`
	Password        string        `yaml:"password"`
	DB              int           `yaml:"db"`
	Key             string        `yaml:"key"`
	BlockTimeout    time.Duration `yaml:"block_timeout"`
	DefaultRun      string        `yaml:"default_run"`
	MaxMessageBytes int           `yaml:"max_message_bytes"`
}

// NotifyConfig controls finding notifications.
type NotifyConfig struct {
	HTTP  HTTPOutputConfig  `yaml:"http"`
	State NotifyStateConfig `yaml:"state"`
}

// NotifyStateConfig controls the Redis ledger of delivered findings. An empty
// addr disables it.
type NotifyStateConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// HTTPOutputConfig config for remote output.
type HTTPOutputConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file. An empty path or a missing
// file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	// Only fails when the working directory is unavailable.
	_ = cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset values, applies the environment override and
// resolves the runs root to an absolute path.
func (c *Config) ApplyDefaults() error {
	s := &c.ScanLens

	if env := strings.TrimSpace(os.Getenv(RunsDirEnv)); env != "" {
		s.Runs.Dir = env
	}
	if s.Runs.Dir == "" {
		s.Runs.Dir = DefaultRunsDir
	}
	dir, err := ResolvePath(s.Runs.Dir)
	if err != nil {
		return fmt.Errorf("resolve runs dir: %w", err)
	}
	s.Runs.Dir = dir

	if s.Server.Addr == "" {
		s.Server.Addr = DefaultAddr
	}
	if s.Server.MaxPageSize <= 0 {
		s.Server.MaxPageSize = DefaultMaxPageSize
	}
	if s.Server.DefaultPageSize <= 0 {
		s.Server.DefaultPageSize = DefaultPageSize
	}
	if s.Server.DefaultPageSize > s.Server.MaxPageSize {
		s.Server.DefaultPageSize = s.Server.MaxPageSize
	}
	if s.Server.FrontendDir != "" {
		if fd, err := ResolvePath(s.Server.FrontendDir); err == nil {
			s.Server.FrontendDir = fd
		}
	}

	if s.Tail.PollInterval <= 0 {
		s.Tail.PollInterval = DefaultPollInterval
	}
	if s.Tail.UseFsnotify == nil {
		enabled := true
		s.Tail.UseFsnotify = &enabled
	}

	if s.Ingest.Redis.Key == "" {
		s.Ingest.Redis.Key = DefaultRedisKey
	}
	if s.Ingest.Redis.BlockTimeout <= 0 {
		s.Ingest.Redis.BlockTimeout = DefaultRedisTimeout
	}
	if s.Ingest.Redis.DefaultRun == "" {
		s.Ingest.Redis.DefaultRun = DefaultIngestRun
	}
	if s.Notify.HTTP.Timeout <= 0 {
		s.Notify.HTTP.Timeout = DefaultNotifyTimeout
	}
	if s.Notify.State.KeyPrefix == "" {
		s.Notify.State.KeyPrefix = DefaultNotifyStatePrefix
	}

	if s.Logging.Level == "" {
		s.Logging.Level = "info"
	}
	return nil
}

// ResolvePath expands a leading ~ and makes p absolute.
func ResolvePath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return filepath.Abs(p)
}
