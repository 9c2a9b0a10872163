package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values. Names match the
// deployment secrets the worker has always been given.
const (
	EnvConfigPath       = "TRANSCRIPTWORKER_CONFIG"
	EnvWebhookURL       = "WEBHOOK_URL"
	EnvWebhookSecret    = "WEBHOOK_SECRET" // #nosec G101 - env var name, not a credential
	EnvDiarizationToken = "HF_TOKEN"       // #nosec G101 - env var name, not a credential
)

// Config is the root configuration, assembled once at process start.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Execution ExecutionConfig `yaml:"execution"`
	Callback  CallbackConfig  `yaml:"callback"`
	Storage   StorageConfig   `yaml:"storage"`
	Speech    SpeechConfig    `yaml:"speech"`
	Media     MediaConfig     `yaml:"media"`
}

// ServerConfig holds HTTP ingress and worker pool settings.
type ServerConfig struct {
	Addr          string        `yaml:"address"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	IdleTimeout   time.Duration `yaml:"idleTimeout"`
	MaxBodySize   ByteSize      `yaml:"maxBodySize"`
	WorkerCount   int           `yaml:"workerCount"`
	QueueCapacity int           `yaml:"queueCapacity"`
	APIKey        string        `yaml:"apiKey"`        // optional static API key header (X-API-Key)
	ShutdownGrace time.Duration `yaml:"shutdownGrace"` // time to wait for workers before forced stop
	LogLevel      string        `yaml:"logLevel"`      // debug|info|warn|error
	WorkDir       string        `yaml:"workDir"`       // parent of per-job scratch dirs, default os.TempDir()
}

// ExecutionConfig bounds a single job run.
type ExecutionConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// CallbackConfig configures outcome delivery.
type CallbackConfig struct {
	URL     string        `yaml:"url"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig selects the object store backend.
type StorageConfig struct {
	Provider string         `yaml:"provider"` // s3|sqlite
	S3       S3Settings     `yaml:"s3"`
	SQLite   SQLiteSettings `yaml:"sqlite"`
}

// S3Settings for Amazon S3 or an S3-compatible endpoint.
type S3Settings struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"` // optional, e.g. http://localhost:9000
	UsePathStyle    bool   `yaml:"usePathStyle"`
	AccessKeyID     string `yaml:"accessKeyId"`     // optional, default credential chain otherwise
	SecretAccessKey string `yaml:"secretAccessKey"` // optional
}

// SQLiteSettings for the local blob store.
type SQLiteSettings struct {
	Path string `yaml:"path"`
}

// SpeechConfig selects the speech model backends.
type SpeechConfig struct {
	Provider    string          `yaml:"provider"`    // service|mock
	Transcriber string          `yaml:"transcriber"` // optional override: aws
	Service     ServiceSettings `yaml:"service"`
	AWS         AWSSettings     `yaml:"aws"`
	Mock        MockSettings    `yaml:"mock"`
}

// ServiceSettings for the HTTP speech sidecar (WhisperX-compatible).
type ServiceSettings struct {
	BaseURL          string        `yaml:"baseUrl"` // e.g. http://localhost:9000
	APIKey           string        `yaml:"apiKey"`  // optional
	Timeout          time.Duration `yaml:"timeout"`
	DiarizationToken string        `yaml:"diarizationToken"`
}

// AWSSettings for the Amazon Transcribe transcriber.
type AWSSettings struct {
	Region        string        `yaml:"region"`
	ScratchBucket string        `yaml:"scratchBucket"`
	PollInterval  time.Duration `yaml:"pollInterval"`
}

// MockSettings config for the in-process speech models.
type MockSettings struct {
	Delay    time.Duration `yaml:"delay"`
	Speakers int           `yaml:"speakers"`
}

// MediaConfig locates the demuxing tools.
type MediaConfig struct {
	FFmpegPath  string `yaml:"ffmpegPath"`
	FFprobePath string `yaml:"ffprobePath"`
}

// ByteSize represents a size in bytes that unmarshals from strings like "10Mi", "20MB", "512KiB", "1024".
type ByteSize uint64

// UnmarshalYAML implements yaml unmarshalling for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
	}
	parsed, err := ParseByteSize(value.Value)
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

var reNumeric = regexp.MustCompile(`^\d+$`)

// ParseByteSize parses a string like "10Mi", "20MB", "512KiB", "1024" into bytes.
// Binary units accept Kubernetes style (Ki, Mi, Gi) and KiB/MiB/GiB; KB/MB/GB are decimal.
func ParseByteSize(s string) (uint64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}
	if reNumeric.MatchString(s) {
		val, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size number: %w", err)
		}
		return val, nil
	}

	up := strings.ToUpper(s)
	units := []struct {
		suffix string
		value  uint64
	}{
		{"KIB", 1 << 10},
		{"MIB", 1 << 20},
		{"GIB", 1 << 30},
		{"KI", 1 << 10},
		{"MI", 1 << 20},
		{"GI", 1 << 30},
		{"KB", 1000},
		{"MB", 1000 * 1000},
		{"GB", 1000 * 1000 * 1000},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(up, u.suffix) {
			num := strings.TrimSpace(s[:len(s)-len(u.suffix)])
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size number in %q: %w", orig, err)
			}
			return uint64(val * float64(u.value)), nil
		}
	}
	return 0, fmt.Errorf("unknown size suffix in %q", orig)
}

// Load reads YAML config from path, expands environment variables, applies
// defaults and environment overrides, and validates the result.
// If path is empty, it reads TRANSCRIPTWORKER_CONFIG, then defaults to "config.yaml".
// A missing default file is not an error: the environment alone may configure the worker.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		if env := os.Getenv(EnvConfigPath); env != "" {
			path = env
			explicit = true
		} else {
			path = "config.yaml"
		}
	}

	var cfg Config
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 - reading sanitized config file path is expected
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// environment-only configuration
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = ByteSize(1024 * 1024) // job descriptions are small
	}
	if cfg.Server.WorkerCount <= 0 {
		cfg.Server.WorkerCount = 2
	}
	if cfg.Server.QueueCapacity <= 0 {
		cfg.Server.QueueCapacity = 128
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 15 * time.Second
	}
	if strings.TrimSpace(cfg.Server.LogLevel) == "" {
		cfg.Server.LogLevel = "info"
	}

	if cfg.Execution.Timeout == 0 {
		cfg.Execution.Timeout = 6 * time.Hour
	}
	if cfg.Callback.Timeout == 0 {
		cfg.Callback.Timeout = 30 * time.Second
	}

	cfg.Storage.Provider = strings.ToLower(strings.TrimSpace(cfg.Storage.Provider))
	cfg.Speech.Provider = strings.ToLower(strings.TrimSpace(cfg.Speech.Provider))
	cfg.Speech.Transcriber = strings.ToLower(strings.TrimSpace(cfg.Speech.Transcriber))

	// Storage defaults
	if cfg.Storage.Provider == "" {
		cfg.Storage.Provider = "s3"
	}
	if strings.EqualFold(cfg.Storage.Provider, "s3") && cfg.Storage.S3.Region == "" {
		cfg.Storage.S3.Region = "us-east-1"
	}
	if strings.EqualFold(cfg.Storage.Provider, "sqlite") && cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = filepath.Join("data", "objects.db")
	}

	// Speech defaults
	if cfg.Speech.Provider == "" {
		cfg.Speech.Provider = "service"
	}
	if strings.EqualFold(cfg.Speech.Provider, "service") {
		if strings.TrimSpace(cfg.Speech.Service.BaseURL) == "" {
			cfg.Speech.Service.BaseURL = "http://localhost:9000"
		}
		if cfg.Speech.Service.Timeout == 0 {
			cfg.Speech.Service.Timeout = 2 * time.Hour
		}
	}
	if strings.EqualFold(cfg.Speech.Transcriber, "aws") {
		if cfg.Speech.AWS.Region == "" {
			cfg.Speech.AWS.Region = cfg.Storage.S3.Region
		}
		if cfg.Speech.AWS.PollInterval == 0 {
			cfg.Speech.AWS.PollInterval = 10 * time.Second
		}
	}
	if cfg.Speech.Mock.Speakers <= 0 {
		cfg.Speech.Mock.Speakers = 2
	}

	// Media defaults
	if cfg.Media.FFmpegPath == "" {
		cfg.Media.FFmpegPath = "ffmpeg"
	}
	if cfg.Media.FFprobePath == "" {
		cfg.Media.FFprobePath = "ffprobe"
	}
}

// applyEnvOverrides lets deployment secrets win over file values.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvWebhookURL)); v != "" {
		cfg.Callback.URL = v
	}
	if v := os.Getenv(EnvWebhookSecret); v != "" {
		cfg.Callback.Secret = v
	}
	if v := os.Getenv(EnvDiarizationToken); v != "" {
		cfg.Speech.Service.DiarizationToken = v
	}
}

func validate(cfg *Config) error {
	switch strings.ToLower(cfg.Storage.Provider) {
	case "s3":
		if strings.TrimSpace(cfg.Storage.S3.Region) == "" {
			return errors.New("storage.s3.region is required")
		}
		if (cfg.Storage.S3.AccessKeyID == "") != (cfg.Storage.S3.SecretAccessKey == "") {
			return errors.New("storage.s3.accessKeyId and storage.s3.secretAccessKey must be set together")
		}
	case "sqlite":
		if strings.TrimSpace(cfg.Storage.SQLite.Path) == "" {
			return errors.New("storage.sqlite.path is required")
		}
	default:
		return fmt.Errorf("unsupported storage provider %q", cfg.Storage.Provider)
	}

	switch strings.ToLower(cfg.Speech.Provider) {
	case "service":
		if strings.TrimSpace(cfg.Speech.Service.BaseURL) == "" {
			return errors.New("speech.service.baseUrl is required")
		}
	case "mock":
	default:
		return fmt.Errorf("unsupported speech provider %q", cfg.Speech.Provider)
	}

	switch strings.ToLower(cfg.Speech.Transcriber) {
	case "":
	case "aws":
		if strings.TrimSpace(cfg.Speech.AWS.ScratchBucket) == "" {
			return errors.New("speech.aws.scratchBucket is required for the aws transcriber")
		}
	default:
		return fmt.Errorf("unsupported speech transcriber %q", cfg.Speech.Transcriber)
	}

	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported server.logLevel %q", cfg.Server.LogLevel)
	}
	if cfg.Execution.Timeout < 0 {
		return errors.New("execution.timeout must not be negative")
	}
	return nil
}

// SlogLevel maps server.logLevel to a slog level. Unknown values map to info.
func (s ServerConfig) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(s.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
