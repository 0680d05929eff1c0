package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultAPIURL     = "http://127.0.0.1:7411"
	DefaultDBFileName = ".aurec.db"
	DefaultLogLevel   = "info"

	DefaultChunkSizeBytes   int64 = 512 * 1024
	DefaultMaxArtifactBytes int64 = 100 * 1024 * 1024
	DefaultMaxAttempts            = 5
	DefaultTempArtifactTTL        = 24 * time.Hour
	DefaultReapInterval           = time.Hour
	DefaultRateLimitWindow        = time.Minute
	DefaultRateLimitMax           = 120
	DefaultCaptureCeiling         = 20 * time.Minute

	configDirEnvKey         = "AUREC_CONFIG_DIR"
	apiURLEnvKey            = "AUREC_API_URL"
	dbPathEnvKey            = "AUREC_DB"
	dataDirEnvKey           = "AUREC_DATA_DIR"
	allowedMediaTypesEnvKey = "AUREC_ALLOWED_MEDIA_TYPES"
	relaySecretHashEnvKey   = "AUREC_RELAY_SECRET_HASH"
	configFileName          = ".aurec.toml"
)

// DefaultRetryDelays is the backoff schedule applied between retries of a
// rejected piece, first retry to last.
var DefaultRetryDelays = []time.Duration{
	time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
}

// DefaultAllowedMediaTypes lists artifact media types accepted at finalize.
var DefaultAllowedMediaTypes = []string{
	"audio/webm",
	"audio/ogg",
	"audio/mpeg",
	"audio/mp4",
	"audio/wav",
	"audio/wave",
	"audio/x-wav",
}

// UploadConfig defines transfer and finalize policy shared by client and
// server.
type UploadConfig struct {
	ChunkSizeBytes    int64    `toml:"chunk_size_bytes"`
	RetryDelaysMS     []int64  `toml:"retry_delays_ms"`
	MaxAttempts       int      `toml:"max_attempts"`
	MaxArtifactBytes  int64    `toml:"max_artifact_bytes"`
	AllowedMediaTypes []string `toml:"allowed_media_types"`
	TempArtifactTTL   string   `toml:"temp_artifact_ttl"`
	ReapInterval      string   `toml:"reap_interval"`
	RateLimitWindow   string   `toml:"rate_limit_window"`
	RateLimitMax      int      `toml:"rate_limit_max"`
	RelaySecretHash   string   `toml:"relay_secret_hash"`
}

// CaptureConfig defines how the client drives the audio capture device.
type CaptureConfig struct {
	Command   string   `toml:"command"`
	Args      []string `toml:"args"`
	MediaType string   `toml:"media_type"`
	Ceiling   string   `toml:"ceiling"`
}

// QueueConfig selects and locates the local submission queue backend.
type QueueConfig struct {
	Backend string `toml:"backend"`
	Dir     string `toml:"dir"`
}

// Config defines runtime configuration for aurec.
type Config struct {
	APIURL   string        `toml:"api_url"`
	DBPath   string        `toml:"db_path"`
	DataDir  string        `toml:"data_dir"`
	LogLevel string        `toml:"log_level"`
	Upload   UploadConfig  `toml:"upload"`
	Capture  CaptureConfig `toml:"capture"`
	Queue    QueueConfig   `toml:"queue"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		APIURL:   DefaultAPIURL,
		LogLevel: DefaultLogLevel,
		Upload: UploadConfig{
			ChunkSizeBytes:   DefaultChunkSizeBytes,
			MaxAttempts:      DefaultMaxAttempts,
			MaxArtifactBytes: DefaultMaxArtifactBytes,
			RateLimitMax:     DefaultRateLimitMax,
		},
		Capture: CaptureConfig{
			Command:   "arecord",
			Args:      []string{"-q", "-f", "S16_LE", "-r", "16000", "-t", "wav", "-"},
			MediaType: "audio/wav",
		},
		Queue: QueueConfig{
			Backend: "sqlite",
		},
	}
}

// RetryDelays resolves the configured backoff schedule.
func (c *Config) RetryDelays() []time.Duration {
	if c == nil || len(c.Upload.RetryDelaysMS) == 0 {
		return DefaultRetryDelays
	}
	delays := make([]time.Duration, 0, len(c.Upload.RetryDelaysMS))
	for _, ms := range c.Upload.RetryDelaysMS {
		if ms < 0 {
			ms = 0
		}
		delays = append(delays, time.Duration(ms)*time.Millisecond)
	}
	return delays
}

// AllowedMediaTypes resolves the media-type allow-list.
func (c *Config) AllowedMediaTypes() []string {
	if c == nil || len(c.Upload.AllowedMediaTypes) == 0 {
		return DefaultAllowedMediaTypes
	}
	return c.Upload.AllowedMediaTypes
}

// TempArtifactTTL resolves the temp-artifact TTL.
func (c *Config) TempArtifactTTL() time.Duration {
	return durationOrDefault(c.Upload.TempArtifactTTL, DefaultTempArtifactTTL)
}

// ReapInterval resolves how often the server sweeps stale temp artifacts.
func (c *Config) ReapInterval() time.Duration {
	return durationOrDefault(c.Upload.ReapInterval, DefaultReapInterval)
}

// RateLimitWindow resolves the upload rate-limit window.
func (c *Config) RateLimitWindow() time.Duration {
	return durationOrDefault(c.Upload.RateLimitWindow, DefaultRateLimitWindow)
}

// CaptureCeiling resolves the hard wall-clock recording ceiling.
func (c *Config) CaptureCeiling() time.Duration {
	return durationOrDefault(c.Capture.Ceiling, DefaultCaptureCeiling)
}

func durationOrDefault(raw string, fallback time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

var allowedKeys = []string{
	"api_url",
	"db_path",
	"data_dir",
	"log_level",
	"upload.chunk_size_bytes",
	"upload.max_attempts",
	"upload.max_artifact_bytes",
	"upload.allowed_media_types",
	"upload.temp_artifact_ttl",
	"upload.reap_interval",
	"upload.rate_limit_window",
	"upload.rate_limit_max",
	"upload.relay_secret_hash",
	"capture.command",
	"capture.media_type",
	"capture.ceiling",
	"queue.backend",
	"queue.dir",
}

// AllowedKeys returns the set of valid config keys.
func AllowedKeys() []string {
	return allowedKeys
}

// IsAllowedKey checks if a key is a valid config key.
func IsAllowedKey(key string) bool {
	for _, k := range allowedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the value of a config key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "api_url":
		return c.APIURL, nil
	case "db_path":
		return c.DBPath, nil
	case "data_dir":
		return c.DataDir, nil
	case "log_level":
		return c.LogLevel, nil
	case "upload.chunk_size_bytes":
		return strconv.FormatInt(c.Upload.ChunkSizeBytes, 10), nil
	case "upload.max_attempts":
		return strconv.Itoa(c.Upload.MaxAttempts), nil
	case "upload.max_artifact_bytes":
		return strconv.FormatInt(c.Upload.MaxArtifactBytes, 10), nil
	case "upload.allowed_media_types":
		return strings.Join(c.AllowedMediaTypes(), ","), nil
	case "upload.temp_artifact_ttl":
		return c.TempArtifactTTL().String(), nil
	case "upload.reap_interval":
		return c.ReapInterval().String(), nil
	case "upload.rate_limit_window":
		return c.RateLimitWindow().String(), nil
	case "upload.rate_limit_max":
		return strconv.Itoa(c.Upload.RateLimitMax), nil
	case "upload.relay_secret_hash":
		return c.Upload.RelaySecretHash, nil
	case "capture.command":
		return c.Capture.Command, nil
	case "capture.media_type":
		return c.Capture.MediaType, nil
	case "capture.ceiling":
		return c.CaptureCeiling().String(), nil
	case "queue.backend":
		return c.Queue.Backend, nil
	case "queue.dir":
		return c.Queue.Dir, nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}

// GlobalPath returns the path to the global config file.
func GlobalPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configFileName), nil
}

// SetKey reads the TOML file at path, sets key=value, and writes it back.
func SetKey(path, key, value string) error {
	if !IsAllowedKey(key) {
		return fmt.Errorf("unknown key: %s", key)
	}

	data := make(map[string]any)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	parsedValue, err := parseSetValue(key, value)
	if err != nil {
		return err
	}
	if err := setNestedKey(data, strings.Split(key, "."), parsedValue); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(data)
}

func parseSetValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch key {
	case "upload.chunk_size_bytes", "upload.max_artifact_bytes":
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "upload.max_attempts", "upload.rate_limit_max":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "upload.temp_artifact_ttl", "upload.reap_interval", "upload.rate_limit_window", "capture.ceiling":
		if _, err := time.ParseDuration(value); err != nil {
			return nil, fmt.Errorf("%s must be a duration", key)
		}
		return value, nil
	case "upload.allowed_media_types":
		return splitCSV(value), nil
	case "queue.backend":
		if value != "sqlite" && value != "file" {
			return nil, fmt.Errorf("queue.backend must be sqlite or file")
		}
		return value, nil
	default:
		return value, nil
	}
}

func setNestedKey(data map[string]any, path []string, value any) error {
	if len(path) == 1 {
		data[path[0]] = value
		return nil
	}
	child, ok := data[path[0]]
	if !ok {
		child = make(map[string]any)
		data[path[0]] = child
	}
	childMap, ok := child.(map[string]any)
	if !ok {
		return fmt.Errorf("config key %s conflicts with an existing value", path[0])
	}
	return setNestedKey(childMap, path[1:], value)
}

func loadFileIfExists(path string, cfg *Config) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return true, nil
}

// Load reads config from the global file and applies env overrides.
func Load() (*Config, error) {
	cfg := Default()

	if overridePath, ok := overrideConfigPath(); ok {
		if _, err := loadFileIfExists(overridePath, &cfg); err != nil {
			return nil, err
		}
	} else if home, err := os.UserHomeDir(); err == nil {
		if _, err := loadFileIfExists(filepath.Join(home, configFileName), &cfg); err != nil {
			return nil, err
		}
	}

	if cfg.DBPath == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.DBPath = filepath.Join(cwd, DefaultDBFileName)
		}
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(filepath.Dir(cfg.DBPath), ".aurec")
	}

	if apiURL := os.Getenv(apiURLEnvKey); apiURL != "" {
		cfg.APIURL = apiURL
	}
	if dbPath := os.Getenv(dbPathEnvKey); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if dataDir := os.Getenv(dataDirEnvKey); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if raw := strings.TrimSpace(os.Getenv(allowedMediaTypesEnvKey)); raw != "" {
		cfg.Upload.AllowedMediaTypes = splitCSV(raw)
	}
	if raw := strings.TrimSpace(os.Getenv(relaySecretHashEnvKey)); raw != "" {
		cfg.Upload.RelaySecretHash = raw
	}

	cfg.normalizeUploadDefaults()

	return &cfg, nil
}

func overrideConfigPath() (string, bool) {
	dir := strings.TrimSpace(os.Getenv(configDirEnvKey))
	if dir == "" {
		return "", false
	}
	return filepath.Join(dir, configFileName), true
}

func (c *Config) normalizeUploadDefaults() {
	if c.Upload.ChunkSizeBytes <= 0 {
		c.Upload.ChunkSizeBytes = DefaultChunkSizeBytes
	}
	if c.Upload.MaxAttempts <= 0 {
		c.Upload.MaxAttempts = DefaultMaxAttempts
	}
	if c.Upload.MaxArtifactBytes <= 0 {
		c.Upload.MaxArtifactBytes = DefaultMaxArtifactBytes
	}
	if c.Upload.RateLimitMax <= 0 {
		c.Upload.RateLimitMax = DefaultRateLimitMax
	}
	if strings.TrimSpace(c.Queue.Backend) == "" {
		c.Queue.Backend = "sqlite"
	}
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
