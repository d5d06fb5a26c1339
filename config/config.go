package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DirName  = ".rethx"
	FileName = "config.yaml"

	EnvPrefix = "RETHX"
)

// Keys as they appear in the config file. Environment variables use the same
// keys upper-cased with dots replaced by underscores, e.g. RETHX_REDIS_ADDR.
const (
	KeyHTTPURL         = "http_url"
	KeyWSURL           = "ws_url"
	KeyTimeout         = "timeout"
	KeyLogLevel        = "log.level"
	KeyLogFormat       = "log.format"
	KeyMetricsAddr     = "metrics_addr"
	KeyRedisAddr       = "redis.addr"
	KeyRedisPassword   = "redis.password"
	KeyRedisDB         = "redis.db"
	KeyRedisStreamKey  = "redis.stream.key"
	KeyRedisStreamMax  = "redis.stream.max_len"
	KeyScanConcurrency = "scan.concurrency"
)

type LogConfig struct {
	Level  string
	Format string
}

type RedisStreamConfig struct {
	Key    string
	MaxLen int64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   RedisStreamConfig
}

type ScanConfig struct {
	Concurrency int
}

type Config struct {
	HTTPURL     string
	WSURL       string
	Timeout     time.Duration
	Log         LogConfig
	MetricsAddr string
	Redis       RedisConfig
	Scan        ScanConfig
}

// SetDefaults registers the default value of every key and enables RETHX_*
// environment overrides.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyHTTPURL, "http://127.0.0.1:8545")
	v.SetDefault(KeyWSURL, "ws://127.0.0.1:8546")
	v.SetDefault(KeyTimeout, 30*time.Second)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyMetricsAddr, "")
	v.SetDefault(KeyRedisAddr, "127.0.0.1:6379")
	v.SetDefault(KeyRedisPassword, "")
	v.SetDefault(KeyRedisDB, 0)
	v.SetDefault(KeyRedisStreamKey, "reth:notifications")
	v.SetDefault(KeyRedisStreamMax, int64(100000))
	v.SetDefault(KeyScanConcurrency, 8)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// ReadFile reads the config file into v. An explicit path must exist; the
// default file is optional.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		def, err := Path()
		if err != nil {
			return err
		}
		if _, err := os.Stat(def); errors.Is(err, os.ErrNotExist) {
			return nil
		}
		path = def
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return nil
}

// Load builds a Config from v and validates it.
func Load(v *viper.Viper) (Config, error) {
	c := Config{
		HTTPURL: strings.TrimSpace(v.GetString(KeyHTTPURL)),
		WSURL:   strings.TrimSpace(v.GetString(KeyWSURL)),
		Timeout: v.GetDuration(KeyTimeout),
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString(KeyLogLevel)),
			Format: strings.ToLower(v.GetString(KeyLogFormat)),
		},
		MetricsAddr: v.GetString(KeyMetricsAddr),
		Redis: RedisConfig{
			Addr:     v.GetString(KeyRedisAddr),
			Password: v.GetString(KeyRedisPassword),
			DB:       v.GetInt(KeyRedisDB),
			Stream: RedisStreamConfig{
				Key:    v.GetString(KeyRedisStreamKey),
				MaxLen: v.GetInt64(KeyRedisStreamMax),
			},
		},
		Scan: ScanConfig{
			Concurrency: v.GetInt(KeyScanConcurrency),
		},
	}

	if c.HTTPURL == "" && c.WSURL == "" {
		return Config{}, errors.New("no endpoint configured: set http_url or ws_url")
	}
	if c.Timeout <= 0 {
		return Config{}, fmt.Errorf("invalid timeout %s", c.Timeout)
	}
	if c.Scan.Concurrency <= 0 {
		return Config{}, fmt.Errorf("invalid scan concurrency %d", c.Scan.Concurrency)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return Config{}, err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("unknown log format %q (expected text or json)", c.Log.Format)
	}
	return c, nil
}

func (c LogConfig) SlogLevel() (slog.Level, error) {
	switch c.Level {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", c.Level)
}

// Dir returns the directory holding the config file.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// SaveEndpoint sets key to url in the config file, keeping every other value
// already stored there, and updates v. path may be empty for the default file.
func SaveEndpoint(v *viper.Viper, path, key, url string) error {
	switch key {
	case KeyHTTPURL, KeyWSURL:
	default:
		return fmt.Errorf("unknown endpoint key %q", key)
	}

	if path == "" {
		def, err := Path()
		if err != nil {
			return err
		}
		path = def
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// A separate instance keeps defaults, env and flags out of the file.
	file := viper.New()
	file.SetConfigFile(path)
	if _, err := os.Stat(path); err == nil {
		if err := file.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	file.Set(key, url)
	if err := file.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config permissions: %w", err)
	}

	v.Set(key, url)
	return nil
}
