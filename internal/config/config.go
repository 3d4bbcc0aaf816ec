// Package config provides configuration for the gateway.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the gateway configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Engine bridge
	EngineAddr   string // JSON-RPC address of the connection engine
	CallbackAddr string // Address the engine pushes lifecycle events to

	// Session index
	IndexBackend string // file, sqlite or redis
	IndexPath    string
	SQLiteDSN    string
	RedisAddr    string
	RedisKey     string

	// Session storage
	AuthDir      string // Parent of per-session credential directories
	CleanupDelay time.Duration

	// Dispatch
	MediaDir           string
	DefaultCountryCode string
	SendRatePerSec     float64
	SendBurst          int
	MediaFetchTimeout  time.Duration
	MediaMaxBytes      int64
	PolicyFile         string

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Logging
	LogLevel  string
	LogFormat string
}

var defaults = map[string]interface{}{
	"HTTP_PORT":              8000,
	"ENGINE_ADDR":            "localhost:7070",
	"CALLBACK_ADDR":          "localhost:7071",
	"INDEX_BACKEND":          "file",
	"INDEX_PATH":             "./sessions.json",
	"SQLITE_DSN":             "file:gateway.db?cache=shared&mode=rwc",
	"REDIS_ADDR":             "",
	"REDIS_KEY":              "gateway:sessions",
	"AUTH_DIR":               "./.wwebjs_auth",
	"CLEANUP_DELAY_MS":       500,
	"MEDIA_DIR":              "./media",
	"DEFAULT_COUNTRY_CODE":   "62",
	"SEND_RATE_PER_SEC":      1.0,
	"SEND_BURST":             5,
	"MEDIA_FETCH_TIMEOUT_MS": 30000,
	"MEDIA_MAX_BYTES":        16 << 20,
	"POLICY_FILE":            "",
	"WS_PING_INTERVAL_MS":    30000,
	"WS_WRITE_TIMEOUT_MS":    10000,
	"WS_READ_TIMEOUT_MS":     60000,
	"WS_MAX_MESSAGE_SIZE":    65536,
	"LOG_LEVEL":              "info",
	"LOG_FORMAT":             "console",
}

// Load loads configuration from environment variables.
func Load() *Config {
	return FromViper(viper.New())
}

// LoadFile loads configuration from a file, with environment variables
// taking precedence over values in the file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return FromViper(v), nil
}

// FromViper resolves the configuration from v, environment and defaults.
func FromViper(v *viper.Viper) *Config {
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Config{
		HTTPPort:           v.GetInt("HTTP_PORT"),
		EngineAddr:         v.GetString("ENGINE_ADDR"),
		CallbackAddr:       v.GetString("CALLBACK_ADDR"),
		IndexBackend:       strings.ToLower(v.GetString("INDEX_BACKEND")),
		IndexPath:          v.GetString("INDEX_PATH"),
		SQLiteDSN:          v.GetString("SQLITE_DSN"),
		RedisAddr:          v.GetString("REDIS_ADDR"),
		RedisKey:           v.GetString("REDIS_KEY"),
		AuthDir:            v.GetString("AUTH_DIR"),
		CleanupDelay:       millis(v, "CLEANUP_DELAY_MS"),
		MediaDir:           v.GetString("MEDIA_DIR"),
		DefaultCountryCode: v.GetString("DEFAULT_COUNTRY_CODE"),
		SendRatePerSec:     v.GetFloat64("SEND_RATE_PER_SEC"),
		SendBurst:          v.GetInt("SEND_BURST"),
		MediaFetchTimeout:  millis(v, "MEDIA_FETCH_TIMEOUT_MS"),
		MediaMaxBytes:      v.GetInt64("MEDIA_MAX_BYTES"),
		PolicyFile:         v.GetString("POLICY_FILE"),
		PingInterval:       millis(v, "WS_PING_INTERVAL_MS"),
		WriteTimeout:       millis(v, "WS_WRITE_TIMEOUT_MS"),
		ReadTimeout:        millis(v, "WS_READ_TIMEOUT_MS"),
		MaxMessageSize:     v.GetInt64("WS_MAX_MESSAGE_SIZE"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		LogFormat:          v.GetString("LOG_FORMAT"),
	}
}

func millis(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt(key)) * time.Millisecond
}
