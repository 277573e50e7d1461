// Package config defines runtime defaults, loading and sanitisation of the
// roomchat server settings.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable viper looks up.
const EnvPrefix = "ROOMCHAT"

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string
	Format string
}

// RelayConfig enables the Redis relay when RedisURL is set.
type RelayConfig struct {
	RedisURL string
	Channel  string
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string
	AllowedOrigins []string
	AllowAll       bool
	MaxMessageSize int64
	RateLimit      RateLimitConfig

	SendBufferSize  int
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	ShutdownTimeout time.Duration

	Log   LogConfig
	Relay RelayConfig
}

// Default returns a Config populated with default values for all settings.
func Default() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 512,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		SendBufferSize:  256,
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
		PingPeriod:      54 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Relay: RelayConfig{
			Channel: "roomchat:broadcast",
		},
	}
}

// legacyEnv maps config keys onto the unprefixed variables older deployments use.
var legacyEnv = map[string]string{
	"port":                       "SERVER_PORT",
	"allowed_origins":            "ALLOWED_ORIGINS",
	"max_message_size":           "MAX_MESSAGE_SIZE",
	"rate_limit.burst":           "RATE_LIMIT_BURST",
	"rate_limit.refill_interval": "RATE_LIMIT_REFILL_INTERVAL",
	"log.level":                  "LOG_LEVEL",
	"log.format":                 "LOG_FORMAT",
	"relay.redis_url":            "REDIS_URL",
}

// Load reads configuration from defaults, an optional YAML file called name
// (searched in paths, or "." and "./config"), a .env file and the environment.
// ROOMCHAT_-prefixed variables win over the legacy unprefixed ones.
// Values that fail to parse fall back to their defaults.
func Load(logger *slog.Logger, name string, paths ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded", slog.Any("error", err))
	}

	def := Default()
	v := viper.New()

	v.SetDefault("port", def.Port)
	v.SetDefault("allowed_origins", strings.Join(def.AllowedOrigins, ","))
	v.SetDefault("max_message_size", def.MaxMessageSize)
	v.SetDefault("rate_limit.burst", def.RateLimit.Burst)
	v.SetDefault("rate_limit.refill_interval", def.RateLimit.RefillInterval.String())
	v.SetDefault("send_buffer_size", def.SendBufferSize)
	v.SetDefault("write_wait", def.WriteWait.String())
	v.SetDefault("pong_wait", def.PongWait.String())
	v.SetDefault("ping_period", def.PingPeriod.String())
	v.SetDefault("shutdown_timeout", def.ShutdownTimeout.String())
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	v.SetDefault("relay.redis_url", def.Relay.RedisURL)
	v.SetDefault("relay.channel", def.Relay.Channel)

	v.SetConfigName(name)
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		logger.Debug("Config file not found, relying on defaults and environment")
	} else {
		logger.Info("Loaded config file", slog.String("path", v.ConfigFileUsed()))
	}

	cfg := Config{
		Port:           v.GetString("port"),
		AllowedOrigins: originList(v),
		MaxMessageSize: parseMaxMessageSize(v.GetString("max_message_size"), def.MaxMessageSize),
		RateLimit: RateLimitConfig{
			Burst:          parseIntValue(v.GetString("rate_limit.burst"), def.RateLimit.Burst),
			RefillInterval: parseInterval(v.GetString("rate_limit.refill_interval"), def.RateLimit.RefillInterval),
		},
		SendBufferSize:  parseIntValue(v.GetString("send_buffer_size"), def.SendBufferSize),
		WriteWait:       parseInterval(v.GetString("write_wait"), def.WriteWait),
		PongWait:        parseInterval(v.GetString("pong_wait"), def.PongWait),
		PingPeriod:      parseInterval(v.GetString("ping_period"), def.PingPeriod),
		ShutdownTimeout: parseInterval(v.GetString("shutdown_timeout"), def.ShutdownTimeout),
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Relay: RelayConfig{
			RedisURL: strings.TrimSpace(v.GetString("relay.redis_url")),
			Channel:  v.GetString("relay.channel"),
		},
	}

	sanitized := Sanitize(cfg, logger)
	return &sanitized, nil
}

// originList accepts either a YAML list or a comma separated string.
func originList(v *viper.Viper) []string {
	if raw, ok := v.Get("allowed_origins").(string); ok {
		return parseOrigins(raw)
	}
	return v.GetStringSlice("allowed_origins")
}

// Sanitize replaces invalid values with their defaults and normalises the
// origin allow-list.
func Sanitize(cfg Config, logger *slog.Logger) Config {
	def := Default()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	// Pings must go out before the peer's pong deadline expires.
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
	if cfg.Relay.Channel == "" {
		cfg.Relay.Channel = def.Relay.Channel
	}

	origins, allowAll := NormalizeOrigins(cfg.AllowedOrigins, logger)
	cfg.AllowedOrigins = origins
	cfg.AllowAll = cfg.AllowAll || allowAll

	return cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseInterval accepts whole seconds ("30") or a Go duration ("1m30s").
func parseInterval(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
