package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/seantiz/kernelforge/internal/budget"
	"github.com/seantiz/kernelforge/internal/engine"
	"github.com/seantiz/kernelforge/internal/poll"
	"github.com/seantiz/kernelforge/internal/provision"
)

const (
	defaultListenAddr       = ":8080"
	defaultDBPath           = "kernelforge.db"
	defaultVariant          = provision.VariantPublish
	defaultCallbackAttempts = 3
	defaultCallbackReserve  = 10 * time.Second

	envListenAddr       = "KERNELFORGE_LISTEN_ADDR"
	envDBPath           = "KERNELFORGE_DB_PATH"
	envLogLevel         = "KERNELFORGE_LOG_LEVEL"
	envVariant          = "KERNELFORGE_VARIANT"
	envPollInterval     = "KERNELFORGE_POLL_INTERVAL"
	envBuildFloor       = "KERNELFORGE_BUILD_FLOOR"
	envPublishFraction  = "KERNELFORGE_PUBLISH_FRACTION"
	envPublishCeiling   = "KERNELFORGE_PUBLISH_CEILING"
	envDedupWindow      = "KERNELFORGE_DEDUP_WINDOW"
	envStrictBudget     = "KERNELFORGE_STRICT_BUDGET"
	envDefaultRemaining = "KERNELFORGE_DEFAULT_REMAINING"
	envCallbackAttempts = "KERNELFORGE_CALLBACK_ATTEMPTS"
	envCallbackReserve  = "KERNELFORGE_CALLBACK_RESERVE"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// Variant is the workflow run when a request does not name one.
	Variant string

	PollInterval    time.Duration
	BuildFloor      time.Duration
	PublishFraction float64
	PublishCeiling  time.Duration
	DedupWindow     time.Duration

	// StrictBudget rejects runs whose group timeout exceeds the time left.
	StrictBudget bool

	// DefaultRemaining is the budget of API runs submitted without one, and
	// of invocations that carry no deadline.
	DefaultRemaining time.Duration

	CallbackAttempts uint
	// CallbackReserve is held back from the deadline for delivering the result.
	CallbackReserve time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// Unparseable values fall back to the default.
func Load() Config {
	cfg := Config{
		ListenAddr:       defaultListenAddr,
		DBPath:           defaultDBPath,
		LogLevel:         slog.LevelInfo,
		Variant:          defaultVariant,
		PollInterval:     poll.DefaultInterval,
		BuildFloor:       budget.DefaultBuildFloor,
		PublishFraction:  budget.DefaultPublishFraction,
		PublishCeiling:   budget.DefaultPublishCeiling,
		DedupWindow:      provision.DefaultDedupWindow,
		DefaultRemaining: engine.DefaultRemaining,
		CallbackAttempts: defaultCallbackAttempts,
		CallbackReserve:  defaultCallbackReserve,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envVariant); v != "" {
		cfg.Variant = v
	}
	cfg.PollInterval = durationEnv(envPollInterval, cfg.PollInterval)
	cfg.BuildFloor = durationEnv(envBuildFloor, cfg.BuildFloor)
	cfg.PublishCeiling = durationEnv(envPublishCeiling, cfg.PublishCeiling)
	cfg.DedupWindow = durationEnv(envDedupWindow, cfg.DedupWindow)
	cfg.DefaultRemaining = durationEnv(envDefaultRemaining, cfg.DefaultRemaining)
	cfg.CallbackReserve = durationEnv(envCallbackReserve, cfg.CallbackReserve)

	if v := os.Getenv(envPublishFraction); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.PublishFraction = f
		}
	}
	if v := os.Getenv(envStrictBudget); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.StrictBudget = b
		}
	}
	if v := os.Getenv(envCallbackAttempts); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil && n > 0 {
			cfg.CallbackAttempts = uint(n)
		}
	}

	return cfg
}

// ProvisionOptions returns the budget and deduplication settings.
func (c Config) ProvisionOptions() provision.Options {
	return provision.Options{
		BuildFloor:      c.BuildFloor,
		PublishFraction: c.PublishFraction,
		PublishCeiling:  c.PublishCeiling,
		DedupWindow:     c.DedupWindow,
	}
}

// ExecutorOptions returns the executor settings.
func (c Config) ExecutorOptions(logger *slog.Logger) []engine.ExecutorOption {
	return []engine.ExecutorOption{
		engine.WithLogger(logger),
		engine.WithPollInterval(c.PollInterval),
		engine.WithStrictBudget(c.StrictBudget),
	}
}

// durationEnv reads a Go duration ("90s", "15m") or a whole number of seconds.
// Negative values are ignored; zero is allowed and disables floors and ceilings.
func durationEnv(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return fallback
		}
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
