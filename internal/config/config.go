package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

const (
	defaultListenAddr      = ":8080"
	defaultDBPath          = "agentcore.db"
	defaultLogFormat       = "json"
	defaultMemoryCapacity  = 1024
	defaultTTL             = time.Hour
	defaultMaxRetries      = 3
	defaultBackoff         = "exponential"
	defaultBaseDelay       = 500 * time.Millisecond
	defaultStepTimeout     = 60 * time.Second
	defaultWorkflowTimeout = 5 * time.Minute
	defaultConcurrency     = 10
	defaultCancelGrace     = 5 * time.Second

	envListenAddr      = "AGENTCORE_LISTEN_ADDR"
	envDBPath          = "AGENTCORE_DB_PATH"
	envLogLevel        = "AGENTCORE_LOG_LEVEL"
	envLogFormat       = "AGENTCORE_LOG_FORMAT"
	envMemoryCapacity  = "AGENTCORE_MEMORY_CAPACITY"
	envDefaultTTL      = "AGENTCORE_DEFAULT_TTL"
	envMaxRetries      = "AGENTCORE_MAX_RETRIES"
	envBackoff         = "AGENTCORE_BACKOFF"
	envBaseDelay       = "AGENTCORE_BASE_DELAY"
	envJitter          = "AGENTCORE_JITTER"
	envStepTimeout     = "AGENTCORE_STEP_TIMEOUT"
	envWorkflowTimeout = "AGENTCORE_WORKFLOW_TIMEOUT"
	envConcurrency     = "AGENTCORE_CONCURRENCY_LIMIT"
	envCancelGrace     = "AGENTCORE_CANCEL_GRACE"
)

// Config holds application configuration loaded from environment variables.
// Durations accept Go duration syntax ("500ms", "2m"). A DefaultTTL of 0
// disables expiry for memory entries written without an explicit TTL.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level
	LogFormat  string

	MemoryCapacity int
	DefaultTTL     time.Duration

	MaxRetries int
	Backoff    string
	BaseDelay  time.Duration
	Jitter     bool

	StepTimeout     time.Duration
	WorkflowTimeout time.Duration
	Concurrency     int
	CancelGrace     time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:      defaultListenAddr,
		DBPath:          defaultDBPath,
		LogLevel:        slog.LevelInfo,
		LogFormat:       defaultLogFormat,
		MemoryCapacity:  defaultMemoryCapacity,
		DefaultTTL:      defaultTTL,
		MaxRetries:      defaultMaxRetries,
		Backoff:         defaultBackoff,
		BaseDelay:       defaultBaseDelay,
		StepTimeout:     defaultStepTimeout,
		WorkflowTimeout: defaultWorkflowTimeout,
		Concurrency:     defaultConcurrency,
		CancelGrace:     defaultCancelGrace,
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
	if v := os.Getenv(envLogFormat); v != "" {
		cfg.LogFormat = parseLogFormat(v)
	}
	if v := os.Getenv(envMemoryCapacity); v != "" {
		cfg.MemoryCapacity = parseInt(v, defaultMemoryCapacity)
	}
	if v := os.Getenv(envDefaultTTL); v != "" {
		cfg.DefaultTTL = parseTTL(v, defaultTTL)
	}
	if v := os.Getenv(envMaxRetries); v != "" {
		cfg.MaxRetries = parseInt(v, defaultMaxRetries)
	}
	if v := os.Getenv(envBackoff); v != "" {
		cfg.Backoff = parseBackoff(v)
	}
	if v := os.Getenv(envBaseDelay); v != "" {
		cfg.BaseDelay = parseDuration(v, defaultBaseDelay)
	}
	if v := os.Getenv(envJitter); v != "" {
		cfg.Jitter = parseBool(v)
	}
	if v := os.Getenv(envStepTimeout); v != "" {
		cfg.StepTimeout = parseDuration(v, defaultStepTimeout)
	}
	if v := os.Getenv(envWorkflowTimeout); v != "" {
		cfg.WorkflowTimeout = parseDuration(v, defaultWorkflowTimeout)
	}
	if v := os.Getenv(envConcurrency); v != "" {
		cfg.Concurrency = parseInt(v, defaultConcurrency)
	}
	if v := os.Getenv(envCancelGrace); v != "" {
		cfg.CancelGrace = parseDuration(v, defaultCancelGrace)
	}

	return cfg
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

func parseLogFormat(s string) string {
	switch strings.ToLower(s) {
	case "text":
		return "text"
	default:
		return "json"
	}
}

func parseBackoff(s string) string {
	switch strings.ToLower(s) {
	case "constant":
		return "constant"
	case "linear":
		return "linear"
	default:
		return "exponential"
	}
}

func parseInt(s string, fallback int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

func parseBool(s string) bool {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false
	}
	return v
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(s)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

// parseTTL is parseDuration plus the "none" spelling for disabling expiry.
func parseTTL(s string, fallback time.Duration) time.Duration {
	if strings.ToLower(s) == "none" {
		return 0
	}
	return parseDuration(s, fallback)
}

// NewLogger creates a structured logger writing to w at the configured level.
// Format "json" emits slog JSON records; "text" uses a tint handler for
// human-readable development output.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	if format == "text" {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
