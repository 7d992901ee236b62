package core

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable named in spec §6. Configuration follows a three-layer
// priority: defaults (lowest), environment variables (middle), functional options
// supplied to NewConfig (highest).
type Config struct {
	Parallelism              int           `json:"parallelism" env:"ORCH_PARALLELISM" default:"4"`
	StepTimeout              time.Duration `json:"step_timeout" env:"ORCH_STEP_TIMEOUT" default:"30s"`
	PlanTimeout               time.Duration `json:"plan_timeout" env:"ORCH_PLAN_TIMEOUT" default:"120s"`
	QueryTimeout              time.Duration `json:"query_timeout" env:"ORCH_QUERY_TIMEOUT" default:"150s"`
	SessionIdleTTL            time.Duration `json:"session_idle_ttl" env:"ORCH_SESSION_IDLE_TTL" default:"30m"`
	SessionSweepInterval      time.Duration `json:"session_sweep_interval" env:"ORCH_SESSION_SWEEP_INTERVAL" default:"15m"`
	MaxQueuedQueriesPerSession int          `json:"max_queued_queries_per_session" env:"ORCH_MAX_QUEUED_QUERIES" default:"4"`
	CandidateTopK             int           `json:"candidate_top_k" env:"ORCH_CANDIDATE_TOP_K" default:"8"`
	RetryBudgetPerStep        int           `json:"retry_budget_per_step" env:"ORCH_RETRY_BUDGET" default:"2"`
	EnableToolLearning        bool          `json:"enable_tool_learning" env:"ORCH_ENABLE_TOOL_LEARNING" default:"true"`
	LLMFallbackEnabled        bool          `json:"llm_fallback_enabled" env:"ORCH_LLM_FALLBACK_ENABLED" default:"true"`
	CancellationGraceWindow   time.Duration `json:"cancellation_grace_window" env:"ORCH_CANCEL_GRACE_WINDOW" default:"2s"`
	ShutdownGraceWindow       time.Duration `json:"shutdown_grace_window" env:"ORCH_SHUTDOWN_GRACE_WINDOW" default:"10s"`

	logger Logger
}

// Option mutates a Config during construction. Mirrors the functional-options
// convention used throughout the pack (WithX returning an Option).
type Option func(*Config)

func WithParallelism(n int) Option {
	return func(c *Config) { c.Parallelism = n }
}

func WithStepTimeout(d time.Duration) Option {
	return func(c *Config) { c.StepTimeout = d }
}

func WithPlanTimeout(d time.Duration) Option {
	return func(c *Config) { c.PlanTimeout = d }
}

func WithQueryTimeout(d time.Duration) Option {
	return func(c *Config) { c.QueryTimeout = d }
}

func WithSessionIdleTTL(d time.Duration) Option {
	return func(c *Config) { c.SessionIdleTTL = d }
}

func WithCandidateTopK(n int) Option {
	return func(c *Config) { c.CandidateTopK = n }
}

func WithLogger(l Logger) Option {
	return func(c *Config) { c.logger = l }
}

// defaultConfig returns the documented defaults from spec §6.
func defaultConfig() *Config {
	return &Config{
		Parallelism:                4,
		StepTimeout:                30 * time.Second,
		PlanTimeout:                120 * time.Second,
		QueryTimeout:               150 * time.Second,
		SessionIdleTTL:             30 * time.Minute,
		SessionSweepInterval:       15 * time.Minute,
		MaxQueuedQueriesPerSession: 4,
		CandidateTopK:              8,
		RetryBudgetPerStep:         2,
		EnableToolLearning:         true,
		LLMFallbackEnabled:         true,
		CancellationGraceWindow:    2 * time.Second,
		ShutdownGraceWindow:        10 * time.Second,
		logger:                     NoOpLogger{},
	}
}

// NewConfig builds a Config from defaults, then environment variables, then the
// supplied functional options, in that priority order.
func NewConfig(opts ...Option) *Config {
	c := defaultConfig()
	c.LoadFromEnv()
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = NoOpLogger{}
	}
	return c
}

// LoadFromEnv overlays environment variables onto the config, matching the
// manual (non-reflective) os.Getenv style used throughout this codebase.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("ORCH_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Parallelism = n
		}
	}
	if v := os.Getenv("ORCH_STEP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.StepTimeout = d
		}
	}
	if v := os.Getenv("ORCH_PLAN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.PlanTimeout = d
		}
	}
	if v := os.Getenv("ORCH_QUERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.QueryTimeout = d
		}
	}
	if v := os.Getenv("ORCH_SESSION_IDLE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SessionIdleTTL = d
		}
	}
	if v := os.Getenv("ORCH_SESSION_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SessionSweepInterval = d
		}
	}
	if v := os.Getenv("ORCH_MAX_QUEUED_QUERIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxQueuedQueriesPerSession = n
		}
	}
	if v := os.Getenv("ORCH_CANDIDATE_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CandidateTopK = n
		}
	}
	if v := os.Getenv("ORCH_RETRY_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RetryBudgetPerStep = n
		}
	}
	if v := os.Getenv("ORCH_ENABLE_TOOL_LEARNING"); v != "" {
		c.EnableToolLearning = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("ORCH_LLM_FALLBACK_ENABLED"); v != "" {
		c.LLMFallbackEnabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("ORCH_CANCEL_GRACE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.CancellationGraceWindow = d
		}
	}
	if v := os.Getenv("ORCH_SHUTDOWN_GRACE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ShutdownGraceWindow = d
		}
	}
}

// Logger returns the configured logger, defaulting to NoOpLogger.
func (c *Config) Logger() Logger {
	if c.logger == nil {
		return NoOpLogger{}
	}
	return c.logger
}

// IsKubernetes auto-detects whether the process is running inside a Kubernetes pod,
// matching the teacher's environment-detection convention.
func IsKubernetes() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}
