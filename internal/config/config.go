// Package config loads and validates the typed configuration surface
// consumed by the orchestrator at startup.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure for the runtime.
type Config struct {
	Version      int                `yaml:"version"`
	Server       ServerConfig       `yaml:"server"`
	Pool         PoolConfig         `yaml:"pool"`
	Driver       DriverConfig       `yaml:"driver"`
	Perception   PerceptionConfig   `yaml:"perception"`
	Resolver     ResolverConfig     `yaml:"resolver"`
	Classifier   ClassifierConfig   `yaml:"classifier"`
	Planner      PlannerConfig      `yaml:"planner"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig configures the thin CLI/HTTP wrapper (out of scope per
// spec.md §1; kept minimal so cmd/pilot has somewhere to read a bind
// address from when a wrapper is attached).
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// PoolConfig configures the Browser Session Pool (C2, spec.md §4.2, §6).
type PoolConfig struct {
	MaxSessions         int           `yaml:"max_sessions"`
	MaxUsesPerSession   int           `yaml:"max_uses_per_session"`
	MaxSessionLifetime  time.Duration `yaml:"max_session_lifetime"`
	ReaperInterval      time.Duration `yaml:"reaper_interval"`
	IsAliveTimeout      time.Duration `yaml:"is_alive_timeout"`
	CreationAttempts    int           `yaml:"creation_attempts"`
	CreationBackoffBase time.Duration `yaml:"creation_backoff_base"`
	CreationBackoffCap  time.Duration `yaml:"creation_backoff_cap"`
}

// DefaultPoolConfig returns the §6 defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxSessions:         5,
		MaxUsesPerSession:   20,
		MaxSessionLifetime:  30 * time.Minute,
		ReaperInterval:      60 * time.Second,
		IsAliveTimeout:      300 * time.Millisecond,
		CreationAttempts:    5,
		CreationBackoffBase: 200 * time.Millisecond,
		CreationBackoffCap:  3 * time.Second,
	}
}

// DriverConfig selects and configures the Browser Driver Adapter (C1).
type DriverConfig struct {
	// Backend selects the capability implementation: "playwright" (default,
	// full surface) or "cdp" (chromedp, low-latency fast path).
	Backend        string `yaml:"backend"`
	Headless       bool   `yaml:"headless"`
	ViewportWidth  int    `yaml:"viewport_width"`
	ViewportHeight int    `yaml:"viewport_height"`
	RemoteURL      string `yaml:"remote_url"`
}

// PerceptionConfig configures the four perception-mode latency budgets
// (C4, spec.md §4.4).
type PerceptionConfig struct {
	LightningBudget      time.Duration `yaml:"lightning_budget"`
	QuickBudget          time.Duration `yaml:"quick_budget"`
	StandardBudget       time.Duration `yaml:"standard_budget"`
	DeepBudget           time.Duration `yaml:"deep_budget"`
	BudgetTolerance      time.Duration `yaml:"budget_tolerance"`
	LightningMaxElements int           `yaml:"lightning_max_elements"`
}

// DefaultPerceptionConfig returns the §4.4 default budgets. The 50ms
// Lightning budget resolves the corpus's documented 50ms/100ms
// inconsistency in favor of the tighter figure (spec.md §9 Open Questions).
func DefaultPerceptionConfig() PerceptionConfig {
	return PerceptionConfig{
		LightningBudget:      50 * time.Millisecond,
		QuickBudget:          200 * time.Millisecond,
		StandardBudget:       500 * time.Millisecond,
		DeepBudget:           1000 * time.Millisecond,
		BudgetTolerance:      50 * time.Millisecond,
		LightningMaxElements: 10,
	}
}

// ResolverConfig configures the Element Resolver (C3, spec.md §4.3).
type ResolverConfig struct {
	SitePatternPath     string        `yaml:"site_pattern_path"`
	PerCandidateTimeout time.Duration `yaml:"per_candidate_timeout"`
	AcceptanceThreshold float64       `yaml:"acceptance_threshold"`
	RunnerUpMargin      float64       `yaml:"runner_up_margin"`
}

// DefaultResolverConfig returns sensible resolver defaults.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		PerCandidateTimeout: 2 * time.Second,
		AcceptanceThreshold: 0.6,
		RunnerUpMargin:      1.25,
	}
}

// ClassifierConfig selects the Command Classifier mode (C5, spec.md §4.5, §6).
type ClassifierConfig struct {
	// Mode is "rule" or "provider:<name>" where name is "anthropic" or "bedrock".
	Mode               string        `yaml:"mode"`
	ConfidenceFloor    float64       `yaml:"confidence_floor"`
	ProviderTimeout    time.Duration `yaml:"provider_timeout"`
	RateLimitPerSecond float64       `yaml:"rate_limit_per_second"`
	RateLimitBurst     int           `yaml:"rate_limit_burst"`
}

// DefaultClassifierConfig returns the §4.5 defaults.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		Mode:               "rule",
		ConfidenceFloor:    0.5,
		ProviderTimeout:    10 * time.Second,
		RateLimitPerSecond: 2,
		RateLimitBurst:     2,
	}
}

// PlannerConfig configures default step timeouts and retry policy (C6,
// spec.md §4.6).
type PlannerConfig struct {
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
	ResolveTimeout   time.Duration `yaml:"resolve_timeout"`
	ExtractTimeout   time.Duration `yaml:"extract_timeout"`
	DefaultRetries   int           `yaml:"default_retries"`
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base"`
	RetryBackoffCap  time.Duration `yaml:"retry_backoff_cap"`
}

// DefaultPlannerConfig returns the §4.6 defaults.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		NavigateTimeout:  30 * time.Second,
		ResolveTimeout:   10 * time.Second,
		ExtractTimeout:   5 * time.Second,
		DefaultRetries:   2,
		RetryBackoffBase: 500 * time.Millisecond,
		RetryBackoffCap:  1 * time.Second,
	}
}

// OrchestratorConfig configures entry-point defaults (C8, spec.md §4.8, §6).
type OrchestratorConfig struct {
	SessionTimeout time.Duration `yaml:"session_timeout"`
	Deadline       time.Duration `yaml:"deadline"`
}

// DefaultOrchestratorConfig returns the §4.8 defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		SessionTimeout: 30 * time.Second,
		Deadline:       180 * time.Second,
	}
}

// LoggingConfig configures the structured logger (ambient, not named by
// spec.md but carried per the teacher's conventions).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config populated with every component's documented
// §6 defaults.
func Default() Config {
	return Config{
		Version:      CurrentVersion,
		Pool:         DefaultPoolConfig(),
		Perception:   DefaultPerceptionConfig(),
		Resolver:     DefaultResolverConfig(),
		Classifier:   DefaultClassifierConfig(),
		Planner:      DefaultPlannerConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		Logging:      LoggingConfig{Level: "info", Format: "json"},
		Driver:       DriverConfig{Backend: "playwright", ViewportWidth: 1920, ViewportHeight: 1080},
	}
}

// Load reads a configuration file (YAML or JSON/JSON5), resolving
// $include directives, and fills in documented defaults for zero-valued
// fields.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	defaults := Default()
	if cfg.Version == 0 {
		cfg.Version = defaults.Version
	}
	cfg.Pool = mergePool(cfg.Pool, defaults.Pool)
	cfg.Perception = mergePerception(cfg.Perception, defaults.Perception)
	if cfg.Resolver.AcceptanceThreshold == 0 {
		cfg.Resolver = defaults.Resolver
	}
	if cfg.Classifier.Mode == "" {
		cfg.Classifier = defaults.Classifier
	}
	if cfg.Planner.NavigateTimeout == 0 {
		cfg.Planner = defaults.Planner
	}
	if cfg.Orchestrator.SessionTimeout == 0 {
		cfg.Orchestrator = defaults.Orchestrator
	}
	if cfg.Logging.Level == "" {
		cfg.Logging = defaults.Logging
	}
	if cfg.Driver.Backend == "" {
		cfg.Driver.Backend = defaults.Driver.Backend
	}
	if cfg.Driver.ViewportWidth == 0 {
		cfg.Driver.ViewportWidth = defaults.Driver.ViewportWidth
		cfg.Driver.ViewportHeight = defaults.Driver.ViewportHeight
	}
}

func mergePool(cur, def PoolConfig) PoolConfig {
	if cur.MaxSessions == 0 {
		cur.MaxSessions = def.MaxSessions
	}
	if cur.MaxUsesPerSession == 0 {
		cur.MaxUsesPerSession = def.MaxUsesPerSession
	}
	if cur.MaxSessionLifetime == 0 {
		cur.MaxSessionLifetime = def.MaxSessionLifetime
	}
	if cur.ReaperInterval == 0 {
		cur.ReaperInterval = def.ReaperInterval
	}
	if cur.IsAliveTimeout == 0 {
		cur.IsAliveTimeout = def.IsAliveTimeout
	}
	if cur.CreationAttempts == 0 {
		cur.CreationAttempts = def.CreationAttempts
	}
	if cur.CreationBackoffBase == 0 {
		cur.CreationBackoffBase = def.CreationBackoffBase
	}
	if cur.CreationBackoffCap == 0 {
		cur.CreationBackoffCap = def.CreationBackoffCap
	}
	return cur
}

func mergePerception(cur, def PerceptionConfig) PerceptionConfig {
	if cur.LightningBudget == 0 {
		cur.LightningBudget = def.LightningBudget
	}
	if cur.QuickBudget == 0 {
		cur.QuickBudget = def.QuickBudget
	}
	if cur.StandardBudget == 0 {
		cur.StandardBudget = def.StandardBudget
	}
	if cur.DeepBudget == 0 {
		cur.DeepBudget = def.DeepBudget
	}
	if cur.BudgetTolerance == 0 {
		cur.BudgetTolerance = def.BudgetTolerance
	}
	if cur.LightningMaxElements == 0 {
		cur.LightningMaxElements = def.LightningMaxElements
	}
	return cur
}
