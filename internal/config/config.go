// Package config provides configuration types and loading for the
// covenant gate.
package config

import "time"

// Config is the top-level configuration.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Artifact locates and postures the policy artifact.
	Artifact ArtifactConfig `yaml:"artifact" mapstructure:"artifact"`

	// Ingress configures the input firewall.
	Ingress IngressConfig `yaml:"ingress" mapstructure:"ingress"`

	// Egress configures the output firewall.
	Egress EgressConfig `yaml:"egress" mapstructure:"egress"`

	// RateLimit configures the per-actor request budget.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Concurrency bounds the side-effect gate.
	Concurrency ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`

	// JobTimeoutMS is the handler hard timeout in milliseconds.
	JobTimeoutMS int `yaml:"job_timeout_ms" mapstructure:"job_timeout_ms" validate:"min=0"`

	// Heartbeat configures the self-check loop.
	Heartbeat HeartbeatConfig `yaml:"heartbeat" mapstructure:"heartbeat"`

	// AnchorActors are the distinguished actor ids whose stop signals
	// bind every actor.
	AnchorActors []string `yaml:"anchor_actors" mapstructure:"anchor_actors"`

	// Store configures receipt persistence.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Auth seeds identities and API keys.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Knowledge configures claim ingestion.
	Knowledge KnowledgeConfig `yaml:"knowledge" mapstructure:"knowledge"`

	// DevMode enables development defaults.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the listen address. Defaults to localhost only.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr"`
	// TLSCert and TLSKey enable TLS when both are set.
	TLSCert string `yaml:"tls_cert" mapstructure:"tls_cert"`
	TLSKey  string `yaml:"tls_key" mapstructure:"tls_key"`
	// LogLevel is debug, info, warn, or error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// ArtifactConfig locates the policy artifact.
type ArtifactConfig struct {
	// Path is the artifact file location.
	Path string `yaml:"path" mapstructure:"path"`
	// RepoRoot is the base directory for manifest verification.
	RepoRoot string `yaml:"repo_root" mapstructure:"repo_root"`
	// Posture is development or production. Production enables full
	// manifest verification and strict output policy.
	Posture string `yaml:"posture" mapstructure:"posture" validate:"omitempty,oneof=development production"`
}

// IngressConfig configures the input firewall.
type IngressConfig struct {
	// MaxRequestSize is the canonical byte cap. Defaults to 1 MiB.
	MaxRequestSize int `yaml:"max_request_size" mapstructure:"max_request_size" validate:"min=0"`
}

// EgressConfig configures the output firewall.
type EgressConfig struct {
	// MaxResponseSize is the canonical byte cap. Defaults to 4 MiB.
	MaxResponseSize int `yaml:"max_response_size" mapstructure:"max_response_size" validate:"min=0"`
	// Strict denies on leak detection instead of redacting through.
	Strict bool `yaml:"strict" mapstructure:"strict"`
}

// RateLimitConfig configures the per-actor fixed window.
type RateLimitConfig struct {
	// WindowMS is the window length in milliseconds.
	WindowMS int `yaml:"window_ms" mapstructure:"window_ms" validate:"min=0"`
	// MaxRequests is the budget per window.
	MaxRequests int `yaml:"max_requests" mapstructure:"max_requests" validate:"min=0"`
}

// ConcurrencyConfig bounds the side-effect gate.
type ConcurrencyConfig struct {
	// MaxTotal is the global slot count.
	MaxTotal int `yaml:"max_total" mapstructure:"max_total" validate:"min=0"`
	// MaxPerActor is each actor's slot count. Defaults to a quarter of
	// the global cap.
	MaxPerActor int `yaml:"max_per_actor" mapstructure:"max_per_actor" validate:"min=0"`
}

// HeartbeatConfig configures the self-check loop.
type HeartbeatConfig struct {
	// IntervalMS is the probe cadence in milliseconds.
	IntervalMS int `yaml:"interval_ms" mapstructure:"interval_ms" validate:"min=0"`
}

// StoreConfig configures receipt persistence.
type StoreConfig struct {
	// Kind is memory, sqlite, or journal.
	Kind string `yaml:"kind" mapstructure:"kind" validate:"omitempty,oneof=memory sqlite journal"`
	// Path is the database or journal file. Required for sqlite and
	// journal kinds.
	Path string `yaml:"path" mapstructure:"path"`
}

// AuthConfig seeds identities and API keys.
type AuthConfig struct {
	Identities []IdentityConfig `yaml:"identities" mapstructure:"identities" validate:"omitempty,dive"`
	APIKeys    []APIKeyConfig   `yaml:"api_keys" mapstructure:"api_keys" validate:"omitempty,dive"`
}

// IdentityConfig is one seeded actor.
type IdentityConfig struct {
	ID   string `yaml:"id" mapstructure:"id" validate:"required"`
	Name string `yaml:"name" mapstructure:"name"`
}

// APIKeyConfig is one seeded credential.
type APIKeyConfig struct {
	// KeyHash is the stored hash: Argon2id PHC format, "sha256:" hex,
	// or bare sha256 hex.
	KeyHash string `yaml:"key_hash" mapstructure:"key_hash" validate:"required"`
	// ActorID references an identity in Identities.
	ActorID string `yaml:"actor_id" mapstructure:"actor_id" validate:"required"`
	// Name is a human-readable label.
	Name string `yaml:"name" mapstructure:"name"`
}

// KnowledgeConfig configures claim ingestion.
type KnowledgeConfig struct {
	// CorpusPath is the YAML chunk corpus the retriever serves from.
	CorpusPath string `yaml:"corpus_path" mapstructure:"corpus_path"`
	// Mode is ground_only or ground_plus_hypothesis.
	Mode string `yaml:"mode" mapstructure:"mode" validate:"omitempty,oneof=ground_only ground_plus_hypothesis"`
}

// Postures.
const (
	PostureDevelopment = "development"
	PostureProduction  = "production"
)

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only unless explicitly widened.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Artifact.Posture == "" {
		c.Artifact.Posture = PostureDevelopment
	}
	if c.Artifact.RepoRoot == "" {
		c.Artifact.RepoRoot = "."
	}

	if c.Ingress.MaxRequestSize == 0 {
		c.Ingress.MaxRequestSize = 1 << 20
	}
	if c.Egress.MaxResponseSize == 0 {
		c.Egress.MaxResponseSize = 4 << 20
	}

	if c.RateLimit.WindowMS == 0 {
		c.RateLimit.WindowMS = 1000
	}
	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = 100
	}

	if c.Concurrency.MaxTotal == 0 {
		c.Concurrency.MaxTotal = 16
	}
	if c.Concurrency.MaxPerActor == 0 {
		c.Concurrency.MaxPerActor = c.Concurrency.MaxTotal / 4
		if c.Concurrency.MaxPerActor == 0 {
			c.Concurrency.MaxPerActor = 1
		}
	}

	if c.JobTimeoutMS == 0 {
		c.JobTimeoutMS = 30_000
	}
	if c.Heartbeat.IntervalMS == 0 {
		c.Heartbeat.IntervalMS = 30_000
	}

	if c.Store.Kind == "" {
		c.Store.Kind = "memory"
	}

	if c.Knowledge.Mode == "" {
		c.Knowledge.Mode = "ground_only"
	}
}

// SetDevDefaults applies permissive defaults for development mode.
// Applied before validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	if len(c.Auth.Identities) == 0 {
		c.Auth.Identities = []IdentityConfig{
			{ID: "dev-user", Name: "Development User"},
		}
	}
	// SHA256 of "dev-api-key".
	if len(c.Auth.APIKeys) == 0 {
		c.Auth.APIKeys = []APIKeyConfig{
			{
				KeyHash: "sha256:6e1e4e1b8f8b36d08901cdb51b97841dfe20f5efd2fd2fd00768971408c46274",
				ActorID: "dev-user",
			},
		}
	}
}

// JobTimeout returns the handler timeout as a duration.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutMS) * time.Millisecond
}

// RateLimitWindow returns the rate window as a duration.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowMS) * time.Millisecond
}

// HeartbeatInterval returns the probe cadence as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Heartbeat.IntervalMS) * time.Millisecond
}
