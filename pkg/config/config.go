package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultRoles is the closed role set workers may advertise when no roles
// are configured. Adding a role is a configuration change, not a code change.
var DefaultRoles = []string{"researcher", "analyst", "writer", "developer", "tester", "architect", "auditor"}

// Config holds all configuration for the coordination server.
// Configuration can come from YAML file (config.yaml) or environment
// variables; environment variables override YAML values. Secrets (auth
// token, database password, LLM API key) must only come from environment
// variables. All fields are immutable after Load.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// AuthToken is the shared bearer secret for all workers.
	// Per-worker identity is self-declared in worker_id.
	AuthToken string `yaml:"-" env:"MCS_AUTH_TOKEN"`

	Database     DatabaseConfig     `yaml:"database"`
	LLM          LLMConfig          `yaml:"llm"`
	Coordination CoordinationConfig `yaml:"coordination"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"mcs"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"mcs"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// LLMConfig holds provider settings for the LLM gateway.
type LLMConfig struct {
	// Provider selects the client implementation: "openai" (any
	// OpenAI-compatible endpoint) or "anthropic".
	Provider    string `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Endpoint    string `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model       string `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o"`
	APIKey      string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	MaxTokens   int    `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"4096"`
	MaxAttempts int    `yaml:"max_attempts" env:"LLM_MAX_ATTEMPTS" env-default:"3"`
}

// CoordinationConfig holds scheduler, lock, and audit policy settings.
type CoordinationConfig struct {
	// ClaimTTL bounds how long a claimed task may sit IN_PROGRESS before
	// the sweep reverts it to READY and releases its locks.
	ClaimTTL time.Duration `yaml:"claim_ttl" env:"MCS_CLAIM_TTL" env-default:"10m"`
	// LockTTL bounds file-access leases from crashed workers.
	LockTTL time.Duration `yaml:"lock_ttl" env:"MCS_LOCK_TTL" env-default:"10m"`
	// SweepInterval is the period of the background expiry sweep.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"MCS_SWEEP_INTERVAL" env-default:"1m"`
	// MaxRetries is how many times a task is re-readied after a reported
	// failure before the task (and workflow) is FAILED.
	MaxRetries int `yaml:"max_retries" env:"MCS_MAX_RETRIES" env-default:"2"`
	// MaxReworkCycles bounds audit-triggered reset cycles per workflow.
	MaxReworkCycles int `yaml:"max_rework_cycles" env:"MCS_MAX_REWORK_CYCLES" env-default:"2"`
	// AuditConfidenceThreshold is the minimum auditor confidence required
	// to finalize on a passing verdict.
	AuditConfidenceThreshold float64 `yaml:"audit_confidence_threshold" env:"MCS_AUDIT_CONFIDENCE_THRESHOLD" env-default:"0.6"`
	// FastModeDefault is advisory to workers to reduce RA iterations.
	FastModeDefault bool `yaml:"fast_mode_default" env:"MCS_FAST_MODE_DEFAULT" env-default:"false"`
	// RolesStr is a comma-separated role list; empty means DefaultRoles.
	RolesStr string `yaml:"roles" env:"MCS_ROLES" env-default:""`

	// Roles is the parsed role set (not from config file).
	Roles []string `yaml:"-"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time and set on the
// returned Config. Missing config.yaml falls back to environment variables
// and defaults.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	cfg.Coordination.Roles = parseRoles(cfg.Coordination.RolesStr)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.AuthToken == "" {
		return fmt.Errorf("MCS_AUTH_TOKEN must be set")
	}
	if c.Coordination.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0")
	}
	if t := c.Coordination.AuditConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("audit_confidence_threshold must be in [0,1]")
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	return nil
}

// parseRoles splits the comma-separated role list, trimming whitespace.
// An empty value yields DefaultRoles.
func parseRoles(value string) []string {
	if strings.TrimSpace(value) == "" {
		roles := make([]string, len(DefaultRoles))
		copy(roles, DefaultRoles)
		return roles
	}

	var roles []string
	for _, r := range strings.Split(value, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

// IsValidRole reports whether role is in the configured role set.
func (c *Config) IsValidRole(role string) bool {
	for _, r := range c.Coordination.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
