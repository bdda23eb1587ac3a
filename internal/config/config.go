package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// envPrefix is the prefix for all environment variable overrides
const envPrefix = "LICGUARD"

// Config represents the complete service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Verifier VerifierConfig `yaml:"verifier" envconfig:"VERIFIER"`
	Abuse    AbuseConfig    `yaml:"abuse" envconfig:"ABUSE"`
	Admin    AdminConfig    `yaml:"admin" envconfig:"ADMIN"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Paths    PathsConfig    `yaml:"paths" envconfig:"PATHS"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int             `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	RequestTimeout  time.Duration   `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"10s"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains global rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"100"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"50"`
}

// VerifierConfig contains the shared secret and freshness parameters
// consumed by the verification engine. The shared secret is never logged
// in full; diagnostics only ever see an 8-character prefix.
type VerifierConfig struct {
	SharedSecret       string        `yaml:"shared_secret" envconfig:"SHARED_SECRET"`
	TokenSecret        string        `yaml:"token_secret" envconfig:"TOKEN_SECRET"`
	FreshnessTolerance time.Duration `yaml:"freshness_tolerance" envconfig:"FRESHNESS_TOLERANCE" default:"5m"`
}

// AbuseConfig contains lockout thresholds and durations for both abuse axes.
// The shape is fixed (low threshold gives a short lockout, high threshold a
// long one); the exact numbers are deployment policy.
type AbuseConfig struct {
	FailureWindow       time.Duration `yaml:"failure_window" envconfig:"FAILURE_WINDOW" default:"1h"`
	OriginLowThreshold  int           `yaml:"origin_low_threshold" envconfig:"ORIGIN_LOW_THRESHOLD" default:"5"`
	OriginHighThreshold int           `yaml:"origin_high_threshold" envconfig:"ORIGIN_HIGH_THRESHOLD" default:"10"`
	ShortLockout        time.Duration `yaml:"short_lockout" envconfig:"SHORT_LOCKOUT" default:"15m"`
	LongLockout         time.Duration `yaml:"long_lockout" envconfig:"LONG_LOCKOUT" default:"1h"`
	CredentialThreshold int           `yaml:"credential_threshold" envconfig:"CREDENTIAL_THRESHOLD" default:"3"`
	MismatchThreshold   int           `yaml:"mismatch_threshold" envconfig:"MISMATCH_THRESHOLD" default:"2"`
	CredentialLockout   time.Duration `yaml:"credential_lockout" envconfig:"CREDENTIAL_LOCKOUT" default:"30m"`
	SweepInterval       time.Duration `yaml:"sweep_interval" envconfig:"SWEEP_INTERVAL" default:"5m"`
}

// AdminConfig protects the credential management endpoints
type AdminConfig struct {
	// PasswordHash is a bcrypt hash of the admin password. Plaintext
	// passwords are not accepted in configuration.
	PasswordHash string `yaml:"password_hash" envconfig:"PASSWORD_HASH"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"stdout"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/licguard.log"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	RegistryFile string `yaml:"registry_file" envconfig:"REGISTRY_FILE" default:"credentials.json"`
	LogsDir      string `yaml:"logs_dir" envconfig:"LOGS_DIR" default:"logs"`
}

// Load builds configuration from an optional YAML file with environment
// variable overrides applied on top.
func Load() (*Config, error) {
	return LoadFromFile(configFilePath())
}

// LoadFromFile is like Load but with an explicit config file path.
// A missing file is not an error; environment variables and defaults apply.
func LoadFromFile(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func configFilePath() string {
	if path := os.Getenv(envPrefix + "_CONFIG_FILE"); path != "" {
		return path
	}
	return "licguard.yaml"
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Verifier.SharedSecret == "" {
		return fmt.Errorf("verifier shared_secret is required")
	}
	if c.Verifier.TokenSecret == "" {
		// Tokens are display-only; fall back to a derived secret rather
		// than refusing to start.
		c.Verifier.TokenSecret = c.Verifier.SharedSecret + "/session-token"
	}
	if c.Verifier.FreshnessTolerance <= 0 {
		return fmt.Errorf("freshness_tolerance must be positive, got %s", c.Verifier.FreshnessTolerance)
	}
	if c.Abuse.OriginLowThreshold < 1 {
		return fmt.Errorf("origin_low_threshold must be at least 1, got %d", c.Abuse.OriginLowThreshold)
	}
	if c.Abuse.OriginHighThreshold <= c.Abuse.OriginLowThreshold {
		return fmt.Errorf("origin_high_threshold (%d) must exceed origin_low_threshold (%d)",
			c.Abuse.OriginHighThreshold, c.Abuse.OriginLowThreshold)
	}
	if c.Abuse.LongLockout < c.Abuse.ShortLockout {
		return fmt.Errorf("long_lockout (%s) must not be shorter than short_lockout (%s)",
			c.Abuse.LongLockout, c.Abuse.ShortLockout)
	}
	if c.Abuse.CredentialThreshold < 1 {
		return fmt.Errorf("credential_threshold must be at least 1, got %d", c.Abuse.CredentialThreshold)
	}
	if c.Abuse.MismatchThreshold < 1 || c.Abuse.MismatchThreshold > c.Abuse.CredentialThreshold {
		return fmt.Errorf("mismatch_threshold (%d) must be between 1 and credential_threshold (%d)",
			c.Abuse.MismatchThreshold, c.Abuse.CredentialThreshold)
	}
	if c.Abuse.FailureWindow <= 0 {
		return fmt.Errorf("failure_window must be positive, got %s", c.Abuse.FailureWindow)
	}
	return nil
}
