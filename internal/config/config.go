package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models rentman.yml.
type Config struct {
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	Escrow struct {
		PlatformFeeRate float64 `yaml:"platform_fee_rate"`
		Currency        string  `yaml:"currency"`
	} `yaml:"escrow"`
	AI struct {
		Provider         string        `yaml:"provider"`
		Model            string        `yaml:"model"`
		SafetyThreshold  int           `yaml:"safety_threshold"`
		ViabilityTimeout time.Duration `yaml:"viability_timeout"`
		ProofTimeout     time.Duration `yaml:"proof_timeout"`
		DisputeTimeout   time.Duration `yaml:"dispute_timeout"`
	} `yaml:"ai"`
	Analysis struct {
		MaxAttempts  int           `yaml:"max_attempts"`
		BackoffBase  time.Duration `yaml:"backoff_base"`
		PollInterval time.Duration `yaml:"poll_interval"`
		Concurrency  int           `yaml:"concurrency"`
	} `yaml:"analysis"`
	Proofs struct {
		AutoApproveAfter time.Duration `yaml:"auto_approve_after"`
		SweepInterval    time.Duration `yaml:"sweep_interval"`
	} `yaml:"proofs"`
	Webhooks struct {
		StripeToleranceSeconds int `yaml:"stripe_tolerance_seconds"`
	} `yaml:"webhooks"`
	Notifications struct {
		WebhookURL string        `yaml:"webhook_url"`
		Timeout    time.Duration `yaml:"timeout"`
	} `yaml:"notifications"`

	// Secrets never live in the YAML file; they are bound from the environment.
	Secrets Secrets `yaml:"-"`
}

// Secrets holds credentials resolved from the environment.
type Secrets struct {
	JWTSecret                   string
	TasksWebhookSecret          string
	StripeSecretKey             string
	StripeWebhookSecret         string
	StripeWebhookSecretFallback string
	GoogleAPIKey                string
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Escrow.PlatformFeeRate < 0 || c.Escrow.PlatformFeeRate >= 1 {
		return fmt.Errorf("escrow.platform_fee_rate must be in [0,1)")
	}
	if strings.TrimSpace(c.Escrow.Currency) == "" {
		return fmt.Errorf("escrow.currency is required")
	}
	switch c.AI.Provider {
	case "gemini", "mock":
	default:
		return fmt.Errorf("ai.provider must be 'gemini' or 'mock'")
	}
	if c.AI.SafetyThreshold < 0 || c.AI.SafetyThreshold > 100 {
		return fmt.Errorf("ai.safety_threshold must be within 0-100")
	}
	if c.AI.ViabilityTimeout <= 0 {
		return fmt.Errorf("ai.viability_timeout must be positive")
	}
	if c.AI.ProofTimeout <= 0 || c.AI.DisputeTimeout <= 0 {
		return fmt.Errorf("ai.proof_timeout and ai.dispute_timeout must be positive")
	}
	if c.Analysis.MaxAttempts < 1 {
		return fmt.Errorf("analysis.max_attempts must be at least 1")
	}
	if c.Analysis.Concurrency < 1 {
		return fmt.Errorf("analysis.concurrency must be at least 1")
	}
	if c.Analysis.PollInterval <= 0 {
		return fmt.Errorf("analysis.poll_interval must be positive")
	}
	if c.Proofs.AutoApproveAfter < 0 {
		return fmt.Errorf("proofs.auto_approve_after must not be negative")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "rentman.yml")
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses config on top of the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `database:
  dsn: ""

escrow:
  platform_fee_rate: 0.10
  currency: usd

ai:
  provider: mock
  model: gemini-1.5-flash
  safety_threshold: 70
  viability_timeout: 30s
  proof_timeout: 20s
  dispute_timeout: 20s

analysis:
  max_attempts: 3
  backoff_base: 2s
  poll_interval: 2s
  concurrency: 2

proofs:
  auto_approve_after: 72h
  sweep_interval: 1h

webhooks:
  stripe_tolerance_seconds: 300

notifications:
  webhook_url: ""
  timeout: 5s
`
