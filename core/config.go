package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	RetryStrategyUniform     = "uniform"
	RetryStrategyExponential = "exponential"
	RetryStrategyNone        = "none"

	EncryptionSchemeAESGCMRSAOAEP = "aes256gcm+rsa-oaep-sha256"
)

type HandoffConfig struct {
	PollInterval      time.Duration `koanf:"poll_interval" mapstructure:"poll_interval"`
	AssignmentTimeout time.Duration `koanf:"assignment_timeout" mapstructure:"assignment_timeout"`
	EncryptionScheme  string        `koanf:"encryption_scheme" mapstructure:"encryption_scheme"`
}

type CopierConfig struct {
	Resumable bool `koanf:"resumable" mapstructure:"resumable"`
}

type RetryStrategyConfig struct {
	Type        string        `koanf:"type" mapstructure:"type"`
	MaxAttempts int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	Interval    time.Duration `koanf:"interval" mapstructure:"interval"`
	Multiplier  float64       `koanf:"multiplier" mapstructure:"multiplier"`
}

type RetryMappingConfig struct {
	Regexes      []string            `koanf:"regexes" mapstructure:"regexes"`
	StackRegexes []string            `koanf:"stack_regexes" mapstructure:"stack_regexes"`
	Strategy     RetryStrategyConfig `koanf:"strategy" mapstructure:"strategy"`
}

type RetryConfig struct {
	Default  RetryStrategyConfig  `koanf:"default" mapstructure:"default"`
	Mappings []RetryMappingConfig `koanf:"mappings" mapstructure:"mappings"`
}

// WorkerConfig identifies a worker process. PrivateKey holds a base64url PKCS#8
// RSA key; when set the worker reuses it so a restarted process with the same
// InstanceID can resume jobs sealed for it.
type WorkerConfig struct {
	InstanceID   string        `koanf:"instance_id" mapstructure:"instance_id"`
	PollInterval time.Duration `koanf:"poll_interval" mapstructure:"poll_interval"`
	PrivateKey   string        `koanf:"private_key" mapstructure:"private_key"`
}

type Config struct {
	ServiceName string        `koanf:"service_name" mapstructure:"service_name"`
	Handoff     HandoffConfig `koanf:"handoff" mapstructure:"handoff"`
	Copier      CopierConfig  `koanf:"copier" mapstructure:"copier"`
	Retry       RetryConfig   `koanf:"retry" mapstructure:"retry"`
	Worker      WorkerConfig  `koanf:"worker" mapstructure:"worker"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "transfer",
		Handoff: HandoffConfig{
			PollInterval:     time.Second,
			EncryptionScheme: EncryptionSchemeAESGCMRSAOAEP,
		},
		Copier: CopierConfig{Resumable: true},
		Retry: RetryConfig{
			Default: RetryStrategyConfig{
				Type:        RetryStrategyExponential,
				MaxAttempts: 5,
				Interval:    time.Second,
				Multiplier:  2,
			},
		},
		Worker: WorkerConfig{PollInterval: time.Second},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if err := c.Handoff.Validate(); err != nil {
		return err
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if c.Worker.PollInterval < 0 {
		return fmt.Errorf("core: worker.poll_interval must be positive")
	}
	return nil
}

func (c HandoffConfig) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("core: handoff.poll_interval must be positive")
	}
	if c.AssignmentTimeout < 0 {
		return fmt.Errorf("core: handoff.assignment_timeout must not be negative")
	}
	if strings.TrimSpace(c.EncryptionScheme) == "" {
		return fmt.Errorf("core: handoff.encryption_scheme is required")
	}
	return nil
}

func (c RetryConfig) Validate() error {
	if err := c.Default.Validate(); err != nil {
		return fmt.Errorf("core: retry.default: %w", err)
	}
	for idx, mapping := range c.Mappings {
		if len(mapping.Regexes) == 0 && len(mapping.StackRegexes) == 0 {
			return fmt.Errorf("core: retry.mappings[%d] requires regexes or stack_regexes", idx)
		}
		if err := mapping.Strategy.Validate(); err != nil {
			return fmt.Errorf("core: retry.mappings[%d]: %w", idx, err)
		}
	}
	return nil
}

func (c RetryStrategyConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Type)) {
	case RetryStrategyNone:
		return nil
	case RetryStrategyUniform:
		if c.Interval < 0 {
			return fmt.Errorf("interval must not be negative")
		}
	case RetryStrategyExponential:
		if c.Interval <= 0 {
			return fmt.Errorf("interval must be positive")
		}
		if c.Multiplier < 1 {
			return fmt.Errorf("multiplier must be at least 1")
		}
	default:
		return fmt.Errorf("invalid retry strategy type %q", c.Type)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	return nil
}
