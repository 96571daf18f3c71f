package retry

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	"github.com/goliatone/go-transfer/core"
)

// LoadLibrary decodes a raw retry section (as found under the "retry" config key)
// and builds a library from it.
func LoadLibrary(raw map[string]any) (*Library, error) {
	cfg, err := cfgx.Build[core.RetryConfig](raw,
		cfgx.WithDefaults(core.DefaultConfig().Retry),
		cfgx.WithValidator[core.RetryConfig]((*core.RetryConfig).Validate),
	)
	if err != nil {
		return nil, fmt.Errorf("retry: load library config: %w", err)
	}
	return FromConfig(cfg)
}

func FromConfig(cfg core.RetryConfig) (*Library, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	defaultStrategy, err := StrategyFromConfig(cfg.Default)
	if err != nil {
		return nil, err
	}
	mappings := make([]Mapping, 0, len(cfg.Mappings))
	for idx, mappingCfg := range cfg.Mappings {
		strategy, err := StrategyFromConfig(mappingCfg.Strategy)
		if err != nil {
			return nil, fmt.Errorf("retry: mappings[%d]: %w", idx, err)
		}
		mapping, err := NewMapping(mappingCfg.Regexes, mappingCfg.StackRegexes, strategy)
		if err != nil {
			return nil, fmt.Errorf("retry: mappings[%d]: %w", idx, err)
		}
		mappings = append(mappings, mapping)
	}
	return NewLibrary(defaultStrategy, mappings...), nil
}

func StrategyFromConfig(cfg core.RetryStrategyConfig) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case core.RetryStrategyNone:
		return NoRetry{}, nil
	case core.RetryStrategyUniform:
		return NewUniform(cfg.MaxAttempts, cfg.Interval), nil
	case core.RetryStrategyExponential:
		return NewExponentialBackoff(cfg.MaxAttempts, cfg.Interval, cfg.Multiplier), nil
	default:
		return nil, fmt.Errorf("retry: invalid strategy type %q", cfg.Type)
	}
}
