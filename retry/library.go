package retry

import "time"

// Library picks the strategy of the first mapping that matches an error. Callers
// order mappings from specific to general.
type Library struct {
	mappings        []Mapping
	defaultStrategy Strategy
}

func NewLibrary(defaultStrategy Strategy, mappings ...Mapping) *Library {
	if defaultStrategy == nil {
		defaultStrategy = NoRetry{}
	}
	return &Library{
		mappings:        append([]Mapping(nil), mappings...),
		defaultStrategy: defaultStrategy,
	}
}

// DefaultLibrary retries every failure with exponential backoff.
func DefaultLibrary() *Library {
	return NewLibrary(NewExponentialBackoff(5, time.Second, 2))
}

func (l *Library) CheckoutStrategy(err error) Strategy {
	if l == nil {
		return NoRetry{}
	}
	for _, mapping := range l.mappings {
		if mapping.Matches(err) {
			return mapping.Strategy()
		}
	}
	return l.defaultStrategy
}

func (l *Library) Default() Strategy {
	if l == nil {
		return NoRetry{}
	}
	return l.defaultStrategy
}

func (l *Library) Mappings() []Mapping {
	if l == nil {
		return nil
	}
	return append([]Mapping(nil), l.mappings...)
}
