package retry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	goerrors "github.com/goliatone/go-errors"
)

const defaultMatchTimeout = 250 * time.Millisecond

// Mapping routes errors whose message or rendered stack matches one of its
// patterns to a strategy. Patterns must match the whole rendered text.
type Mapping struct {
	regexes      []*regexp2.Regexp
	stackRegexes []*regexp2.Regexp
	patterns     []string
	stackSources []string
	strategy     Strategy
}

func NewMapping(regexes []string, stackRegexes []string, strategy Strategy) (Mapping, error) {
	if strategy == nil {
		return Mapping{}, fmt.Errorf("retry: mapping strategy is required")
	}
	if len(regexes) == 0 && len(stackRegexes) == 0 {
		return Mapping{}, fmt.Errorf("retry: mapping requires at least one regex")
	}
	mapping := Mapping{
		patterns:     append([]string(nil), regexes...),
		stackSources: append([]string(nil), stackRegexes...),
		strategy:     strategy,
	}
	for _, pattern := range regexes {
		compiled, err := compileFullMatch(pattern, regexp2.None)
		if err != nil {
			return Mapping{}, err
		}
		mapping.regexes = append(mapping.regexes, compiled)
	}
	for _, pattern := range stackRegexes {
		compiled, err := compileFullMatch(pattern, regexp2.Singleline)
		if err != nil {
			return Mapping{}, err
		}
		mapping.stackRegexes = append(mapping.stackRegexes, compiled)
	}
	return mapping, nil
}

// MustMapping is NewMapping for statically known patterns.
func MustMapping(regexes []string, stackRegexes []string, strategy Strategy) Mapping {
	mapping, err := NewMapping(regexes, stackRegexes, strategy)
	if err != nil {
		panic(err)
	}
	return mapping
}

func compileFullMatch(pattern string, options regexp2.RegexOptions) (*regexp2.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("retry: empty regex")
	}
	compiled, err := regexp2.Compile(`\A(?:`+pattern+`)\z`, options)
	if err != nil {
		return nil, fmt.Errorf("retry: invalid regex %q: %w", pattern, err)
	}
	compiled.MatchTimeout = defaultMatchTimeout
	return compiled, nil
}

func (m Mapping) Strategy() Strategy {
	return m.strategy
}

func (m Mapping) Regexes() []string {
	return append([]string(nil), m.patterns...)
}

func (m Mapping) StackRegexes() []string {
	return append([]string(nil), m.stackSources...)
}

// Matches checks the message patterns first and only renders the stack when none
// of them match.
func (m Mapping) Matches(err error) bool {
	if err == nil {
		return false
	}
	if matchAny(m.regexes, err.Error()) {
		return true
	}
	if len(m.stackRegexes) == 0 {
		return false
	}
	return matchAny(m.stackRegexes, RenderStack(err))
}

func matchAny(patterns []*regexp2.Regexp, input string) bool {
	for _, pattern := range patterns {
		matched, err := pattern.MatchString(input)
		if err != nil {
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// RenderStack renders the error chain one error per line followed by any stack
// trace captured by go-errors.
func RenderStack(err error) string {
	if err == nil {
		return ""
	}
	lines := make([]string, 0, 4)
	traces := make([]string, 0, 1)
	seen := 0
	for current := err; current != nil && seen < 64; current = errors.Unwrap(current) {
		seen++
		lines = append(lines, fmt.Sprintf("%T: %s", current, current.Error()))
		if rich, ok := current.(*goerrors.Error); ok && len(rich.StackTrace) > 0 {
			traces = append(traces, rich.StackTrace.String())
		}
	}
	if len(traces) > 0 {
		lines = append(lines, traces...)
	}
	return strings.Join(lines, "\n")
}
