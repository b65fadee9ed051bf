// Package match selects source folders by name using doublestar glob
// semantics.
package match

import (
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher evaluates patterns against folder names.
//
// A Matcher is configured with include and exclude patterns:
//   - Include patterns: name must match at least one (all names when empty)
//   - Exclude patterns: name must not match any
//
// The Matcher is safe for concurrent use after creation.
type Matcher struct {
	includes   []string
	excludes   []string
	skipHidden bool
}

// Config configures a Matcher.
type Config struct {
	// Includes are glob patterns that names must match (at least one).
	// Optional: if empty, every name is included.
	Includes []string

	// Excludes are glob patterns that names must not match (any).
	// Optional: if empty, no excludes are applied.
	Excludes []string

	// SkipHidden rejects names starting with '.'.
	// Default: false.
	SkipHidden bool
}

// ErrInvalidPattern is returned when a pattern cannot be compiled.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New creates a new Matcher from the given configuration.
//
// Blank patterns are ignored. Returns a *PatternError if any pattern is
// invalid.
func New(cfg Config) (*Matcher, error) {
	includes, err := compile(cfg.Includes)
	if err != nil {
		return nil, err
	}
	excludes, err := compile(cfg.Excludes)
	if err != nil {
		return nil, err
	}
	return &Matcher{
		includes:   includes,
		excludes:   excludes,
		skipHidden: cfg.SkipHidden,
	}, nil
}

func compile(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
		out = append(out, p)
	}
	return out, nil
}

// Match returns true if the folder name passes the configured patterns.
//
// Names are matched as-is. Drive folder names may contain '/', which
// '*' does not cross; a "/**" segment does.
func (m *Matcher) Match(name string) bool {
	if m.skipHidden && IsHidden(name) {
		return false
	}

	if len(m.includes) > 0 {
		matched := false
		for _, inc := range m.includes {
			if matchPattern(inc, name) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, exc := range m.excludes {
		if matchPattern(exc, name) {
			return false
		}
	}

	return true
}

// IsZero reports whether the matcher accepts every name.
func (m *Matcher) IsZero() bool {
	return m == nil || (len(m.includes) == 0 && len(m.excludes) == 0 && !m.skipHidden)
}

// IncludePatterns returns the include patterns.
func (m *Matcher) IncludePatterns() []string {
	return append([]string(nil), m.includes...)
}

// ExcludePatterns returns the exclude patterns.
func (m *Matcher) ExcludePatterns() []string {
	return append([]string(nil), m.excludes...)
}

// IsHidden reports whether a folder name is hidden (starts with '.').
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// matchPattern matches a name against a doublestar pattern.
func matchPattern(pattern, name string) bool {
	matched, err := doublestar.Match(pattern, name)
	if err != nil {
		// Pattern was validated at construction time, so this shouldn't happen
		return false
	}
	return matched
}
