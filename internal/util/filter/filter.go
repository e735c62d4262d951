// Package filter selects remote entries by name for listing and bulk download.
package filter

import (
	"path/filepath"
	"strings"
)

// Config holds filter configuration.
type Config struct {
	// Include patterns (glob-style). Empty means include all.
	// Example: []string{"*.dat", "*.txt"}
	Include []string

	// Exclude patterns (glob-style). Takes precedence over Include.
	// Example: []string{"debug*", "temp*"}
	Exclude []string

	// Search terms (case-insensitive substring match).
	// A name must contain ALL search terms.
	Search []string
}

// New builds a Config from comma-separated flag values.
func New(include, exclude, search string) Config {
	return Config{
		Include: ParseList(include),
		Exclude: ParseList(exclude),
		Search:  ParseList(search),
	}
}

// ParseList splits a comma-separated list, dropping blanks.
func ParseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Empty reports whether the filter lets everything through.
func (c Config) Empty() bool {
	return len(c.Include) == 0 && len(c.Exclude) == 0 && len(c.Search) == 0
}

// Match checks if a name passes the filter.
func (c Config) Match(name string) bool {
	// 1. Exclude patterns first (highest priority)
	for _, pattern := range c.Exclude {
		if globMatch(pattern, name) {
			return false
		}
	}

	// 2. Include patterns
	if len(c.Include) > 0 {
		included := false
		for _, pattern := range c.Include {
			if globMatch(pattern, name) {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}

	// 3. Search terms
	lower := strings.ToLower(name)
	for _, term := range c.Search {
		if !strings.Contains(lower, strings.ToLower(term)) {
			return false
		}
	}
	return true
}

// globMatch matches the whole name or its base name. Malformed patterns never match.
func globMatch(pattern, name string) bool {
	if matched, _ := filepath.Match(pattern, name); matched {
		return true
	}
	matched, _ := filepath.Match(pattern, filepath.Base(name))
	return matched
}
