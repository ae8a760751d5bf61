package publisher

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter filters events by entity type using glob patterns
type GlobFilter struct {
	globs []glob.Glob
}

// NewGlobFilter compiles the given patterns. Empty patterns match everything.
func NewGlobFilter(patterns []string) (*GlobFilter, error) {
	filter := &GlobFilter{globs: make([]glob.Glob, 0, len(patterns))}
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid entity pattern %q: %w", pattern, err)
		}
		filter.globs = append(filter.globs, g)
	}
	return filter, nil
}

// Match reports whether entityType matches any pattern
func (f *GlobFilter) Match(entityType string) bool {
	if len(f.globs) == 0 {
		return true
	}
	for _, g := range f.globs {
		if g.Match(entityType) {
			return true
		}
	}
	return false
}
