package filter

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Ruleset is an override allow-rule plus an ordered list of exclusion matchers.
// A path matching the override is always kept.
type Ruleset struct {
	Name     string
	Override Matcher
	Matchers []Matcher
}

// ShouldExclude evaluates the override first, then every exclusion matcher.
func (r Ruleset) ShouldExclude(p string) bool {
	if r.Override != nil && r.Override.Match(p) {
		return false
	}
	for _, m := range r.Matchers {
		if m.Match(p) {
			return true
		}
	}
	return false
}

// With returns a copy of the ruleset with extra exclusion matchers appended
func (r Ruleset) With(extra ...Matcher) Ruleset {
	matchers := make([]Matcher, 0, len(r.Matchers)+len(extra))
	matchers = append(matchers, r.Matchers...)
	matchers = append(matchers, extra...)
	return Ruleset{Name: r.Name, Override: r.Override, Matchers: matchers}
}

// WithGlobs appends one doublestar matcher per pattern
func (r Ruleset) WithGlobs(patterns []string) (Ruleset, error) {
	extra := make([]Matcher, 0, len(patterns))
	for _, p := range patterns {
		m, err := Glob(p)
		if err != nil {
			return Ruleset{}, fmt.Errorf("ignore pattern %q: %w", p, err)
		}
		extra = append(extra, m)
	}
	return r.With(extra...), nil
}

// Relative converts a path inside root to the form matchers expect:
// slash separated with a leading "/". The root itself becomes "/".
func Relative(root, p string) (string, error) {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside %s", p, root)
	}
	if rel == "." {
		return "/", nil
	}
	return "/" + filepath.ToSlash(rel), nil
}
