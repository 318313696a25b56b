// Package filter decides which paths of a tree take part in an operation.
//
// Every path handed to a matcher is root-relative, slash separated and starts
// with "/" (see Relative), so fragment patterns like `[\\/]\.` only ever see the
// part of the path that belongs to the tree.
package filter

import (
	"path"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher reports whether a root-relative path matches a rule
type Matcher interface {
	Match(p string) bool
}

// MatcherFunc adapts a plain function to Matcher
type MatcherFunc func(p string) bool

func (f MatcherFunc) Match(p string) bool { return f(p) }

type regexMatcher struct {
	re *regexp.Regexp
}

// Regex compiles an unanchored path fragment pattern
func Regex(expr string) (Matcher, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	return regexMatcher{re: re}, nil
}

// MustRegex is Regex for built-in patterns; it panics on a bad expression
func MustRegex(expr string) Matcher {
	m, err := Regex(expr)
	if err != nil {
		panic("filter: " + err.Error())
	}
	return m
}

func (m regexMatcher) Match(p string) bool {
	return m.re.MatchString(p)
}

func (m regexMatcher) String() string {
	return m.re.String()
}

type globMatcher struct {
	pattern string
}

// Glob builds a doublestar matcher. Patterns without a slash are tried against
// the base name, everything else against the path without its leading "/".
func Glob(pattern string) (Matcher, error) {
	pattern = strings.TrimPrefix(path.Clean("/"+pattern), "/")
	if !doublestar.ValidatePattern(pattern) {
		return nil, doublestar.ErrBadPattern
	}
	return globMatcher{pattern: pattern}, nil
}

func (m globMatcher) Match(p string) bool {
	rel := strings.TrimPrefix(p, "/")
	if matched, _ := doublestar.Match(m.pattern, path.Base(rel)); matched {
		return true
	}
	matched, _ := doublestar.Match(m.pattern, rel)
	return matched
}

func (m globMatcher) String() string {
	return m.pattern
}

// NameSet matches on the base name of a path
type NameSet struct {
	Exact    []string
	Prefixes []string
	Suffixes []string
}

func (n NameSet) Match(p string) bool {
	name := path.Base(p)
	for _, e := range n.Exact {
		if name == e {
			return true
		}
	}
	for _, pre := range n.Prefixes {
		if strings.HasPrefix(name, pre) {
			return true
		}
	}
	for _, suf := range n.Suffixes {
		if strings.HasSuffix(name, suf) {
			return true
		}
	}
	return false
}

type dirMatcher struct {
	dirs []string
}

// UnderDirs matches any path with one of the named directories as an ancestor.
func UnderDirs(dirs ...string) Matcher {
	return dirMatcher{dirs: dirs}
}

func (m dirMatcher) Match(p string) bool {
	for _, d := range m.dirs {
		if strings.Contains(p, "/"+d+"/") {
			return true
		}
	}
	return false
}

type extensionMatcher struct {
	allowed map[string]struct{}
}

// ExtensionNotIn matches names without an extension and names whose extension
// (without the dot) is not in allowed. A leading dot does not start an extension.
func ExtensionNotIn(allowed []string) Matcher {
	set := make(map[string]struct{}, len(allowed))
	for _, ext := range allowed {
		ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
		if ext != "" {
			set[ext] = struct{}{}
		}
	}
	return extensionMatcher{allowed: set}
}

func (m extensionMatcher) Match(p string) bool {
	name := path.Base(p)
	i := strings.LastIndex(name, ".")
	if i <= 0 {
		return true
	}
	_, ok := m.allowed[name[i+1:]]
	return !ok
}
