package manifest

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Entry is the metadata an exclusion rule sees for one walked entry.
type Entry struct {
	// Name is the base name of the entry.
	Name string
	// Rel is the slash-separated path relative to the scan root.
	Rel string
	// IsDir is true for directories.
	IsDir bool
}

// Rule reports whether an entry is excluded from the scan. An excluded
// directory is pruned together with its whole subtree.
type Rule func(e Entry) bool

// Hidden excludes dot-prefixed entries (.git, .env, .cache, ...).
func Hidden(e Entry) bool {
	return strings.HasPrefix(e.Name, ".")
}

// Named excludes entries whose base name equals name exactly.
func Named(name string) Rule {
	return func(e Entry) bool {
		return e.Name == name
	}
}

// Glob excludes entries whose root-relative path matches a doublestar
// pattern such as "**/*.swp" or "tmp/**". Directories are also matched with
// a trailing slash so "build/" prunes a directory named build at the top.
func Glob(pattern string) Rule {
	return func(e Entry) bool {
		if ok, err := doublestar.Match(pattern, e.Rel); err == nil && ok {
			return true
		}
		if e.IsDir {
			if ok, err := doublestar.Match(pattern, e.Rel+"/"); err == nil && ok {
				return true
			}
		}
		return false
	}
}

// DefaultRules returns a fresh copy of the built-in exclusion rules.
func DefaultRules() []Rule {
	return []Rule{
		Hidden,
		Named("node_modules"),
	}
}

// GlobRules builds one Glob rule per valid pattern. Invalid patterns are
// returned separately so callers can report them.
func GlobRules(patterns []string) (rules []Rule, invalid []string) {
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			invalid = append(invalid, p)
			continue
		}
		rules = append(rules, Glob(p))
	}
	return rules, invalid
}

func excluded(rules []Rule, e Entry) bool {
	for _, rule := range rules {
		if rule(e) {
			return true
		}
	}
	return false
}
