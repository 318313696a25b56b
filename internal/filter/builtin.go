package filter

import (
	"regexp"

	"github.com/Ning0612/submitguard/internal/domain"
)

// PackagingRules excludes build output, documentation renders, nested archives,
// object files and IDE module files. Hidden entries are excluded unless keepHidden
// is set (trees whose build needs dot-directories such as .gradle or .idea).
// The encrypted marker named after markerName is always kept.
func PackagingRules(markerName string, keepHidden bool) Ruleset {
	matchers := []Matcher{
		MustRegex(`[\\/](html|latex|rtf)[\\/]`),
		MustRegex(`[\\/]cmake-`),
		MustRegex(`(\.zip$)|(\.zip[\\/])`),
		MustRegex(`\.(o|O)$`),
		MustRegex(`\.iml$`),
	}
	if !keepHidden {
		matchers = append(matchers, MustRegex(`[\\/]\.`))
	}
	return Ruleset{Name: "packaging", Override: EncryptedMarkerRule(markerName), Matchers: matchers}
}

// EncryptionRules selects the files a tree encryption must leave alone:
// IDE and virtualenv directories at the root, module files, already
// encrypted files, CMake project files and the plaintext marker.
func EncryptionRules(markerName string) Ruleset {
	if markerName == "" {
		markerName = domain.DefaultMarkerName
	}
	return Ruleset{
		Name: "encryption",
		Matchers: []Matcher{
			MustRegex(`^/\.idea(/|$)`),
			MustRegex(`^/venv(/|$)`),
			NameSet{
				Exact:    []string{markerName},
				Suffixes: []string{".iml", domain.EncryptedSuffix, "CMakeLists.txt"},
			},
		},
	}
}

// EncryptedMarkerRule matches the encrypted marker of a tree
func EncryptedMarkerRule(markerName string) Matcher {
	if markerName == "" {
		markerName = domain.DefaultMarkerName
	}
	return MustRegex(regexp.QuoteMeta(markerName+domain.EncryptedSuffix) + `$`)
}

// RelevanceRules excludes files whose edits are not worth logging: build and
// IDE housekeeping, generated indexes, project descriptors and anything whose
// extension is not in allowedExtensions. The plaintext marker is never relevant.
func RelevanceRules(markerName string, allowedExtensions []string) Ruleset {
	if markerName == "" {
		markerName = domain.DefaultMarkerName
	}
	return Ruleset{
		Name: "relevance",
		Matchers: []Matcher{
			UnderDirs(".idea", "cmake-build-debug", "Testing", "CMakeFiles", ".cmake"),
			NameSet{
				Exact:    []string{markerName, "catalog.json", "a.dummy"},
				Prefixes: []string{"index-20"},
				Suffixes: []string{
					domain.EncryptedSuffix,
					".ninja",
					"pycharm-debug.egg",
					"CMakeLists.txt",
					".eslintrc",
					".babelrc",
					"package.json",
					"webpack.config.js",
				},
			},
			ExtensionNotIn(allowedExtensions),
		},
	}
}

// None excludes nothing; staging copies a tree verbatim.
func None() Ruleset {
	return Ruleset{Name: "none"}
}

// WatchRules excludes directories a live watcher never descends into:
// IDE state, version control, virtualenvs and dependency caches.
func WatchRules() Ruleset {
	return Ruleset{
		Name: "watch",
		Matchers: []Matcher{
			MustRegex(`^/\.(idea|git|svn|hg|vscode)(/|$)`),
			MustRegex(`^/venv(/|$)`),
			MustRegex(`/(node_modules|__pycache__)(/|$)`),
		},
	}
}
