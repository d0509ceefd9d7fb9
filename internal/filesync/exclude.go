package filesync

import (
	"os"
	"path/filepath"

	ignore "github.com/sabhiram/go-gitignore"
)

// AlwaysExclude is unioned with the repo's own ignore patterns on every
// tarball build: credential files, key material, cloud-provider
// credentials, and common build artifacts that should never leave the
// host even if a project's .gitignore doesn't already cover them.
var AlwaysExclude = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"id_rsa",
	"id_rsa.pub",
	"id_ed25519",
	"id_ed25519.pub",
	".aws/credentials",
	".aws/config",
	".netrc",
	"*.pfx",
	"*.p12",
	"credentials.json",
	"*.keystore",
	".git/",
	"node_modules/",
	"vendor/",
	"dist/",
	"build/",
	"*.log",
}

// exclusionSet unions the three exclusion sources spec.md §4.5 names:
// repo ignore files discovered by walking the tree, an optional
// additional ignore file at the worktree root, and AlwaysExclude.
type exclusionSet struct {
	matchers []*ignore.GitIgnore
}

func newExclusionSet(worktreePath, extraIgnoreFile string) (*exclusionSet, error) {
	set := &exclusionSet{}

	set.matchers = append(set.matchers, ignore.CompileIgnoreLines(AlwaysExclude...))

	err := filepath.Walk(worktreePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Name() != ".gitignore" {
			return nil
		}
		gi, loadErr := ignore.CompileIgnoreFile(path)
		if loadErr != nil {
			return nil
		}
		set.matchers = append(set.matchers, gi)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if extraIgnoreFile != "" {
		if gi, loadErr := ignore.CompileIgnoreFile(extraIgnoreFile); loadErr == nil {
			set.matchers = append(set.matchers, gi)
		}
	}

	return set, nil
}

// excluded reports whether relPath (slash-separated, relative to the
// worktree root) matches any of the unioned exclusion sources.
func (s *exclusionSet) excluded(relPath string) bool {
	for _, gi := range s.matchers {
		if gi.MatchesPath(relPath) {
			return true
		}
	}
	return false
}
