// Package filesync implements the File Sync component (spec.md §4.5):
// exclusion-aware tarball creation, chunked upload/download to and from a
// sandbox, upload verification, and credential scanning.
package filesync

import (
	"fmt"
	"path/filepath"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
)

// InvalidPath is returned by ValidatePath.
type InvalidPath struct {
	Path   string
	Reason string
}

func (e *InvalidPath) Error() string {
	return fmt.Sprintf("filesync: invalid path %q: %s", e.Path, e.Reason)
}

// ValidatePath rejects path traversal, absolute paths, and embedded NUL
// bytes before a path is used to build a remote command or local
// destination.
func ValidatePath(path string) error {
	if strings.Contains(path, "\x00") {
		return &InvalidPath{Path: path, Reason: "contains a null byte"}
	}
	if filepath.IsAbs(path) {
		return &InvalidPath{Path: path, Reason: "absolute paths are not allowed"}
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return &InvalidPath{Path: path, Reason: "contains a parent directory reference"}
		}
	}
	return nil
}

// ShellQuote escapes a single shell argument for safe inclusion in a
// remote command string, single-quoting with embedded quotes rewritten as
// '\''.
func ShellQuote(arg string) string {
	return shellquote.Join(arg)
}

// ShellJoin quotes and joins a full argument list into one command
// string.
func ShellJoin(args []string) string {
	return shellquote.Join(args...)
}

