package execdriver

import (
	"fmt"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
)

// maxPromptBytes enforces spec.md §4.6 phase 8's ≤100KB ceiling.
const maxPromptBytes = 100 * 1024

// PromptTooLarge is returned when a prompt exceeds the 100KB ceiling.
type PromptTooLarge struct{ SizeBytes int }

func (e *PromptTooLarge) Error() string {
	return fmt.Sprintf("execdriver: prompt is %d bytes, exceeds 100KB limit", e.SizeBytes)
}

// SanitizePrompt strips control characters other than \n and \t, then
// single-quote-escapes the result for safe embedding in the remote
// command line. The 100KB ceiling is enforced on the raw prompt before
// stripping, matching spec.md's "enforce ≤ 100 KB" phrasing.
func SanitizePrompt(prompt string) (string, error) {
	if len(prompt) > maxPromptBytes {
		return "", &PromptTooLarge{SizeBytes: len(prompt)}
	}

	var b strings.Builder
	b.Grow(len(prompt))
	for _, r := range prompt {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}

	return shellquote.Join(b.String()), nil
}
