package mergewatch

import (
	"fmt"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// lineRange is a half-open [start, end) line interval a hunk touches in
// the new side of a diff.
type lineRange [2]int

// hunkRangesByFile parses a unified diff and returns, per touched file,
// the new-side line ranges its hunks cover.
func hunkRangesByFile(unifiedDiff string) (map[string][]lineRange, error) {
	if strings.TrimSpace(unifiedDiff) == "" {
		return nil, nil
	}
	fileDiffs, err := godiff.ParseMultiFileDiff([]byte(unifiedDiff))
	if err != nil {
		return nil, fmt.Errorf("mergewatch: parse diff: %w", err)
	}

	out := make(map[string][]lineRange)
	for _, fd := range fileDiffs {
		name := fd.NewName
		if name == "" {
			name = fd.OrigName
		}
		name = strings.TrimPrefix(strings.TrimPrefix(name, "a/"), "b/")
		for _, h := range fd.Hunks {
			start := int(h.NewStartLine)
			out[name] = append(out[name], lineRange{start, start + int(h.NewLines)})
		}
	}
	return out, nil
}

func rangesOverlap(a, b []lineRange) bool {
	for _, ra := range a {
		for _, rb := range b {
			if ra[0] < rb[1] && rb[0] < ra[1] {
				return true
			}
		}
	}
	return false
}

// classifyDivergence compares a source branch's and a target branch's
// independent diffs since their common ancestor, reporting whether any
// shared file has overlapping hunks (a likely future merge conflict) or
// the two sides have simply diverged without touching the same regions.
// Grounded on internal/merge/handler.go's conflict-type vocabulary
// (TRIVIAL/CONCURRENT_EDIT/STRUCTURAL/SEMANTIC), narrowed here to the two
// outcomes a pre-merge poll can actually observe.
func classifyDivergence(sourceDiff, targetDiff string) (conflict bool, summary string, err error) {
	sourceRanges, err := hunkRangesByFile(sourceDiff)
	if err != nil {
		return false, "", err
	}
	targetRanges, err := hunkRangesByFile(targetDiff)
	if err != nil {
		return false, "", err
	}

	var overlapping, shared []string
	for file, sr := range sourceRanges {
		tr, ok := targetRanges[file]
		if !ok {
			continue
		}
		shared = append(shared, file)
		if rangesOverlap(sr, tr) {
			overlapping = append(overlapping, file)
		}
	}

	if len(overlapping) > 0 {
		return true, fmt.Sprintf("overlapping hunks in %d file(s): %s", len(overlapping), strings.Join(overlapping, ", ")), nil
	}
	if len(shared) > 0 {
		return false, fmt.Sprintf("diverged; %d shared file(s) touched without overlapping hunks", len(shared)), nil
	}
	return false, "diverged; no shared files touched", nil
}
