package batchexec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// buildSummary aggregates TaskResults into a Summary. sequentialDuration
// is the sum of every task's own duration, i.e. how long the batch would
// have taken run one at a time; timeSaved is that minus the observed
// wall-clock totalDuration.
func buildSummary(batchID string, results []*TaskResult, totalDuration time.Duration) *Summary {
	s := &Summary{
		BatchID:       batchID,
		Results:       results,
		TotalDuration: totalDuration,
	}

	var sequential time.Duration
	for _, r := range results {
		sequential += r.Duration
		s.TotalFilesChanged += r.FilesChanged
		s.TotalCost += r.CostEstimate

		switch r.Status {
		case StatusCompleted:
			s.SuccessCount++
		case StatusFailed:
			s.FailureCount++
		case StatusCancelled:
			s.CancelledCount++
		}
	}
	s.SequentialDuration = sequential
	if sequential > totalDuration {
		s.TimeSaved = sequential - totalDuration
	}
	return s
}

// writeSummaryReport renders a markdown summary-report.md into dir.
func writeSummaryReport(dir string, s *Summary) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Batch Execution Summary\n\n")
	fmt.Fprintf(&b, "- Batch ID: %s\n", s.BatchID)
	fmt.Fprintf(&b, "- Tasks: %d (completed=%d failed=%d cancelled=%d)\n", len(s.Results), s.SuccessCount, s.FailureCount, s.CancelledCount)
	fmt.Fprintf(&b, "- Wall-clock duration: %s\n", s.TotalDuration.Round(time.Second))
	fmt.Fprintf(&b, "- Sequential-equivalent duration: %s\n", s.SequentialDuration.Round(time.Second))
	fmt.Fprintf(&b, "- Time saved by parallelizing: %s\n", s.TimeSaved.Round(time.Second))
	fmt.Fprintf(&b, "- Total files changed: %d\n", s.TotalFilesChanged)
	fmt.Fprintf(&b, "- Total estimated cost: $%.4f\n\n", s.TotalCost)

	fmt.Fprintf(&b, "| Task | Description | Status | Duration | Files | Cost | Error |\n")
	fmt.Fprintf(&b, "|---|---|---|---|---|---|---|\n")
	for _, r := range s.Results {
		errMsg := ""
		if r.Error != nil {
			errMsg = r.Error.Error()
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %d | $%.4f | %s |\n",
			r.TaskID, r.Description, r.Status, r.Duration.Round(time.Second), r.FilesChanged, r.CostEstimate, errMsg)
	}

	return os.WriteFile(filepath.Join(dir, "summary-report.md"), []byte(b.String()), 0o644)
}
