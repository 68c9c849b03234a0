package docflow

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Failure artifact file names, written at the session root.
const (
	FailedDraftFileName = "FAILED_conversion.md"
	ErrorReportFileName = "ERROR_REPORT.txt"
)

// maxReportErrorLength caps the error message in ERROR_REPORT.txt.
const maxReportErrorLength = 1000

// WriteFailureArtifacts leaves a human-readable record of a failed run in
// the session root: the last draft (or a placeholder) and an error report.
func WriteFailureArtifacts(session *Session, state *State) error {
	draft, err := os.ReadFile(session.DraftPath())
	if err != nil {
		draft = []byte("# Conversion Failed\n\nNo draft was produced before the failure.\n")
	}
	if err := os.WriteFile(session.Path(FailedDraftFileName), draft, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", FailedDraftFileName, err)
	}

	report := formatErrorReport(state)
	if err := os.WriteFile(session.Path(ErrorReportFileName), []byte(report), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", ErrorReportFileName, err)
	}
	return nil
}

func formatErrorReport(state *State) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session ID: %s\n", state.SessionID)
	fmt.Fprintf(&sb, "Timestamp: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "Retry Count: %d\n", state.RetryCount)
	fmt.Fprintf(&sb, "Status: %s\n", state.Status)
	fmt.Fprintf(&sb, "Error Type: %s\n", orNA(state.ErrorCategory))
	fmt.Fprintf(&sb, "Error Message: %s\n", orNA(truncate(state.LastError, maxReportErrorLength)))
	fmt.Fprintf(&sb, "Handler Outcome: %s\n", orNA(state.HandlerOutcome))
	fmt.Fprintf(&sb, "Last Rollback: %s\n", orNA(state.LastRollbackDiff))
	return sb.String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// RollbackDiff summarizes what a rollback changed, as counted added and
// removed lines. Used for logging only.
func RollbackDiff(before, after string) string {
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(beforeChars, afterChars, false), lineArray)

	added, removed := 0, 0
	for _, diff := range diffs {
		lines := strings.Count(diff.Text, "\n")
		if len(diff.Text) > 0 && !strings.HasSuffix(diff.Text, "\n") {
			lines++
		}
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			added += lines
		case diffmatchpatch.DiffDelete:
			removed += lines
		}
	}
	return fmt.Sprintf("+%d/-%d lines", added, removed)
}
