package docflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ValidationIssue is one draft problem reported by the linter.
type ValidationIssue struct {
	Line        int    `json:"line"`
	Rule        string `json:"rule"`
	Description string `json:"description"`
	Detail      string `json:"detail,omitempty"`
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s (line %d)", i.Description, i.Line)
}

// LintResult is the outcome of validating the draft.
type LintResult struct {
	Passed bool
	Issues []ValidationIssue
}

// Linter validates a markdown draft. Implementations fold tool failures into
// a failed result instead of returning errors, so a broken environment
// degrades to a validation failure the pipeline can route on.
type Linter interface {
	Lint(ctx context.Context, draftPath string) (*LintResult, error)
}

// Renderer converts a structured document into the final output format.
type Renderer interface {
	Render(ctx context.Context, structurePath, outputPath string) error
}

// ExecLinter runs an external lint command (markdownlint-style) with the
// draft path appended. Exit code zero means the draft passed; otherwise
// stdout is parsed as a JSON issue array.
type ExecLinter struct {
	// Command is the lint command and its fixed arguments. Required.
	Command []string

	// Timeout bounds one lint run. Zero means no timeout.
	Timeout time.Duration
}

// markdownlintIssue is the JSON shape markdownlint emits with --json.
type markdownlintIssue struct {
	LineNumber      int      `json:"lineNumber"`
	RuleNames       []string `json:"ruleNames"`
	RuleDescription string   `json:"ruleDescription"`
	ErrorDetail     string   `json:"errorDetail"`
}

func (l *ExecLinter) Lint(ctx context.Context, draftPath string) (*LintResult, error) {
	if len(l.Command) == 0 {
		return nil, fmt.Errorf("lint command is not configured")
	}
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, l.Command[1:]...), draftPath)
	cmd := exec.CommandContext(ctx, l.Command[0], args...)
	stdout, err := cmd.Output()
	if err == nil {
		return &LintResult{Passed: true, Issues: []ValidationIssue{}}, nil
	}

	if _, ok := err.(*exec.ExitError); !ok {
		// Command missing, timeout, and friends: a failed result, not an
		// engine error.
		return &LintResult{
			Passed: false,
			Issues: []ValidationIssue{{
				Rule:        "lint",
				Description: "Lint command failed to run",
				Detail:      err.Error(),
			}},
		}, nil
	}

	var raw []markdownlintIssue
	if jsonErr := json.Unmarshal(stdout, &raw); jsonErr != nil || len(raw) == 0 {
		detail := string(stdout)
		if len(detail) > 500 {
			detail = detail[:500]
		}
		return &LintResult{
			Passed: false,
			Issues: []ValidationIssue{{
				Rule:        "lint",
				Description: "Failed to parse lint output",
				Detail:      detail,
			}},
		}, nil
	}

	issues := make([]ValidationIssue, 0, len(raw))
	for _, issue := range raw {
		rule := ""
		if len(issue.RuleNames) > 0 {
			rule = issue.RuleNames[0]
		}
		issues = append(issues, ValidationIssue{
			Line:        issue.LineNumber,
			Rule:        rule,
			Description: issue.RuleDescription,
			Detail:      issue.ErrorDetail,
		})
	}
	return &LintResult{Passed: false, Issues: issues}, nil
}

// ExecRenderer runs an external render command with the structure path and
// output path appended. A non-zero exit is an error carrying the tail of
// stderr as diagnostics.
type ExecRenderer struct {
	// Command is the render command and its fixed arguments. Required.
	Command []string

	// Timeout bounds one render. Zero means no timeout.
	Timeout time.Duration
}

func (r *ExecRenderer) Render(ctx context.Context, structurePath, outputPath string) error {
	if len(r.Command) == 0 {
		return fmt.Errorf("render command is not configured")
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, r.Command[1:]...), structurePath, outputPath)
	cmd := exec.CommandContext(ctx, r.Command[0], args...)
	if _, err := cmd.Output(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			diag := strings.TrimSpace(string(exitErr.Stderr))
			if len(diag) > 1000 {
				diag = diag[len(diag)-1000:]
			}
			return fmt.Errorf("render command exited with %d: %s", exitErr.ExitCode(), diag)
		}
		return fmt.Errorf("failed to run render command: %w", err)
	}
	return nil
}
