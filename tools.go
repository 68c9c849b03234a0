package docflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// SessionToolsOptions wires the session-scoped tools to their collaborators.
type SessionToolsOptions struct {
	Session     *Session
	Checkpoints *CheckpointStore
	Resolver    *Resolver
	Logger      *slog.Logger
}

// SessionTools returns the drafting tools bound to one session. Every tool
// operates strictly inside the sandbox: file name arguments may not contain
// separators or dot-dot segments.
func SessionTools(opts SessionToolsOptions) ([]Tool, error) {
	if opts.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if opts.Checkpoints == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	t := &sessionTools{
		session:     opts.Session,
		checkpoints: opts.Checkpoints,
		resolver:    opts.Resolver,
		logger:      opts.Logger,
	}
	return []Tool{
		NewToolFunction("list_files",
			"List the input file names available in this session.",
			map[string]string{}, t.listFiles),
		NewToolFunction("read_file",
			"Read one input file as UTF-8 text. The filename must be a bare name with no directories.",
			map[string]string{"filename": "string"}, t.readFile),
		NewToolFunction("read_draft",
			"Return the last N lines of the draft document, or an empty string if no draft exists yet.",
			map[string]string{"lines": "integer"}, t.readDraft),
		NewToolFunction("append_draft",
			"Append markdown content to the draft document, creating it if missing.",
			map[string]string{"content": "string"}, t.appendDraft),
		NewToolFunction("edit_draft_line",
			"Replace one line of the draft by 1-based line number.",
			map[string]string{"line_number": "integer", "new_content": "string"}, t.editDraftLine),
		NewToolFunction("create_checkpoint",
			"Snapshot the current draft under a label and return the checkpoint id.",
			map[string]string{"label": "string"}, t.createCheckpoint),
		NewToolFunction("rollback_to_checkpoint",
			"Restore the draft from a checkpoint id returned by create_checkpoint.",
			map[string]string{"checkpoint_id": "string"}, t.rollbackToCheckpoint),
		NewToolFunction("ask_user",
			"Pause the pipeline and ask the user a question, e.g. about a missing image.",
			map[string]string{"question": "string"}, t.askUser),
		NewToolFunction("copy_image",
			"Copy an image into the session assets directory and return its session-local path.",
			map[string]string{"source_path": "string"}, t.copyImage),
	}, nil
}

type sessionTools struct {
	session     *Session
	checkpoints *CheckpointStore
	resolver    *Resolver
	logger      *slog.Logger
}

// validateFileName rejects anything that is not a bare file name.
func validateFileName(name string) error {
	if name == "" || name != filepath.Base(name) ||
		strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid filename %q", name)
	}
	return nil
}

func (t *sessionTools) listFiles(ctx context.Context, params map[string]any) (string, error) {
	entries, err := os.ReadDir(t.session.InputsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to list input files: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

func (t *sessionTools) readFile(ctx context.Context, params map[string]any) (string, error) {
	filename, err := stringParam(params, "filename")
	if err != nil {
		return "", err
	}
	if err := validateFileName(filename); err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(t.session.InputsDir(), filename))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("file is not valid UTF-8: %s", filename)
	}
	return string(data), nil
}

func (t *sessionTools) readDraft(ctx context.Context, params map[string]any) (string, error) {
	n, err := intParam(params, "lines")
	if err != nil {
		return "", err
	}
	if n <= 0 {
		return "", nil
	}
	data, err := os.ReadFile(t.session.DraftPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read draft: %w", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if n < len(lines) {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n"), nil
}

func (t *sessionTools) appendDraft(ctx context.Context, params map[string]any) (string, error) {
	content, err := stringParam(params, "content")
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(t.session.DraftPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to open draft: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content + "\n\n"); err != nil {
		return "", fmt.Errorf("failed to append to draft: %w", err)
	}
	return fmt.Sprintf("Appended %d characters", len(content)), nil
}

func (t *sessionTools) editDraftLine(ctx context.Context, params map[string]any) (string, error) {
	lineNumber, err := intParam(params, "line_number")
	if err != nil {
		return "", err
	}
	newContent, err := stringParam(params, "new_content")
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(t.session.DraftPath())
	if err != nil {
		return "", fmt.Errorf("draft does not exist: %w", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if lineNumber < 1 || lineNumber > len(lines) {
		return "", fmt.Errorf("line_number must be between 1 and %d (got %d)", len(lines), lineNumber)
	}
	lines[lineNumber-1] = newContent
	if err := os.WriteFile(t.session.DraftPath(), []byte(strings.Join(lines, "\n")), 0644); err != nil {
		return "", fmt.Errorf("failed to write draft: %w", err)
	}
	return fmt.Sprintf("Updated line %d", lineNumber), nil
}

func (t *sessionTools) createCheckpoint(ctx context.Context, params map[string]any) (string, error) {
	label, err := stringParam(params, "label")
	if err != nil {
		return "", err
	}
	id, err := t.checkpoints.Save(label)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (t *sessionTools) rollbackToCheckpoint(ctx context.Context, params map[string]any) (string, error) {
	id, err := stringParam(params, "checkpoint_id")
	if err != nil {
		return "", err
	}
	path, err := t.checkpoints.Path(id)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("checkpoint not found: %s", id)
	}
	if err := t.checkpoints.Restore(id); err != nil {
		return "", err
	}
	return fmt.Sprintf("Restored from checkpoint %s", id), nil
}

func (t *sessionTools) askUser(ctx context.Context, params map[string]any) (string, error) {
	question, err := stringParam(params, "question")
	if err != nil {
		return "", err
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return "Please provide user input or skip.", nil
	}
	return question, nil
}

// copyImage never fails: any unresolvable path yields the canonical
// placeholder so drafting can continue.
func (t *sessionTools) copyImage(ctx context.Context, params map[string]any) (string, error) {
	sourcePath, err := stringParam(params, "source_path")
	if err != nil {
		return "", err
	}
	basename := filepath.Base(sourcePath)
	if basename == "." || basename == string(filepath.Separator) {
		basename = "image"
	}
	resolved, ok := t.resolver.ResolvePath(sourcePath)
	if !ok {
		return MissingImagePlaceholder(basename), nil
	}
	basename = filepath.Base(resolved)
	if err := copyFile(resolved, filepath.Join(t.session.AssetsDir(), basename)); err != nil {
		t.logger.Warn("failed to copy image", "path", sourcePath, "error", err)
		return MissingImagePlaceholder(basename), nil
	}
	return "./assets/" + basename, nil
}
