package docflow

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

var labelCleanPattern = regexp.MustCompile(`[^A-Za-z0-9_]`)

// sanitizeLabel reduces a checkpoint label to [A-Za-z0-9_]. An empty result
// falls back to "checkpoint".
func sanitizeLabel(label string) string {
	cleaned := labelCleanPattern.ReplaceAllString(strings.TrimSpace(label), "_")
	cleaned = strings.Trim(cleaned, "_")
	if cleaned == "" {
		return "checkpoint"
	}
	return cleaned
}

// CheckpointStoreOptions configures a CheckpointStore.
type CheckpointStoreOptions struct {
	// Dir is where snapshots live. Required.
	Dir string

	// DraftPath is the file being snapshotted. Required.
	DraftPath string

	Logger *slog.Logger

	// Clock overrides time.Now for deterministic names in tests.
	Clock func() time.Time
}

// CheckpointStore snapshots the draft document so the pipeline can roll back
// to the last known-good point after a failure.
type CheckpointStore struct {
	dir       string
	draftPath string
	logger    *slog.Logger
	clock     func() time.Time
}

// NewCheckpointStore creates a store over the given checkpoint directory.
func NewCheckpointStore(opts CheckpointStoreOptions) (*CheckpointStore, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("checkpoint directory is required")
	}
	if opts.DraftPath == "" {
		return nil, fmt.Errorf("draft path is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &CheckpointStore{
		dir:       opts.Dir,
		draftPath: opts.DraftPath,
		logger:    opts.Logger,
		clock:     opts.Clock,
	}, nil
}

// Save snapshots the current draft under a timestamped name derived from the
// label and returns the checkpoint id (the file name). Labels carrying path
// separators or parent-directory segments are rejected outright; remaining
// unsafe characters are sanitized. Saving with no draft on disk is an error.
func (c *CheckpointStore) Save(label string) (string, error) {
	if strings.ContainsAny(label, `/\`) || strings.Contains(label, "..") {
		return "", fmt.Errorf("invalid checkpoint label %q", label)
	}
	content, err := os.ReadFile(c.draftPath)
	if err != nil {
		return "", fmt.Errorf("failed to read draft for checkpoint: %w", err)
	}

	stamp := c.clock().Format("20060102_150405")
	base := fmt.Sprintf("%s_%s", stamp, sanitizeLabel(label))
	id := base + ".md"
	// Same second, same label: add a sequence suffix instead of clobbering.
	for seq := 0; ; seq++ {
		if _, err := os.Stat(filepath.Join(c.dir, id)); os.IsNotExist(err) {
			break
		}
		id = fmt.Sprintf("%s_%d.md", base, seq)
	}

	path := filepath.Join(c.dir, id)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("failed to write checkpoint: %w", err)
	}
	c.logger.Debug("checkpoint saved", "checkpoint_id", id, "bytes", len(content))
	return id, nil
}

// Path validates a checkpoint id and returns its on-disk path. Ids are plain
// file names; anything with a path separator or a dot-dot segment is
// rejected.
func (c *CheckpointStore) Path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid checkpoint id %q", id)
	}
	return filepath.Join(c.dir, id), nil
}

// Read returns the contents of a checkpoint.
func (c *CheckpointStore) Read(id string) ([]byte, error) {
	path, err := c.Path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", id, err)
	}
	return data, nil
}

// Restore copies a checkpoint back over the draft. An empty id or a missing
// checkpoint file is logged and skipped rather than failing the pipeline.
func (c *CheckpointStore) Restore(id string) error {
	if id == "" {
		c.logger.Warn("restore requested with no checkpoint id, skipping")
		return nil
	}
	path, err := c.Path(id)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.logger.Warn("checkpoint missing, skipping restore", "checkpoint_id", id)
			return nil
		}
		return fmt.Errorf("failed to read checkpoint %s: %w", id, err)
	}
	if err := os.WriteFile(c.draftPath, content, 0644); err != nil {
		return fmt.Errorf("failed to restore draft from checkpoint %s: %w", id, err)
	}
	c.logger.Info("draft restored from checkpoint", "checkpoint_id", id)
	return nil
}

// Latest returns the id of the newest checkpoint, or "" when none exist.
// Names sort chronologically because they start with a timestamp.
func (c *CheckpointStore) Latest() string {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return ""
	}
	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".md") {
			ids = append(ids, entry.Name())
		}
	}
	if len(ids) == 0 {
		return ""
	}
	sort.Strings(ids)
	return ids[len(ids)-1]
}

// List returns all checkpoint ids in chronological order.
func (c *CheckpointStore) List() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".md") {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}
