package docflow

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"go.jetify.com/typeid"
)

// Names of the working directories inside a session sandbox.
const (
	InputsDirName      = "inputs"
	AssetsDirName      = "assets"
	CheckpointsDirName = "checkpoints"
	LogsDirName        = "logs"

	DraftFileName     = "draft.md"
	StructureFileName = "structure.json"
	OutputFileName    = "output.docx"
	EventLogFileName  = "events.jsonl"
)

// SessionStatus tracks the sandbox lifecycle.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusArchived  SessionStatus = "archived"
	SessionStatusDiscarded SessionStatus = "discarded"
)

// NewSessionID generates a unique session identifier.
func NewSessionID() string {
	id, err := typeid.WithPrefix("sess")
	if err != nil {
		panic(fmt.Sprintf("failed to generate session id: %v", err))
	}
	return id.String()
}

// SessionOptions configures a new session sandbox.
type SessionOptions struct {
	// BaseDir is the directory sessions are created under. Required.
	BaseDir string

	// ID overrides the generated session identifier.
	ID string

	Logger *slog.Logger
}

// Session is an isolated working directory for one pipeline run. All reads
// and writes during the run happen inside its root; at the end it is archived
// or discarded exactly once.
type Session struct {
	id     string
	root   string
	base   string
	status SessionStatus
	logger *slog.Logger
}

// NewSession creates the sandbox directory tree under BaseDir.
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.BaseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if opts.ID == "" {
		opts.ID = NewSessionID()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	root := filepath.Join(opts.BaseDir, opts.ID)
	for _, dir := range []string{
		root,
		filepath.Join(root, InputsDirName),
		filepath.Join(root, AssetsDirName),
		filepath.Join(root, CheckpointsDirName),
		filepath.Join(root, LogsDirName),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}
	}
	s := &Session{
		id:     opts.ID,
		root:   root,
		base:   opts.BaseDir,
		status: SessionStatusActive,
		logger: opts.Logger.With("session_id", opts.ID),
	}
	s.logger.Debug("session created", "root", root)
	return s, nil
}

// OpenSession attaches to an existing sandbox, e.g. when resuming.
func OpenSession(opts SessionOptions) (*Session, error) {
	if opts.BaseDir == "" || opts.ID == "" {
		return nil, fmt.Errorf("base directory and session id are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	root := filepath.Join(opts.BaseDir, opts.ID)
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("session %q not found: %w", opts.ID, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("session path %q is not a directory", root)
	}
	return &Session{
		id:     opts.ID,
		root:   root,
		base:   opts.BaseDir,
		status: SessionStatusActive,
		logger: opts.Logger.With("session_id", opts.ID),
	}, nil
}

func (s *Session) ID() string            { return s.id }
func (s *Session) Root() string          { return s.root }
func (s *Session) Status() SessionStatus { return s.status }

// Path joins parts onto the session root.
func (s *Session) Path(parts ...string) string {
	return filepath.Join(append([]string{s.root}, parts...)...)
}

func (s *Session) InputsDir() string      { return s.Path(InputsDirName) }
func (s *Session) AssetsDir() string      { return s.Path(AssetsDirName) }
func (s *Session) CheckpointsDir() string { return s.Path(CheckpointsDirName) }
func (s *Session) LogsDir() string        { return s.Path(LogsDirName) }
func (s *Session) DraftPath() string      { return s.Path(DraftFileName) }
func (s *Session) StructurePath() string  { return s.Path(StructureFileName) }
func (s *Session) OutputPath() string     { return s.Path(OutputFileName) }
func (s *Session) EventLogPath() string   { return s.Path(LogsDirName, EventLogFileName) }

// AddInput copies a validated file into the inputs directory and returns the
// in-sandbox path. Only the base name is kept; a repeated name overwrites the
// earlier copy.
func (s *Session) AddInput(srcPath string) (string, error) {
	if s.status != SessionStatusActive {
		return "", fmt.Errorf("session %s is %s", s.id, s.status)
	}
	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("failed to open input file: %w", err)
	}
	defer src.Close()

	dstPath := filepath.Join(s.InputsDir(), filepath.Base(srcPath))
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("failed to create input copy: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("failed to copy input file: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize input copy: %w", err)
	}
	s.logger.Debug("input added", "path", dstPath)
	return dstPath, nil
}

// Archive moves the sandbox under BaseDir/archive. It may be called once and
// only on an active session.
func (s *Session) Archive() error {
	if s.status != SessionStatusActive {
		return fmt.Errorf("session %s already finalized (%s)", s.id, s.status)
	}
	archiveDir := filepath.Join(s.base, "archive")
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	dst := filepath.Join(archiveDir, s.id)
	if err := os.Rename(s.root, dst); err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}
	s.root = dst
	s.status = SessionStatusArchived
	s.logger.Info("session archived", "path", dst)
	return nil
}

// Discard removes the working directories (inputs, assets, checkpoints) but
// leaves the session root in place so failure artifacts and logs survive. It
// may be called once and only on an active session.
func (s *Session) Discard() error {
	if s.status != SessionStatusActive {
		return fmt.Errorf("session %s already finalized (%s)", s.id, s.status)
	}
	for _, dir := range []string{s.InputsDir(), s.AssetsDir(), s.CheckpointsDir()} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to discard session directory: %w", err)
		}
	}
	s.status = SessionStatusDiscarded
	s.logger.Info("session discarded", "root", s.root)
	return nil
}
