package docflow

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Sanitizer defaults.
const DefaultMaxFileSize = 100 * 1024 * 1024

var (
	defaultAllowedExtensions = []string{".txt", ".log", ".md"}
	defaultBlockedExtensions = []string{".exe", ".dll", ".so", ".bin", ".sh", ".bat"}
)

// SecurityError reports a path that escapes the permitted base directory,
// directly or through a symlink.
type SecurityError struct {
	Path string
	Base string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("path %q escapes base directory %q", e.Path, e.Base)
}

// Policy rejection codes.
const (
	PolicyExtensionBlocked    = "extension_blocked"
	PolicyExtensionNotAllowed = "extension_not_allowed"
	PolicyFileTooLarge        = "file_too_large"
	PolicyNotRegularFile      = "not_regular_file"
	PolicyInvalidContent      = "invalid_content"
)

// PolicyError reports a file rejected by the sanitizer policy. It is distinct
// from SecurityError: policy rejections are about the file, security
// rejections are about the path.
type PolicyError struct {
	Code    string
	Path    string
	Message string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// SanitizerOptions configures input validation. Zero values fall back to the
// defaults above.
type SanitizerOptions struct {
	AllowedExtensions []string `yaml:"allowed_extensions"`
	BlockedExtensions []string `yaml:"blocked_extensions"`
	MaxFileSize       int64    `yaml:"max_file_size"`
}

// Sanitizer validates user-supplied input files before they enter a session
// sandbox.
type Sanitizer struct {
	allowed map[string]bool
	blocked map[string]bool
	maxSize int64
}

// NewSanitizer creates a Sanitizer, filling unset options with defaults.
func NewSanitizer(opts SanitizerOptions) *Sanitizer {
	if len(opts.AllowedExtensions) == 0 {
		opts.AllowedExtensions = defaultAllowedExtensions
	}
	if len(opts.BlockedExtensions) == 0 {
		opts.BlockedExtensions = defaultBlockedExtensions
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	s := &Sanitizer{
		allowed: make(map[string]bool, len(opts.AllowedExtensions)),
		blocked: make(map[string]bool, len(opts.BlockedExtensions)),
		maxSize: opts.MaxFileSize,
	}
	for _, ext := range opts.AllowedExtensions {
		s.allowed[strings.ToLower(ext)] = true
	}
	for _, ext := range opts.BlockedExtensions {
		s.blocked[strings.ToLower(ext)] = true
	}
	return s
}

// Validate runs every check against path and returns the resolved absolute
// path on success. The checks run in a fixed order and the first failure
// wins: path containment, existence, file type, blocklist, allowlist, size,
// content. The blocklist is consulted before the allowlist so a blocked
// extension is always reported as blocked.
func (s *Sanitizer) Validate(path, baseDir string) (string, error) {
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(base); err == nil {
		base = resolved
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	// Containment runs with symlinks resolved and before the existence
	// check: escaping the base through a symlinked directory is a security
	// rejection even when the final component does not exist.
	resolved := resolveLenient(abs)
	if !pathWithin(resolved, base) {
		return "", &SecurityError{Path: path, Base: base}
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s: %w", path, fs.ErrNotExist)
		}
		return "", fmt.Errorf("failed to stat file: %w", err)
	}

	if !info.Mode().IsRegular() {
		return "", &PolicyError{
			Code:    PolicyNotRegularFile,
			Path:    path,
			Message: fmt.Sprintf("not a regular file: %s", path),
		}
	}

	ext := strings.ToLower(filepath.Ext(resolved))
	if s.blocked[ext] {
		return "", &PolicyError{
			Code:    PolicyExtensionBlocked,
			Path:    path,
			Message: fmt.Sprintf("extension %q is blocked", ext),
		}
	}
	if !s.allowed[ext] {
		return "", &PolicyError{
			Code:    PolicyExtensionNotAllowed,
			Path:    path,
			Message: fmt.Sprintf("extension %q is not allowed", ext),
		}
	}

	// Size comes from the stat result, never from reading the file.
	if info.Size() > s.maxSize {
		return "", &PolicyError{
			Code:    PolicyFileTooLarge,
			Path:    path,
			Message: fmt.Sprintf("file size %d exceeds limit %d", info.Size(), s.maxSize),
		}
	}

	if err := checkTextContent(resolved); err != nil {
		return "", err
	}
	return resolved, nil
}

// checkTextContent streams the file and rejects null bytes and invalid UTF-8.
// The file is never loaded whole.
func checkTextContent(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 8192)
	for {
		ch, size, err := r.ReadRune()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		if ch == 0 {
			return &PolicyError{
				Code:    PolicyInvalidContent,
				Path:    path,
				Message: "file contains null bytes",
			}
		}
		if ch == utf8.RuneError && size == 1 {
			return &PolicyError{
				Code:    PolicyInvalidContent,
				Path:    path,
				Message: "file is not valid UTF-8",
			}
		}
	}
}

// resolveLenient resolves symlinks in the deepest existing ancestor of abs
// and rejoins the remaining components, so containment can be checked for
// paths whose tail does not exist yet.
func resolveLenient(abs string) string {
	dir, tail := abs, ""
	for {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			return filepath.Join(resolved, tail)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs
		}
		tail = filepath.Join(filepath.Base(dir), tail)
		dir = parent
	}
}

// pathWithin reports whether path is base itself or inside it. Both arguments
// must already be absolute.
func pathWithin(path, base string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
