package docflow

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestSanitizerAcceptsValidFile(t *testing.T) {
	dir := t.TempDir()
	path := writeInput(t, dir, "notes.md", "# Notes\n\nhello\n")

	s := NewSanitizer(SanitizerOptions{})
	resolved, err := s.Validate(path, dir)
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(resolved))
	require.Equal(t, "notes.md", filepath.Base(resolved))
}

func TestSanitizerPathEscape(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()

	// A path outside the base fails with a security error before any other
	// check, even when the file does not exist or has a blocked extension.
	t.Run("missing file outside base", func(t *testing.T) {
		s := NewSanitizer(SanitizerOptions{})
		_, err := s.Validate(filepath.Join(outside, "nope.exe"), dir)
		var secErr *SecurityError
		require.ErrorAs(t, err, &secErr)
	})

	t.Run("traversal out of base", func(t *testing.T) {
		s := NewSanitizer(SanitizerOptions{})
		_, err := s.Validate(filepath.Join(dir, "..", "escape.md"), dir)
		var secErr *SecurityError
		require.ErrorAs(t, err, &secErr)
	})

	t.Run("symlink pointing outside base", func(t *testing.T) {
		target := writeInput(t, outside, "secret.md", "data")
		link := filepath.Join(dir, "inside.md")
		require.NoError(t, os.Symlink(target, link))

		s := NewSanitizer(SanitizerOptions{})
		_, err := s.Validate(link, dir)
		var secErr *SecurityError
		require.ErrorAs(t, err, &secErr)
	})

	// A symlinked directory escaping the base is a security rejection even
	// when the file under it does not exist, not a not-found.
	t.Run("missing file behind symlinked directory", func(t *testing.T) {
		require.NoError(t, os.Symlink(outside, filepath.Join(dir, "sub")))

		s := NewSanitizer(SanitizerOptions{})
		_, err := s.Validate(filepath.Join(dir, "sub", "ghost.txt"), dir)
		var secErr *SecurityError
		require.ErrorAs(t, err, &secErr)
		require.NotErrorIs(t, err, os.ErrNotExist)
	})
}

func TestSanitizerMissingFile(t *testing.T) {
	dir := t.TempDir()
	s := NewSanitizer(SanitizerOptions{})
	_, err := s.Validate(filepath.Join(dir, "ghost.md"), dir)
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSanitizerExtensionPolicy(t *testing.T) {
	dir := t.TempDir()
	s := NewSanitizer(SanitizerOptions{})

	t.Run("blocked extension", func(t *testing.T) {
		path := writeInput(t, dir, "run.sh", "echo hi")
		_, err := s.Validate(path, dir)
		var polErr *PolicyError
		require.ErrorAs(t, err, &polErr)
		require.Equal(t, PolicyExtensionBlocked, polErr.Code)
	})

	t.Run("unknown extension", func(t *testing.T) {
		path := writeInput(t, dir, "data.csv", "a,b\n")
		_, err := s.Validate(path, dir)
		var polErr *PolicyError
		require.ErrorAs(t, err, &polErr)
		require.Equal(t, PolicyExtensionNotAllowed, polErr.Code)
	})

	t.Run("blocklist wins when extension is in both lists", func(t *testing.T) {
		both := NewSanitizer(SanitizerOptions{
			AllowedExtensions: []string{".sh"},
			BlockedExtensions: []string{".sh"},
		})
		path := writeInput(t, dir, "ambiguous.sh", "echo hi")
		_, err := both.Validate(path, dir)
		var polErr *PolicyError
		require.ErrorAs(t, err, &polErr)
		require.Equal(t, PolicyExtensionBlocked, polErr.Code)
	})

	t.Run("case insensitive", func(t *testing.T) {
		path := writeInput(t, dir, "NOTES.MD", "hello")
		_, err := s.Validate(path, dir)
		require.NoError(t, err)
	})
}

func TestSanitizerSizeLimit(t *testing.T) {
	dir := t.TempDir()
	path := writeInput(t, dir, "big.md", strings.Repeat("a", 100))

	s := NewSanitizer(SanitizerOptions{MaxFileSize: 50})
	_, err := s.Validate(path, dir)
	var polErr *PolicyError
	require.ErrorAs(t, err, &polErr)
	require.Equal(t, PolicyFileTooLarge, polErr.Code)
}

func TestSanitizerContent(t *testing.T) {
	dir := t.TempDir()
	s := NewSanitizer(SanitizerOptions{})

	t.Run("null bytes rejected", func(t *testing.T) {
		path := writeInput(t, dir, "nul.md", "hello\x00world")
		_, err := s.Validate(path, dir)
		var polErr *PolicyError
		require.ErrorAs(t, err, &polErr)
		require.Equal(t, PolicyInvalidContent, polErr.Code)
		require.Contains(t, polErr.Message, "null bytes")
	})

	t.Run("invalid utf8 rejected", func(t *testing.T) {
		path := filepath.Join(dir, "bad.md")
		require.NoError(t, os.WriteFile(path, []byte{0x68, 0x69, 0xff, 0xfe}, 0644))
		_, err := s.Validate(path, dir)
		var polErr *PolicyError
		require.ErrorAs(t, err, &polErr)
		require.Equal(t, PolicyInvalidContent, polErr.Code)
		require.Contains(t, polErr.Message, "UTF-8")
	})

	t.Run("multibyte utf8 accepted", func(t *testing.T) {
		path := writeInput(t, dir, "unicode.md", "héllo wörld ✓")
		_, err := s.Validate(path, dir)
		require.NoError(t, err)
	})
}

func TestSanitizerRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "subdir.md")
	require.NoError(t, os.Mkdir(sub, 0755))

	s := NewSanitizer(SanitizerOptions{})
	_, err := s.Validate(sub, dir)
	var polErr *PolicyError
	require.ErrorAs(t, err, &polErr)
	require.Equal(t, PolicyNotRegularFile, polErr.Code)
	require.False(t, errors.Is(err, os.ErrNotExist))
}
