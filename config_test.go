package docflow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "sessions", cfg.BaseDir)
	require.Equal(t, "claude-sonnet-4-5", cfg.Model)
	require.Equal(t, 4096, cfg.MaxTokens)
	require.Equal(t, 2*time.Minute, cfg.GenerateTimeout.Std())
	require.Equal(t, time.Minute, cfg.RenderTimeout.Std())
	require.Equal(t, 30*time.Second, cfg.LintTimeout.Std())
	require.Equal(t, 3, cfg.MaxFixAttempts)
	require.Equal(t, 3, cfg.MaxConversionAttempts)
	require.Equal(t, 3, cfg.MaxRetries)
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig([]byte(`
base_dir: /var/lib/docflow
state_dir: /var/lib/docflow/state
model: claude-opus-4-1
max_tokens: 8192
render_command: ["pandoc", "--from", "json"]
lint_command: ["markdownlint", "--json"]
generate_timeout: 5m
lint_timeout: 45s
max_fix_attempts: 5
sanitizer:
  allowed_extensions: [".md", ".txt"]
  blocked_extensions: [".exe"]
  max_file_size: 1048576
`))
	require.NoError(t, err)

	require.Equal(t, "/var/lib/docflow", cfg.BaseDir)
	require.Equal(t, "/var/lib/docflow/state", cfg.StateDir)
	require.Equal(t, "claude-opus-4-1", cfg.Model)
	require.Equal(t, 8192, cfg.MaxTokens)
	require.Equal(t, []string{"pandoc", "--from", "json"}, cfg.RenderCommand)
	require.Equal(t, []string{"markdownlint", "--json"}, cfg.LintCommand)
	require.Equal(t, 5*time.Minute, cfg.GenerateTimeout.Std())
	require.Equal(t, 45*time.Second, cfg.LintTimeout.Std())
	require.Equal(t, 5, cfg.MaxFixAttempts)
	require.Equal(t, []string{".md", ".txt"}, cfg.Sanitizer.AllowedExtensions)
	require.Equal(t, []string{".exe"}, cfg.Sanitizer.BlockedExtensions)
	require.Equal(t, int64(1048576), cfg.Sanitizer.MaxFileSize)

	// Unset fields keep their defaults.
	require.Equal(t, time.Minute, cfg.RenderTimeout.Std())
	require.Equal(t, 3, cfg.MaxRetries)
}

func TestLoadConfigInvalid(t *testing.T) {
	t.Run("bad yaml", func(t *testing.T) {
		_, err := LoadConfig([]byte("base_dir: [unclosed"))
		require.Error(t, err)
	})
	t.Run("empty base dir", func(t *testing.T) {
		_, err := LoadConfig([]byte(`base_dir: ""`))
		require.Error(t, err)
		require.Contains(t, err.Error(), "base_dir is required")
	})
	t.Run("negative ceiling", func(t *testing.T) {
		_, err := LoadConfig([]byte("max_retries: -1"))
		require.Error(t, err)
		require.Contains(t, err.Error(), "must not be negative")
	})
	t.Run("bad duration", func(t *testing.T) {
		_, err := LoadConfig([]byte("generate_timeout: banana"))
		require.Error(t, err)
		require.Contains(t, err.Error(), "invalid duration")
	})
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_dir: work\nmodel: claude-haiku-4-5\n"), 0644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	require.Equal(t, "work", cfg.BaseDir)
	require.Equal(t, "claude-haiku-4-5", cfg.Model)

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
