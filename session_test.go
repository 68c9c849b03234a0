package docflow

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSessionLayout(t *testing.T) {
	base := t.TempDir()
	session, err := NewSession(SessionOptions{BaseDir: base})
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(session.ID(), "sess_"))
	require.Equal(t, SessionStatusActive, session.Status())

	for _, dir := range []string{
		session.InputsDir(),
		session.AssetsDir(),
		session.CheckpointsDir(),
		session.LogsDir(),
	} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}

	require.Equal(t, filepath.Join(session.Root(), "draft.md"), session.DraftPath())
	require.Equal(t, filepath.Join(session.Root(), "output.docx"), session.OutputPath())
}

func TestSessionAddInput(t *testing.T) {
	base := t.TempDir()
	session, err := NewSession(SessionOptions{BaseDir: base})
	require.NoError(t, err)

	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "notes.md")
	require.NoError(t, os.WriteFile(src, []byte("first version"), 0644))

	dst, err := session.AddInput(src)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(session.InputsDir(), "notes.md"), dst)

	// Re-adding the same base name overwrites.
	require.NoError(t, os.WriteFile(src, []byte("second version"), 0644))
	_, err = session.AddInput(src)
	require.NoError(t, err)

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "second version", string(content))
}

func TestSessionArchive(t *testing.T) {
	base := t.TempDir()
	session, err := NewSession(SessionOptions{BaseDir: base})
	require.NoError(t, err)
	id := session.ID()

	require.NoError(t, session.Archive())
	require.Equal(t, SessionStatusArchived, session.Status())
	require.Equal(t, filepath.Join(base, "archive", id), session.Root())

	_, err = os.Stat(session.Root())
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(base, id))
	require.True(t, os.IsNotExist(err))

	t.Run("cannot archive twice", func(t *testing.T) {
		require.Error(t, session.Archive())
	})
	t.Run("cannot discard after archive", func(t *testing.T) {
		require.Error(t, session.Discard())
	})
	t.Run("cannot add inputs after archive", func(t *testing.T) {
		_, err := session.AddInput("anything")
		require.Error(t, err)
	})
}

func TestSessionDiscardKeepsArtifacts(t *testing.T) {
	base := t.TempDir()
	session, err := NewSession(SessionOptions{BaseDir: base})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(session.Path(ErrorReportFileName), []byte("report"), 0644))
	require.NoError(t, os.WriteFile(session.Path(FailedDraftFileName), []byte("draft"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(session.InputsDir(), "in.md"), []byte("x"), 0644))

	require.NoError(t, session.Discard())
	require.Equal(t, SessionStatusDiscarded, session.Status())

	// Working directories are gone, failure artifacts and logs survive.
	for _, dir := range []string{session.InputsDir(), session.AssetsDir(), session.CheckpointsDir()} {
		_, err := os.Stat(dir)
		require.True(t, os.IsNotExist(err))
	}
	_, err = os.Stat(session.Path(ErrorReportFileName))
	require.NoError(t, err)
	_, err = os.Stat(session.LogsDir())
	require.NoError(t, err)
}

func TestOpenSession(t *testing.T) {
	base := t.TempDir()
	created, err := NewSession(SessionOptions{BaseDir: base})
	require.NoError(t, err)

	opened, err := OpenSession(SessionOptions{BaseDir: base, ID: created.ID()})
	require.NoError(t, err)
	require.Equal(t, created.Root(), opened.Root())

	t.Run("unknown id", func(t *testing.T) {
		_, err := OpenSession(SessionOptions{BaseDir: base, ID: "sess_unknown"})
		require.Error(t, err)
	})
}
