package docflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewState(t *testing.T) {
	state := NewState("sess_1", []string{"a.md", "b.md"})
	require.Equal(t, StageScanningAssets, state.Stage)
	require.Equal(t, StatusPending, state.Status)
	require.Equal(t, []string{"a.md", "b.md"}, state.InputFiles)
	require.NotNil(t, state.Decisions)
	require.False(t, state.StartTime.IsZero())
	require.False(t, state.Terminal())
}

func TestStateMerge(t *testing.T) {
	state := NewState("sess_1", nil)
	state.Messages = []Message{{Role: RoleUser, Content: "hello"}}

	t.Run("nil update is a no-op", func(t *testing.T) {
		state.Merge(nil)
		require.Len(t, state.Messages, 1)
	})

	t.Run("scalars overwrite, lists append", func(t *testing.T) {
		question := "which file?"
		checkpoint := "20260101_000000_chapter_1.md"
		done := true
		state.Merge(&StateUpdate{
			PendingQuestion: &question,
			LastCheckpoint:  &checkpoint,
			DraftComplete:   &done,
			Messages:        []Message{{Role: RoleAssistant, Content: "reply"}},
		})
		require.Equal(t, question, state.PendingQuestion)
		require.Equal(t, checkpoint, state.LastCheckpoint)
		require.True(t, state.DraftComplete)
		require.Len(t, state.Messages, 2)
	})

	t.Run("nil pointers leave scalars alone", func(t *testing.T) {
		state.Merge(&StateUpdate{})
		require.Equal(t, "which file?", state.PendingQuestion)
		require.True(t, state.DraftComplete)
	})

	t.Run("empty string clears through pointer", func(t *testing.T) {
		empty := ""
		state.Merge(&StateUpdate{PendingQuestion: &empty})
		require.Empty(t, state.PendingQuestion)
	})
}

func TestAddMissingRefDedup(t *testing.T) {
	state := NewState("sess_1", nil)
	ref := ImageRef{OriginalPath: "x.png", SourceFile: "doc.md"}

	state.AddMissingRef(ref)
	state.AddMissingRef(ref)
	require.Len(t, state.MissingRefs, 1)

	// Same path in a different source file is a distinct reference.
	state.AddMissingRef(ImageRef{OriginalPath: "x.png", SourceFile: "other.md"})
	require.Len(t, state.MissingRefs, 2)
}

func TestStateCopy(t *testing.T) {
	state := NewState("sess_1", []string{"a.md"})
	state.Messages = []Message{{Role: RoleUser, Content: "hello"}}
	state.Decisions["x.png"] = "skip"

	copied, err := state.Copy()
	require.NoError(t, err)
	require.Equal(t, state.SessionID, copied.SessionID)
	require.Equal(t, state.Decisions, copied.Decisions)

	copied.Messages = append(copied.Messages, Message{Role: RoleAssistant, Content: "more"})
	copied.Decisions["y.png"] = "upload.png"
	require.Len(t, state.Messages, 1)
	require.Len(t, state.Decisions, 1)
}

func TestFileStateStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStateStore(t.TempDir())
	require.NoError(t, err)

	state := NewState("sess_roundtrip", []string{"a.md"})
	state.Stage = StageDrafting
	state.Status = StatusRunning
	state.Chapter = 2
	state.Messages = []Message{
		{Role: RoleAssistant, Content: "", ToolCalls: []ToolCall{
			{ID: "call_1", Name: "append_draft", Params: map[string]any{"content": "x"}},
		}},
	}

	require.NoError(t, store.SaveState(ctx, state))

	loaded, err := store.LoadState(ctx, "sess_roundtrip")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, StageDrafting, loaded.Stage)
	require.Equal(t, 2, loaded.Chapter)
	require.Len(t, loaded.Messages, 1)
	require.Equal(t, "append_draft", loaded.Messages[0].ToolCalls[0].Name)

	t.Run("missing state is nil not error", func(t *testing.T) {
		loaded, err := store.LoadState(ctx, "sess_unknown")
		require.NoError(t, err)
		require.Nil(t, loaded)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.DeleteState(ctx, "sess_roundtrip"))
		loaded, err := store.LoadState(ctx, "sess_roundtrip")
		require.NoError(t, err)
		require.Nil(t, loaded)

		require.NoError(t, store.DeleteState(ctx, "sess_roundtrip"))
	})
}

func TestSaveStateRequiresSessionID(t *testing.T) {
	store, err := NewFileStateStore(t.TempDir())
	require.NoError(t, err)
	require.Error(t, store.SaveState(context.Background(), &State{}))
}
