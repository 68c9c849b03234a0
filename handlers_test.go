package docflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestFixer(t *testing.T, content string) (*HandlerRegistry, string) {
	t.Helper()
	draftPath := filepath.Join(t.TempDir(), "draft.md")
	if content != "" {
		require.NoError(t, os.WriteFile(draftPath, []byte(content), 0644))
	}
	registry, err := NewHandlerRegistry(HandlerRegistryOptions{DraftPath: draftPath})
	require.NoError(t, err)
	return registry, draftPath
}

func dispatch(t *testing.T, registry *HandlerRegistry, category FixCategory, record ErrorRecord) string {
	t.Helper()
	record.Category = category
	outcome, err := registry.Dispatch(context.Background(), record)
	require.NoError(t, err)
	return outcome
}

func TestFixUnclosedCodeBlock(t *testing.T) {
	t.Run("odd fence count gets closed", func(t *testing.T) {
		registry, draftPath := newTestFixer(t, "text\n```go\nfunc main() {}\n")
		outcome := dispatch(t, registry, FixCategorySyntax, ErrorRecord{})
		require.Equal(t, "Added closing code fence", outcome)

		content, err := os.ReadFile(draftPath)
		require.NoError(t, err)
		require.True(t, len(content) > 0)
		require.Contains(t, string(content), "func main() {}\n```\n")
	})

	t.Run("balanced fences untouched", func(t *testing.T) {
		original := "```go\ncode\n```\n"
		registry, draftPath := newTestFixer(t, original)
		outcome := dispatch(t, registry, FixCategorySyntax, ErrorRecord{})
		require.Equal(t, "No unclosed code fence found", outcome)

		content, err := os.ReadFile(draftPath)
		require.NoError(t, err)
		require.Equal(t, original, string(content))
	})

	t.Run("missing draft", func(t *testing.T) {
		registry, _ := newTestFixer(t, "")
		outcome := dispatch(t, registry, FixCategorySyntax, ErrorRecord{})
		require.Equal(t, "Fix failed: draft not found", outcome)
	})
}

func TestFixInvalidUTF8(t *testing.T) {
	registry, draftPath := newTestFixer(t, "")
	require.NoError(t, os.WriteFile(draftPath, []byte{0x68, 0x69, 0xff, 0x21}, 0644))

	outcome := dispatch(t, registry, FixCategoryEncoding, ErrorRecord{})
	require.Equal(t, "Fixed invalid UTF-8 sequences", outcome)

	content, err := os.ReadFile(draftPath)
	require.NoError(t, err)
	require.Equal(t, "hi�!", string(content))
}

func TestInsertPlaceholders(t *testing.T) {
	t.Run("targeted replacement", func(t *testing.T) {
		draft := "![a](images/chart.png)\n![b](other.png)\n"
		registry, draftPath := newTestFixer(t, draft)

		outcome := dispatch(t, registry, FixCategoryAsset, ErrorRecord{AssetRef: "chart.png"})
		require.Equal(t, "Replaced 1 missing image(s) [chart.png] with placeholder", outcome)

		content, err := os.ReadFile(draftPath)
		require.NoError(t, err)
		require.Contains(t, string(content), "**[Image Missing: chart.png]**")
		require.Contains(t, string(content), "![b](other.png)")
	})

	t.Run("no asset ref replaces everything", func(t *testing.T) {
		draft := "![a](one.png)\ntext\n![b](two.png)\n"
		registry, draftPath := newTestFixer(t, draft)

		outcome := dispatch(t, registry, FixCategoryAsset, ErrorRecord{})
		require.Equal(t, "Replaced 2 missing image(s) [unknown_asset] with placeholder", outcome)

		content, err := os.ReadFile(draftPath)
		require.NoError(t, err)
		require.NotContains(t, string(content), "](one.png)")
		require.NotContains(t, string(content), "](two.png)")
	})

	t.Run("no matching reference", func(t *testing.T) {
		registry, _ := newTestFixer(t, "no images here\n")
		outcome := dispatch(t, registry, FixCategoryAsset, ErrorRecord{AssetRef: "x.png"})
		require.Equal(t, "No matching image reference found", outcome)
	})
}

func TestFixHeadingHierarchy(t *testing.T) {
	t.Run("skipped level repaired", func(t *testing.T) {
		draft := "# Title\n\n#### Way Too Deep\n\ntext\n"
		registry, draftPath := newTestFixer(t, draft)

		outcome := dispatch(t, registry, FixCategoryStructural, ErrorRecord{})
		require.Equal(t, "Fixed 1 skipped level(s)", outcome)

		content, err := os.ReadFile(draftPath)
		require.NoError(t, err)
		require.Contains(t, string(content), "\n## Way Too Deep\n")
	})

	t.Run("deep levels clamped", func(t *testing.T) {
		draft := "# One\n## Two\n### Three\n#### Four\n##### Five\n"
		registry, draftPath := newTestFixer(t, draft)

		outcome := dispatch(t, registry, FixCategoryStructural, ErrorRecord{})
		require.Equal(t, "Clamped 2 heading(s) to level 3", outcome)

		content, err := os.ReadFile(draftPath)
		require.NoError(t, err)
		require.Equal(t, "# One\n## Two\n### Three\n### Four\n### Five\n", string(content))
	})

	t.Run("document starting deep is a skip", func(t *testing.T) {
		draft := "### Three\n#### Four\n"
		registry, draftPath := newTestFixer(t, draft)

		outcome := dispatch(t, registry, FixCategoryStructural, ErrorRecord{})
		require.Equal(t, "Fixed 2 skipped level(s)", outcome)

		content, err := os.ReadFile(draftPath)
		require.NoError(t, err)
		require.Equal(t, "# Three\n## Four\n", string(content))
	})

	t.Run("clean hierarchy untouched", func(t *testing.T) {
		draft := "# One\n## Two\n### Three\n"
		registry, draftPath := newTestFixer(t, draft)

		outcome := dispatch(t, registry, FixCategoryStructural, ErrorRecord{})
		require.Equal(t, "No heading hierarchy issues found", outcome)

		content, err := os.ReadFile(draftPath)
		require.NoError(t, err)
		require.Equal(t, draft, string(content))
	})

	t.Run("second run is a no-op", func(t *testing.T) {
		draft := "# One\n#### Deep\n### Keep\n##### Five\n"
		registry, draftPath := newTestFixer(t, draft)

		outcome := dispatch(t, registry, FixCategoryStructural, ErrorRecord{})
		require.Equal(t, "Fixed 1 skipped level(s) and clamped 1 level(s) to 3", outcome)

		fixed, err := os.ReadFile(draftPath)
		require.NoError(t, err)
		require.Equal(t, "# One\n## Deep\n### Keep\n### Five\n", string(fixed))

		outcome = dispatch(t, registry, FixCategoryStructural, ErrorRecord{})
		require.Equal(t, "No heading hierarchy issues found", outcome)

		again, err := os.ReadFile(draftPath)
		require.NoError(t, err)
		require.Equal(t, fixed, again)
	})

	t.Run("h1 to h3 is allowed", func(t *testing.T) {
		draft := "# One\n### Three\n"
		registry, _ := newTestFixer(t, draft)
		outcome := dispatch(t, registry, FixCategoryStructural, ErrorRecord{})
		require.Equal(t, "No heading hierarchy issues found", outcome)
	})
}

func TestUnknownCategoryHandler(t *testing.T) {
	registry, _ := newTestFixer(t, "anything\n")
	outcome := dispatch(t, registry, FixCategoryUnknown, ErrorRecord{})
	require.Equal(t, "No automatic fix available", outcome)
}

func TestRegisterOverride(t *testing.T) {
	registry, _ := newTestFixer(t, "anything\n")
	registry.Register(FixCategorySyntax, func(ctx context.Context, record ErrorRecord) (string, error) {
		return "custom fix ran", nil
	})
	outcome := dispatch(t, registry, FixCategorySyntax, ErrorRecord{})
	require.Equal(t, "custom fix ran", outcome)
}
