package docflow

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDraftHeadings(t *testing.T) {
	doc, err := ParseDraft("# Title\n\n## Section\n\n### Detail\n")
	require.NoError(t, err)
	require.Equal(t, "Title", doc.Metadata.Title)
	require.Equal(t, "AI Agent", doc.Metadata.Author)
	require.NotEmpty(t, doc.Metadata.Created)

	require.Len(t, doc.Sections, 3)
	require.Equal(t, SectionHeading1, doc.Sections[0].Type)
	require.Equal(t, SectionHeading2, doc.Sections[1].Type)
	require.Equal(t, SectionHeading3, doc.Sections[2].Type)
	require.Equal(t, "Detail", doc.Sections[2].Text)
}

func TestParseDraftDefaultTitle(t *testing.T) {
	doc, err := ParseDraft("## Only A Subheading\n\ntext\n")
	require.NoError(t, err)
	require.Equal(t, "Generated Document", doc.Metadata.Title)
}

func TestParseDraftDeepHeadingsDropped(t *testing.T) {
	doc, err := ParseDraft("# Title\n\n#### Too Deep\n")
	require.NoError(t, err)
	require.Len(t, doc.Sections, 1)
}

func TestParseDraftCodeBlock(t *testing.T) {
	t.Run("with language", func(t *testing.T) {
		doc, err := ParseDraft("```go\nfunc main() {}\n```\n")
		require.NoError(t, err)
		require.Len(t, doc.Sections, 1)
		require.Equal(t, SectionCodeBlock, doc.Sections[0].Type)
		require.Equal(t, "go", doc.Sections[0].Language)
		require.Equal(t, "func main() {}", doc.Sections[0].Code)
	})

	t.Run("without language defaults to text", func(t *testing.T) {
		doc, err := ParseDraft("```\nplain\n```\n")
		require.NoError(t, err)
		require.Equal(t, "text", doc.Sections[0].Language)
	})

	t.Run("empty block skipped", func(t *testing.T) {
		doc, err := ParseDraft("```go\n```\n\ntext after\n")
		require.NoError(t, err)
		require.Len(t, doc.Sections, 1)
		require.Equal(t, SectionParagraph, doc.Sections[0].Type)
	})
}

func TestParseDraftTable(t *testing.T) {
	draft := "| Name | Age |\n|------|-----|\n| Ada | 36 |\n| Grace | 85 |\n"
	doc, err := ParseDraft(draft)
	require.NoError(t, err)
	require.Len(t, doc.Sections, 1)

	table := doc.Sections[0]
	require.Equal(t, SectionTable, table.Type)
	require.Equal(t, []string{"Name", "Age"}, table.Headers)
	require.Equal(t, [][]string{{"Ada", "36"}, {"Grace", "85"}}, table.Rows)
}

func TestParseDraftImage(t *testing.T) {
	t.Run("valid image", func(t *testing.T) {
		doc, err := ParseDraft("![the logo](assets/logo.png)\n")
		require.NoError(t, err)
		require.Len(t, doc.Sections, 1)
		require.Equal(t, SectionImage, doc.Sections[0].Type)
		require.Equal(t, "assets/logo.png", doc.Sections[0].Path)
		require.Equal(t, "the logo", doc.Sections[0].Alt)
	})

	t.Run("traversal rejected", func(t *testing.T) {
		_, err := ParseDraft("![x](../../etc/passwd)\n")
		require.Error(t, err)
		require.Contains(t, err.Error(), "path traversal")
	})

	t.Run("absolute path rejected", func(t *testing.T) {
		_, err := ParseDraft("![x](/etc/passwd)\n")
		require.Error(t, err)
	})
}

func TestParseDraftParagraphsAndLists(t *testing.T) {
	draft := "First line\ncontinues here.\n\n- one\n- two\n\n> quoted\n"
	doc, err := ParseDraft(draft)
	require.NoError(t, err)
	require.Len(t, doc.Sections, 3)

	require.Equal(t, SectionParagraph, doc.Sections[0].Type)
	require.Equal(t, "First line continues here.", doc.Sections[0].Text)

	require.Equal(t, SectionParagraph, doc.Sections[1].Type)
	require.Equal(t, "one two", doc.Sections[1].Text)

	require.Equal(t, SectionParagraph, doc.Sections[2].Type)
	require.Equal(t, "quoted", doc.Sections[2].Text)
}

func TestParseDraftEmpty(t *testing.T) {
	doc, err := ParseDraft("   \n\n  ")
	require.NoError(t, err)
	require.Empty(t, doc.Sections)
	require.Equal(t, "Generated Document", doc.Metadata.Title)
}

func TestDocumentWriteFile(t *testing.T) {
	doc, err := ParseDraft("# Report\n\nBody text.\n")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "structure.json")
	require.NoError(t, doc.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var loaded Document
	require.NoError(t, json.Unmarshal(data, &loaded))
	require.Equal(t, "Report", loaded.Metadata.Title)
	require.Len(t, loaded.Sections, 2)
}

func TestParseDraftFileMissing(t *testing.T) {
	_, err := ParseDraftFile(filepath.Join(t.TempDir(), "nope.md"))
	require.Error(t, err)
}
