package docflow

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// draftingSystemPrompt is the standing instruction set for the generator.
const draftingSystemPrompt = `You are a professional document generation agent. Your task is to create
structured Word documents from user-provided text files.

CRITICAL RULES:
1. PRESERVE FIDELITY: Copy code/logs verbatim in ` + "```" + `language blocks
2. STRUCTURE CONTENT: Use heading hierarchy # -> ## -> ###
3. TRACK CONTEXT: Always read the draft before adding new content
4. NO SUMMARIZATION: Technical content must be copied exactly
5. ASK FOR HELP: If you see a reference to a missing file, STOP and ask

WORKFLOW:
1. Call read_file(filename) to get source content
2. Call read_draft(lines=100) to see what's already written
3. Determine chapter/section structure
4. Call append_draft(content) with new structured content
5. Call create_checkpoint(label) after each major section
6. If you encounter an external reference: stop and ask the user

ASSET HANDLING:
When you need to include an image, call copy_image(source_path) and use the
exact path it returns in your markdown. If the file is missing, copy_image
returns a **[Image Missing: ...]** placeholder; include it as-is.

When the entire document is written, reply with a short message saying the
generation is complete and make no further tool calls.`

// buildUserPrompt assembles the per-turn drafting instruction, including any
// outstanding validation issues to fix.
func buildUserPrompt(state *State) string {
	currentFile := "unknown"
	if len(state.InputFiles) > 0 {
		idx := state.FileIndex
		if idx < 0 || idx >= len(state.InputFiles) {
			idx = 0
		}
		currentFile = filepath.Base(state.InputFiles[idx])
	}

	lines := []string{
		fmt.Sprintf("You are processing file: %s", currentFile),
		fmt.Sprintf("Chapter: %d", state.Chapter),
		fmt.Sprintf("Session: %s", state.SessionID),
		"",
		"Your tasks:",
		fmt.Sprintf("1. Call read_file(%q) to get content", currentFile),
		"2. Call read_draft(lines=100) to see what's already written",
		"3. Structure content into chapters with proper headings (# -> ## -> ###)",
		"4. Call append_draft(content) to add new content",
		"5. Call create_checkpoint(label) after each major section",
		"6. If you see an external or missing file reference, STOP and ask the user.",
		"",
		"Remember: Preserve all code/logs verbatim in ``` blocks. No summarization.",
	}

	if len(state.ValidationIssues) > 0 {
		lines = append(lines, "", "Validation issues to fix (from markdown lint):")
		for _, issue := range state.ValidationIssues {
			data, err := json.Marshal(issue)
			if err != nil {
				lines = append(lines, fmt.Sprintf("  - %s", issue))
				continue
			}
			lines = append(lines, fmt.Sprintf("  - %s", data))
		}
		lines = append(lines, "Fix the above issues using edit_draft_line or append_draft as needed.")
	}

	return strings.Join(lines, "\n")
}

// missingRefsQuestion formats the question asked when scanned inputs
// reference images that could not be resolved. At most three references are
// listed.
func missingRefsQuestion(missing []ImageRef) string {
	refs := make([]string, 0, 3)
	for _, ref := range missing {
		if len(refs) == 3 {
			break
		}
		refs = append(refs, ref.OriginalPath)
	}
	ellipsis := ""
	if len(missing) > 3 {
		ellipsis = "..."
	}
	return fmt.Sprintf("Found %d missing image(s): %s%s. Upload files or skip?",
		len(missing), strings.Join(refs, ", "), ellipsis)
}
