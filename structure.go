package docflow

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// Section types in a structured document.
const (
	SectionHeading1  = "heading1"
	SectionHeading2  = "heading2"
	SectionHeading3  = "heading3"
	SectionParagraph = "paragraph"
	SectionCodeBlock = "code_block"
	SectionTable     = "table"
	SectionImage     = "image"
)

// Metadata describes a structured document.
type Metadata struct {
	Title   string `json:"title"`
	Author  string `json:"author"`
	Created string `json:"created"`
}

// Section is one element of a structured document. Which fields are set
// depends on Type.
type Section struct {
	Type     string     `json:"type"`
	Text     string     `json:"text,omitempty"`
	Language string     `json:"language,omitempty"`
	Code     string     `json:"code,omitempty"`
	Headers  []string   `json:"headers,omitempty"`
	Rows     [][]string `json:"rows,omitempty"`
	Path     string     `json:"path,omitempty"`
	Alt      string     `json:"alt,omitempty"`
}

// Document is the renderer input produced from a markdown draft.
type Document struct {
	Metadata Metadata  `json:"metadata"`
	Sections []Section `json:"sections"`
}

var (
	structHeadingPattern   = regexp.MustCompile(`^(#{1,3})\s+(.+)$`)
	tableSeparatorPattern  = regexp.MustCompile(`^\|[\s\-:]+\|[\s\-:]+\|$`)
	imageLinePattern       = regexp.MustCompile(`^!\[([^\]]*)\]\(([^)]+)\)$`)
	orderedListItemPattern = regexp.MustCompile(`^\d+\.\s+`)
	listMarkerPattern      = regexp.MustCompile(`^(\d+\.|-|\*|\+)\s+`)
)

// ParseDraft converts markdown into a structured document. The title comes
// from the first level-one heading, falling back to a default. Image paths
// containing traversal sequences are rejected.
func ParseDraft(content string) (*Document, error) {
	sections, err := parseSections(content)
	if err != nil {
		return nil, err
	}
	title := "Generated Document"
	for _, section := range sections {
		if section.Type == SectionHeading1 {
			title = section.Text
			break
		}
	}
	return &Document{
		Metadata: Metadata{
			Title:   title,
			Author:  "AI Agent",
			Created: time.Now().Format(time.RFC3339),
		},
		Sections: sections,
	}, nil
}

// ParseDraftFile reads a draft from disk and parses it.
func ParseDraftFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read draft: %w", err)
	}
	return ParseDraft(string(data))
}

// WriteFile serializes the document as indented JSON.
func (d *Document) WriteFile(path string) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal structure: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write structure file: %w", err)
	}
	return nil
}

func parseSections(content string) ([]Section, error) {
	var sections []Section
	if strings.TrimSpace(content) == "" {
		return sections, nil
	}

	lines := strings.Split(content, "\n")
	i := 0
	for i < len(lines) {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			i++

		case strings.HasPrefix(line, "#"):
			// Headings deeper than three levels are dropped here; the
			// structural fixer clamps them before parsing.
			if match := structHeadingPattern.FindStringSubmatch(line); match != nil {
				sections = append(sections, Section{
					Type: fmt.Sprintf("heading%d", len(match[1])),
					Text: strings.TrimSpace(match[2]),
				})
			}
			i++

		case strings.HasPrefix(trimmed, "```"):
			section, next := parseCodeBlock(lines, i)
			if section != nil {
				sections = append(sections, *section)
			}
			i = next

		case isTableRow(line):
			section, next := parseTable(lines, i)
			if section != nil {
				sections = append(sections, *section)
			}
			i = next

		case imageLinePattern.MatchString(trimmed):
			section, err := parseImage(trimmed)
			if err != nil {
				return nil, err
			}
			sections = append(sections, *section)
			i++

		case strings.HasPrefix(trimmed, "- "), strings.HasPrefix(trimmed, "* "),
			strings.HasPrefix(trimmed, "+ "), strings.HasPrefix(trimmed, ">"):
			section, next := parseListOrBlockquote(lines, i)
			if section != nil {
				sections = append(sections, *section)
			}
			i = next

		default:
			section, next := parseParagraph(lines, i)
			if section != nil {
				sections = append(sections, *section)
				i = next
			} else {
				i++
			}
		}
	}
	return sections, nil
}

func parseCodeBlock(lines []string, start int) (*Section, int) {
	language := strings.TrimSpace(strings.TrimSpace(lines[start])[3:])
	if language == "" {
		language = "text"
	}
	var codeLines []string
	i := start + 1
	for i < len(lines) && !strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
		codeLines = append(codeLines, lines[i])
		i++
	}
	code := strings.TrimRight(strings.Join(codeLines, "\n"), " \t\r\n")
	if code == "" {
		return nil, i + 1
	}
	return &Section{Type: SectionCodeBlock, Language: language, Code: code}, i + 1
}

func isTableRow(line string) bool {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "|") || !strings.HasSuffix(line, "|") || len(line) < 2 {
		return false
	}
	return strings.Contains(line[1:len(line)-1], "|")
}

func parseTable(lines []string, start int) (*Section, int) {
	var headers []string
	var rows [][]string
	separatorFound := false
	i := start
	for i < len(lines) {
		line := lines[i]
		if strings.TrimSpace(line) == "" || !isTableRow(line) {
			break
		}
		if tableSeparatorPattern.MatchString(strings.TrimSpace(line)) {
			separatorFound = true
			i++
			continue
		}
		cells := parseTableRow(line)
		if !separatorFound {
			headers = cells
		} else {
			rows = append(rows, cells)
		}
		i++
	}
	if headers == nil {
		return nil, i
	}
	return &Section{Type: SectionTable, Headers: headers, Rows: rows}, i
}

func parseTableRow(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	cells := strings.Split(line, "|")
	for i, cell := range cells {
		cells[i] = strings.TrimSpace(cell)
	}
	return cells
}

func parseImage(line string) (*Section, error) {
	match := imageLinePattern.FindStringSubmatch(line)
	if match == nil {
		return nil, fmt.Errorf("invalid image line: %s", line)
	}
	alt, path := match[1], match[2]
	if err := validateImagePath(path); err != nil {
		return nil, err
	}
	return &Section{Type: SectionImage, Path: path, Alt: alt}, nil
}

// validateImagePath rejects traversal sequences and absolute paths. Structure
// images must stay inside the session.
func validateImagePath(path string) error {
	if strings.Contains(path, "..") || strings.HasPrefix(path, "/") || strings.HasPrefix(path, `\`) {
		return fmt.Errorf("image path contains path traversal: %s", path)
	}
	return nil
}

func parseListOrBlockquote(lines []string, start int) (*Section, int) {
	var parts []string
	i := start
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, ">") {
			parts = append(parts, strings.TrimSpace(strings.TrimPrefix(trimmed, ">")))
			i++
			continue
		}
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") ||
			strings.HasPrefix(trimmed, "+ ") || orderedListItemPattern.MatchString(trimmed) {
			parts = append(parts, listMarkerPattern.ReplaceAllString(trimmed, ""))
			i++
			continue
		}
		break
	}
	if len(parts) == 0 {
		return nil, i
	}
	return &Section{Type: SectionParagraph, Text: strings.Join(parts, " ")}, i
}

func parseParagraph(lines []string, start int) (*Section, int) {
	var parts []string
	i := start
	for i < len(lines) {
		line := lines[i]
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(line, "#") ||
			strings.HasPrefix(trimmed, "```") || isTableRow(line) ||
			imageLinePattern.MatchString(trimmed) {
			break
		}
		parts = append(parts, trimmed)
		i++
	}
	if len(parts) == 0 {
		return nil, i
	}
	return &Section{Type: SectionParagraph, Text: strings.Join(parts, " ")}, i
}
