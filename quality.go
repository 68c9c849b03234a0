package docflow

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// QualityResult is the outcome of validating a rendered document.
type QualityResult struct {
	Passed bool     `json:"passed"`
	Issues []string `json:"issues"`
	Score  int      `json:"score"`
}

// Fonts accepted inside code blocks.
var allowedCodeFonts = map[string]bool{
	"Courier New": true,
	"Consolas":    true,
	"Monaco":      true,
}

// QualityValidator inspects a rendered DOCX for formatting problems: skipped
// heading levels, non-monospace code fonts, ragged tables, and image
// references with no target.
type QualityValidator struct{}

func NewQualityValidator() *QualityValidator {
	return &QualityValidator{}
}

// Validate loads the DOCX and runs every check. Load failures produce a
// failed result with a single issue rather than an error; an empty document
// is valid. The score deducts ten points per issue with a floor of zero.
func (v *QualityValidator) Validate(path string) *QualityResult {
	doc, err := readDocx(path)
	if err != nil {
		return &QualityResult{
			Passed: false,
			Issues: []string{fmt.Sprintf("Failed to load DOCX: %v", err)},
			Score:  0,
		}
	}

	if len(doc.Body.Paragraphs) == 0 && len(doc.Body.Tables) == 0 {
		return &QualityResult{Passed: true, Issues: []string{}, Score: 100}
	}

	var issues []string
	issues = append(issues, checkHeadings(doc)...)
	issues = append(issues, checkImages(doc)...)
	issues = append(issues, checkCodeBlocks(doc)...)
	issues = append(issues, checkTables(doc)...)

	score := 100 - len(issues)*10
	if score < 0 {
		score = 0
	}
	if issues == nil {
		issues = []string{}
	}
	return &QualityResult{
		Passed: len(issues) == 0,
		Issues: issues,
		Score:  score,
	}
}

// Minimal model of word/document.xml. Element and attribute names match on
// local name, which is enough to walk the OOXML namespaces.
type docxDocument struct {
	XMLName xml.Name `xml:"document"`
	Body    docxBody `xml:"body"`
}

type docxBody struct {
	Paragraphs []docxParagraph `xml:"p"`
	Tables     []docxTable     `xml:"tbl"`
}

type docxParagraph struct {
	Props docxParaProps `xml:"pPr"`
	Runs  []docxRun     `xml:"r"`
}

type docxParaProps struct {
	Style docxStyleRef `xml:"pStyle"`
}

type docxStyleRef struct {
	Val string `xml:"val,attr"`
}

type docxRun struct {
	Props    docxRunProps  `xml:"rPr"`
	Text     []string      `xml:"t"`
	Drawings []docxDrawing `xml:"drawing"`
}

type docxRunProps struct {
	Fonts docxFonts `xml:"rFonts"`
}

type docxFonts struct {
	ASCII string `xml:"ascii,attr"`
}

type docxDrawing struct {
	Inline *docxGraphicHolder `xml:"inline"`
	Anchor *docxGraphicHolder `xml:"anchor"`
}

type docxGraphicHolder struct {
	Graphic docxGraphic `xml:"graphic"`
}

type docxGraphic struct {
	Data docxGraphicData `xml:"graphicData"`
}

type docxGraphicData struct {
	Pic *docxPic `xml:"pic"`
}

type docxPic struct {
	BlipFill docxBlipFill `xml:"blipFill"`
}

type docxBlipFill struct {
	Blip *docxBlip `xml:"blip"`
}

type docxBlip struct {
	Embed string `xml:"embed,attr"`
	Link  string `xml:"link,attr"`
}

type docxTable struct {
	Rows []docxTableRow `xml:"tr"`
}

type docxTableRow struct {
	Cells []docxTableCell `xml:"tc"`
}

type docxTableCell struct {
	Paragraphs []docxParagraph `xml:"p"`
}

func readDocx(path string) (*docxDocument, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer archive.Close()

	for _, file := range archive.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, err
		}
		var doc docxDocument
		if err := xml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid document.xml: %w", err)
		}
		return &doc, nil
	}
	return nil, fmt.Errorf("word/document.xml not found in %s", path)
}

func (p *docxParagraph) text() string {
	var sb strings.Builder
	for _, run := range p.Runs {
		for _, t := range run.Text {
			sb.WriteString(t)
		}
	}
	return sb.String()
}

// headingLevel parses the level out of style ids like "Heading1" or
// "Heading 2". Zero means not a heading.
func headingLevel(style string) int {
	if !strings.HasPrefix(style, "Heading") {
		return 0
	}
	digits := strings.TrimSpace(strings.TrimPrefix(style, "Heading"))
	level, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return level
}

func checkHeadings(doc *docxDocument) []string {
	var issues []string
	lastLevel := 0
	for _, para := range doc.Body.Paragraphs {
		level := headingLevel(para.Props.Style.Val)
		if level == 0 {
			continue
		}
		if lastLevel > 0 && level > lastLevel+1 {
			issues = append(issues,
				fmt.Sprintf("Skipped heading level: jumped from H%d to H%d", lastLevel, level))
		}
		lastLevel = level
	}
	return issues
}

func blipBroken(d docxDrawing) bool {
	for _, holder := range []*docxGraphicHolder{d.Inline, d.Anchor} {
		if holder == nil || holder.Graphic.Data.Pic == nil {
			continue
		}
		blip := holder.Graphic.Data.Pic.BlipFill.Blip
		if blip != nil && blip.Embed == "" && blip.Link == "" {
			return true
		}
	}
	return false
}

func checkImages(doc *docxDocument) []string {
	var issues []string
	for _, para := range doc.Body.Paragraphs {
		for _, run := range para.Runs {
			for _, drawing := range run.Drawings {
				if blipBroken(drawing) {
					issues = append(issues, "Broken image: image reference missing")
				}
			}
		}
	}
	for _, table := range doc.Body.Tables {
		for _, row := range table.Rows {
			for _, cell := range row.Cells {
				for _, para := range cell.Paragraphs {
					for _, run := range para.Runs {
						for _, drawing := range run.Drawings {
							if blipBroken(drawing) {
								issues = append(issues, "Broken image in table: image reference missing")
							}
						}
					}
				}
			}
		}
	}
	return issues
}

func checkCodeBlocks(doc *docxDocument) []string {
	var issues []string
	for _, para := range doc.Body.Paragraphs {
		style := strings.ToLower(para.Props.Style.Val)
		text := para.text()
		codeLike := strings.HasPrefix(style, "code") ||
			strings.HasPrefix(text, "    ") || strings.HasPrefix(text, "\t")
		if !codeLike {
			continue
		}
		for _, run := range para.Runs {
			font := run.Props.Fonts.ASCII
			if font != "" && !allowedCodeFonts[font] {
				issues = append(issues,
					fmt.Sprintf("Code block uses non-monospace font: %s", font))
				break
			}
		}
	}
	return issues
}

func checkTables(doc *docxDocument) []string {
	var issues []string
	for tableIdx, table := range doc.Body.Tables {
		if len(table.Rows) == 0 {
			continue
		}
		expected := len(table.Rows[0].Cells)
		for rowIdx, row := range table.Rows[1:] {
			if len(row.Cells) != expected {
				issues = append(issues, fmt.Sprintf(
					"Inconsistent table columns: table %d, row %d has %d columns, expected %d",
					tableIdx+1, rowIdx+2, len(row.Cells), expected))
				break
			}
		}
	}
	return issues
}
