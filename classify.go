package docflow

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FixCategory is the taxonomy used to pick an automatic fix handler.
type FixCategory string

const (
	FixCategorySyntax     FixCategory = "syntax"
	FixCategoryEncoding   FixCategory = "encoding"
	FixCategoryAsset      FixCategory = "asset"
	FixCategoryStructural FixCategory = "structural"
	FixCategoryUnknown    FixCategory = "unknown"
)

// maxClassifiedMessageLength caps the message stored in an ErrorRecord.
const maxClassifiedMessageLength = 2000

// Keyword sets per category, checked in a fixed order. The first category
// with a hit wins, so a message mentioning both a fence and an encoding is
// syntax.
var (
	syntaxKeywords     = []string{"unclosed", "malformed", "table", "fence", "code block"}
	encodingKeywords   = []string{"encoding", "utf-8", "decode", "unicode"}
	assetKeywords      = []string{"image", "file not found", "asset", "missing", "enoent"}
	structuralKeywords = []string{"heading", "hierarchy", "level", "skip"}
)

// Line number extraction patterns, tried in order.
var lineNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)line\s+(\d+)`),
	regexp.MustCompile(`(?i)line:\s*(\d+)`),
	regexp.MustCompile(`(?i)at\s+line\s+(\d+)`),
	regexp.MustCompile(`:(\d+):`),
}

var assetRefPattern = regexp.MustCompile(`(?i)(?:not found|missing|ENOENT)[:\s]+(.+)$`)

// ErrorRecord is the classification of one error message. Line is zero when
// no line number was found; AssetRef is only set for asset errors.
type ErrorRecord struct {
	Category  FixCategory `json:"category"`
	Line      int         `json:"line,omitempty"`
	AssetRef  string      `json:"asset_ref,omitempty"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
}

// Classify maps an error message onto the fix taxonomy. Categories are
// checked in canonical order: syntax, encoding, asset, structural, unknown.
func Classify(message string) ErrorRecord {
	record := ErrorRecord{
		Category:  FixCategoryUnknown,
		Message:   truncate(message, maxClassifiedMessageLength),
		Timestamp: time.Now().UTC(),
	}
	if message == "" {
		return record
	}
	record.Line = extractLineNumber(message)

	lower := strings.ToLower(message)
	switch {
	case containsAny(lower, syntaxKeywords):
		record.Category = FixCategorySyntax
	case containsAny(lower, encodingKeywords):
		record.Category = FixCategoryEncoding
	case containsAny(lower, assetKeywords):
		record.Category = FixCategoryAsset
		record.AssetRef = extractAssetRef(message)
	case containsAny(lower, structuralKeywords):
		record.Category = FixCategoryStructural
	}
	return record
}

func containsAny(lower string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func extractLineNumber(message string) int {
	for _, pattern := range lineNumberPatterns {
		if match := pattern.FindStringSubmatch(message); match != nil {
			n, err := strconv.Atoi(match[1])
			if err == nil {
				return n
			}
		}
	}
	return 0
}

func extractAssetRef(message string) string {
	if match := assetRefPattern.FindStringSubmatch(message); match != nil {
		return strings.TrimSpace(match[1])
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
