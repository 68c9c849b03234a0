package docflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// HandlerFunc attempts an automatic fix for one classified error and returns
// an outcome string describing what was done. Fix failures are reported in
// the outcome, not as errors; the error return is for infrastructure
// problems only.
type HandlerFunc func(ctx context.Context, record ErrorRecord) (string, error)

// HandlerRegistry maps fix categories to handlers and applies them to the
// draft document.
type HandlerRegistry struct {
	handlers map[FixCategory]HandlerFunc
	logger   *slog.Logger
}

// HandlerRegistryOptions configures a HandlerRegistry.
type HandlerRegistryOptions struct {
	// DraftPath is the document the built-in fixers operate on. Required.
	DraftPath string

	Logger *slog.Logger
}

// NewHandlerRegistry creates a registry with the built-in fixers registered
// for every category. Unknown errors get a no-op handler.
func NewHandlerRegistry(opts HandlerRegistryOptions) (*HandlerRegistry, error) {
	if opts.DraftPath == "" {
		return nil, fmt.Errorf("draft path is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	f := &draftFixer{path: opts.DraftPath, logger: opts.Logger}
	r := &HandlerRegistry{
		handlers: map[FixCategory]HandlerFunc{},
		logger:   opts.Logger,
	}
	r.Register(FixCategorySyntax, f.FixUnclosedCodeBlock)
	r.Register(FixCategoryEncoding, f.FixInvalidUTF8)
	r.Register(FixCategoryAsset, f.InsertPlaceholders)
	r.Register(FixCategoryStructural, f.FixHeadingHierarchy)
	r.Register(FixCategoryUnknown, func(ctx context.Context, record ErrorRecord) (string, error) {
		return "No automatic fix available", nil
	})
	return r, nil
}

// Register sets the handler for a category, replacing any existing one.
func (r *HandlerRegistry) Register(category FixCategory, handler HandlerFunc) {
	r.handlers[category] = handler
}

// Dispatch runs the handler for the record's category.
func (r *HandlerRegistry) Dispatch(ctx context.Context, record ErrorRecord) (string, error) {
	handler, ok := r.handlers[record.Category]
	if !ok {
		return "No automatic fix available", nil
	}
	outcome, err := handler(ctx, record)
	if err != nil {
		return "", err
	}
	r.logger.Info("fix handler ran",
		"category", string(record.Category), "outcome", outcome)
	return outcome, nil
}

// draftFixer holds the built-in fix implementations over one draft file.
type draftFixer struct {
	path   string
	logger *slog.Logger
}

func (f *draftFixer) read() (string, string) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "Fix failed: draft not found"
		}
		return "", fmt.Sprintf("Fix failed: %v", err)
	}
	return string(data), ""
}

func (f *draftFixer) write(content string) string {
	if err := os.WriteFile(f.path, []byte(content), 0644); err != nil {
		return fmt.Sprintf("Fix failed: %v", err)
	}
	return ""
}

// FixUnclosedCodeBlock appends a closing fence when the draft has an odd
// number of ``` fences.
func (f *draftFixer) FixUnclosedCodeBlock(ctx context.Context, record ErrorRecord) (string, error) {
	content, fail := f.read()
	if fail != "" {
		return fail, nil
	}
	if strings.Count(content, "```")%2 == 0 {
		return "No unclosed code fence found", nil
	}
	if fail := f.write(strings.TrimRight(content, " \t\r\n") + "\n```\n"); fail != "" {
		return fail, nil
	}
	f.logger.Info("added closing code fence")
	return "Added closing code fence", nil
}

// FixInvalidUTF8 rewrites the draft with invalid byte sequences replaced by
// the Unicode replacement character.
func (f *draftFixer) FixInvalidUTF8(ctx context.Context, record ErrorRecord) (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "Fix failed: draft not found", nil
		}
		return fmt.Sprintf("Fix failed: %v", err), nil
	}
	content := strings.ToValidUTF8(string(data), "�")
	if fail := f.write(content); fail != "" {
		return fail, nil
	}
	return "Fixed invalid UTF-8 sequences", nil
}

var imageFixPattern = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)

// InsertPlaceholders replaces image references matching the record's asset
// reference with the missing-image placeholder. Without an asset reference
// it replaces every image.
func (f *draftFixer) InsertPlaceholders(ctx context.Context, record ErrorRecord) (string, error) {
	content, fail := f.read()
	if fail != "" {
		return fail, nil
	}

	assetRef := record.AssetRef
	replaceAll := assetRef == ""
	if replaceAll {
		assetRef = "unknown_asset"
	}
	placeholder := MissingImagePlaceholder(assetRef)

	count := 0
	next := imageFixPattern.ReplaceAllStringFunc(content, func(match string) string {
		path := imageFixPattern.FindStringSubmatch(match)[2]
		if replaceAll || imagePathMatches(path, assetRef) {
			count++
			return placeholder
		}
		return match
	})
	if count == 0 {
		return "No matching image reference found", nil
	}
	if fail := f.write(next); fail != "" {
		return fail, nil
	}
	f.logger.Info("replaced missing images", "asset_ref", assetRef, "count", count)
	return fmt.Sprintf("Replaced %d missing image(s) [%s] with placeholder", count, assetRef), nil
}

// imagePathMatches reports whether an image path refers to the asset, either
// as a substring, a suffix, or a path segment.
func imagePathMatches(path, assetRef string) bool {
	if strings.Contains(path, assetRef) || strings.HasSuffix(path, assetRef) {
		return true
	}
	for _, segment := range strings.Split(path, "/") {
		if segment == assetRef {
			return true
		}
	}
	return false
}

var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// FixHeadingHierarchy repairs skipped heading levels and clamps all headings
// to at most level 3. A jump of three or more levels is a skip and becomes
// the previous level plus one; H1 to H3 is allowed.
func (f *draftFixer) FixHeadingHierarchy(ctx context.Context, record ErrorRecord) (string, error) {
	content, fail := f.read()
	if fail != "" {
		return fail, nil
	}

	lines := strings.Split(content, "\n")
	previousLevel := 0
	skipCount := 0
	clampCount := 0

	for i, line := range lines {
		match := headingPattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		level := len(match[1])
		text := match[2]

		if level >= previousLevel+3 {
			next := min(previousLevel+1, level)
			next = min(next, 3)
			if next != level {
				skipCount++
				level = next
			}
		}
		if level > 3 {
			clampCount++
			level = 3
		}
		if level < 1 {
			level = 1
		}
		lines[i] = strings.Repeat("#", level) + " " + text
		previousLevel = level
	}

	if skipCount == 0 && clampCount == 0 {
		return "No heading hierarchy issues found", nil
	}
	if fail := f.write(strings.Join(lines, "\n")); fail != "" {
		return fail, nil
	}
	f.logger.Info("fixed heading hierarchy", "skips", skipCount, "clamps", clampCount)
	switch {
	case skipCount > 0 && clampCount > 0:
		return fmt.Sprintf("Fixed %d skipped level(s) and clamped %d level(s) to 3", skipCount, clampCount), nil
	case skipCount > 0:
		return fmt.Sprintf("Fixed %d skipped level(s)", skipCount), nil
	default:
		return fmt.Sprintf("Clamped %d heading(s) to level 3", clampCount), nil
	}
}
