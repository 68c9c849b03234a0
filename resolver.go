package docflow

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// imageRefPattern matches markdown image syntax ![alt](path), including
// nested brackets in the alt text and an optional quoted title after the
// path.
var imageRefPattern = regexp.MustCompile(`(?s)(!\[(?:[^\[\]]|\[.*?\])*\])\(([^)]+)\)`)

// ImageRef is one image reference discovered in an input document.
type ImageRef struct {
	// OriginalPath is the path exactly as written in the markdown.
	OriginalPath string `json:"original_path"`

	// ResolvedPath is the absolute path the reference resolved to. Empty
	// when the reference is missing.
	ResolvedPath string `json:"resolved_path,omitempty"`

	// SourceFile is the base name of the input document containing the
	// reference.
	SourceFile string `json:"source_file"`
}

// ScanResult partitions the discovered references.
type ScanResult struct {
	Found   []ImageRef
	Missing []ImageRef
}

// ExtractImageRefs returns the image reference paths in content, in document
// order, with any quoted title stripped.
func ExtractImageRefs(content string) []string {
	var refs []string
	for _, match := range imageRefPattern.FindAllStringSubmatch(content, -1) {
		path := stripRefTitle(match[2])
		if path != "" {
			refs = append(refs, path)
		}
	}
	return refs
}

// stripRefTitle removes an optional quoted title from a captured reference,
// e.g. `path.png "Title"` becomes `path.png`.
func stripRefTitle(raw string) string {
	path := strings.TrimSpace(raw)
	for _, quote := range []string{`"`, `'`} {
		if idx := strings.Index(path, " "+quote); idx >= 0 {
			path = path[:idx]
			break
		}
	}
	return strings.TrimSpace(path)
}

// IsExternalURL reports whether a reference points at a remote image. Remote
// references are left untouched by the resolver.
func IsExternalURL(path string) bool {
	return strings.HasPrefix(path, "https://") || strings.HasPrefix(path, "http://")
}

// ResolverOptions configures an asset Resolver.
type ResolverOptions struct {
	// InputsDir holds the input documents; relative references resolve
	// against it. Required.
	InputsDir string

	// AssetsDir is where found images are copied. Required.
	AssetsDir string

	// AllowedBase constrains absolute references and symlink targets. An
	// empty value allows any existing absolute path.
	AllowedBase string

	Logger *slog.Logger
}

// Resolver locates image references in input documents, copies the ones it
// can find into the session assets directory, and rewrites references to
// session-local paths.
type Resolver struct {
	inputsDir   string
	assetsDir   string
	allowedBase string
	logger      *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(opts ResolverOptions) (*Resolver, error) {
	if opts.InputsDir == "" || opts.AssetsDir == "" {
		return nil, fmt.Errorf("inputs and assets directories are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{
		inputsDir:   opts.InputsDir,
		assetsDir:   opts.AssetsDir,
		allowedBase: opts.AllowedBase,
		logger:      opts.Logger,
	}, nil
}

// ResolvePath resolves one reference. URLs, missing files, and paths that
// escape the allowed base all return ok=false; only URLs are silent, the
// rest are logged.
func (r *Resolver) ResolvePath(ref string) (string, bool) {
	if ref == "" || IsExternalURL(ref) {
		return "", false
	}
	var candidate string
	if filepath.IsAbs(ref) {
		candidate = ref
	} else {
		candidate = filepath.Join(r.inputsDir, ref)
	}
	abs, err := filepath.Abs(candidate)
	if err != nil {
		r.logger.Warn("failed to resolve image path", "ref", ref, "error", err)
		return "", false
	}
	if r.allowedBase != "" && !pathWithin(abs, r.allowedBase) {
		r.logger.Warn("image path escapes allowed base", "ref", ref, "resolved", abs)
		return "", false
	}
	if _, err := os.Stat(abs); err != nil {
		r.logger.Debug("image file not found", "ref", ref, "resolved", abs)
		return "", false
	}
	// A symlink inside the base must not point outside it.
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		r.logger.Warn("failed to resolve image symlink", "ref", ref, "error", err)
		return "", false
	}
	if r.allowedBase != "" && !pathWithin(resolved, r.allowedBase) {
		r.logger.Warn("symlink target escapes allowed base", "ref", ref, "target", resolved)
		return "", false
	}
	return abs, true
}

// Scan reads every input file and classifies each image reference as found
// or missing. References are deduplicated per source file.
func (r *Resolver) Scan(inputFiles []string) (*ScanResult, error) {
	result := &ScanResult{}
	for _, inputFile := range inputFiles {
		sourceName := filepath.Base(inputFile)
		content, err := os.ReadFile(filepath.Join(r.inputsDir, sourceName))
		if err != nil {
			return nil, fmt.Errorf("failed to read input file %s: %w", sourceName, err)
		}
		seen := map[string]bool{}
		for _, ref := range ExtractImageRefs(string(content)) {
			if seen[ref] || IsExternalURL(ref) {
				continue
			}
			seen[ref] = true
			if resolved, ok := r.ResolvePath(ref); ok {
				result.Found = append(result.Found, ImageRef{
					OriginalPath: ref,
					ResolvedPath: resolved,
					SourceFile:   sourceName,
				})
			} else {
				result.Missing = append(result.Missing, ImageRef{
					OriginalPath: ref,
					SourceFile:   sourceName,
				})
			}
		}
	}
	r.logger.Info("asset scan complete",
		"found", len(result.Found), "missing", len(result.Missing))
	return result, nil
}

// CopyFoundImages copies each found image into the assets directory under
// its base name and returns original path to base name for everything that
// copied. On base name collisions the last copy wins.
func (r *Resolver) CopyFoundImages(found []ImageRef) map[string]string {
	copied := map[string]string{}
	for _, ref := range found {
		basename := filepath.Base(ref.ResolvedPath)
		dest := filepath.Join(r.assetsDir, basename)
		if err := copyFile(ref.ResolvedPath, dest); err != nil {
			r.logger.Warn("failed to copy image",
				"path", ref.ResolvedPath, "source_file", ref.SourceFile, "error", err)
			continue
		}
		copied[ref.OriginalPath] = basename
	}
	r.logger.Info("copied images to assets", "count", len(copied))
	return copied
}

// RewriteRefsInContent replaces image references whose path equals
// originalPath with ./assets/basename. Alt text is preserved exactly.
func RewriteRefsInContent(content, originalPath, basename string) string {
	out := content
	for _, match := range imageRefPattern.FindAllStringSubmatch(content, -1) {
		altPart, pathPart := match[1], match[2]
		if stripRefTitle(pathPart) != originalPath {
			continue
		}
		oldSyntax := fmt.Sprintf("%s(%s)", altPart, pathPart)
		newSyntax := fmt.Sprintf("%s(./assets/%s)", altPart, basename)
		out = strings.Replace(out, oldSyntax, newSyntax, 1)
	}
	return out
}

// RewriteInputFiles rewrites the copied references in each source file,
// preserving CRLF line endings. Returns rewritten-ref counts per file.
func (r *Resolver) RewriteInputFiles(found []ImageRef, copied map[string]string) map[string]int {
	byFile := map[string][]ImageRef{}
	for _, ref := range found {
		byFile[ref.SourceFile] = append(byFile[ref.SourceFile], ref)
	}

	counts := map[string]int{}
	for sourceFile, refs := range byFile {
		path := filepath.Join(r.inputsDir, sourceFile)
		raw, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn("input file missing, skipping rewrite", "file", sourceFile)
			continue
		}
		hasCRLF := bytes.Contains(raw, []byte("\r\n"))
		content := string(raw)

		rewritten := 0
		for _, ref := range refs {
			basename, ok := copied[ref.OriginalPath]
			if !ok {
				continue
			}
			next := RewriteRefsInContent(content, ref.OriginalPath, basename)
			if next != content {
				asset := "./assets/" + basename
				rewritten += strings.Count(next, asset) - strings.Count(content, asset)
				content = next
			}
		}
		if rewritten == 0 {
			continue
		}
		if err := writePreservingCRLF(path, content, hasCRLF); err != nil {
			r.logger.Warn("failed to rewrite input file", "file", sourceFile, "error", err)
			continue
		}
		counts[sourceFile] = rewritten
		r.logger.Debug("rewrote image refs", "file", sourceFile, "count", rewritten)
	}
	return counts
}

// ApplyScanResults copies found images and rewrites their references in the
// input files. It is idempotent: a second run over the same inputs is a
// no-op.
func (r *Resolver) ApplyScanResults(found []ImageRef) (copied int, rewritten int) {
	copyResults := r.CopyFoundImages(found)
	counts := r.RewriteInputFiles(found, copyResults)
	for _, n := range counts {
		rewritten += n
	}
	return len(copyResults), rewritten
}

// InsertPlaceholder replaces every image reference to identifier in the
// target file with the literal missing-image marker. Returns the number of
// references replaced.
func (r *Resolver) InsertPlaceholder(targetPath, identifier string) (int, error) {
	raw, err := os.ReadFile(targetPath)
	if err != nil {
		return 0, fmt.Errorf("target file not found: %w", err)
	}
	hasCRLF := bytes.Contains(raw, []byte("\r\n"))
	content := string(raw)

	basename := filepath.Base(identifier)
	pattern := regexp.MustCompile(`!\[[^\]]*\]\(\s*` + regexp.QuoteMeta(identifier) + `\s*\)`)
	placeholder := MissingImagePlaceholder(basename)
	next := pattern.ReplaceAllString(content, placeholder)
	if next == content {
		r.logger.Warn("no matching image ref for placeholder",
			"identifier", identifier, "file", targetPath)
		return 0, nil
	}
	if err := writePreservingCRLF(targetPath, next, hasCRLF); err != nil {
		return 0, err
	}
	count := strings.Count(next, placeholder) - strings.Count(content, placeholder)
	r.logger.Info("placeholder inserted", "identifier", identifier, "count", count)
	return count, nil
}

// HandleUpload validates a user-supplied replacement file, copies it into
// assets, and points the reference in the source file at it.
func (r *Resolver) HandleUpload(uploadPath, identifier, sourceFile string) (string, error) {
	abs, err := filepath.Abs(uploadPath)
	if err != nil {
		return "", fmt.Errorf("invalid upload path: %w", err)
	}
	if r.allowedBase != "" && !pathWithin(abs, r.allowedBase) {
		return "", &SecurityError{Path: uploadPath, Base: r.allowedBase}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("upload file not found: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("upload path is not a regular file: %s", uploadPath)
	}

	basename := filepath.Base(abs)
	if err := copyFile(abs, filepath.Join(r.assetsDir, basename)); err != nil {
		return "", fmt.Errorf("failed to copy upload: %w", err)
	}

	sourcePath := filepath.Join(r.inputsDir, filepath.Base(sourceFile))
	raw, err := os.ReadFile(sourcePath)
	if err != nil {
		return "", fmt.Errorf("source file not found for ref update: %w", err)
	}
	hasCRLF := bytes.Contains(raw, []byte("\r\n"))
	next := RewriteRefsInContent(string(raw), identifier, basename)
	if err := writePreservingCRLF(sourcePath, next, hasCRLF); err != nil {
		return "", err
	}
	r.logger.Info("upload applied", "identifier", identifier, "asset", basename)
	return "./assets/" + basename, nil
}

// MissingImagePlaceholder is the literal inserted where a missing image was
// referenced.
func MissingImagePlaceholder(basename string) string {
	return fmt.Sprintf("**[Image Missing: %s]**", basename)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// writePreservingCRLF writes content back to path, restoring CRLF line
// endings when the original file used them.
func writePreservingCRLF(path, content string, hasCRLF bool) error {
	if hasCRLF {
		content = strings.ReplaceAll(content, "\r\n", "\n")
		content = strings.ReplaceAll(content, "\n", "\r\n")
	}
	return os.WriteFile(path, []byte(content), 0644)
}
