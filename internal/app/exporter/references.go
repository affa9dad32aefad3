package exporter

import (
	"context"
	"html"
	"regexp"
	"strings"

	worlddomain "github.com/sleroq/world-to-obsidian/internal/domain/world"
)

var (
	imgSrcPattern    = regexp.MustCompile(`<img [^>]*src=\\?"([^"\\]+)\\?"`)
	uuidRefPattern   = regexp.MustCompile(`@UUID\[([^\]]+)\]\{([^}]+)\}`)
	rollMacroPattern = regexp.MustCompile(`\[\[([^\x{00AD}}]+)\{([^}]+)\}`)
)

// richText prepares a rich-text field for a page: dependencies are copied
// into the vault, the body is optionally converted to Markdown, and
// document references are annotated.
func (r *exportRun) richText(ctx context.Context, raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	text := r.localizeDependencies(ctx, raw, r.root)
	if r.converter != nil {
		text = r.toMarkdown(text)
	}
	return rewriteReferences(text)
}

// localizeDependencies copies every local <img> source into
// <root>/_Deps/<relFolder> and points the tag at the copy. Remote and data
// sources are left alone. Each distinct source is fetched once per call.
func (r *exportRun) localizeDependencies(ctx context.Context, content, root string) string {
	matches := imgSrcPattern.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return content
	}

	rewritten := map[string]string{}
	var b strings.Builder
	b.Grow(len(content))
	last := 0
	for _, m := range matches {
		srcStart, srcEnd := m[2], m[3]
		src := content[srcStart:srcEnd]

		target, seen := rewritten[src]
		if !seen {
			target = r.localizeDependency(ctx, src, root)
			rewritten[src] = target
		}
		b.WriteString(content[last:srcStart])
		b.WriteString(target)
		last = srcEnd
	}
	b.WriteString(content[last:])
	return b.String()
}

// localizeDependency fetches one source and returns the src value to write
// back. Sources that must not be copied come back unchanged.
func (r *exportRun) localizeDependency(ctx context.Context, src, root string) string {
	if !isLocalSource(src) {
		return src
	}
	clean := strings.TrimPrefix(stripQuery(src), "/")
	filename := clean
	relFolder := ""
	if i := strings.LastIndex(clean, "/"); i >= 0 {
		relFolder = clean[:i]
		filename = clean[i+1:]
	}
	if filename == "" || hasParentSegment(clean) {
		r.log.Warn("dependency not localized", "source", src)
		return src
	}

	r.uploadBinary(ctx, stripQuery(src), filename, worlddomain.VaultPath(root, depsFolder, relFolder), false)
	return worlddomain.VaultPath(depsFolder, relFolder, filename)
}

// rewriteReferences turns @UUID citations and inline roll macros into code
// spans that keep the raw reference as a tooltip.
func rewriteReferences(content string) string {
	content = uuidRefPattern.ReplaceAllStringFunc(content, func(m string) string {
		sub := uuidRefPattern.FindStringSubmatch(m)
		return codeSpan(sub[1], sub[2])
	})
	content = rollMacroPattern.ReplaceAllStringFunc(content, func(m string) string {
		sub := rollMacroPattern.FindStringSubmatch(m)
		formula := []rune(sub[1])
		if len(formula) >= 2 {
			formula = formula[:len(formula)-2]
		} else {
			formula = nil
		}
		return codeSpan(string(formula), sub[2])
	})
	return content
}

func codeSpan(title, label string) string {
	return `<code title="` + html.EscapeString(title) + `">` + label + `</code>`
}

// uploadBinary copies source into folder/filename. Failures are logged and
// counted as broken assets; the caller keeps its reference either way.
func (r *exportRun) uploadBinary(ctx context.Context, source, filename, folder string, overwrite bool) bool {
	data, ok := r.fetchBinary(ctx, source)
	if !ok {
		return false
	}
	return r.storeBinary(ctx, data, source, filename, folder, overwrite)
}

func (r *exportRun) fetchBinary(ctx context.Context, source string) ([]byte, bool) {
	data, err := r.storage.FetchBinary(ctx, source)
	if err != nil {
		r.summary.BrokenAssets++
		r.log.Warn("could not retrieve file", "source", source, "error", err)
		return nil, false
	}
	return data, true
}

func (r *exportRun) storeBinary(ctx context.Context, data []byte, source, filename, folder string, overwrite bool) bool {
	if err := r.storage.UploadFile(ctx, data, filename, folder, overwrite); err != nil {
		r.summary.BrokenAssets++
		r.log.Warn("could not store file", "source", source, "folder", folder, "file", filename, "error", err)
		return false
	}
	r.summary.Files++
	return true
}

func isRemoteSource(src string) bool {
	return strings.HasPrefix(strings.ToLower(src), "http")
}

func isLocalSource(src string) bool {
	lower := strings.ToLower(strings.TrimSpace(src))
	switch {
	case lower == "":
		return false
	case strings.HasPrefix(lower, "http:"), strings.HasPrefix(lower, "https:"):
		return false
	case strings.HasPrefix(lower, "data:"), strings.HasPrefix(lower, "//"):
		return false
	}
	return true
}

func stripQuery(src string) string {
	if i := strings.IndexAny(src, "?#"); i >= 0 {
		return src[:i]
	}
	return src
}

func hasParentSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}
