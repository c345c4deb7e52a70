// Package markdown rewrites relative file references in Markdown bodies
// into absolute remotedoc:// URLs so that clients can follow links between
// documents through the same read surface.
package markdown

import (
	"regexp"
	"strings"

	"github.com/remotedoc/gateway/docurl"
)

var (
	// [text](dest) or [text](dest "title"), dest part may not contain ')'
	inlineLinkRgx = regexp.MustCompile(`(?s)\[([^\]]*)\]\(([^)]+)\)`)

	// splits the inside of the parens into destination and optional
	// quoted title. output always uses double quotes
	destTitleRgx = regexp.MustCompile(`^([^\s"'<>]+)(?:\s+["']([^"']*)["'])?$`)

	// [ref]: dest or [ref]: dest "title", anchored at line start with
	// the indentation preserved
	refLinkRgx = regexp.MustCompile(`(?m)^([ \t]*)\[([^\]]+)\]:[ \t]+([^\s"']+)(?:[ \t]+["']([^"']*)["'])?[ \t]*$`)

	// scheme = [A-Za-z][A-Za-z0-9+.-]*
	absoluteURLRgx = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)
)

// RewriteRelativeLinks rewrites every relative destination of inline links
// and reference definitions in body to an absolute
// remotedoc://owner/repo/branch/<path> URL. currentPath is the
// repository-relative path of the document being read and anchors the
// resolution of relative destinations.
//
// Destinations that are already absolute URLs (scheme://, protocol-relative
// // or mailto:), already remotedoc:// URLs, root-absolute paths, anchors
// (#...) or empty are left verbatim. The body is scanned as raw text, so
// link-looking syntax inside fenced code blocks is rewritten as well.
func RewriteRelativeLinks(body, owner, repo, branch, currentPath string) string {
	if body == "" {
		return body
	}

	currentPath = strings.Trim(currentPath, "/")
	currentDir := ""
	if i := strings.LastIndex(currentPath, "/"); i >= 0 {
		currentDir = currentPath[:i]
	}

	rewrite := func(dest string) string {
		pathPart, suffix := splitDest(dest)

		// classified destinations are emitted unchanged. an empty
		// pathPart also covers anchor-only destinations, the fragment
		// moved into suffix
		switch {
		case pathPart == "":
			return dest
		case isAbsoluteURL(pathPart):
			return dest
		case strings.HasPrefix(pathPart, docurl.Scheme):
			return dest
		case strings.HasPrefix(pathPart, "/"):
			return dest
		}

		joined := pathPart
		if currentDir != "" {
			joined = currentDir + "/" + pathPart
		}

		return docurl.Build(owner, repo, branch, docurl.NormalizePath(joined)) + suffix
	}

	body = inlineLinkRgx.ReplaceAllStringFunc(body, func(m string) string {
		sub := inlineLinkRgx.FindStringSubmatch(m)
		text, inner := sub[1], sub[2]

		dm := destTitleRgx.FindStringSubmatch(inner)
		if dm == nil {
			// no parsable destination, treat the whole inside as one
			return "[" + text + "](" + rewrite(inner) + ")"
		}

		dest, title := dm[1], dm[2]
		if title != "" {
			return "[" + text + "](" + rewrite(dest) + ` "` + title + `")`
		}
		return "[" + text + "](" + rewrite(dest) + ")"
	})

	body = refLinkRgx.ReplaceAllStringFunc(body, func(m string) string {
		sub := refLinkRgx.FindStringSubmatch(m)
		indent, ref, dest, title := sub[1], sub[2], sub[3], sub[4]

		if title != "" {
			return indent + "[" + ref + "]: " + rewrite(dest) + ` "` + title + `"`
		}
		return indent + "[" + ref + "]: " + rewrite(dest)
	})

	return body
}

// splitDest splits a destination into its path component and the trailing
// ?query and/or #fragment, first occurrence of either wins.
func splitDest(dest string) (pathPart, suffix string) {
	if i := strings.IndexAny(dest, "?#"); i >= 0 {
		return dest[:i], dest[i:]
	}
	return dest, ""
}

func isAbsoluteURL(path string) bool {
	return absoluteURLRgx.MatchString(path) ||
		strings.HasPrefix(path, "//") ||
		strings.HasPrefix(path, "mailto:")
}
