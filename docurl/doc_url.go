// Package docurl implements parsing of the gateway's remotedoc:// URL
// scheme.
//
// A gateway URL has the form remotedoc://<owner>/<repo>/<branch>/<path...>
// and addresses one file of one tracked repository. Parse returns the
// slash separated body of the URL after percent-decoding and lexical
// normalisation, callers pass it straight to the filesystem so all the
// traversal and control-character checks happen here, before any I/O.
package docurl

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Scheme is the URL scheme served by the gateway. Matching is
// case-sensitive.
const Scheme = "remotedoc://"

// ErrInvalidURL is returned for any URL that does not parse to a safe
// repository-relative path.
var ErrInvalidURL = errors.New("invalid remotedoc URL")

// Parse parses a remotedoc:// URL and extracts the file path.
//
// The returned path is percent-decoded and normalised: no leading or
// trailing slashes, no empty, "." or ".." segments.
func Parse(rawURL string) (string, error) {
	if rawURL == "" {
		return "", fmt.Errorf("%w: URL cannot be empty", ErrInvalidURL)
	}

	rawURL = strings.TrimSpace(rawURL)

	if !strings.HasPrefix(rawURL, Scheme) {
		return "", fmt.Errorf("%w: must start with %q, got: %q", ErrInvalidURL, Scheme, rawURL)
	}

	path := rawURL[len(Scheme):]
	if path == "" {
		return "", fmt.Errorf("%w: URL must include a file path after %q", ErrInvalidURL, Scheme)
	}

	decoded, err := url.PathUnescape(path)
	if err != nil {
		return "", fmt.Errorf("%w: failed to decode URL err:%v", ErrInvalidURL, err)
	}

	path = NormalizePath(decoded)

	if !isValidPath(path) {
		return "", fmt.Errorf("%w: invalid file path: %q", ErrInvalidURL, path)
	}

	return path, nil
}

// Build assembles a remotedoc:// URL for the given repository identity and
// repository-relative path.
func Build(owner, repo, branch, path string) string {
	return fmt.Sprintf("%s%s/%s/%s/%s", Scheme, owner, repo, branch, path)
}

// NormalizePath collapses redundant slashes and resolves "." and ".."
// segments lexically. A ".." that would rise above the root is dropped.
// The filesystem is never consulted, symlinks are not followed.
func NormalizePath(path string) string {
	path = strings.Trim(path, "/")

	var parts []string
	for part := range strings.SplitSeq(path, "/") {
		switch part {
		case "", ".":
			// empty segments are runs of slashes
		case "..":
			if len(parts) > 0 {
				parts = parts[:len(parts)-1]
			}
		default:
			parts = append(parts, part)
		}
	}

	return strings.Join(parts, "/")
}

// isValidPath rejects anything unsafe to hand to the filesystem. By
// construction NormalizePath cannot emit these, checked anyway.
func isValidPath(path string) bool {
	if path == "" {
		return false
	}

	if strings.Contains(path, "..") {
		return false
	}

	if strings.HasPrefix(path, "/") {
		return false
	}

	for _, c := range []string{"\x00", "\r", "\n"} {
		if strings.Contains(path, c) {
			return false
		}
	}

	return true
}
