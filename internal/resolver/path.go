package resolver

import (
	"path"
	"strings"

	"github.com/unidrive/core/pkg/errors"
)

// normalizeVirtualPath cleans a user-supplied virtual path: collapses
// repeated slashes and "." / ".." segments, forces a single leading slash,
// strips any trailing slash (except the root itself), and rejects control
// characters and NUL bytes. Unlike path.Clean alone, ".." can never walk
// above the virtual root — path.Clean already keeps an absolute path
// rooted, so this function's only added job is the character check and the
// "always return with a leading slash" contract the mount table depends on.
func normalizeVirtualPath(p string) (string, error) {
	for _, r := range p {
		if r == 0 || r < 0x20 {
			return "", errors.New(errors.Unsupported, "virtual path contains a control character").WithPath(p)
		}
	}

	if p == "" {
		p = "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	cleaned := path.Clean(p)
	if cleaned == "." {
		cleaned = "/"
	}
	return cleaned, nil
}

// hasPathPrefix reports whether mountPath is virtualPath itself or one of
// its ancestors, honoring path-segment boundaries: "/cloud2" must not match
// under mount "/cloud".
func hasPathPrefix(virtualPath, mountPath string) bool {
	if mountPath == "/" {
		return true
	}
	if !strings.HasPrefix(virtualPath, mountPath) {
		return false
	}
	rest := virtualPath[len(mountPath):]
	return rest == "" || strings.HasPrefix(rest, "/")
}

// firstSegmentBelow returns the first path segment of descendant that lies
// strictly below ancestor, e.g. firstSegmentBelow("/cloud", "/cloud/backup/daily")
// == "backup". The caller must already know ancestor is a (possibly equal)
// prefix of descendant's parent chain.
func firstSegmentBelow(ancestor, descendant string) (string, bool) {
	if !hasPathPrefix(descendant, ancestor) {
		return "", false
	}
	if descendant == ancestor {
		return "", false
	}
	rest := strings.TrimPrefix(descendant, ancestor)
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		return "", false
	}
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return rest[:idx], true
	}
	return rest, true
}

// innerPath computes the driver-relative path once virtualPath is known to
// resolve at or below mountPath.
func innerPath(virtualPath, mountPath string) string {
	if mountPath == "/" {
		if virtualPath == "/" {
			return "/"
		}
		return virtualPath
	}
	rest := strings.TrimPrefix(virtualPath, mountPath)
	if rest == "" {
		return "/"
	}
	return rest
}
