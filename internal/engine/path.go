package engine

import (
	"path"
	"strings"
)

// hasPathPrefixLocal reports whether ancestor is a path-segment-respecting
// prefix of descendant, e.g. "/cloud" is a prefix of "/cloud/backup" but not
// of "/cloud2".
func hasPathPrefixLocal(descendant, ancestor string) bool {
	if ancestor == "/" {
		return true
	}
	if !strings.HasPrefix(descendant, ancestor) {
		return false
	}
	rest := descendant[len(ancestor):]
	return rest == "" || strings.HasPrefix(rest, "/")
}

// virtualJoin joins a directory and a child name into a virtual path,
// normalizing the result with path.Join's separator-collapsing rules.
func virtualJoin(dir, name string) string {
	return path.Join(dir, name)
}

// virtualParent returns the parent directory of a virtual path.
func virtualParent(p string) string {
	return path.Dir(p)
}
