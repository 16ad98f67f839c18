package artifact

import (
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/DeusData/bep-artifacts-mcp/internal/bep"
)

// Parser converts one raw file record into an artifact. ok is false when the
// record cannot be represented; such records are dropped by callers.
type Parser func(f *bep.File, mnemonic string, syncStart time.Time) (a OutputArtifact, ok bool)

// outputRoots are the symlink names build tools use for the output root.
// The first path prefix component is dropped when it is one of these.
var outputRoots = map[string]bool{
	"bazel-out": true,
	"blaze-out": true,
}

var remoteSchemes = map[string]bool{
	"bytestream": true,
	"http":       true,
	"https":      true,
}

// Parse is the default Parser. Records with inline contents, symlink
// targets, no URI, an unparseable URI, or an unknown scheme are rejected.
func Parse(f *bep.File, mnemonic string, syncStart time.Time) (OutputArtifact, bool) {
	if f == nil || f.URI == "" {
		return nil, false
	}
	key, ok := RelativePath(f)
	if !ok {
		return nil, false
	}
	u, err := url.Parse(f.URI)
	if err != nil {
		return nil, false
	}
	b := base{
		key:       key,
		mnemonic:  mnemonic,
		syncStart: syncStart,
		digest:    f.Digest,
		length:    f.Length,
	}
	switch {
	case u.Scheme == "file":
		if u.Path == "" {
			return nil, false
		}
		return &LocalFile{base: b, path: u.Path}, true
	case remoteSchemes[u.Scheme]:
		return &Remote{base: b, uri: f.URI}, true
	default:
		return nil, false
	}
}

// RelativePath returns the output-root-relative path of a file record: the
// path prefix (minus a leading output root component) joined with the name.
func RelativePath(f *bep.File) (string, bool) {
	if f.Name == "" {
		return "", false
	}
	prefix := f.PathPrefix
	if len(prefix) > 0 && outputRoots[prefix[0]] {
		prefix = prefix[1:]
	}
	parts := make([]string, 0, len(prefix)+1)
	parts = append(parts, prefix...)
	parts = append(parts, f.Name)
	rel := path.Join(parts...)
	if rel == "." || path.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}
