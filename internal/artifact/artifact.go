// Package artifact models the output files a build reports and converts raw
// BEP file records into them.
package artifact

import (
	"time"
)

// OutputArtifact is a build output identified by its path relative to the
// output root (for example "k8-fastbuild/bin/app/app.jar"). Values are
// immutable once parsed.
type OutputArtifact interface {
	// Key is the artifact's identity: its output-root-relative path.
	Key() string
	// ConfigurationMnemonic is the mnemonic of the configuration that built it.
	ConfigurationMnemonic() string
	// SyncStartTime is the start time of the build that reported it.
	SyncStartTime() time.Time
	Digest() string
	Length() int64
	// Kind is "local" or "remote".
	Kind() string
}

type base struct {
	key       string
	mnemonic  string
	syncStart time.Time
	digest    string
	length    int64
}

func (b *base) Key() string                   { return b.key }
func (b *base) ConfigurationMnemonic() string { return b.mnemonic }
func (b *base) SyncStartTime() time.Time      { return b.syncStart }
func (b *base) Digest() string                { return b.digest }
func (b *base) Length() int64                 { return b.length }

// LocalFile is an artifact present on the local filesystem.
type LocalFile struct {
	base
	path string
}

// Path is the absolute local path of the file.
func (l *LocalFile) Path() string { return l.path }

func (l *LocalFile) Kind() string { return "local" }

// Remote is an artifact held by a remote cache or download service.
type Remote struct {
	base
	uri string
}

// URI is the fetch location, typically a bytestream:// URI.
func (r *Remote) URI() string { return r.uri }

func (r *Remote) Kind() string { return "remote" }

// NewLocalFile builds a LocalFile directly. Most callers get artifacts from
// Parse instead.
func NewLocalFile(key, localPath, mnemonic string, syncStart time.Time) *LocalFile {
	return &LocalFile{
		base: base{key: key, mnemonic: mnemonic, syncStart: syncStart},
		path: localPath,
	}
}
