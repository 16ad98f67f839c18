package bep

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Stream yields the events of one build in stream order. Next returns
// io.EOF once the stream is exhausted. BytesConsumed reports how many bytes
// of protocol data have been decoded so far.
type Stream interface {
	Next() (*Event, error)
	BytesConsumed() int64
}

// ErrDecode marks an undecodable record in the underlying transport.
var ErrDecode = errors.New("bep: malformed record")

// Format selects the framing of a BEP file.
type Format int

const (
	// FormatBinary is varint-length-delimited protobuf BuildEvent messages.
	FormatBinary Format = iota
	// FormatJSON is one proto3-JSON BuildEvent per line.
	FormatJSON
)

func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "binary"
}

// SliceStream serves events from memory.
type SliceStream struct {
	events []*Event
	pos    int
	size   int64
}

// NewSliceStream returns a stream over events. Each event counts as one
// byte consumed so callers can observe progress.
func NewSliceStream(events ...*Event) *SliceStream {
	return &SliceStream{events: events}
}

func (s *SliceStream) Next() (*Event, error) {
	if s.pos >= len(s.events) {
		return nil, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	s.size++
	return ev, nil
}

func (s *SliceStream) BytesConsumed() int64 { return s.size }

// FileStream is a Stream backed by an open file. Close releases the file
// and any decompressor.
type FileStream struct {
	Stream
	Path    string
	Format  Format
	closers []io.Closer
}

// Close closes the decompressor (if any) and the file.
func (f *FileStream) Close() error {
	var errs []error
	for i := len(f.closers) - 1; i >= 0; i-- {
		if err := f.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

type closerFunc func() error

func (fn closerFunc) Close() error { return fn() }

// Open opens a BEP file. gzip and zstd compression are detected from the
// leading magic bytes; the framing is inferred from the file name with any
// compression suffix removed (.json, .jsonl and .ndjson select JSON,
// anything else binary).
func Open(path string) (*FileStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bep file: %w", err)
	}
	fs := &FileStream{Path: path, Format: FormatFromName(path), closers: []io.Closer{f}}

	br := bufio.NewReaderSize(f, 64*1024)
	head, _ := br.Peek(4)
	var r io.Reader = br
	switch {
	case bytes.HasPrefix(head, zstdMagic):
		zr, zerr := zstd.NewReader(br)
		if zerr != nil {
			fs.Close()
			return nil, fmt.Errorf("zstd reader: %w", zerr)
		}
		fs.closers = append(fs.closers, closerFunc(func() error { zr.Close(); return nil }))
		r = zr
	case bytes.HasPrefix(head, gzipMagic):
		gr, gerr := gzip.NewReader(br)
		if gerr != nil {
			fs.Close()
			return nil, fmt.Errorf("gzip reader: %w", gerr)
		}
		fs.closers = append(fs.closers, gr)
		r = gr
	}

	if fs.Format == FormatJSON {
		fs.Stream = NewJSONStream(r)
	} else {
		fs.Stream = NewProtoStream(r)
	}
	return fs, nil
}

// FormatFromName infers the framing from a file name.
func FormatFromName(name string) Format {
	base := strings.ToLower(filepath.Base(name))
	for _, suffix := range []string{".gz", ".zst", ".zstd"} {
		base = strings.TrimSuffix(base, suffix)
	}
	switch filepath.Ext(base) {
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatBinary
	}
}
