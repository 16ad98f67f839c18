package bep

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// maxEventSize bounds a single delimited record; anything larger is treated
// as a framing error rather than an allocation request.
const maxEventSize = 256 << 20

// ProtoStream decodes varint-length-delimited BuildEvent protobuf messages,
// the format written by --build_event_binary_file. Only the fields the
// artifact model needs are decoded; everything else is skipped.
type ProtoStream struct {
	r        *bufio.Reader
	buf      []byte
	consumed int64
	records  int
}

// NewProtoStream returns a stream reading delimited messages from r.
func NewProtoStream(r io.Reader) *ProtoStream {
	return &ProtoStream{r: bufio.NewReaderSize(r, 256*1024)}
}

func (s *ProtoStream) BytesConsumed() int64 { return s.consumed }

func (s *ProtoStream) Next() (*Event, error) {
	size, err := binary.ReadUvarint(s.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: record %d: length prefix: %v", ErrDecode, s.records, err)
	}
	if size > maxEventSize {
		return nil, fmt.Errorf("%w: record %d: length %d exceeds limit", ErrDecode, s.records, size)
	}
	if cap(s.buf) < int(size) {
		s.buf = make([]byte, size)
	}
	msg := s.buf[:size]
	if _, err := io.ReadFull(s.r, msg); err != nil {
		return nil, fmt.Errorf("%w: record %d: truncated body: %v", ErrDecode, s.records, err)
	}
	s.consumed += int64(protowire.SizeVarint(size)) + int64(size)
	s.records++

	ev, err := decodeEvent(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: record %d: %v", ErrDecode, s.records-1, err)
	}
	return ev, nil
}

type wireField struct {
	num    protowire.Number
	typ    protowire.Type
	bytes  []byte
	varint uint64
}

func (f wireField) str() string { return string(f.bytes) }

// eachField walks the top-level fields of one message. Groups and fixed
// width fields are skipped.
func eachField(b []byte, fn func(f wireField) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		f := wireField{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.VarintType && typ != protowire.BytesType {
			continue
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func decodeEvent(b []byte) (*Event, error) {
	ev := &Event{}
	err := eachField(b, func(f wireField) (err error) {
		switch f.num {
		case 1:
			ev.ID, err = decodeID(f.bytes)
		case 20:
			ev.LastMessage = f.varint != 0
		case 5:
			ev.Started, err = decodeStarted(f.bytes)
		case 25:
			ev.WorkspaceInfo = &WorkspaceConfig{}
			err = eachField(f.bytes, func(g wireField) error {
				if g.num == 1 {
					ev.WorkspaceInfo.LocalExecRoot = g.str()
				}
				return nil
			})
		case 16:
			ev.WorkspaceStatus, err = decodeWorkspaceStatus(f.bytes)
		case 17:
			ev.Configuration, err = decodeConfiguration(f.bytes)
		case 15:
			ev.NamedSetOfFiles, err = decodeNamedSet(f.bytes)
		case 8:
			ev.Completed, err = decodeTargetComplete(f.bytes)
		case 7:
			ev.Action, err = decodeAction(f.bytes)
		case 14:
			ev.Finished, err = decodeFinished(f.bytes)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeID(b []byte) (ID, error) {
	id := ID{Kind: KindOther}
	err := eachField(b, func(f wireField) (err error) {
		switch f.num {
		case 3:
			id.Kind = KindStarted
		case 23:
			id.Kind = KindWorkspace
		case 14:
			id.Kind = KindWorkspaceStatus
		case 5:
			id.Kind = KindBuildFinished
		case 15:
			id.Kind = KindConfiguration
			id.Configuration = &ConfigurationID{}
			id.Configuration.ID, err = decodeStringField(f.bytes, 1)
		case 13:
			id.Kind = KindNamedSet
			id.NamedSet = &NamedSetOfFilesID{}
			id.NamedSet.ID, err = decodeStringField(f.bytes, 1)
		case 6:
			id.Kind = KindTargetCompleted
			id.TargetCompleted = &TargetCompletedID{}
			err = eachField(f.bytes, func(g wireField) (err error) {
				switch g.num {
				case 1:
					id.TargetCompleted.Label = g.str()
				case 2:
					id.TargetCompleted.Aspect = g.str()
				case 3:
					c := &ConfigurationID{}
					c.ID, err = decodeStringField(g.bytes, 1)
					id.TargetCompleted.Configuration = c
				}
				return err
			})
		case 7:
			id.Kind = KindActionCompleted
			id.ActionCompleted = &ActionCompletedID{}
			err = eachField(f.bytes, func(g wireField) (err error) {
				switch g.num {
				case 1:
					id.ActionCompleted.PrimaryOutput = g.str()
				case 3:
					id.ActionCompleted.Label = g.str()
				case 2:
					c := &ConfigurationID{}
					c.ID, err = decodeStringField(g.bytes, 1)
					id.ActionCompleted.Configuration = c
				}
				return err
			})
		}
		return err
	})
	return id, err
}

// decodeStringField returns the last value of string field num in b.
func decodeStringField(b []byte, num protowire.Number) (string, error) {
	var out string
	err := eachField(b, func(f wireField) error {
		if f.num == num {
			out = f.str()
		}
		return nil
	})
	return out, err
}

func decodeStarted(b []byte) (*BuildStarted, error) {
	s := &BuildStarted{}
	err := eachField(b, func(f wireField) error {
		switch f.num {
		case 1:
			s.UUID = f.str()
		case 2:
			s.StartTimeMillis = int64(f.varint)
		case 3:
			s.BuildToolVersion = f.str()
		case 5:
			s.Command = f.str()
		case 6:
			s.WorkingDirectory = f.str()
		case 9:
			var secs, nanos int64
			if err := eachField(f.bytes, func(g wireField) error {
				switch g.num {
				case 1:
					secs = int64(g.varint)
				case 2:
					nanos = int64(int32(g.varint))
				}
				return nil
			}); err != nil {
				return err
			}
			s.StartTime = time.Unix(secs, nanos)
		}
		return nil
	})
	return s, err
}

func decodeWorkspaceStatus(b []byte) (*WorkspaceStatus, error) {
	ws := &WorkspaceStatus{}
	err := eachField(b, func(f wireField) error {
		if f.num != 1 {
			return nil
		}
		var item WorkspaceStatusItem
		if err := eachField(f.bytes, func(g wireField) error {
			switch g.num {
			case 1:
				item.Key = g.str()
			case 2:
				item.Value = g.str()
			}
			return nil
		}); err != nil {
			return err
		}
		ws.Items = append(ws.Items, item)
		return nil
	})
	return ws, err
}

func decodeConfiguration(b []byte) (*Configuration, error) {
	c := &Configuration{}
	err := eachField(b, func(f wireField) error {
		switch f.num {
		case 1:
			c.Mnemonic = f.str()
		case 2:
			c.PlatformName = f.str()
		case 3:
			c.CPU = f.str()
		case 5:
			c.IsTool = f.varint != 0
		}
		return nil
	})
	return c, err
}

func decodeNamedSet(b []byte) (*NamedSetOfFiles, error) {
	ns := &NamedSetOfFiles{}
	err := eachField(b, func(f wireField) error {
		switch f.num {
		case 1:
			file, err := decodeFile(f.bytes)
			if err != nil {
				return err
			}
			ns.Files = append(ns.Files, file)
		case 2:
			id, err := decodeStringField(f.bytes, 1)
			if err != nil {
				return err
			}
			ns.FileSets = append(ns.FileSets, NamedSetOfFilesID{ID: id})
		}
		return nil
	})
	return ns, err
}

func decodeFile(b []byte) (*File, error) {
	file := &File{}
	err := eachField(b, func(f wireField) error {
		switch f.num {
		case 8:
			file.PathPrefix = append(file.PathPrefix, f.str())
		case 1:
			file.Name = f.str()
		case 2:
			file.URI = f.str()
		case 3:
			file.Contents = append([]byte(nil), f.bytes...)
		case 7:
			file.SymlinkTargetPath = f.str()
		case 4:
			file.Digest = f.str()
		case 5:
			file.Length = int64(f.varint)
		}
		return nil
	})
	return file, err
}

func decodeTargetComplete(b []byte) (*TargetComplete, error) {
	tc := &TargetComplete{}
	err := eachField(b, func(f wireField) error {
		switch f.num {
		case 1:
			tc.Success = f.varint != 0
		case 3:
			tc.Tags = append(tc.Tags, f.str())
		case 2:
			var og OutputGroup
			if err := eachField(f.bytes, func(g wireField) error {
				switch g.num {
				case 1:
					og.Name = g.str()
				case 3:
					id, err := decodeStringField(g.bytes, 1)
					if err != nil {
						return err
					}
					og.FileSets = append(og.FileSets, NamedSetOfFilesID{ID: id})
				case 4:
					og.Incomplete = g.varint != 0
				}
				return nil
			}); err != nil {
				return err
			}
			tc.OutputGroup = append(tc.OutputGroup, og)
		}
		return nil
	})
	return tc, err
}

func decodeAction(b []byte) (*ActionExecuted, error) {
	a := &ActionExecuted{}
	err := eachField(b, func(f wireField) error {
		switch f.num {
		case 1:
			a.Success = f.varint != 0
		case 2:
			a.ExitCode = int32(f.varint)
		case 5:
			a.Label = f.str()
		case 8:
			a.Type = f.str()
		}
		return nil
	})
	return a, err
}

func decodeFinished(b []byte) (*BuildFinished, error) {
	bf := &BuildFinished{}
	err := eachField(b, func(f wireField) error {
		switch f.num {
		case 2:
			bf.FinishTimeMillis = int64(f.varint)
		case 3:
			return eachField(f.bytes, func(g wireField) error {
				switch g.num {
				case 1:
					bf.ExitCode.Name = g.str()
				case 2:
					bf.ExitCode.Code = int32(g.varint)
				}
				return nil
			})
		}
		return nil
	})
	return bf, err
}
