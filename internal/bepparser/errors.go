package bepparser

import (
	"errors"

	"github.com/DeusData/bep-artifacts-mcp/internal/throttle"
)

var (
	// ErrStreamAcquisition is returned when the wait for a parser permit is
	// interrupted. The stream is never read in that case.
	ErrStreamAcquisition = throttle.ErrAcquire

	// ErrEmptyStream is returned when the stream yields no events at all.
	// A build that starts correctly always emits at least a started event.
	ErrEmptyStream = errors.New("no build events found")

	// ErrMalformedEvent is returned when a record cannot be decoded or lacks
	// a field its kind requires. The parse is abandoned: accumulated state
	// cannot be trusted past a malformed record.
	ErrMalformedEvent = errors.New("malformed build event")
)
