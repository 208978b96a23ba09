package protocol

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrInvalidCommand = errors.New("invalid command")
)

// maxFrameExcerpt bounds how much of an offending frame is kept in errors.
const maxFrameExcerpt = 256

// ProtocolError reports a frame that could not be decoded. The frame stream
// that produced it should no longer be trusted.
type ProtocolError struct {
	Reason string
	Frame  []byte
	Err    error
}

func newProtocolError(reason string, frame []byte, err error) *ProtocolError {
	excerpt := frame
	if len(excerpt) > maxFrameExcerpt {
		excerpt = excerpt[:maxFrameExcerpt]
	}
	return &ProtocolError{
		Reason: reason,
		Frame:  append([]byte(nil), excerpt...),
		Err:    err,
	}
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
