package preimage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrMalformedHint is returned when a hint frame cannot be decoded.
var ErrMalformedHint = errors.New("malformed hint frame")

// Hinter is the client side of the hint channel: notify the host that a
// preimage may be needed soon. The result is advisory only.
type Hinter interface {
	Hint(v []byte) error
}

// HintWriter frames hints as a u32 big-endian length plus payload and
// blocks until the host acknowledges with a single byte.
type HintWriter struct {
	rw io.ReadWriter
}

func NewHintWriter(rw io.ReadWriter) *HintWriter {
	return &HintWriter{rw: rw}
}

var _ Hinter = (*HintWriter)(nil)

func (hw *HintWriter) Hint(v []byte) error {
	hint := make([]byte, 4, 4+len(v))
	binary.BigEndian.PutUint32(hint[:4], uint32(len(v)))
	hint = append(hint, v...)
	if _, err := hw.rw.Write(hint); err != nil {
		return fmt.Errorf("failed to write hint: %w", err)
	}
	var ack [1]byte
	if _, err := io.ReadFull(hw.rw, ack[:]); err != nil {
		return fmt.Errorf("failed to read hint ack: %w", err)
	}
	return nil
}

// HintReader reads framed hints and routes them, acking each one. The ack
// is sent even when the router fails, to unblock the writer.
type HintReader struct {
	rw io.ReadWriter
}

func NewHintReader(rw io.ReadWriter) *HintReader {
	return &HintReader{rw: rw}
}

// NextHint reads one hint frame. An io.EOF before any frame byte means the
// client hung up and is returned as-is.
func (hr *HintReader) NextHint(router func(hint []byte) error) error {
	var length uint32
	if err := binary.Read(hr.rw, binary.BigEndian, &length); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("%w: failed to read length prefix: %v", ErrMalformedHint, err)
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(hr.rw, payload); err != nil {
			return fmt.Errorf("%w: truncated payload of %d bytes: %v", ErrMalformedHint, length, err)
		}
	}
	routerErr := router(payload)
	if _, err := hr.rw.Write([]byte{0}); err != nil {
		return fmt.Errorf("failed to ack hint: %w", err)
	}
	if routerErr != nil {
		return fmt.Errorf("failed to handle hint: %w", routerErr)
	}
	return nil
}
