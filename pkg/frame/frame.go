// Package frame implements the length-prefixed wire format spoken by the
// load generator:
//
//	uint32 length (big-endian) | uint16 msgType (big-endian) | payload
//
// where length = 2 + len(payload), i.e. it covers the msgType field and the
// payload but not itself.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// LengthSize is the size of the length prefix.
	LengthSize = 4
	// TypeSize is the size of the msgType field.
	TypeSize = 2
	// HeaderSize is the number of bytes preceding the payload.
	HeaderSize = LengthSize + TypeSize

	// DefaultMaxLength caps the announced length of inbound frames.
	DefaultMaxLength = 16 * 1024 * 1024
)

// Well-known msgTypes.
const (
	TypeHeartbeat uint16 = 1
	TypeEcho      uint16 = 2
	// TypeError is what servers commonly reply with when a frame is rejected.
	TypeError uint16 = 0xFFFF
)

var (
	// ErrIncompleteFrame is returned when the source is exhausted before a
	// full header or body could be read.
	ErrIncompleteFrame = errors.New("incomplete frame")
	// ErrInvalidLength is returned when a frame announces a length too small
	// to hold a msgType.
	ErrInvalidLength = errors.New("invalid frame length")
	// ErrFrameTooLarge is returned when a frame announces a length beyond the
	// decoder's limit.
	ErrFrameTooLarge = errors.New("frame too large")
)

// IncompleteFrameError gives detail on where a frame was cut short. It
// matches ErrIncompleteFrame with errors.Is.
type IncompleteFrameError struct {
	InBody   bool  // false if the header was truncated, true if the body was.
	Got      int   // Bytes of the truncated part that did arrive.
	Expected int   // Bytes of the truncated part that were expected.
	Err      error // The underlying read error (usually io.EOF or io.ErrUnexpectedEOF).
}

func (e *IncompleteFrameError) Error() string {
	part := "header"
	if e.InBody {
		part = "body"
	}
	return fmt.Sprintf("incomplete frame: %s truncated after %d of %d bytes", part, e.Got, e.Expected)
}

func (e *IncompleteFrameError) Is(target error) bool {
	return target == ErrIncompleteFrame
}

func (e *IncompleteFrameError) Unwrap() error {
	return e.Err
}

// Encode returns the wire representation of a frame carrying msgType and
// payload. The result is always len(payload)+HeaderSize bytes long.
func Encode(msgType uint16, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthSize], uint32(TypeSize+len(payload)))
	binary.BigEndian.PutUint16(buf[LengthSize:HeaderSize], msgType)
	copy(buf[HeaderSize:], payload)
	return buf
}

// WriteFrame encodes a frame and writes it to w in a single call.
func WriteFrame(w io.Writer, msgType uint16, payload []byte) error {
	_, err := w.Write(Encode(msgType, payload))
	return err
}

// Decoder reads consecutive frames from a stream. A Decoder is not safe for
// concurrent use.
type Decoder struct {
	r         io.Reader
	maxLength uint32
	header    [LengthSize]byte
}

// NewDecoder creates a decoder reading from r. A maxLength of 0 selects
// DefaultMaxLength.
func NewDecoder(r io.Reader, maxLength uint32) *Decoder {
	if maxLength == 0 {
		maxLength = DefaultMaxLength
	}
	return &Decoder{r: r, maxLength: maxLength}
}

// Decode reads exactly one frame.
func (d *Decoder) Decode() (uint16, []byte, error) {
	if n, err := io.ReadFull(d.r, d.header[:]); err != nil {
		return 0, nil, readError(err, false, n, LengthSize)
	}
	length := binary.BigEndian.Uint32(d.header[:])
	if length < TypeSize {
		return 0, nil, fmt.Errorf("%w: %d", ErrInvalidLength, length)
	}
	if length > d.maxLength {
		return 0, nil, fmt.Errorf("%w: %d exceeds limit of %d", ErrFrameTooLarge, length, d.maxLength)
	}
	body := make([]byte, length)
	if n, err := io.ReadFull(d.r, body); err != nil {
		return 0, nil, readError(err, true, n, int(length))
	}
	return binary.BigEndian.Uint16(body[:TypeSize]), body[TypeSize:], nil
}

// Decode reads exactly one frame from r using the default length limit.
func Decode(r io.Reader) (uint16, []byte, error) {
	return NewDecoder(r, 0).Decode()
}

// End-of-stream conditions become IncompleteFrameErrors; anything else (a
// reset connection, a deadline) is passed through untouched.
func readError(err error, inBody bool, got, expected int) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &IncompleteFrameError{InBody: inBody, Got: got, Expected: expected, Err: err}
	}
	return err
}
