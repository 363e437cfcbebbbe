// Package protocol implements the length-prefixed framing used on every protorpc stream.
//
// A byte stream has no message boundaries, so each encoded Envelope is preceded by its
// length. The receiver reads the 4-byte prefix first, then exactly that many bytes.
//
// Frame format:
//
//	0         4
//	┌─────────┬────────────────────────┐
//	│ bodyLen │  encoded Envelope ...  │
//	│ uint32  │  bodyLen bytes         │
//	└─────────┴────────────────────────┘
//
// bodyLen is big-endian (network byte order).
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"protorpc/codec"
	"protorpc/message"
)

const (
	PrefixSize = 4

	// DefaultMaxFrameSize bounds a single frame when the caller does not choose a limit.
	DefaultMaxFrameSize uint32 = 64 * 1024 * 1024
)

// ErrFrameTooLarge is returned when a length prefix exceeds the allowed maximum.
var ErrFrameTooLarge = errors.New("protocol: frame too large")

// WriteFrame writes the length prefix and body with a single Write call.
// The caller must hold a write lock if multiple goroutines share the same writer,
// otherwise frames from different calls will interleave and corrupt the stream.
func WriteFrame(w io.Writer, body []byte) error {
	if uint64(len(body)) > uint64(^uint32(0)) {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	buf := make([]byte, PrefixSize+len(body))
	binary.BigEndian.PutUint32(buf[:PrefixSize], uint32(len(body)))
	copy(buf[PrefixSize:], body)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one complete frame body from r.
//
// Phase one reads exactly 4 bytes to learn the body length, phase two reads exactly that many
// bytes. io.ReadFull loops over short reads, so chunked delivery is fine. A clean close before
// the first prefix byte returns io.EOF; a close inside a frame returns io.ErrUnexpectedEOF.
// maxSize of 0 selects DefaultMaxFrameSize.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	if maxSize == 0 {
		maxSize = DefaultMaxFrameSize
	}

	var prefix [PrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}

	bodyLen := binary.BigEndian.Uint32(prefix[:])
	if bodyLen > maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, bodyLen, maxSize)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

// WriteEnvelope encodes env and writes it as one frame.
func WriteEnvelope(w io.Writer, env *message.Envelope) error {
	body, err := codec.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	return WriteFrame(w, body)
}

// ReadEnvelope reads one frame and decodes it. Framing errors are returned as-is;
// a frame that arrives intact but does not parse yields codec.ErrMalformedEnvelope,
// after which the stream is still in sync.
func ReadEnvelope(r io.Reader, maxSize uint32) (*message.Envelope, error) {
	body, err := ReadFrame(r, maxSize)
	if err != nil {
		return nil, err
	}
	return codec.DecodeEnvelope(body)
}
