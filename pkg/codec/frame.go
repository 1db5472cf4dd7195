package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// HeaderSize is the length prefix in front of the payload.
const HeaderSize = 4

// Frame is an encoded message and the digest of exactly those bytes.
type Frame struct {
	Payload []byte
	Digest  [DigestSize]byte
}

// NewFrame encodes m and digests the result.
func NewFrame(m Message) Frame {
	return FrameFromPayload(Encode(m))
}

// FrameFromPayload wraps an already encoded body.
func FrameFromPayload(payload []byte) Frame {
	if uint64(len(payload)) > math.MaxUint32 {
		panic(fmt.Sprintf("codec: payload length %d overflows u32 prefix", len(payload)))
	}
	return Frame{Payload: payload, Digest: Digest(payload)}
}

// Len is the number of bytes Bytes returns.
func (f Frame) Len() int {
	return HeaderSize + len(f.Payload) + DigestSize
}

// Bytes lays the frame out for the wire. The digest never covers the
// length prefix.
func (f Frame) Bytes() []byte {
	buf := make([]byte, 0, f.Len())
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(f.Payload)))
	buf = append(buf, f.Payload...)
	buf = append(buf, f.Digest[:]...)
	return buf
}

// Verify recomputes the payload digest.
func (f Frame) Verify() error {
	if Digest(f.Payload) != f.Digest {
		return ErrDigestMismatch
	}
	return nil
}

// Message verifies and decodes the payload.
func (f Frame) Message() (Message, error) {
	if err := f.Verify(); err != nil {
		return Message{}, err
	}
	return Decode(f.Payload)
}

// ReadFrame reads one frame from r. Payloads larger than maxPayload are
// rejected before any body bytes are read; maxPayload 0 means no limit.
// The digest is read but not checked.
func ReadFrame(r io.Reader, maxPayload uint32) (Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, fmt.Errorf("read frame header: %w", err)
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if maxPayload > 0 && n > maxPayload {
		return Frame{}, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, maxPayload)
	}

	f := Frame{Payload: make([]byte, n)}
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return Frame{}, fmt.Errorf("read frame payload: %w", err)
	}
	if _, err := io.ReadFull(r, f.Digest[:]); err != nil {
		return Frame{}, fmt.Errorf("read frame digest: %w", err)
	}
	return f, nil
}
