// Package codec defines the replication message layout and the frame that
// carries it over the wire.
//
// Message body, all integers big-endian:
//
//	u32 keyLen | key | u32 valueLen | value | i64 timestamp | u32 n | n × u64 clock
//
// Frame:
//
//	u32 len(body) | body | sha256(body)
package codec

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// DigestSize is the length of the integrity digest trailing every frame.
const DigestSize = sha256.Size

var (
	ErrMalformed      = errors.New("malformed replication message")
	ErrDigestMismatch = errors.New("frame digest mismatch")
	ErrFrameTooLarge  = errors.New("frame exceeds maximum size")
)

// Message is one replicated write plus the sender's clock at build time.
// Clock is ordered the same way as the sender's clock store.
type Message struct {
	Key       string
	Value     []byte
	Timestamp int64
	Clock     []uint64
}

// EncodedLen returns the exact size of Encode(m).
func (m Message) EncodedLen() int {
	return 4 + len(m.Key) + 4 + len(m.Value) + 8 + 4 + 8*len(m.Clock)
}

// Encode serializes m. It panics if a field is too long for its u32
// prefix; that is a caller bug, not a runtime condition.
func Encode(m Message) []byte {
	mustFit("key", len(m.Key))
	mustFit("value", len(m.Value))
	mustFit("clock", len(m.Clock))

	buf := make([]byte, 0, m.EncodedLen())
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(m.Key)))
	buf = append(buf, m.Key...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(m.Value)))
	buf = append(buf, m.Value...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(m.Timestamp))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(m.Clock)))
	for _, c := range m.Clock {
		buf = binary.BigEndian.AppendUint64(buf, c)
	}
	return buf
}

func mustFit(field string, n int) {
	if uint64(n) > math.MaxUint32 {
		panic(fmt.Sprintf("codec: %s length %d overflows u32 prefix", field, n))
	}
}

// Decode parses a message body produced by Encode. Value and Clock are
// always non-nil on success.
func Decode(b []byte) (Message, error) {
	d := decoder{buf: b}

	keyLen := d.u32("key length")
	key := d.next("key", keyLen)
	valueLen := d.u32("value length")
	value := d.next("value", valueLen)
	ts := d.u64("timestamp")
	n := d.u32("clock count")
	if d.err == nil && uint64(n)*8 > uint64(len(d.buf)) {
		d.err = fmt.Errorf("%w: clock count %d exceeds remaining %d bytes", ErrMalformed, n, len(d.buf))
	}

	var clock []uint64
	if d.err == nil {
		clock = make([]uint64, n)
		for i := range clock {
			clock[i] = d.u64("clock entry")
		}
	}

	if d.err != nil {
		return Message{}, d.err
	}
	if len(d.buf) != 0 {
		return Message{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(d.buf))
	}

	v := make([]byte, len(value))
	copy(v, value)

	return Message{
		Key:       string(key),
		Value:     v,
		Timestamp: int64(ts),
		Clock:     clock,
	}, nil
}

type decoder struct {
	buf []byte
	err error
}

func (d *decoder) need(what string, n uint64) bool {
	if d.err != nil {
		return false
	}
	if uint64(len(d.buf)) < n {
		d.err = fmt.Errorf("%w: truncated %s", ErrMalformed, what)
		return false
	}
	return true
}

func (d *decoder) u32(what string) uint32 {
	if !d.need(what, 4) {
		return 0
	}
	v := binary.BigEndian.Uint32(d.buf)
	d.buf = d.buf[4:]
	return v
}

func (d *decoder) u64(what string) uint64 {
	if !d.need(what, 8) {
		return 0
	}
	v := binary.BigEndian.Uint64(d.buf)
	d.buf = d.buf[8:]
	return v
}

func (d *decoder) next(what string, n uint32) []byte {
	if !d.need(what, uint64(n)) {
		return nil
	}
	v := d.buf[:n]
	d.buf = d.buf[n:]
	return v
}

// Digest returns the SHA-256 of b.
func Digest(b []byte) [DigestSize]byte {
	return sha256.Sum256(b)
}
