// Package sv2wire implements the Sv2 Message Codec (spec component 5): the binary
// little-endian, length-prefixed encoding of Stratum v2 Template Distribution
// messages. It encodes/decodes the logical message header (extension_type, msg_type,
// u24 length) and each message body's field layout, including the Sv2 variable-length
// types STR0_255, B0_255, B0_64K and SEQ0_255<u256>.
package sv2wire

import (
	"encoding/binary"

	"github.com/bsv-blockchain/sv2tp/errors"
)

// HeaderSize is the size of the logical Sv2 message header:
// extension_type(2) + msg_type(1) + length(3).
const HeaderSize = 6

// MaxMessageLength is the largest payload length a u24 length field can declare.
const MaxMessageLength = 1<<24 - 1

// writer accumulates an Sv2 message body. All append helpers are infallible except
// the bounded variable-length types, which reject oversize inputs.
type writer struct {
	buf []byte
}

func (w *writer) putU8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) putBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *writer) putU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) putU24(v uint32) {
	w.buf = append(w.buf, byte(v), byte(v>>8), byte(v>>16))
}

func (w *writer) putU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) putU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) putU256(v [32]byte) {
	w.buf = append(w.buf, v[:]...)
}

// putStr0_255 encodes a STR0_255: u8 length prefix + bytes.
func (w *writer) putStr0_255(s string) error {
	if len(s) > 255 {
		return errors.NewDecodeError("STR0_255 overflows 255 bytes: %d", len(s))
	}

	w.putU8(uint8(len(s)))
	w.buf = append(w.buf, s...)

	return nil
}

// putB0_255 encodes a B0_255: u8 length prefix + bytes.
func (w *writer) putB0_255(b []byte) error {
	if len(b) > 255 {
		return errors.NewDecodeError("B0_255 overflows 255 bytes: %d", len(b))
	}

	w.putU8(uint8(len(b)))
	w.buf = append(w.buf, b...)

	return nil
}

// putB0_64K encodes a B0_64K: u16 length prefix + bytes.
func (w *writer) putB0_64K(b []byte) error {
	if len(b) > 0xFFFF {
		return errors.NewDecodeError("B0_64K overflows 65535 bytes: %d", len(b))
	}

	w.putU16(uint16(len(b)))
	w.buf = append(w.buf, b...)

	return nil
}

// putSeqU256 encodes a SEQ0_255<u256>: u8 count prefix + count*32 bytes.
func (w *writer) putSeqU256(hashes [][32]byte) error {
	if len(hashes) > 255 {
		return errors.NewDecodeError("SEQ0_255 overflows 255 entries: %d", len(hashes))
	}

	w.putU8(uint8(len(hashes)))
	for _, h := range hashes {
		w.buf = append(w.buf, h[:]...)
	}

	return nil
}

// putSeqB0_64K encodes a SEQ0_64K<B0_64K>: u16 count prefix + entries.
func (w *writer) putSeqB0_64K(entries [][]byte) error {
	if len(entries) > 0xFFFF {
		return errors.NewDecodeError("SEQ0_64K overflows 65535 entries: %d", len(entries))
	}

	w.putU16(uint16(len(entries)))

	for _, e := range entries {
		if err := w.putB0_64K(e); err != nil {
			return err
		}
	}

	return nil
}

// reader consumes an Sv2 message body. Every read checks the remaining length so
// a field can never overrun the declared message length.
type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) take(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, errors.NewDecodeError("field overruns message length: need %d bytes, have %d", n, r.remaining())
	}

	b := r.buf[r.off : r.off+n]
	r.off += n

	return b, nil
}

func (r *reader) u8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}

	return b[0], nil
}

func (r *reader) boolean() (bool, error) {
	v, err := r.u8()
	if err != nil {
		return false, err
	}

	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, errors.NewDecodeError("invalid BOOL byte 0x%02x", v)
	}
}

func (r *reader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) u24() (uint32, error) {
	b, err := r.take(3)
	if err != nil {
		return 0, err
	}

	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16, nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) u256() ([32]byte, error) {
	var out [32]byte

	b, err := r.take(32)
	if err != nil {
		return out, err
	}

	copy(out[:], b)

	return out, nil
}

func (r *reader) str0_255() (string, error) {
	n, err := r.u8()
	if err != nil {
		return "", err
	}

	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}

	return string(b), nil
}

func (r *reader) b0_255() ([]byte, error) {
	n, err := r.u8()
	if err != nil {
		return nil, err
	}

	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}

	out := make([]byte, n)
	copy(out, b)

	return out, nil
}

func (r *reader) b0_64K() ([]byte, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}

	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}

	out := make([]byte, n)
	copy(out, b)

	return out, nil
}

func (r *reader) seqU256() ([][32]byte, error) {
	n, err := r.u8()
	if err != nil {
		return nil, err
	}

	out := make([][32]byte, 0, n)

	for i := 0; i < int(n); i++ {
		h, err := r.u256()
		if err != nil {
			return nil, err
		}

		out = append(out, h)
	}

	return out, nil
}

func (r *reader) seqB0_64K() ([][]byte, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}

	out := make([][]byte, 0, n)

	for i := 0; i < int(n); i++ {
		b, err := r.b0_64K()
		if err != nil {
			return nil, err
		}

		out = append(out, b)
	}

	return out, nil
}

// finish verifies the whole declared payload was consumed; trailing garbage is a
// decode error just like an overrun.
func (r *reader) finish() error {
	if r.remaining() != 0 {
		return errors.NewDecodeError("%d trailing bytes after last field", r.remaining())
	}

	return nil
}
