package types

import (
	"encoding/binary"
	"fmt"
)

// Encodable is implemented by every type that participates in the
// canonical byte encoding: length-prefixed, little-endian integers, sum
// types tagged by a leading discriminant byte. The encoding must be
// deterministic and round-trip stable since hash(x) = H(encode(x)) and
// the same bytes are what gets signed and stored.
type Encodable interface {
	EncodeTo(e *Encoder) error
}

// Encode returns the canonical byte encoding of v.
func Encode(v Encodable) ([]byte, error) {
	e := NewEncoder()
	if err := v.EncodeTo(e); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// Encoder accumulates the canonical byte encoding of a value.
type Encoder struct {
	buf []byte
}

func NewEncoder() *Encoder { return &Encoder{buf: make([]byte, 0, 64)} }

func (e *Encoder) Bytes() []byte { return e.buf }

func (e *Encoder) WriteByte(b byte) { e.buf = append(e.buf, b) }

func (e *Encoder) WriteUint16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
}

func (e *Encoder) WriteUint32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
}

func (e *Encoder) WriteUint64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
}

func (e *Encoder) WriteHash(h Hash) { e.buf = append(e.buf, h[:]...) }

// WriteBytes writes a length-prefixed (uint32 LE) byte slice.
func (e *Encoder) WriteBytes(b []byte) {
	e.WriteUint32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

// WriteString writes a length-prefixed UTF-8 string.
func (e *Encoder) WriteString(s string) { e.WriteBytes([]byte(s)) }

// WriteCount writes a sequence-length prefix (uint32 LE), for use before
// encoding each element of a slice/list by hand.
func (e *Encoder) WriteCount(n int) { e.WriteUint32(uint32(n)) }

// Decoder reads the canonical byte encoding produced by Encoder.
type Decoder struct {
	buf []byte
	off int
}

func NewDecoder(b []byte) *Decoder { return &Decoder{buf: b} }

// Remaining reports how many bytes are left to read.
func (d *Decoder) Remaining() int { return len(d.buf) - d.off }

func (d *Decoder) need(n int) error {
	if n < 0 || d.Remaining() < n {
		return fmt.Errorf("decode: truncated input (need %d, have %d)", n, d.Remaining())
	}
	return nil
}

func (d *Decoder) ReadByte() (byte, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	b := d.buf[d.off]
	d.off++
	return b, nil
}

func (d *Decoder) ReadUint16() (uint16, error) {
	if err := d.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(d.buf[d.off:])
	d.off += 2
	return v, nil
}

func (d *Decoder) ReadUint32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

func (d *Decoder) ReadUint64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v, nil
}

func (d *Decoder) ReadHash() (Hash, error) {
	if err := d.need(HashSize); err != nil {
		return Hash{}, err
	}
	var h Hash
	copy(h[:], d.buf[d.off:d.off+HashSize])
	d.off += HashSize
	return h, nil
}

// ReadBytes reads a length-prefixed (uint32 LE) byte slice.
func (d *Decoder) ReadBytes() ([]byte, error) {
	n, err := d.ReadUint32()
	if err != nil {
		return nil, err
	}
	if err := d.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, d.buf[d.off:d.off+int(n)])
	d.off += int(n)
	return out, nil
}

func (d *Decoder) ReadString() (string, error) {
	b, err := d.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadCount reads a sequence-length prefix and sanity-checks it against
// a caller-supplied upper bound to reject hostile/corrupt input before
// allocating.
func (d *Decoder) ReadCount(max int) (int, error) {
	n, err := d.ReadUint32()
	if err != nil {
		return 0, err
	}
	if int(n) > max {
		return 0, fmt.Errorf("decode: count %d exceeds max %d", n, max)
	}
	return int(n), nil
}

// RequireExhausted fails if the decoder has unconsumed trailing bytes,
// catching encodings that are valid prefixes of a longer, corrupt blob.
func (d *Decoder) RequireExhausted() error {
	if d.Remaining() != 0 {
		return fmt.Errorf("decode: %d trailing bytes", d.Remaining())
	}
	return nil
}
