// Package binio provides typed binary reads and writes with a selectable
// byte order. Errors are sticky: after the first failure every further read
// or write is a no-op and Err reports the original failure.
package binio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// MaxStringLength bounds prefixed strings so a corrupt length cannot
// allocate unbounded memory.
const MaxStringLength = 1 << 20

// OffsetError is the first failure of a Reader or Writer, with the stream
// offset at which it happened.
type OffsetError struct {
	Offset int64
	Err    error
}

func (e *OffsetError) Error() string {
	return fmt.Sprintf("at offset 0x%x: %v", e.Offset, e.Err)
}

func (e *OffsetError) Unwrap() error { return e.Err }

type Reader struct {
	r      io.Reader
	order  binary.ByteOrder
	offset int64
	err    error
	buf    [8]byte
}

func NewReader(r io.Reader, order binary.ByteOrder) *Reader {
	return &Reader{r: r, order: order}
}

func (r *Reader) Order() binary.ByteOrder { return r.order }

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int64 { return r.offset }

func (r *Reader) Err() error { return r.err }

func (r *Reader) fill(b []byte) bool {
	if r.err != nil {
		return false
	}
	n, err := io.ReadFull(r.r, b)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		r.err = &OffsetError{Offset: r.offset, Err: err}
		r.offset += int64(n)
		return false
	}
	r.offset += int64(n)
	return true
}

func (r *Reader) ReadBytes(n int) []byte {
	if n < 0 {
		r.fail(fmt.Errorf("negative length %d", n))
		return nil
	}
	b := make([]byte, n)
	if !r.fill(b) {
		return nil
	}
	return b
}

func (r *Reader) ReadUint8() uint8 {
	if !r.fill(r.buf[:1]) {
		return 0
	}
	return r.buf[0]
}

func (r *Reader) ReadBool() bool {
	return r.ReadUint8() != 0
}

func (r *Reader) ReadInt16() int16 {
	if !r.fill(r.buf[:2]) {
		return 0
	}
	return int16(r.order.Uint16(r.buf[:2]))
}

func (r *Reader) ReadUint32() uint32 {
	if !r.fill(r.buf[:4]) {
		return 0
	}
	return r.order.Uint32(r.buf[:4])
}

func (r *Reader) ReadInt32() int32 {
	return int32(r.ReadUint32())
}

func (r *Reader) ReadFloat32() float32 {
	return math.Float32frombits(r.ReadUint32())
}

// ReadMatrix reads a 4x3 affine matrix (rotation rows then translation) and
// returns it as a column-major 4x4 array.
func (r *Reader) ReadMatrix() [16]float32 {
	var m [16]float32
	for c := 0; c < 4; c++ {
		for row := 0; row < 3; row++ {
			m[c*4+row] = r.ReadFloat32()
		}
	}
	m[15] = 1
	return m
}

// ReadString reads a u32 length prefixed string. Bytes are decoded as
// Windows-1252.
func (r *Reader) ReadString() string {
	n := r.ReadUint32()
	if r.err != nil {
		return ""
	}
	if n > MaxStringLength {
		r.fail(fmt.Errorf("string length %d too large", n))
		return ""
	}
	b := r.ReadBytes(int(n))
	if r.err != nil {
		return ""
	}
	s, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), b)
	if err != nil {
		r.fail(err)
		return ""
	}
	return string(s)
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = &OffsetError{Offset: r.offset, Err: err}
	}
}
