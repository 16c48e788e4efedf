package binio

import (
	"encoding/binary"
	"io"
	"math"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

type Writer struct {
	w      io.Writer
	order  binary.ByteOrder
	offset int64
	err    error
	buf    [8]byte
}

func NewWriter(w io.Writer, order binary.ByteOrder) *Writer {
	return &Writer{w: w, order: order}
}

func (w *Writer) Order() binary.ByteOrder { return w.order }

func (w *Writer) Offset() int64 { return w.offset }

func (w *Writer) Err() error { return w.err }

func (w *Writer) WriteBytes(b []byte) {
	if w.err != nil {
		return
	}
	n, err := w.w.Write(b)
	if err != nil {
		w.err = &OffsetError{Offset: w.offset, Err: err}
	}
	w.offset += int64(n)
}

func (w *Writer) WriteUint8(v uint8) {
	w.buf[0] = v
	w.WriteBytes(w.buf[:1])
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
	} else {
		w.WriteUint8(0)
	}
}

func (w *Writer) WriteInt16(v int16) {
	w.order.PutUint16(w.buf[:2], uint16(v))
	w.WriteBytes(w.buf[:2])
}

func (w *Writer) WriteUint32(v uint32) {
	w.order.PutUint32(w.buf[:4], v)
	w.WriteBytes(w.buf[:4])
}

func (w *Writer) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

func (w *Writer) WriteFloat32(v float32) {
	w.WriteUint32(math.Float32bits(v))
}

// WriteMatrix writes the affine part of a column-major 4x4 matrix in the
// layout ReadMatrix expects.
func (w *Writer) WriteMatrix(m [16]float32) {
	for c := 0; c < 4; c++ {
		for row := 0; row < 3; row++ {
			w.WriteFloat32(m[c*4+row])
		}
	}
}

func (w *Writer) WriteString(s string) {
	b, _, err := transform.Bytes(charmap.Windows1252.NewEncoder(), []byte(s))
	if err != nil {
		if w.err == nil {
			w.err = &OffsetError{Offset: w.offset, Err: err}
		}
		return
	}
	w.WriteUint32(uint32(len(b)))
	w.WriteBytes(b)
}
