// Package decode converts response payload bytes into values.
// All shapes are pure: no protocol state, no side effects.
package decode

import (
	"encoding/binary"

	"github.com/juju/errors"
)

type Width uint8

const (
	U8  Width = 1
	U16 Width = 2
	U32 Width = 4
	U64 Width = 8
)

func (w Width) valid() bool {
	switch w {
	case U8, U16, U32, U64:
		return true
	}
	return false
}

// Shape is a tagged decode variant. Concrete types: Raw, Array, Scalar, Struct.
type Shape interface {
	Decode(payload []byte) (interface{}, error)
}

// Raw returns payload bytes, optionally skipping Skip leading bytes
// (typically a command echo byte).
type Raw struct {
	Skip int
}

func NewRaw(skip int) (Raw, error) {
	if skip < 0 {
		return Raw{}, errors.NotValidf("raw skip=%d", skip)
	}
	return Raw{Skip: skip}, nil
}

func (o Raw) Decode(b []byte) (interface{}, error) {
	if o.Skip < 0 || o.Skip > len(b) {
		return nil, errors.NotValidf("raw skip=%d payload=%d", o.Skip, len(b))
	}
	out := make([]byte, len(b)-o.Skip)
	copy(out, b[o.Skip:])
	return out, nil
}

// Array decodes payload (after Skip) as a run of fixed-width unsigned
// integers. Element count = remaining bytes / width; the remainder must be
// zero, misaligned responses use Struct instead.
type Array struct {
	Width Width
	Order binary.ByteOrder
	Skip  int
}

func NewArray(w Width, order binary.ByteOrder, skip int) (Array, error) {
	o := Array{Width: w, Order: order, Skip: skip}
	if !w.valid() || w == U64 {
		return Array{}, errors.NotValidf("array width=%d", w)
	}
	if order == nil {
		return Array{}, errors.NotValidf("array byte order required")
	}
	if skip < 0 {
		return Array{}, errors.NotValidf("array skip=%d", skip)
	}
	return o, nil
}

func (o Array) Decode(b []byte) (interface{}, error) {
	if !o.Width.valid() || o.Width == U64 || o.Order == nil {
		return nil, errors.NotValidf("array shape width=%d", o.Width)
	}
	if o.Skip < 0 || o.Skip > len(b) {
		return nil, errors.NotValidf("array skip=%d payload=%d", o.Skip, len(b))
	}
	b = b[o.Skip:]
	w := int(o.Width)
	if len(b)%w != 0 {
		return nil, errors.NotValidf("array payload=%d not aligned to width=%d", len(b), w)
	}
	out := make([]uint64, len(b)/w)
	for i := range out {
		out[i] = readUint(b[i*w:(i+1)*w], o.Order)
	}
	return out, nil
}

// Scalar extracts one unsigned integer. Offset is a raw byte offset for
// every width, it is never an element index. Callers of the wide widths
// rely on byte addressing, preserve it.
type Scalar struct {
	Width  Width
	Offset int
	Order  binary.ByteOrder
}

func NewScalar(w Width, offset int, order binary.ByteOrder) (Scalar, error) {
	if !w.valid() {
		return Scalar{}, errors.NotValidf("scalar width=%d", w)
	}
	if offset < 0 {
		return Scalar{}, errors.NotValidf("scalar offset=%d", offset)
	}
	if order == nil {
		return Scalar{}, errors.NotValidf("scalar byte order required")
	}
	return Scalar{Width: w, Offset: offset, Order: order}, nil
}

func (o Scalar) Decode(b []byte) (interface{}, error) {
	if !o.Width.valid() || o.Order == nil {
		return nil, errors.NotValidf("scalar shape width=%d", o.Width)
	}
	w := int(o.Width)
	if o.Offset < 0 || o.Offset+w > len(b) {
		return nil, errors.NotValidf("scalar offset=%d width=%d payload=%d", o.Offset, w, len(b))
	}
	return readUint(b[o.Offset:o.Offset+w], o.Order), nil
}

func readUint(b []byte, order binary.ByteOrder) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(order.Uint16(b))
	case 4:
		return uint64(order.Uint32(b))
	case 8:
		return order.Uint64(b)
	}
	panic("code error readUint width")
}

func putUint(b []byte, order binary.ByteOrder, v uint64) {
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		order.PutUint16(b, uint16(v))
	case 4:
		order.PutUint32(b, uint32(v))
	case 8:
		order.PutUint64(b, v)
	default:
		panic("code error putUint width")
	}
}
