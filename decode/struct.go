package decode

import (
	"encoding/binary"

	"github.com/juju/errors"
)

// Struct decodes responses mixing field widths at non-uniform offsets.
// Format is an endianness marker '<' (little) or '>' (big) followed by
// field codes: B=u8 H=u16 I=u32 Q=u64. Example: "<BHI".
type Struct struct {
	Format string
}

func NewStruct(format string) (Struct, error) {
	if _, _, err := parseFormat(format); err != nil {
		return Struct{}, err
	}
	return Struct{Format: format}, nil
}

func (o Struct) Decode(b []byte) (interface{}, error) {
	return Unpack(o.Format, b)
}

// SizeOf returns the packed byte size of format.
func SizeOf(format string) (int, error) {
	_, widths, err := parseFormat(format)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, w := range widths {
		total += w
	}
	return total, nil
}

// Unpack reads one value per field code. Extra trailing payload bytes are
// allowed, responses are padded to the report size.
func Unpack(format string, b []byte) ([]uint64, error) {
	order, widths, err := parseFormat(format)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, len(widths))
	at := 0
	for _, w := range widths {
		if at+w > len(b) {
			return nil, errors.NotValidf("struct format=%s payload=%d short at field %d", format, len(b), len(out))
		}
		out = append(out, readUint(b[at:at+w], order))
		at += w
	}
	return out, nil
}

// Pack is the inverse of Unpack, values are truncated to field width.
func Pack(format string, vals []uint64) ([]byte, error) {
	order, widths, err := parseFormat(format)
	if err != nil {
		return nil, err
	}
	if len(vals) != len(widths) {
		return nil, errors.NotValidf("struct format=%s values=%d fields=%d", format, len(vals), len(widths))
	}
	total := 0
	for _, w := range widths {
		total += w
	}
	out := make([]byte, total)
	at := 0
	for i, w := range widths {
		putUint(out[at:at+w], order, vals[i])
		at += w
	}
	return out, nil
}

func parseFormat(format string) (binary.ByteOrder, []int, error) {
	if len(format) < 2 {
		return nil, nil, errors.NotValidf("struct format=%q too short", format)
	}
	var order binary.ByteOrder
	switch format[0] {
	case '<':
		order = binary.LittleEndian
	case '>':
		order = binary.BigEndian
	default:
		return nil, nil, errors.NotValidf("struct format=%q missing < or > marker", format)
	}
	widths := make([]int, 0, len(format)-1)
	for _, c := range format[1:] {
		switch c {
		case 'B':
			widths = append(widths, 1)
		case 'H':
			widths = append(widths, 2)
		case 'I':
			widths = append(widths, 4)
		case 'Q':
			widths = append(widths, 8)
		default:
			return nil, nil, errors.NotValidf("struct format=%q field code=%q", format, c)
		}
	}
	return order, widths, nil
}
