package decode

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRaw(t *testing.T) {
	t.Parallel()

	o, err := NewRaw(1)
	require.NoError(t, err)
	v, err := o.Decode([]byte{0x21, 0x01, 0x02})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, v)

	_, err = o.Decode(nil)
	require.Error(t, err)

	_, err = NewRaw(-1)
	require.Error(t, err)
}

func TestArrayRoundTrip(t *testing.T) {
	t.Parallel()

	type Case struct {
		name  string
		width Width
		order binary.ByteOrder
		vals  []uint64
	}
	cases := []Case{
		{"u8", U8, binary.LittleEndian, []uint64{0, 1, 0x7F, 0xFF}},
		{"u16le", U16, binary.LittleEndian, []uint64{0x1234, 0xFFFF, 7}},
		{"u16be", U16, binary.BigEndian, []uint64{0x1234, 0xFFFF, 7}},
		{"u32le", U32, binary.LittleEndian, []uint64{0xDEADBEEF, 1}},
		{"u32be", U32, binary.BigEndian, []uint64{0xDEADBEEF, 1}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			// encode by hand, decode through the shape
			w := int(c.width)
			b := make([]byte, len(c.vals)*w)
			for i, v := range c.vals {
				putUint(b[i*w:(i+1)*w], c.order, v)
			}
			o, err := NewArray(c.width, c.order, 0)
			require.NoError(t, err)
			got, err := o.Decode(b)
			require.NoError(t, err)
			assert.Equal(t, c.vals, got)
		})
	}
}

func TestArraySkip(t *testing.T) {
	t.Parallel()

	o, err := NewArray(U16, binary.LittleEndian, 1)
	require.NoError(t, err)
	got, err := o.Decode([]byte{0x21, 0x34, 0x12, 0xFF, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x1234, 0x00FF}, got)
}

func TestArrayMisaligned(t *testing.T) {
	t.Parallel()

	o, err := NewArray(U32, binary.LittleEndian, 0)
	require.NoError(t, err)
	_, err = o.Decode([]byte{1, 2, 3})
	require.Error(t, err)

	// misaligned extraction is Struct territory, not Array
	_, err = NewArray(U64, binary.LittleEndian, 0)
	require.Error(t, err)
}

func TestScalarByteOffset(t *testing.T) {
	t.Parallel()

	payload := []byte{0x21, 0x01, 0x34, 0x12, 0xEF, 0xBE, 0xAD, 0xDE}

	o8, err := NewScalar(U8, 1, binary.LittleEndian)
	require.NoError(t, err)
	v, err := o8.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)

	// offset is a raw byte offset for wide widths too
	o16, err := NewScalar(U16, 2, binary.LittleEndian)
	require.NoError(t, err)
	v, err = o16.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1234), v)

	o32, err := NewScalar(U32, 4, binary.LittleEndian)
	require.NoError(t, err)
	v, err = o32.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xDEADBEEF), v)

	// odd byte offset must read bytes 3..4, not element 3
	o16odd, err := NewScalar(U16, 3, binary.LittleEndian)
	require.NoError(t, err)
	v, err = o16odd.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xEF12), v)

	_, err = o32.Decode(payload[:6])
	require.Error(t, err)
}

func TestStructRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		format string
		vals   []uint64
	}{
		{"<BHI", []uint64{0x12, 0x3456, 0x789ABCDE}},
		{">BHI", []uint64{0x12, 0x3456, 0x789ABCDE}},
		{"<HH", []uint64{1, 2}},
		{"<BQ", []uint64{0xFF, 0x1122334455667788}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.format, func(t *testing.T) {
			t.Parallel()
			b, err := Pack(c.format, c.vals)
			require.NoError(t, err)
			got, err := Unpack(c.format, b)
			require.NoError(t, err)
			assert.Equal(t, c.vals, got)

			size, err := SizeOf(c.format)
			require.NoError(t, err)
			assert.Equal(t, size, len(b))
		})
	}
}

func TestStructErrors(t *testing.T) {
	t.Parallel()

	_, err := NewStruct("BHI")
	require.Error(t, err, "missing endianness marker")
	_, err = NewStruct("<")
	require.Error(t, err)
	_, err = NewStruct("<BX")
	require.Error(t, err)

	o, err := NewStruct("<IH")
	require.NoError(t, err)
	_, err = o.Decode([]byte{1, 2, 3, 4, 5})
	require.Error(t, err, "short payload")

	// trailing padding is fine
	v, err := o.Decode([]byte{1, 0, 0, 0, 2, 0, 0xAA, 0xBB})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, v)

	_, err = Pack("<BB", []uint64{1})
	require.Error(t, err)
}
