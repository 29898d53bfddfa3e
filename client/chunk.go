package client

import (
	"context"
	"encoding/binary"

	"github.com/juju/errors"

	"github.com/keywire/keywire/decode"
	"github.com/keywire/keywire/report"
)

// Chunked transfer of buffers larger than one report, built purely from
// repeated dispatcher calls. Per-call state only: offset, total and the
// accumulator; nothing survives a failure.

// ChunkCapacity is the data bytes per exchange: the chunk response payload
// spends 4 bytes on echo, offset and actual size.
const ChunkCapacity = report.PayloadSize - 4

const (
	chunkEchoAt   = 0
	chunkOffLoAt  = 1
	chunkOffHiAt  = 2
	chunkActualAt = 3
	chunkDataAt   = 4
)

// defaultSizeShape reads the u16 total after the command echo byte.
var defaultSizeShape = decode.Scalar{Width: decode.U16, Offset: 1, Order: binary.LittleEndian}

// FetchChunked queries total size with sizeCmd (decoded by sizeShape, nil
// for the common echo+u16 layout), then pulls chunkCmd until done.
// A final short chunk ends the transfer successfully.
func (self *Client) FetchChunked(ctx context.Context, sizeCmd, chunkCmd byte, sizeShape decode.Shape) ([]byte, error) {
	if sizeShape == nil {
		sizeShape = defaultSizeShape
	}
	v, err := self.Extension(ctx, sizeCmd, nil, sizeShape)
	if err != nil {
		return nil, errors.Annotatef(err, "chunk size query cmd=%02x", sizeCmd)
	}
	total, err := sizeValue(v)
	if err != nil {
		return nil, err
	}

	acc := make([]byte, 0, total)
	offset := 0
	for len(acc) < total {
		want := total - len(acc)
		if want > ChunkCapacity {
			want = ChunkCapacity
		}
		offLo, offHi := byte(offset), byte(offset>>8)
		args := []byte{offLo, offHi, byte(want)}
		validate := func(p []byte) bool {
			return p[chunkEchoAt] == chunkCmd && p[chunkOffLoAt] == offLo && p[chunkOffHiAt] == offHi
		}
		v, err := self.ExtensionFiltered(ctx, chunkCmd, args, nil, validate)
		if err != nil {
			return nil, errors.Annotatef(err, "chunk fetch offset=%d", offset)
		}
		p := v.([]byte)
		actual := int(p[chunkActualAt])
		if actual > want || chunkDataAt+actual > len(p) {
			return nil, errors.NotValidf("chunk response offset=%d actual=%d want=%d", offset, actual, want)
		}
		acc = append(acc, p[chunkDataAt:chunkDataAt+actual]...)
		offset += actual
		if actual < want {
			// short chunk = end of data
			break
		}
	}
	return acc, nil
}

// PushChunked slices buf into fixed-size chunks, zero-padding the final
// partial one, and issues one set-command per chunk with a running offset.
func (self *Client) PushChunked(ctx context.Context, cmd byte, buf []byte) error {
	for offset := 0; offset < len(buf); offset += ChunkCapacity {
		chunk := make([]byte, ChunkCapacity)
		n := copy(chunk, buf[offset:])
		args := make([]byte, 0, 3+ChunkCapacity)
		args = append(args, byte(offset), byte(offset>>8), byte(n))
		args = append(args, chunk...)
		if _, err := self.Extension(ctx, cmd, args, nil); err != nil {
			return errors.Annotatef(err, "chunk push offset=%d", offset)
		}
	}
	return nil
}

func sizeValue(v interface{}) (int, error) {
	switch t := v.(type) {
	case uint64:
		return int(t), nil
	case []uint64:
		if len(t) > 0 {
			return int(t[0]), nil
		}
	}
	return 0, errors.NotValidf("chunk size decode %T", v)
}
