package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compressed payload layout: [UncompressedSize uint32][Data...].
// If UncompressedSize == 0 and len(Data) > 0 the payload is stored
// uncompressed (compression did not help).
const blockHeaderSize = 4

// Zstd wraps an inner codec with ZSTD block compression. Good ratio for
// the reference-cache partitions, which hold thousands of near-identical
// product records on storage-constrained handheld devices.
type Zstd struct {
	inner Codec
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

// NewZstd returns a Zstd codec wrapping inner. A nil inner defaults to
// JSON.
func NewZstd(inner Codec) *Zstd {
	if inner == nil {
		inner = JSON{}
	}
	// EncodeAll/DecodeAll on shared instances are safe for concurrent use.
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	dec, _ := zstd.NewReader(nil)
	return &Zstd{inner: inner, enc: enc, dec: dec}
}

// Marshal encodes with the inner codec, then compresses.
func (c *Zstd) Marshal(v any) ([]byte, error) {
	raw, err := c.inner.Marshal(v)
	if err != nil {
		return nil, err
	}
	compressed := c.enc.EncodeAll(raw, nil)
	return frame(raw, compressed), nil
}

// Unmarshal decompresses, then decodes with the inner codec.
func (c *Zstd) Unmarshal(data []byte, v any) error {
	raw, err := deframe(data, func(b []byte, size uint32) ([]byte, error) {
		return c.dec.DecodeAll(b, make([]byte, 0, size))
	})
	if err != nil {
		return err
	}
	return c.inner.Unmarshal(raw, v)
}

// Name returns the unique name of the codec ("zstd+<inner>").
func (c *Zstd) Name() string { return "zstd+" + c.inner.Name() }

// LZ4 wraps an inner codec with LZ4 block compression. Faster than ZSTD
// at a lower ratio; suited to the high-churn draft and queue partitions.
type LZ4 struct {
	inner Codec
}

// NewLZ4 returns an LZ4 codec wrapping inner. A nil inner defaults to
// JSON.
func NewLZ4(inner Codec) *LZ4 {
	if inner == nil {
		inner = JSON{}
	}
	return &LZ4{inner: inner}
}

// Marshal encodes with the inner codec, then compresses.
func (c *LZ4) Marshal(v any) ([]byte, error) {
	raw, err := c.inner.Marshal(v)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, lz4.CompressBlockBound(len(raw)))
	n, err := lz4.CompressBlock(raw, buf, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// n == 0 means incompressible; frame falls back to a stored payload.
	return frame(raw, buf[:n]), nil
}

// Unmarshal decompresses, then decodes with the inner codec.
func (c *LZ4) Unmarshal(data []byte, v any) error {
	raw, err := deframe(data, func(b []byte, size uint32) ([]byte, error) {
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(b, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 uncompress: %w", err)
		}
		return out[:n], nil
	})
	if err != nil {
		return err
	}
	return c.inner.Unmarshal(raw, v)
}

// Name returns the unique name of the codec ("lz4+<inner>").
func (c *LZ4) Name() string { return "lz4+" + c.inner.Name() }

// frame prefixes compressed with the uncompressed size, falling back to
// the raw bytes when compression did not help.
func frame(raw, compressed []byte) []byte {
	if len(compressed) == 0 || len(compressed) >= len(raw) {
		out := make([]byte, blockHeaderSize+len(raw))
		// UncompressedSize == 0 marks a stored (uncompressed) payload.
		copy(out[blockHeaderSize:], raw)
		return out
	}
	out := make([]byte, blockHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(out, uint32(len(raw)))
	copy(out[blockHeaderSize:], compressed)
	return out
}

func deframe(data []byte, decompress func(b []byte, size uint32) ([]byte, error)) ([]byte, error) {
	if len(data) < blockHeaderSize {
		return nil, fmt.Errorf("compressed payload too short: %d bytes", len(data))
	}
	size := binary.LittleEndian.Uint32(data)
	body := data[blockHeaderSize:]
	if size == 0 {
		return body, nil
	}
	return decompress(body, size)
}
