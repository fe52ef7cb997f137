package compression

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

type zstdCompressor struct {
	enc   *zstd.Encoder
	dec   *zstd.Decoder
	arena []byte
}

func newZstd() (*zstdCompressor, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &zstdCompressor{enc: enc, dec: dec}, nil
}

func (c *zstdCompressor) Name() string { return "zstd" }

func (c *zstdCompressor) Compress(src []byte) ([]byte, error) {
	c.arena = c.enc.EncodeAll(src, c.arena[:0])
	return c.arena, nil
}

func (c *zstdCompressor) Decompress(src []byte, rawLen int) ([]byte, error) {
	out, err := c.dec.DecodeAll(src, c.arena[:0])
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	c.arena = out
	if len(out) != rawLen {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, want %d", len(out), rawLen)
	}
	return out, nil
}
