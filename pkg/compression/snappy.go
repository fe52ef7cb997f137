package compression

import (
	"fmt"

	"github.com/golang/snappy"
)

type snappyCompressor struct {
	arena []byte
}

func newSnappy() *snappyCompressor {
	return &snappyCompressor{}
}

func (c *snappyCompressor) Name() string { return "snappy" }

func (c *snappyCompressor) Compress(src []byte) ([]byte, error) {
	c.arena = snappy.Encode(c.arena[:cap(c.arena)], src)
	return c.arena, nil
}

func (c *snappyCompressor) Decompress(src []byte, rawLen int) ([]byte, error) {
	out, err := snappy.Decode(c.arena[:cap(c.arena)], src)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress: %w", err)
	}
	c.arena = out
	if len(out) != rawLen {
		return nil, fmt.Errorf("snappy decompress: got %d bytes, want %d", len(out), rawLen)
	}
	return out, nil
}
