package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

type zlibCompressor struct {
	buf   bytes.Buffer
	arena []byte
}

func newZlib() *zlibCompressor {
	return &zlibCompressor{}
}

func (c *zlibCompressor) Name() string { return "zlib" }

func (c *zlibCompressor) Compress(src []byte) ([]byte, error) {
	c.buf.Reset()
	zw := zlib.NewWriter(&c.buf)
	if _, err := zw.Write(src); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}
	return c.buf.Bytes(), nil
}

func (c *zlibCompressor) Decompress(src []byte, rawLen int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	defer zr.Close()

	if cap(c.arena) < rawLen {
		c.arena = make([]byte, rawLen)
	}
	c.arena = c.arena[:rawLen]
	if _, err := io.ReadFull(zr, c.arena); err != nil {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	return c.arena, nil
}
