package compression

import (
	"fmt"

	"jrnldb/pkg/dberrors"
)

// Compressor compresses and decompresses single payloads (keys,
// records, pages). Implementations reuse an internal arena, so the
// slice returned by Compress or Decompress is only valid until the
// next call on the same Compressor.
type Compressor interface {
	Name() string
	Compress(src []byte) ([]byte, error)
	// Decompress inflates src into exactly rawLen bytes.
	Decompress(src []byte, rawLen int) ([]byte, error)
}

// New returns the compressor selected by name, or nil for the empty
// selector (compression disabled).
func New(name string) (Compressor, error) {
	switch name {
	case "", "none":
		return nil, nil
	case "zstd":
		return newZstd()
	case "zlib":
		return newZlib(), nil
	case "snappy":
		return newSnappy(), nil
	default:
		return nil, fmt.Errorf("unknown compressor %q: %w", name, dberrors.ErrInvalidArgument)
	}
}
