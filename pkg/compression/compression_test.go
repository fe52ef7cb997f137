package compression

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	payloads := [][]byte{
		bytes.Repeat([]byte("abcdefgh"), 512),
		{0x00},
		[]byte("short"),
	}

	for _, name := range []string{"zstd", "zlib", "snappy"} {
		t.Run(name, func(t *testing.T) {
			c, err := New(name)
			if err != nil {
				t.Fatalf("New(%q) failed: %v", name, err)
			}
			if c.Name() != name {
				t.Errorf("Name() = %q", c.Name())
			}

			for _, src := range payloads {
				compressed, err := c.Compress(src)
				if err != nil {
					t.Fatalf("Compress failed: %v", err)
				}
				// the arena is reused, keep a copy across calls
				compressed = append([]byte(nil), compressed...)

				got, err := c.Decompress(compressed, len(src))
				if err != nil {
					t.Fatalf("Decompress failed: %v", err)
				}
				if !bytes.Equal(got, src) {
					t.Errorf("round trip of %d bytes differs", len(src))
				}
			}
		})
	}
}

func TestCompressShrinksRepetitiveData(t *testing.T) {
	src := bytes.Repeat([]byte("journal"), 1024)
	for _, name := range []string{"zstd", "zlib", "snappy"} {
		c, err := New(name)
		if err != nil {
			t.Fatal(err)
		}
		compressed, err := c.Compress(src)
		if err != nil {
			t.Fatal(err)
		}
		if len(compressed) >= len(src) {
			t.Errorf("%s: %d bytes compressed to %d", name, len(src), len(compressed))
		}
	}
}

func TestDecompressLengthMismatch(t *testing.T) {
	c, err := New("zstd")
	if err != nil {
		t.Fatal(err)
	}
	compressed, err := c.Compress([]byte("some payload"))
	if err != nil {
		t.Fatal(err)
	}
	compressed = append([]byte(nil), compressed...)
	if _, err := c.Decompress(compressed, 3); err == nil {
		t.Fatal("Decompress accepted a wrong raw length")
	}
}

func TestSelector(t *testing.T) {
	if c, err := New(""); err != nil || c != nil {
		t.Fatalf("New(\"\") = %v, %v, want nil, nil", c, err)
	}
	if c, err := New("none"); err != nil || c != nil {
		t.Fatalf("New(none) = %v, %v, want nil, nil", c, err)
	}
	if _, err := New("lz4"); err == nil {
		t.Fatal("New accepted an unknown selector")
	}
}
