package journal

// writeBuffer owns the outstanding bytes of one journal file. It
// supports overwriting a region that is already buffered, which the
// encoder uses to patch followup sizes after variable payloads are
// appended. The buffer is never flushed between the placeholder write
// and the patch.
type writeBuffer struct {
	b []byte
}

func (w *writeBuffer) Len() int { return len(w.b) }

func (w *writeBuffer) Append(chunks ...[]byte) {
	for _, c := range chunks {
		w.b = append(w.b, c...)
	}
}

// Overwrite replaces len(chunk) bytes at pos. pos+len(chunk) must lie
// within the buffered region.
func (w *writeBuffer) Overwrite(pos int, chunk []byte) {
	copy(w.b[pos:pos+len(chunk)], chunk)
}

func (w *writeBuffer) Bytes() []byte { return w.b }

func (w *writeBuffer) Reset() { w.b = w.b[:0] }
