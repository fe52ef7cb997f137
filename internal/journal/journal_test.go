package journal

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"jrnldb/pkg/compression"
	"jrnldb/pkg/types"
)

type fakeTxn struct {
	id        uint64
	logDesc   int
	committed bool
}

func (t *fakeTxn) ID() uint64         { return t.id }
func (t *fakeTxn) LogDesc() int       { return t.logDesc }
func (t *fakeTxn) SetLogDesc(idx int) { t.logDesc = idx }
func (t *fakeTxn) Committed() bool    { return t.committed }

func newTestJournal(t *testing.T, opts Options) *Journal {
	t.Helper()
	if opts.Stem == "" {
		opts.Stem = filepath.Join(t.TempDir(), "test.db")
	}
	j := New(opts)
	if err := j.Create(); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	return j
}

func reopen(t *testing.T, old *Journal, opts Options) *Journal {
	t.Helper()
	opts.Stem = old.stem
	j := New(opts)
	if err := j.Open(); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return j
}

type entryInfo struct {
	Kind   Kind
	LSN    types.LSN
	TxnID  uint64
	DBName types.DBName
}

func collectEntries(t *testing.T, j *Journal) []entryInfo {
	t.Helper()
	var got []entryInfo
	var it Iterator
	for {
		e, ok := j.NextEntry(&it)
		if !ok {
			return got
		}
		got = append(got, entryInfo{Kind: e.Kind, LSN: e.LSN, TxnID: e.TxnID, DBName: e.DBName})
	}
}

func TestRoundTrip(t *testing.T) {
	j := newTestJournal(t, Options{})

	t1 := &fakeTxn{id: 1}
	if err := j.AppendTxnBegin(t1, "alpha", 1); err != nil {
		t.Fatalf("AppendTxnBegin failed: %v", err)
	}
	key := []byte{0x01, 0x02, 0x03}
	rec := []byte("record payload")
	if err := j.AppendInsert(7, t1, key, rec, 0x20, 2); err != nil {
		t.Fatalf("AppendInsert failed: %v", err)
	}
	if err := j.AppendTxnCommit(t1, 3); err != nil {
		t.Fatalf("AppendTxnCommit failed: %v", err)
	}
	j.TransactionFlushed(t1)

	// temporary operations carry txn id 0
	if err := j.AppendInsert(9, nil, []byte("k"), nil, 0, 4); err != nil {
		t.Fatalf("temporary AppendInsert failed: %v", err)
	}
	if err := j.AppendErase(9, nil, []byte("k"), -1, 7, 5); err != nil {
		t.Fatalf("temporary AppendErase failed: %v", err)
	}

	t2 := &fakeTxn{id: 2}
	if err := j.AppendTxnBegin(t2, "", 6); err != nil {
		t.Fatalf("AppendTxnBegin failed: %v", err)
	}
	if err := j.AppendTxnAbort(t2, 7); err != nil {
		t.Fatalf("AppendTxnAbort failed: %v", err)
	}

	if err := j.Close(true); err != nil {
		t.Fatalf("Close(noclear) failed: %v", err)
	}

	j = reopen(t, j, Options{})
	defer j.Close(true)

	want := []entryInfo{
		{KindTxnBegin, 1, 1, 0},
		{KindInsert, 2, 1, 7},
		{KindTxnCommit, 3, 1, 0},
		{KindInsert, 4, 0, 9},
		{KindErase, 5, 0, 9},
		{KindTxnBegin, 6, 2, 0},
		{KindTxnAbort, 7, 2, 0},
	}
	if diff := cmp.Diff(want, collectEntries(t, j)); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}

	// payloads survive verbatim
	var it Iterator
	e, _ := j.NextEntry(&it)
	if name := e.TxnName(); name != "alpha" {
		t.Errorf("TxnName() = %q, want alpha", name)
	}
	e, _ = j.NextEntry(&it)
	p, err := DecodeInsert(e.Payload)
	if err != nil {
		t.Fatalf("DecodeInsert failed: %v", err)
	}
	if !bytes.Equal(p.Key, key) || !bytes.Equal(p.Record, rec) {
		t.Errorf("insert payload mismatch: key=%x record=%q", p.Key, p.Record)
	}
	if p.Flags != 0x20 || p.CompressedKeySize != 0 || p.CompressedRecordSize != 0 {
		t.Errorf("insert subheader mismatch: %+v", p)
	}

	it = Iterator{}
	for i := 0; i < 5; i++ {
		e, _ = j.NextEntry(&it)
	}
	ep, err := DecodeErase(e.Payload)
	if err != nil {
		t.Fatalf("DecodeErase failed: %v", err)
	}
	if ep.DupIndex != -1 || ep.Flags != 7 || !bytes.Equal(ep.Key, []byte("k")) {
		t.Errorf("erase payload mismatch: %+v", ep)
	}
}

func TestLSNMonotonicPerFile(t *testing.T) {
	j := newTestJournal(t, Options{})
	defer j.Close(true)

	for i := 1; i <= 20; i++ {
		if err := j.AppendInsert(1, nil, []byte{byte(i)}, nil, 0, types.LSN(i)); err != nil {
			t.Fatalf("AppendInsert failed: %v", err)
		}
	}
	if err := j.flushBuffer(0, false); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	var prev types.LSN
	err := j.Entries(0, func(_ uint64, e Entry) bool {
		if e.LSN <= prev {
			t.Errorf("LSN %d not above predecessor %d", e.LSN, prev)
		}
		prev = e.LSN
		return true
	})
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
}

func TestRotation(t *testing.T) {
	j := newTestJournal(t, Options{SwitchThreshold: 1})
	defer j.Close(true)

	t1 := &fakeTxn{id: 1}
	if err := j.AppendTxnBegin(t1, "", 1); err != nil {
		t.Fatal(err)
	}
	if got := j.CurrentFile(); got != 0 {
		t.Fatalf("CurrentFile() = %d, want 0", got)
	}
	if err := j.AppendTxnCommit(t1, 2); err != nil {
		t.Fatal(err)
	}
	j.TransactionFlushed(t1)
	if j.OpenTxnCount(0) != 0 || j.ClosedTxnCount(0) != 1 {
		t.Fatalf("file 0 counters = %d/%d, want 0/1", j.OpenTxnCount(0), j.ClosedTxnCount(0))
	}

	// file 0 is full and has no open txns: the next scope rotates
	t2 := &fakeTxn{id: 2}
	if err := j.AppendTxnBegin(t2, "", 3); err != nil {
		t.Fatal(err)
	}
	if got := j.CurrentFile(); got != 1 {
		t.Fatalf("CurrentFile() = %d, want 1 after rotation", got)
	}
	if t2.LogDesc() != 1 {
		t.Fatalf("t2 log desc = %d, want 1", t2.LogDesc())
	}

	// file 1 is full too, file 0 is idle: rotate back, recycling it
	t3 := &fakeTxn{id: 3}
	if err := j.AppendTxnBegin(t3, "", 4); err != nil {
		t.Fatal(err)
	}
	if got := j.CurrentFile(); got != 0 {
		t.Fatalf("CurrentFile() = %d, want 0 after recycle", got)
	}
	if j.ClosedTxnCount(0) != 0 {
		t.Fatalf("recycled file 0 closed counter = %d, want 0", j.ClosedTxnCount(0))
	}

	// both files hold open txns: no rotation is permitted
	t4 := &fakeTxn{id: 4}
	if err := j.AppendTxnBegin(t4, "", 5); err != nil {
		t.Fatal(err)
	}
	if got := j.CurrentFile(); got != 0 {
		t.Fatalf("CurrentFile() = %d, want 0 while file 1 has open txns", got)
	}

	// rotation safety: file 1 still holds t2's entries
	if err := j.flushBuffer(1, false); err != nil {
		t.Fatal(err)
	}
	size, err := j.fileSize(1)
	if err != nil {
		t.Fatal(err)
	}
	if size == 0 {
		t.Fatal("file 1 was truncated while holding an open transaction")
	}
}

func TestTemporaryOpsCountAsClosed(t *testing.T) {
	j := newTestJournal(t, Options{})
	defer j.Close(true)

	for i := 1; i <= 3; i++ {
		if err := j.AppendInsert(1, nil, []byte{byte(i)}, nil, 0, types.LSN(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := j.AppendErase(1, nil, []byte{1}, 0, 0, 4); err != nil {
		t.Fatal(err)
	}
	if j.OpenTxnCount(0) != 0 || j.ClosedTxnCount(0) != 4 {
		t.Fatalf("counters = %d/%d, want 0/4", j.OpenTxnCount(0), j.ClosedTxnCount(0))
	}
}

func TestTornTail(t *testing.T) {
	j := newTestJournal(t, Options{})

	t1 := &fakeTxn{id: 1}
	if err := j.AppendTxnBegin(t1, "", 1); err != nil {
		t.Fatal(err)
	}
	if err := j.AppendTxnCommit(t1, 2); err != nil {
		t.Fatal(err)
	}
	j.TransactionFlushed(t1)
	if err := j.Close(true); err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		name string
		torn []byte
	}{
		{"half header", bytes.Repeat([]byte{0xff}, 16)},
		{"header without payload", func() []byte {
			return encodeHeader(entryHeader{LSN: 3, Kind: KindInsert, FollowupSize: 500})
		}()},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			stem := filepath.Join(dir, "torn.db")
			for i := 0; i < 2; i++ {
				src, err := os.ReadFile(j.Path(i))
				if err != nil {
					t.Fatal(err)
				}
				if err := os.WriteFile(stem+filepath.Ext(j.Path(i)), src, 0644); err != nil {
					t.Fatal(err)
				}
			}
			f, err := os.OpenFile(stem+".jrn0", os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := f.Write(tc.torn); err != nil {
				t.Fatal(err)
			}
			f.Close()

			jt := New(Options{Stem: stem})
			if err := jt.Open(); err != nil {
				t.Fatal(err)
			}
			defer jt.Close(true)

			got := collectEntries(t, jt)
			want := []entryInfo{
				{KindTxnBegin, 1, 1, 0},
				{KindTxnCommit, 2, 1, 0},
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("torn tail not discarded (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCompressionTransparency(t *testing.T) {
	for _, name := range []string{"zstd", "zlib", "snappy"} {
		t.Run(name, func(t *testing.T) {
			compressor, err := compression.New(name)
			if err != nil {
				t.Fatalf("compression.New(%q) failed: %v", name, err)
			}

			j := newTestJournal(t, Options{Compressor: compressor})

			// long repetitive payloads compress; the tiny record must
			// be stored raw because compression cannot shrink it
			key := bytes.Repeat([]byte("journal"), 100)
			rec := []byte{0xab}
			if err := j.AppendInsert(1, nil, key, rec, 0, 1); err != nil {
				t.Fatal(err)
			}
			if err := j.AppendErase(1, nil, key, 0, 0, 2); err != nil {
				t.Fatal(err)
			}
			if err := j.Close(true); err != nil {
				t.Fatal(err)
			}

			before, after := j.CompressionRatio()
			if before == 0 || after >= before {
				t.Errorf("compression counters before=%d after=%d", before, after)
			}

			rd, err := compression.New(name)
			if err != nil {
				t.Fatal(err)
			}
			j = reopen(t, j, Options{Compressor: rd})
			defer j.Close(true)

			var it Iterator
			e, ok := j.NextEntry(&it)
			if !ok {
				t.Fatal("no insert entry")
			}
			p, err := DecodeInsert(e.Payload)
			if err != nil {
				t.Fatal(err)
			}
			if p.CompressedKeySize == 0 {
				t.Error("large key was not stored compressed")
			}
			if p.CompressedRecordSize != 0 {
				t.Error("tiny record was stored compressed")
			}
			gotKey, err := rd.Decompress(p.Key, int(p.KeySize))
			if err != nil {
				t.Fatalf("Decompress failed: %v", err)
			}
			if !bytes.Equal(gotKey, key) {
				t.Error("decompressed key differs from original")
			}
			if !bytes.Equal(p.Record, rec) {
				t.Error("raw record differs from original")
			}

			e, ok = j.NextEntry(&it)
			if !ok {
				t.Fatal("no erase entry")
			}
			ep, err := DecodeErase(e.Payload)
			if err != nil {
				t.Fatal(err)
			}
			if ep.CompressedKeySize == 0 {
				t.Error("erase key was not stored compressed")
			}
			gotKey, err = rd.Decompress(ep.Key, int(ep.KeySize))
			if err != nil {
				t.Fatalf("Decompress failed: %v", err)
			}
			if !bytes.Equal(gotKey, key) {
				t.Error("decompressed erase key differs from original")
			}
		})
	}
}

func TestChangesetRoundTrip(t *testing.T) {
	const pageSize = 256
	j := newTestJournal(t, Options{PageSize: pageSize})
	defer j.Close(true)

	pages := []ChangesetPage{
		{Address: 0, Data: bytes.Repeat([]byte{0x11}, pageSize)},
		{Address: pageSize, Data: bytes.Repeat([]byte{0x22}, pageSize)},
	}
	fd, err := j.AppendChangeset(pages, 42, 9)
	if err != nil {
		t.Fatalf("AppendChangeset failed: %v", err)
	}
	if fd != 0 {
		t.Fatalf("AppendChangeset returned fd %d, want 0", fd)
	}
	if j.OpenTxnCount(fd) != 1 {
		t.Fatalf("changeset not counted as open, counter = %d", j.OpenTxnCount(fd))
	}
	j.ChangesetFlushed(fd)
	if j.OpenTxnCount(fd) != 0 || j.ClosedTxnCount(fd) != 1 {
		t.Fatalf("counters after ChangesetFlushed = %d/%d",
			j.OpenTxnCount(fd), j.ClosedTxnCount(fd))
	}

	if got := j.scanForOldestChangeset(0); got != 9 {
		t.Fatalf("scanForOldestChangeset = %d, want 9", got)
	}

	var it Iterator
	e, ok := j.NextEntry(&it)
	if !ok || e.Kind != KindChangeset {
		t.Fatalf("expected changeset entry, got %+v ok=%v", e, ok)
	}
	h, err := DecodeChangesetHeader(e.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if h.NumPages != 2 || h.LastBlobPage != 42 {
		t.Fatalf("changeset header = %+v", h)
	}
}

func TestAppendChangesetRejectsEmpty(t *testing.T) {
	j := newTestJournal(t, Options{PageSize: 256})
	defer j.Close(true)

	if _, err := j.AppendChangeset(nil, 0, 1); err == nil {
		t.Fatal("AppendChangeset accepted an empty page set")
	}
}

func TestCrashInjection(t *testing.T) {
	const pageSize = 128
	pages := []ChangesetPage{
		{Address: 0, Data: make([]byte, pageSize)},
		{Address: pageSize, Data: make([]byte, pageSize)},
	}

	for _, tc := range []struct {
		name  string
		point CrashPoint
		n     int
	}{
		{"between pages", CrashBetweenPages, 1},
		{"before patch", CrashBeforePatch, 1},
		{"after flush", CrashAfterFlush, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ind := NewInducer()
			ind.Arm(tc.point, tc.n)
			j := newTestJournal(t, Options{PageSize: pageSize, Inducer: ind})
			defer j.Close(true)

			if _, err := j.AppendChangeset(pages, 0, 1); err == nil {
				t.Fatal("armed crash point did not fire")
			}

			// the pseudo-transaction must not have been opened
			if j.OpenTxnCount(0) != 0 {
				t.Errorf("open counter = %d after induced crash", j.OpenTxnCount(0))
			}
		})
	}
}
