package engine

import (
	"bytes"
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"

	"jrnldb/internal/config"
	"jrnldb/pkg/dberrors"
	"jrnldb/pkg/metrics"
)

func testConfig(dir string) config.Config {
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(dir, "test.db")
	cfg.Storage.PageSizeBytes = 256
	cfg.Journal.SwitchThreshold = 8
	return cfg
}

func u32Key(i uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], i)
	return b[:]
}

func TestCommitVisibility(t *testing.T) {
	cfg := testConfig(t.TempDir())
	env, err := Create(cfg)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer env.Close(true)

	db, err := env.CreateDB(1)
	if err != nil {
		t.Fatalf("CreateDB failed: %v", err)
	}

	t1, err := env.Begin("writer")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := db.Insert(t1, []byte("k"), []byte("v"), 0); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, ok := db.Find([]byte("k")); ok {
		t.Fatal("uncommitted insert is visible")
	}

	if err := env.Commit(t1); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	v, ok := db.Find([]byte("k"))
	if !ok || !bytes.Equal(v, []byte("v")) {
		t.Fatalf("Find after commit = %q, %v", v, ok)
	}
	if env.TxnManager().Len() != 0 {
		t.Fatal("committed transaction still live")
	}
}

func TestAbortDiscards(t *testing.T) {
	cfg := testConfig(t.TempDir())
	env, err := Create(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer env.Close(true)

	db, _ := env.CreateDB(1)
	t1, _ := env.Begin("")
	if err := db.Insert(t1, []byte("k"), []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	if err := env.Abort(t1); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	if _, ok := db.Find([]byte("k")); ok {
		t.Fatal("aborted insert is visible")
	}
	if err := db.Insert(t1, []byte("k2"), nil, 0); !errors.Is(err, dberrors.ErrTxnClosed) {
		t.Fatalf("Insert on aborted txn = %v, want ErrTxnClosed", err)
	}
}

func TestTemporaryOps(t *testing.T) {
	cfg := testConfig(t.TempDir())
	env, err := Create(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer env.Close(true)

	db, _ := env.CreateDB(1)

	if err := db.Insert(nil, []byte("k"), []byte("v1"), 0); err != nil {
		t.Fatal(err)
	}
	if err := db.Insert(nil, []byte("k"), []byte("v2"), 0); !errors.Is(err, dberrors.ErrDuplicateKey) {
		t.Fatalf("duplicate insert = %v, want ErrDuplicateKey", err)
	}
	if err := db.Insert(nil, []byte("k"), []byte("v2"), FlagOverwrite); err != nil {
		t.Fatalf("overwrite insert failed: %v", err)
	}
	v, _ := db.Find([]byte("k"))
	if !bytes.Equal(v, []byte("v2")) {
		t.Fatalf("Find = %q, want v2", v)
	}

	if err := db.Erase(nil, []byte("missing"), 0, 0); !errors.Is(err, dberrors.ErrKeyNotFound) {
		t.Fatalf("erase of missing key = %v, want ErrKeyNotFound", err)
	}
	if err := db.Erase(nil, []byte("k"), 0, 0); err != nil {
		t.Fatalf("erase failed: %v", err)
	}
	if db.Count() != 0 {
		t.Fatalf("Count = %d, want 0", db.Count())
	}
}

func TestInsertEraseAfterReopen(t *testing.T) {
	// fill, erase half, clean shutdown, reopen: the checkpointed
	// state must match exactly
	cfg := testConfig(t.TempDir())
	env, err := Create(cfg)
	if err != nil {
		t.Fatal(err)
	}

	db, _ := env.CreateDB(1)
	const initial = 50
	for i := uint32(0); i < initial; i++ {
		if err := db.Insert(nil, u32Key(i), nil, 0); err != nil {
			t.Fatalf("Insert %d failed: %v", i, err)
		}
	}
	for i := uint32(0); i < initial/2; i++ {
		if err := db.Erase(nil, u32Key(i), 0, 0); err != nil {
			t.Fatalf("Erase %d failed: %v", i, err)
		}
	}
	if got := db.Count(); got != initial/2 {
		t.Fatalf("Count = %d, want %d", got, initial/2)
	}
	if err := env.Close(false); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	env, err = Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer env.Close(true)
	if err := env.Recover(); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}

	db, err = env.OpenDB(1)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	if got := db.Count(); got != initial/2 {
		t.Fatalf("Count after reopen = %d, want %d", got, initial/2)
	}
	for i := uint32(0); i < initial; i++ {
		_, ok := db.Find(u32Key(i))
		if want := i >= initial/2; ok != want {
			t.Errorf("key %d present=%v, want %v", i, ok, want)
		}
	}
}

func TestRecordTooLarge(t *testing.T) {
	cfg := testConfig(t.TempDir())
	env, err := Create(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer env.Close(true)

	db, _ := env.CreateDB(1)
	big := make([]byte, int(cfg.Storage.PageSizeBytes))
	if err := db.Insert(nil, []byte("k"), big, 0); !errors.Is(err, dberrors.ErrInvalidArgument) {
		t.Fatalf("oversized insert = %v, want ErrInvalidArgument", err)
	}
}

func TestJournalTelemetry(t *testing.T) {
	mem := metrics.NewMemory()
	cfg := testConfig(t.TempDir())
	env, err := Create(cfg, WithCollector(mem))
	if err != nil {
		t.Fatal(err)
	}
	defer env.Close(true)

	db, _ := env.CreateDB(1)
	t1, _ := env.Begin("")
	if err := db.Insert(t1, []byte("k"), []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	if err := env.Commit(t1); err != nil {
		t.Fatal(err)
	}

	if mem.Counter(metrics.JournalBytesFlushed) == 0 {
		t.Error("no flushed bytes recorded")
	}
	if env.Journal().BytesFlushed() == 0 {
		t.Error("journal byte counter is zero")
	}
}
