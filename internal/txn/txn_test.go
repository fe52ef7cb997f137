package txn

import (
	"errors"
	"testing"

	"jrnldb/pkg/dberrors"
)

func TestBeginAssignsMonotonicIDs(t *testing.T) {
	m := NewManager()
	t1 := m.Begin("a")
	t2 := m.Begin("b")
	if t1.ID() != 1 || t2.ID() != 2 {
		t.Fatalf("ids = %d, %d, want 1, 2", t1.ID(), t2.ID())
	}
	if m.Len() != 2 {
		t.Fatalf("Len = %d, want 2", m.Len())
	}
}

func TestForEachVisitsOldestFirst(t *testing.T) {
	m := NewManager()
	for i := 0; i < 5; i++ {
		m.Begin("")
	}
	var got []uint64
	m.ForEach(func(tx *Txn) bool {
		got = append(got, tx.ID())
		return true
	})
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("enumeration not oldest-first: %v", got)
		}
	}
	if len(got) != 5 {
		t.Fatalf("visited %d txns, want 5", len(got))
	}
}

func TestBeginWithIDAdvancesWatermark(t *testing.T) {
	m := NewManager()
	tx, err := m.BeginWithID("recovered", 17)
	if err != nil {
		t.Fatalf("BeginWithID failed: %v", err)
	}
	if tx.ID() != 17 || tx.Name() != "recovered" {
		t.Fatalf("txn = %d %q", tx.ID(), tx.Name())
	}

	next := m.Begin("")
	if next.ID() != 18 {
		t.Fatalf("next id = %d, want 18", next.ID())
	}

	if _, err := m.BeginWithID("", 17); err == nil {
		t.Fatal("BeginWithID accepted a live id")
	}
	if _, err := m.BeginWithID("", 0); err == nil {
		t.Fatal("BeginWithID accepted id zero")
	}
}

func TestStateTransitions(t *testing.T) {
	m := NewManager()
	tx := m.Begin("")

	if err := tx.AddOp(Op{DBName: 1, Key: []byte("k")}); err != nil {
		t.Fatal(err)
	}
	if err := tx.MarkCommitted(); err != nil {
		t.Fatal(err)
	}
	if !tx.Committed() {
		t.Fatal("Committed() = false after MarkCommitted")
	}
	if err := tx.AddOp(Op{}); !errors.Is(err, dberrors.ErrTxnClosed) {
		t.Fatalf("AddOp on committed txn = %v", err)
	}
	if err := tx.MarkAborted(); !errors.Is(err, dberrors.ErrTxnClosed) {
		t.Fatalf("MarkAborted on committed txn = %v", err)
	}

	tx2 := m.Begin("")
	tx2.AddOp(Op{Key: []byte("x")})
	if err := tx2.MarkAborted(); err != nil {
		t.Fatal(err)
	}
	if len(tx2.Ops()) != 0 {
		t.Fatal("aborted txn kept its ops")
	}
}

func TestLookupAndRemove(t *testing.T) {
	m := NewManager()
	tx := m.Begin("")
	if got, ok := m.Lookup(tx.ID()); !ok || got != tx {
		t.Fatal("Lookup failed")
	}
	m.Remove(tx.ID())
	if _, ok := m.Lookup(tx.ID()); ok {
		t.Fatal("Lookup found removed txn")
	}
	if m.Len() != 0 {
		t.Fatalf("Len = %d, want 0", m.Len())
	}
}
