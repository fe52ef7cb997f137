package engine

import (
	"jrnldb/internal/journal"
	"jrnldb/internal/txn"
	"jrnldb/pkg/types"
)

// txnAdapter exposes the transaction manager to the journal under its
// narrow TxnManager interface.
type txnAdapter struct {
	m *txn.Manager
}

func (a txnAdapter) Lookup(id uint64) (journal.Transaction, bool) {
	t, ok := a.m.Lookup(id)
	if !ok {
		return nil, false
	}
	return t, true
}

func (a txnAdapter) ForEach(fn func(journal.Transaction) bool) {
	a.m.ForEach(func(t *txn.Txn) bool {
		return fn(t)
	})
}

func (a txnAdapter) SetIDWatermark(id uint64) {
	a.m.SetIDWatermark(id)
}

// replayDB adapts a Database to the journal's DB interface. Replay
// runs under the environment lock, so it uses the unlocked paths.
type replayDB struct {
	db *Database
}

func (r replayDB) Insert(t journal.Transaction, key, record []byte, flags uint32) error {
	var lt *txn.Txn
	if t != nil {
		lt = t.(*txn.Txn)
	}
	return r.db.insertLocked(lt, key, record, flags)
}

func (r replayDB) Erase(t journal.Transaction, key []byte, dupIndex int32, flags uint32) error {
	var lt *txn.Txn
	if t != nil {
		lt = t.(*txn.Txn)
	}
	return r.db.eraseLocked(lt, key, dupIndex, flags)
}

// Close is a no-op: the environment keeps the database registered
// after recovery hands its transient handle back.
func (replayDB) Close() error { return nil }

// The methods below implement journal.RecoveryTarget.

// BeginTxn reopens a journaled transaction under its original id.
func (e *Env) BeginTxn(name string, id uint64) (journal.Transaction, error) {
	return e.mgr.BeginWithID(name, id)
}

func (e *Env) CommitTxn(t journal.Transaction) error {
	return e.commitLocked(t.(*txn.Txn))
}

func (e *Env) AbortTxn(t journal.Transaction) error {
	return e.abortLocked(t.(*txn.Txn))
}

// OpenDatabase resolves a database during replay. A journaled insert
// implies the database existed, so a missing one is created rather
// than rejected.
func (e *Env) OpenDatabase(name types.DBName) (journal.DB, error) {
	db, err := e.openDBLocked(name, true)
	if err != nil {
		return nil, err
	}
	return replayDB{db}, nil
}

// ReloadPageState re-reads the catalog and all database stores from
// the page file. Called after physical redo, which may just have
// restored those pages.
func (e *Env) ReloadPageState() error {
	return e.loadCatalogLocked()
}

// SetLastBlobPage restores the blob watermark carried by a replayed
// changeset.
func (e *Env) SetLastBlobPage(id uint64) {
	e.lastBlobPage = id
}

// FlushCommitted is the end-of-recovery flush request. Committed
// transactions are applied to the stores as their commit replays, so
// there is nothing left to push here.
func (e *Env) FlushCommitted() error { return nil }
