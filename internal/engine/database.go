package engine

import (
	"bytes"
	"fmt"

	"github.com/zhangyunhao116/skipmap"

	"jrnldb/internal/journal"
	"jrnldb/internal/txn"
	"jrnldb/pkg/dberrors"
	"jrnldb/pkg/types"
)

// Insert flags. The journal treats flags as an opaque u32; these are
// the bits this engine defines for itself.
const (
	FlagOverwrite uint32 = 1 << 0
	FlagDuplicate uint32 = 1 << 1
)

// Record is the stored value of a key.
type Record struct {
	Value types.Value
	Flags uint32
}

// Database is a sorted key-value store identified by a numeric name.
type Database struct {
	env   *Env
	name  types.DBName
	store *skipmap.FuncMap[[]byte, Record]
}

func newDatabase(e *Env, name types.DBName) *Database {
	return &Database{
		env:  e,
		name: name,
		store: skipmap.NewFunc[[]byte, Record](func(a, b []byte) bool {
			return bytes.Compare(a, b) < 0
		}),
	}
}

func (d *Database) Name() types.DBName { return d.name }

// Insert journals and applies an insert. A nil transaction is a
// temporary (auto-committed) operation; otherwise the mutation is
// buffered until the transaction commits.
func (d *Database) Insert(t *txn.Txn, key, record []byte, flags uint32) error {
	d.env.mu.Lock()
	defer d.env.mu.Unlock()
	return d.insertLocked(t, key, record, flags)
}

func (d *Database) insertLocked(t *txn.Txn, key, record []byte, flags uint32) error {
	if len(key) == 0 {
		return fmt.Errorf("empty key: %w", dberrors.ErrInvalidArgument)
	}
	if max := d.env.maxRecordBytes(); len(key)+len(record) > max {
		return fmt.Errorf("key+record is %d bytes, page fits %d: %w",
			len(key)+len(record), max, dberrors.ErrInvalidArgument)
	}

	if t == nil {
		if !d.env.recovering && flags&FlagOverwrite == 0 {
			if _, ok := d.store.Load(key); ok {
				return dberrors.ErrDuplicateKey
			}
		}
		if err := d.appendInsert(nil, key, record, flags); err != nil {
			return err
		}
		d.applyInsert(key, record, flags)
		return nil
	}

	if t.State() != txn.StateOpen {
		return dberrors.ErrTxnClosed
	}
	if err := d.appendInsert(t, key, record, flags); err != nil {
		return err
	}
	return t.AddOp(txn.Op{
		DBName: d.name,
		Key:    append([]byte(nil), key...),
		Record: append([]byte(nil), record...),
		Flags:  flags,
	})
}

// Erase journals and applies an erase. A nil transaction erases
// immediately; otherwise the erase is buffered until commit.
func (d *Database) Erase(t *txn.Txn, key []byte, dupIndex int32, flags uint32) error {
	d.env.mu.Lock()
	defer d.env.mu.Unlock()
	return d.eraseLocked(t, key, dupIndex, flags)
}

func (d *Database) eraseLocked(t *txn.Txn, key []byte, dupIndex int32, flags uint32) error {
	if len(key) == 0 {
		return fmt.Errorf("empty key: %w", dberrors.ErrInvalidArgument)
	}

	if t == nil {
		if _, ok := d.store.Load(key); !ok {
			return dberrors.ErrKeyNotFound
		}
		if err := d.appendErase(nil, key, dupIndex, flags); err != nil {
			return err
		}
		d.applyErase(key)
		return nil
	}

	if t.State() != txn.StateOpen {
		return dberrors.ErrTxnClosed
	}
	if err := d.appendErase(t, key, dupIndex, flags); err != nil {
		return err
	}
	return t.AddOp(txn.Op{
		DBName:   d.name,
		Erase:    true,
		Key:      append([]byte(nil), key...),
		Flags:    flags,
		DupIndex: dupIndex,
	})
}

func (d *Database) appendInsert(t *txn.Txn, key, record []byte, flags uint32) error {
	var jt journal.Transaction
	if t != nil {
		jt = t
	}
	return d.env.jrn.AppendInsert(d.name, jt, key, record, flags, d.env.lsn.Next())
}

func (d *Database) appendErase(t *txn.Txn, key []byte, dupIndex int32, flags uint32) error {
	var jt journal.Transaction
	if t != nil {
		jt = t
	}
	return d.env.jrn.AppendErase(d.name, jt, key, dupIndex, flags, d.env.lsn.Next())
}

// applyInsert upserts into the committed store.
func (d *Database) applyInsert(key, record []byte, flags uint32) {
	d.store.Store(append([]byte(nil), key...), Record{
		Value: append([]byte(nil), record...),
		Flags: flags,
	})
}

// applyErase removes a key; erasing an absent key is a no-op here,
// callers decide whether that is an error.
func (d *Database) applyErase(key []byte) {
	d.store.Delete(key)
}

// Find returns the committed record stored under key.
func (d *Database) Find(key []byte) (types.Value, bool) {
	d.env.mu.Lock()
	defer d.env.mu.Unlock()

	rec, ok := d.store.Load(key)
	if !ok {
		return nil, false
	}
	return rec.Value, true
}

// Count reports the number of committed keys.
func (d *Database) Count() int {
	return d.store.Len()
}

// ForEach visits committed records in key order.
func (d *Database) ForEach(fn func(key []byte, rec Record) bool) {
	d.store.Range(fn)
}
