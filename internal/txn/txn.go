// Package txn implements the local transaction manager: id
// assignment, the live-transaction list in begin order, and the
// per-transaction operation buffer applied at commit.
package txn

import (
	"jrnldb/pkg/dberrors"
	"jrnldb/pkg/types"
)

type State int

const (
	StateOpen State = iota
	StateCommitted
	StateAborted
)

// Op is a buffered mutation. Ops accumulate on an open transaction
// and are applied to the store when the transaction commits.
type Op struct {
	DBName   types.DBName
	Erase    bool
	Key      types.Key
	Record   types.Value
	Flags    uint32
	DupIndex int32
}

type Txn struct {
	id      uint64
	name    string
	state   State
	logDesc int
	ops     []Op
}

func (t *Txn) ID() uint64   { return t.id }
func (t *Txn) Name() string { return t.name }
func (t *Txn) State() State { return t.state }

// LogDesc is the index of the journal file this transaction was
// opened on. All of its entries land on that file.
func (t *Txn) LogDesc() int       { return t.logDesc }
func (t *Txn) SetLogDesc(idx int) { t.logDesc = idx }

func (t *Txn) Committed() bool { return t.state == StateCommitted }

// AddOp buffers a mutation on an open transaction.
func (t *Txn) AddOp(op Op) error {
	if t.state != StateOpen {
		return dberrors.ErrTxnClosed
	}
	t.ops = append(t.ops, op)
	return nil
}

func (t *Txn) Ops() []Op { return t.ops }

// MarkCommitted transitions the transaction to its terminal committed
// state. The engine applies the buffered ops; the transaction only
// tracks state.
func (t *Txn) MarkCommitted() error {
	if t.state != StateOpen {
		return dberrors.ErrTxnClosed
	}
	t.state = StateCommitted
	return nil
}

func (t *Txn) MarkAborted() error {
	if t.state != StateOpen {
		return dberrors.ErrTxnClosed
	}
	t.state = StateAborted
	t.ops = nil
	return nil
}
