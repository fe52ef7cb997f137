package txn

import (
	"fmt"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"jrnldb/pkg/dberrors"
)

// Manager tracks live transactions. Because ids are assigned
// monotonically, iterating the id-ordered map visits transactions
// oldest first.
type Manager struct {
	live   *skipmap.OrderedMap[uint64, *Txn]
	lastID atomic.Uint64
}

func NewManager() *Manager {
	return &Manager{live: skipmap.New[uint64, *Txn]()}
}

// Begin opens a transaction with the next id.
func (m *Manager) Begin(name string) *Txn {
	t := &Txn{id: m.lastID.Add(1), name: name}
	m.live.Store(t.id, t)
	return t
}

// BeginWithID opens a transaction under a journaled id, advancing the
// id watermark past it. Used during recovery.
func (m *Manager) BeginWithID(name string, id uint64) (*Txn, error) {
	if id == 0 {
		return nil, fmt.Errorf("transaction id must be nonzero: %w", dberrors.ErrInvalidArgument)
	}
	if _, loaded := m.live.Load(id); loaded {
		return nil, fmt.Errorf("transaction %d already live: %w", id, dberrors.ErrInvalidArgument)
	}
	m.SetIDWatermark(id)
	t := &Txn{id: id, name: name}
	m.live.Store(id, t)
	return t, nil
}

func (m *Manager) Lookup(id uint64) (*Txn, bool) {
	return m.live.Load(id)
}

// ForEach visits live transactions oldest first. Return false from fn
// to stop.
func (m *Manager) ForEach(fn func(*Txn) bool) {
	m.live.Range(func(_ uint64, t *Txn) bool {
		return fn(t)
	})
}

// Remove drops a terminated transaction from the live list.
func (m *Manager) Remove(id uint64) {
	m.live.Delete(id)
}

func (m *Manager) Len() int { return m.live.Len() }

// SetIDWatermark raises the id assigner so that the next Begin hands
// out an id above every id seen in the journal.
func (m *Manager) SetIDWatermark(id uint64) {
	for {
		cur := m.lastID.Load()
		if cur >= id || m.lastID.CompareAndSwap(cur, id) {
			return
		}
	}
}

// LastID reports the highest transaction id assigned or observed.
func (m *Manager) LastID() uint64 { return m.lastID.Load() }
