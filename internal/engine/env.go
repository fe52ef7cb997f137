// Package engine ties the journal to its collaborators: the page
// device, the transaction manager, the LSN clock and the named
// databases. It is the single writer the journal assumes; every
// mutating call is serialized here.
package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"jrnldb/internal/config"
	"jrnldb/internal/device"
	"jrnldb/internal/journal"
	"jrnldb/internal/txn"
	"jrnldb/pkg/clock"
	"jrnldb/pkg/compression"
	"jrnldb/pkg/dberrors"
	"jrnldb/pkg/metrics"
	"jrnldb/pkg/types"
)

type Env struct {
	cfg config.Config
	dev *device.File
	jrn *journal.Journal
	mgr *txn.Manager
	lsn *clock.AtomicClock

	mu           sync.Mutex
	dbs          map[types.DBName]*Database
	lastBlobPage uint64
	recovering   bool

	log       *slog.Logger
	collector metrics.Collector
	inducer   *journal.Inducer
}

// Option adjusts an environment before its journal is created.
type Option func(*Env)

// WithCollector routes journal telemetry to c.
func WithCollector(c metrics.Collector) Option {
	return func(e *Env) { e.collector = c }
}

// WithInducer arms deterministic crash injection for tests.
func WithInducer(i *journal.Inducer) Option {
	return func(e *Env) { e.inducer = i }
}

// Create initializes a new environment: an empty page file and the
// two journal files.
func Create(cfg config.Config, opts ...Option) (*Env, error) {
	e, err := newEnv(cfg, opts)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if err := os.MkdirAll(cfg.JournalDir(), 0750); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	if e.dev, err = device.Create(cfg.Storage.Path, cfg.Storage.PageSizeBytes); err != nil {
		return nil, err
	}
	if err := e.setupJournal(); err != nil {
		e.dev.Close()
		return nil, err
	}
	if err := e.jrn.Create(); err != nil {
		e.dev.Close()
		return nil, err
	}
	return e, nil
}

// Open opens an existing environment without recovering it. Call
// Recover before using the databases: it replays the journal and
// loads the catalog from the page file.
func Open(cfg config.Config, opts ...Option) (*Env, error) {
	e, err := newEnv(cfg, opts)
	if err != nil {
		return nil, err
	}

	if e.dev, err = device.Open(cfg.Storage.Path, cfg.Storage.PageSizeBytes); err != nil {
		return nil, err
	}
	if err := e.setupJournal(); err != nil {
		e.dev.Close()
		return nil, err
	}
	if err := e.jrn.Open(); err != nil {
		e.dev.Close()
		return nil, err
	}
	return e, nil
}

func newEnv(cfg config.Config, opts []Option) (*Env, error) {
	if cfg.Storage.PageSizeBytes == 0 {
		return nil, fmt.Errorf("page size must be positive: %w", dberrors.ErrInvalidArgument)
	}
	e := &Env{
		cfg: cfg,
		mgr: txn.NewManager(),
		lsn: clock.NewAtomic(0),
		dbs: make(map[types.DBName]*Database),
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Env) setupJournal() error {
	compressor, err := compression.New(e.cfg.Journal.Compressor)
	if err != nil {
		return err
	}
	e.jrn = journal.New(journal.Options{
		Stem:            e.cfg.JournalStem(),
		SwitchThreshold: e.cfg.Journal.SwitchThreshold,
		Compressor:      compressor,
		EnableFsync:     e.cfg.Journal.EnableFsync,
		PageSize:        e.cfg.Storage.PageSizeBytes,
		Device:          e.dev,
		Collector:       e.collector,
		Logger:          e.log,
		Inducer:         e.inducer,
	})
	return nil
}

// Journal exposes the journal for inspection in tests and tools.
func (e *Env) Journal() *journal.Journal { return e.jrn }

// TxnManager exposes the transaction manager.
func (e *Env) TxnManager() *txn.Manager { return e.mgr }

// CreateDB creates a database under the given name id.
func (e *Env) CreateDB(name types.DBName) (*Database, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if name == 0 {
		return nil, fmt.Errorf("database name id must be nonzero: %w", dberrors.ErrInvalidArgument)
	}
	if _, ok := e.dbs[name]; ok {
		return nil, fmt.Errorf("database %d exists: %w", name, dberrors.ErrInvalidArgument)
	}
	db := newDatabase(e, name)
	e.dbs[name] = db
	return db, nil
}

// OpenDB returns the database registered under the given name id.
func (e *Env) OpenDB(name types.DBName) (*Database, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openDBLocked(name, false)
}

func (e *Env) openDBLocked(name types.DBName, createMissing bool) (*Database, error) {
	if db, ok := e.dbs[name]; ok {
		return db, nil
	}
	if !createMissing {
		return nil, fmt.Errorf("database %d: %w", name, dberrors.ErrDatabaseNotFound)
	}
	db := newDatabase(e, name)
	e.dbs[name] = db
	return db, nil
}

// Begin opens a named transaction. An empty name is allowed.
func (e *Env) Begin(name string) (*txn.Txn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.mgr.Begin(name)
	if err := e.jrn.AppendTxnBegin(t, name, e.lsn.Next()); err != nil {
		e.mgr.Remove(t.ID())
		return nil, err
	}
	return t, nil
}

// Commit journals the commit, applies the transaction's buffered
// operations to the stores and retires the transaction.
func (e *Env) Commit(t *txn.Txn) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commitLocked(t)
}

func (e *Env) commitLocked(t *txn.Txn) error {
	if t.State() != txn.StateOpen {
		return dberrors.ErrTxnClosed
	}
	if err := e.jrn.AppendTxnCommit(t, e.lsn.Next()); err != nil {
		return err
	}

	for _, op := range t.Ops() {
		db, err := e.openDBLocked(op.DBName, e.recovering)
		if err != nil {
			return err
		}
		if op.Erase {
			db.applyErase(op.Key)
		} else {
			db.applyInsert(op.Key, op.Record, op.Flags)
		}
	}

	if err := t.MarkCommitted(); err != nil {
		return err
	}
	e.jrn.TransactionFlushed(t)
	e.mgr.Remove(t.ID())
	return nil
}

// Abort journals the abort and discards the transaction's buffered
// operations.
func (e *Env) Abort(t *txn.Txn) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.abortLocked(t)
}

func (e *Env) abortLocked(t *txn.Txn) error {
	if t.State() != txn.StateOpen {
		return dberrors.ErrTxnClosed
	}
	if err := e.jrn.AppendTxnAbort(t, e.lsn.Next()); err != nil {
		return err
	}
	if err := t.MarkAborted(); err != nil {
		return err
	}
	e.mgr.Remove(t.ID())
	return nil
}

// Checkpoint serializes all databases into page images, journals them
// as a changeset, writes them to the page file and acknowledges the
// flush. This is the physical durability barrier.
func (e *Env) Checkpoint() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkpointLocked()
}

func (e *Env) checkpointLocked() error {
	pages, totalSize, err := e.buildPageImages()
	if err != nil {
		return err
	}

	fd, err := e.jrn.AppendChangeset(pages, e.lastBlobPage, e.lsn.Next())
	if err != nil {
		return err
	}

	if err := e.dev.Truncate(totalSize); err != nil {
		return err
	}
	for _, p := range pages {
		if err := e.dev.WritePage(p.Address, p.Data); err != nil {
			return err
		}
	}
	if err := e.dev.Sync(); err != nil {
		return err
	}

	e.jrn.ChangesetFlushed(fd)
	return nil
}

// Recover replays the journal: physical changeset redo first, then
// logical replay of everything past the changeset watermark. The LSN
// clock restarts above the highest LSN found.
func (e *Env) Recover() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.recovering = true
	defer func() { e.recovering = false }()

	maxLSN, err := e.jrn.Recover(txnAdapter{e.mgr}, e)
	if err != nil {
		return fmt.Errorf("recover journal: %w", err)
	}
	if maxLSN > e.lsn.Val() {
		e.lsn.Set(maxLSN)
	}
	return nil
}

// Close shuts the environment down. A clean close checkpoints the
// databases and truncates the journal pair; with noclear the journal
// files are flushed and kept, so tests can inspect or replay them.
func (e *Env) Close(noclear bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !noclear && len(e.dbs) > 0 {
		if err := e.checkpointLocked(); err != nil {
			return err
		}
	}

	if err := e.jrn.Close(noclear); err != nil {
		return err
	}
	return e.dev.Close()
}

// LastBlobPage reports the page-manager blob watermark carried by
// changesets.
func (e *Env) LastBlobPage() uint64 { return e.lastBlobPage }

// SetLastBlobPageID updates the blob watermark recorded by the next
// checkpoint.
func (e *Env) SetLastBlobPageID(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastBlobPage = id
}
