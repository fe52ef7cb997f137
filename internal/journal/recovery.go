package journal

import (
	"errors"
	"fmt"

	"jrnldb/pkg/dberrors"
	"jrnldb/pkg/metrics"
	"jrnldb/pkg/types"
)

// PageDevice is the page-addressable database file that physical
// recovery writes restored pages to.
type PageDevice interface {
	FileSize() (uint64, error)
	Truncate(size uint64) error
	WritePage(address uint64, data []byte) error
	AllocPage(data []byte) (uint64, error)
	Sync() error
}

// DB is a database handle opened during logical recovery.
type DB interface {
	Insert(t Transaction, key, record []byte, flags uint32) error
	Erase(t Transaction, key []byte, dupIndex int32, flags uint32) error
	Close() error
}

// TxnManager is the slice of the transaction manager recovery needs:
// lookup, oldest-first enumeration and the id watermark.
type TxnManager interface {
	Lookup(id uint64) (Transaction, bool)
	ForEach(fn func(Transaction) bool)
	SetIDWatermark(id uint64)
}

// RecoveryTarget is the engine surface logical replay drives.
type RecoveryTarget interface {
	// BeginTxn opens a transaction under the journaled id and
	// advances the manager's id watermark past it.
	BeginTxn(name string, id uint64) (Transaction, error)
	CommitTxn(t Transaction) error
	AbortTxn(t Transaction) error
	// OpenDatabase resolves a database by its name id; the journal
	// caches the handle and closes it when recovery finishes.
	OpenDatabase(name types.DBName) (DB, error)
	// ReloadPageState is called after physical redo so the engine can
	// re-read state whose pages may just have been restored.
	ReloadPageState() error
	SetLastBlobPage(id uint64)
	// FlushCommitted pushes all replayed committed transactions into
	// the store.
	FlushCommitted() error
}

// Recover runs the two-pass recovery: changeset redo against the page
// device, then logical replay of everything past the changeset
// watermark. On success both files are cleared. Returns the highest
// LSN seen, so the engine can restart its LSN clock above it.
func (j *Journal) Recover(mgr TxnManager, target RecoveryTarget) (types.LSN, error) {
	startLSN, err := j.recoverChangeset(target)
	if err != nil {
		return 0, err
	}

	// The engine state may live on pages that were just restored.
	if err := target.ReloadPageState(); err != nil {
		return 0, err
	}

	j.adjustChronology()

	maxSeen, err := j.recoverJournal(mgr, target, startLSN)
	if err != nil {
		return 0, err
	}

	if err := j.Clear(); err != nil {
		return 0, err
	}

	j.collector.IncCounter(metrics.JournalRecoveries, nil, 1)

	if maxSeen < startLSN {
		maxSeen = startLSN
	}
	return maxSeen, nil
}

// recoverChangeset scans both files for their oldest changeset and
// replays all changesets chronologically: first the file whose oldest
// changeset has the smaller LSN, then the other. Returns the highest
// changeset LSN applied — the watermark below which logical replay
// skips entries.
func (j *Journal) recoverChangeset(target RecoveryTarget) (types.LSN, error) {
	lsn0 := j.scanForOldestChangeset(0)
	lsn1 := j.scanForOldestChangeset(1)

	// Both files are empty or contain no changeset?
	if lsn0 == 0 && lsn1 == 0 {
		return 0, nil
	}

	first := 0
	if lsn0 == 0 || (lsn1 != 0 && lsn1 < lsn0) {
		first = 1
	}

	max1, err := j.redoAllChangesets(first, target)
	if err != nil {
		return 0, err
	}
	max2, err := j.redoAllChangesets(1-first, target)
	if err != nil {
		return 0, err
	}

	if j.device != nil {
		if err := j.device.Sync(); err != nil {
			return 0, err
		}
	}

	if max2 > max1 {
		max1 = max2
	}
	return max1, nil
}

// redoAllChangesets replays every changeset of file idx to the page
// device. A read failure ends the walk (torn tail); apply failures
// are fatal.
func (j *Journal) redoAllChangesets(idx int, target RecoveryTarget) (types.LSN, error) {
	size, err := j.fileSize(idx)
	if err != nil {
		return 0, err
	}

	var maxLSN types.LSN
	var offset uint64
	for offset < size {
		e, n, ok := j.readEntryAt(idx, offset)
		if !ok || e.LSN == 0 {
			break
		}
		offset += n

		if e.Kind != KindChangeset {
			continue
		}
		if err := j.applyChangeset(e, target); err != nil {
			return 0, err
		}
		maxLSN = e.LSN
		j.collector.IncCounter(metrics.JournalChangesetsApplied, nil, 1)
	}
	return maxLSN, nil
}

func (j *Journal) applyChangeset(e Entry, target RecoveryTarget) error {
	if j.device == nil {
		return fmt.Errorf("changeset found but no page device attached: %w",
			dberrors.ErrInvalidArgument)
	}
	if j.pageSize == 0 {
		return fmt.Errorf("changeset found but page size unknown: %w",
			dberrors.ErrInvalidArgument)
	}

	ch, err := DecodeChangesetHeader(e.Payload)
	if err != nil {
		return err
	}
	target.SetLastBlobPage(ch.LastBlobPage)

	fileSize, err := j.device.FileSize()
	if err != nil {
		return err
	}

	pageSize := uint64(j.pageSize)
	rest := e.Payload[changesetSubSize:]
	for i := uint32(0); i < ch.NumPages; i++ {
		if uint64(len(rest)) < pageHeaderSize {
			return fmt.Errorf("changeset page %d truncated: %w", i, dberrors.ErrCorrupt)
		}
		ph := decodePageHeader(rest[:pageHeaderSize])
		rest = rest[pageHeaderSize:]

		stored := pageSize
		if ph.CompressedSize > 0 {
			stored = uint64(ph.CompressedSize)
		}
		if uint64(len(rest)) < stored {
			return fmt.Errorf("changeset page %d truncated: %w", i, dberrors.ErrCorrupt)
		}
		data := rest[:stored]
		rest = rest[stored:]

		if ph.CompressedSize > 0 {
			if j.compressor == nil {
				return fmt.Errorf("compressed page but no compressor configured: %w",
					dberrors.ErrCorrupt)
			}
			if data, err = j.compressor.Decompress(data, int(pageSize)); err != nil {
				return fmt.Errorf("decompress page at %d: %w", ph.Address, err)
			}
		}

		// Restore the page: append when it is the next page, extend
		// the file when it lies beyond the end, overwrite otherwise.
		switch {
		case ph.Address == fileSize:
			if _, err := j.device.AllocPage(data); err != nil {
				return err
			}
			fileSize += pageSize
		case ph.Address > fileSize:
			fileSize = ph.Address + pageSize
			if err := j.device.Truncate(fileSize); err != nil {
				return err
			}
			if err := j.device.WritePage(ph.Address, data); err != nil {
				return err
			}
		default:
			if err := j.device.WritePage(ph.Address, data); err != nil {
				return err
			}
		}
	}
	return nil
}

// adjustChronology points currentFd at the chronologically newer file
// so that the recovery iterator, which starts on the other file,
// walks the pair oldest first.
func (j *Journal) adjustChronology() {
	first0 := j.scanForFirstLSN(0)
	first1 := j.scanForFirstLSN(1)

	switch {
	case first0 == 0 && first1 == 0:
		// both empty; leave as-is
	case first1 == 0 || (first0 != 0 && first0 < first1):
		j.currentFd = 1 // file 0 is older, iterate it first
	default:
		j.currentFd = 0
	}
}

// recoverJournal replays logical operations recorded after the
// changeset watermark, then aborts every transaction that never
// reached a terminal record.
func (j *Journal) recoverJournal(mgr TxnManager, target RecoveryTarget,
	startLSN types.LSN) (types.LSN, error) {
	// do not append to the journal during recovery
	j.disableLogging = true
	defer func() { j.disableLogging = false }()

	dbs := make(map[types.DBName]DB)
	openDB := func(name types.DBName) (DB, error) {
		if db, ok := dbs[name]; ok {
			return db, nil
		}
		db, err := target.OpenDatabase(name)
		if err != nil {
			return nil, err
		}
		dbs[name] = db
		return db, nil
	}

	var maxSeen types.LSN
	var replayErr error

	var it Iterator
loop:
	for {
		e, ok := j.NextEntry(&it)
		if !ok || e.LSN == 0 {
			break
		}
		if e.LSN > maxSeen {
			maxSeen = e.LSN
		}
		j.collector.IncCounter(metrics.JournalEntriesReplayed, nil, 1)

		switch e.Kind {
		case KindTxnBegin:
			if _, err := target.BeginTxn(e.TxnName(), e.TxnID); err != nil {
				replayErr = err
				break loop
			}
			mgr.SetIDWatermark(e.TxnID)

		case KindTxnAbort:
			t, ok := mgr.Lookup(e.TxnID)
			if !ok {
				replayErr = fmt.Errorf("abort of unknown transaction %d: %w",
					e.TxnID, dberrors.ErrCorrupt)
				break loop
			}
			if err := target.AbortTxn(t); err != nil {
				replayErr = err
				break loop
			}

		case KindTxnCommit:
			t, ok := mgr.Lookup(e.TxnID)
			if !ok {
				replayErr = fmt.Errorf("commit of unknown transaction %d: %w",
					e.TxnID, dberrors.ErrCorrupt)
				break loop
			}
			if err := target.CommitTxn(t); err != nil {
				replayErr = err
				break loop
			}

		case KindInsert:
			// skip if the key was already captured by a changeset
			if e.LSN <= startLSN {
				continue
			}
			if err := j.replayInsert(mgr, openDB, e); err != nil {
				replayErr = err
				break loop
			}

		case KindErase:
			if e.LSN <= startLSN {
				continue
			}
			if err := j.replayErase(mgr, openDB, e); err != nil {
				replayErr = err
				break loop
			}

		case KindChangeset:
			// already applied during physical redo

		default:
			replayErr = fmt.Errorf("invalid journal entry kind %d: %w",
				uint8(e.Kind), dberrors.ErrCorrupt)
			break loop
		}
	}

	// all transactions which are not yet committed are aborted
	var open []Transaction
	mgr.ForEach(func(t Transaction) bool {
		if !t.Committed() {
			open = append(open, t)
		}
		return true
	})
	for _, t := range open {
		if err := target.AbortTxn(t); err != nil && replayErr == nil {
			replayErr = err
		}
	}

	// drop the databases opened transiently during recovery
	for name, db := range dbs {
		if err := db.Close(); err != nil && replayErr == nil {
			replayErr = fmt.Errorf("close recovered database %d: %w", name, err)
		}
	}

	if replayErr == nil {
		replayErr = target.FlushCommitted()
	}
	return maxSeen, replayErr
}

func (j *Journal) replayInsert(mgr TxnManager,
	openDB func(types.DBName) (DB, error), e Entry) error {
	p, err := DecodeInsert(e.Payload)
	if err != nil {
		return err
	}

	key := p.Key
	if p.CompressedKeySize != 0 {
		if key, err = j.decompressPayload(p.Key, int(p.KeySize)); err != nil {
			return err
		}
		key = append([]byte(nil), key...)
	}
	record := p.Record
	if p.CompressedRecordSize != 0 {
		if record, err = j.decompressPayload(p.Record, int(p.RecordSize)); err != nil {
			return err
		}
	}

	var t Transaction
	if e.TxnID != 0 {
		live, ok := mgr.Lookup(e.TxnID)
		if !ok {
			return fmt.Errorf("insert for unknown transaction %d: %w",
				e.TxnID, dberrors.ErrCorrupt)
		}
		t = live
	}

	db, err := openDB(e.DBName)
	if err != nil {
		return err
	}
	return db.Insert(t, key, record, p.Flags)
}

func (j *Journal) replayErase(mgr TxnManager,
	openDB func(types.DBName) (DB, error), e Entry) error {
	p, err := DecodeErase(e.Payload)
	if err != nil {
		return err
	}

	key := p.Key
	if p.CompressedKeySize != 0 {
		if key, err = j.decompressPayload(p.Key, int(p.KeySize)); err != nil {
			return err
		}
	}

	var t Transaction
	if e.TxnID != 0 {
		live, ok := mgr.Lookup(e.TxnID)
		if !ok {
			return fmt.Errorf("erase for unknown transaction %d: %w",
				e.TxnID, dberrors.ErrCorrupt)
		}
		t = live
	}

	db, err := openDB(e.DBName)
	if err != nil {
		return err
	}

	err = db.Erase(t, key, p.DupIndex, p.Flags)
	// the key may already have been erased when the changeset was
	// flushed
	if errors.Is(err, dberrors.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (j *Journal) decompressPayload(data []byte, rawLen int) ([]byte, error) {
	if j.compressor == nil {
		return nil, fmt.Errorf("compressed payload but no compressor configured: %w",
			dberrors.ErrCorrupt)
	}
	return j.compressor.Decompress(data, rawLen)
}
