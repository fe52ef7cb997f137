// Package journal implements the write-ahead journal of the engine:
// a pair of append-only log files, the binary entry encoder with
// optional per-payload compression, per-file transaction accounting,
// and two-pass crash recovery.
package journal

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"jrnldb/pkg/compression"
	"jrnldb/pkg/dberrors"
	"jrnldb/pkg/metrics"
	"jrnldb/pkg/types"
)

const (
	// kSwitchTxnThreshold is the default number of transactions per
	// file before the pair rotates.
	kSwitchTxnThreshold = 32

	// bufferHighWaterMark bounds the outstanding bytes per file.
	// maybeFlushBuffer is only ever called after a complete entry is
	// buffered, so a flush never splits an entry.
	bufferHighWaterMark = 1 << 20
)

// Transaction is the slice of a transaction the journal needs: its
// id, the journal file it was opened on, and its terminal state.
type Transaction interface {
	ID() uint64
	LogDesc() int
	SetLogDesc(idx int)
	Committed() bool
}

// Options configures a Journal.
type Options struct {
	// Stem is the path stem; the files are Stem+".jrn0" and
	// Stem+".jrn1".
	Stem string
	// SwitchThreshold overrides kSwitchTxnThreshold when nonzero.
	SwitchThreshold uint32
	// Compressor compresses keys, records and pages when set.
	Compressor compression.Compressor
	// EnableFsync makes commit and changeset flushes fsync.
	EnableFsync bool
	// PageSize is the size of the pages carried by changesets.
	PageSize uint32
	// Device receives pages during physical recovery. May be nil for
	// read-only use.
	Device PageDevice
	// Collector receives journal telemetry. Nil means discard.
	Collector metrics.Collector
	Logger    *slog.Logger
	// Inducer arms deterministic crash injection. Nil disables it.
	Inducer *Inducer
}

// Journal owns the two log files. All mutating calls are serialized
// by the engine above; the journal holds no locks of its own.
type Journal struct {
	stem      string
	files     [2]*os.File
	buffers   [2]writeBuffer
	currentFd int

	threshold uint32
	openTxn   [2]uint32
	closedTxn [2]uint32

	disableLogging bool
	enableFsync    bool
	pageSize       uint32

	compressor compression.Compressor
	device     PageDevice
	collector  metrics.Collector
	log        *slog.Logger
	inducer    *Inducer

	countBytesFlushed atomic.Uint64
	countBytesBefore  atomic.Uint64
	countBytesAfter   atomic.Uint64
}

func New(opts Options) *Journal {
	j := &Journal{
		stem:        opts.Stem,
		threshold:   opts.SwitchThreshold,
		compressor:  opts.Compressor,
		enableFsync: opts.EnableFsync,
		pageSize:    opts.PageSize,
		device:      opts.Device,
		collector:   opts.Collector,
		log:         opts.Logger,
		inducer:     opts.Inducer,
	}
	if j.threshold == 0 {
		j.threshold = kSwitchTxnThreshold
	}
	if j.collector == nil {
		j.collector = metrics.Nop{}
	}
	if j.log == nil {
		j.log = slog.Default()
	}
	return j
}

// Path returns the path of journal file i.
func (j *Journal) Path(i int) string {
	return fmt.Sprintf("%s.jrn%d", j.stem, i)
}

// Create creates the two files, truncating any previous pair.
func (j *Journal) Create() error {
	for i := 0; i < 2; i++ {
		f, err := os.OpenFile(j.Path(i), os.O_CREATE|os.O_RDWR|os.O_APPEND|os.O_TRUNC, 0644)
		if err != nil {
			return fmt.Errorf("create journal file %d: %w", i, err)
		}
		j.files[i] = f
	}
	return nil
}

// Open opens an existing pair without truncation.
func (j *Journal) Open() error {
	for i := 0; i < 2; i++ {
		f, err := os.OpenFile(j.Path(i), os.O_RDWR|os.O_APPEND, 0644)
		if err != nil {
			if j.files[0] != nil {
				j.files[0].Close()
				j.files[0] = nil
			}
			return fmt.Errorf("open journal file %d: %w", i, err)
		}
		j.files[i] = f
	}
	return nil
}

// switchFilesMaybe runs the rotation predicate and returns the file
// index the next scope writes to. The retired file is recycled only
// when none of its transactions remain open.
func (j *Journal) switchFilesMaybe() (int, error) {
	other := 1 - j.currentFd

	if j.openTxn[j.currentFd]+j.closedTxn[j.currentFd] < j.threshold {
		return j.currentFd, nil
	}

	if j.openTxn[other] == 0 {
		if err := j.clearFile(other); err != nil {
			return 0, err
		}
		j.currentFd = other
	}

	return j.currentFd, nil
}

// AppendTxnBegin records the start of a transaction and pins the
// transaction to the selected file.
func (j *Journal) AppendTxnBegin(t Transaction, name string, lsn types.LSN) error {
	if j.disableLogging {
		return nil
	}

	idx, err := j.switchFilesMaybe()
	if err != nil {
		return err
	}
	t.SetLogDesc(idx)

	hdr := entryHeader{LSN: lsn, TxnID: t.ID(), Kind: KindTxnBegin}
	if name != "" {
		hdr.FollowupSize = uint32(len(name)) + 1
		j.appendEntry(idx, encodeHeader(hdr), append([]byte(name), 0))
	} else {
		j.appendEntry(idx, encodeHeader(hdr))
	}
	if err := j.maybeFlushBuffer(idx); err != nil {
		return err
	}

	j.openTxn[idx]++
	return nil
}

// AppendTxnAbort records an abort. No fsync: an interrupted abort is
// harmless, the transaction will be rolled back on recovery anyway.
func (j *Journal) AppendTxnAbort(t Transaction, lsn types.LSN) error {
	if j.disableLogging {
		return nil
	}

	idx := t.LogDesc()
	j.openTxn[idx]--
	j.closedTxn[idx]++

	hdr := entryHeader{LSN: lsn, TxnID: t.ID(), Kind: KindTxnAbort}
	j.appendEntry(idx, encodeHeader(hdr))
	return j.maybeFlushBuffer(idx)
}

// AppendTxnCommit records a commit and hard-flushes the file. The
// open-transaction counter is only decremented later, by
// TransactionFlushed, once the commit has been captured on disk.
func (j *Journal) AppendTxnCommit(t Transaction, lsn types.LSN) error {
	if j.disableLogging {
		return nil
	}

	idx := t.LogDesc()
	hdr := entryHeader{LSN: lsn, TxnID: t.ID(), Kind: KindTxnCommit}
	j.appendEntry(idx, encodeHeader(hdr))

	return j.flushBuffer(idx, j.enableFsync)
}

// AppendInsert records an insert, compressing key and record when the
// compressed form is strictly smaller.
func (j *Journal) AppendInsert(db types.DBName, t Transaction, key, record []byte,
	flags uint32, lsn types.LSN) error {
	if j.disableLogging {
		return nil
	}

	hdr := entryHeader{
		LSN:    lsn,
		DBName: db,
		Kind:   KindInsert,
		// patched below once the payload sizes are known
		FollowupSize: insertSubSize,
	}

	var idx int
	if t == nil {
		hdr.TxnID = 0
		var err error
		if idx, err = j.switchFilesMaybe(); err != nil {
			return err
		}
		j.closedTxn[idx]++
	} else {
		hdr.TxnID = t.ID()
		idx = t.LogDesc()
	}

	sub := InsertPayload{
		KeySize:    uint32(len(key)),
		RecordSize: uint32(len(record)),
		Flags:      flags,
	}

	entryPosition := j.buffers[idx].Len()
	j.appendEntry(idx, encodeHeader(hdr), encodeInsertSub(sub))

	keyData, keyLen := j.compressPayload(key)
	if keyLen < uint32(len(key)) {
		sub.CompressedKeySize = keyLen
	} else {
		keyData, keyLen = key, uint32(len(key))
	}
	j.appendEntry(idx, keyData)
	hdr.FollowupSize += keyLen

	recData, recLen := j.compressPayload(record)
	if recLen < uint32(len(record)) {
		sub.CompressedRecordSize = recLen
	} else {
		recData, recLen = record, uint32(len(record))
	}
	j.appendEntry(idx, recData)
	hdr.FollowupSize += recLen

	j.buffers[idx].Overwrite(entryPosition, encodeHeader(hdr))
	j.buffers[idx].Overwrite(entryPosition+headerSize, encodeInsertSub(sub))

	return j.maybeFlushBuffer(idx)
}

// AppendErase records an erase.
func (j *Journal) AppendErase(db types.DBName, t Transaction, key []byte,
	dupIndex int32, flags uint32, lsn types.LSN) error {
	if j.disableLogging {
		return nil
	}

	sub := ErasePayload{
		KeySize:  uint32(len(key)),
		Flags:    flags,
		DupIndex: dupIndex,
	}

	payload, payloadLen := j.compressPayload(key)
	if payloadLen < uint32(len(key)) {
		sub.CompressedKeySize = payloadLen
	} else {
		payload, payloadLen = key, uint32(len(key))
	}

	hdr := entryHeader{
		LSN:          lsn,
		DBName:       db,
		Kind:         KindErase,
		FollowupSize: eraseSubSize + payloadLen,
	}

	var idx int
	if t == nil {
		hdr.TxnID = 0
		var err error
		if idx, err = j.switchFilesMaybe(); err != nil {
			return err
		}
		j.closedTxn[idx]++
	} else {
		hdr.TxnID = t.ID()
		idx = t.LogDesc()
	}

	j.appendEntry(idx, encodeHeader(hdr), encodeEraseSub(sub), payload)
	return j.maybeFlushBuffer(idx)
}

// ChangesetPage is one page image carried by a changeset.
type ChangesetPage struct {
	Address uint64
	Data    []byte
}

// AppendChangeset records a set of modified pages and hard-flushes.
// It counts as a pseudo-transaction kept open until ChangesetFlushed
// confirms the pages reached the page file. Returns the file index to
// pass to ChangesetFlushed.
func (j *Journal) AppendChangeset(pages []ChangesetPage, lastBlobPage uint64,
	lsn types.LSN) (int, error) {
	if len(pages) == 0 {
		return -1, fmt.Errorf("changeset without pages: %w", dberrors.ErrInvalidArgument)
	}
	if j.disableLogging {
		return -1, nil
	}

	idx, err := j.switchFilesMaybe()
	if err != nil {
		return -1, err
	}

	hdr := entryHeader{
		LSN:  lsn,
		Kind: KindChangeset,
		// patched below once the page sizes are known
		FollowupSize: changesetSubSize,
	}
	sub := ChangesetHeader{
		NumPages:     uint32(len(pages)),
		LastBlobPage: lastBlobPage,
	}

	entryPosition := j.buffers[idx].Len()
	j.appendEntry(idx, encodeHeader(hdr), encodeChangesetSub(sub))

	for _, page := range pages {
		hdr.FollowupSize += j.appendChangesetPage(idx, page)
		if err := j.inducer.induce(CrashBetweenPages); err != nil {
			return -1, err
		}
	}

	if err := j.inducer.induce(CrashBeforePatch); err != nil {
		return -1, err
	}

	j.buffers[idx].Overwrite(entryPosition, encodeHeader(hdr))

	if err := j.flushBuffer(idx, j.enableFsync); err != nil {
		return -1, err
	}

	if err := j.inducer.induce(CrashAfterFlush); err != nil {
		return -1, err
	}

	// Kept open until the page manager confirms the dirty pages have
	// reached the page file; ChangesetFlushed closes it.
	j.openTxn[idx]++
	return idx, nil
}

func (j *Journal) appendChangesetPage(idx int, page ChangesetPage) uint32 {
	ph := pageHeader{Address: page.Address}

	if j.compressor != nil {
		j.countBytesBefore.Add(uint64(len(page.Data)))
		j.collector.IncCounter(metrics.JournalBytesBeforeComp, nil, float64(len(page.Data)))
		compressed, err := j.compressor.Compress(page.Data)
		if err == nil && len(compressed) < len(page.Data) {
			ph.CompressedSize = uint32(len(compressed))
			j.appendEntry(idx, encodePageHeader(ph), compressed)
			j.countBytesAfter.Add(uint64(len(compressed)))
			j.collector.IncCounter(metrics.JournalBytesAfterComp, nil, float64(len(compressed)))
			return ph.CompressedSize + pageHeaderSize
		}
		j.countBytesAfter.Add(uint64(len(page.Data)))
		j.collector.IncCounter(metrics.JournalBytesAfterComp, nil, float64(len(page.Data)))
	}

	j.appendEntry(idx, encodePageHeader(ph), page.Data)
	return uint32(len(page.Data)) + pageHeaderSize
}

// compressPayload offers a payload to the compressor and returns the
// stored form and its length. The raw form is returned when
// compression is disabled or does not shrink the payload; the ratio
// counters are updated in all cases.
func (j *Journal) compressPayload(data []byte) ([]byte, uint32) {
	if j.compressor == nil {
		return data, uint32(len(data))
	}

	j.countBytesBefore.Add(uint64(len(data)))
	j.collector.IncCounter(metrics.JournalBytesBeforeComp, nil, float64(len(data)))

	out, size := data, uint32(len(data))
	if compressed, err := j.compressor.Compress(data); err == nil &&
		len(compressed) < len(data) {
		out, size = compressed, uint32(len(compressed))
	}

	j.countBytesAfter.Add(uint64(size))
	j.collector.IncCounter(metrics.JournalBytesAfterComp, nil, float64(size))
	return out, size
}

// ChangesetFlushed marks the changeset on file fd as captured on
// disk.
func (j *Journal) ChangesetFlushed(fd int) {
	j.openTxn[fd]--
	j.closedTxn[fd]++
}

// TransactionFlushed marks a committed transaction as captured on
// disk.
func (j *Journal) TransactionFlushed(t Transaction) {
	if j.disableLogging {
		return
	}
	idx := t.LogDesc()
	j.openTxn[idx]--
	j.closedTxn[idx]++
}

func (j *Journal) appendEntry(idx int, chunks ...[]byte) {
	j.buffers[idx].Append(chunks...)
}

func (j *Journal) maybeFlushBuffer(idx int) error {
	if j.buffers[idx].Len() > bufferHighWaterMark {
		return j.flushBuffer(idx, false)
	}
	return nil
}

func (j *Journal) flushBuffer(idx int, fsync bool) error {
	if j.buffers[idx].Len() > 0 {
		n, err := j.files[idx].Write(j.buffers[idx].Bytes())
		if err != nil {
			return fmt.Errorf("flush journal file %d: %w", idx, err)
		}
		j.buffers[idx].Reset()
		j.countBytesFlushed.Add(uint64(n))
		j.collector.IncCounter(metrics.JournalBytesFlushed, nil, float64(n))
	}
	if fsync {
		if err := j.files[idx].Sync(); err != nil {
			return fmt.Errorf("fsync journal file %d: %w", idx, err)
		}
	}
	return nil
}

// clearFile truncates a file to zero length and resets its counters
// and buffer.
func (j *Journal) clearFile(idx int) error {
	if j.files[idx] != nil {
		if err := j.files[idx].Truncate(0); err != nil {
			return fmt.Errorf("truncate journal file %d: %w", idx, err)
		}
	}
	j.openTxn[idx] = 0
	j.closedTxn[idx] = 0
	j.buffers[idx].Reset()
	return nil
}

// Clear truncates both files. Called after a clean shutdown and after
// a completed recovery.
func (j *Journal) Clear() error {
	for i := 0; i < 2; i++ {
		if err := j.clearFile(i); err != nil {
			return err
		}
	}
	return nil
}

// Close closes both files. With noclear the buffers are flushed and
// the files left intact so their contents can be inspected; otherwise
// the pair is truncated.
func (j *Journal) Close(noclear bool) error {
	if noclear {
		for i := 0; i < 2; i++ {
			if err := j.flushBuffer(i, false); err != nil {
				return err
			}
		}
	} else {
		if err := j.Clear(); err != nil {
			return err
		}
	}

	for i := 0; i < 2; i++ {
		if j.files[i] != nil {
			if err := j.files[i].Close(); err != nil {
				return fmt.Errorf("close journal file %d: %w", i, err)
			}
			j.files[i] = nil
		}
		j.buffers[i].Reset()
	}
	return nil
}

// fileSize reports the on-disk size of file idx, excluding buffered
// bytes.
func (j *Journal) fileSize(idx int) (uint64, error) {
	st, err := j.files[idx].Stat()
	if err != nil {
		return 0, err
	}
	return uint64(st.Size()), nil
}

// CurrentFile reports which file is the write target.
func (j *Journal) CurrentFile() int { return j.currentFd }

// OpenTxnCount reports the open-transaction counter of file idx.
func (j *Journal) OpenTxnCount(idx int) uint32 { return j.openTxn[idx] }

// ClosedTxnCount reports the closed-transaction counter of file idx.
func (j *Journal) ClosedTxnCount(idx int) uint32 { return j.closedTxn[idx] }

// BytesFlushed reports the total bytes written to both files.
func (j *Journal) BytesFlushed() uint64 { return j.countBytesFlushed.Load() }

// CompressionRatio reports the bytes offered to and produced by the
// compressor.
func (j *Journal) CompressionRatio() (before, after uint64) {
	return j.countBytesBefore.Load(), j.countBytesAfter.Load()
}
