package journal

import (
	"io"

	"jrnldb/pkg/types"
)

// Iterator walks both journal files in chronological order. The zero
// value starts at the beginning: the first read positions it on the
// retired file, which is chronologically older than the current one.
type Iterator struct {
	fdStart int
	fdCur   int
	offset  uint64
}

// NextEntry reads the next entry. It returns false at the end of the
// log — including on any read failure, because a torn tail is the
// expected crash signature and recovery must stop there rather than
// risk replaying garbage.
func (j *Journal) NextEntry(it *Iterator) (Entry, bool) {
	// offset 0 means the iterator was created from scratch; start on
	// the file that is NOT current.
	if it.offset == 0 {
		it.fdStart = 1 - j.currentFd
		it.fdCur = it.fdStart
	}

	size, err := j.fileSize(it.fdCur)
	if err != nil {
		j.log.Warn("failed to stat journal file, aborting iteration",
			"file", it.fdCur, "error", err)
		return Entry{}, false
	}

	// Reached EOF? Then either skip to the next file or we're done.
	if size == it.offset {
		if it.fdStart == it.fdCur {
			it.fdCur = 1 - it.fdCur
			it.offset = 0
			if size, err = j.fileSize(it.fdCur); err != nil {
				return Entry{}, false
			}
		} else {
			return Entry{}, false
		}
	}

	// Second file is also empty?
	if size == it.offset {
		return Entry{}, false
	}

	e, n, ok := j.readEntryAt(it.fdCur, it.offset)
	if !ok {
		return Entry{}, false
	}
	it.offset += n
	return e, true
}

// readEntryAt reads one entry at the given offset. A short or failed
// read reports !ok.
func (j *Journal) readEntryAt(idx int, offset uint64) (Entry, uint64, bool) {
	var hdrBuf [headerSize]byte
	if _, err := j.files[idx].ReadAt(hdrBuf[:], int64(offset)); err != nil {
		if err != io.EOF {
			j.log.Warn("failed to read journal entry, aborting recovery",
				"file", idx, "offset", offset, "error", err)
		}
		return Entry{}, 0, false
	}
	hdr, err := decodeHeader(hdrBuf[:])
	if err != nil {
		return Entry{}, 0, false
	}

	e := Entry{
		LSN:    hdr.LSN,
		TxnID:  hdr.TxnID,
		DBName: hdr.DBName,
		Kind:   hdr.Kind,
	}
	if hdr.FollowupSize > 0 {
		e.Payload = make([]byte, hdr.FollowupSize)
		if _, err := j.files[idx].ReadAt(e.Payload, int64(offset)+headerSize); err != nil {
			j.log.Warn("failed to read journal payload, aborting recovery",
				"file", idx, "offset", offset, "error", err)
			return Entry{}, 0, false
		}
	}
	return e, headerSize + uint64(hdr.FollowupSize), true
}

// Entries walks file idx from the start, invoking fn for each entry
// until fn returns false or the file ends. A torn tail ends the walk
// like a regular end of file.
func (j *Journal) Entries(idx int, fn func(offset uint64, e Entry) bool) error {
	size, err := j.fileSize(idx)
	if err != nil {
		return err
	}
	var offset uint64
	for offset < size {
		e, n, ok := j.readEntryAt(idx, offset)
		if !ok || e.LSN == 0 {
			return nil
		}
		if !fn(offset, e) {
			return nil
		}
		offset += n
	}
	return nil
}

// scanForOldestChangeset walks file idx from the start and returns
// the LSN of its first changeset, or zero when the file holds none
// (or becomes unreadable first).
func (j *Journal) scanForOldestChangeset(idx int) types.LSN {
	size, err := j.fileSize(idx)
	if err != nil {
		return 0
	}

	var offset uint64
	var hdrBuf [headerSize]byte
	for offset < size {
		if _, err := j.files[idx].ReadAt(hdrBuf[:], int64(offset)); err != nil {
			break
		}
		hdr, err := decodeHeader(hdrBuf[:])
		if err != nil || hdr.LSN == 0 {
			break
		}
		if hdr.Kind == KindChangeset {
			return hdr.LSN
		}
		offset += headerSize + uint64(hdr.FollowupSize)
	}
	return 0
}

// scanForFirstLSN returns the LSN of the first entry of file idx, or
// zero for an empty or unreadable file.
func (j *Journal) scanForFirstLSN(idx int) types.LSN {
	var hdrBuf [headerSize]byte
	if _, err := j.files[idx].ReadAt(hdrBuf[:], 0); err != nil {
		return 0
	}
	hdr, err := decodeHeader(hdrBuf[:])
	if err != nil {
		return 0
	}
	return hdr.LSN
}
