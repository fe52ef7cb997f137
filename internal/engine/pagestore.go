package engine

import (
	"encoding/binary"
	"fmt"
	"sort"

	"jrnldb/internal/journal"
	"jrnldb/pkg/dberrors"
	"jrnldb/pkg/types"
)

// On-disk page layout. The header page at address zero carries the
// catalog; each database serializes into a chain of data pages.
//
//	header page: magic u32, page-size u32, db-count u32,
//	             last-blob-page u64, then {name u16, first-page u64}
//	data page:   next u64 (0 ends the chain), count u32,
//	             then {key-len u32, value-len u32, flags u32, key, value}
const (
	catalogMagic uint32 = 0x4a444231 // "JDB1"

	catalogHeaderSize  = 20
	catalogEntrySize   = 10
	dataPageHeaderSize = 12
	recordHeaderSize   = 12
)

// maxRecordBytes is the largest key+value that fits a single data
// page.
func (e *Env) maxRecordBytes() int {
	return int(e.cfg.Storage.PageSizeBytes) - dataPageHeaderSize - recordHeaderSize
}

// buildPageImages serializes the catalog and every database into page
// images with sequentially assigned addresses. Returns the images and
// the resulting page file size.
func (e *Env) buildPageImages() ([]journal.ChangesetPage, uint64, error) {
	pageSize := int(e.cfg.Storage.PageSizeBytes)

	names := make([]types.DBName, 0, len(e.dbs))
	for name := range e.dbs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	if catalogHeaderSize+len(names)*catalogEntrySize > pageSize {
		return nil, 0, fmt.Errorf("catalog of %d databases exceeds one page: %w",
			len(names), dberrors.ErrInvalidArgument)
	}

	var images []journal.ChangesetPage
	firstPages := make(map[types.DBName]uint64, len(names))
	nextAddr := uint64(pageSize) // address 0 is the header page

	for _, name := range names {
		db := e.dbs[name]

		// partition records into pages
		var pages [][]byte
		cur := make([]byte, dataPageHeaderSize, pageSize)
		count := 0
		flush := func() {
			binary.LittleEndian.PutUint32(cur[8:12], uint32(count))
			pages = append(pages, cur)
			cur = make([]byte, dataPageHeaderSize, pageSize)
			count = 0
		}
		db.ForEach(func(key []byte, rec Record) bool {
			need := recordHeaderSize + len(key) + len(rec.Value)
			if len(cur)+need > pageSize {
				flush()
			}
			var hdr [recordHeaderSize]byte
			binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(key)))
			binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(rec.Value)))
			binary.LittleEndian.PutUint32(hdr[8:12], rec.Flags)
			cur = append(cur, hdr[:]...)
			cur = append(cur, key...)
			cur = append(cur, rec.Value...)
			count++
			return true
		})
		if count > 0 {
			flush()
		}

		if len(pages) == 0 {
			firstPages[name] = 0
			continue
		}

		firstPages[name] = nextAddr
		for i, p := range pages {
			addr := nextAddr
			nextAddr += uint64(pageSize)
			if i < len(pages)-1 {
				binary.LittleEndian.PutUint64(p[0:8], nextAddr)
			}
			images = append(images, journal.ChangesetPage{Address: addr, Data: p})
		}
	}

	// pad every image to the full page size
	for i := range images {
		img := images[i]
		padded := make([]byte, pageSize)
		copy(padded, img.Data)
		images[i].Data = padded
	}

	header := make([]byte, pageSize)
	binary.LittleEndian.PutUint32(header[0:4], catalogMagic)
	binary.LittleEndian.PutUint32(header[4:8], uint32(pageSize))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(names)))
	binary.LittleEndian.PutUint64(header[12:20], e.lastBlobPage)
	off := catalogHeaderSize
	for _, name := range names {
		binary.LittleEndian.PutUint16(header[off:off+2], uint16(name))
		binary.LittleEndian.PutUint64(header[off+2:off+10], firstPages[name])
		off += catalogEntrySize
	}

	images = append([]journal.ChangesetPage{{Address: 0, Data: header}}, images...)
	return images, nextAddr, nil
}

// loadCatalogLocked re-reads the catalog and all database stores from
// the page file. An empty file is an empty environment.
func (e *Env) loadCatalogLocked() error {
	size, err := e.dev.FileSize()
	if err != nil {
		return err
	}

	e.dbs = make(map[types.DBName]*Database)
	e.lastBlobPage = 0
	if size == 0 {
		return nil
	}

	header, err := e.dev.ReadPage(0)
	if err != nil {
		return err
	}
	if binary.LittleEndian.Uint32(header[0:4]) != catalogMagic {
		return fmt.Errorf("page file header has bad magic: %w", dberrors.ErrCorrupt)
	}
	if got := binary.LittleEndian.Uint32(header[4:8]); got != e.cfg.Storage.PageSizeBytes {
		return fmt.Errorf("page file uses page size %d, configured %d: %w",
			got, e.cfg.Storage.PageSizeBytes, dberrors.ErrInvalidArgument)
	}

	dbCount := binary.LittleEndian.Uint32(header[8:12])
	e.lastBlobPage = binary.LittleEndian.Uint64(header[12:20])

	off := catalogHeaderSize
	for i := uint32(0); i < dbCount; i++ {
		if off+catalogEntrySize > len(header) {
			return fmt.Errorf("catalog overruns header page: %w", dberrors.ErrCorrupt)
		}
		name := types.DBName(binary.LittleEndian.Uint16(header[off : off+2]))
		firstPage := binary.LittleEndian.Uint64(header[off+2 : off+10])
		off += catalogEntrySize

		db := newDatabase(e, name)
		if err := e.loadChain(db, firstPage); err != nil {
			return err
		}
		e.dbs[name] = db
	}
	return nil
}

func (e *Env) loadChain(db *Database, addr uint64) error {
	for addr != 0 {
		page, err := e.dev.ReadPage(addr)
		if err != nil {
			return err
		}
		next := binary.LittleEndian.Uint64(page[0:8])
		count := binary.LittleEndian.Uint32(page[8:12])

		off := dataPageHeaderSize
		for i := uint32(0); i < count; i++ {
			if off+recordHeaderSize > len(page) {
				return fmt.Errorf("record overruns data page at %d: %w",
					addr, dberrors.ErrCorrupt)
			}
			klen := int(binary.LittleEndian.Uint32(page[off : off+4]))
			vlen := int(binary.LittleEndian.Uint32(page[off+4 : off+8]))
			flags := binary.LittleEndian.Uint32(page[off+8 : off+12])
			off += recordHeaderSize
			if off+klen+vlen > len(page) {
				return fmt.Errorf("record overruns data page at %d: %w",
					addr, dberrors.ErrCorrupt)
			}
			key := append([]byte(nil), page[off:off+klen]...)
			value := append([]byte(nil), page[off+klen:off+klen+vlen]...)
			off += klen + vlen

			db.store.Store(key, Record{Value: value, Flags: flags})
		}
		addr = next
	}
	return nil
}
