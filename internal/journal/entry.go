package journal

import (
	"encoding/binary"
	"fmt"

	"jrnldb/pkg/dberrors"
	"jrnldb/pkg/types"
)

// Kind enumerates the journal entry kinds. The integral values are
// part of the on-disk format.
type Kind uint8

const (
	KindTxnBegin  Kind = 1
	KindTxnAbort  Kind = 2
	KindTxnCommit Kind = 3
	KindInsert    Kind = 4
	KindErase     Kind = 5
	KindChangeset Kind = 6
)

func (k Kind) String() string {
	switch k {
	case KindTxnBegin:
		return "txn-begin"
	case KindTxnAbort:
		return "txn-abort"
	case KindTxnCommit:
		return "txn-commit"
	case KindInsert:
		return "insert"
	case KindErase:
		return "erase"
	case KindChangeset:
		return "changeset"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// On-disk sizes. All integers are little-endian. The fixed header is
// 32 bytes; bytes 24..31 are reserved and must be zero.
const (
	headerSize       = 32
	insertSubSize    = 20
	eraseSubSize     = 16
	changesetSubSize = 12
	pageHeaderSize   = 12
)

// entryHeader is the fixed 32-byte header preceding every payload.
type entryHeader struct {
	LSN          types.LSN
	TxnID        uint64
	FollowupSize uint32
	DBName       types.DBName
	Kind         Kind
}

func encodeHeader(h entryHeader) []byte {
	b := make([]byte, headerSize)
	binary.LittleEndian.PutUint64(b[0:8], uint64(h.LSN))
	binary.LittleEndian.PutUint64(b[8:16], h.TxnID)
	binary.LittleEndian.PutUint32(b[16:20], h.FollowupSize)
	binary.LittleEndian.PutUint16(b[20:22], uint16(h.DBName))
	b[22] = byte(h.Kind)
	return b
}

func decodeHeader(b []byte) (entryHeader, error) {
	if len(b) < headerSize {
		return entryHeader{}, fmt.Errorf("entry header is %d bytes, want %d: %w",
			len(b), headerSize, dberrors.ErrCorrupt)
	}
	for _, v := range b[24:headerSize] {
		if v != 0 {
			return entryHeader{}, fmt.Errorf("entry header has nonzero reserved bytes: %w",
				dberrors.ErrCorrupt)
		}
	}
	return entryHeader{
		LSN:          types.LSN(binary.LittleEndian.Uint64(b[0:8])),
		TxnID:        binary.LittleEndian.Uint64(b[8:16]),
		FollowupSize: binary.LittleEndian.Uint32(b[16:20]),
		DBName:       types.DBName(binary.LittleEndian.Uint16(b[20:22])),
		Kind:         Kind(b[22]),
	}, nil
}

// InsertPayload is the decoded followup of an insert entry. Key and
// Record hold the stored form, compressed when the matching
// Compressed*Size field is nonzero.
type InsertPayload struct {
	KeySize              uint32
	RecordSize           uint32
	CompressedKeySize    uint32
	CompressedRecordSize uint32
	Flags                uint32
	Key                  []byte
	Record               []byte
}

func encodeInsertSub(p InsertPayload) []byte {
	b := make([]byte, insertSubSize)
	binary.LittleEndian.PutUint32(b[0:4], p.KeySize)
	binary.LittleEndian.PutUint32(b[4:8], p.RecordSize)
	binary.LittleEndian.PutUint32(b[8:12], p.CompressedKeySize)
	binary.LittleEndian.PutUint32(b[12:16], p.CompressedRecordSize)
	binary.LittleEndian.PutUint32(b[16:20], p.Flags)
	return b
}

// DecodeInsert parses an insert followup.
func DecodeInsert(payload []byte) (InsertPayload, error) {
	if len(payload) < insertSubSize {
		return InsertPayload{}, fmt.Errorf("insert payload is %d bytes: %w",
			len(payload), dberrors.ErrCorrupt)
	}
	p := InsertPayload{
		KeySize:              binary.LittleEndian.Uint32(payload[0:4]),
		RecordSize:           binary.LittleEndian.Uint32(payload[4:8]),
		CompressedKeySize:    binary.LittleEndian.Uint32(payload[8:12]),
		CompressedRecordSize: binary.LittleEndian.Uint32(payload[12:16]),
		Flags:                binary.LittleEndian.Uint32(payload[16:20]),
	}
	storedKey := p.KeySize
	if p.CompressedKeySize != 0 {
		storedKey = p.CompressedKeySize
	}
	storedRec := p.RecordSize
	if p.CompressedRecordSize != 0 {
		storedRec = p.CompressedRecordSize
	}
	rest := payload[insertSubSize:]
	if uint64(len(rest)) != uint64(storedKey)+uint64(storedRec) {
		return InsertPayload{}, fmt.Errorf("insert payload is %d bytes, want %d: %w",
			len(rest), storedKey+storedRec, dberrors.ErrCorrupt)
	}
	p.Key = rest[:storedKey]
	p.Record = rest[storedKey:]
	return p, nil
}

// ErasePayload is the decoded followup of an erase entry.
type ErasePayload struct {
	KeySize           uint32
	CompressedKeySize uint32
	Flags             uint32
	DupIndex          int32
	Key               []byte
}

func encodeEraseSub(p ErasePayload) []byte {
	b := make([]byte, eraseSubSize)
	binary.LittleEndian.PutUint32(b[0:4], p.KeySize)
	binary.LittleEndian.PutUint32(b[4:8], p.CompressedKeySize)
	binary.LittleEndian.PutUint32(b[8:12], p.Flags)
	binary.LittleEndian.PutUint32(b[12:16], uint32(p.DupIndex))
	return b
}

// DecodeErase parses an erase followup.
func DecodeErase(payload []byte) (ErasePayload, error) {
	if len(payload) < eraseSubSize {
		return ErasePayload{}, fmt.Errorf("erase payload is %d bytes: %w",
			len(payload), dberrors.ErrCorrupt)
	}
	p := ErasePayload{
		KeySize:           binary.LittleEndian.Uint32(payload[0:4]),
		CompressedKeySize: binary.LittleEndian.Uint32(payload[4:8]),
		Flags:             binary.LittleEndian.Uint32(payload[8:12]),
		DupIndex:          int32(binary.LittleEndian.Uint32(payload[12:16])),
	}
	stored := p.KeySize
	if p.CompressedKeySize != 0 {
		stored = p.CompressedKeySize
	}
	rest := payload[eraseSubSize:]
	if uint64(len(rest)) != uint64(stored) {
		return ErasePayload{}, fmt.Errorf("erase payload is %d bytes, want %d: %w",
			len(rest), stored, dberrors.ErrCorrupt)
	}
	p.Key = rest
	return p, nil
}

// ChangesetHeader is the fixed part of a changeset followup; the page
// headers and bodies follow it.
type ChangesetHeader struct {
	NumPages     uint32
	LastBlobPage uint64
}

func encodeChangesetSub(h ChangesetHeader) []byte {
	b := make([]byte, changesetSubSize)
	binary.LittleEndian.PutUint32(b[0:4], h.NumPages)
	binary.LittleEndian.PutUint64(b[4:12], h.LastBlobPage)
	return b
}

// DecodeChangesetHeader parses the fixed part of a changeset followup.
func DecodeChangesetHeader(payload []byte) (ChangesetHeader, error) {
	if len(payload) < changesetSubSize {
		return ChangesetHeader{}, fmt.Errorf("changeset payload is %d bytes: %w",
			len(payload), dberrors.ErrCorrupt)
	}
	return ChangesetHeader{
		NumPages:     binary.LittleEndian.Uint32(payload[0:4]),
		LastBlobPage: binary.LittleEndian.Uint64(payload[4:12]),
	}, nil
}

// pageHeader precedes each page body inside a changeset.
type pageHeader struct {
	Address        uint64
	CompressedSize uint32
}

func encodePageHeader(h pageHeader) []byte {
	b := make([]byte, pageHeaderSize)
	binary.LittleEndian.PutUint64(b[0:8], h.Address)
	binary.LittleEndian.PutUint32(b[8:12], h.CompressedSize)
	return b
}

func decodePageHeader(b []byte) pageHeader {
	return pageHeader{
		Address:        binary.LittleEndian.Uint64(b[0:8]),
		CompressedSize: binary.LittleEndian.Uint32(b[8:12]),
	}
}

// Entry is one journal record as returned by the recovery iterator.
// Payload is the raw followup, still compressed where the writer
// compressed it.
type Entry struct {
	LSN     types.LSN
	TxnID   uint64
	DBName  types.DBName
	Kind    Kind
	Payload []byte
}

// TxnName extracts the transaction name from a txn-begin payload.
func (e Entry) TxnName() string {
	if e.Kind != KindTxnBegin || len(e.Payload) == 0 {
		return ""
	}
	// NUL-terminated
	return string(e.Payload[:len(e.Payload)-1])
}
