package types

// Key is an immutable byte slice type alias used for clarity.
type Key = []byte

// Value is an immutable byte slice type alias used for clarity.
type Value = []byte

// LSN is the log sequence number assigned by the engine to each
// journaled event. LSNs increase monotonically across the lifetime of
// an environment.
type LSN uint64

// TxnID identifies a transaction. Zero denotes a temporary
// (auto-committed) operation.
type TxnID uint64

// DBName is the numeric identifier of a database inside an
// environment. It is recorded in every journaled insert and erase.
type DBName uint16

// PageAddress is the byte offset of a page inside the page file.
type PageAddress uint64
