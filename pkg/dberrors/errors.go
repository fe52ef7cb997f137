package dberrors

import "errors"

var (
	ErrKeyNotFound      = errors.New("jrnldb: key not found")
	ErrDuplicateKey     = errors.New("jrnldb: duplicate key")
	ErrDatabaseNotFound = errors.New("jrnldb: database not found")
	ErrClosed           = errors.New("jrnldb: closed")
	ErrInvalidArgument  = errors.New("jrnldb: invalid argument")
	ErrTxnClosed        = errors.New("jrnldb: transaction already terminated")

	// ErrCorrupt is fatal during recovery: the journal holds an entry
	// kind we cannot interpret, or a payload that fails to decode.
	ErrCorrupt = errors.New("jrnldb: journal corrupt")

	// ErrSimulatedCrash is returned by armed crash-injection
	// checkpoints during tests.
	ErrSimulatedCrash = errors.New("jrnldb: simulated crash")
)
