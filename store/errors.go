package store

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

var (
	// ErrStoreUnavailable is returned when the durable-storage engine
	// cannot be opened in this execution environment (missing directory
	// permissions, lock held by another process, unsupported platform).
	// Callers must degrade to online-only operation.
	ErrStoreUnavailable = errors.New("durable store unavailable")

	// ErrTransactionFailed is returned on storage-engine errors such as
	// write conflicts or exhausted quota. It is transient; the caller may
	// retry the same logical operation.
	ErrTransactionFailed = errors.New("store transaction failed")

	// ErrMigrationFailed is returned when a schema migration step fails.
	// It is fatal for that open attempt; no partially migrated store is
	// ever returned.
	ErrMigrationFailed = errors.New("schema migration failed")

	// ErrKeyNotFound is returned by Get for a missing key.
	ErrKeyNotFound = errors.New("key not found")
)

// mapEngineErr translates storage-engine errors into the package's error
// taxonomy. It is applied only where the error provably came from the
// engine (Txn call sites, commit); application errors returned by a
// View/Update callback never pass through it, so only genuine engine
// failures carry the retryable ErrTransactionFailed.
func mapEngineErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrKeyNotFound) || errors.Is(err, ErrTransactionFailed) {
		return err
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s: %w", op, ErrKeyNotFound)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransactionFailed, err)
}
