package offline

import (
	"errors"
	"fmt"

	"github.com/fabricedemange/coopaz-offline/client"
	"github.com/fabricedemange/coopaz-offline/draft"
	"github.com/fabricedemange/coopaz-offline/store"
	"github.com/fabricedemange/coopaz-offline/syncq"
)

var (
	// ErrNoDraft is returned when an operation needs an active draft
	// session and none exists.
	ErrNoDraft = errors.New("no draft session")

	// ErrNotFound is returned when a record is not in the local store.
	ErrNotFound = errors.New("not found")
)

// Sentinels from the underlying packages, surfaced here so callers can
// match them without importing the internals.
var (
	ErrStoreUnavailable  = store.ErrStoreUnavailable
	ErrTransactionFailed = store.ErrTransactionFailed
	ErrMigrationFailed   = store.ErrMigrationFailed
	ErrDraftActive       = draft.ErrDraftActive
	ErrDrainInProgress   = syncq.ErrDrainInProgress
	ErrServerUnavailable = client.ErrUnavailable
)

// translateError normalizes errors crossing the facade boundary.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, store.ErrKeyNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	return err
}
