package store

import (
	"context"
	"fmt"
	"sort"

	badger "github.com/dgraph-io/badger/v4"
)

// Migration is one additive, idempotent schema upgrade step. Steps are
// applied in ascending Version order; each step runs in its own
// transaction together with the version bump, so an interrupted upgrade
// resumes at the first unapplied step.
type Migration struct {
	Version uint32
	Name    string
	Run     func(tx *Txn) error
}

// SchemaVersion returns the current persisted schema version (0 for a
// fresh store).
func (s *Store) SchemaVersion(ctx context.Context) (uint32, error) {
	var v uint32
	err := s.View(ctx, func(tx *Txn) error {
		item, err := tx.txn.Get([]byte(versionKey))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return mapEngineErr("read schema version", err)
		}
		return item.Value(func(val []byte) error {
			v = decodeVersion(val)
			return nil
		})
	})
	return v, err
}

func (s *Store) migrate(ctx context.Context, target uint32, migrations []Migration) error {
	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("%w: read schema version: %w", ErrMigrationFailed, err)
	}
	if current >= target {
		// Already at or above target: run nothing.
		return nil
	}

	pending := make([]Migration, 0, len(migrations))
	for _, m := range migrations {
		if m.Version > current && m.Version <= target {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

	for _, m := range pending {
		err := s.Update(ctx, func(tx *Txn) error {
			if m.Run != nil {
				if err := m.Run(tx); err != nil {
					return err
				}
			}
			return tx.txn.Set([]byte(versionKey), encodeVersion(m.Version))
		})
		if err != nil {
			return fmt.Errorf("%w: step %d (%s): %w", ErrMigrationFailed, m.Version, m.Name, err)
		}
		s.logger.InfoContext(ctx, "schema migration applied",
			"version", m.Version,
			"name", m.Name,
		)
	}

	// Record the target even when no step carries its number, so the
	// next open is a no-op.
	err = s.Update(ctx, func(tx *Txn) error {
		return tx.txn.Set([]byte(versionKey), encodeVersion(target))
	})
	if err != nil {
		return fmt.Errorf("%w: finalize version %d: %w", ErrMigrationFailed, target, err)
	}
	return nil
}
