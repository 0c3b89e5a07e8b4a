package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Dir == "" && !opts.InMemory {
		opts.Dir = t.TempDir()
	}
	s, err := Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenUnavailableDir(t *testing.T) {
	_, err := Open(context.Background(), Options{Dir: "/proc/no-such-place/db"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Options{InMemory: true})

	type rec struct {
		Name string `json:"name"`
	}

	require.NoError(t, s.Put(ctx, PartitionMeta, "cache", rec{Name: "a"}))

	var out rec
	require.NoError(t, s.Get(ctx, PartitionMeta, "cache", &out))
	assert.Equal(t, "a", out.Name)

	require.NoError(t, s.Delete(ctx, PartitionMeta, "cache"))
	err := s.Get(ctx, PartitionMeta, "cache", &out)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	// Deleting again is not an error.
	require.NoError(t, s.Delete(ctx, PartitionMeta, "cache"))
}

func TestWritePartitionReplacesAll(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Options{InMemory: true})

	first := []KV{
		{Key: "001", Value: []byte(`"one"`)},
		{Key: "002", Value: []byte(`"two"`)},
		{Key: "003", Value: []byte(`"three"`)},
	}
	require.NoError(t, s.WritePartition(ctx, PartitionProducts, first))

	second := []KV{{Key: "009", Value: []byte(`"nine"`)}}
	require.NoError(t, s.WritePartition(ctx, PartitionProducts, second))

	got, err := s.ReadPartition(ctx, PartitionProducts)
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestReadPartitionKeyOrder(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Options{InMemory: true})

	require.NoError(t, s.WritePartition(ctx, PartitionQueue, []KV{
		{Key: "00000000000000000002", Value: []byte("b")},
		{Key: "00000000000000000010", Value: []byte("c")},
		{Key: "00000000000000000001", Value: []byte("a")},
	}))

	got, err := s.ReadPartition(ctx, PartitionQueue)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "00000000000000000001", got[0].Key)
	assert.Equal(t, "00000000000000000002", got[1].Key)
	assert.Equal(t, "00000000000000000010", got[2].Key)
}

func TestPartitionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Options{InMemory: true})

	require.NoError(t, s.Put(ctx, PartitionProducts, "1", "p"))
	require.NoError(t, s.Put(ctx, PartitionCategories, "1", "c"))

	require.NoError(t, s.DropPartition(ctx, PartitionProducts))

	var v string
	require.NoError(t, s.Get(ctx, PartitionCategories, "1", &v))
	assert.Equal(t, "c", v)

	items, err := s.ReadPartition(ctx, PartitionProducts)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestPartitionsListing(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Options{InMemory: true})

	require.NoError(t, s.Put(ctx, "gen:coopaz-inventaire-v2", "u1", "x"))
	require.NoError(t, s.Put(ctx, "gen:coopaz-inventaire-v3", "u1", "x"))
	require.NoError(t, s.Put(ctx, PartitionMeta, "cache", "x"))

	names, err := s.Partitions(ctx, "gen:")
	require.NoError(t, err)
	assert.Equal(t, []string{"gen:coopaz-inventaire-v2", "gen:coopaz-inventaire-v3"}, names)
}

func TestUpdateGroupsPartitions(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Options{InMemory: true})

	err := s.Update(ctx, func(tx *Txn) error {
		if err := tx.Put(PartitionProducts, "1", "p"); err != nil {
			return err
		}
		return tx.Put(PartitionMeta, "cache", "m")
	})
	require.NoError(t, err)

	var v string
	require.NoError(t, s.Get(ctx, PartitionProducts, "1", &v))
	require.NoError(t, s.Get(ctx, PartitionMeta, "cache", &v))
}

func TestCallbackErrorsAreNotTransactionFailures(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Options{InMemory: true})

	appErr := errors.New("domain rule violated")

	err := s.Update(ctx, func(tx *Txn) error {
		return appErr
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErr)
	assert.NotErrorIs(t, err, ErrTransactionFailed)

	err = s.View(ctx, func(tx *Txn) error {
		return appErr
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErr)
	assert.NotErrorIs(t, err, ErrTransactionFailed)

	// Engine-side misses keep their own classification.
	err = s.View(ctx, func(tx *Txn) error {
		var v string
		return tx.Get(PartitionMeta, "absent", &v)
	})
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.NotErrorIs(t, err, ErrTransactionFailed)
}

func TestMigrationsRunInOrderAndPersist(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	var ran []uint32
	migs := []Migration{
		{Version: 2, Name: "second", Run: func(tx *Txn) error {
			ran = append(ran, 2)
			return tx.Put(PartitionMeta, "m2", true)
		}},
		{Version: 1, Name: "first", Run: func(tx *Txn) error {
			ran = append(ran, 1)
			return tx.Put(PartitionMeta, "m1", true)
		}},
	}

	s, err := Open(ctx, Options{Dir: dir, SchemaVersion: 3, Migrations: migs})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, ran)

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), v)
	require.NoError(t, s.Close())

	// Reopening at the same target runs zero steps and preserves data.
	ran = nil
	s2, err := Open(ctx, Options{Dir: dir, SchemaVersion: 3, Migrations: migs})
	require.NoError(t, err)
	defer s2.Close()

	assert.Empty(t, ran)
	var ok bool
	require.NoError(t, s2.Get(ctx, PartitionMeta, "m1", &ok))
	assert.True(t, ok)
}

func TestMigrationFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	boom := []Migration{
		{Version: 1, Name: "ok", Run: func(tx *Txn) error {
			return tx.Put(PartitionMeta, "m1", true)
		}},
		{Version: 2, Name: "boom", Run: func(tx *Txn) error {
			return assert.AnError
		}},
	}

	_, err := Open(ctx, Options{Dir: dir, SchemaVersion: 2, Migrations: boom})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMigrationFailed)

	// The applied prefix survived; a later open resumes past it.
	var resumed []string
	fixed := []Migration{
		{Version: 1, Name: "ok", Run: func(tx *Txn) error {
			resumed = append(resumed, "ok")
			return nil
		}},
		{Version: 2, Name: "fixed", Run: func(tx *Txn) error {
			resumed = append(resumed, "fixed")
			return nil
		}},
	}
	s, err := Open(ctx, Options{Dir: dir, SchemaVersion: 2, Migrations: fixed})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, []string{"fixed"}, resumed)
}

func TestReopenPreservesData(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, Options{Dir: dir, SchemaVersion: 1})
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, PartitionDraft, "current", map[string]any{"id": "local-x"}))
	require.NoError(t, s.Close())

	s2, err := Open(ctx, Options{Dir: dir, SchemaVersion: 1})
	require.NoError(t, err)
	defer s2.Close()

	var out map[string]any
	require.NoError(t, s2.Get(ctx, PartitionDraft, "current", &out))
	assert.Equal(t, "local-x", out["id"])
}
