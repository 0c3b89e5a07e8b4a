// Package store implements the durable local store of the offline
// subsystem: a versioned, partition-oriented persistent store backed by
// Badger.
//
// Each exported operation is a single atomic unit of work. Callers that
// need writes to several partitions to become visible together (the
// reference-cache replace, for example) group them through Update.
// Schema migrations run inside Open, before any transaction is issued,
// so no operation ever observes a half-migrated store.
package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/fabricedemange/coopaz-offline/codec"
)

// Well-known partitions. Names must not contain '/'.
const (
	PartitionProducts   = "products"
	PartitionCategories = "categories"
	PartitionMeta       = "meta"
	PartitionDraft      = "draft"
	PartitionQueue      = "queue"
)

const (
	dataPrefix = "p/"
	versionKey = "s/version"
)

// Options configures Open.
type Options struct {
	// Dir is the storage directory. Ignored when InMemory is set.
	Dir string

	// InMemory runs the engine without touching the filesystem. Intended
	// for tests.
	InMemory bool

	// SchemaVersion is the target schema version. A store already at or
	// above this version runs no migration.
	SchemaVersion uint32

	// Migrations are the ordered upgrade steps. Steps with
	// Version <= current or Version > SchemaVersion are skipped.
	Migrations []Migration

	// Codec encodes persisted values. Defaults to codec.Default.
	Codec codec.Codec

	// Logger receives migration and lifecycle logs. Defaults to silent.
	Logger *slog.Logger
}

// Store is a handle to the durable local store.
type Store struct {
	db     *badger.DB
	codec  codec.Codec
	logger *slog.Logger
}

// Open opens the store and brings its schema up to the target version.
//
// It fails with ErrStoreUnavailable when the engine cannot be opened in
// this environment, and with ErrMigrationFailed when an upgrade step
// fails (the handle is closed and nothing is returned in that case).
func Open(ctx context.Context, opts Options) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := opts.Codec
	if c == nil {
		c = codec.Default
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	bo := badger.DefaultOptions(opts.Dir).WithLogger(nil)
	if opts.InMemory {
		bo = bo.WithInMemory(true).WithDir("").WithValueDir("")
	}
	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	s := &Store{db: db, codec: c, logger: logger}
	if err := s.migrate(ctx, opts.SchemaVersion, opts.Migrations); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying engine. The handle must not be used
// afterwards.
func (s *Store) Close() error {
	return s.db.Close()
}

// KV is one raw partition entry.
type KV struct {
	Key   string
	Value []byte
}

// Encode marshals v with the store's codec.
func (s *Store) Encode(v any) ([]byte, error) { return s.codec.Marshal(v) }

// Decode unmarshals data with the store's codec.
func (s *Store) Decode(data []byte, out any) error { return s.codec.Unmarshal(data, out) }

// View runs fn inside a read-only transaction.
//
// fn's own error is returned untouched: engine failures are already
// classified at the Txn call sites, and application errors (a domain
// sentinel, a decode failure) must not come back stamped with the
// retryable ErrTransactionFailed.
func (s *Store) View(ctx context.Context, fn func(*Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var fnErr error
	err := s.db.View(func(txn *badger.Txn) error {
		fnErr = fn(&Txn{txn: txn, codec: s.codec})
		return fnErr
	})
	if err != nil && fnErr != nil && errors.Is(err, fnErr) {
		return err
	}
	return mapEngineErr("view", err)
}

// Update runs fn inside a read-write transaction. Everything fn does is
// committed atomically; callers must not assume visibility of one
// partition's write from another concurrent operation unless both run in
// the same Update. fn's own error passes through untouched, as in View;
// only commit-time engine failures are classified here.
func (s *Store) Update(ctx context.Context, fn func(*Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var fnErr error
	err := s.db.Update(func(txn *badger.Txn) error {
		fnErr = fn(&Txn{txn: txn, codec: s.codec})
		return fnErr
	})
	if err != nil && fnErr != nil && errors.Is(err, fnErr) {
		return err
	}
	return mapEngineErr("update", err)
}

// ReadPartition returns every entry of the partition in key order.
func (s *Store) ReadPartition(ctx context.Context, name string) ([]KV, error) {
	var items []KV
	err := s.View(ctx, func(tx *Txn) error {
		var err error
		items, err = tx.ReadPartition(name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// WritePartition atomically replaces the whole partition with items
// (clear-then-bulk-insert).
func (s *Store) WritePartition(ctx context.Context, name string, items []KV) error {
	return s.Update(ctx, func(tx *Txn) error {
		if err := tx.ClearPartition(name); err != nil {
			return err
		}
		for _, kv := range items {
			if err := tx.PutRaw(name, kv.Key, kv.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

// DropPartition removes the partition and all its entries.
func (s *Store) DropPartition(ctx context.Context, name string) error {
	return s.Update(ctx, func(tx *Txn) error {
		return tx.ClearPartition(name)
	})
}

// Partitions lists the names of non-empty partitions starting with
// prefix, sorted. An empty prefix lists everything.
func (s *Store) Partitions(ctx context.Context, prefix string) ([]string, error) {
	seen := map[string]struct{}{}
	err := s.View(ctx, func(tx *Txn) error {
		it := tx.txn.NewIterator(badger.IteratorOptions{Prefix: []byte(dataPrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := string(it.Item().Key())
			rest := strings.TrimPrefix(k, dataPrefix)
			name, _, ok := strings.Cut(rest, "/")
			if !ok || !strings.HasPrefix(name, prefix) {
				continue
			}
			seen[name] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Get reads one value. Returns ErrKeyNotFound for a missing key.
func (s *Store) Get(ctx context.Context, partition, key string, out any) error {
	return s.View(ctx, func(tx *Txn) error {
		return tx.Get(partition, key, out)
	})
}

// Put writes one value.
func (s *Store) Put(ctx context.Context, partition, key string, v any) error {
	return s.Update(ctx, func(tx *Txn) error {
		return tx.Put(partition, key, v)
	})
}

// Delete removes one key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, partition, key string) error {
	return s.Update(ctx, func(tx *Txn) error {
		return tx.Delete(partition, key)
	})
}

// Txn is one unit of work against the store. It is only valid for the
// duration of the View/Update call that produced it.
type Txn struct {
	txn   *badger.Txn
	codec codec.Codec
}

func dataKey(partition, key string) []byte {
	return []byte(dataPrefix + partition + "/" + key)
}

// Get reads one value into out. Returns ErrKeyNotFound for a missing
// key.
func (t *Txn) Get(partition, key string, out any) error {
	item, err := t.txn.Get(dataKey(partition, key))
	if err != nil {
		return mapEngineErr("get "+partition+"/"+key, err)
	}
	return item.Value(func(val []byte) error {
		return t.codec.Unmarshal(val, out)
	})
}

// Put writes one value encoded with the store's codec.
func (t *Txn) Put(partition, key string, v any) error {
	data, err := t.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", partition, key, err)
	}
	return t.PutRaw(partition, key, data)
}

// PutRaw writes pre-encoded bytes.
func (t *Txn) PutRaw(partition, key string, data []byte) error {
	return mapEngineErr("put "+partition+"/"+key, t.txn.Set(dataKey(partition, key), data))
}

// Delete removes one key.
func (t *Txn) Delete(partition, key string) error {
	return mapEngineErr("delete "+partition+"/"+key, t.txn.Delete(dataKey(partition, key)))
}

// ReadPartition returns every entry of the partition in key order, with
// partition-relative keys.
func (t *Txn) ReadPartition(name string) ([]KV, error) {
	prefix := dataPrefix + name + "/"
	var items []KV
	it := t.txn.NewIterator(badger.IteratorOptions{
		Prefix:         []byte(prefix),
		PrefetchValues: true,
	})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return nil, mapEngineErr("read "+name, err)
		}
		items = append(items, KV{
			Key:   strings.TrimPrefix(string(item.Key()), prefix),
			Value: val,
		})
	}
	return items, nil
}

// ClearPartition removes every entry of the partition.
func (t *Txn) ClearPartition(name string) error {
	prefix := dataPrefix + name + "/"
	it := t.txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefix)})
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	for _, k := range keys {
		if err := t.txn.Delete(k); err != nil {
			return mapEngineErr("clear "+name, err)
		}
	}
	return nil
}

// Decode unmarshals data with the transaction's codec.
func (t *Txn) Decode(data []byte, out any) error { return t.codec.Unmarshal(data, out) }

// Encode marshals v with the transaction's codec.
func (t *Txn) Encode(v any) ([]byte, error) { return t.codec.Marshal(v) }

func encodeVersion(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func decodeVersion(b []byte) uint32 {
	if len(b) != 4 {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}
