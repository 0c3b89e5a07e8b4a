// Package refcache manages the locally stored copy of the
// server-authoritative product and category reference data.
//
// The cache is refreshed wholesale: every successful save clears both
// reference partitions, bulk-inserts the new snapshot and stamps the
// cache metadata, all in one unit of work. Between refreshes, single
// products may be patched in place so the UI stays consistent with
// mutations that are still queued for the server.
package refcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fabricedemange/coopaz-offline/codec"
	"github.com/fabricedemange/coopaz-offline/model"
	"github.com/fabricedemange/coopaz-offline/store"
)

// metaKey is the cache-metadata singleton key.
const metaKey = "cache"

// Manager persists and reads the reference cache.
type Manager struct {
	store *store.Store
	codec codec.Codec
	now   func() time.Time
}

// NewManager returns a Manager on top of s. A nil c defaults to
// codec.Default.
func NewManager(s *store.Store, c codec.Codec) *Manager {
	if c == nil {
		c = codec.Default
	}
	return &Manager{store: s, codec: c, now: time.Now}
}

func productKey(id int64) string {
	return fmt.Sprintf("%012d", id)
}

// SaveCache atomically replaces both reference partitions with deep,
// plain-data snapshots of products and categories and stamps the
// cache metadata with the current time. The metadata singleton exists if
// and only if at least one of the partitions is non-empty.
func (m *Manager) SaveCache(ctx context.Context, products []model.Product, categories []model.Category) error {
	plainProducts, err := codec.Clone(m.codec, products)
	if err != nil {
		return fmt.Errorf("snapshot products: %w", err)
	}
	plainCategories, err := codec.Clone(m.codec, categories)
	if err != nil {
		return fmt.Errorf("snapshot categories: %w", err)
	}

	return m.store.Update(ctx, func(tx *store.Txn) error {
		if err := tx.ClearPartition(store.PartitionProducts); err != nil {
			return err
		}
		if err := tx.ClearPartition(store.PartitionCategories); err != nil {
			return err
		}
		for _, p := range plainProducts {
			if err := tx.Put(store.PartitionProducts, productKey(p.ID), p); err != nil {
				return err
			}
		}
		for _, c := range plainCategories {
			if err := tx.Put(store.PartitionCategories, productKey(c.ID), c); err != nil {
				return err
			}
		}
		if len(plainProducts) == 0 && len(plainCategories) == 0 {
			return tx.Delete(store.PartitionMeta, metaKey)
		}
		return tx.Put(store.PartitionMeta, metaKey, model.CacheInfo{LastSync: m.now().UTC()})
	})
}

// GetCache reads both reference partitions. It returns nil when both are
// empty; the presence of any data in either partition counts as usable.
// Products are ordered by ID, categories by position then ID.
func (m *Manager) GetCache(ctx context.Context) (*model.ReferenceData, error) {
	var data model.ReferenceData
	err := m.store.View(ctx, func(tx *store.Txn) error {
		items, err := tx.ReadPartition(store.PartitionProducts)
		if err != nil {
			return err
		}
		for _, kv := range items {
			var p model.Product
			if err := tx.Decode(kv.Value, &p); err != nil {
				return fmt.Errorf("decode product %s: %w", kv.Key, err)
			}
			data.Products = append(data.Products, p)
		}
		items, err = tx.ReadPartition(store.PartitionCategories)
		if err != nil {
			return err
		}
		for _, kv := range items {
			var c model.Category
			if err := tx.Decode(kv.Value, &c); err != nil {
				return fmt.Errorf("decode category %s: %w", kv.Key, err)
			}
			data.Categories = append(data.Categories, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(data.Products) == 0 && len(data.Categories) == 0 {
		return nil, nil
	}
	sort.Slice(data.Categories, func(i, j int) bool {
		a, b := data.Categories[i], data.Categories[j]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.ID < b.ID
	})
	return &data, nil
}

// HasUsableCache reports whether GetCache would return data. Errors
// count as unusable.
func (m *Manager) HasUsableCache(ctx context.Context) bool {
	data, err := m.GetCache(ctx)
	return err == nil && data != nil
}

// LastSync returns the timestamp of the last successful cache refresh.
// ok is false when the cache is empty.
func (m *Manager) LastSync(ctx context.Context) (time.Time, bool) {
	var info model.CacheInfo
	err := m.store.Get(ctx, store.PartitionMeta, metaKey, &info)
	if err != nil {
		return time.Time{}, false
	}
	return info.LastSync, true
}

// UpdateEAN patches the secondary identifier of one cached product in
// place, so the UI reflects a queued mutation before the server has
// acknowledged it. A product missing from the cache is a silent no-op.
func (m *Manager) UpdateEAN(ctx context.Context, productID int64, value *string) error {
	return m.store.Update(ctx, func(tx *store.Txn) error {
		var p model.Product
		err := tx.Get(store.PartitionProducts, productKey(productID), &p)
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		p.EAN = value
		return tx.Put(store.PartitionProducts, productKey(productID), p)
	})
}
