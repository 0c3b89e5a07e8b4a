package refcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabricedemange/coopaz-offline/model"
	"github.com/fabricedemange/coopaz-offline/store"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	s, err := store.Open(context.Background(), store.Options{InMemory: true, SchemaVersion: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewManager(s, nil)
}

func sampleData() ([]model.Product, []model.Category) {
	ean := "3017620422003"
	products := []model.Product{
		{ID: 11, Name: "Pâtes complètes", CategoryID: 2, Stock: 40},
		{ID: 10, Name: "Farine T65", CategoryID: 2, Stock: 14.5, EAN: &ean},
	}
	categories := []model.Category{
		{ID: 2, Name: "Épicerie", Position: 1},
		{ID: 5, Name: "Frais", Position: 0},
	}
	return products, categories
}

func TestSaveThenGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	products, categories := sampleData()

	require.NoError(t, m.SaveCache(ctx, products, categories))

	got, err := m.GetCache(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)

	// Products come back in ID order, categories position-first.
	require.Len(t, got.Products, 2)
	assert.Equal(t, int64(10), got.Products[0].ID)
	assert.Equal(t, int64(11), got.Products[1].ID)
	require.NotNil(t, got.Products[0].EAN)
	assert.Equal(t, "3017620422003", *got.Products[0].EAN)

	require.Len(t, got.Categories, 2)
	assert.Equal(t, "Frais", got.Categories[0].Name)
	assert.Equal(t, "Épicerie", got.Categories[1].Name)
}

func TestSaveReplacesWholesale(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	products, categories := sampleData()
	require.NoError(t, m.SaveCache(ctx, products, categories))

	require.NoError(t, m.SaveCache(ctx, []model.Product{{ID: 99, Name: "Nouveau"}}, nil))

	got, err := m.GetCache(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Products, 1)
	assert.Equal(t, int64(99), got.Products[0].ID)
	assert.Empty(t, got.Categories)
}

func TestUsabilityInvariant(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	// Empty cache: not usable, no metadata.
	assert.False(t, m.HasUsableCache(ctx))
	got, err := m.GetCache(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
	_, ok := m.LastSync(ctx)
	assert.False(t, ok)

	// One non-empty partition counts as usable.
	require.NoError(t, m.SaveCache(ctx, nil, []model.Category{{ID: 1, Name: "Vrac"}}))
	assert.True(t, m.HasUsableCache(ctx))
	got, err = m.GetCache(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	_, ok = m.LastSync(ctx)
	assert.True(t, ok)

	// Emptying the cache removes the metadata again.
	require.NoError(t, m.SaveCache(ctx, nil, nil))
	assert.False(t, m.HasUsableCache(ctx))
	_, ok = m.LastSync(ctx)
	assert.False(t, ok)
}

func TestSaveSnapshotsInput(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	ean := "111"
	products := []model.Product{{ID: 1, Name: "Riz", EAN: &ean}}
	require.NoError(t, m.SaveCache(ctx, products, nil))

	// Mutations through retained references must not reach the store.
	*products[0].EAN = "tampered"
	products[0].Name = "tampered"

	got, err := m.GetCache(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Riz", got.Products[0].Name)
	assert.Equal(t, "111", *got.Products[0].EAN)
}

func TestUpdateEAN(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	products, categories := sampleData()
	require.NoError(t, m.SaveCache(ctx, products, categories))

	newEAN := "4006381333931"
	require.NoError(t, m.UpdateEAN(ctx, 11, &newEAN))

	got, err := m.GetCache(ctx)
	require.NoError(t, err)
	require.NotNil(t, got.Products[1].EAN)
	assert.Equal(t, newEAN, *got.Products[1].EAN)

	// Clearing the value.
	require.NoError(t, m.UpdateEAN(ctx, 11, nil))
	got, err = m.GetCache(ctx)
	require.NoError(t, err)
	assert.Nil(t, got.Products[1].EAN)

	// Unknown product: silent no-op.
	require.NoError(t, m.UpdateEAN(ctx, 404, &newEAN))
}
