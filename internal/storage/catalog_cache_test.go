package storage

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/types"
)

func setupCatalogCache(t *testing.T, ttl time.Duration) (*CatalogCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return NewCatalogCache(NewRedisCacheFromClient(client), ttl), mr
}

func testProduct() *models.Product {
	return &models.Product{
		ProductID: "prod-123",
		Provider:  types.ProviderStockX,
		StyleID:   "DD1391-100",
		Title:     "Dunk Low Panda",
		Brand:     "Nike",
		Variants: []models.Variant{
			{VariantID: "var-1", ProductID: "prod-123", Size: "9"},
			{VariantID: "var-2", ProductID: "prod-123", Size: "10"},
		},
		FetchedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestCatalogCache_SetGet(t *testing.T) {
	cache, _ := setupCatalogCache(t, time.Minute)
	ctx := testContext(t)

	product := testProduct()
	require.NoError(t, cache.SetProduct(ctx, product))

	got, hit, err := cache.GetProduct(ctx, types.ProviderStockX, "DD1391-100")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, product.ProductID, got.ProductID)
	assert.Equal(t, product.StyleID, got.StyleID)
	require.Len(t, got.Variants, 2)
	assert.Equal(t, "10", got.Variants[1].Size)
}

func TestCatalogCache_Miss(t *testing.T) {
	cache, _ := setupCatalogCache(t, time.Minute)
	ctx := testContext(t)

	got, hit, err := cache.GetProduct(ctx, types.ProviderGoat, "CP9654")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Nil(t, got)
}

func TestCatalogCache_KeyIsCaseInsensitive(t *testing.T) {
	cache, _ := setupCatalogCache(t, time.Minute)
	ctx := testContext(t)

	product := testProduct()
	require.NoError(t, cache.SetProduct(ctx, product))

	_, hit, err := cache.GetProduct(ctx, types.ProviderStockX, "dd1391-100")
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestCatalogCache_TTLExpiry(t *testing.T) {
	cache, mr := setupCatalogCache(t, time.Minute)
	ctx := testContext(t)

	require.NoError(t, cache.SetProduct(ctx, testProduct()))

	mr.FastForward(2 * time.Minute)

	_, hit, err := cache.GetProduct(ctx, types.ProviderStockX, "DD1391-100")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCatalogCache_InvalidateProduct(t *testing.T) {
	cache, _ := setupCatalogCache(t, time.Minute)
	ctx := testContext(t)

	require.NoError(t, cache.SetProduct(ctx, testProduct()))
	require.NoError(t, cache.InvalidateProduct(ctx, types.ProviderStockX, "DD1391-100"))

	_, hit, err := cache.GetProduct(ctx, types.ProviderStockX, "DD1391-100")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCatalogCache_InvalidateProvider(t *testing.T) {
	cache, _ := setupCatalogCache(t, time.Minute)
	ctx := testContext(t)

	stockx := testProduct()
	goat := testProduct()
	goat.Provider = types.ProviderGoat
	require.NoError(t, cache.SetProduct(ctx, stockx))
	require.NoError(t, cache.SetProduct(ctx, goat))

	require.NoError(t, cache.InvalidateProvider(ctx, types.ProviderStockX))

	_, hit, err := cache.GetProduct(ctx, types.ProviderStockX, "DD1391-100")
	require.NoError(t, err)
	assert.False(t, hit)

	_, hit, err = cache.GetProduct(ctx, types.ProviderGoat, "DD1391-100")
	require.NoError(t, err)
	assert.True(t, hit)
}
