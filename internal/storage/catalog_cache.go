package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/types"
)

// CatalogCache is the Redis side of the read-through catalog lookup.
// Entries are JSON-serialized products keyed by provider and style,
// expiring after the configured TTL so long-lived workers pick up
// catalog changes without an explicit invalidation path.
type CatalogCache struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewCatalogCache creates a new catalog cache
func NewCatalogCache(redis *RedisCache, ttl time.Duration) *CatalogCache {
	return &CatalogCache{
		redis: redis,
		ttl:   ttl,
	}
}

// ProductKey generates the cache key for a product.
// Format: catalog:<provider>:<style-id>
func (c *CatalogCache) ProductKey(provider types.Provider, styleID string) string {
	return fmt.Sprintf("catalog:%s:%s", provider, strings.ToLower(styleID))
}

// GetProduct retrieves a cached product. A miss is (nil, false, nil).
func (c *CatalogCache) GetProduct(ctx context.Context, provider types.Provider, styleID string) (*models.Product, bool, error) {
	data, err := c.redis.Client().Get(ctx, c.ProductKey(provider, styleID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get cached product: %w", err)
	}

	var product models.Product
	if err := json.Unmarshal(data, &product); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached product: %w", err)
	}

	return &product, true, nil
}

// SetProduct stores a product with the configured TTL.
func (c *CatalogCache) SetProduct(ctx context.Context, product *models.Product) error {
	data, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("failed to marshal product: %w", err)
	}

	if err := c.redis.Client().Set(ctx, c.ProductKey(product.Provider, product.StyleID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache product: %w", err)
	}

	return nil
}

// InvalidateProduct removes a product from the cache.
func (c *CatalogCache) InvalidateProduct(ctx context.Context, provider types.Provider, styleID string) error {
	return c.redis.Client().Del(ctx, c.ProductKey(provider, styleID)).Err()
}

// InvalidateProvider removes all cached products for a provider.
func (c *CatalogCache) InvalidateProvider(ctx context.Context, provider types.Provider) error {
	pattern := fmt.Sprintf("catalog:%s:*", provider)
	keys, err := c.redis.Client().Keys(ctx, pattern).Result()
	if err != nil {
		return fmt.Errorf("failed to find keys matching pattern: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	return c.redis.Client().Del(ctx, keys...).Err()
}
