// Package cache holds Redis-backed read caches.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/mediashop/api/internal/domain"
)

const defaultProductTTL = 10 * time.Minute

// ProductCache stores catalogue entries as JSON with a fixed TTL. Prices are snapshotted into
// orders at placement, so a stale entry only affects reads between an upsert and invalidation.
type ProductCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewProductCache wraps client. A non-positive ttl selects the default.
func NewProductCache(client redis.UniversalClient, prefix string, ttl time.Duration) (*ProductCache, error) {
	if client == nil {
		return nil, errors.New("cache: redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "mediashop"
	}
	if ttl <= 0 {
		ttl = defaultProductTTL
	}
	return &ProductCache{client: client, prefix: prefix + ":product", ttl: ttl}, nil
}

// GetProduct reports a miss with ok=false.
func (c *ProductCache) GetProduct(ctx context.Context, productID string) (domain.Product, bool, error) {
	raw, err := c.client.Get(ctx, c.key(productID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Product{}, false, nil
	}
	if err != nil {
		return domain.Product{}, false, fmt.Errorf("cache: get product %s: %w", productID, err)
	}
	var product domain.Product
	if err := json.Unmarshal(raw, &product); err != nil {
		// Undecodable entries are dropped and treated as misses.
		_ = c.client.Del(ctx, c.key(productID)).Err()
		return domain.Product{}, false, nil
	}
	return product, true, nil
}

func (c *ProductCache) PutProduct(ctx context.Context, product domain.Product) error {
	data, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("cache: encode product %s: %w", product.ID, err)
	}
	if err := c.client.Set(ctx, c.key(product.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: put product %s: %w", product.ID, err)
	}
	return nil
}

func (c *ProductCache) InvalidateProduct(ctx context.Context, productID string) error {
	if err := c.client.Del(ctx, c.key(productID)).Err(); err != nil {
		return fmt.Errorf("cache: invalidate product %s: %w", productID, err)
	}
	return nil
}

func (c *ProductCache) key(productID string) string {
	return c.prefix + ":" + strings.TrimSpace(productID)
}
