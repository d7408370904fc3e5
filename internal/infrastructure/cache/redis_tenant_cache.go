package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/erp/datacore/internal/domain/tenant"
	"github.com/redis/go-redis/v9"
)

const defaultTenantKeyPrefix = "datacore:tenant:"

// RedisTenantCache is the shared L2 tenant cache
type RedisTenantCache struct {
	client    redis.Cmdable
	keyPrefix string
}

// redisTenantEntry is the stored form; a nil Tenant marks a negative entry
type redisTenantEntry struct {
	Tenant *tenant.Tenant `json:"tenant"`
}

// NewRedisTenantCache creates a cache over an existing client
func NewRedisTenantCache(client redis.Cmdable, keyPrefix string) *RedisTenantCache {
	if keyPrefix == "" {
		keyPrefix = defaultTenantKeyPrefix
	}
	return &RedisTenantCache{client: client, keyPrefix: keyPrefix}
}

// NewRedisClient connects and pings
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func (c *RedisTenantCache) key(id string) string {
	return c.keyPrefix + id
}

// Get implements TenantCache
func (c *RedisTenantCache) Get(ctx context.Context, id string) (*tenant.Tenant, bool, error) {
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read tenant %s from redis: %w", id, err)
	}
	rec, err := decodeTenantEntry(data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode tenant %s: %w", id, err)
	}
	return rec, true, nil
}

// Set implements TenantCache
func (c *RedisTenantCache) Set(ctx context.Context, id string, rec *tenant.Tenant, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := encodeTenantEntry(rec)
	if err != nil {
		return fmt.Errorf("failed to encode tenant %s: %w", id, err)
	}
	if err := c.client.Set(ctx, c.key(id), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write tenant %s to redis: %w", id, err)
	}
	return nil
}

// Delete implements TenantCache
func (c *RedisTenantCache) Delete(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, c.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete tenant %s from redis: %w", id, err)
	}
	return nil
}

func encodeTenantEntry(rec *tenant.Tenant) ([]byte, error) {
	return json.Marshal(redisTenantEntry{Tenant: rec})
}

func decodeTenantEntry(data []byte) (*tenant.Tenant, error) {
	var e redisTenantEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return e.Tenant, nil
}
