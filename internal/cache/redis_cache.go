package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"posledger/internal/domain"
)

// setIfGeneration writes the view only while the product's generation
// still matches the one the caller read.
var setIfGeneration = redis.NewScript(`
local current = redis.call("GET", KEYS[1]) or "0"
if current ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1
`)

type RedisStockCache struct {
	client *redis.Client
}

func NewRedisStockCache(addr string, password string, db int) *RedisStockCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisStockCache{client: client}
}

func (c *RedisStockCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisStockCache) Close() error {
	return c.client.Close()
}

func (c *RedisStockCache) GetLocationStock(ctx context.Context, productID string) ([]domain.LocationStock, bool, error) {
	val, err := c.client.Get(ctx, stockKey(productID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var rows []domain.LocationStock
	if err := json.Unmarshal([]byte(val), &rows); err != nil {
		return nil, false, err
	}
	return rows, true, nil
}

func (c *RedisStockCache) Generation(ctx context.Context, productID string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(productID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisStockCache) SetLocationStock(ctx context.Context, productID string, generation int64, value []domain.LocationStock, ttl time.Duration) error {
	if value == nil {
		value = []domain.LocationStock{}
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	keys := []string{generationKey(productID), stockKey(productID)}
	return setIfGeneration.Run(ctx, c.client, keys, strconv.FormatInt(generation, 10), payload, ttl.Milliseconds()).Err()
}

// Invalidate bumps each product's generation and drops its view in one
// MULTI block.
func (c *RedisStockCache) Invalidate(ctx context.Context, productIDs ...string) error {
	if len(productIDs) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range productIDs {
			pipe.Incr(ctx, generationKey(id))
			pipe.Del(ctx, stockKey(id))
		}
		return nil
	})
	return err
}
