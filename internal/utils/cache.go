package utils

import (
	"context"       // Context for Redis operations
	"encoding/json" // JSON encoding/decoding
	"strconv"       // Cache key construction
	"time"          // Time durations

	"github.com/redis/go-redis/v9" // Redis client
)

// GetCache retrieves a value from Redis and unmarshals it into dest
func GetCache(ctx context.Context, rdb *redis.Client, key string, dest any) (bool, error) {
	val, err := rdb.Get(ctx, key).Result() // Get value from Redis
	if err == redis.Nil {
		return false, nil // Key does not exist
	} else if err != nil {
		return false, err // Other Redis error
	}
	return true, json.Unmarshal([]byte(val), dest) // Unmarshal JSON into dest
}

// SetCache sets a value in Redis with a specified TTL
func SetCache(ctx context.Context, rdb *redis.Client, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value) // Marshal value to JSON
	if err != nil {
		return err // Return error if marshaling fails
	}
	return rdb.Set(ctx, key, b, ttl).Err() // Set value in Redis with TTL
}

// DeleteCache deletes a key from Redis
func DeleteCache(ctx context.Context, rdb *redis.Client, key string) error {
	return rdb.Del(ctx, key).Err() // Delete key from Redis
}

// WalletCacheKey is the cache key for a user's wallet snapshot.
func WalletCacheKey(userID uint) string {
	return "wallet:user:" + strconv.Itoa(int(userID))
}

// TxHistoryCacheKey is the cache key for one page of a user's history.
func TxHistoryCacheKey(userID uint, page, size int) string {
	return "txhistory:user:" + strconv.Itoa(int(userID)) + ":page:" + strconv.Itoa(page) + ":size:" + strconv.Itoa(size)
}

// InvalidateWalletCaches drops a user's wallet snapshot and the first pages
// of their cached transaction history after a ledger mutation. Simple
// version: only the first 5 pages are cached and invalidated.
func InvalidateWalletCaches(ctx context.Context, rdb *redis.Client, userID uint) {
	_ = DeleteCache(ctx, rdb, WalletCacheKey(userID))
	for i := 1; i <= 5; i++ {
		_ = DeleteCache(ctx, rdb, TxHistoryCacheKey(userID, i, 20))
	}
}
