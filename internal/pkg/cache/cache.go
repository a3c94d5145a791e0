package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/squadbasehq/squadbase/internal/pkg/env"
)

var (
	client *redis.Client
	ctx    = context.Background()
)

// SetupCache initializes the connection to the Redis cache server
func SetupCache() {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: "", // no password set
		DB:       0,  // use default DB
	})

	// Test the connection
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Printf("Warning: Could not connect to Redis cache: %v", err)
	} else {
		log.Printf("Successfully connected to Redis cache: %s", pong)
	}
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// Set stores a value in the cache with the given key and expiration time
func Set(key string, value interface{}, expiration time.Duration) error {
	return GetClient().Set(ctx, key, value, expiration).Err()
}

// Get retrieves a value from the cache by key
func Get(key string) (string, error) {
	return GetClient().Get(ctx, key).Result()
}

// Delete removes a value from the cache by key
func Delete(key string) error {
	return GetClient().Del(ctx, key).Err()
}

const entitlementKeyPrefix = "entitlements:org:"

// EntitlementCacheTTL bounds how stale a cached entitlement snapshot can be.
const EntitlementCacheTTL = 30 * time.Second

// EntitlementKey builds the cache key for one organization's entitlement
// snapshot.
func EntitlementKey(orgID uint) string {
	return fmt.Sprintf("%s%d", entitlementKeyPrefix, orgID)
}

// InvalidateEntitlements drops the cached entitlement snapshot after a
// subscription mutation (webhook, reconciliation or checkout creation).
func InvalidateEntitlements(orgID uint) {
	if err := Delete(EntitlementKey(orgID)); err != nil && err != redis.Nil {
		log.Printf("Failed to invalidate entitlement cache for org %d: %v", orgID, err)
	}
}
