package data

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
)

// RedisGuard claims (listing, buyer) pairs with SETNX so concurrent
// matching runs insert each match once
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuard connects to Redis
func NewRedisGuard(ctx context.Context, redisURL string, ttl time.Duration) (*RedisGuard, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisGuardWithClient(client, ttl), nil
}

// NewRedisGuardWithClient wraps an existing client
func NewRedisGuardWithClient(client *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisGuard{client: client, ttl: ttl}
}

// claimKey returns the key for a listing/buyer claim
func claimKey(listingID, buyerID domain.ID) string {
	return fmt.Sprintf("match:claim:%s:%s", listingID, buyerID)
}

// Claim returns true when this call reserved the pair
func (g *RedisGuard) Claim(ctx context.Context, listingID, buyerID domain.ID) (bool, error) {
	return g.client.SetNX(ctx, claimKey(listingID, buyerID), time.Now().Unix(), g.ttl).Result()
}

// Release removes a claim
func (g *RedisGuard) Release(ctx context.Context, listingID, buyerID domain.ID) error {
	return g.client.Del(ctx, claimKey(listingID, buyerID)).Err()
}

// Ping checks the Redis connection
func (g *RedisGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (g *RedisGuard) Close() error {
	return g.client.Close()
}
