// Package directory resolves user details from an external user directory,
// caching lookups in Redis so repeated permission checks within a short
// window do not hammer the upstream.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// UserDetails is the directory record for one login.
type UserDetails struct {
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
	// Entity is the organisational unit the user responds on behalf of
	// in the review workflow; empty for users outside it.
	Entity string `json:"entity"`
}

// Resolver answers directory lookups.
type Resolver interface {
	UserDetails(ctx context.Context, login string) (UserDetails, error)
}

// CachedDirectory wraps a Resolver with a Redis cache.
type CachedDirectory struct {
	client   *redis.Client
	upstream Resolver
	ttl      time.Duration
	prefix   string
}

// NewCachedDirectory connects to Redis and wraps the upstream resolver.
func NewCachedDirectory(redisURL string, upstream Resolver, ttl time.Duration) (*CachedDirectory, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &CachedDirectory{
		client:   client,
		upstream: upstream,
		ttl:      ttl,
		prefix:   "userdetails:",
	}, nil
}

// NewCachedDirectoryWithClient wraps an existing Redis client.
func NewCachedDirectoryWithClient(client *redis.Client, upstream Resolver, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		client:   client,
		upstream: upstream,
		ttl:      ttl,
		prefix:   "userdetails:",
	}
}

func (d *CachedDirectory) key(login string) string {
	return d.prefix + login
}

// UserDetails returns the cached record for login, falling through to the
// upstream resolver on a miss and caching the answer.
func (d *CachedDirectory) UserDetails(ctx context.Context, login string) (UserDetails, error) {
	jsonData, err := d.client.Get(ctx, d.key(login)).Result()
	if err == nil {
		var details UserDetails
		if err := json.Unmarshal([]byte(jsonData), &details); err == nil {
			return details, nil
		}
		// Corrupt cache entry, refetch.
	} else if err != redis.Nil {
		return UserDetails{}, fmt.Errorf("lookup user details: %w", err)
	}

	if d.upstream == nil {
		return UserDetails{}, fmt.Errorf("user %s not in directory cache", login)
	}
	details, err := d.upstream.UserDetails(ctx, login)
	if err != nil {
		return UserDetails{}, err
	}

	encoded, err := json.Marshal(details)
	if err != nil {
		return UserDetails{}, fmt.Errorf("marshal user details: %w", err)
	}
	ttl := d.ttl
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if err := d.client.Set(ctx, d.key(login), encoded, ttl).Err(); err != nil {
		return UserDetails{}, fmt.Errorf("cache user details: %w", err)
	}
	return details, nil
}

// Invalidate drops the cached record for login.
func (d *CachedDirectory) Invalidate(ctx context.Context, login string) error {
	if err := d.client.Del(ctx, d.key(login)).Err(); err != nil {
		return fmt.Errorf("invalidate user details: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (d *CachedDirectory) Close() error {
	return d.client.Close()
}

// Ping checks if Redis is reachable.
func (d *CachedDirectory) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}
