package directory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeUpstream struct {
	calls   int
	details map[string]UserDetails
}

func (f *fakeUpstream) UserDetails(ctx context.Context, login string) (UserDetails, error) {
	f.calls++
	return f.details[login], nil
}

func setupTestDirectory(t *testing.T, upstream Resolver, ttl time.Duration) (*CachedDirectory, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return NewCachedDirectoryWithClient(client, upstream, ttl), s
}

func TestUserDetailsCachesUpstream(t *testing.T) {
	upstream := &fakeUpstream{details: map[string]UserDetails{
		"dgf": {Login: "dgf", DisplayName: "D. G. F.", Entity: "DIGIT"},
	}}
	dir, s := setupTestDirectory(t, upstream, time.Minute)
	defer dir.Close()
	defer s.Close()

	ctx := context.Background()

	details, err := dir.UserDetails(ctx, "dgf")
	if err != nil {
		t.Fatalf("UserDetails failed: %v", err)
	}
	if details.Entity != "DIGIT" {
		t.Errorf("expected entity DIGIT, got %q", details.Entity)
	}

	// Second lookup must come from the cache.
	if _, err := dir.UserDetails(ctx, "dgf"); err != nil {
		t.Fatalf("cached UserDetails failed: %v", err)
	}
	if upstream.calls != 1 {
		t.Errorf("expected 1 upstream call, got %d", upstream.calls)
	}
}

func TestUserDetailsExpiry(t *testing.T) {
	upstream := &fakeUpstream{details: map[string]UserDetails{
		"ann": {Login: "ann", Entity: "SG"},
	}}
	dir, s := setupTestDirectory(t, upstream, time.Minute)
	defer dir.Close()
	defer s.Close()

	ctx := context.Background()
	if _, err := dir.UserDetails(ctx, "ann"); err != nil {
		t.Fatalf("UserDetails failed: %v", err)
	}

	s.FastForward(2 * time.Minute)

	if _, err := dir.UserDetails(ctx, "ann"); err != nil {
		t.Fatalf("UserDetails after expiry failed: %v", err)
	}
	if upstream.calls != 2 {
		t.Errorf("expected refetch after TTL, got %d upstream calls", upstream.calls)
	}
}

func TestInvalidate(t *testing.T) {
	upstream := &fakeUpstream{details: map[string]UserDetails{
		"bob": {Login: "bob", Entity: "AGRI"},
	}}
	dir, s := setupTestDirectory(t, upstream, time.Minute)
	defer dir.Close()
	defer s.Close()

	ctx := context.Background()
	if _, err := dir.UserDetails(ctx, "bob"); err != nil {
		t.Fatalf("UserDetails failed: %v", err)
	}
	if err := dir.Invalidate(ctx, "bob"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, err := dir.UserDetails(ctx, "bob"); err != nil {
		t.Fatalf("UserDetails after invalidate failed: %v", err)
	}
	if upstream.calls != 2 {
		t.Errorf("expected refetch after invalidate, got %d upstream calls", upstream.calls)
	}
}

func TestUserDetailsNoUpstream(t *testing.T) {
	dir, s := setupTestDirectory(t, nil, time.Minute)
	defer dir.Close()
	defer s.Close()

	if _, err := dir.UserDetails(context.Background(), "ghost"); err == nil {
		t.Fatal("expected error for uncached login without upstream")
	}
}
