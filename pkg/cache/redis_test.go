package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// redisClient connects to the server named by TILECRAFT_TEST_REDIS_ADDR and
// skips the test when it is unset or unreachable.
func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TILECRAFT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TILECRAFT_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis at %s unreachable: %v", addr, err)
	}
	return client
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	client := redisClient(t)
	prefix := "tilecraft-test:" + uuid.NewString() + ":"
	c := NewRedisCacheFromClient(client, prefix)
	defer c.Close()

	if _, hit, err := c.Get(ctx, "missing"); err != nil || hit {
		t.Fatalf("Get(missing) = hit %v, err %v; want a plain miss", hit, err)
	}

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	defer client.Del(ctx, prefix+"k")

	data, hit, err := c.Get(ctx, "k")
	if err != nil || !hit || string(data) != "v" {
		t.Errorf("Get(k) = %q, %v, %v", data, hit, err)
	}

	ttl, err := client.PTTL(ctx, prefix+"k").Result()
	if err != nil {
		t.Fatalf("PTTL error: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, want within (0, 1m]", ttl)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, hit, _ := c.Get(ctx, "k"); hit {
		t.Error("Get after Delete should miss")
	}
}

func TestRedisCacheNoExpiry(t *testing.T) {
	ctx := context.Background()
	client := redisClient(t)
	prefix := "tilecraft-test:" + uuid.NewString() + ":"
	c := NewRedisCacheFromClient(client, prefix)
	defer c.Close()

	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	defer client.Del(ctx, prefix+"k")

	// -1 means the key exists without an expiry.
	if ttl, err := client.TTL(ctx, prefix+"k").Result(); err != nil || ttl != -1 {
		t.Errorf("TTL = %v, %v; want no expiry", ttl, err)
	}
}

func TestNewRedisCacheUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := NewRedisCache(ctx, "127.0.0.1:1", "tilecraft:"); err == nil {
		t.Error("NewRedisCache() against a closed port should fail")
	}
}
