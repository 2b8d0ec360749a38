//go:build integration

package device

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
)

// TestRedisStore_Integration requires a Redis server (GRAYLOGIC_REDIS_ADDR,
// default localhost:6379).
func TestRedisStore_Integration(t *testing.T) {
	addr := os.Getenv("GRAYLOGIC_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	key := "graylogic:test:device_states"
	store := NewRedisStore(client, key)
	if err := store.Ping(ctx); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	client.Del(ctx, key)
	t.Cleanup(func() { client.Del(context.Background(), key) })

	if err := store.Save(ctx, NewSnapshot("z", nil)); err != nil {
		t.Fatalf("Save(z) error = %v", err)
	}
	if err := store.Save(ctx, NewSnapshot("a", map[string]any{"temp": map[string]any{"value": 21.5}})); err != nil {
		t.Fatalf("Save(a) error = %v", err)
	}

	snaps, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(snaps) != 2 || snaps[0].ID != "a" || snaps[1].ID != "z" {
		t.Fatalf("snaps = %+v", snaps)
	}
	if v, _ := snaps[0].Get("traits.temp.value"); v != 21.5 {
		t.Errorf("temp = %v, want 21.5", v)
	}
}
