package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local Redis and skips the test when none is running.
// Container-backed coverage lives in manager_integration_test.go.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil, DefaultConfig())
}

func TestNewManager_Defaults(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	m := NewManager(client, Config{})
	if m.DefaultTTL() != DefaultTTL {
		t.Errorf("DefaultTTL() = %v, want %v", m.DefaultTTL(), DefaultTTL)
	}
}

func TestManager_SetAndGet(t *testing.T) {
	manager := NewManager(setupTestRedis(t), DefaultConfig())
	ctx := context.Background()
	key := CacheKey{Boundary: "detail", URL: "https://example.com/articles/1"}

	entry := &CacheEntry{
		Data:       []byte(`{"content":"hello"}`),
		ETag:       `"abc"`,
		Expires:    time.Now().Add(5 * time.Minute),
		StatusCode: 200,
		CachedAt:   time.Now(),
	}
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got.Data) != string(entry.Data) || got.ETag != entry.ETag {
		t.Errorf("Get() = %+v, want %+v", got, entry)
	}
	if got.IsExpired() {
		t.Error("fresh entry reported expired")
	}
}

func TestManager_Get_Miss(t *testing.T) {
	manager := NewManager(setupTestRedis(t), DefaultConfig())

	_, err := manager.Get(context.Background(), CacheKey{Boundary: "detail", URL: "https://example.com/none"})
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestManager_StaleEntryRetained(t *testing.T) {
	manager := NewManager(setupTestRedis(t), Config{DefaultTTL: time.Minute, StaleRetention: time.Hour})
	ctx := context.Background()
	key := CacheKey{Boundary: "detail", URL: "https://example.com/stale"}

	entry := &CacheEntry{
		Data:    []byte("old"),
		ETag:    `"old"`,
		Expires: time.Now().Add(-time.Minute),
	}
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v, want stale entry", err)
	}
	if !got.IsExpired() {
		t.Error("stale entry reported fresh")
	}
}

func TestManager_ExpiredWithoutRetentionNotStored(t *testing.T) {
	manager := NewManager(setupTestRedis(t), Config{StaleRetention: 0})
	ctx := context.Background()
	key := CacheKey{Boundary: "detail", URL: "https://example.com/gone"}

	if err := manager.Set(ctx, key, &CacheEntry{Expires: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestManager_DeleteAndUpdateTTL(t *testing.T) {
	manager := NewManager(setupTestRedis(t), DefaultConfig())
	ctx := context.Background()
	key := CacheKey{Boundary: "detail", URL: "https://example.com/ttl"}

	if err := manager.Set(ctx, key, &CacheEntry{Data: []byte("x"), Expires: time.Now().Add(time.Minute)}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	newExpires := time.Now().Add(10 * time.Minute)
	if err := manager.UpdateTTL(ctx, key, newExpires); err != nil {
		t.Fatalf("UpdateTTL() error = %v", err)
	}
	got, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if diff := got.Expires.Sub(newExpires); diff < -time.Second || diff > time.Second {
		t.Errorf("Expires = %v, want %v", got.Expires, newExpires)
	}

	if err := manager.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() after Delete error = %v, want ErrCacheMiss", err)
	}
}

func TestManager_Set_NilEntry(t *testing.T) {
	manager := NewManager(setupTestRedis(t), DefaultConfig())
	if err := manager.Set(context.Background(), CacheKey{URL: "x"}, nil); err == nil {
		t.Error("Set(nil) should return an error")
	}
}
