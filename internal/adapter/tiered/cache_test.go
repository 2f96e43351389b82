package tiered_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/keepup/cowork/internal/adapter/tiered"
	"github.com/keepup/cowork/internal/port/cache/cachetest"
)

// memCache is a simple in-memory cache for testing.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.data, key)
	return nil
}

func TestCompliance(t *testing.T) {
	cachetest.RunComplianceTests(t, tiered.New(newMemCache(), newMemCache(), time.Minute), nil)
}

func TestTiered_L1Hit(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)

	l1.data["key1"] = []byte("val1")

	val, found, err := c.Get(context.Background(), "key1")
	if err != nil {
		t.Fatal(err)
	}
	if !found || string(val) != "val1" {
		t.Fatalf("got %q, %v", val, found)
	}
}

func TestTiered_L2HitWithBackfill(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)

	l2.data["key2"] = []byte("val2")

	val, found, err := c.Get(context.Background(), "key2")
	if err != nil {
		t.Fatal(err)
	}
	if !found || string(val) != "val2" {
		t.Fatalf("got %q, %v", val, found)
	}
	if string(l1.data["key2"]) != "val2" {
		t.Fatal("expected L1 backfill after L2 hit")
	}
}

func TestTiered_L2FailureDegrades(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	l2.err = errors.New("l2 down")
	c := tiered.New(l1, l2, time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set with L2 down: %v", err)
	}
	val, found, err := c.Get(ctx, "k")
	if err != nil || !found || string(val) != "v" {
		t.Fatalf("L1 should still serve: %q %v %v", val, found, err)
	}
	_, found, err = c.Get(ctx, "missing")
	if err != nil || found {
		t.Fatalf("L2 error should read as a miss: %v %v", found, err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete with L2 down: %v", err)
	}
}

func TestTiered_L1FailureSurfaces(t *testing.T) {
	l1 := newMemCache()
	l1.err = errors.New("l1 broken")
	c := tiered.New(l1, newMemCache(), time.Minute)

	if _, _, err := c.Get(context.Background(), "k"); err == nil {
		t.Fatal("expected L1 error")
	}
	if err := c.Set(context.Background(), "k", nil, time.Minute); err == nil {
		t.Fatal("expected L1 error")
	}
}
