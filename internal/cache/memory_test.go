package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_GetSet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss, got %v", err)
	}

	if err := store.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get() = %q, expected %q", got, "v")
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Set(ctx, "k", []byte("v"), 30*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss after expiry, got %v", err)
	}
}

func TestMemoryStore_SetNX(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ok, err := store.SetNX(ctx, "lock", []byte("1"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetNX should succeed, got ok=%v err=%v", ok, err)
	}

	ok, _ = store.SetNX(ctx, "lock", []byte("1"), time.Minute)
	if ok {
		t.Error("second SetNX on a live key should fail")
	}

	if err := store.Del(ctx, "lock"); err != nil {
		t.Fatalf("Del() error = %v", err)
	}

	ok, _ = store.SetNX(ctx, "lock", []byte("1"), time.Minute)
	if !ok {
		t.Error("SetNX after Del should succeed")
	}
}

func TestMemoryStore_SetNXAfterExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.SetNX(ctx, "lock", []byte("1"), 30*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	ok, _ := store.SetNX(ctx, "lock", []byte("1"), time.Minute)
	if !ok {
		t.Error("SetNX should succeed once the previous holder expired")
	}
}

func TestMemoryStore_IncrWindow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		count, remaining, err := store.IncrWindow(ctx, "rl", time.Minute)
		if err != nil {
			t.Fatalf("IncrWindow() error = %v", err)
		}
		if count != want {
			t.Errorf("count = %d, expected %d", count, want)
		}
		if remaining <= 0 || remaining > time.Minute {
			t.Errorf("remaining = %v, expected within (0, 1m]", remaining)
		}
	}
}

func TestMemoryStore_IncrWindowReset(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.IncrWindow(ctx, "rl", 30*time.Millisecond)
	store.IncrWindow(ctx, "rl", 30*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	count, _, err := store.IncrWindow(ctx, "rl", 30*time.Millisecond)
	if err != nil {
		t.Fatalf("IncrWindow() error = %v", err)
	}
	if count != 1 {
		t.Errorf("count after window elapsed = %d, expected 1", count)
	}
}
