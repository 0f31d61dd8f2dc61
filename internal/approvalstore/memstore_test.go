package approvalstore

import (
	"context"
	"testing"
	"time"
)

func TestMemStoreSetGetExpire(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	if err := s.SetEX(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("SetEX: %v", err)
	}
	val, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || string(val) != "v" {
		t.Fatalf("Get = %s, %v, %v", val, ok, err)
	}

	time.Sleep(20 * time.Millisecond)
	_, ok, _ = s.Get(ctx, "k")
	if ok {
		t.Error("expected key to have expired")
	}
}

func TestMemStoreCAS(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	_ = s.SetEX(ctx, "k", []byte("v1"), time.Minute)

	if swapped, _ := s.CAS(ctx, "k", []byte("wrong"), []byte("v2"), time.Minute); swapped {
		t.Error("CAS should fail with wrong expected value")
	}
	swapped, err := s.CAS(ctx, "k", []byte("v1"), []byte("v2"), time.Minute)
	if err != nil || !swapped {
		t.Fatalf("CAS should succeed: swapped=%v err=%v", swapped, err)
	}
	val, _, _ := s.Get(ctx, "k")
	if string(val) != "v2" {
		t.Errorf("Get = %s, want v2", val)
	}
}

func TestMemStoreScan(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	_ = s.SetEX(ctx, "approval:a", []byte("1"), time.Minute)
	_ = s.SetEX(ctx, "approval:b", []byte("2"), time.Minute)
	_ = s.SetEX(ctx, "other:c", []byte("3"), time.Minute)

	keys, err := s.Scan(ctx, "approval:")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}
}
