package node

import (
	"context"
	"testing"

	"kvcoord/internal/storage"
)

func TestLocal_Contract(t *testing.T) {
	ctx := context.Background()
	n := NewLocal("n1", nil)

	if n.ID() != "n1" {
		t.Errorf("Expected id n1, got %s", n.ID())
	}

	if _, ok := n.Get(ctx, "k"); ok {
		t.Error("Expected miss on empty node")
	}
	if !n.Put(ctx, "k", []byte("v")) {
		t.Fatal("Expected put to succeed")
	}
	value, ok := n.Get(ctx, "k")
	if !ok || string(value) != "v" {
		t.Errorf("Expected v, got %q (ok=%v)", value, ok)
	}
	if !n.Delete(ctx, "k") {
		t.Error("Expected delete of existing key to succeed")
	}
	if n.Delete(ctx, "k") {
		t.Error("Expected delete of missing key to fail")
	}
}

func TestLocal_SharesStore(t *testing.T) {
	store := storage.NewInMemoryStore()
	n := NewLocal("n1", store)

	n.Put(context.Background(), "k", []byte("v"))

	if store.Len() != 1 {
		t.Errorf("Expected backing store to hold 1 key, got %d", store.Len())
	}
	if n.Store() != store {
		t.Error("Expected Store to return the backing store")
	}
}

func TestLocal_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := NewLocal("n1", nil)
	if n.Put(ctx, "k", []byte("v")) {
		t.Error("Expected put with cancelled context to fail")
	}
	if _, ok := n.Get(ctx, "k"); ok {
		t.Error("Expected get with cancelled context to miss")
	}
	if n.Delete(ctx, "k") {
		t.Error("Expected delete with cancelled context to fail")
	}
}
