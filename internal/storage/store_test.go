package storage

import (
	"fmt"
	"sync"
	"testing"
)

func TestInMemoryStore_GetPut(t *testing.T) {
	store := NewInMemoryStore()

	store.Put("key1", []byte("value1"))

	value, ok := store.Get("key1")
	if !ok {
		t.Fatal("Expected key1 to be present")
	}
	if string(value) != "value1" {
		t.Errorf("Expected 'value1', got '%s'", string(value))
	}
}

func TestInMemoryStore_GetNotFound(t *testing.T) {
	store := NewInMemoryStore()
	value, ok := store.Get("nonexistent")
	if ok {
		t.Error("Expected absence for non-existent key")
	}
	if value != nil {
		t.Errorf("Expected nil value, got %v", value)
	}
}

func TestInMemoryStore_Overwrite(t *testing.T) {
	store := NewInMemoryStore()

	store.Put("key1", []byte("value1"))
	store.Put("key1", []byte("value2"))

	value, _ := store.Get("key1")
	if string(value) != "value2" {
		t.Errorf("Expected 'value2', got '%s'", string(value))
	}
	if store.Len() != 1 {
		t.Errorf("Expected 1 key, got %d", store.Len())
	}
}

func TestInMemoryStore_EmptyValueIsPresent(t *testing.T) {
	store := NewInMemoryStore()

	store.Put("empty", nil)

	value, ok := store.Get("empty")
	if !ok {
		t.Fatal("Expected empty value to be present")
	}
	if len(value) != 0 {
		t.Errorf("Expected empty value, got %q", value)
	}
}

func TestInMemoryStore_Delete(t *testing.T) {
	store := NewInMemoryStore()

	store.Put("key1", []byte("value1"))

	if !store.Delete("key1") {
		t.Error("Expected delete of existing key to succeed")
	}
	if _, ok := store.Get("key1"); ok {
		t.Error("Expected key1 to be gone after delete")
	}
	if store.Delete("key1") {
		t.Error("Expected delete of missing key to report false")
	}
}

func TestInMemoryStore_CopyIsolation(t *testing.T) {
	store := NewInMemoryStore()

	input := []byte("value1")
	store.Put("key1", input)
	input[0] = 'X'

	value, _ := store.Get("key1")
	if string(value) != "value1" {
		t.Errorf("Store must copy on Put, got '%s'", string(value))
	}

	value[0] = 'Y'
	again, _ := store.Get("key1")
	if string(again) != "value1" {
		t.Errorf("Store must copy on Get, got '%s'", string(again))
	}
}

func TestInMemoryStore_Concurrent(t *testing.T) {
	store := NewInMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", i)
			store.Put(key, []byte(key))
			if _, ok := store.Get(key); !ok {
				t.Errorf("Expected %s to be present", key)
			}
		}(i)
	}
	wg.Wait()

	if store.Len() != 50 {
		t.Errorf("Expected 50 keys, got %d", store.Len())
	}
}
