package hash

import (
	"fmt"
	"sync"
	"testing"
)

func TestRingBasicOperations(t *testing.T) {
	empty := NewRing(nil, 10)
	if empty.Size() != 0 {
		t.Errorf("empty ring should have size 0, got %d", empty.Size())
	}
	if _, ok := empty.Get("test-key"); ok {
		t.Error("Get on empty ring should return false")
	}

	ring := NewRing([]string{"se1-wireguard", "se2-wireguard", "se3-wireguard"}, 10)
	if ring.Size() != 3 {
		t.Errorf("ring size should be 3, got %d", ring.Size())
	}

	node, ok := ring.Get("test-key")
	if !ok {
		t.Error("Get should return true with nodes on the ring")
	}
	if node == "" {
		t.Error("Get should return a non-empty hostname")
	}

	duplicates := NewRing([]string{"se1-wireguard", "se1-wireguard"}, 10)
	if duplicates.Size() != 1 {
		t.Errorf("duplicate hostnames should collapse, got size %d", duplicates.Size())
	}
}

func TestRingNil(t *testing.T) {
	var ring *Ring
	if ring.Size() != 0 {
		t.Error("nil ring should have size 0")
	}
	if _, ok := ring.Get("test-key"); ok {
		t.Error("Get on nil ring should return false")
	}
}

func TestRingConsistency(t *testing.T) {
	ring := NewRing([]string{"se1-wireguard", "se2-wireguard", "se3-wireguard"}, 10)

	key := "account-123"
	first, _ := ring.Get(key)
	for i := 0; i < 100; i++ {
		node, ok := ring.Get(key)
		if !ok {
			t.Fatal("Get should return true")
		}
		if node != first {
			t.Errorf("same key should map to same hostname, got %s and %s", first, node)
		}
	}

	rebuilt := NewRing([]string{"se3-wireguard", "se1-wireguard", "se2-wireguard"}, 10)
	node, _ := rebuilt.Get(key)
	if node != first {
		t.Errorf("rebuild from same pool should keep mapping, got %s and %s", first, node)
	}
}

func TestRingDistribution(t *testing.T) {
	nodes := []string{"se1-wireguard", "se2-wireguard", "se3-wireguard", "se4-wireguard", "se5-wireguard"}
	ring := NewRing(nodes, 100)

	distribution := make(map[string]int)
	numKeys := 10000
	for i := 0; i < numKeys; i++ {
		node, ok := ring.Get(fmt.Sprintf("key-%d", i))
		if !ok {
			t.Fatal("Get should return true")
		}
		distribution[node]++
	}

	expectedPerNode := numKeys / len(nodes)
	tolerance := expectedPerNode / 2
	for _, node := range nodes {
		count := distribution[node]
		if count < expectedPerNode-tolerance || count > expectedPerNode+tolerance {
			t.Errorf("node %s got %d keys, expected around %d (±%d)",
				node, count, expectedPerNode, tolerance)
		}
	}
}

func TestRingMinimalRemapping(t *testing.T) {
	nodes := []string{"se1-wireguard", "se2-wireguard", "se3-wireguard", "se4-wireguard"}
	ring := NewRing(nodes, 50)

	numKeys := 1000
	initialMapping := make(map[string]string)
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("key-%d", i)
		node, _ := ring.Get(key)
		initialMapping[key] = node
	}

	// Dropping one of four nodes should remap roughly a quarter of keys.
	shrunk := NewRing(nodes[:3], 50)
	remapped := 0
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("key-%d", i)
		node, _ := shrunk.Get(key)
		if initialMapping[key] != node {
			remapped++
		}
	}

	expectedRemapped := numKeys / 4
	tolerance := numKeys / 10
	if remapped < expectedRemapped-tolerance || remapped > expectedRemapped+tolerance {
		t.Errorf("remapped %d keys, expected around %d (±%d)",
			remapped, expectedRemapped, tolerance)
	}
}

func TestRingConcurrentAccess(t *testing.T) {
	ring := NewRing([]string{"se1-wireguard", "se2-wireguard", "se3-wireguard"}, 10)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", id)
			for j := 0; j < 100; j++ {
				if _, ok := ring.Get(key); !ok {
					t.Error("concurrent Get failed")
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestBuildKey(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		salt     string
		attempt  int
		expected string
	}{
		{
			name:     "key only",
			key:      "account-123",
			expected: "account-123",
		},
		{
			name:     "key with salt",
			key:      "account-123",
			salt:     "my-secret-salt",
			expected: "account-123|my-secret-salt",
		},
		{
			name:     "key with attempt",
			key:      "account-123",
			attempt:  2,
			expected: "account-123#2",
		},
		{
			name:     "key with salt and attempt",
			key:      "account-123",
			salt:     "my-secret-salt",
			attempt:  1,
			expected: "account-123|my-secret-salt#1",
		},
		{
			name:     "empty key with salt",
			key:      "",
			salt:     "my-secret-salt",
			expected: "|my-secret-salt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := BuildKey(tt.key, tt.salt, tt.attempt)
			if result != tt.expected {
				t.Errorf("BuildKey() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestHashKeyDeterministic(t *testing.T) {
	if hashKey("test-key") != hashKey("test-key") {
		t.Error("hashKey should be deterministic")
	}
	if hashKey("test-key") == hashKey("different-key") {
		t.Error("different keys should produce different hashes")
	}
}
