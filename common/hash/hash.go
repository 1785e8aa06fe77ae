// Package hash implements the consistent hash ring behind sticky relay
// selection.
package hash

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
)

// Ring maps keys to relay hostnames with consistent hashing over virtual
// nodes. A ring is built once from a selection pool and never modified, so
// concurrent lookups need no locking; pool changes build a new ring.
type Ring struct {
	ring         map[uint32]string
	sortedHashes []uint32
	nodeCount    int
}

// NewRing builds a ring over the given hostnames. Duplicates are ignored.
func NewRing(nodes []string, virtualNodes int) *Ring {
	if virtualNodes <= 0 {
		virtualNodes = 10
	}

	ring := &Ring{
		ring:         make(map[uint32]string, len(nodes)*virtualNodes),
		sortedHashes: make([]uint32, 0, len(nodes)*virtualNodes),
	}
	seen := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		if seen[node] {
			continue
		}
		seen[node] = true
		ring.nodeCount++
		for i := 0; i < virtualNodes; i++ {
			hash := hashKey(fmt.Sprintf("%s#%d", node, i))
			if _, exists := ring.ring[hash]; exists {
				continue
			}
			ring.ring[hash] = node
			ring.sortedHashes = append(ring.sortedHashes, hash)
		}
	}

	sort.Slice(ring.sortedHashes, func(i, j int) bool {
		return ring.sortedHashes[i] < ring.sortedHashes[j]
	})
	return ring
}

// Get returns the hostname owning the given key.
func (r *Ring) Get(key string) (string, bool) {
	if r == nil || len(r.sortedHashes) == 0 {
		return "", false
	}

	hash := hashKey(key)
	idx := sort.Search(len(r.sortedHashes), func(i int) bool {
		return r.sortedHashes[i] >= hash
	})
	if idx >= len(r.sortedHashes) {
		idx = 0
	}
	return r.ring[r.sortedHashes[idx]], true
}

// Size returns the number of distinct hostnames on the ring.
func (r *Ring) Size() int {
	if r == nil {
		return 0
	}
	return r.nodeCount
}

// BuildKey combines a caller key with the configured salt and the retry
// attempt. Folding the attempt in makes retries walk to a different owner
// while repeated first attempts stay put.
func BuildKey(key string, salt string, attempt int) string {
	if salt != "" {
		key = key + "|" + salt
	}
	if attempt > 0 {
		key = key + "#" + strconv.Itoa(attempt)
	}
	return key
}

func hashKey(key string) uint32 {
	hash := md5.Sum([]byte(key))
	return binary.BigEndian.Uint32(hash[:4])
}
