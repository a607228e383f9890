package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"
)

// ConsistentHashBalancer maps sender addresses to links using a hash ring, so
// the same sender keeps using the same link until the link set changes.
//
// Each link is placed on the ring as N virtual nodes to keep the distribution
// even with few links.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int

	mu    sync.Mutex
	set   string            // Candidate set the ring was built for
	ring  []uint32          // Sorted virtual node hashes
	nodes map[uint32]string // Virtual node hash → link name
}

// NewConsistentHashBalancer creates a ring with 100 virtual nodes per link.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{replicas: 100}
}

// Pick hashes key and returns the first link clockwise from it on the ring
// built for links. The ring is rebuilt only when the candidate set changes.
func (b *ConsistentHashBalancer) Pick(links []string, key string) (string, error) {
	if len(links) == 0 {
		return "", ErrNoLinks
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if set := candidateSet(links); set != b.set {
		b.build(links)
		b.set = set
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHashBalancer) build(links []string) {
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]string, len(links)*b.replicas)
	for _, link := range links {
		for i := 0; i < b.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", link, i)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = link
		}
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

func candidateSet(links []string) string {
	sorted := append([]string(nil), links...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
