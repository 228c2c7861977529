package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"sync"

	"treemap/registry"
)

// ConsistentHashBalancer maps keys to instances on a hash ring. The same key
// keeps landing on the same instance until the ring changes.
//
// Each instance owns replicas virtual nodes hashed from "{addr}#{i}" so that a
// handful of instances still spread evenly around the ring.
type ConsistentHashBalancer struct {
	replicas int

	mu    sync.RWMutex
	ring  []uint32                     // Sorted hash values on the ring
	nodes map[uint32]registry.Instance // Hash value → instance
	addrs map[string]bool              // Addresses currently on the ring
}

// NewConsistentHashBalancer creates a ring with 100 virtual nodes per instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]registry.Instance),
		addrs:    make(map[string]bool),
	}
}

// Add places an instance onto the ring.
func (b *ConsistentHashBalancer) Add(instance registry.Instance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.add(instance)
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
}

func (b *ConsistentHashBalancer) add(instance registry.Instance) {
	b.addrs[instance.Addr] = true
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", instance.Addr, i)))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = instance
	}
}

// Reset rebuilds the ring from instances. It is a no-op when the set of
// addresses is unchanged.
func (b *ConsistentHashBalancer) Reset(instances []registry.Instance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(instances) == len(b.addrs) {
		same := true
		for _, inst := range instances {
			if !b.addrs[inst.Addr] {
				same = false
				break
			}
		}
		if same {
			return
		}
	}
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]registry.Instance, len(instances)*b.replicas)
	b.addrs = make(map[string]bool, len(instances))
	for _, inst := range instances {
		b.add(inst)
	}
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
}

// Pick returns the first node clockwise from the key's hash.
func (b *ConsistentHashBalancer) Pick(key string) (*registry.Instance, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.ring) == 0 {
		return nil, registry.ErrNoInstances
	}
	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	inst := b.nodes[b.ring[idx]]
	return &inst, nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}

// Keyed adapts the ring to the Balancer interface for one fixed key.
func (b *ConsistentHashBalancer) Keyed(key string) Balancer {
	return keyedBalancer{ring: b, key: key}
}

type keyedBalancer struct {
	ring *ConsistentHashBalancer
	key  string
}

func (k keyedBalancer) Pick(instances []registry.Instance) (*registry.Instance, error) {
	k.ring.Reset(instances)
	return k.ring.Pick(k.key)
}

func (k keyedBalancer) Name() string {
	return "ConsistentHash"
}
