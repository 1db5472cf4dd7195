package versioning

import "sync"

// Snapshot is an immutable copy of every counter in a ClockStore, in the
// store's fixed node order.
type Snapshot struct {
	Nodes    []string `json:"nodes"`
	Counters []uint64 `json:"counters"`
	Local    uint64   `json:"local"`
}

// Get returns the counter recorded for node.
func (s Snapshot) Get(node string) (uint64, bool) {
	for i, n := range s.Nodes {
		if n == node {
			return s.Counters[i], true
		}
	}
	return 0, false
}

// VectorClock converts the snapshot into a map-based clock.
func (s Snapshot) VectorClock() *VectorClock {
	vc := NewVectorClock()
	for i, n := range s.Nodes {
		vc.Versions[n] = s.Counters[i]
	}
	return vc
}

// ClockStore holds this node's vector clock. Only the local entry ever
// changes; counters live in memory and restart at zero.
type ClockStore struct {
	localID  string
	localIdx int
	nodes    []string
	counters []uint64
	mu       sync.Mutex
}

// NewClockStore creates a store with a zero counter for every node in
// nodes followed by localID. localID is not duplicated if nodes already
// contains it. The resulting order never changes.
func NewClockStore(localID string, nodes []string) *ClockStore {
	order := make([]string, 0, len(nodes)+1)
	seen := make(map[string]bool, len(nodes)+1)
	for _, n := range nodes {
		if seen[n] {
			continue
		}
		seen[n] = true
		order = append(order, n)
	}
	if !seen[localID] {
		order = append(order, localID)
	}

	localIdx := 0
	for i, n := range order {
		if n == localID {
			localIdx = i
		}
	}

	return &ClockStore{
		localID:  localID,
		localIdx: localIdx,
		nodes:    order,
		counters: make([]uint64, len(order)),
	}
}

// BumpLocal increments the local counter and returns the state that
// includes the increment. Concurrent callers each see a distinct value.
func (s *ClockStore) BumpLocal() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[s.localIdx]++
	return s.snapshotLocked()
}

// Snapshot returns the current state without changing it.
func (s *ClockStore) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *ClockStore) snapshotLocked() Snapshot {
	counters := make([]uint64, len(s.counters))
	copy(counters, s.counters)
	return Snapshot{
		Nodes:    s.nodes, // never mutated after construction
		Counters: counters,
		Local:    counters[s.localIdx],
	}
}

// Local returns the current local counter.
func (s *ClockStore) Local() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[s.localIdx]
}

func (s *ClockStore) LocalID() string { return s.localID }

// Nodes returns the fixed iteration order.
func (s *ClockStore) Nodes() []string {
	out := make([]string, len(s.nodes))
	copy(out, s.nodes)
	return out
}
