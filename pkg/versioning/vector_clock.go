package versioning

import (
	"bytes"
)

// VectorClock is a map-based view of per-node counters, used to compare
// the causal history carried by replicated values.
type VectorClock struct {
	Versions map[string]uint64 `json:"versions"`
}

type Ordering int

const (
	Before Ordering = iota
	After
	Equal
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Before:
		return "before"
	case After:
		return "after"
	case Equal:
		return "equal"
	default:
		return "concurrent"
	}
}

func NewVectorClock() *VectorClock {
	return &VectorClock{
		Versions: make(map[string]uint64),
	}
}

// Increment increments the clock for a node
func (vc *VectorClock) Increment(nodeID string) {
	vc.Versions[nodeID]++
}

// Copy creates a deep copy of the vector clock
func (vc *VectorClock) Copy() *VectorClock {
	newVC := NewVectorClock()
	for k, v := range vc.Versions {
		newVC.Versions[k] = v
	}
	return newVC
}

// Compare determines the ordering relationship between two vector clocks.
// Missing entries count as zero.
func (vc *VectorClock) Compare(other *VectorClock) Ordering {
	if vc == nil || other == nil {
		return Concurrent
	}

	vcGreater := false
	otherGreater := false

	for node, vcVal := range vc.Versions {
		if otherVal := other.Versions[node]; vcVal > otherVal {
			vcGreater = true
		} else if otherVal > vcVal {
			otherGreater = true
		}
	}
	for node, otherVal := range other.Versions {
		if _, ok := vc.Versions[node]; !ok && otherVal > 0 {
			otherGreater = true
		}
	}

	switch {
	case vcGreater && !otherGreater:
		return After
	case otherGreater && !vcGreater:
		return Before
	case !vcGreater && !otherGreater:
		return Equal
	default:
		return Concurrent
	}
}

// Merge creates a new vector clock holding the per-node maximum of both
func (vc *VectorClock) Merge(other *VectorClock) *VectorClock {
	merged := vc.Copy()

	for node, count := range other.Versions {
		if count > merged.Versions[node] {
			merged.Versions[node] = count
		}
	}

	return merged
}

// Equals checks if two vector clocks are identical
func (vc *VectorClock) Equals(other *VectorClock) bool {
	if len(vc.Versions) != len(other.Versions) {
		return false
	}

	for node, count := range vc.Versions {
		if c, ok := other.Versions[node]; !ok || c != count {
			return false
		}
	}

	return true
}

// ReconcileConcurrent drops every version dominated by another one and
// keeps the concurrent siblings. It never picks a winner among them.
func ReconcileConcurrent(versions []VersionedValue) []VersionedValue {
	if len(versions) <= 1 {
		return versions
	}

	concurrent := []VersionedValue{}

	for i := range versions {
		isDominated := false
		isDuplicate := false

		for j := range versions {
			if i == j {
				continue
			}

			switch versions[i].VectorClock.Compare(versions[j].VectorClock) {
			case Before:
				isDominated = true
			case Equal:
				// keep only the first of identical clocks
				isDuplicate = j < i
			}
			if isDominated || isDuplicate {
				break
			}
		}

		if !isDominated && !isDuplicate {
			concurrent = append(concurrent, versions[i])
		}
	}

	return concurrent
}

type VersionedValue struct {
	Data        []byte
	VectorClock *VectorClock
	Timestamp   int64
	Origin      string
}

func (v *VersionedValue) Equals(other *VersionedValue) bool {
	return bytes.Equal(v.Data, other.Data) &&
		v.VectorClock.Equals(other.VectorClock) &&
		v.Timestamp == other.Timestamp
}
