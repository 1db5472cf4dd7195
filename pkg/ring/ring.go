// Package ring maps replication keys onto a fixed set of replica endpoints.
//
// Placement is simple modulo hashing: hash(key) % len(endpoints). It is
// deterministic while the endpoint set is static, but it does not give the
// minimal-disruption rebalancing of true consistent hashing; adding or
// removing an endpoint remaps most keys. Membership is fixed at startup, so
// this is enough for now. Virtual nodes would be added in PickReplica.
package ring

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Ring is an ordered, read-only sequence of endpoints. Order is the order
// given at construction and is never re-sorted.
type Ring struct {
	endpoints []Endpoint
}

// New builds a ring from already-parsed endpoints.
func New(endpoints []Endpoint) (*Ring, error) {
	if len(endpoints) == 0 {
		return nil, ErrEmptyRing
	}

	seen := make(map[string]bool, len(endpoints))
	eps := make([]Endpoint, len(endpoints))
	for i, e := range endpoints {
		if _, err := validate(e, e.String()); err != nil {
			return nil, err
		}
		id := e.String()
		if seen[id] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEndpoint, id)
		}
		seen[id] = true
		eps[i] = e
	}

	return &Ring{endpoints: eps}, nil
}

// NewFromAddresses parses each address with ParseEndpoint and builds a ring.
func NewFromAddresses(addrs []string, defaultPort int) (*Ring, error) {
	if len(addrs) == 0 {
		return nil, ErrEmptyRing
	}

	eps := make([]Endpoint, 0, len(addrs))
	for _, a := range addrs {
		e, err := ParseEndpoint(a, defaultPort)
		if err != nil {
			return nil, err
		}
		eps = append(eps, e)
	}
	return New(eps)
}

// PickReplica returns the endpoint responsible for key.
func (r *Ring) PickReplica(key string) Endpoint {
	idx := xxhash.Sum64String(key) % uint64(len(r.endpoints))
	return r.endpoints[idx]
}

// Endpoints returns a copy of the endpoints in ring order.
func (r *Ring) Endpoints() []Endpoint {
	out := make([]Endpoint, len(r.endpoints))
	copy(out, r.endpoints)
	return out
}

// NodeIDs returns the "host:port" form of every endpoint in ring order.
func (r *Ring) NodeIDs() []string {
	ids := make([]string, len(r.endpoints))
	for i, e := range r.endpoints {
		ids[i] = e.String()
	}
	return ids
}

func (r *Ring) Size() int { return len(r.endpoints) }
