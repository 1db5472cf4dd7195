package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tripab/replicanode/pkg/logging"
	"github.com/tripab/replicanode/pkg/replication"
	"github.com/tripab/replicanode/pkg/ring"
	"github.com/tripab/replicanode/pkg/versioning"
)

// Replicator is the part of replication.Coordinator the store needs.
type Replicator interface {
	ReplicateAndApply(ctx context.Context, key string, value []byte, apply func(replication.Update) error) (ring.Endpoint, error)
	LocalID() string
	ClockOrder() []string
}

// ReplicatedStore writes to local storage and pushes every write to the
// replica chosen by the coordinator.
type ReplicatedStore struct {
	local      Storage
	replicator Replicator
	reconciler versioning.Reconciler
	logger     *zap.Logger
}

func NewReplicatedStore(local Storage, r Replicator, logger *zap.Logger) *ReplicatedStore {
	return &ReplicatedStore{
		local:      local,
		replicator: r,
		reconciler: &versioning.LastWriteWinsReconciler{},
		logger:     logging.OrNop(logger),
	}
}

// Put stores value locally, then replicates it. If the local write
// fails nothing is sent and the error wraps both replication.ErrApplyFailed
// and the storage cause. A replication failure after a successful local
// write is a *replication.ReplicationError and the local write stays.
func (s *ReplicatedStore) Put(ctx context.Context, key string, value []byte) (ring.Endpoint, error) {
	target, err := s.replicator.ReplicateAndApply(ctx, key, value, func(u replication.Update) error {
		return s.local.Put(key, versioning.VersionedValue{
			Data:        u.Value,
			VectorClock: clockFromCounters(s.replicator.ClockOrder(), s.replicator.LocalID(), u.Clock.Counters),
			Timestamp:   u.Timestamp,
			Origin:      s.replicator.LocalID(),
		})
	})
	if errors.Is(err, replication.ErrApplyFailed) {
		s.logger.Error("local write failed", zap.String("key", key), zap.Error(err))
	}
	return target, err
}

// Get returns every concurrent version stored for key.
func (s *ReplicatedStore) Get(key string) ([]versioning.VersionedValue, error) {
	return s.local.Get(key)
}

// Resolve returns a single value for key, picking among siblings with
// last-write-wins.
func (s *ReplicatedStore) Resolve(key string) ([]byte, error) {
	values, err := s.local.Get(key)
	if err != nil {
		return nil, err
	}
	return s.reconciler.Resolve(values), nil
}

func (s *ReplicatedStore) Keys() ([]string, error) {
	return s.local.GetAllKeys()
}

// clockFromCounters names entry i after order[i], or "<scope>#i" past
// the end of order.
func clockFromCounters(order []string, scope string, counters []uint64) *versioning.VectorClock {
	vc := versioning.NewVectorClock()
	for i, c := range counters {
		node := slotName(scope, i)
		if i < len(order) {
			node = order[i]
		}
		if c > 0 {
			vc.Versions[node] = c
		}
	}
	return vc
}

func slotName(scope string, i int) string {
	return fmt.Sprintf("%s#%d", scope, i)
}
