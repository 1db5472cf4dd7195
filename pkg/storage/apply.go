package storage

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/tripab/replicanode/pkg/codec"
	"github.com/tripab/replicanode/pkg/logging"
	"github.com/tripab/replicanode/pkg/versioning"
)

// ErrClockShape is returned when a received clock does not match the
// order configured for its sender.
var ErrClockShape = errors.New("clock length does not match sender order")

// Applier stores replicated updates received from other nodes. It
// implements transport.Handler.
//
// The wire clock carries counters only. A sender is identified by the
// host part of its remote address. If senderOrders has an entry for that
// host, clock entry i is named after order[i]. Otherwise entries are named
// "<host>#i"; two unconfigured senders then share no entry names, so
// their writes are kept as concurrent siblings rather than compared
// position by position.
type Applier struct {
	store        Storage
	senderOrders map[string][]string
	logger       *zap.Logger
}

func NewApplier(store Storage, senderOrders map[string][]string, logger *zap.Logger) *Applier {
	return &Applier{
		store:        store,
		senderOrders: senderOrders,
		logger:       logging.OrNop(logger),
	}
}

func (a *Applier) HandleReplication(ctx context.Context, remote string, msg codec.Message) error {
	sender := senderHost(remote)

	order, known := a.senderOrders[sender]
	if known && len(order) != len(msg.Clock) {
		return fmt.Errorf("%w: %s sent %d entries, expected %d", ErrClockShape, sender, len(msg.Clock), len(order))
	}

	v := versioning.VersionedValue{
		Data:        msg.Value,
		VectorClock: clockFromCounters(order, sender, msg.Clock),
		Timestamp:   msg.Timestamp,
		Origin:      sender,
	}
	if err := a.store.Put(msg.Key, v); err != nil {
		return fmt.Errorf("apply %q: %w", msg.Key, err)
	}

	a.logger.Debug("applied replicated update",
		zap.String("key", msg.Key),
		zap.String("sender", sender),
		zap.Bool("named_clock", known),
		zap.Uint64s("clock", msg.Clock),
	)
	return nil
}

// senderHost drops the ephemeral port from a remote address.
func senderHost(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
