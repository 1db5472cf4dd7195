// Package replication pushes local writes to a replica chosen by the ring.
//
// A write bumps the local vector clock entry, is encoded into a frame with
// the full clock, and is delivered to exactly one replica. There is no
// acknowledgement, read path or quorum: delivery means the frame was
// written to the replica's TLS connection.
package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tripab/replicanode/pkg/codec"
	"github.com/tripab/replicanode/pkg/logging"
	"github.com/tripab/replicanode/pkg/metrics"
	"github.com/tripab/replicanode/pkg/ring"
	"github.com/tripab/replicanode/pkg/transport"
	"github.com/tripab/replicanode/pkg/versioning"
)

var (
	ErrNotInitialized     = errors.New("coordinator not initialized")
	ErrAlreadyInitialized = errors.New("coordinator already initialized")
	ErrInvalidLocalID     = errors.New("local node id must not be empty")
	ErrApplyFailed        = errors.New("local apply failed")
)

// Config is the static configuration of a Coordinator.
type Config struct {
	LocalID     string
	Peers       []string
	DefaultPort int
	Transport   transport.Config
}

// ReplicationError reports a failed attempt. Clock is the state that was
// sent, including the local increment.
type ReplicationError struct {
	Key      string
	Endpoint ring.Endpoint
	Clock    versioning.Snapshot
	Err      error
}

func (e *ReplicationError) Error() string {
	return fmt.Sprintf("replicate %q to %s: %v", e.Key, e.Endpoint, e.Err)
}

func (e *ReplicationError) Unwrap() error { return e.Err }

type Option func(*Coordinator)

// WithSender replaces the TLS client built by Initialize.
func WithSender(s transport.Sender) Option {
	return func(c *Coordinator) { c.sender = s }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = logging.OrNop(l) }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock sets the wall clock used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator is safe for concurrent use once Initialize has returned.
type Coordinator struct {
	cfg     Config
	sender  transport.Sender
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time

	mu     sync.RWMutex
	ring   *ring.Ring
	clocks *versioning.ClockStore

	lastTS atomic.Int64
}

func New(cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize builds the ring and zeroes every clock counter. It fails on
// invalid static configuration and may only succeed once.
func (c *Coordinator) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ring != nil {
		return ErrAlreadyInitialized
	}
	if c.cfg.LocalID == "" {
		return ErrInvalidLocalID
	}

	r, err := ring.NewFromAddresses(c.cfg.Peers, c.cfg.DefaultPort)
	if err != nil {
		return fmt.Errorf("build ring: %w", err)
	}

	if c.sender == nil {
		client, err := transport.NewClient(c.cfg.Transport,
			transport.WithLogger(c.logger),
			transport.WithMetrics(c.metrics),
		)
		if err != nil {
			return fmt.Errorf("build transport: %w", err)
		}
		c.sender = client
	}

	c.ring = r
	c.clocks = versioning.NewClockStore(c.cfg.LocalID, r.NodeIDs())

	c.logger.Info("replication coordinator initialized",
		zap.String("local_id", c.cfg.LocalID),
		zap.Strings("replicas", r.NodeIDs()),
	)
	return nil
}

// Update is a write as it is about to leave this node.
type Update struct {
	AttemptID string
	Key       string
	Value     []byte
	Timestamp int64
	Clock     versioning.Snapshot
}

// Replicate sends one update to the replica that owns key and returns
// that replica. The local clock is bumped even when delivery fails.
// ctx bounds the whole attempt; no deadline is added here.
func (c *Coordinator) Replicate(ctx context.Context, key string, value []byte) (ring.Endpoint, error) {
	return c.ReplicateAndApply(ctx, key, value, nil)
}

// ReplicateAndApply is Replicate with a hook that runs once the clock is
// bumped and the message built, before anything is sent. The hook sees
// the exact clock and timestamp that go on the wire, which lets a caller
// store the write locally first. A hook error aborts the attempt: nothing
// is sent and the error is returned wrapped in ErrApplyFailed.
func (c *Coordinator) ReplicateAndApply(ctx context.Context, key string, value []byte, apply func(Update) error) (ring.Endpoint, error) {
	r, clocks := c.state()
	if r == nil {
		return ring.Endpoint{}, ErrNotInitialized
	}

	start := time.Now()
	a := &attempt{
		id:     uuid.NewString(),
		key:    key,
		logger: c.logger,
	}

	snap := clocks.BumpLocal()
	a.transition(StateClockBumped, zap.Uint64("local_clock", snap.Local))

	msg := codec.Message{
		Key:       key,
		Value:     value,
		Timestamp: c.timestamp(),
		Clock:     snap.Counters,
	}
	frame := codec.NewFrame(msg)
	a.transition(StateMessageBuilt, zap.Int("frame_bytes", frame.Len()))

	if apply != nil {
		u := Update{AttemptID: a.id, Key: key, Value: value, Timestamp: msg.Timestamp, Clock: snap}
		if err := apply(u); err != nil {
			a.transition(StateFailed)
			c.metrics.ObserveReplication(metrics.OutcomeFailure, time.Since(start).Seconds(), snap.Local)
			c.logger.Error("local apply failed, update not sent",
				zap.String("attempt_id", a.id),
				zap.String("key", key),
				zap.Uint64("local_clock", snap.Local),
				zap.Error(err),
			)
			return ring.Endpoint{}, fmt.Errorf("%w: %q: %w", ErrApplyFailed, key, err)
		}
	}

	target := r.PickReplica(key)
	a.transition(StateTargetSelected, zap.Stringer("endpoint", target))

	a.transition(StateSending)
	if err := c.sender.Send(ctx, target, frame); err != nil {
		a.transition(StateFailed)
		c.metrics.ObserveReplication(metrics.OutcomeFailure, time.Since(start).Seconds(), snap.Local)
		c.logger.Error("replication failed",
			zap.String("attempt_id", a.id),
			zap.String("key", key),
			zap.Stringer("endpoint", target),
			zap.Uint64("local_clock", snap.Local),
			zap.Error(err),
		)
		return target, &ReplicationError{Key: key, Endpoint: target, Clock: snap, Err: err}
	}

	a.transition(StateSucceeded)
	c.metrics.ObserveReplication(metrics.OutcomeSuccess, time.Since(start).Seconds(), snap.Local)
	c.logger.Info("replicated",
		zap.String("attempt_id", a.id),
		zap.String("key", key),
		zap.Stringer("endpoint", target),
		zap.Uint64("local_clock", snap.Local),
	)
	return target, nil
}

// timestamp returns Unix nanoseconds, strictly increasing across calls
// even if the wall clock steps backwards.
func (c *Coordinator) timestamp() int64 {
	now := c.now().UnixNano()
	for {
		last := c.lastTS.Load()
		ts := now
		if ts <= last {
			ts = last + 1
		}
		if c.lastTS.CompareAndSwap(last, ts) {
			return ts
		}
	}
}

func (c *Coordinator) state() (*ring.Ring, *versioning.ClockStore) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ring, c.clocks
}

// Snapshot returns the current clock. It is empty before Initialize.
func (c *Coordinator) Snapshot() versioning.Snapshot {
	_, clocks := c.state()
	if clocks == nil {
		return versioning.Snapshot{}
	}
	return clocks.Snapshot()
}

func (c *Coordinator) Ring() *ring.Ring {
	r, _ := c.state()
	return r
}

func (c *Coordinator) LocalID() string { return c.cfg.LocalID }

// ClockOrder is the node order of every clock this coordinator sends.
func (c *Coordinator) ClockOrder() []string {
	_, clocks := c.state()
	if clocks == nil {
		return nil
	}
	return clocks.Nodes()
}
