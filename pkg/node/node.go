// Package node assembles a replication node from its configuration: the
// coordinator and its TLS client, the local store, the frame receiver and
// the admin API.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/tripab/replicanode/pkg/api"
	"github.com/tripab/replicanode/pkg/config"
	"github.com/tripab/replicanode/pkg/logging"
	"github.com/tripab/replicanode/pkg/metrics"
	"github.com/tripab/replicanode/pkg/replication"
	"github.com/tripab/replicanode/pkg/storage"
	"github.com/tripab/replicanode/pkg/transport"
)

var ErrStopped = errors.New("node stopped")

type Option func(*Node)

// WithSender replaces the TLS client, mainly for tests.
func WithSender(s transport.Sender) Option {
	return func(n *Node) { n.sender = s }
}

type Node struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Collector
	sender   transport.Sender

	coordinator *replication.Coordinator
	local       *storage.MemoryStorage
	store       *storage.ReplicatedStore
	receiver    *transport.Server
	admin       *api.Server
	adminLn     net.Listener

	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	stopped bool
}

func NewNode(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Node, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	n := &Node{
		cfg:      cfg,
		logger:   logging.OrNop(logger),
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.metrics = metrics.NewCollector(n.registry, cfg.NodeID)

	coordOpts := []replication.Option{
		replication.WithLogger(n.logger),
		replication.WithMetrics(n.metrics),
	}
	if n.sender != nil {
		coordOpts = append(coordOpts, replication.WithSender(n.sender))
	}
	n.coordinator = replication.New(replication.Config{
		LocalID:     cfg.NodeID,
		Peers:       cfg.Peers,
		DefaultPort: cfg.DefaultPort,
		Transport:   cfg.TransportConfig(),
	}, coordOpts...)

	n.local = storage.NewMemoryStorage()
	n.store = storage.NewReplicatedStore(n.local, n.coordinator, n.logger)

	return n, nil
}

// Start initializes replication and opens the receiver and admin
// listeners that are configured.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stopped {
		return ErrStopped
	}
	if n.started {
		return nil
	}

	if err := n.coordinator.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize replication: %w", err)
	}

	if n.cfg.Receiver.Enabled {
		tlsConfig, err := n.cfg.TLSOptions().ServerTLS()
		if err != nil {
			return fmt.Errorf("receiver TLS: %w", err)
		}
		applier := storage.NewApplier(n.local, n.cfg.Receiver.SenderClockOrders, n.logger)
		n.receiver = transport.NewServer(n.cfg.ServerConfig(), tlsConfig, applier,
			transport.WithServerLogger(n.logger),
			transport.WithServerMetrics(n.metrics),
		)
		if err := n.receiver.Start(); err != nil {
			return fmt.Errorf("failed to start receiver: %w", err)
		}
	}

	if n.cfg.AdminAddr != "" {
		ln, err := net.Listen("tcp", n.cfg.AdminAddr)
		if err != nil {
			n.stopReceiver()
			return fmt.Errorf("failed to start admin server: %w", err)
		}
		n.adminLn = ln
		n.admin = api.NewServer(n.store, n.coordinator, n.logger, n.metrics)

		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.admin.Serve(ln); err != nil {
				n.logger.Error("admin server failed", zap.Error(err))
			}
		}()
	}

	n.started = true
	n.logger.Info("node started",
		zap.String("node_id", n.cfg.NodeID),
		zap.Strings("peers", n.cfg.Peers),
		zap.Bool("receiver", n.receiver != nil),
		zap.String("admin_addr", n.cfg.AdminAddr),
	)
	return nil
}

// Stop shuts listeners down and releases storage. Safe to call twice.
func (n *Node) Stop() error {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return nil
	}
	n.stopped = true
	n.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if n.admin != nil {
		if err := n.admin.Shutdown(ctx); err != nil {
			n.logger.Warn("admin server shutdown error", zap.Error(err))
		}
	}
	n.wg.Wait()

	n.stopReceiver()

	n.logger.Info("node stopped", zap.Uint64("local_clock", n.coordinator.Snapshot().Local))
	return n.local.Close()
}

func (n *Node) stopReceiver() {
	if n.receiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.receiver.Stop(ctx); err != nil {
		n.logger.Warn("receiver shutdown error", zap.Error(err))
	}
}

func (n *Node) Coordinator() *replication.Coordinator { return n.coordinator }

func (n *Node) Store() *storage.ReplicatedStore { return n.store }

func (n *Node) Metrics() *metrics.Collector { return n.metrics }

// AdminAddr is the bound admin address, or nil when disabled.
func (n *Node) AdminAddr() net.Addr {
	if n.adminLn == nil {
		return nil
	}
	return n.adminLn.Addr()
}

// ReceiverAddr is the bound receiver address, or nil when disabled.
func (n *Node) ReceiverAddr() net.Addr {
	if n.receiver == nil {
		return nil
	}
	return n.receiver.Addr()
}
