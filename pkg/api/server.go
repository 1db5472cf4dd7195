// Package api serves the node's admin HTTP surface.
package api

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tripab/replicanode/pkg/logging"
	"github.com/tripab/replicanode/pkg/metrics"
	"github.com/tripab/replicanode/pkg/replication"
	"github.com/tripab/replicanode/pkg/ring"
	"github.com/tripab/replicanode/pkg/storage"
	"github.com/tripab/replicanode/pkg/versioning"
)

// MaxValueBytes bounds a PUT body.
const MaxValueBytes = 4 << 20

// Store is the write and read path behind /kv.
type Store interface {
	Put(ctx context.Context, key string, value []byte) (ring.Endpoint, error)
	Get(key string) ([]versioning.VersionedValue, error)
}

// Node reports cluster-facing state.
type Node interface {
	LocalID() string
	Snapshot() versioning.Snapshot
	Ring() *ring.Ring
}

type Server struct {
	router  *gin.Engine
	store   Store
	node    Node
	logger  *zap.Logger
	metrics *metrics.Collector
	httpSrv *http.Server
}

func NewServer(store Store, node Node, logger *zap.Logger, m *metrics.Collector) *Server {
	s := &Server{
		router:  gin.New(),
		store:   store,
		node:    node,
		logger:  logging.OrNop(logger),
		metrics: m,
	}
	s.router.Use(gin.Recovery(), MetricsMiddleware(m))
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/clock", s.handleClock)
	s.router.PUT("/kv/:key", s.handlePut)
	s.router.GET("/kv/:key", s.handleGet)

	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Serve blocks until Shutdown is called or the listener fails.
func (s *Server) Serve(ln net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("admin server listening", zap.String("addr", ln.Addr().String()))
	if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	replicas := 0
	if r := s.node.Ring(); r != nil {
		replicas = r.Size()
	}
	status := "healthy"
	code := http.StatusOK
	if replicas == 0 {
		status, code = "initializing", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":   status,
		"node_id":  s.node.LocalID(),
		"replicas": replicas,
		"system":   metrics.ReadSystemStats(c.Request.Context()),
	})
}

func (s *Server) handleClock(c *gin.Context) {
	c.JSON(http.StatusOK, s.node.Snapshot())
}

func (s *Server) handlePut(c *gin.Context) {
	key := c.Param("key")

	value, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxValueBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(value) > MaxValueBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "value too large"})
		return
	}

	target, err := s.store.Put(c.Request.Context(), key, value)
	if err != nil {
		var rerr *replication.ReplicationError
		if errors.As(err, &rerr) {
			// stored locally, replica not reached
			c.JSON(http.StatusBadGateway, gin.H{
				"error":       rerr.Err.Error(),
				"key":         key,
				"replica":     rerr.Endpoint.String(),
				"local_clock": rerr.Clock.Local,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"key":     key,
		"replica": target.String(),
	})
}

type version struct {
	Value     string            `json:"value"`
	Clock     map[string]uint64 `json:"clock"`
	Timestamp int64             `json:"timestamp"`
	Origin    string            `json:"origin"`
}

func (s *Server) handleGet(c *gin.Context) {
	key := c.Param("key")

	values, err := s.store.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "key " + key + " not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]version, 0, len(values))
	for _, v := range values {
		out = append(out, version{
			Value:     string(v.Data),
			Clock:     v.VectorClock.Versions,
			Timestamp: v.Timestamp,
			Origin:    v.Origin,
		})
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "versions": out})
}
