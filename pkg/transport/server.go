package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tripab/replicanode/pkg/codec"
	"github.com/tripab/replicanode/pkg/logging"
	"github.com/tripab/replicanode/pkg/metrics"
)

// Handler applies one verified replication message.
type Handler interface {
	HandleReplication(ctx context.Context, remote string, msg codec.Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, remote string, msg codec.Message) error

func (f HandlerFunc) HandleReplication(ctx context.Context, remote string, msg codec.Message) error {
	return f(ctx, remote, msg)
}

// ServerConfig configures the frame receiver.
type ServerConfig struct {
	Addr string
	// MaxFrameBytes caps the payload length accepted from a peer; 0 disables the cap
	MaxFrameBytes uint32
	// ReadTimeout bounds the handshake and reading one frame
	ReadTimeout time.Duration
	// RateLimit is frames per second accepted across all peers; 0 disables limiting
	RateLimit float64
	RateBurst int
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:          ":6000",
		MaxFrameBytes: 16 << 20,
		ReadTimeout:   10 * time.Second,
		RateLimit:     0,
		RateBurst:     100,
	}
}

// Frame results recorded by the server.
const (
	FrameAccepted  = "accepted"
	FrameThrottled = "throttled"
	FrameCorrupt   = "corrupt"
	FrameRejected  = "rejected"
	FrameFailed    = "handler_error"
)

// Server accepts TLS connections and reads one frame from each. A frame is
// handed to the Handler only after its digest and encoding check out.
type Server struct {
	cfg       ServerConfig
	tlsConfig *tls.Config
	handler   Handler
	limiter   *rate.Limiter
	logger    *zap.Logger
	metrics   *metrics.Collector

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
}

type ServerOption func(*Server)

func WithServerLogger(l *zap.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

func WithServerMetrics(m *metrics.Collector) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a receiver; call Start to begin listening.
func NewServer(cfg ServerConfig, tlsConfig *tls.Config, handler Handler, opts ...ServerOption) *Server {
	s := &Server{
		cfg:       cfg,
		tlsConfig: tlsConfig,
		handler:   handler,
		conns:     make(map[net.Conn]struct{}),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger)
	return s
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	if s.tlsConfig == nil {
		return errors.New("transport: server requires a TLS config")
	}

	ln, err := tls.Listen("tcp", s.cfg.Addr, s.tlsConfig)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", s.cfg.Addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	s.logger.Info("replication receiver listening", zap.String("addr", ln.Addr().String()))

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound address, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and waits for in-flight frames, or for ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	cancel := s.cancel
	s.listener = nil
	s.mu.Unlock()

	if ln == nil {
		return nil
	}
	cancel()
	err := ln.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
		s.mu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			s.serveConn(conn)
		}()
	}
}

func (s *Server) track(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()

	if s.limiter != nil && !s.limiter.Allow() {
		s.metrics.ObserveFrame(FrameThrottled)
		s.logger.Warn("replication frame throttled", zap.String("remote", remote))
		return
	}

	if s.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}

	frame, err := codec.ReadFrame(conn, s.cfg.MaxFrameBytes)
	if err != nil {
		s.metrics.ObserveFrame(FrameRejected)
		s.logger.Warn("failed to read replication frame", zap.String("remote", remote), zap.Error(err))
		return
	}

	msg, err := frame.Message()
	if err != nil {
		s.metrics.ObserveFrame(FrameCorrupt)
		s.logger.Warn("dropping corrupt replication frame",
			zap.String("remote", remote),
			zap.Int("payload_bytes", len(frame.Payload)),
			zap.Error(err))
		return
	}

	if err := s.handler.HandleReplication(s.ctx, remote, msg); err != nil {
		s.metrics.ObserveFrame(FrameFailed)
		s.logger.Error("failed to apply replication message",
			zap.String("remote", remote),
			zap.String("key", msg.Key),
			zap.Error(err))
		return
	}

	s.metrics.ObserveFrame(FrameAccepted)
	s.logger.Debug("replication message applied",
		zap.String("remote", remote),
		zap.String("key", msg.Key),
		zap.Int64("timestamp", msg.Timestamp))
}
