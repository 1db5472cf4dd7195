// Package transport delivers replication frames to replica endpoints over
// TLS, and receives them on the other side.
//
// The client opens a fresh connection for every Send and closes it when the
// frame has been written; connections are never pooled or reused.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/tripab/replicanode/pkg/codec"
	"github.com/tripab/replicanode/pkg/logging"
	"github.com/tripab/replicanode/pkg/metrics"
	"github.com/tripab/replicanode/pkg/ring"
)

// Sender delivers one frame to one endpoint.
type Sender interface {
	Send(ctx context.Context, endpoint ring.Endpoint, frame codec.Frame) error
}

// Dialer opens the raw transport connection. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Client is a TLS Sender with bounded connect retries.
type Client struct {
	cfg       Config
	tlsConfig *tls.Config
	dialer    Dialer
	newTimer  func() backoff.Timer
	breakers  *breakerSet
	logger    *zap.Logger
	metrics   *metrics.Collector
}

type ClientOption func(*Client)

// WithDialer replaces the TCP dialer.
func WithDialer(d Dialer) ClientOption {
	return func(c *Client) { c.dialer = d }
}

// WithTimer replaces the timer used for backoff sleeps.
func WithTimer(newTimer func() backoff.Timer) ClientOption {
	return func(c *Client) { c.newTimer = newTimer }
}

// WithTLSConfig replaces the tls.Config built from Config.TLS.
func WithTLSConfig(cfg *tls.Config) ClientOption {
	return func(c *Client) { c.tlsConfig = cfg }
}

func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

func WithMetrics(m *metrics.Collector) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:    cfg,
		dialer: &net.Dialer{Timeout: cfg.ConnectTimeout},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNop(c.logger)

	if c.tlsConfig == nil {
		tlsConfig, err := cfg.TLS.ClientTLS()
		if err != nil {
			return nil, fmt.Errorf("transport: %w", err)
		}
		c.tlsConfig = tlsConfig
	}

	if cfg.CircuitBreaker.Enabled {
		c.breakers = newBreakerSet(cfg.CircuitBreaker, c.logger, c.metrics)
	}

	return c, nil
}

// Send connects to endpoint, negotiates TLS, writes the whole frame and
// closes the connection. Only the connect step is retried.
func (c *Client) Send(ctx context.Context, endpoint ring.Endpoint, frame codec.Frame) error {
	if c.breakers == nil {
		return c.send(ctx, endpoint, frame)
	}
	return c.breakers.execute(endpoint.String(), func() error {
		return c.send(ctx, endpoint, frame)
	})
}

func (c *Client) send(ctx context.Context, endpoint ring.Endpoint, frame codec.Frame) error {
	addr := endpoint.String()

	conn, attempts, err := c.connect(ctx, addr)
	if err != nil {
		c.logger.Error("replica unreachable",
			zap.String("endpoint", addr),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return &TransportError{Op: "connect", Endpoint: addr, Attempts: attempts, Err: err}
	}

	tlsConn := tls.Client(conn, c.tlsFor(endpoint))
	defer tlsConn.Close()

	hsCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		c.logger.Error("TLS handshake failed", zap.String("endpoint", addr), zap.Error(err))
		return &TransportError{Op: "handshake", Endpoint: addr, Attempts: attempts, Err: fmt.Errorf("%w: %w", ErrHandshake, err)}
	}

	written, err := c.writeFrame(tlsConn, frame)
	c.metrics.AddBytesSent(addr, written)
	if err != nil {
		c.logger.Error("frame write failed",
			zap.String("endpoint", addr),
			zap.Int("written", written),
			zap.Int("frame_bytes", frame.Len()),
			zap.Error(err))
		return &TransportError{Op: "write", Endpoint: addr, Attempts: attempts, Err: fmt.Errorf("%w: %w", ErrWrite, err)}
	}

	c.logger.Debug("frame delivered",
		zap.String("endpoint", addr),
		zap.Int("bytes", written),
		zap.Int("attempts", attempts))
	return nil
}

// connect dials addr with exponential backoff between failed attempts.
func (c *Client) connect(ctx context.Context, addr string) (net.Conn, int, error) {
	var (
		conn     net.Conn
		attempts int
	)

	operation := func() error {
		attempts++

		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()

		nc, err := c.dialer.DialContext(dialCtx, "tcp", addr)
		if err != nil {
			c.metrics.ObserveConnect(addr, "error")

			var dnsErr *net.DNSError
			if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
				return backoff.Permanent(fmt.Errorf("%w: %w", ErrResolve, err))
			}
			return fmt.Errorf("%w: %w", ErrConnect, err)
		}

		c.metrics.ObserveConnect(addr, "ok")
		conn = nc
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("connection attempt failed",
			zap.String("endpoint", addr),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", c.cfg.MaxAttempts),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	var timer backoff.Timer
	if c.newTimer != nil {
		timer = c.newTimer()
	}

	err := backoff.RetryNotifyWithTimer(operation, c.backOff(ctx), notify, timer)
	if err != nil && !errors.Is(err, ErrConnect) && !errors.Is(err, ErrResolve) {
		// cancelled while backing off
		err = fmt.Errorf("%w: %w", ErrConnect, err)
	}
	return conn, attempts, err
}

// backOff yields InitialBackoff, 2×, 4×, ... capped at MaxBackoff, for
// MaxAttempts-1 retries.
func (c *Client) backOff(ctx context.Context) backoff.BackOff {
	if c.cfg.MaxAttempts <= 1 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.InitialBackoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	if c.cfg.MaxBackoff > 0 {
		exp.MaxInterval = c.cfg.MaxBackoff
	}

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.cfg.MaxAttempts-1)), ctx)
}

func (c *Client) tlsFor(endpoint ring.Endpoint) *tls.Config {
	cfg := c.tlsConfig.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = endpoint.Host
	}
	return cfg
}

// writeFrame keeps writing until the whole frame is out or the connection
// errors.
func (c *Client) writeFrame(conn net.Conn, frame codec.Frame) (int, error) {
	if c.cfg.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
			return 0, err
		}
	}

	buf := frame.Bytes()
	written := 0
	for written < len(buf) {
		n, err := conn.Write(buf[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, fmt.Errorf("short write: %d of %d bytes", written, len(buf))
		}
	}
	return written, nil
}
