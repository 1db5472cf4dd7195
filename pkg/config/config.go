// Package config loads the static configuration of a replication node.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tripab/replicanode/pkg/logging"
	"github.com/tripab/replicanode/pkg/ring"
	"github.com/tripab/replicanode/pkg/transport"
)

// Duration is a time.Duration written as "250ms", "5s" in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// bare numbers are nanoseconds
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("duration must be a string like \"5s\": %s", b)
		}
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	// NodeID names this node's own vector clock entry
	NodeID string `json:"node_id"`

	// Peers are the replica endpoints, "host:port" or "host"
	Peers []string `json:"peers"`

	// DefaultPort is used for peers without a port
	DefaultPort int `json:"default_port"`

	// AdminAddr serves health, clock and metrics; empty disables it
	AdminAddr string `json:"admin_addr"`

	Transport TransportConfig `json:"transport"`
	TLS       TLSConfig       `json:"tls"`
	Receiver  ReceiverConfig  `json:"receiver"`
	Log       logging.Config  `json:"log"`
}

type TransportConfig struct {
	ConnectTimeout Duration      `json:"connect_timeout"`
	WriteTimeout   Duration      `json:"write_timeout"`
	MaxAttempts    int           `json:"max_attempts"`
	InitialBackoff Duration      `json:"initial_backoff"`
	MaxBackoff     Duration      `json:"max_backoff"`
	CircuitBreaker BreakerConfig `json:"circuit_breaker"`
}

type BreakerConfig struct {
	Enabled             bool     `json:"enabled"`
	FailureThreshold    uint32   `json:"failure_threshold"`
	ResetTimeout        Duration `json:"reset_timeout"`
	HalfOpenMaxRequests uint32   `json:"half_open_max_requests"`
}

type TLSConfig struct {
	CAFile             string `json:"ca_file"`
	CertFile           string `json:"cert_file"`
	KeyFile            string `json:"key_file"`
	ServerName         string `json:"server_name"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify"`
	MinVersion         string `json:"min_version"`
}

// ReceiverConfig controls the inbound frame listener.
type ReceiverConfig struct {
	Enabled       bool     `json:"enabled"`
	ListenAddr    string   `json:"listen_addr"`
	MaxFrameBytes uint32   `json:"max_frame_bytes"`
	ReadTimeout   Duration `json:"read_timeout"`
	RateLimit     float64  `json:"rate_limit"`
	RateBurst     int      `json:"rate_burst"`

	// SenderClockOrders maps a sender host to the node order of the
	// clocks it sends. Senders not listed get "<host>#i" entry names.
	SenderClockOrders map[string][]string `json:"sender_clock_orders"`
}

func DefaultConfig() *Config {
	t := transport.DefaultConfig()
	srv := transport.DefaultServerConfig()

	return &Config{
		NodeID:      "node_local",
		Peers:       []string{"127.0.0.1:5001", "127.0.0.1:5002", "127.0.0.1:5003"},
		DefaultPort: ring.DefaultPort,
		AdminAddr:   ":8080",
		Transport: TransportConfig{
			ConnectTimeout: Duration(t.ConnectTimeout),
			WriteTimeout:   Duration(t.WriteTimeout),
			MaxAttempts:    t.MaxAttempts,
			InitialBackoff: Duration(t.InitialBackoff),
			MaxBackoff:     Duration(t.MaxBackoff),
			CircuitBreaker: BreakerConfig{
				Enabled:             t.CircuitBreaker.Enabled,
				FailureThreshold:    t.CircuitBreaker.FailureThreshold,
				ResetTimeout:        Duration(t.CircuitBreaker.ResetTimeout),
				HalfOpenMaxRequests: t.CircuitBreaker.HalfOpenMaxRequests,
			},
		},
		TLS: TLSConfig{
			MinVersion: t.TLS.MinVersion,
		},
		Receiver: ReceiverConfig{
			Enabled:       false,
			ListenAddr:    srv.Addr,
			MaxFrameBytes: srv.MaxFrameBytes,
			ReadTimeout:   Duration(srv.ReadTimeout),
			RateLimit:     srv.RateLimit,
			RateBurst:     srv.RateBurst,
		},
		Log: logging.DefaultConfig(),
	}
}

// Load reads a JSON file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks static configuration. All problems are reported at once.
func (c *Config) Validate() error {
	var errs []error

	if c.NodeID == "" {
		errs = append(errs, errors.New("node_id must be set"))
	}
	if len(c.Peers) == 0 {
		errs = append(errs, ring.ErrEmptyRing)
	}
	if _, err := ring.NewFromAddresses(c.Peers, c.DefaultPort); err != nil && len(c.Peers) > 0 {
		errs = append(errs, err)
	}
	if c.DefaultPort < 0 || c.DefaultPort > 65535 {
		errs = append(errs, fmt.Errorf("default_port %d out of range", c.DefaultPort))
	}
	if err := c.TransportConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Receiver.Enabled {
		if c.Receiver.ListenAddr == "" {
			errs = append(errs, errors.New("receiver.listen_addr must be set when the receiver is enabled"))
		}
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			errs = append(errs, errors.New("tls.cert_file and tls.key_file are required by the receiver"))
		}
	}

	return errors.Join(errs...)
}

// TransportConfig converts to the transport package's config.
func (c *Config) TransportConfig() transport.Config {
	return transport.Config{
		ConnectTimeout: c.Transport.ConnectTimeout.Std(),
		WriteTimeout:   c.Transport.WriteTimeout.Std(),
		MaxAttempts:    c.Transport.MaxAttempts,
		InitialBackoff: c.Transport.InitialBackoff.Std(),
		MaxBackoff:     c.Transport.MaxBackoff.Std(),
		TLS:            c.TLSOptions(),
		CircuitBreaker: transport.BreakerConfig{
			Enabled:             c.Transport.CircuitBreaker.Enabled,
			FailureThreshold:    c.Transport.CircuitBreaker.FailureThreshold,
			ResetTimeout:        c.Transport.CircuitBreaker.ResetTimeout.Std(),
			HalfOpenMaxRequests: c.Transport.CircuitBreaker.HalfOpenMaxRequests,
		},
	}
}

func (c *Config) TLSOptions() transport.TLSConfig {
	return transport.TLSConfig{
		CAFile:             c.TLS.CAFile,
		CertFile:           c.TLS.CertFile,
		KeyFile:            c.TLS.KeyFile,
		ServerName:         c.TLS.ServerName,
		InsecureSkipVerify: c.TLS.InsecureSkipVerify,
		MinVersion:         c.TLS.MinVersion,
	}
}

func (c *Config) ServerConfig() transport.ServerConfig {
	return transport.ServerConfig{
		Addr:          c.Receiver.ListenAddr,
		MaxFrameBytes: c.Receiver.MaxFrameBytes,
		ReadTimeout:   c.Receiver.ReadTimeout.Std(),
		RateLimit:     c.Receiver.RateLimit,
		RateBurst:     c.Receiver.RateBurst,
	}
}
