package transport_test

import (
	"context"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/tripab/replicanode/internal/testutil"
	"github.com/tripab/replicanode/pkg/codec"
	"github.com/tripab/replicanode/pkg/ring"
	"github.com/tripab/replicanode/pkg/transport"
)

// recordingTimer fires immediately and remembers every requested wait.
type recordingTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	c     chan time.Time
}

func newRecordingTimer() *recordingTimer {
	return &recordingTimer{c: make(chan time.Time, 1)}
}

func (r *recordingTimer) Start(d time.Duration) {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	r.c <- time.Now()
}

func (r *recordingTimer) Stop() {}

func (r *recordingTimer) C() <-chan time.Time { return r.c }

func (r *recordingTimer) Waits() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.waits))
	copy(out, r.waits)
	return out
}

// countingDialer refuses the first failFirst dials (all of them when
// failFirst < 0) and dials for real afterwards.
type countingDialer struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	err       error
}

func (d *countingDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d.mu.Lock()
	d.calls++
	n := d.calls
	d.mu.Unlock()

	if d.failFirst < 0 || n <= d.failFirst {
		if d.err != nil {
			return nil, d.err
		}
		return nil, &net.OpError{Op: "dial", Net: network, Err: syscall.ECONNREFUSED}
	}
	var nd net.Dialer
	return nd.DialContext(ctx, network, addr)
}

func (d *countingDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type received struct {
	remote string
	msg    codec.Message
}

// startReceiver runs a Server on a free localhost port and returns the
// endpoint plus a channel of applied messages.
func startReceiver(t *testing.T, mat *testutil.TLSMaterial, cfg transport.ServerConfig, opts ...transport.ServerOption) (*transport.Server, ring.Endpoint, <-chan received) {
	t.Helper()

	out := make(chan received, 16)
	cfg.Addr = "127.0.0.1:0"
	srv := transport.NewServer(cfg, mat.Server, transport.HandlerFunc(
		func(ctx context.Context, remote string, msg codec.Message) error {
			out <- received{remote: remote, msg: msg}
			return nil
		}), opts...)

	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})

	port := srv.Addr().(*net.TCPAddr).Port
	return srv, ring.Endpoint{Host: "127.0.0.1", Port: port}, out
}

func testConfig() transport.Config {
	cfg := transport.DefaultConfig()
	cfg.ConnectTimeout = 2 * time.Second
	cfg.WriteTimeout = 2 * time.Second
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
