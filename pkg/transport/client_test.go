package transport_test

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tripab/replicanode/internal/testutil"
	"github.com/tripab/replicanode/pkg/codec"
	"github.com/tripab/replicanode/pkg/ring"
	"github.com/tripab/replicanode/pkg/transport"
)

func sampleFrame() (codec.Message, codec.Frame) {
	m := codec.Message{Key: "user:42", Value: []byte("Alice"), Timestamp: 1, Clock: []uint64{0, 0, 0, 1}}
	return m, codec.NewFrame(m)
}

func TestSendDeliversFrame(t *testing.T) {
	mat := testutil.NewTLS(t)
	_, ep, got := startReceiver(t, mat, transport.DefaultServerConfig())

	client, err := transport.NewClient(testConfig(), transport.WithTLSConfig(mat.Client))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	m, frame := sampleFrame()
	if err := client.Send(context.Background(), ep, frame); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case r := <-got:
		if !reflect.DeepEqual(r.msg, m) {
			t.Errorf("Receiver got %+v, expected %+v", r.msg, m)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Receiver never got the frame")
	}
}

func TestSendRetriesThenSucceeds(t *testing.T) {
	mat := testutil.NewTLS(t)
	_, ep, got := startReceiver(t, mat, transport.DefaultServerConfig())

	dialer := &countingDialer{failFirst: 2}
	timer := newRecordingTimer()
	core, logs := observer.New(zapcore.WarnLevel)

	client, err := transport.NewClient(testConfig(),
		transport.WithTLSConfig(mat.Client),
		transport.WithDialer(dialer),
		transport.WithTimer(func() backoff.Timer { return timer }),
		transport.WithLogger(zap.New(core)))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, frame := sampleFrame()
	if err := client.Send(context.Background(), ep, frame); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if dialer.Calls() != 3 {
		t.Errorf("Expected exactly 3 connection attempts, got %d", dialer.Calls())
	}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if waits := timer.Waits(); !reflect.DeepEqual(waits, want) {
		t.Errorf("Expected backoff waits %v, got %v", want, waits)
	}

	if n := logs.FilterMessage("connection attempt failed").Len(); n != 2 {
		t.Errorf("Expected 2 retry warnings, got %d", n)
	}

	select {
	case <-got:
	case <-time.After(3 * time.Second):
		t.Fatal("Receiver never got the frame")
	}
}

func TestSendRetryExhaustion(t *testing.T) {
	dialer := &countingDialer{failFirst: -1}
	timer := newRecordingTimer()
	core, logs := observer.New(zapcore.ErrorLevel)

	cfg := testConfig()
	cfg.MaxAttempts = 4

	client, err := transport.NewClient(cfg,
		transport.WithDialer(dialer),
		transport.WithTimer(func() backoff.Timer { return timer }),
		transport.WithLogger(zap.New(core)))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, frame := sampleFrame()
	err = client.Send(context.Background(), ring.Endpoint{Host: "127.0.0.1", Port: 5001}, frame)

	var terr *transport.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("Expected *TransportError, got %T: %v", err, err)
	}
	if terr.Op != "connect" || terr.Attempts != 4 {
		t.Errorf("Expected connect failure after 4 attempts, got %s after %d", terr.Op, terr.Attempts)
	}
	if !errors.Is(err, transport.ErrConnect) {
		t.Errorf("Expected ErrConnect, got %v", err)
	}
	if !transport.IsRetryable(err) {
		t.Error("Connect failures should be reported as retryable")
	}

	if dialer.Calls() != 4 {
		t.Errorf("Expected 4 connection attempts, got %d", dialer.Calls())
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	if waits := timer.Waits(); !reflect.DeepEqual(waits, want) {
		t.Errorf("Expected backoff waits %v, got %v", want, waits)
	}

	if logs.FilterMessage("replica unreachable").Len() != 1 {
		t.Error("Expected one terminal error log")
	}
}

func TestSendRealRefusal(t *testing.T) {
	port := testutil.FreePort(t)

	cfg := testConfig()
	cfg.MaxAttempts = 2
	cfg.InitialBackoff = 10 * time.Millisecond

	client, err := transport.NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, frame := sampleFrame()
	err = client.Send(context.Background(), ring.Endpoint{Host: "127.0.0.1", Port: port}, frame)
	if !errors.Is(err, transport.ErrConnect) {
		t.Errorf("Expected ErrConnect against a closed port, got %v", err)
	}
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		t.Errorf("Expected the dial *net.OpError to stay reachable, got %v", err)
	}
}

func TestSendSingleAttempt(t *testing.T) {
	dialer := &countingDialer{failFirst: -1}
	timer := newRecordingTimer()

	cfg := testConfig()
	cfg.MaxAttempts = 1

	client, _ := transport.NewClient(cfg,
		transport.WithDialer(dialer),
		transport.WithTimer(func() backoff.Timer { return timer }))

	_, frame := sampleFrame()
	if err := client.Send(context.Background(), ring.Endpoint{Host: "127.0.0.1", Port: 1}, frame); err == nil {
		t.Fatal("Expected an error")
	}
	if dialer.Calls() != 1 {
		t.Errorf("Expected 1 attempt, got %d", dialer.Calls())
	}
	if len(timer.Waits()) != 0 {
		t.Errorf("Expected no backoff sleeps, got %v", timer.Waits())
	}
}

func TestSendResolveFailureNotRetried(t *testing.T) {
	dialer := &countingDialer{
		failFirst: -1,
		err: &net.OpError{Op: "dial", Net: "tcp", Err: &net.DNSError{
			Err: "no such host", Name: "missing.invalid", IsNotFound: true,
		}},
	}

	client, _ := transport.NewClient(testConfig(),
		transport.WithDialer(dialer),
		transport.WithTimer(func() backoff.Timer { return newRecordingTimer() }))

	_, frame := sampleFrame()
	err := client.Send(context.Background(), ring.Endpoint{Host: "missing.invalid", Port: 6000}, frame)
	if !errors.Is(err, transport.ErrResolve) {
		t.Fatalf("Expected ErrResolve, got %v", err)
	}
	var dnsErr *net.DNSError
	if !errors.As(err, &dnsErr) || dnsErr.Name != "missing.invalid" {
		t.Errorf("Expected the *net.DNSError to stay reachable, got %v", err)
	}
	if dialer.Calls() != 1 {
		t.Errorf("Expected resolution failure to stop after 1 attempt, got %d", dialer.Calls())
	}
}

func TestSendHandshakeFailureNotRetried(t *testing.T) {
	mat := testutil.NewTLS(t)
	_, ep, got := startReceiver(t, mat, transport.DefaultServerConfig())

	dialer := &countingDialer{}
	untrusting := &tls.Config{MinVersion: tls.VersionTLS12, RootCAs: nil, ServerName: "replica.invalid"}

	client, _ := transport.NewClient(testConfig(),
		transport.WithDialer(dialer),
		transport.WithTLSConfig(untrusting))

	_, frame := sampleFrame()
	err := client.Send(context.Background(), ep, frame)
	if !errors.Is(err, transport.ErrHandshake) {
		t.Fatalf("Expected ErrHandshake, got %v", err)
	}
	var verifyErr *tls.CertificateVerificationError
	if !errors.As(err, &verifyErr) {
		t.Errorf("Expected the certificate verification error to stay reachable, got %v", err)
	}
	if transport.IsRetryable(err) {
		t.Error("Handshake failures must not be retryable")
	}
	if dialer.Calls() != 1 {
		t.Errorf("Expected 1 connection attempt, got %d", dialer.Calls())
	}

	select {
	case <-got:
		t.Error("Receiver must not get a frame over an untrusted channel")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSendWriteFailureNotRetried(t *testing.T) {
	mat := testutil.NewTLS(t)

	// Handshakes, then never reads, so a large frame stalls the writer.
	ln, err := tls.Listen("tcp", "127.0.0.1:0", mat.Server)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	stop := make(chan struct{})
	t.Cleanup(func() {
		close(stop)
		ln.Close()
	})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				conn.(*tls.Conn).Handshake()
				<-stop
			}()
		}
	}()

	dialer := &countingDialer{}
	cfg := testConfig()
	cfg.WriteTimeout = 200 * time.Millisecond

	client, _ := transport.NewClient(cfg,
		transport.WithDialer(dialer),
		transport.WithTLSConfig(mat.Client))

	big := codec.NewFrame(codec.Message{Key: "big", Value: make([]byte, 32<<20)})
	ep := ring.Endpoint{Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port}

	err = client.Send(context.Background(), ep, big)
	if !errors.Is(err, transport.ErrWrite) {
		t.Fatalf("Expected ErrWrite, got %v", err)
	}
	if dialer.Calls() != 1 {
		t.Errorf("Write failures must not reconnect, got %d dials", dialer.Calls())
	}
}

func TestSendCancelledDuringBackoff(t *testing.T) {
	dialer := &countingDialer{failFirst: -1}

	cfg := testConfig()
	cfg.MaxAttempts = 5
	cfg.InitialBackoff = time.Hour

	client, _ := transport.NewClient(cfg, transport.WithDialer(dialer))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, frame := sampleFrame()
	err := client.Send(ctx, ring.Endpoint{Host: "127.0.0.1", Port: 1}, frame)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
	if dialer.Calls() != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got %d", dialer.Calls())
	}
}

func TestCircuitBreakerOpens(t *testing.T) {
	dialer := &countingDialer{failFirst: -1}

	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.CircuitBreaker.Enabled = true
	cfg.CircuitBreaker.FailureThreshold = 2
	cfg.CircuitBreaker.ResetTimeout = time.Minute

	client, err := transport.NewClient(cfg, transport.WithDialer(dialer))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	ep := ring.Endpoint{Host: "127.0.0.1", Port: 1}
	_, frame := sampleFrame()

	for i := 0; i < 2; i++ {
		if err := client.Send(context.Background(), ep, frame); !errors.Is(err, transport.ErrConnect) {
			t.Fatalf("Send %d: expected ErrConnect, got %v", i, err)
		}
	}

	if state := client.BreakerState(ep.String()); state != "open" {
		t.Errorf("Expected open breaker, got %s", state)
	}

	err = client.Send(context.Background(), ep, frame)
	if !errors.Is(err, transport.ErrCircuitOpen) {
		t.Fatalf("Expected ErrCircuitOpen, got %v", err)
	}
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Expected gobreaker.ErrOpenState to stay reachable, got %v", err)
	}
	if dialer.Calls() != 2 {
		t.Errorf("Open breaker must not dial, got %d dials", dialer.Calls())
	}

	other := ring.Endpoint{Host: "127.0.0.1", Port: 2}
	if state := client.BreakerState(other.String()); state != "closed" {
		t.Errorf("Expected untouched endpoint to be closed, got %s", state)
	}
}

func TestNewClientRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 0
	if _, err := transport.NewClient(cfg); err == nil {
		t.Error("Expected error for MaxAttempts=0")
	}

	cfg = testConfig()
	cfg.TLS.MinVersion = "1.0"
	if _, err := transport.NewClient(cfg); err == nil {
		t.Error("Expected error for unsupported TLS version")
	}
}
