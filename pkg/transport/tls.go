package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSConfig describes channel security. Certificate verification is on
// unless InsecureSkipVerify is set.
type TLSConfig struct {
	// CAFile is a PEM bundle used to verify the peer; empty means system roots
	CAFile string
	// CertFile and KeyFile are this node's certificate, required by a Server
	CertFile string
	KeyFile  string
	// ServerName overrides the name checked against the replica's certificate
	ServerName         string
	InsecureSkipVerify bool
	// MinVersion is "1.2" or "1.3"
	MinVersion string
}

func (t TLSConfig) minVersion() (uint16, error) {
	switch t.MinVersion {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS min version %q", t.MinVersion)
	}
}

func (t TLSConfig) rootPool() (*x509.CertPool, error) {
	if t.CAFile == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(t.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", t.CAFile)
	}
	return pool, nil
}

// ClientTLS builds the tls.Config used when dialing replicas.
func (t TLSConfig) ClientTLS() (*tls.Config, error) {
	minVer, err := t.minVersion()
	if err != nil {
		return nil, err
	}
	roots, err := t.rootPool()
	if err != nil {
		return nil, err
	}

	cfg := &tls.Config{
		MinVersion:         minVer,
		RootCAs:            roots,
		ServerName:         t.ServerName,
		InsecureSkipVerify: t.InsecureSkipVerify,
	}

	if t.CertFile != "" || t.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// ServerTLS builds the tls.Config for the frame receiver.
func (t TLSConfig) ServerTLS() (*tls.Config, error) {
	minVer, err := t.minVersion()
	if err != nil {
		return nil, err
	}
	if t.CertFile == "" || t.KeyFile == "" {
		return nil, fmt.Errorf("server TLS requires CertFile and KeyFile")
	}
	cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}
	return &tls.Config{
		MinVersion:   minVer,
		Certificates: []tls.Certificate{cert},
	}, nil
}
