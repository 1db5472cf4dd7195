package ring

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is used for addresses that carry no port.
const DefaultPort = 6000

var (
	ErrEmptyRing         = errors.New("ring has no endpoints")
	ErrInvalidAddress    = errors.New("invalid replica address")
	ErrDuplicateEndpoint = errors.New("duplicate replica endpoint")
)

// Endpoint identifies one replication peer.
type Endpoint struct {
	Host string
	Port int
}

// String renders the endpoint as "host:port".
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ParseEndpoint parses "host:port" or a bare "host". A missing port is
// replaced by defaultPort; a defaultPort <= 0 means DefaultPort.
func ParseEndpoint(addr string, defaultPort int) (Endpoint, error) {
	if defaultPort <= 0 {
		defaultPort = DefaultPort
	}

	addr = strings.TrimSpace(addr)
	if addr == "" {
		return Endpoint{}, fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// No port, or a bracketed IPv6 literal without one
		host = strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")
		if strings.ContainsAny(host, "[]") || (strings.Count(host, ":") == 1) {
			return Endpoint{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, addr, err)
		}
		return validate(Endpoint{Host: host, Port: defaultPort}, addr)
	}

	if portStr == "" {
		return validate(Endpoint{Host: host, Port: defaultPort}, addr)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %q: bad port", ErrInvalidAddress, addr)
	}

	return validate(Endpoint{Host: host, Port: port}, addr)
}

func validate(e Endpoint, raw string) (Endpoint, error) {
	if e.Host == "" {
		return Endpoint{}, fmt.Errorf("%w: %q: empty host", ErrInvalidAddress, raw)
	}
	if e.Port < 1 || e.Port > 65535 {
		return Endpoint{}, fmt.Errorf("%w: %q: port out of range", ErrInvalidAddress, raw)
	}
	return e, nil
}
