package processes

import (
	"fmt"
	"net"
	"strconv"
	"sync"
)

// LoopbackHost is the only address the backend is reached on.
const LoopbackHost = "127.0.0.1"

// Endpoint is where the backend serves HTTP.
type Endpoint struct {
	Host string
	Port int
}

// NewEndpoint returns a loopback endpoint for port.
func NewEndpoint(port int) Endpoint {
	return Endpoint{Host: LoopbackHost, Port: port}
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// URL returns the address the window navigates to.
func (e Endpoint) URL() string {
	return "http://" + e.Address()
}

// PortManager chooses the backend port once per run. A fixed port is handed out as is;
// port 0 asks the OS for a free ephemeral port.
type PortManager struct {
	mu       sync.Mutex
	fixed    int
	endpoint *Endpoint // Set by the first successful Allocate
}

// NewPortManager creates a PortManager. Pass 0 for an ephemeral port.
func NewPortManager(port int) (*PortManager, error) {
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d", port)
	}
	return &PortManager{fixed: port}, nil
}

// Allocate returns the backend endpoint. Later calls return the same endpoint.
func (pm *PortManager) Allocate() (Endpoint, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.endpoint != nil {
		return *pm.endpoint, nil
	}

	port := pm.fixed
	if port == 0 {
		free, err := ephemeralPort()
		if err != nil {
			return Endpoint{}, err
		}
		port = free
	}

	ep := NewEndpoint(port)
	pm.endpoint = &ep
	return ep, nil
}

// ephemeralPort binds 127.0.0.1:0, reads back the chosen port and releases it.
func ephemeralPort() (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(LoopbackHost, "0"))
	if err != nil {
		return 0, fmt.Errorf("failed to allocate ephemeral port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
