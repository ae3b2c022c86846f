package portpool

import (
	"fmt"
	"net"
	"sort"
	"sync"
)

// PortPool manages the local RTP ports handed to call streams.
// Only even ports are handed out; the odd neighbour is left for RTCP.
type PortPool struct {
	mu        sync.Mutex
	minPort   int
	maxPort   int
	available map[int]bool // port -> available
	allocated map[int]bool // port -> allocated
}

// NewPortPool creates a new port pool with the given range.
// minPort is rounded up to the next even port.
func NewPortPool(minPort, maxPort int) *PortPool {
	if minPort%2 != 0 {
		minPort++
	}

	available := make(map[int]bool)
	for port := minPort; port < maxPort; port += 2 {
		available[port] = true
	}

	return &PortPool{
		minPort:   minPort,
		maxPort:   maxPort,
		available: available,
		allocated: make(map[int]bool),
	}
}

// Allocate returns the lowest available RTP port.
func (p *PortPool) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.available) == 0 {
		return 0, fmt.Errorf("no ports available in pool (range %d-%d)", p.minPort, p.maxPort)
	}
	ports := make([]int, 0, len(p.available))
	for port := range p.available {
		ports = append(ports, port)
	}
	sort.Ints(ports)

	port := ports[0]
	delete(p.available, port)
	p.allocated[port] = true
	return port, nil
}

// Release returns a port to the pool.
func (p *PortPool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.allocated[port]; ok {
		delete(p.allocated, port)
		p.available[port] = true
	}
}

// Listen allocates a port and binds a UDP socket on host. Ports that fail to
// bind are kept out of the pool and the next one is tried.
func (p *PortPool) Listen(host string) (net.PacketConn, int, error) {
	for {
		port, err := p.Allocate()
		if err != nil {
			return nil, 0, err
		}
		conn, err := net.ListenPacket("udp", net.JoinHostPort(host, fmt.Sprint(port)))
		if err == nil {
			return conn, port, nil
		}
		p.mu.Lock()
		delete(p.allocated, port)
		p.mu.Unlock()
	}
}

// Available returns the number of available ports.
func (p *PortPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available)
}

// Allocated returns the number of allocated ports.
func (p *PortPool) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.allocated)
}
