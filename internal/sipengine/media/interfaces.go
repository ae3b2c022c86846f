package media

import (
	"fmt"
	"net"
	"sync"

	"github.com/pion/rtp"
)

// RTPReader reads RTP packets from an underlying source.
// Implementations may read from a UDP socket, buffer, or other source.
type RTPReader interface {
	// ReadRTP reads the next RTP packet.
	// Returns the packet or an error if reading fails.
	ReadRTP() (*rtp.Packet, error)
}

// PacketConnReader reads RTP packets from a datagram socket and remembers
// where the last one came from.
type PacketConnReader struct {
	conn net.PacketConn
	buf  []byte

	mu   sync.Mutex
	from net.Addr
}

// NewPacketConnReader creates a reader over conn.
func NewPacketConnReader(conn net.PacketConn) *PacketConnReader {
	return &PacketConnReader{conn: conn, buf: make([]byte, 1500)}
}

// ReadRTP blocks until a packet arrives. Datagrams that do not parse as RTP
// are skipped.
func (r *PacketConnReader) ReadRTP() (*rtp.Packet, error) {
	for {
		n, from, err := r.conn.ReadFrom(r.buf)
		if err != nil {
			return nil, err
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(r.buf[:n]); err != nil {
			continue
		}
		if pkt.Version != 2 {
			continue
		}
		// Unmarshal aliases the buffer
		pkt.Payload = append([]byte(nil), pkt.Payload...)

		r.mu.Lock()
		r.from = from
		r.mu.Unlock()
		return pkt, nil
	}
}

// LastSource returns the address of the most recent packet.
func (r *PacketConnReader) LastSource() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.from
}

// String implements fmt.Stringer.
func (r *PacketConnReader) String() string {
	return fmt.Sprintf("rtp-reader(%s)", r.conn.LocalAddr())
}

var _ RTPReader = (*PacketConnReader)(nil)
