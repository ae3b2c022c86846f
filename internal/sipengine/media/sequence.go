package media

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
)

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return make([]byte, n)
	}
	return b
}

// GenerateSSRC returns a random 32-bit SSRC (RFC 3550 section 8).
func GenerateSSRC() uint32 {
	return binary.BigEndian.Uint32(randomBytes(4))
}

// GenerateSequenceStart returns a random initial sequence number.
func GenerateSequenceStart() uint16 {
	return binary.BigEndian.Uint16(randomBytes(2))
}

// GenerateTimestampStart returns a random initial timestamp.
func GenerateTimestampStart() uint32 {
	return binary.BigEndian.Uint32(randomBytes(4))
}

// SequenceTracker tracks received RTP sequence numbers with rollover
// handling and counts lost packets. Safe for concurrent use.
type SequenceTracker struct {
	mu          sync.Mutex
	initialized bool
	lastSeq     uint16
	cycles      uint32 // rollover count
	lost        uint64
	received    uint64
}

// NewSequenceTracker creates a new sequence tracker.
func NewSequenceTracker() *SequenceTracker {
	return &SequenceTracker{}
}

// Update records a received sequence number. It returns the extended
// sequence number (rollover count in the upper 16 bits) and the packets
// lost since the previous one.
func (s *SequenceTracker) Update(seq uint16) (extended uint32, lost int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received++

	if !s.initialized {
		s.initialized = true
		s.lastSeq = seq
		return uint32(seq), 0
	}

	// forward distance interpreted as signed; negative means late packet
	diff := int16(seq - s.lastSeq)
	if diff <= 0 {
		return (s.cycles << 16) | uint32(seq), 0
	}
	if diff > 1 {
		lost = int(diff) - 1
		s.lost += uint64(lost)
	}
	if seq < s.lastSeq {
		s.cycles++
	}
	s.lastSeq = seq
	return (s.cycles << 16) | uint32(seq), lost
}

// Stats returns cumulative statistics.
func (s *SequenceTracker) Stats() (received, lost uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received, s.lost
}

// LossRate returns the packet loss rate as a fraction (0.0 to 1.0).
func (s *SequenceTracker) LossRate() float64 {
	received, lost := s.Stats()
	if received+lost == 0 {
		return 0
	}
	return float64(lost) / float64(received+lost)
}
