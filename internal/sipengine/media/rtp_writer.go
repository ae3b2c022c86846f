package media

import (
	"net"
	"sync"

	"github.com/pion/rtp"
)

// RTPStreamWriter packetises payloads into one RTP stream. Audio frames and
// telephone events share the SSRC and sequence space. Pacing is the
// caller's job: the conference source that produces frames runs the clock.
type RTPStreamWriter struct {
	conn net.PacketConn

	mu        sync.Mutex
	remote    net.Addr
	ssrc      uint32
	pt        uint8
	seq       uint16
	timestamp uint32
	codec     Codec
	marker    bool // next audio packet starts a talkspurt
	closed    bool
}

// NewRTPStreamWriter creates a writer sending to remote from conn.
func NewRTPStreamWriter(conn net.PacketConn, remote net.Addr, codec Codec) *RTPStreamWriter {
	return &RTPStreamWriter{
		conn:      conn,
		remote:    remote,
		ssrc:      GenerateSSRC(),
		pt:        codec.PayloadType,
		seq:       GenerateSequenceStart(),
		timestamp: GenerateTimestampStart(),
		codec:     codec,
		marker:    true,
	}
}

func (w *RTPStreamWriter) send(pkt *rtp.Packet) error {
	data, err := pkt.Marshal()
	if err != nil {
		return err
	}
	_, err = w.conn.WriteTo(data, w.remote)
	return err
}

// Write sends one encoded audio frame and advances the timestamp by one
// frame. Implements io.Writer.
func (w *RTPStreamWriter) Write(payload []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, net.ErrClosed
	}
	if w.remote == nil {
		return 0, nil
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         w.marker,
			PayloadType:    w.pt,
			SequenceNumber: w.seq,
			Timestamp:      w.timestamp,
			SSRC:           w.ssrc,
		},
		Payload: payload,
	}
	if err := w.send(pkt); err != nil {
		return 0, err
	}

	w.marker = false
	w.seq++
	w.timestamp += w.codec.TimestampIncrement()
	return len(payload), nil
}

// WriteEvent sends one telephone-event packet stamped with the event's
// start timestamp. The sequence number advances; the timestamp does not.
func (w *RTPStreamWriter) WriteEvent(pt uint8, payload []byte, marker bool, timestamp uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return net.ErrClosed
	}
	if w.remote == nil {
		return nil
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    pt,
			SequenceNumber: w.seq,
			Timestamp:      timestamp,
			SSRC:           w.ssrc,
		},
		Payload: payload,
	}
	if err := w.send(pkt); err != nil {
		return err
	}
	w.seq++
	return nil
}

// AdvanceTimestamp moves the media clock forward by samples, e.g. after a
// telephone event, and marks the next audio packet as a talkspurt start.
func (w *RTPStreamWriter) AdvanceTimestamp(samples uint32) {
	w.mu.Lock()
	w.timestamp += samples
	w.marker = true
	w.mu.Unlock()
}

// SetRemote changes the destination, e.g. after a re-INVITE.
func (w *RTPStreamWriter) SetRemote(remote net.Addr) {
	w.mu.Lock()
	w.remote = remote
	w.mu.Unlock()
}

// SetCodec changes the audio payload type for subsequent packets.
func (w *RTPStreamWriter) SetCodec(codec Codec) {
	w.mu.Lock()
	w.codec = codec
	w.pt = codec.PayloadType
	w.mu.Unlock()
}

// SSRC returns the current SSRC value.
func (w *RTPStreamWriter) SSRC() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ssrc
}

// SequenceNumber returns the next sequence number that will be used.
func (w *RTPStreamWriter) SequenceNumber() uint16 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Timestamp returns the next timestamp that will be used.
func (w *RTPStreamWriter) Timestamp() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timestamp
}

// Close marks the writer as closed. The connection is owned by the caller.
func (w *RTPStreamWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

var _ EventWriter = (*RTPStreamWriter)(nil)
