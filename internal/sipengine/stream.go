package sipengine

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/sebas/softphone/internal/sipengine/media"
	"github.com/sebas/softphone/internal/sipengine/portpool"
	"github.com/sebas/softphone/internal/ua/engine"
)

// DTMF timing for DialDTMF.
const (
	dtmfDigitDuration = 160 * time.Millisecond
	dtmfInterDigit    = 100 * time.Millisecond
)

// stream is the conference port of one call: frames transmitted to it are
// encoded and sent as RTP, and received RTP is decoded and transmitted to
// its sinks. Telephone events are reported through onDigit.
type stream struct {
	confPort
	log    *slog.Logger
	conn   net.PacketConn
	port   int
	pool   *portpool.PortPool
	writer *media.RTPStreamWriter
	reader *media.PacketConnReader
	seq    *media.SequenceTracker

	mu       sync.Mutex
	codec    media.Codec
	detector *media.DTMFDetector
	dtmf     *media.DTMFWriter
	onDigit  func(string)
	started  bool
	closed   bool

	dtmfMu sync.Mutex // one digit string at a time
}

func newStream(name string, conn net.PacketConn, port int, pool *portpool.PortPool, log *slog.Logger) *stream {
	s := &stream{
		confPort: confPort{name: name},
		log:      log,
		conn:     conn,
		port:     port,
		pool:     pool,
		writer:   media.NewRTPStreamWriter(conn, nil, media.CodecPCMU),
		reader:   media.NewPacketConnReader(conn),
		seq:      media.NewSequenceTracker(),
		codec:    media.CodecPCMU,
		detector: media.NewDTMFDetector(media.DTMFPayloadType),
	}
	s.dtmf = media.NewDTMFWriter(s.writer, media.DTMFPayloadType)
	return s
}

// configure applies a negotiated remote description and starts the receive
// loop on first use.
func (s *stream) configure(rm *remoteMedia, codec media.Codec) error {
	addr, err := rm.UDPAddr()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errPortClosed
	}
	s.codec = codec
	s.writer.SetCodec(codec)
	s.writer.SetRemote(addr)
	if rm.HasDTMF {
		s.detector = media.NewDTMFDetector(rm.DTMFType)
		s.dtmf = media.NewDTMFWriter(s.writer, rm.DTMFType)
	}
	if !s.started {
		s.started = true
		go s.receive()
	}

	s.log.Debug("[Media] Stream configured",
		"stream", s.name,
		"local_port", s.port,
		"remote", addr.String(),
		"codec", codec.ID(),
	)
	return nil
}

func (s *stream) setDigitHandler(fn func(string)) {
	s.mu.Lock()
	s.onDigit = fn
	s.mu.Unlock()
}

func (s *stream) receive() {
	for {
		pkt, err := s.reader.ReadRTP()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.log.Warn("[Media] Receive failed", "stream", s.name, "error", err)
			}
			return
		}
		s.seq.Update(pkt.SequenceNumber)

		s.mu.Lock()
		detector, onDigit := s.detector, s.onDigit
		s.mu.Unlock()

		if detector.IsEvent(pkt) {
			if r, ok := detector.Process(pkt); ok && onDigit != nil {
				onDigit(string(r))
			}
			continue
		}

		codec, ok := media.CodecByPayloadType(pkt.PayloadType)
		if !ok {
			continue
		}
		pcm, err := codec.Decode(pkt.Payload)
		if err != nil {
			continue
		}
		s.transmit(pcm)
	}
}

func (s *stream) consume(pcm []byte) {
	s.mu.Lock()
	codec, closed := s.codec, s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	payload, err := codec.Encode(pcm)
	if err != nil {
		return
	}
	if _, err := s.writer.Write(payload); err != nil {
		s.log.Debug("[Media] Send failed", "stream", s.name, "error", err)
	}
}

// sendDTMF sends digits as RFC 4733 events in the background.
func (s *stream) sendDTMF(digits string) error {
	if !media.ValidDTMF(digits) {
		return fmt.Errorf("invalid DTMF digits %q", digits)
	}
	s.mu.Lock()
	w, closed := s.dtmf, s.closed
	s.mu.Unlock()
	if closed {
		return errPortClosed
	}

	go func() {
		s.dtmfMu.Lock()
		defer s.dtmfMu.Unlock()
		if err := w.SendDigits(digits, dtmfDigitDuration, dtmfInterDigit); err != nil {
			s.log.Warn("[Media] DTMF send failed", "stream", s.name, "digits", digits, "error", err)
		}
	}()
	return nil
}

// close stops the stream and returns its port to the pool.
func (s *stream) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.onDigit = nil
	s.mu.Unlock()

	s.disconnectAll()
	s.writer.Close()
	s.conn.Close()
	if s.pool != nil {
		s.pool.Release(s.port)
	}

	received, lost := s.seq.Stats()
	s.log.Debug("[Media] Stream closed",
		"stream", s.name,
		"received", received,
		"lost", lost,
		"loss_rate", s.seq.LossRate(),
	)
}

var _ engine.AudioMedia = (*stream)(nil)
