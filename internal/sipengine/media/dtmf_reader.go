package media

import (
	"github.com/pion/rtp"
)

// DTMFDetector turns a sequence of RFC 4733 packets into digits. One digit
// is reported per event, on its first end-of-event packet; the redundant end
// packets that follow are ignored.
type DTMFDetector struct {
	payloadType uint8
	minDuration uint16

	pending   bool
	lastEvent uint8
	lastTS    uint32
	reported  bool
	reportTS  uint32
}

// NewDTMFDetector creates a detector for telephone-event payload type pt.
func NewDTMFDetector(pt uint8) *DTMFDetector {
	return &DTMFDetector{payloadType: pt, minDuration: MinDTMFDuration}
}

// SetMinDuration sets the minimum duration (in timestamp units) to accept.
func (d *DTMFDetector) SetMinDuration(samples uint16) {
	d.minDuration = samples
}

// IsEvent reports whether pkt carries a telephone event.
func (d *DTMFDetector) IsEvent(pkt *rtp.Packet) bool {
	return pkt.PayloadType == d.payloadType && len(pkt.Payload) >= 4
}

// Process feeds one packet and returns a digit once its event completes.
func (d *DTMFDetector) Process(pkt *rtp.Packet) (rune, bool) {
	if !d.IsEvent(pkt) {
		return 0, false
	}
	evt, err := DecodeDTMFEvent(pkt.Payload)
	if err != nil {
		return 0, false
	}

	if !evt.EndOfEvent {
		if !d.pending || evt.Event != d.lastEvent || pkt.Timestamp != d.lastTS {
			d.pending = true
			d.lastEvent = evt.Event
			d.lastTS = pkt.Timestamp
		}
		return 0, false
	}

	// retransmitted end packet of an event already reported
	if d.reported && pkt.Timestamp == d.reportTS {
		return 0, false
	}
	d.pending = false
	if evt.Duration < d.minDuration {
		return 0, false
	}
	char, ok := EventToRune(evt.Event)
	if !ok {
		return 0, false
	}
	d.reported = true
	d.reportTS = pkt.Timestamp
	return char, true
}

// Reset clears the state machine.
func (d *DTMFDetector) Reset() {
	d.pending = false
	d.reported = false
	d.lastEvent = 0
	d.lastTS = 0
	d.reportTS = 0
}
