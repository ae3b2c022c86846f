package media

import (
	"fmt"
	"time"
)

// EventWriter sends telephone-event packets within an RTP stream.
type EventWriter interface {
	// Timestamp returns the stream's current media timestamp.
	Timestamp() uint32
	// WriteEvent writes one event packet with the given timestamp.
	WriteEvent(pt uint8, payload []byte, marker bool, timestamp uint32) error
	// AdvanceTimestamp moves the stream clock past the event.
	AdvanceTimestamp(samples uint32)
}

// DTMFWriter generates RFC 4733 DTMF events.
type DTMFWriter struct {
	writer      EventWriter
	payloadType uint8
	sampleRate  uint32
	sleep       func(time.Duration)
}

// NewDTMFWriter creates a new DTMF writer that sends events via w.
func NewDTMFWriter(w EventWriter, payloadType uint8) *DTMFWriter {
	return &DTMFWriter{
		writer:      w,
		payloadType: payloadType,
		sampleRate:  DTMFSampleRate,
		sleep:       time.Sleep,
	}
}

// SendDigit sends one digit lasting duration.
//
// Per RFC 4733:
//   - the timestamp stays at the event start for every packet
//   - the duration field grows with each 20ms packet
//   - the end packet is sent three times
func (d *DTMFWriter) SendDigit(digit rune, duration time.Duration) error {
	event, ok := RuneToEvent(digit)
	if !ok {
		return fmt.Errorf("invalid DTMF digit: %c", digit)
	}

	samples := uint16(duration.Seconds() * float64(d.sampleRate))
	if samples < MinDTMFDuration {
		samples = MinDTMFDuration
	}
	step := uint16(uint32(FrameDuration/time.Millisecond) * d.sampleRate / 1000)

	start := d.writer.Timestamp()
	first := true
	for cur := step; cur < samples; cur += step {
		evt := DTMFEvent{Event: event, Volume: DefaultDTMFVolume, Duration: cur}
		if err := d.writer.WriteEvent(d.payloadType, evt.Encode(), first, start); err != nil {
			return fmt.Errorf("send DTMF packet: %w", err)
		}
		first = false
		d.sleep(FrameDuration)
	}

	end := DTMFEvent{Event: event, EndOfEvent: true, Volume: DefaultDTMFVolume, Duration: samples}
	for i := 0; i < 3; i++ {
		if err := d.writer.WriteEvent(d.payloadType, end.Encode(), first && i == 0, start); err != nil {
			return fmt.Errorf("send DTMF end packet: %w", err)
		}
	}
	d.writer.AdvanceTimestamp(uint32(samples))
	return nil
}

// SendDigits sends digits with interDigitDelay between them.
func (d *DTMFWriter) SendDigits(digits string, digitDuration, interDigitDelay time.Duration) error {
	for i, digit := range digits {
		if err := d.SendDigit(digit, digitDuration); err != nil {
			return fmt.Errorf("digit %d (%c): %w", i, digit, err)
		}
		if i < len(digits)-1 {
			d.sleep(interDigitDelay)
		}
	}
	return nil
}
