package media

import (
	"errors"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDTMFRuneMapping(t *testing.T) {
	for i, r := range "0123456789*#ABCD" {
		ev, ok := RuneToEvent(r)
		require.True(t, ok, string(r))
		assert.Equal(t, uint8(i), ev)

		back, ok := EventToRune(ev)
		require.True(t, ok)
		assert.Equal(t, r, back)
	}

	ev, ok := RuneToEvent('c')
	require.True(t, ok)
	assert.Equal(t, uint8(14), ev)

	_, ok = RuneToEvent('x')
	assert.False(t, ok)
	_, ok = EventToRune(16)
	assert.False(t, ok)

	assert.True(t, ValidDTMF("12*#a"))
	assert.False(t, ValidDTMF("12x"))
	assert.False(t, ValidDTMF(""))
}

func TestDTMFEventEncoding(t *testing.T) {
	evt := DTMFEvent{Event: 5, EndOfEvent: true, Volume: 10, Duration: 800}
	b := evt.Encode()
	assert.Equal(t, []byte{5, 0x8A, 0x03, 0x20}, b)

	back, err := DecodeDTMFEvent(b)
	require.NoError(t, err)
	assert.Equal(t, evt, back)
	assert.Equal(t, "DTMF '5' vol=10 dur=800 END", back.String())

	_, err = DecodeDTMFEvent([]byte{1, 2})
	assert.Error(t, err)
}

func eventPacket(ts uint32, evt DTMFEvent) *rtp.Packet {
	return &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: DTMFPayloadType, Timestamp: ts},
		Payload: evt.Encode(),
	}
}

func TestDTMFDetectorReportsOncePerEvent(t *testing.T) {
	d := NewDTMFDetector(DTMFPayloadType)
	var got []rune
	feed := func(p *rtp.Packet) {
		if r, ok := d.Process(p); ok {
			got = append(got, r)
		}
	}

	feed(eventPacket(1000, DTMFEvent{Event: 1, Duration: 160}))
	feed(eventPacket(1000, DTMFEvent{Event: 1, Duration: 320}))
	for i := 0; i < 3; i++ {
		feed(eventPacket(1000, DTMFEvent{Event: 1, EndOfEvent: true, Duration: 800}))
	}
	// lost start packets, end only
	feed(eventPacket(3000, DTMFEvent{Event: 11, EndOfEvent: true, Duration: 800}))
	// too short
	feed(eventPacket(5000, DTMFEvent{Event: 2, EndOfEvent: true, Duration: 100}))
	// audio
	feed(&rtp.Packet{Header: rtp.Header{Version: 2, PayloadType: 0}, Payload: make([]byte, 160)})

	assert.Equal(t, []rune{'1', '#'}, got)

	d.Reset()
	r, ok := d.Process(eventPacket(1000, DTMFEvent{Event: 1, EndOfEvent: true, Duration: 800}))
	assert.True(t, ok)
	assert.Equal(t, '1', r)
}

type eventRecord struct {
	pt      uint8
	evt     DTMFEvent
	marker  bool
	ts      uint32
	advance uint32
}

type fakeEventWriter struct {
	ts      uint32
	records []eventRecord
	fail    error
}

func (f *fakeEventWriter) Timestamp() uint32 { return f.ts }

func (f *fakeEventWriter) WriteEvent(pt uint8, payload []byte, marker bool, ts uint32) error {
	if f.fail != nil {
		return f.fail
	}
	evt, err := DecodeDTMFEvent(payload)
	if err != nil {
		return err
	}
	f.records = append(f.records, eventRecord{pt: pt, evt: evt, marker: marker, ts: ts})
	return nil
}

func (f *fakeEventWriter) AdvanceTimestamp(samples uint32) {
	f.ts += samples
	f.records = append(f.records, eventRecord{advance: samples})
}

func newTestDTMFWriter(w EventWriter) (*DTMFWriter, *[]time.Duration) {
	var slept []time.Duration
	d := NewDTMFWriter(w, DTMFPayloadType)
	d.sleep = func(dur time.Duration) { slept = append(slept, dur) }
	return d, &slept
}

func TestDTMFWriterSendDigit(t *testing.T) {
	fw := &fakeEventWriter{ts: 5000}
	d, slept := newTestDTMFWriter(fw)

	require.NoError(t, d.SendDigit('5', 100*time.Millisecond))

	// 4 progress packets (160..640), 3 end packets, then the clock advance
	require.Len(t, fw.records, 8)
	for i, rec := range fw.records[:7] {
		assert.Equal(t, uint32(5000), rec.ts, "packet %d", i)
		assert.Equal(t, uint8(5), rec.evt.Event)
		assert.Equal(t, i == 0, rec.marker, "packet %d", i)
	}
	assert.Equal(t, uint16(640), fw.records[3].evt.Duration)
	for _, rec := range fw.records[4:7] {
		assert.True(t, rec.evt.EndOfEvent)
		assert.Equal(t, uint16(800), rec.evt.Duration)
	}
	assert.Equal(t, uint32(800), fw.records[7].advance)
	assert.Equal(t, uint32(5800), fw.ts)
	assert.Len(t, *slept, 4)
}

func TestDTMFWriterMinimumDuration(t *testing.T) {
	fw := &fakeEventWriter{}
	d, _ := newTestDTMFWriter(fw)

	require.NoError(t, d.SendDigit('#', 10*time.Millisecond))
	require.Len(t, fw.records, 6)
	assert.Equal(t, uint16(MinDTMFDuration), fw.records[4].evt.Duration)
}

func TestDTMFWriterErrors(t *testing.T) {
	fw := &fakeEventWriter{}
	d, slept := newTestDTMFWriter(fw)

	assert.Error(t, d.SendDigit('x', 100*time.Millisecond))
	assert.Empty(t, fw.records)

	err := d.SendDigits("1x", 50*time.Millisecond, 80*time.Millisecond)
	assert.ErrorContains(t, err, "digit 1")
	assert.Contains(t, *slept, 80*time.Millisecond)

	fw.fail = errors.New("socket closed")
	assert.ErrorIs(t, d.SendDigit('1', 100*time.Millisecond), fw.fail)
}
