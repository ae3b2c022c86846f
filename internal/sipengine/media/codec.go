package media

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zaf/g711"
)

// Codec represents an immutable audio codec specification.
type Codec struct {
	Name        string        // Codec name (e.g., "PCMU", "PCMA")
	PayloadType uint8         // RTP payload type (0 for PCMU, 8 for PCMA)
	SampleRate  uint32        // Sample rate in Hz
	SampleDur   time.Duration // Duration per frame (typically 20ms)
	Channels    int           // Number of channels
}

// Pre-defined codecs.
var (
	// CodecPCMU is G.711 µ-law
	CodecPCMU = Codec{"PCMU", 0, 8000, 20 * time.Millisecond, 1}

	// CodecPCMA is G.711 A-law
	CodecPCMA = Codec{"PCMA", 8, 8000, 20 * time.Millisecond, 1}

	// CodecTelephoneEvent is RFC 4733 DTMF events
	CodecTelephoneEvent = Codec{"telephone-event", 101, 8000, 20 * time.Millisecond, 1}
)

// FrameDuration is the packetisation interval used for every stream.
const FrameDuration = 20 * time.Millisecond

// ID returns the codec identifier in "name/rate/channels" form.
func (c Codec) ID() string {
	return fmt.Sprintf("%s/%d/%d", c.Name, c.SampleRate, c.Channels)
}

// SamplesPerFrame returns the number of samples in one frame.
// For 8kHz with 20ms frames, this returns 160.
func (c Codec) SamplesPerFrame() int {
	return int(c.SampleRate) * int(c.SampleDur) / int(time.Second)
}

// BytesPerFrame returns the encoded payload bytes per frame.
// G.711 carries one byte per sample.
func (c Codec) BytesPerFrame() int {
	return c.SamplesPerFrame() * c.Channels
}

// PCMBytesPerFrame returns the size of one frame of 16-bit linear PCM.
func (c Codec) PCMBytesPerFrame() int {
	return c.SamplesPerFrame() * c.Channels * 2
}

// TimestampIncrement returns the RTP timestamp increment per frame.
func (c Codec) TimestampIncrement() uint32 {
	return uint32(c.SamplesPerFrame())
}

// Rtpmap returns the SDP rtpmap value, e.g. "0 PCMU/8000".
func (c Codec) Rtpmap() string {
	return fmt.Sprintf("%d %s/%d", c.PayloadType, c.Name, c.SampleRate)
}

// Encode converts 16-bit little-endian PCM to the codec's wire format.
func (c Codec) Encode(pcm []byte) ([]byte, error) {
	switch c.PayloadType {
	case CodecPCMU.PayloadType:
		return g711.EncodeUlaw(pcm), nil
	case CodecPCMA.PayloadType:
		return g711.EncodeAlaw(pcm), nil
	}
	return nil, fmt.Errorf("encode: unsupported codec %s", c.Name)
}

// Decode converts the codec's wire format to 16-bit little-endian PCM.
func (c Codec) Decode(payload []byte) ([]byte, error) {
	switch c.PayloadType {
	case CodecPCMU.PayloadType:
		return g711.DecodeUlaw(payload), nil
	case CodecPCMA.PayloadType:
		return g711.DecodeAlaw(payload), nil
	}
	return nil, fmt.Errorf("decode: unsupported codec %s", c.Name)
}

// CodecByPayloadType returns the audio codec for a static payload type.
func CodecByPayloadType(pt uint8) (Codec, bool) {
	switch pt {
	case CodecPCMU.PayloadType:
		return CodecPCMU, true
	case CodecPCMA.PayloadType:
		return CodecPCMA, true
	}
	return Codec{}, false
}

// CodecByName returns the audio codec named name (case-insensitive).
func CodecByName(name string) (Codec, bool) {
	for _, c := range []Codec{CodecPCMU, CodecPCMA} {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Codec{}, false
}

// Default codec priorities. Higher wins; 0 disables.
const (
	DefaultPCMUPriority = 128
	DefaultPCMAPriority = 127
)

// CodecTable holds the audio codecs offered in SDP and their priorities.
type CodecTable struct {
	mu         sync.RWMutex
	priorities map[string]int // codec ID -> priority
	codecs     map[string]Codec
}

// NewCodecTable creates a table with PCMU and PCMA enabled.
func NewCodecTable() *CodecTable {
	t := &CodecTable{
		priorities: make(map[string]int),
		codecs:     make(map[string]Codec),
	}
	t.register(CodecPCMU, DefaultPCMUPriority)
	t.register(CodecPCMA, DefaultPCMAPriority)
	return t
}

func (t *CodecTable) register(c Codec, priority int) {
	t.codecs[c.ID()] = c
	t.priorities[c.ID()] = priority
}

// SetPriority changes the priority of codec id. The id may be given in full
// ("PCMU/8000/1") or by name ("PCMU").
func (t *CodecTable) SetPriority(id string, priority int) error {
	if priority < 0 || priority > 255 {
		return fmt.Errorf("codec %s: priority %d out of range 0-255", id, priority)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	key, ok := t.resolve(id)
	if !ok {
		return fmt.Errorf("codec not supported: %s", id)
	}
	t.priorities[key] = priority
	return nil
}

func (t *CodecTable) resolve(id string) (string, bool) {
	if _, ok := t.codecs[id]; ok {
		return id, true
	}
	if c, ok := CodecByName(id); ok {
		return c.ID(), true
	}
	return "", false
}

// Priority returns the priority of codec id.
func (t *CodecTable) Priority(id string) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	key, ok := t.resolve(id)
	if !ok {
		return 0, false
	}
	return t.priorities[key], true
}

// CodecPriority pairs a codec with its priority.
type CodecPriority struct {
	Codec    Codec
	Priority int
}

// List returns every codec ordered by descending priority.
func (t *CodecTable) List() []CodecPriority {
	t.mu.RLock()
	out := make([]CodecPriority, 0, len(t.codecs))
	for id, c := range t.codecs {
		out = append(out, CodecPriority{Codec: c, Priority: t.priorities[id]})
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Codec.PayloadType < out[j].Codec.PayloadType
	})
	return out
}

// Enabled returns the codecs with a non-zero priority, best first.
func (t *CodecTable) Enabled() []Codec {
	var out []Codec
	for _, cp := range t.List() {
		if cp.Priority > 0 {
			out = append(out, cp.Codec)
		}
	}
	return out
}
