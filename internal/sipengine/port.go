package sipengine

import (
	"fmt"
	"sync"

	"github.com/sebas/softphone/internal/ua/engine"
)

// sink consumes 8 kHz mono 16-bit PCM frames.
type sink interface {
	consume(pcm []byte)
}

// confPort is the transmit side shared by players, recorders and call
// streams: every frame the port produces is copied to each connected sink.
type confPort struct {
	name string

	mu    sync.RWMutex
	sinks []sink
}

// StartTransmit connects the port to dst. Connecting twice is a no-op.
func (p *confPort) StartTransmit(dst engine.AudioMedia) error {
	s, ok := dst.(sink)
	if !ok {
		return fmt.Errorf("%s: %T cannot receive audio", p.name, dst)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.sinks {
		if existing == s {
			return nil
		}
	}
	p.sinks = append(p.sinks, s)
	return nil
}

// StopTransmit disconnects dst. Unknown sinks are ignored.
func (p *confPort) StopTransmit(dst engine.AudioMedia) error {
	s, ok := dst.(sink)
	if !ok {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.sinks {
		if existing == s {
			p.sinks = append(p.sinks[:i], p.sinks[i+1:]...)
			break
		}
	}
	return nil
}

func (p *confPort) transmit(pcm []byte) {
	p.mu.RLock()
	sinks := append([]sink(nil), p.sinks...)
	p.mu.RUnlock()
	for _, s := range sinks {
		s.consume(pcm)
	}
}

func (p *confPort) disconnectAll() {
	p.mu.Lock()
	p.sinks = nil
	p.mu.Unlock()
}

func (p *confPort) transmitting() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sinks)
}

func (p *confPort) String() string { return p.name }
