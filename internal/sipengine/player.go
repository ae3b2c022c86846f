package sipengine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sebas/softphone/internal/sipengine/media"
	"github.com/sebas/softphone/internal/ua/engine"
)

var errPortClosed = errors.New("port closed")

// progressInterval is how often PlaybackProgress is reported.
const progressInterval = time.Second

// player streams a WAV file into its sinks one 20ms frame per tick.
// Status callbacks run on the playback goroutine.
type player struct {
	confPort
	log  *slog.Logger
	tick time.Duration

	playMu sync.Mutex // serializes Play and Close

	mu     sync.Mutex
	status func(engine.PlaybackStatus)
	stop   chan struct{}
	closed bool
}

func newPlayer(name string, log *slog.Logger) *player {
	return &player{
		confPort: confPort{name: name},
		log:      log,
		tick:     media.FrameDuration,
	}
}

// SetStatusHandler installs the playback status callback.
func (p *player) SetStatusHandler(fn func(engine.PlaybackStatus)) {
	p.mu.Lock()
	p.status = fn
	p.mu.Unlock()
}

func (p *player) emit(st engine.PlaybackStatus) {
	p.mu.Lock()
	fn := p.status
	p.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

// Play loads path and starts playing it from the beginning, stopping any
// file already playing.
func (p *player) Play(path string) error {
	af, err := media.ReadWAVFile(path)
	if err != nil {
		return fmt.Errorf("play: %w", err)
	}
	pcm, err := media.ResampleAudio(af)
	if err != nil {
		return fmt.Errorf("play %s: %w", path, err)
	}

	p.playMu.Lock()
	defer p.playMu.Unlock()

	p.halt()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errPortClosed
	}
	stop := make(chan struct{})
	p.stop = stop
	p.mu.Unlock()

	p.log.Debug("[Player] Playing", "player", p.name, "file", path, "duration_s", af.Duration())
	go p.run(path, pcm, stop)
	return nil
}

// halt signals the current playback to stop. It does not wait, so status
// callbacks may stop or restart the player.
func (p *player) halt() {
	p.mu.Lock()
	stop := p.stop
	p.stop = nil
	p.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (p *player) run(path string, pcm []byte, stop chan struct{}) {
	frameSize := media.CodecPCMU.PCMBytesPerFrame()
	frameMs := int(media.FrameDuration / time.Millisecond)
	progressMs := int(progressInterval / time.Millisecond)

	p.emit(engine.PlaybackStatus{Path: path, Event: engine.PlaybackStarted})

	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	elapsed := 0
	for off := 0; off < len(pcm); off += frameSize {
		select {
		case <-stop:
			p.emit(engine.PlaybackStatus{Path: path, Event: engine.PlaybackStopped, Param: elapsed})
			return
		case <-ticker.C:
		}
		select {
		case <-stop:
			p.emit(engine.PlaybackStatus{Path: path, Event: engine.PlaybackStopped, Param: elapsed})
			return
		default:
		}

		frame := make([]byte, frameSize)
		copy(frame, pcm[off:min(off+frameSize, len(pcm))])
		p.transmit(frame)

		elapsed += frameMs
		if elapsed%progressMs == 0 {
			p.emit(engine.PlaybackStatus{Path: path, Event: engine.PlaybackProgress, Param: elapsed})
		}
	}
	p.emit(engine.PlaybackStatus{Path: path, Event: engine.PlaybackCompleted, Param: elapsed})
}

// Close stops playback and disconnects every sink.
func (p *player) Close() error {
	p.playMu.Lock()
	defer p.playMu.Unlock()

	p.halt()

	p.mu.Lock()
	already := p.closed
	p.closed = true
	p.status = nil
	p.mu.Unlock()
	if already {
		return nil
	}
	p.disconnectAll()
	return nil
}

var _ engine.Player = (*player)(nil)
