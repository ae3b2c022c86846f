package sipengine

import (
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sebas/softphone/internal/sipengine/media"
	"github.com/sebas/softphone/internal/ua/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type frameSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *frameSink) consume(pcm []byte) {
	s.mu.Lock()
	s.frames = append(s.frames, pcm)
	s.mu.Unlock()
}

func (s *frameSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *frameSink) StartTransmit(engine.AudioMedia) error { return nil }
func (s *frameSink) StopTransmit(engine.AudioMedia) error  { return nil }

type statusLog struct {
	mu     sync.Mutex
	events []engine.PlaybackStatus
}

func (l *statusLog) add(st engine.PlaybackStatus) {
	l.mu.Lock()
	l.events = append(l.events, st)
	l.mu.Unlock()
}

func (l *statusLog) kinds() []engine.PlaybackEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]engine.PlaybackEvent, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Event)
	}
	return out
}

func (l *statusLog) last() engine.PlaybackStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}

func writeTone(t *testing.T, frames int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	w, err := media.CreateWAVFile(path)
	require.NoError(t, err)
	frame := make([]byte, media.CodecPCMU.PCMBytesPerFrame())
	for i := range frame {
		frame[i] = byte(i)
	}
	for i := 0; i < frames; i++ {
		_, err := w.Write(frame)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return path
}

func TestPortFanout(t *testing.T) {
	p := &confPort{name: "src"}
	a, b := &frameSink{}, &frameSink{}

	require.NoError(t, p.StartTransmit(a))
	require.NoError(t, p.StartTransmit(b))
	require.NoError(t, p.StartTransmit(a))
	assert.Equal(t, 2, p.transmitting())

	p.transmit([]byte{1, 2})
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())

	require.NoError(t, p.StopTransmit(a))
	p.transmit([]byte{3, 4})
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 2, b.count())
}

type deafPort struct{}

func (deafPort) StartTransmit(engine.AudioMedia) error { return nil }
func (deafPort) StopTransmit(engine.AudioMedia) error  { return nil }

func TestPortRejectsNonSink(t *testing.T) {
	p := &confPort{name: "src"}
	assert.Error(t, p.StartTransmit(deafPort{}))
	assert.NoError(t, p.StopTransmit(deafPort{}))
}

func TestPlayerPlaysToCompletion(t *testing.T) {
	path := writeTone(t, 3)
	p := newPlayer("player-1", discard)
	p.tick = time.Millisecond

	sink := &frameSink{}
	require.NoError(t, p.StartTransmit(sink))
	log := &statusLog{}
	p.SetStatusHandler(log.add)

	require.NoError(t, p.Play(path))
	assert.Eventually(t, func() bool {
		k := log.kinds()
		return len(k) > 0 && k[len(k)-1] == engine.PlaybackCompleted
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []engine.PlaybackEvent{engine.PlaybackStarted, engine.PlaybackCompleted}, log.kinds())
	assert.Equal(t, 60, log.last().Param)
	assert.Equal(t, path, log.last().Path)
	assert.Equal(t, 3, sink.count())
	require.NoError(t, p.Close())
}

func TestPlayerRestartStopsPrevious(t *testing.T) {
	path := writeTone(t, 200)
	p := newPlayer("player-1", discard)
	p.tick = time.Millisecond
	log := &statusLog{}
	p.SetStatusHandler(log.add)

	require.NoError(t, p.Play(path))
	require.NoError(t, p.Play(path))

	assert.Eventually(t, func() bool {
		k := log.kinds()
		return len(k) > 0 && k[len(k)-1] == engine.PlaybackCompleted
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, log.kinds(), engine.PlaybackStopped)
	require.NoError(t, p.Close())
}

func TestPlayerMissingFile(t *testing.T) {
	p := newPlayer("player-1", discard)
	assert.Error(t, p.Play(filepath.Join(t.TempDir(), "missing.wav")))
}

func TestPlayerClosed(t *testing.T) {
	path := writeTone(t, 1)
	p := newPlayer("player-1", discard)
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Play(path), errPortClosed)
	assert.NoError(t, p.Close())
}

func TestRecorderWritesWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.wav")
	r, err := newRecorder("recorder-1", path, discard)
	require.NoError(t, err)

	src := &confPort{name: "src"}
	require.NoError(t, src.StartTransmit(r))
	frame := make([]byte, media.CodecPCMU.PCMBytesPerFrame())
	src.transmit(frame)
	src.transmit(frame)
	require.NoError(t, r.Close())

	af, err := media.ReadWAVFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8000, int(af.SampleRate))
	assert.Len(t, af.PCMData, 2*len(frame))

	// writes after close are dropped
	src.transmit(frame)
}
