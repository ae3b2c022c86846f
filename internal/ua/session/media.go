package session

import (
	"log/slog"
	"sync"

	"github.com/sebas/softphone/internal/ua/engine"
)

// FileConfig names an audio file.
type FileConfig struct {
	Filename string
}

// PlayerConfig selects the file a call plays to the remote party and the
// file it records the remote party into. Either may be nil.
type PlayerConfig struct {
	Player   *FileConfig
	Recorder *FileConfig
}

// MediaBinding couples a call's negotiated endpoint to an optional playback
// source and an optional recording sink. The player transmits to the
// endpoint only while the endpoint is active; the recorder, once attached,
// stays attached until Close.
type MediaBinding struct {
	log      *slog.Logger
	player   engine.Player
	recorder engine.Recorder
	playFile string

	mu        sync.Mutex
	endpoint  engine.AudioMedia
	started   bool // player has been given its file
	playing   bool // player -> endpoint
	recording bool // endpoint -> recorder
	closed    bool
}

// NewMediaBinding binds an already created player and/or recorder. playFile
// is played on first activation.
func NewMediaBinding(player engine.Player, playFile string, recorder engine.Recorder, log *slog.Logger) *MediaBinding {
	if log == nil {
		log = slog.Default()
	}
	return &MediaBinding{
		log:      log,
		player:   player,
		recorder: recorder,
		playFile: playFile,
	}
}

// newMediaBindingFromConfig creates the player and recorder named by cfg.
func newMediaBindingFromConfig(eng engine.Engine, cfg PlayerConfig, log *slog.Logger) (*MediaBinding, error) {
	var (
		player   engine.Player
		recorder engine.Recorder
		playFile string
		err      error
	)
	if cfg.Player != nil {
		player, err = eng.CreatePlayer()
		if err != nil {
			return nil, engineErr("create player", err)
		}
		playFile = cfg.Player.Filename
	}
	if cfg.Recorder != nil {
		recorder, err = eng.CreateRecorder(cfg.Recorder.Filename)
		if err != nil {
			if player != nil {
				_ = player.Close()
			}
			return nil, engineErr("create recorder", err)
		}
	}
	return NewMediaBinding(player, playFile, recorder, log), nil
}

// Player returns the bound playback source, or nil.
func (b *MediaBinding) Player() engine.Player { return b.player }

// Transmitting reports whether the player is currently transmitting.
func (b *MediaBinding) Transmitting() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.playing
}

// Recording reports whether the endpoint is currently transmitting to the recorder.
func (b *MediaBinding) Recording() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recording
}

// OnEndpointStatus applies an endpoint status change.
func (b *MediaBinding) OnEndpointStatus(status engine.MediaStatus, endpoint engine.AudioMedia) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || endpoint == nil {
		return nil
	}

	switch {
	case status == engine.MediaStatusActive:
		if b.endpoint != nil && b.endpoint != endpoint {
			// renegotiated stream
			b.detachLocked()
		}
		b.endpoint = endpoint
		return b.attachLocked()
	case status.IsHold():
		if b.playing {
			b.playing = false
			if err := b.player.StopTransmit(b.endpoint); err != nil {
				return engineErr("player stop transmit", err)
			}
			b.log.Debug("[Media] Playback detached on hold", "status", status.String())
		}
	}
	return nil
}

func (b *MediaBinding) attachLocked() error {
	if err := b.attachPlayerLocked(); err != nil {
		return err
	}
	return b.attachRecorderLocked()
}

// reattach restores transmit paths after Detach on a call that stays up. The
// recorder always comes back; the player only when the endpoint is active.
func (b *MediaBinding) reattach(endpoint engine.AudioMedia, active bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || endpoint == nil {
		return nil
	}
	b.endpoint = endpoint
	if active {
		return b.attachLocked()
	}
	return b.attachRecorderLocked()
}

func (b *MediaBinding) attachPlayerLocked() error {
	if b.player != nil && !b.playing {
		if !b.started && b.playFile != "" {
			if err := b.player.Play(b.playFile); err != nil {
				return engineErr("player play", err)
			}
			b.started = true
		}
		if err := b.player.StartTransmit(b.endpoint); err != nil {
			return engineErr("player start transmit", err)
		}
		b.playing = true
		b.log.Debug("[Media] Playback attached", "file", b.playFile)
	}
	return nil
}

func (b *MediaBinding) attachRecorderLocked() error {
	if b.recorder != nil && !b.recording {
		if err := b.endpoint.StartTransmit(b.recorder); err != nil {
			return engineErr("recorder start transmit", err)
		}
		b.recording = true
		b.log.Debug("[Media] Recorder attached")
	}
	return nil
}

// Detach stops every transmit path without closing the player or recorder.
func (b *MediaBinding) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detachLocked()
}

func (b *MediaBinding) detachLocked() {
	if b.playing {
		b.playing = false
		if err := b.player.StopTransmit(b.endpoint); err != nil {
			b.log.Warn("[Media] Failed to stop playback transmit", "error", err)
		}
	}
	if b.recording {
		b.recording = false
		if err := b.endpoint.StopTransmit(b.recorder); err != nil {
			b.log.Warn("[Media] Failed to stop recorder transmit", "error", err)
		}
	}
}

// PlaySong plays path on the bound player. No-op without a player.
func (b *MediaBinding) PlaySong(path string) error {
	if b.player == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	if err := b.player.Play(path); err != nil {
		return engineErr("player play", err)
	}
	b.started = true
	b.log.Debug("[Media] Playing song", "file", path)
	return nil
}

// Close stops all transmit paths and closes the player and recorder.
// Safe to call multiple times.
func (b *MediaBinding) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	b.detachLocked()
	if b.player != nil {
		b.player.SetStatusHandler(nil)
		if err := b.player.Close(); err != nil {
			b.log.Warn("[Media] Failed to close player", "error", err)
		}
	}
	if b.recorder != nil {
		if err := b.recorder.Close(); err != nil {
			b.log.Warn("[Media] Failed to close recorder", "error", err)
		}
	}
}
