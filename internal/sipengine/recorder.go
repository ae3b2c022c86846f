package sipengine

import (
	"errors"
	"log/slog"
	"os"

	"github.com/sebas/softphone/internal/sipengine/media"
	"github.com/sebas/softphone/internal/ua/engine"
)

// recorder writes every frame transmitted to it into a WAV file.
type recorder struct {
	confPort
	log  *slog.Logger
	path string
	w    *media.WAVWriter
}

func newRecorder(name, path string, log *slog.Logger) (*recorder, error) {
	w, err := media.CreateWAVFile(path)
	if err != nil {
		return nil, err
	}
	return &recorder{confPort: confPort{name: name}, log: log, path: path, w: w}, nil
}

func (r *recorder) consume(pcm []byte) {
	if _, err := r.w.Write(pcm); err != nil && !errors.Is(err, os.ErrClosed) {
		r.log.Warn("[Recorder] Write failed", "recorder", r.name, "file", r.path, "error", err)
	}
}

// Close finalizes the WAV file.
func (r *recorder) Close() error {
	r.disconnectAll()
	err := r.w.Close()
	r.log.Debug("[Recorder] Closed", "recorder", r.name, "file", r.path, "bytes", r.w.Len())
	return err
}

var _ engine.Recorder = (*recorder)(nil)
