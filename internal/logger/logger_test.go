package logger

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withLevel(t *testing.T, level string) {
	t.Helper()
	prev := GetLevel()
	SetLevel(level)
	t.Cleanup(func() { SetLevel(prev) })
}

var linePattern = regexp.MustCompile(`^\[\d\d:\d\d:\d\d\] \[INFO\] \[Phone\] registered account=sip:alice@example.com code=200\n$`)

func TestHandlerFormat(t *testing.T) {
	withLevel(t, "debug")
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf))

	log.Info("[Phone] registered", "account", "sip:alice@example.com", "code", 200)
	assert.Regexp(t, linePattern, buf.String())
}

func TestHandlerWithAttrsAndGroup(t *testing.T) {
	withLevel(t, "debug")
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf)).With("node", "n1").WithGroup("call")

	log.Info("state", "id", "call-1", slog.Group("media", "tx", true))
	assert.Contains(t, buf.String(), "state node=n1 call.id=call-1 call.media.tx=true\n")
}

func TestGlobalLevelFilters(t *testing.T) {
	withLevel(t, "warn")
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf))

	log.Info("hidden")
	log.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "[WARN] shown")
	assert.Equal(t, "warn", GetLevel())
}

func TestMultiLevelHandler(t *testing.T) {
	withLevel(t, "debug")
	var console, file bytes.Buffer
	log := slog.New(NewMultiLevelHandler(map[io.Writer]slog.Level{
		&console: slog.LevelWarn,
		&file:    slog.LevelDebug,
	}))

	log.Debug("detail")
	log.Error("boom")
	assert.NotContains(t, console.String(), "detail")
	assert.Contains(t, console.String(), "[ERROR] boom")
	assert.Contains(t, file.String(), "[DEBUG] detail")
	assert.Contains(t, file.String(), "[ERROR] boom")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(" info "))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelDebug, ParseLevel("chatty"))
}

func TestJSONParsingWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONParsingWriter(&buf)

	in := `{"level":"warn","message":"transaction timeout","time":"2024-05-01T10:11:12Z","caller":"x.go:1","tx":"abc","code":408}` + "\n"
	n, err := w.Write([]byte(in))
	require.NoError(t, err)
	assert.Equal(t, len(in), n)
	assert.Equal(t, "[10:11:12] [WARN] transaction timeout code=408 tx=abc\n", buf.String())

	buf.Reset()
	_, err = w.Write([]byte("plain line\n"))
	require.NoError(t, err)
	assert.Equal(t, "plain line\n", buf.String())
}

func TestFileWriterRotatesIntoPath(t *testing.T) {
	withLevel(t, "info")
	path := filepath.Join(t.TempDir(), "softphone.log")
	fw := NewFileWriter(FileConfig{Path: path, MaxBackups: 1})
	log := slog.New(NewHandler(fw))

	log.Info("[Main] started")
	require.NoError(t, fw.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[INFO] [Main] started")
}
