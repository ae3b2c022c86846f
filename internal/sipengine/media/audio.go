package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// TargetSampleRate is the rate of every PCM frame moved between ports.
const TargetSampleRate = 8000

// AudioFile represents parsed audio file metadata and data
type AudioFile struct {
	AudioFormat   uint16
	SampleRate    uint32
	NumChannels   uint16
	BitsPerSample uint16
	PCMData       []byte
}

// Duration returns the playing time of the PCM data.
func (a *AudioFile) Duration() float64 {
	bytesPerSec := int(a.SampleRate) * int(a.NumChannels) * int(a.BitsPerSample) / 8
	if bytesPerSec == 0 {
		return 0
	}
	return float64(len(a.PCMData)) / float64(bytesPerSec)
}

// ReadWAVFile parses a WAV file and returns metadata + PCM audio data
func ReadWAVFile(filePath string) (*AudioFile, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	af, err := ReadWAV(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	slog.Debug("[WAV] Loaded audio data", "file", filePath, "size_bytes", len(af.PCMData))
	return af, nil
}

// ReadWAV parses a RIFF/WAVE stream holding 16-bit linear PCM.
func ReadWAV(r io.Reader) (*AudioFile, error) {
	var riff struct {
		ID     [4]byte
		Size   uint32
		Format [4]byte
	}
	if err := binary.Read(r, binary.LittleEndian, &riff); err != nil {
		return nil, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(riff.ID[:]) != "RIFF" {
		return nil, errors.New("not a valid RIFF file")
	}
	if string(riff.Format[:]) != "WAVE" {
		return nil, errors.New("not a valid WAVE file")
	}

	audioFile := &AudioFile{}
	haveFormat := false
	for {
		var chunk struct {
			ID   [4]byte
			Size uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &chunk); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read chunk header: %w", err)
		}

		switch string(chunk.ID[:]) {
		case "fmt ":
			var f struct {
				AudioFormat   uint16
				NumChannels   uint16
				SampleRate    uint32
				ByteRate      uint32
				BlockAlign    uint16
				BitsPerSample uint16
			}
			if err := binary.Read(r, binary.LittleEndian, &f); err != nil {
				return nil, fmt.Errorf("failed to read format chunk: %w", err)
			}
			if f.AudioFormat != 1 {
				return nil, fmt.Errorf("only PCM audio format (1) is supported, got %d", f.AudioFormat)
			}
			if f.BitsPerSample != 16 {
				return nil, fmt.Errorf("only 16-bit samples are supported, got %d", f.BitsPerSample)
			}
			audioFile.AudioFormat = f.AudioFormat
			audioFile.NumChannels = f.NumChannels
			audioFile.SampleRate = f.SampleRate
			audioFile.BitsPerSample = f.BitsPerSample
			haveFormat = true
			// extensible format chunks carry extra bytes
			if extra := int64(chunk.Size) - 16; extra > 0 {
				if _, err := io.CopyN(io.Discard, r, extra); err != nil {
					return nil, fmt.Errorf("failed to skip format extension: %w", err)
				}
			}

		case "data":
			if !haveFormat {
				return nil, errors.New("data chunk before format chunk")
			}
			audioFile.PCMData = make([]byte, chunk.Size)
			if _, err := io.ReadFull(r, audioFile.PCMData); err != nil {
				return nil, fmt.Errorf("failed to read audio data: %w", err)
			}
			return audioFile, nil

		default:
			// chunks are word aligned
			skip := int64(chunk.Size) + int64(chunk.Size&1)
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, fmt.Errorf("failed to skip chunk %q: %w", string(chunk.ID[:]), err)
			}
		}
	}

	return nil, errors.New("data chunk not found in WAV file")
}

// ResampleAudio converts audio to 8000 Hz mono 16-bit PCM
func ResampleAudio(audioFile *AudioFile) ([]byte, error) {
	var monoPCM []byte
	switch audioFile.NumChannels {
	case 1:
		monoPCM = audioFile.PCMData
	case 2:
		// average left and right
		monoPCM = make([]byte, len(audioFile.PCMData)/2)
		for i := 0; i+3 < len(audioFile.PCMData); i += 4 {
			left := int16(binary.LittleEndian.Uint16(audioFile.PCMData[i:]))
			right := int16(binary.LittleEndian.Uint16(audioFile.PCMData[i+2:]))
			mono := int16((int32(left) + int32(right)) / 2)
			binary.LittleEndian.PutUint16(monoPCM[i/2:], uint16(mono))
		}
	default:
		return nil, fmt.Errorf("unsupported number of channels: %d", audioFile.NumChannels)
	}

	if audioFile.SampleRate == TargetSampleRate {
		return monoPCM, nil
	}
	if audioFile.SampleRate == 0 {
		return nil, errors.New("sample rate is zero")
	}

	// Linear interpolation resampling
	ratio := float64(audioFile.SampleRate) / float64(TargetSampleRate)
	inSamples := len(monoPCM) / 2
	outputSamples := int(float64(inSamples) / ratio)
	outputPCM := make([]byte, 0, outputSamples*2)

	for i := 0; i < outputSamples; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)
		if srcIdx+1 >= inSamples {
			break
		}

		sample1 := int16(binary.LittleEndian.Uint16(monoPCM[srcIdx*2:]))
		sample2 := int16(binary.LittleEndian.Uint16(monoPCM[(srcIdx+1)*2:]))
		interpolated := int16(float64(sample1)*(1-frac) + float64(sample2)*frac)
		outputPCM = binary.LittleEndian.AppendUint16(outputPCM, uint16(interpolated))
	}

	return outputPCM, nil
}

// WAVWriter writes 8 kHz mono 16-bit PCM to a WAV file. The RIFF and data
// sizes are patched on Close.
type WAVWriter struct {
	mu      sync.Mutex
	f       *os.File
	written uint32
	closed  bool
}

const wavHeaderSize = 44

// CreateWAVFile creates path and writes a placeholder header.
func CreateWAVFile(path string) (*WAVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	w := &WAVWriter{f: f}
	if err := w.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *WAVWriter) writeHeader() error {
	const (
		channels      = 1
		bitsPerSample = 16
		blockAlign    = channels * bitsPerSample / 8
	)
	hdr := struct {
		ChunkID       [4]byte
		ChunkSize     uint32
		Format        [4]byte
		Subchunk1ID   [4]byte
		Subchunk1Size uint32
		AudioFormat   uint16
		NumChannels   uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Subchunk2ID   [4]byte
		Subchunk2Size uint32
	}{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + w.written,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    TargetSampleRate,
		ByteRate:      TargetSampleRate * blockAlign,
		BlockAlign:    blockAlign,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: w.written,
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to header: %w", err)
	}
	if err := binary.Write(w.f, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}
	return nil
}

// Write appends PCM samples.
func (w *WAVWriter) Write(pcm []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, os.ErrClosed
	}
	if _, err := w.f.Seek(int64(wavHeaderSize+w.written), io.SeekStart); err != nil {
		return 0, err
	}
	n, err := w.f.Write(pcm)
	w.written += uint32(n)
	return n, err
}

// Len returns the number of PCM bytes written.
func (w *WAVWriter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int(w.written)
}

// Close finalizes the header and closes the file.
func (w *WAVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	herr := w.writeHeader()
	cerr := w.f.Close()
	return errors.Join(herr, cerr)
}
