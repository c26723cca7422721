// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"io"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	applog "bpmdetect/internal/log"
)

// StartRecording begins writing captured frames to a WAV file at the
// configured bit depth. An empty filename generates a timestamped one.
func (e *Engine) StartRecording(filename string) error {
	if e.isRecording.Load() == 1 {
		return fmt.Errorf("already recording")
	}

	if filename == "" {
		filename = fmt.Sprintf("capture-%s.wav", time.Now().Format("20060102-150405"))
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	bitDepth := e.config.Recording.BitDepth
	if err := e.startEncoder(file, bitDepth); err != nil {
		file.Close()
		return err
	}
	e.wavCloser = file.Close

	applog.Infof("Audio: recording to %s (%d-bit)", filename, bitDepth)
	e.isRecording.Store(1)
	return nil
}

// startEncoder wires a WAV encoder over w and allocates the conversion
// buffer. Split out so tests can record into any WriteSeeker.
func (e *Engine) startEncoder(w io.WriteSeeker, bitDepth int) error {
	switch bitDepth {
	case 16, 24, 32:
	default:
		return fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}

	e.wavEncoder = wav.NewEncoder(w, int(e.config.Audio.SampleRate), bitDepth, 1, 1)
	e.sampleScale = float64(int64(1)<<(bitDepth-1) - 1)
	e.sampleBuf = &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: 1,
			SampleRate:  int(e.config.Audio.SampleRate),
		},
		SourceBitDepth: bitDepth,
		Data:           make([]int, e.config.Audio.FramesPerBuffer),
	}
	return nil
}

// writeRecording converts one mono float32 frame to integer samples and
// appends it to the open encoder. Called from the capture callback.
func (e *Engine) writeRecording(frame []float32) {
	data := e.sampleBuf.Data[:len(frame)]
	for i, sample := range frame {
		data[i] = int(float64(sample) * e.sampleScale)
	}
	e.sampleBuf.Data = data

	if err := e.wavEncoder.Write(e.sampleBuf); err != nil {
		applog.Errorf("Audio: error writing to WAV file: %v", err)
	}
}

// StopRecording finalizes the WAV header and closes the output file.
// Safe to call when not recording.
func (e *Engine) StopRecording() error {
	if e.isRecording.Load() == 0 {
		return nil
	}

	e.isRecording.Store(0)

	if e.wavEncoder != nil {
		if err := e.wavEncoder.Close(); err != nil {
			return err
		}
		e.wavEncoder = nil
	}

	if e.wavCloser != nil {
		err := e.wavCloser()
		e.wavCloser = nil
		if err != nil {
			return err
		}
	}

	return nil
}
