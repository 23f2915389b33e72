package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/gordonklaus/portaudio"
	"github.com/hajimehoshi/go-mp3"
)

const (
	outputChannels  = 2
	framesPerBuffer = 1024
	bytesPerSample  = 2
)

// audioOutput renders decoded MP3 to the default output device.
type audioOutput struct{}

func openOutput() (*audioOutput, error) {
	err := portaudio.Initialize()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	return &audioOutput{}, nil
}

// PlayFile decodes path and blocks until it has been played.
func (o *audioOutput) PlayFile(path string, volume float64) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	decoder, err := mp3.NewDecoder(file)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}

	samples := make([]int16, framesPerBuffer*outputChannels)

	stream, err := portaudio.OpenDefaultStream(
		0,
		outputChannels,
		float64(decoder.SampleRate()),
		framesPerBuffer,
		samples,
	)
	if err != nil {
		return fmt.Errorf("failed to open output stream: %w", err)
	}
	defer stream.Close()

	err = stream.Start()
	if err != nil {
		return fmt.Errorf("failed to start output stream: %w", err)
	}
	defer stream.Stop()

	pcm := make([]byte, len(samples)*bytesPerSample)

	for {
		read, readErr := io.ReadFull(decoder, pcm)
		if read > 0 {
			clear(pcm[read:])
			scaleSamples(pcm, samples, volume)

			err = stream.Write()
			if err != nil {
				return fmt.Errorf("failed to write audio: %w", err)
			}
		}

		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			return nil
		}

		if readErr != nil {
			return fmt.Errorf("failed to decode audio: %w", readErr)
		}
	}
}

func (o *audioOutput) Close() error {
	return portaudio.Terminate()
}

// scaleSamples converts little-endian 16-bit PCM into samples, applying a
// linear gain with clipping.
func scaleSamples(pcm []byte, samples []int16, volume float64) {
	for i := range samples {
		offset := i * bytesPerSample
		if offset+1 >= len(pcm) {
			samples[i] = 0

			continue
		}

		value := float64(int16(binary.LittleEndian.Uint16(pcm[offset:]))) * volume
		value = math.Max(math.MinInt16, math.Min(math.MaxInt16, value))
		samples[i] = int16(value)
	}
}
