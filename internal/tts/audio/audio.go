// Package audio validates synthesized audio payloads and probes cached files.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hajimehoshi/go-mp3"
)

// Format represents supported audio formats.
type Format string

const (
	// FormatMP3 is an MPEG audio stream, with or without an ID3 tag.
	FormatMP3 Format = "mp3"
)

const (
	id3Magic = "ID3"
	// frameSyncHigh and frameSyncMask describe the 11-bit MPEG frame sync.
	frameSyncHigh = 0xFF
	frameSyncMask = 0xE0
	// decodedBytesPerFrame is 16-bit stereo, the only output of go-mp3.
	decodedBytesPerFrame = 4
)

var (
	// ErrInvalidAudio indicates a payload that is not recognizable audio.
	ErrInvalidAudio = errors.New("invalid audio payload")
	// ErrUnknownDuration indicates that the stream length could not be determined.
	ErrUnknownDuration = errors.New("unknown audio duration")
)

// Sniff checks the leading bytes of data. It accepts an ID3-tagged container
// or a raw MPEG frame sync; anything else is ErrInvalidAudio.
func Sniff(data []byte) (Format, error) {
	if bytes.HasPrefix(data, []byte(id3Magic)) {
		return FormatMP3, nil
	}

	if len(data) >= 2 && data[0] == frameSyncHigh && data[1]&frameSyncMask == frameSyncMask {
		return FormatMP3, nil
	}

	return "", fmt.Errorf("%w: unrecognized header %s", ErrInvalidAudio, headerHex(data))
}

// Duration decodes the MP3 stream header and returns its play time.
func Duration(reader io.Reader) (time.Duration, error) {
	decoder, err := mp3.NewDecoder(reader)
	if err != nil {
		return 0, fmt.Errorf("failed to decode mp3 stream: %w", err)
	}

	length := decoder.Length()
	sampleRate := decoder.SampleRate()

	if length <= 0 || sampleRate <= 0 {
		return 0, ErrUnknownDuration
	}

	frames := length / decodedBytesPerFrame

	return time.Duration(frames) * time.Second / time.Duration(sampleRate), nil
}

// FileDuration returns the play time of the MP3 file at path.
func FileDuration(path string) (time.Duration, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	return Duration(file)
}

func headerHex(data []byte) string {
	const maxHeader = 4

	if len(data) > maxHeader {
		data = data[:maxHeader]
	}

	if len(data) == 0 {
		return "(empty)"
	}

	return fmt.Sprintf("% x", data)
}
