package playback

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Protocol commands. Every message is one newline-terminated line.
const (
	CommandReady = "READY"
	CommandPlay  = "PLAY"
	CommandDone  = "DONE"
	CommandFail  = "FAIL"
	CommandQuit  = "QUIT"
)

// MaxLineLength bounds a protocol line, newline included.
const MaxLineLength = 8 << 10

const fieldSeparator = " "

var (
	// ErrPathTooLong indicates a path whose encoded PLAY line exceeds MaxLineLength.
	ErrPathTooLong = errors.New("encoded path exceeds protocol line limit")
	// ErrMalformedLine indicates a line that does not follow the protocol.
	ErrMalformedLine = errors.New("malformed protocol line")
)

// Message is a decoded protocol line.
type Message struct {
	Command string
	JobID   string
	Path    string
	Volume  float64
	Detail  string
}

// EncodePlay builds the PLAY line for a job. The path is base64url encoded so
// that any byte sequence survives the trip to the worker.
func EncodePlay(jobID, path string, volume float64) (string, error) {
	line := strings.Join([]string{
		CommandPlay,
		jobID,
		base64.RawURLEncoding.EncodeToString([]byte(path)),
		strconv.FormatFloat(volume, 'f', -1, 64),
	}, fieldSeparator)

	if len(line)+1 > MaxLineLength {
		return "", fmt.Errorf("%w: %d bytes", ErrPathTooLong, len(line)+1)
	}

	return line, nil
}

// EncodeDone builds the completion line for a finished job.
func EncodeDone(jobID string) string {
	return CommandDone + fieldSeparator + jobID
}

// EncodeFail builds the failure line for a job. Line breaks in message are
// flattened and the line is truncated to fit MaxLineLength.
func EncodeFail(jobID, message string) string {
	message = strings.Join(strings.Fields(message), fieldSeparator)
	line := CommandFail + fieldSeparator + jobID + fieldSeparator + message

	if len(line)+1 > MaxLineLength {
		line = line[:MaxLineLength-1]
	}

	return line
}

// ParseLine decodes one protocol line without its trailing newline.
func ParseLine(line string) (Message, error) {
	line = strings.TrimRight(line, "\r\n")
	if len(line)+1 > MaxLineLength {
		return Message{}, fmt.Errorf("%w: line too long", ErrMalformedLine)
	}

	command, rest, _ := strings.Cut(line, fieldSeparator)

	switch command {
	case CommandReady, CommandQuit:
		if rest != "" {
			return Message{}, fmt.Errorf("%w: %s takes no arguments", ErrMalformedLine, command)
		}

		return Message{Command: command}, nil
	case CommandDone:
		if rest == "" || strings.Contains(rest, fieldSeparator) {
			return Message{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
		}

		return Message{Command: command, JobID: rest}, nil
	case CommandFail:
		jobID, detail, _ := strings.Cut(rest, fieldSeparator)
		if jobID == "" {
			return Message{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
		}

		return Message{Command: command, JobID: jobID, Detail: detail}, nil
	case CommandPlay:
		return parsePlay(rest)
	default:
		return Message{}, fmt.Errorf("%w: unknown command %q", ErrMalformedLine, command)
	}
}

func parsePlay(rest string) (Message, error) {
	fields := strings.Split(rest, fieldSeparator)
	if len(fields) != 3 || fields[0] == "" {
		return Message{}, fmt.Errorf("%w: PLAY expects 3 fields, got %d", ErrMalformedLine, len(fields))
	}

	path, err := base64.RawURLEncoding.DecodeString(fields[1])
	if err != nil {
		return Message{}, fmt.Errorf("%w: bad path encoding: %w", ErrMalformedLine, err)
	}

	volume, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return Message{}, fmt.Errorf("%w: bad volume: %w", ErrMalformedLine, err)
	}

	return Message{
		Command: CommandPlay,
		JobID:   fields[0],
		Path:    string(path),
		Volume:  volume,
	}, nil
}
