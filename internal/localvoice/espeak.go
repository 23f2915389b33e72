// Package localvoice speaks text through a locally installed espeak-ng binary.
package localvoice

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/speech-notifier/internal/core"
)

// espeak-ng scales.
const (
	baseWordsPerMinute = 175
	minWordsPerMinute  = 80
	maxWordsPerMinute  = 450
	baseAmplitude      = 100
	maxAmplitude       = 200
	waitDelay          = time.Second
)

// Columns of `espeak-ng --voices`.
const (
	columnLanguage = 1
	columnGender   = 2
	columnName     = 3
	minColumns     = 4
)

var (
	// ErrBinaryEmpty indicates an engine without a binary path.
	ErrBinaryEmpty = errors.New("local voice binary cannot be empty")
	// ErrInterrupted indicates speech cut short by Stop.
	ErrInterrupted = errors.New("local speech interrupted")
)

// Espeak implements core.LocalVoice with the espeak-ng command line tool.
type Espeak struct {
	binary string
	log    *logger.Logger

	mu      sync.Mutex
	running *exec.Cmd
	stopped bool
}

// New creates an Espeak engine for binary.
func New(binary string, log *logger.Logger) (*Espeak, error) {
	if binary == "" {
		return nil, ErrBinaryEmpty
	}

	return &Espeak{binary: binary, log: log}, nil
}

// EnumerateVoices lists the installed voices.
func (e *Espeak) EnumerateVoices(ctx context.Context) ([]core.LocalVoiceInfo, error) {
	// #nosec G204 -- the binary comes from the local configuration
	cmd := exec.CommandContext(ctx, e.binary, "--voices")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s --voices failed: %w: %s", e.binary, err, strings.TrimSpace(stderr.String()))
	}

	return ParseVoices(output), nil
}

// Speak says text and blocks until it has been spoken. rate 1 and volume 1
// are the engine defaults.
func (e *Espeak) Speak(ctx context.Context, text, voiceName string, rate, volume float64) error {
	args := []string{
		"-s", strconv.Itoa(wordsPerMinute(rate)),
		"-a", strconv.Itoa(amplitude(volume)),
	}

	if voiceName != "" {
		args = append(args, "-v", voiceName)
	}

	// #nosec G204 -- the binary comes from the local configuration
	cmd := exec.CommandContext(ctx, e.binary, args...)
	cmd.Stdin = strings.NewReader(text)
	cmd.WaitDelay = waitDelay

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	e.mu.Lock()
	e.stopped = false

	err := cmd.Start()
	if err != nil {
		e.mu.Unlock()

		return fmt.Errorf("failed to start %s: %w", e.binary, err)
	}

	e.running = cmd
	e.mu.Unlock()

	err = cmd.Wait()

	e.mu.Lock()
	stopped := e.stopped
	if e.running == cmd {
		e.running = nil
	}
	e.mu.Unlock()

	if stopped {
		return ErrInterrupted
	}

	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", e.binary, err, strings.TrimSpace(stderr.String()))
	}

	return nil
}

// Stop interrupts the utterance in progress, if any.
func (e *Espeak) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running == nil || e.running.Process == nil {
		return nil
	}

	e.stopped = true

	err := e.running.Process.Kill()
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		e.log.Warn("Failed to stop local voice: %v", err)

		return fmt.Errorf("failed to stop local voice: %w", err)
	}

	return nil
}

// ParseVoices reads the table printed by `espeak-ng --voices`.
//
//	Pty Language       Age/Gender VoiceName          File        Other Languages
//	 5  en-us           --/M      English_(America)  gmw/en-US   (en 2)
func ParseVoices(output []byte) []core.LocalVoiceInfo {
	var voices []core.LocalVoiceInfo

	scanner := bufio.NewScanner(bytes.NewReader(output))

	header := true

	for scanner.Scan() {
		if header {
			header = false

			continue
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) < minColumns {
			continue
		}

		voices = append(voices, core.LocalVoiceInfo{
			Name:     fields[columnName],
			Language: strings.ToLower(fields[columnLanguage]),
			Gender:   parseGender(fields[columnGender]),
		})
	}

	return voices
}

func parseGender(ageGender string) core.Gender {
	_, gender, _ := strings.Cut(ageGender, "/")

	switch strings.ToUpper(gender) {
	case "F":
		return core.GenderFemale
	case "M":
		return core.GenderMale
	default:
		return core.GenderAny
	}
}

func wordsPerMinute(rate float64) int {
	if rate <= 0 {
		rate = 1
	}

	return min(max(int(rate*baseWordsPerMinute), minWordsPerMinute), maxWordsPerMinute)
}

func amplitude(volume float64) int {
	if volume < 0 {
		volume = 0
	}

	return min(int(volume*baseAmplitude), maxAmplitude)
}
