// Package speech decides how a notification is spoken: online voice, local
// voice or not at all.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/logger"

	"github.com/book-expert/speech-notifier/internal/config"
	"github.com/book-expert/speech-notifier/internal/core"
	"github.com/book-expert/speech-notifier/internal/metrics"
	"github.com/book-expert/speech-notifier/internal/tts"
	"github.com/book-expert/speech-notifier/internal/tts/text"
)

// Outcome describes what Play did with a request.
type Outcome string

const (
	OutcomeSpoken      Outcome = "spoken"
	OutcomeSpokenLocal Outcome = "spoken_local"
	OutcomeSkipped     Outcome = "skipped"
)

var (
	// ErrEmptyText indicates a request without text.
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrNoTranslation indicates that no text exists in the voice's language.
	ErrNoTranslation = errors.New("no translation for the voice language")
	// ErrNoLocalVoice indicates that local speech is needed but unavailable.
	ErrNoLocalVoice = errors.New("local voice is not available")
)

// Request is one notification to speak.
type Request struct {
	Text      string
	Language  string
	Key       string
	DungeonID string
}

// Generator produces a playable file for text in a voice.
type Generator interface {
	Generate(ctx context.Context, text, language, voiceName string) (string, error)
}

// Player plays files one at a time.
type Player interface {
	Play(ctx context.Context, path string) error
	Stop()
}

// Speaker runs the speech decision sequence for each request.
type Speaker struct {
	config     tts.ConfigSource
	generator  Generator
	player     Player
	local      core.LocalVoice
	translator core.Translator
	normalizer *text.Normalizer
	metrics    *metrics.Collector
	logger     *logger.Logger
}

// Option customizes a Speaker.
type Option func(*Speaker)

// WithLocalVoice enables the local voice for offline speech and fallback.
func WithLocalVoice(local core.LocalVoice) Option {
	return func(s *Speaker) {
		s.local = local
	}
}

// WithTranslator enables cross-language lookups.
func WithTranslator(translator core.Translator) Option {
	return func(s *Speaker) {
		s.translator = translator
	}
}

// WithMetrics records outcomes.
func WithMetrics(collector *metrics.Collector) Option {
	return func(s *Speaker) {
		s.metrics = collector
	}
}

// NewSpeaker creates a Speaker.
func NewSpeaker(
	source tts.ConfigSource,
	generator Generator,
	player Player,
	log *logger.Logger,
	opts ...Option,
) *Speaker {
	speaker := &Speaker{
		config:     source,
		generator:  generator,
		player:     player,
		normalizer: text.NewNormalizer(),
		logger:     log,
	}

	for _, opt := range opts {
		opt(speaker)
	}

	return speaker
}

// Play speaks req. Failures never escape as panics; a skipped request reports
// why through the error.
func (s *Speaker) Play(ctx context.Context, req Request) (Outcome, error) {
	outcome, err := s.play(ctx, req)

	s.metrics.RecordSpeech(string(outcome))

	if err != nil {
		s.logger.Warn("Speech request %q %s: %v", req.Key, outcome, err)
	}

	return outcome, err
}

func (s *Speaker) play(ctx context.Context, req Request) (Outcome, error) {
	if strings.TrimSpace(req.Text) == "" {
		return OutcomeSkipped, ErrEmptyText
	}

	cfg := s.config.Current()

	if !cfg.Speech.Enabled {
		return s.speakLocal(ctx, req, cfg)
	}

	err := s.playOnline(ctx, req, cfg)
	if err == nil {
		return OutcomeSpoken, nil
	}

	if errors.Is(err, ErrNoTranslation) || cfg.Speech.OnOnlineFailure != config.FailureFallbackLocal {
		return OutcomeSkipped, err
	}

	s.logger.Info("Online speech failed, falling back to local voice: %v", err)

	outcome, localErr := s.speakLocal(ctx, req, cfg)
	if localErr != nil {
		return OutcomeSkipped, errors.Join(err, localErr)
	}

	return outcome, nil
}

func (s *Speaker) playOnline(ctx context.Context, req Request, cfg *config.Config) error {
	voice, ok := cfg.Speech.ResolveVoice("")
	if !ok {
		return tts.ErrNoVoices
	}

	spoken := req.Text

	if !SameLanguage(voice.Language, req.Language) {
		translated, found := s.lookup(req, voice.Language)
		if !found {
			return fmt.Errorf("%w: key %q in %q", ErrNoTranslation, req.Key, voice.Language)
		}

		spoken = translated
	}

	path, err := s.generator.Generate(ctx, spoken, voice.Language, voice.Name)
	if err != nil {
		return err
	}

	return s.player.Play(ctx, path)
}

func (s *Speaker) lookup(req Request, language string) (string, bool) {
	if s.translator == nil || req.Key == "" {
		return "", false
	}

	translated, found := s.translator.Translation(req.DungeonID, req.Key, language)
	if !found || strings.TrimSpace(translated) == "" {
		return "", false
	}

	return translated, true
}

func (s *Speaker) speakLocal(ctx context.Context, req Request, cfg *config.Config) (Outcome, error) {
	if s.local == nil {
		return OutcomeSkipped, ErrNoLocalVoice
	}

	voices, err := s.local.EnumerateVoices(ctx)
	if err != nil {
		s.logger.Warn("Failed to list local voices, using the engine default: %v", err)
	}

	choice, _ := SelectLocalVoice(voices, req.Language, cfg.LocalVoice.Gender)
	spoken := s.normalizer.Normalize(req.Text, req.Language)

	err = s.local.Speak(ctx, spoken, choice.Name, cfg.LocalVoice.Rate, cfg.LocalVoice.Volume)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("local speech failed: %w", err)
	}

	return OutcomeSpokenLocal, nil
}

// Stop silences everything: the playback queue and the local voice.
func (s *Speaker) Stop() {
	s.player.Stop()

	if s.local != nil {
		err := s.local.Stop()
		if err != nil {
			s.logger.Warn("Failed to stop local voice: %v", err)
		}
	}
}

// SameLanguage compares primary language subtags. An empty side matches
// anything.
func SameLanguage(a, b string) bool {
	a, b = PrimaryLanguage(a), PrimaryLanguage(b)

	return a == "" || b == "" || a == b
}

// PrimaryLanguage returns the lowercased primary subtag: "en-US" is "en".
func PrimaryLanguage(language string) string {
	language = strings.ToLower(strings.TrimSpace(language))

	primary, _, _ := strings.Cut(strings.ReplaceAll(language, "_", "-"), "-")

	return primary
}

// SelectLocalVoice picks the best installed voice for language and gender.
// Preference: language and gender, then language, then gender, then the
// first voice. The boolean is false when voices is empty.
func SelectLocalVoice(voices []core.LocalVoiceInfo, language string, gender core.Gender) (core.LocalVoiceInfo, bool) {
	if len(voices) == 0 {
		return core.LocalVoiceInfo{}, false
	}

	wanted := PrimaryLanguage(language)

	matches := []func(core.LocalVoiceInfo) bool{
		func(v core.LocalVoiceInfo) bool { return languageMatches(v, wanted) && genderMatches(v, gender) },
		func(v core.LocalVoiceInfo) bool { return languageMatches(v, wanted) },
		func(v core.LocalVoiceInfo) bool { return genderMatches(v, gender) },
	}

	for _, match := range matches {
		for _, voice := range voices {
			if match(voice) {
				return voice, true
			}
		}
	}

	return voices[0], true
}

func languageMatches(voice core.LocalVoiceInfo, wanted string) bool {
	return wanted != "" && PrimaryLanguage(voice.Language) == wanted
}

func genderMatches(voice core.LocalVoiceInfo, gender core.Gender) bool {
	return gender == core.GenderAny || voice.Gender == gender
}
