package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/book-expert/logger"
	"golang.org/x/sync/singleflight"

	"github.com/book-expert/speech-notifier/internal/config"
	"github.com/book-expert/speech-notifier/internal/core"
	"github.com/book-expert/speech-notifier/internal/metrics"
	"github.com/book-expert/speech-notifier/internal/tts/audio"
	"github.com/book-expert/speech-notifier/internal/tts/cache"
	"github.com/book-expert/speech-notifier/internal/tts/text"
)

// placeholderPattern matches template parameters such as {player}.
const placeholderPattern = `\{[^{}]*\}`

const fallbackFilePattern = "speech-notifier-*.audio"

// fillTimeout bounds one shared cache fill: mirror download, synthesis and
// mirror upload. It does not depend on any single caller.
const fillTimeout = 2 * RequestTimeout

var (
	// ErrConfiguration classifies missing or unusable synthesis settings.
	ErrConfiguration = errors.New("synthesis configuration error")
	// ErrSynthesisDisabled indicates that online synthesis is turned off.
	ErrSynthesisDisabled = fmt.Errorf("%w: online synthesis is disabled", ErrConfiguration)
	// ErrMissingAPIKey indicates that no API key is configured.
	ErrMissingAPIKey = fmt.Errorf("%w: api key is not configured", ErrConfiguration)
	// ErrNoVoices indicates that no voice is configured.
	ErrNoVoices = fmt.Errorf("%w: no voices configured", ErrConfiguration)
	// ErrVoiceUnresolvable indicates a voice without a provider id.
	ErrVoiceUnresolvable = fmt.Errorf("%w: voice has no provider id", ErrConfiguration)
	// ErrTemplatePlaceholder indicates text that still contains {placeholders}.
	ErrTemplatePlaceholder = errors.New("text contains unresolved template placeholders")
	// ErrCacheIO indicates that synthesized audio could not be written anywhere.
	ErrCacheIO = errors.New("cache write failed")
)

// ConfigSource supplies the current configuration snapshot.
type ConfigSource interface {
	Current() *config.Config
}

// Generator resolves text to a playable cache file, synthesizing it on a miss.
type Generator struct {
	config      ConfigSource
	synthesizer Synthesizer
	normalizer  *text.Normalizer
	mirror      core.ObjectStore
	metrics     *metrics.Collector
	logger      *logger.Logger
	placeholder *regexp.Regexp
	flights     singleflight.Group
}

// GeneratorOption customizes a Generator.
type GeneratorOption func(*Generator)

// WithMirror adds a shared object store consulted before the provider and
// filled after every successful synthesis.
func WithMirror(mirror core.ObjectStore) GeneratorOption {
	return func(g *Generator) {
		g.mirror = mirror
	}
}

// WithMetrics records cache and synthesis outcomes.
func WithMetrics(collector *metrics.Collector) GeneratorOption {
	return func(g *Generator) {
		g.metrics = collector
	}
}

// NewGenerator creates a Generator.
func NewGenerator(
	source ConfigSource,
	synthesizer Synthesizer,
	log *logger.Logger,
	opts ...GeneratorOption,
) *Generator {
	generator := &Generator{
		config:      source,
		synthesizer: synthesizer,
		normalizer:  text.NewNormalizer(),
		logger:      log,
		placeholder: regexp.MustCompile(placeholderPattern),
	}

	for _, opt := range opts {
		opt(generator)
	}

	return generator
}

// target is a fully resolved generation request.
type target struct {
	text     string
	language string
	voice    core.Voice
	speech   config.SpeechConfig
	cache    *cache.VoiceCache
	// offline is set when cached audio can be served but nothing can be
	// synthesized, for example a voice recovered from the cache directory.
	offline error
}

// Generate returns the cache path of text spoken by voiceName in language.
// The original text addresses the cache; the normalized text is what gets
// synthesized. An empty language means the voice's own language. A voice
// without a provider id, or a missing API key, still serves cache hits.
func (g *Generator) Generate(ctx context.Context, text, language, voiceName string) (string, error) {
	resolved, err := g.resolve(text, language, voiceName)
	if err != nil {
		return "", err
	}

	if resolved.cache.Has(resolved.text, resolved.language, resolved.voice.Name) {
		g.metrics.RecordCacheLookup(true)

		return resolved.cache.ResolvePath(resolved.text, resolved.language, resolved.voice.Name), nil
	}

	g.metrics.RecordCacheLookup(false)

	if resolved.offline != nil {
		return "", resolved.offline
	}

	key := cache.RelativeKey(resolved.text, resolved.language, resolved.voice.Name)

	// The fill is shared by every caller of the same key, so it runs on a
	// context no single caller can cancel.
	results := g.flights.DoChan(resolved.cache.Root()+"/"+key, func() (any, error) {
		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fillTimeout)
		defer cancel()

		return g.fill(fillCtx, resolved, key)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case result := <-results:
		if result.Err != nil {
			return "", result.Err
		}

		return result.Val.(string), nil
	}
}

// resolve checks the preconditions in order. The first failure that rules
// out synthesis but not a cache hit is kept in target.offline; later checks
// still run so the cache can be consulted.
func (g *Generator) resolve(text, language, voiceName string) (target, error) {
	speech := g.config.Current().Speech

	if !speech.Enabled {
		return target{}, ErrSynthesisDisabled
	}

	var offline error

	if speech.APIKey == "" {
		offline = ErrMissingAPIKey
	}

	voice, ok := speech.ResolveVoice(voiceName)
	if !ok {
		return target{}, firstError(offline, ErrNoVoices)
	}

	if voice.ProviderID == "" && offline == nil {
		offline = fmt.Errorf("%w: %s", ErrVoiceUnresolvable, voice.Name)
	}

	if text == "" {
		return target{}, firstError(offline, ErrTextEmpty)
	}

	if g.placeholder.MatchString(text) {
		return target{}, firstError(offline, ErrTemplatePlaceholder)
	}

	if language == "" {
		language = voice.Language
	}

	voiceCache, err := cache.New(speech.CacheDir)
	if err != nil {
		return target{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	return target{
		text:     text,
		language: language,
		voice:    voice,
		speech:   speech,
		cache:    voiceCache,
		offline:  offline,
	}, nil
}

func firstError(earlier, later error) error {
	if earlier != nil {
		return earlier
	}

	return later
}

// fill produces the cache entry for a miss: mirror first, provider second.
func (g *Generator) fill(ctx context.Context, resolved target, key string) (string, error) {
	if resolved.cache.Has(resolved.text, resolved.language, resolved.voice.Name) {
		return resolved.cache.ResolvePath(resolved.text, resolved.language, resolved.voice.Name), nil
	}

	if path, ok := g.fromMirror(ctx, resolved, key); ok {
		return path, nil
	}

	audioData, err := g.synthesize(ctx, resolved)
	if err != nil {
		g.metrics.RecordSynthesis(err)
		g.logger.Warn("Synthesis failed for voice %s: %v", resolved.voice.Name, err)

		return "", err
	}

	g.metrics.RecordSynthesis(nil)

	path, err := g.store(resolved, audioData)
	if err != nil {
		return "", err
	}

	g.toMirror(ctx, key, audioData)

	return path, nil
}

func (g *Generator) synthesize(ctx context.Context, resolved target) ([]byte, error) {
	spoken := g.normalizer.Normalize(resolved.text, resolved.language)
	if spoken == "" {
		return nil, ErrTextEmpty
	}

	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	return g.synthesizer.Synthesize(ctx, Request{
		Text:        spoken,
		ReferenceID: resolved.voice.ProviderID,
		APIKey:      resolved.speech.APIKey,
		SampleRate:  resolved.speech.SampleRate,
		Volume:      resolved.speech.Volume,
		Rate:        resolved.speech.Rate,
	})
}

// store writes through the cache. When the cache cannot be written the audio
// still goes to a temp file so the notification can play.
func (g *Generator) store(resolved target, audioData []byte) (string, error) {
	path, err := resolved.cache.Store(resolved.text, resolved.language, resolved.voice.Name, audioData)
	if err == nil {
		return path, nil
	}

	g.logger.Error("Failed to cache audio for voice %s: %v", resolved.voice.Name, err)

	temp, tempErr := os.CreateTemp("", fallbackFilePattern)
	if tempErr != nil {
		return "", fmt.Errorf("%w: %w", ErrCacheIO, errors.Join(err, tempErr))
	}

	_, writeErr := temp.Write(audioData)
	closeErr := temp.Close()

	if writeErr != nil || closeErr != nil {
		_ = os.Remove(temp.Name())

		return "", fmt.Errorf("%w: %w", ErrCacheIO, errors.Join(err, writeErr, closeErr))
	}

	return temp.Name(), nil
}

func (g *Generator) fromMirror(ctx context.Context, resolved target, key string) (string, bool) {
	if g.mirror == nil {
		return "", false
	}

	audioData, err := g.mirror.Download(ctx, key)
	if err != nil {
		return "", false
	}

	_, err = audio.Sniff(audioData)
	if err != nil {
		g.logger.Warn("Ignoring invalid mirrored audio %s: %v", key, err)

		return "", false
	}

	path, err := resolved.cache.Store(resolved.text, resolved.language, resolved.voice.Name, audioData)
	if err != nil {
		g.logger.Warn("Failed to cache mirrored audio %s: %v", key, err)

		return "", false
	}

	g.metrics.RecordMirrorHit()

	return path, true
}

func (g *Generator) toMirror(ctx context.Context, key string, audioData []byte) {
	if g.mirror == nil {
		return
	}

	err := g.mirror.Upload(ctx, key, audioData)
	if err != nil {
		g.logger.Warn("Failed to upload %s to cache mirror: %v", key, err)
	}
}
