// Package config provides the configuration structure for the speech notifier.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"

	"github.com/book-expert/speech-notifier/internal/core"
)

// Defaults applied to values left empty in the configuration file.
const (
	DefaultEndpoint           = "https://api.fish.audio/v1/tts"
	DefaultSampleRate         = 44100
	DefaultRate               = 1.0
	DefaultVolume             = 1.0
	MinRate                   = 0.5
	MaxRate                   = 5.0
	DefaultIdleTimeoutSeconds = 300
	DefaultLocalBinary        = "espeak-ng"
	DefaultWorkerBinary       = "playback-worker"
	DefaultSpeakSubject       = "speech.speak"
	DefaultStopSubject        = "speech.stop"
	DefaultVoiceLanguage      = "en"
	appDirName                = "speech-notifier"
	voicesDirName             = "voices"
	filePermissions           = 0o600
	dirPermissions            = 0o750
)

// FailurePolicy decides what happens when online synthesis or playback fails.
type FailurePolicy string

const (
	// FailureSkip drops the notification silently.
	FailureSkip FailurePolicy = "skip"
	// FailureFallbackLocal speaks the notification with the local voice.
	FailureFallbackLocal FailurePolicy = "fallback_local"
)

var (
	// ErrInvalidFailurePolicy indicates an unknown on_online_failure value.
	ErrInvalidFailurePolicy = errors.New("invalid on_online_failure policy")
	// ErrInvalidVoiceEntry indicates a voice entry that is neither a string nor a table.
	ErrInvalidVoiceEntry = errors.New("invalid voice entry")
)

// VoiceEntry is the normalized form of a configured voice.
type VoiceEntry struct {
	ID       string `toml:"id"`
	Language string `toml:"language"`
}

// SpeechConfig holds the online synthesis settings.
type SpeechConfig struct {
	Enabled         bool                  `toml:"enabled"`
	APIKey          string                `toml:"api_key"`
	Endpoint        string                `toml:"endpoint"`
	DefaultVoice    string                `toml:"default_voice"`
	SampleRate      int                   `toml:"sample_rate"`
	Volume          float64               `toml:"volume"`
	Rate            float64               `toml:"rate"`
	CacheDir        string                `toml:"cache_dir"`
	OnOnlineFailure FailurePolicy         `toml:"on_online_failure"`
	Voices          map[string]VoiceEntry `toml:"-"`
	RawVoices       map[string]any        `toml:"voices"`
}

// LocalVoiceConfig holds the settings of the locally installed voice.
type LocalVoiceConfig struct {
	Binary string      `toml:"binary"`
	Gender core.Gender `toml:"gender"`
	Rate   float64     `toml:"rate"`
	Volume float64     `toml:"volume"`
}

// PlaybackConfig holds the settings of the external rendering worker.
type PlaybackConfig struct {
	WorkerBinary       string   `toml:"worker_binary"`
	WorkerArgs         []string `toml:"worker_args"`
	IdleTimeoutSeconds int      `toml:"idle_timeout_seconds"`
	Volume             float64  `toml:"volume"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL          string `toml:"url"`
	SpeakSubject string `toml:"speak_subject"`
	StopSubject  string `toml:"stop_subject"`
	CacheBucket  string `toml:"cache_bucket"`
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Speech     SpeechConfig     `toml:"speech"`
	LocalVoice LocalVoiceConfig `toml:"local_voice"`
	Playback   PlaybackConfig   `toml:"playback"`
	NATS       NATSConfig       `toml:"nats"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Paths      PathsConfig      `toml:"paths"`
}

// Load loads the configuration through the central configurator.
func Load(log *logger.Logger) (*Config, error) {
	cfg := newDefaultConfig()

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	err = cfg.Normalize()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFile reads and normalizes a TOML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes TOML data into a normalized Config. Unknown keys are ignored.
func Parse(data []byte) (*Config, error) {
	cfg := newDefaultConfig()

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	err = cfg.Normalize()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SaveFile writes the configuration back as TOML. Voices are always written
// in their table form.
func SaveFile(path string, cfg *Config) error {
	out := cfg.Clone()
	out.Speech.RawVoices = make(map[string]any, len(out.Speech.Voices))

	for name, entry := range out.Speech.Voices {
		out.Speech.RawVoices[name] = map[string]any{
			"id":       entry.ID,
			"language": entry.Language,
		}
	}

	data, err := toml.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}

	err = os.MkdirAll(filepath.Dir(path), dirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	err = os.WriteFile(path, data, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}

	return nil
}

// newDefaultConfig seeds the values that zero cannot stand for: a volume of
// zero written in the file mutes, a missing volume is unity gain.
func newDefaultConfig() Config {
	return Config{
		LocalVoice: LocalVoiceConfig{Volume: DefaultVolume},
		Playback:   PlaybackConfig{Volume: DefaultVolume},
	}
}

// Normalize applies defaults and converts the raw voice table into VoiceEntry
// values.
func (c *Config) Normalize() error {
	voices, err := normalizeVoices(c.Speech.RawVoices)
	if err != nil {
		return err
	}

	c.Speech.Voices = voices
	c.Speech.RawVoices = nil

	c.applyDefaults()

	switch c.Speech.OnOnlineFailure {
	case FailureSkip, FailureFallbackLocal:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFailurePolicy, c.Speech.OnOnlineFailure)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Speech.Endpoint == "" {
		c.Speech.Endpoint = DefaultEndpoint
	}

	if c.Speech.SampleRate <= 0 {
		c.Speech.SampleRate = DefaultSampleRate
	}

	c.Speech.Rate = ClampRate(c.Speech.Rate)

	if c.Speech.CacheDir == "" {
		c.Speech.CacheDir = DefaultCacheDir()
	}

	if c.Speech.OnOnlineFailure == "" {
		c.Speech.OnOnlineFailure = FailureSkip
	}

	if c.LocalVoice.Binary == "" {
		c.LocalVoice.Binary = DefaultLocalBinary
	}

	if c.LocalVoice.Rate <= 0 {
		c.LocalVoice.Rate = DefaultRate
	}

	if c.LocalVoice.Volume < 0 {
		c.LocalVoice.Volume = DefaultVolume
	}

	if c.Playback.WorkerBinary == "" {
		c.Playback.WorkerBinary = DefaultWorkerBinary
	}

	if c.Playback.IdleTimeoutSeconds <= 0 {
		c.Playback.IdleTimeoutSeconds = DefaultIdleTimeoutSeconds
	}

	if c.Playback.Volume < 0 {
		c.Playback.Volume = DefaultVolume
	}

	if c.NATS.SpeakSubject == "" {
		c.NATS.SpeakSubject = DefaultSpeakSubject
	}

	if c.NATS.StopSubject == "" {
		c.NATS.StopSubject = DefaultStopSubject
	}
}

// ClampRate keeps the speaking rate within the range the provider accepts.
// Zero means unset and maps to the default.
func ClampRate(rate float64) float64 {
	switch {
	case rate == 0:
		return DefaultRate
	case rate < MinRate:
		return MinRate
	case rate > MaxRate:
		return MaxRate
	default:
		return rate
	}
}

// DefaultCacheDir returns the user cache directory for synthesized voices.
func DefaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}

	return filepath.Join(base, appDirName, voicesDirName)
}

// normalizeVoices accepts both `name = "provider-id"` and
// `name = { id = "...", language = "..." }`. A table without a language
// speaks English; an explicitly empty language is kept, since it addresses
// the cache's default language directory.
func normalizeVoices(raw map[string]any) (map[string]VoiceEntry, error) {
	voices := make(map[string]VoiceEntry, len(raw))

	for name, value := range raw {
		entry, err := normalizeVoice(value)
		if err != nil {
			return nil, fmt.Errorf("voice %q: %w", name, err)
		}

		voices[name] = entry
	}

	return voices, nil
}

func normalizeVoice(value any) (VoiceEntry, error) {
	switch typed := value.(type) {
	case string:
		return VoiceEntry{ID: typed, Language: DefaultVoiceLanguage}, nil
	case map[string]any:
		entry := VoiceEntry{Language: DefaultVoiceLanguage}

		if id, ok := typed["id"].(string); ok {
			entry.ID = id
		}

		if language, ok := typed["language"].(string); ok {
			entry.Language = strings.ToLower(language)
		}

		return entry, nil
	default:
		return VoiceEntry{}, fmt.Errorf("%w: %T", ErrInvalidVoiceEntry, value)
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	out := *c

	out.Speech.Voices = make(map[string]VoiceEntry, len(c.Speech.Voices))
	for name, entry := range c.Speech.Voices {
		out.Speech.Voices[name] = entry
	}

	out.Speech.RawVoices = nil
	out.Playback.WorkerArgs = append([]string(nil), c.Playback.WorkerArgs...)

	return &out
}

// Voice returns the named voice as a core.Voice.
func (s *SpeechConfig) Voice(name string) (core.Voice, bool) {
	entry, ok := s.Voices[name]
	if !ok {
		return core.Voice{}, false
	}

	return core.Voice{
		Name:       name,
		ProviderID: entry.ID,
		Language:   entry.Language,
		IsDefault:  name == s.DefaultVoice,
	}, true
}

// VoiceNames returns the configured voice names in sorted order.
func (s *SpeechConfig) VoiceNames() []string {
	names := make([]string, 0, len(s.Voices))
	for name := range s.Voices {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// ResolveVoice picks the requested voice, then the default voice, then the
// first configured voice. The boolean is false when no voice is configured.
func (s *SpeechConfig) ResolveVoice(requested string) (core.Voice, bool) {
	if requested != "" {
		if voice, ok := s.Voice(requested); ok {
			return voice, true
		}
	}

	if voice, ok := s.Voice(s.DefaultVoice); ok {
		return voice, true
	}

	names := s.VoiceNames()
	if len(names) == 0 {
		return core.Voice{}, false
	}

	return s.Voice(names[0])
}
