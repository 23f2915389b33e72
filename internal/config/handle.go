package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/book-expert/speech-notifier/internal/core"
)

var (
	// ErrVoiceNotFound indicates that the named voice is not configured.
	ErrVoiceNotFound = errors.New("voice not found")
	// ErrVoiceExists indicates that a voice with the same name is already configured.
	ErrVoiceExists = errors.New("voice already exists")
	// ErrDeleteDefaultVoice indicates an attempt to delete the active default voice.
	ErrDeleteDefaultVoice = errors.New("cannot delete the default voice")
	// ErrVoiceNameEmpty indicates an empty voice name.
	ErrVoiceNameEmpty = errors.New("voice name cannot be empty")
	// ErrProviderIDEmpty indicates an empty provider id.
	ErrProviderIDEmpty = errors.New("provider id cannot be empty")

	errNothingDetected = errors.New("no undeclared voices detected")
)

// Handle owns the process-wide configuration. Readers take a snapshot with
// Current; writers replace the whole object through Update.
type Handle struct {
	current atomic.Pointer[Config]

	// write serializes writers from the swap through notification.
	write sync.Mutex

	mu          sync.Mutex
	subscribers map[int]chan *Config
	nextID      int
}

// NewHandle wraps an initial configuration.
func NewHandle(cfg *Config) *Handle {
	handle := &Handle{subscribers: make(map[int]chan *Config)}
	handle.current.Store(cfg.Clone())

	return handle
}

// Current returns the active configuration snapshot. Callers must not mutate it.
func (h *Handle) Current() *Config {
	return h.current.Load()
}

// Replace swaps in a new configuration and notifies subscribers.
func (h *Handle) Replace(cfg *Config) {
	h.write.Lock()
	defer h.write.Unlock()

	next := cfg.Clone()
	h.current.Store(next)
	h.notify(next)
}

// Update applies mutate to a copy of the current configuration and swaps it
// in when mutate succeeds.
func (h *Handle) Update(mutate func(cfg *Config) error) error {
	h.write.Lock()
	defer h.write.Unlock()

	next := h.current.Load().Clone()

	err := mutate(next)
	if err != nil {
		return err
	}

	h.current.Store(next)
	h.notify(next)

	return nil
}

// Subscribe returns a channel that receives every new configuration. Slow
// subscribers only see the latest value. The returned function unsubscribes.
func (h *Handle) Subscribe() (<-chan *Config, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++

	updates := make(chan *Config, 1)
	h.subscribers[id] = updates

	return updates, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		if ch, ok := h.subscribers[id]; ok {
			delete(h.subscribers, id)
			close(ch)
		}
	}
}

func (h *Handle) notify(cfg *Config) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, updates := range h.subscribers {
		select {
		case <-updates:
		default:
		}

		updates <- cfg
	}
}

// Voices returns the configured voices sorted by name.
func (h *Handle) Voices() []core.Voice {
	speech := h.Current().Speech

	voices := make([]core.Voice, 0, len(speech.Voices))
	for _, name := range speech.VoiceNames() {
		voice, _ := speech.Voice(name)
		voices = append(voices, voice)
	}

	return voices
}

// AddVoice declares a new voice.
func (h *Handle) AddVoice(name, providerID, language string) error {
	if name == "" {
		return ErrVoiceNameEmpty
	}

	if providerID == "" {
		return ErrProviderIDEmpty
	}

	return h.Update(func(cfg *Config) error {
		if _, ok := cfg.Speech.Voices[name]; ok {
			return fmt.Errorf("%w: %s", ErrVoiceExists, name)
		}

		cfg.Speech.Voices[name] = newEntry(providerID, language)

		return nil
	})
}

// UpdateVoice replaces the provider id and language of an existing voice.
func (h *Handle) UpdateVoice(name, providerID, language string) error {
	if providerID == "" {
		return ErrProviderIDEmpty
	}

	return h.Update(func(cfg *Config) error {
		if _, ok := cfg.Speech.Voices[name]; !ok {
			return fmt.Errorf("%w: %s", ErrVoiceNotFound, name)
		}

		cfg.Speech.Voices[name] = newEntry(providerID, language)

		return nil
	})
}

// DeleteVoice removes a voice. The active default voice cannot be deleted.
func (h *Handle) DeleteVoice(name string) error {
	return h.Update(func(cfg *Config) error {
		if _, ok := cfg.Speech.Voices[name]; !ok {
			return fmt.Errorf("%w: %s", ErrVoiceNotFound, name)
		}

		if cfg.Speech.DefaultVoice == name {
			return fmt.Errorf("%w: %s", ErrDeleteDefaultVoice, name)
		}

		delete(cfg.Speech.Voices, name)

		return nil
	})
}

// SetDefaultVoice makes an existing voice the default.
func (h *Handle) SetDefaultVoice(name string) error {
	return h.Update(func(cfg *Config) error {
		if _, ok := cfg.Speech.Voices[name]; !ok {
			return fmt.Errorf("%w: %s", ErrVoiceNotFound, name)
		}

		cfg.Speech.DefaultVoice = name

		return nil
	})
}

// MergeDetectedVoices adds voices found in the cache directory that are not
// declared in the configuration. Declared voices always win. Nothing is
// swapped or announced when every detected voice is already declared.
func (h *Handle) MergeDetectedVoices(detected map[string]core.Voice) int {
	added := 0

	_ = h.Update(func(cfg *Config) error {
		for name, voice := range detected {
			if _, ok := cfg.Speech.Voices[name]; ok {
				continue
			}

			cfg.Speech.Voices[name] = VoiceEntry{ID: voice.ProviderID, Language: voice.Language}
			added++
		}

		if added == 0 {
			return errNothingDetected
		}

		return nil
	})

	return added
}

func newEntry(providerID, language string) VoiceEntry {
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		language = DefaultVoiceLanguage
	}

	return VoiceEntry{ID: providerID, Language: language}
}
