// Package core defines the shared types and collaborator interfaces of the
// speech notifier.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// Voice is a named mapping to a synthesis provider's voice identity plus its
// spoken language.
type Voice struct {
	Name       string
	ProviderID string
	Language   string
	IsDefault  bool
}

// Gender is the preferred gender of a locally installed voice.
type Gender string

const (
	GenderAny    Gender = ""
	GenderFemale Gender = "female"
	GenderMale   Gender = "male"
)

// LocalVoiceInfo describes a voice installed on the local machine.
type LocalVoiceInfo struct {
	Name     string
	Language string
	Gender   Gender
}

// LocalVoice is the locally installed speech engine used when online
// synthesis is disabled or unavailable.
type LocalVoice interface {
	EnumerateVoices(ctx context.Context) ([]LocalVoiceInfo, error)
	Speak(ctx context.Context, text, voiceName string, rate, volume float64) error
	Stop() error
}

// Translator looks up the display string for a localization key in a given
// language. The second result is false when no translation exists.
type Translator interface {
	Translation(dungeonID, key, language string) (string, bool)
}
