package speech

import (
	"fmt"
	"os"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

type translationKey struct {
	dungeonID string
	key       string
	language  string
}

// StaticTranslations is an in-memory core.Translator.
type StaticTranslations struct {
	mu      sync.RWMutex
	entries map[translationKey]string
}

// TranslationEntry is one row of a translations file.
type TranslationEntry struct {
	DungeonID string `toml:"dungeon"`
	Key       string `toml:"key"`
	Language  string `toml:"language"`
	Text      string `toml:"text"`
}

type translationsFile struct {
	Translations []TranslationEntry `toml:"translation"`
}

// NewStaticTranslations creates an empty translation table.
func NewStaticTranslations() *StaticTranslations {
	return &StaticTranslations{entries: make(map[translationKey]string)}
}

// LoadTranslations reads a TOML file of [[translation]] tables.
func LoadTranslations(path string) (*StaticTranslations, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read translations %s: %w", path, err)
	}

	var file translationsFile

	err = toml.Unmarshal(data, &file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse translations %s: %w", path, err)
	}

	translations := NewStaticTranslations()
	for _, entry := range file.Translations {
		translations.Add(entry.DungeonID, entry.Key, entry.Language, entry.Text)
	}

	return translations, nil
}

// Add registers text for key in language. The language is stored by its
// primary subtag.
func (s *StaticTranslations) Add(dungeonID, key, language, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[translationKey{dungeonID, key, PrimaryLanguage(language)}] = text
}

// Translation implements core.Translator. An entry without a dungeon id
// applies to every dungeon.
func (s *StaticTranslations) Translation(dungeonID, key, language string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	language = PrimaryLanguage(language)

	if text, ok := s.entries[translationKey{dungeonID, key, language}]; ok {
		return text, true
	}

	text, ok := s.entries[translationKey{"", key, language}]

	return text, ok
}

// Len returns the number of entries.
func (s *StaticTranslations) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}
