// Package cache stores synthesized audio on disk, addressed by text, language
// and voice.
//
// The directory layout is the durable contract:
//
//	<root>/<language or "default">/<voice>/<key>.audio
//
// File existence is the only index. Changing the layout makes old entries
// unreachable; it never corrupts them.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/book-expert/speech-notifier/internal/core"
)

const (
	// Extension is the file extension of every cache entry.
	Extension = ".audio"
	// MaxKeyLength caps the sanitized key, in runes.
	MaxKeyLength = 100
	// EmptyKey replaces a key that sanitizes to nothing.
	EmptyKey = "_empty"
	// DefaultLanguageDir holds entries with no language.
	DefaultLanguageDir = "default"

	defaultDirPermissions  = 0o750
	defaultFilePermissions = 0o600
	invalidCharReplacement = '_'
	tempFilePattern        = ".partial-*"
)

var (
	// ErrRootEmpty indicates a cache constructed without a root directory.
	ErrRootEmpty = errors.New("cache root cannot be empty")
	// ErrEmptyAudio indicates an attempt to store an empty payload.
	ErrEmptyAudio = errors.New("audio data cannot be empty")
)

// VoiceCache maps (text, language, voice) to audio files under a root directory.
type VoiceCache struct {
	root string
}

// New creates a cache rooted at root. The directory is created lazily.
func New(root string) (*VoiceCache, error) {
	if root == "" {
		return nil, ErrRootEmpty
	}

	return &VoiceCache{root: root}, nil
}

// Root returns the cache root directory.
func (c *VoiceCache) Root() string {
	return c.root
}

// ResolvePath returns the file path for the entry. It performs no I/O.
func (c *VoiceCache) ResolvePath(text, language, voiceName string) string {
	return filepath.Join(c.root, filepath.FromSlash(RelativeKey(text, language, voiceName)))
}

// Has reports whether the entry exists.
func (c *VoiceCache) Has(text, language, voiceName string) bool {
	info, err := os.Stat(c.ResolvePath(text, language, voiceName))

	return err == nil && info.Mode().IsRegular()
}

// Store writes audio for the entry, creating directories as needed and
// silently replacing an existing file. The write goes through a temporary
// file so a partial write never becomes a cache hit.
func (c *VoiceCache) Store(text, language, voiceName string, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}

	target := c.ResolvePath(text, language, voiceName)
	dir := filepath.Dir(target)

	err := os.MkdirAll(dir, defaultDirPermissions)
	if err != nil {
		return "", fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}

	err = writeAtomic(dir, target, audio)
	if err != nil {
		return "", err
	}

	return target, nil
}

// DetectExisting scans root for <language>/<voice>/ directory pairs and returns
// a partial voice for each one. The provider id is left empty; a voice found
// under more than one language keeps the first language in directory order.
func DetectExisting(root string) (map[string]core.Voice, error) {
	voices := make(map[string]core.Voice)

	languages, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return voices, nil
		}

		return nil, fmt.Errorf("failed to read cache root %s: %w", root, err)
	}

	for _, languageEntry := range languages {
		if !languageEntry.IsDir() {
			continue
		}

		language := languageEntry.Name()

		voiceEntries, readErr := os.ReadDir(filepath.Join(root, language))
		if readErr != nil {
			return nil, fmt.Errorf("failed to read cache language dir %s: %w", language, readErr)
		}

		if language == DefaultLanguageDir {
			language = ""
		}

		for _, voiceEntry := range voiceEntries {
			if !voiceEntry.IsDir() {
				continue
			}

			name := voiceEntry.Name()
			if _, seen := voices[name]; seen {
				continue
			}

			voices[name] = core.Voice{Name: name, Language: language}
		}
	}

	return voices, nil
}

// RelativeKey returns the slash-separated entry path relative to the root.
// It doubles as the object name in a remote mirror.
func RelativeKey(text, language, voiceName string) string {
	languageDir := SanitizeSegment(strings.ToLower(language))
	if languageDir == EmptyKey {
		languageDir = DefaultLanguageDir
	}

	return path.Join(languageDir, SanitizeSegment(voiceName), SanitizeSegment(text)+Extension)
}

// SanitizeSegment turns arbitrary text into a single safe path segment.
// Letters, digits and '-' are kept, whitespace and '_' become '_', everything
// else is dropped. Runs of '_' collapse, and the result is capped at
// MaxKeyLength runes. Different inputs may sanitize to the same segment.
func SanitizeSegment(value string) string {
	var builder strings.Builder

	count := 0
	lastUnderscore := true

	for _, char := range value {
		if count >= MaxKeyLength {
			break
		}

		switch {
		case unicode.IsLetter(char) || unicode.IsDigit(char) || char == '-':
			builder.WriteRune(char)

			lastUnderscore = false
			count++
		case unicode.IsSpace(char) || char == invalidCharReplacement:
			if lastUnderscore {
				continue
			}

			builder.WriteRune(invalidCharReplacement)

			lastUnderscore = true
			count++
		}
	}

	result := strings.Trim(builder.String(), string(invalidCharReplacement))
	if result == "" {
		return EmptyKey
	}

	return result
}

func writeAtomic(dir, target string, data []byte) error {
	temp, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}

	tempName := temp.Name()

	_, writeErr := temp.Write(data)
	closeErr := temp.Close()

	if writeErr != nil || closeErr != nil {
		_ = os.Remove(tempName)

		return fmt.Errorf("failed to write cache file: %w", errors.Join(writeErr, closeErr))
	}

	err = os.Chmod(tempName, defaultFilePermissions)
	if err != nil {
		_ = os.Remove(tempName)

		return fmt.Errorf("failed to set cache file permissions: %w", err)
	}

	err = os.Rename(tempName, target)
	if err != nil {
		_ = os.Remove(tempName)

		return fmt.Errorf("failed to move cache file into place: %w", err)
	}

	return nil
}
