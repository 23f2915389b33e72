package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Entry is one cached file found by Walk.
type Entry struct {
	// Key is the slash-separated path relative to the root.
	Key  string
	Path string
	Size int64
}

// Summary totals the entries under a root.
type Summary struct {
	Entries   int
	Bytes     int64
	Languages map[string]int
	Voices    map[string]int
}

// Walk calls visit for every cache entry under root. Files without the cache
// extension, including partial writes, are skipped. A missing root has no
// entries.
func Walk(root string, visit func(Entry) error) error {
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if entry.IsDir() || !strings.HasSuffix(entry.Name(), Extension) {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("failed to stat cache entry %s: %w", path, err)
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("failed to relativize cache entry %s: %w", path, err)
		}

		return visit(Entry{Key: filepath.ToSlash(rel), Path: path, Size: info.Size()})
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return err
}

// Summarize counts entries and bytes under root, by language and voice.
func Summarize(root string) (Summary, error) {
	summary := Summary{
		Languages: make(map[string]int),
		Voices:    make(map[string]int),
	}

	err := Walk(root, func(entry Entry) error {
		summary.Entries++
		summary.Bytes += entry.Size

		parts := strings.Split(entry.Key, "/")
		if len(parts) == 3 {
			summary.Languages[parts[0]]++
			summary.Voices[parts[1]]++
		}

		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("failed to summarize cache %s: %w", root, err)
	}

	return summary, nil
}
