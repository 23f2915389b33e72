package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/book-expert/speech-notifier/internal/objectstore"
	"github.com/book-expert/speech-notifier/internal/tts/audio"
	"github.com/book-expert/speech-notifier/internal/tts/cache"
)

const pushTimeout = 5 * time.Minute

// ErrNoCacheBucket indicates cache push without nats.cache_bucket.
var ErrNoCacheBucket = errors.New("nats.cache_bucket is not configured")

func newCacheCommand(application *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and share the voice cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(
		newCachePathCommand(application),
		newCacheStatsCommand(application),
		newCachePushCommand(application),
	)

	return cmd
}

func newCachePathCommand(application *app) *cobra.Command {
	var (
		language string
		voice    string
	)

	cmd := &cobra.Command{
		Use:   "path [text]",
		Short: "Print the cache root, or the entry path for text",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			speechCfg := application.handle.Current().Speech

			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), speechCfg.CacheDir)

				return nil
			}

			voiceCache, err := cache.New(speechCfg.CacheDir)
			if err != nil {
				return err
			}

			resolved, ok := speechCfg.ResolveVoice(voice)
			if !ok {
				resolved.Name = voice
			}

			if language == "" {
				language = resolved.Language
			}

			path := voiceCache.ResolvePath(args[0], language, resolved.Name)
			status := "miss"

			if voiceCache.Has(args[0], language, resolved.Name) {
				status = "hit"
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", status, path)

			return nil
		},
	}

	cmd.Flags().StringVarP(&language, "language", "l", "", "Language of the text, defaults to the voice language")
	cmd.Flags().StringVar(&voice, "voice", "", "Voice name, defaults to the default voice")

	return cmd
}

func newCacheStatsCommand(application *app) *cobra.Command {
	var withDuration bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the cached audio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root := application.handle.Current().Speech.CacheDir

			summary, err := cache.Summarize(root)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "root:    %s\n", root)
			fmt.Fprintf(out, "entries: %d\n", summary.Entries)
			fmt.Fprintf(out, "size:    %s\n", formatFileSize(summary.Bytes))

			if withDuration {
				total, unknown := totalDuration(root)
				fmt.Fprintf(out, "audio:   %s (%d unreadable)\n", formatDuration(total), unknown)
			}

			for _, language := range sortedKeys(summary.Languages) {
				fmt.Fprintf(out, "language %s: %d\n", language, summary.Languages[language])
			}

			for _, voice := range sortedKeys(summary.Voices) {
				fmt.Fprintf(out, "voice %s: %d\n", voice, summary.Voices[voice])
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&withDuration, "duration", false, "Decode every entry to total the audio length")

	return cmd
}

func newCachePushCommand(application *app) *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Upload every cached entry to the shared NATS mirror",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := application.handle.Current()
			if cfg.NATS.CacheBucket == "" {
				return ErrNoCacheBucket
			}

			natsConnection, err := nats.Connect(natsURL(cfg.NATS.URL))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer natsConnection.Close()

			jetStream, err := natsConnection.JetStream()
			if err != nil {
				return fmt.Errorf("failed to get JetStream context: %w", err)
			}

			mirror, err := objectstore.New(jetStream, cfg.NATS.CacheBucket)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), pushTimeout)
			defer cancel()

			pushed, err := pushCache(ctx, cfg.Speech.CacheDir, mirror)
			fmt.Fprintf(cmd.OutOrStdout(), "Pushed %d entries to %s\n", pushed, mirror.Bucket())

			return err
		},
	}
}

// pushCache uploads every entry under root and returns how many succeeded.
func pushCache(ctx context.Context, root string, mirror *objectstore.Mirror) (int, error) {
	pushed := 0

	err := cache.Walk(root, func(entry cache.Entry) error {
		data, err := os.ReadFile(entry.Path)
		if err != nil {
			return fmt.Errorf("failed to read cache entry %s: %w", entry.Key, err)
		}

		err = mirror.Upload(ctx, entry.Key, data)
		if err != nil {
			return err
		}

		pushed++

		return nil
	})

	return pushed, err
}

func totalDuration(root string) (time.Duration, int) {
	var (
		total   time.Duration
		unknown int
	)

	_ = cache.Walk(root, func(entry cache.Entry) error {
		duration, err := audio.FileDuration(entry.Path)
		if err != nil {
			unknown++

			return nil
		}

		total += duration

		return nil
	})

	return total, unknown
}

func sortedKeys(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

func natsURL(configured string) string {
	if configured == "" {
		return nats.DefaultURL
	}

	return configured
}
