package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/book-expert/speech-notifier/internal/speech"
)

type sayOptions struct {
	language     string
	key          string
	dungeonID    string
	translations string
}

func newSayCommand(application *app) *cobra.Command {
	opts := sayOptions{}

	cmd := &cobra.Command{
		Use:     "say <text>",
		Short:   "Speak one notification and wait for it to finish",
		Example: `speech-notifier say "Stack on me" --language en`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSay(cmd, application, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Language of the text, defaults to the voice language")
	cmd.Flags().StringVar(&opts.key, "key", "", "Localization key used for cross-language lookups")
	cmd.Flags().StringVar(&opts.dungeonID, "dungeon", "", "Dungeon id used for cross-language lookups")
	cmd.Flags().StringVar(&opts.translations, "translations", "", "TOML file of translations")

	return cmd
}

func runSay(cmd *cobra.Command, application *app, opts sayOptions, text string) error {
	log, err := application.logger()
	if err != nil {
		return err
	}
	defer closeLogger(log)

	var speakerOpts []speech.Option

	if opts.translations != "" {
		translations, loadErr := speech.LoadTranslations(opts.translations)
		if loadErr != nil {
			return loadErr
		}

		speakerOpts = append(speakerOpts, speech.WithTranslator(translations))
	}

	parts, err := application.buildComponents(log, nil, nil, speakerOpts)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := parts.engine.Close()
		if closeErr != nil {
			log.Warn("Failed to close playback engine: %v", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outcome, err := parts.speaker.Play(ctx, speech.Request{
		Text:      text,
		Language:  opts.language,
		Key:       opts.key,
		DungeonID: opts.dungeonID,
	})

	fmt.Fprintln(cmd.OutOrStdout(), outcome)

	if err != nil {
		return fmt.Errorf("speech %s: %w", outcome, err)
	}

	return nil
}
