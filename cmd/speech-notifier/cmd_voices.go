package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/book-expert/speech-notifier/internal/tts/cache"
)

const (
	msgVoiceAdded    = "Added voice %s\n"
	msgVoiceUpdated  = "Updated voice %s\n"
	msgVoiceRemoved  = "Removed voice %s\n"
	msgDefaultVoice  = "Default voice is now %s\n"
	msgVoicesScanned = "Added %d voice(s) found in %s\n"
	msgNoVoices      = "No voices configured."
	defaultMarker    = "*"
)

func newVoicesCommand(application *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "voices",
		Aliases: []string{"voice"},
		Short:   "Manage cloned voices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(
		newVoicesListCommand(application),
		newVoicesAddCommand(application),
		newVoicesUpdateCommand(application),
		newVoicesRemoveCommand(application),
		newVoicesDefaultCommand(application),
		newVoicesScanCommand(application),
	)

	return cmd
}

func newVoicesListCommand(application *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured voices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			voices := application.handle.Voices()
			if len(voices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), msgNoVoices)

				return nil
			}

			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(writer, "\tNAME\tLANGUAGE\tPROVIDER ID")

			for _, voice := range voices {
				marker := ""
				if voice.IsDefault {
					marker = defaultMarker
				}

				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", marker, voice.Name, voice.Language, voice.ProviderID)
			}

			return writer.Flush()
		},
	}
}

func newVoicesAddCommand(application *app) *cobra.Command {
	var language string

	cmd := &cobra.Command{
		Use:     "add <name> <provider-id>",
		Short:   "Declare a new voice",
		Example: "speech-notifier voices add kenji 0f3c2a --language ja",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := application.handle.AddVoice(args[0], args[1], language)
			if err != nil {
				return err
			}

			return application.saveAndReport(cmd, msgVoiceAdded, args[0])
		},
	}

	cmd.Flags().StringVarP(&language, "language", "l", "", "Language the voice speaks (default en)")

	return cmd
}

func newVoicesUpdateCommand(application *app) *cobra.Command {
	var language string

	cmd := &cobra.Command{
		Use:   "update <name> <provider-id>",
		Short: "Change the provider id and language of a voice",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := application.handle.UpdateVoice(args[0], args[1], language)
			if err != nil {
				return err
			}

			return application.saveAndReport(cmd, msgVoiceUpdated, args[0])
		},
	}

	cmd.Flags().StringVarP(&language, "language", "l", "", "Language the voice speaks (default en)")

	return cmd
}

func newVoicesRemoveCommand(application *app) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a voice that is not the default",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := application.handle.DeleteVoice(args[0])
			if err != nil {
				return err
			}

			return application.saveAndReport(cmd, msgVoiceRemoved, args[0])
		},
	}
}

func newVoicesDefaultCommand(application *app) *cobra.Command {
	return &cobra.Command{
		Use:   "default <name>",
		Short: "Make a voice the default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := application.handle.SetDefaultVoice(args[0])
			if err != nil {
				return err
			}

			return application.saveAndReport(cmd, msgDefaultVoice, args[0])
		},
	}
}

func newVoicesScanCommand(application *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Add voices that exist in the cache directory but not in the config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root := application.handle.Current().Speech.CacheDir

			detected, err := cache.DetectExisting(root)
			if err != nil {
				return err
			}

			added := application.handle.MergeDetectedVoices(detected)
			if added > 0 {
				err = application.save()
				if err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), msgVoicesScanned, added, root)

			return nil
		},
	}
}

func (a *app) saveAndReport(cmd *cobra.Command, format, name string) error {
	err := a.save()
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), format, name)

	return nil
}
