package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/spf13/cobra"

	"github.com/book-expert/speech-notifier/internal/config"
	"github.com/book-expert/speech-notifier/internal/localvoice"
	"github.com/book-expert/speech-notifier/internal/metrics"
	"github.com/book-expert/speech-notifier/internal/playback"
	"github.com/book-expert/speech-notifier/internal/speech"
	"github.com/book-expert/speech-notifier/internal/tts"
	"github.com/book-expert/speech-notifier/internal/tts/cache"
)

const (
	appName        = "speech-notifier"
	configFileName = "config.toml"
	logFileName    = "speech-notifier.log"

	logDirPermissions = 0o750
)

// app carries state shared by every subcommand.
type app struct {
	configPath   string
	fromFile     bool
	bootstrapLog *logger.Logger
	handle       *config.Handle
}

func newApp(bootstrapLog *logger.Logger) *app {
	return &app{bootstrapLog: bootstrapLog}
}

func defaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}

	return filepath.Join(base, appName, configFileName)
}

func newRootCommand(application *app) *cobra.Command {
	root := &cobra.Command{
		Use:          appName,
		Short:        "Speak notifications with cloned voices or the local voice",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return application.load()
		},
	}

	root.PersistentFlags().StringVar(&application.configPath, "config", defaultConfigPath(), "Path to the TOML configuration file")

	root.AddCommand(
		newSayCommand(application),
		newVoicesCommand(application),
		newCacheCommand(application),
		newServeCommand(application),
	)

	return root
}

// load reads the configuration file. A missing file falls back to the
// central configurator, and failing that to defaults.
func (a *app) load() error {
	cfg, err := config.LoadFile(a.configPath)
	if err == nil {
		a.fromFile = true
		a.handle = config.NewHandle(cfg)

		return nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	cfg, err = config.Load(a.bootstrapLog)
	if err != nil {
		a.bootstrapLog.Warn("No configuration at %s and configurator failed, using defaults: %v", a.configPath, err)

		cfg, err = config.Parse(nil)
		if err != nil {
			return err
		}
	}

	a.handle = config.NewHandle(cfg)

	return nil
}

// save writes the current configuration back to the config file.
func (a *app) save() error {
	return config.SaveFile(a.configPath, a.handle.Current())
}

func (a *app) logger() (*logger.Logger, error) {
	logDir := a.handle.Current().Paths.BaseLogsDir
	if logDir == "" {
		logDir = os.TempDir()
	}

	err := os.MkdirAll(logDir, logDirPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}

	return setupLogger(logDir, logFileName)
}

// components is the wired speech pipeline.
type components struct {
	engine  *playback.Engine
	speaker *speech.Speaker
}

func (a *app) buildComponents(
	log *logger.Logger,
	collector *metrics.Collector,
	genOpts []tts.GeneratorOption,
	speakerOpts []speech.Option,
) (*components, error) {
	a.recoverCachedVoices(log)

	cfg := a.handle.Current()

	synthesizer, err := tts.NewHTTPClient(cfg.Speech.Endpoint, tts.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis client: %w", err)
	}

	engine, err := playback.NewEngine(playback.Options{
		Command:     cfg.Playback.WorkerBinary,
		Args:        cfg.Playback.WorkerArgs,
		Volume:      cfg.Playback.Volume,
		IdleTimeout: time.Duration(cfg.Playback.IdleTimeoutSeconds) * time.Second,
		Metrics:     collector,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create playback engine: %w", err)
	}

	genOpts = append(genOpts, tts.WithMetrics(collector))
	generator := tts.NewGenerator(a.handle, synthesizer, log, genOpts...)

	local, err := localvoice.New(cfg.LocalVoice.Binary, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create local voice: %w", err)
	}

	speakerOpts = append(speakerOpts, speech.WithLocalVoice(local), speech.WithMetrics(collector))
	speaker := speech.NewSpeaker(a.handle, generator, engine, log, speakerOpts...)

	return &components{engine: engine, speaker: speaker}, nil
}

// recoverCachedVoices makes voices that only exist in the cache directory
// usable for this run. Declared voices win and nothing is written back.
func (a *app) recoverCachedVoices(log *logger.Logger) {
	root := a.handle.Current().Speech.CacheDir

	detected, err := cache.DetectExisting(root)
	if err != nil {
		log.Warn("Failed to scan voice cache %s: %v", root, err)

		return
	}

	added := a.handle.MergeDetectedVoices(detected)
	if added > 0 {
		log.Info("Recovered %d voice(s) from the cache at %s", added, root)
	}
}

func closeLogger(log *logger.Logger) {
	closeErr := log.Close()
	if closeErr != nil {
		fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
	}
}
