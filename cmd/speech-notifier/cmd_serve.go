package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/book-expert/speech-notifier/internal/config"
	"github.com/book-expert/speech-notifier/internal/metrics"
	"github.com/book-expert/speech-notifier/internal/objectstore"
	"github.com/book-expert/speech-notifier/internal/speech"
	"github.com/book-expert/speech-notifier/internal/tts"
	"github.com/book-expert/speech-notifier/internal/worker"
)

const (
	metricsPath           = "/metrics"
	metricsReadTimeout    = 5 * time.Second
	metricsShutdownPeriod = 5 * time.Second
)

func newServeCommand(application *app) *cobra.Command {
	var translationsPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Speak notifications published on NATS until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), application, translationsPath)
		},
	}

	cmd.Flags().StringVar(&translationsPath, "translations", "", "TOML file of translations")

	return cmd
}

func runServe(parent context.Context, application *app, translationsPath string) error {
	log, err := application.logger()
	if err != nil {
		return err
	}
	defer closeLogger(log)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := application.handle.Current()

	natsConnection, err := nats.Connect(natsURL(cfg.NATS.URL))
	if err != nil {
		log.Error("Failed to connect to NATS: %v", err)

		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	defer func() {
		drainErr := natsConnection.Drain()
		if drainErr != nil {
			log.Warn("Failed to drain NATS connection: %v", drainErr)
		}
	}()

	collector := metrics.NewCollector()

	genOpts, err := mirrorOptions(natsConnection, cfg.NATS.CacheBucket, log)
	if err != nil {
		return err
	}

	var speakerOpts []speech.Option

	if translationsPath != "" {
		translations, loadErr := speech.LoadTranslations(translationsPath)
		if loadErr != nil {
			return loadErr
		}

		log.Info("Loaded %d translations from %s", translations.Len(), translationsPath)

		speakerOpts = append(speakerOpts, speech.WithTranslator(translations))
	}

	parts, err := application.buildComponents(log, collector, genOpts, speakerOpts)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := parts.engine.Close()
		if closeErr != nil {
			log.Warn("Failed to close playback engine: %v", closeErr)
		}
	}()

	if cfg.Metrics.ListenAddr != "" {
		shutdown := serveMetrics(cfg.Metrics.ListenAddr, collector, log)
		defer shutdown()
	}

	if application.fromFile {
		go watchConfig(ctx, application, log)
	}

	speechWorker, err := worker.NewSpeechWorker(
		natsConnection,
		cfg.NATS.SpeakSubject,
		cfg.NATS.StopSubject,
		parts.speaker,
		log,
	)
	if err != nil {
		return err
	}

	log.System("Speech notifier listening on %s", cfg.NATS.SpeakSubject)

	return speechWorker.Run(ctx)
}

func mirrorOptions(natsConnection *nats.Conn, bucket string, log *logger.Logger) ([]tts.GeneratorOption, error) {
	if bucket == "" {
		return nil, nil
	}

	jetStream, err := natsConnection.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	mirror, err := objectstore.New(jetStream, bucket)
	if err != nil {
		return nil, err
	}

	log.Info("Using cache mirror bucket %s", mirror.Bucket())

	return []tts.GeneratorOption{tts.WithMirror(mirror)}, nil
}

// serveMetrics starts the Prometheus endpoint and returns its shutdown func.
func serveMetrics(addr string, collector *metrics.Collector, log *logger.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, collector.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadTimeout,
	}

	go func() {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed: %v", err)
		}
	}()

	log.Info("Serving metrics on %s%s", addr, metricsPath)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownPeriod)
		defer cancel()

		_ = server.Shutdown(ctx)
	}
}

// watchConfig reloads the config file on change and logs what changed.
func watchConfig(ctx context.Context, application *app, log *logger.Logger) {
	updates, unsubscribe := application.handle.Subscribe()
	defer unsubscribe()

	go func() {
		err := config.Watch(ctx, application.configPath, application.handle, log)
		if err != nil {
			log.Error("Config watcher stopped: %v", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}

			log.Info(
				"Configuration applied: synthesis enabled=%t, default voice %q, %d voice(s)",
				cfg.Speech.Enabled,
				cfg.Speech.DefaultVoice,
				len(cfg.Speech.Voices),
			)

			// A reload replaces the in-memory voices recovered at startup.
			application.recoverCachedVoices(log)
		}
	}
}
