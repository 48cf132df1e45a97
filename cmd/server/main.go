package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wikiseek/internal/api"
	"wikiseek/internal/config"
	"wikiseek/internal/db"
	"wikiseek/internal/history"
	"wikiseek/internal/logging"
	"wikiseek/internal/notify"
	"wikiseek/internal/search"
	"wikiseek/internal/summary"
	"wikiseek/internal/vision"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, !cfg.LogJSON)
	for _, w := range cfg.Warnings {
		log.Warn().Msg(w)
	}

	if err := cfg.EnsureDirs(); err != nil {
		log.Fatal().Err(err).Msg("prepare data directory")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openHistory(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.HistoryBackend).Msg("open history store")
	}
	defer store.Close()

	lookup := summary.NewClient(summary.Config{
		APIBase:       cfg.WikiAPIBase,
		SearchBase:    cfg.WikiSearchBase,
		UserAgent:     "wikiseek/1.0",
		RatePerSecond: cfg.WikiRatePerSec,
		CacheSize:     cfg.WikiCacheSize,
	}, log)

	classifier := vision.NewClassifier(visionModel(cfg), log)
	go func() {
		if err := classifier.Load(ctx); err != nil {
			log.Error().Err(err).Msg("image classifier unavailable; image search disabled")
		}
	}()

	popups := notify.New(log)
	svc := search.New(search.Deps{
		Lookup:     lookup,
		Classifier: classifier,
		History:    store,
		Notifier:   popups,
		Log:        log,
	}, search.Options{
		HistoryCap:        cfg.HistoryCap,
		MinConfidence:     cfg.MinConfidence,
		Denylist:          cfg.LabelDenylist,
		PopupDismissAfter: cfg.PopupDismissAfter,
		ClassifyTimeout:   cfg.ClassifyTimeout,
	})

	server := api.NewServer(svc, popups, classifier, log, api.Options{
		HistoryBackend: cfg.HistoryBackend,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	mux := http.NewServeMux()
	mux.Handle("/api", server.Handler())
	mux.Handle("/api/", server.Handler())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown failed")
		}
	}()

	log.Info().
		Str("port", cfg.Port).
		Str("history_backend", cfg.HistoryBackend).
		Str("vision_provider", cfg.VisionProvider).
		Msg("listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}

func openHistory(ctx context.Context, cfg config.Config) (history.Store, error) {
	opts := history.Options{Retain: cfg.HistoryCap}
	switch cfg.HistoryBackend {
	case config.BackendMemory:
		return history.NewMemoryStore(opts), nil
	case config.BackendRedis:
		return history.NewRedisStore(ctx, cfg.RedisURL, cfg.RedisPrefix, opts)
	default:
		conn, err := db.Open(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		store, err := history.NewSQLiteStore(ctx, conn, opts)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return &sqliteHistory{SQLiteStore: store, closeDB: conn.Close}, nil
	}
}

// sqliteHistory closes the database together with the store.
type sqliteHistory struct {
	*history.SQLiteStore
	closeDB func() error
}

func (s *sqliteHistory) Close() error {
	return errors.Join(s.SQLiteStore.Close(), s.closeDB())
}

func visionModel(cfg config.Config) vision.Model {
	if cfg.VisionProvider == config.ProviderZAI {
		return vision.NewZAIModel(cfg.ZAIKey, cfg.ZAIBaseURL, cfg.ZAIModel)
	}
	return vision.NewOpenAIModel(cfg.OpenAIKey, cfg.OpenAIEndpoint, cfg.OpenAIModel)
}
