package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"lookbook/internal/admission"
	"lookbook/internal/events"
	"lookbook/internal/finalizer"
	"lookbook/internal/http/handlers"
	"lookbook/internal/http/httpapi"
	"lookbook/internal/infra"
	"lookbook/internal/jobs"
	"lookbook/internal/kv"
	"lookbook/internal/orchestrator"
	"lookbook/internal/pipelock"
	"lookbook/internal/providers/kling"
	"lookbook/internal/providers/suggest"
	"lookbook/internal/styling"
	"lookbook/internal/wire"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	// cancelled on SIGINT/SIGTERM; in-flight generations observe it through
	// the server base context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()
	store := kv.New(rdb, "lookbook")

	looks, closeLooks, err := wire.OpenLooks(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open looks repository")
	}
	defer closeLooks()

	blobs, err := wire.NewBlob(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure image storage")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPQueue, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect amqp")
		}
		publisher = amqpPub
	}
	defer publisher.Close()

	httpClient := &http.Client{Timeout: cfg.RemoteHTTPTimeout}

	var suggester suggest.Provider = suggest.NewStaticProvider()
	if cfg.GeminiAPIKey != "" {
		gemini, err := suggest.NewGeminiProvider(suggest.GeminiOptions{
			APIKey:     cfg.GeminiAPIKey,
			Model:      cfg.GeminiModel,
			BaseURL:    cfg.GeminiBaseURL,
			HTTPClient: httpClient,
			Fallback:   suggest.NewStaticProvider(),
			Logger:     &logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure gemini")
		}
		suggester = gemini
	} else {
		logger.Warn().Msg("GEMINI_API_KEY missing, using static style suggestions")
	}

	klingClient, err := kling.NewClient(kling.Options{
		AccessKey:      cfg.KlingAccessKey,
		SecretKey:      cfg.KlingSecretKey,
		BaseURL:        cfg.KlingBaseURL,
		HTTPClient:     httpClient,
		Logger:         &logger,
		RequestTimeout: cfg.RemoteHTTPTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure kling client")
	}
	if !klingClient.HasCredentials() {
		logger.Warn().Msg("kling credentials missing, generations will fail at submit")
	}

	orch := orchestrator.New(orchestrator.Options{
		Client:       klingClient,
		PollInterval: cfg.PollInterval,
		MaxAttempts:  cfg.PollMaxAttempts,
		Logger:       &logger,
	})

	svc := styling.NewService(styling.Options{
		Admission: admission.New(store, admission.Options{MaxJobs: cfg.MaxJobs, Logger: &logger}),
		Locks:     pipelock.New(store, pipelock.Options{TTL: cfg.LockTTL, Logger: &logger}),
		Jobs:      jobs.New(store, jobs.Options{TTL: cfg.JobTTL, Logger: &logger}),
		Looks:     looks,
		Suggester: suggester,
		Pipeline: orchestrator.NewPipeline(orch, orchestrator.PipelineOptions{
			StylizeModel: cfg.KlingStylizeModel,
			TryOnModel:   cfg.KlingTryOnModel,
		}),
		Finalizer: finalizer.New(finalizer.Options{
			Looks:  looks,
			Mirror: wire.NewMirror(cfg, blobs, &logger),
			Events: publisher,
			Logger: &logger,
		}),
		Blobs:           blobs,
		SuggestionCount: cfg.SuggestionCount,
		Logger:          &logger,
	})

	app := &handlers.App{
		Config:  cfg,
		Logger:  &logger,
		Styling: svc,
		Health:  store,
		BaseCtx: ctx,
	}
	server := infra.NewHTTPServer(ctx, cfg, httpapi.NewRouter(app))

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	// remote polls stop with ctx, so handlers finish quickly and release their
	// locks and quota slots before the deadline
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
