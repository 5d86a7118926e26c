package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/examforge/examforge/internal/api"
	"github.com/examforge/examforge/internal/assetstore"
	"github.com/examforge/examforge/internal/config"
	"github.com/examforge/examforge/internal/genai"
	"github.com/examforge/examforge/internal/generator"
	"github.com/examforge/examforge/internal/localizer"
	"github.com/examforge/examforge/internal/pipeline"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(log)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	client := genai.NewClient(genai.Config{
		APIKey:         cfg.GenAIAPIKey,
		BaseURL:        cfg.GenAIBaseURL,
		TextModel:      cfg.TextModel,
		VisionModel:    cfg.VisionModel,
		Timeout:        cfg.CallTimeout,
		BaseRetryDelay: cfg.BaseRetryDelay,
		MaxRetries:     cfg.MaxRetries,
	})

	store := assetstore.NewClient(cfg.AssetStoreURL, cfg.AssetStoreAPIKey)

	loc := localizer.New(client, store, log, localizer.Config{
		PageBatchSize: cfg.PageBatchSize,
		JPEGQuality:   cfg.JPEGQuality,
		Folder:        cfg.AssetFolder,
	})

	gen := generator.New(client, log, generator.Config{
		BatchSize:           cfg.GenBatchSize,
		OverGenFactor:       cfg.OverGenFactor,
		SimilarityThreshold: cfg.SimilarityThreshold,
		MaxExtraBatches:     cfg.MaxExtraBatches,
	})

	orch := pipeline.NewOrchestrator(cfg, client, loc, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch.Start(ctx)

	server := api.NewServer(orch, client, gen, log, cfg)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("examforge listening", "port", cfg.Port, "workers", cfg.WorkerCount)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}
	orch.Stop()
	client.Close()
	store.Close()
	log.Info("stopped")
}
