package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bobarin/framecast/internal/api"
	"github.com/bobarin/framecast/internal/config"
	"github.com/bobarin/framecast/internal/db"
	"github.com/bobarin/framecast/internal/logx"
	"github.com/bobarin/framecast/internal/queue"
	"github.com/bobarin/framecast/internal/services"
	"github.com/bobarin/framecast/internal/spool"
	"github.com/bobarin/framecast/internal/storage"
	"github.com/bobarin/framecast/internal/worker"
)

const (
	spoolSweepInterval = 30 * time.Minute
	spoolMaxAge        = 24 * time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logx.Component("main")
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := logx.Setup(cfg.Log)
	logger.Info().Msg("starting framecast render server")

	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()
	if err := database.Migrate(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}
	logger.Info().Msg("connected to database")

	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to queue")
	}
	defer q.Close()
	logger.Info().Msg("connected to redis queue")

	sp, err := spool.New(filepath.Join(cfg.WorkDir, "sessions"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create spool")
	}

	ffmpegSvc, err := services.NewFFmpegService(cfg.FFmpegPath, cfg.FFprobePath, filepath.Join(cfg.WorkDir, "tmp"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init ffmpeg")
	}

	// Results stay on local disk unless Supabase is configured
	var persister worker.Persister
	var signer api.URLSigner
	if cfg.PersistenceEnabled() {
		stor := storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
		persister, signer = stor, stor
		logger.Info().Str("bucket", cfg.SupabaseStorageBucket).Msg("result persistence enabled")
	}

	w := worker.New(database, q, sp, ffmpegSvc, persister)

	handler := api.NewHandler(database, q, sp, w, signer, api.Options{
		PushProgress:    cfg.PushProgress,
		ChecksumWorkers: cfg.ChecksumWorkers,
	})
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		logger.Info().Msg("API key authentication enabled")
	} else {
		logger.Warn().Msg("no BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	if cfg.WorkerEnabled {
		logger.Info().Int("concurrency", cfg.MaxConcurrentJobs).Msg("worker enabled")
		go func() {
			w.Start(bgCtx, cfg.MaxConcurrentJobs)
			close(workerDone)
		}()
	} else {
		close(workerDone)
	}
	go sweepSpool(bgCtx, sp)

	go func() {
		logger.Info().Str("port", cfg.APIPort).Msg("API server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	bgCancel()
	<-workerDone

	logger.Info().Msg("server exited")
}

func sweepSpool(ctx context.Context, sp *spool.Spool) {
	logger := logx.Component("spool")
	ticker := time.NewTicker(spoolSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sp.Sweep(spoolMaxAge)
			if err != nil {
				logger.Warn().Err(err).Msg("spool sweep failed")
				continue
			}
			if n > 0 {
				logger.Info().Int("removed", n).Msg("swept stale sessions")
			}
		}
	}
}
