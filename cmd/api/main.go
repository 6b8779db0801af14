package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/threadloom/backend/internal/config"
	"github.com/threadloom/backend/internal/handler"
	"github.com/threadloom/backend/internal/service/ai"
	sessionService "github.com/threadloom/backend/internal/service/session"
	"github.com/threadloom/backend/internal/service/transcript"
	"github.com/threadloom/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	sessions, messages, closeStore, err := openStores(cfg.Store, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer closeStore()

	sessionSvc := sessionService.New(sessions, messages, logger)

	var (
		provider ai.Provider
		rec      *transcript.Reconciler
	)
	if cfg.AI.Enabled() {
		provider, err = newProvider(ctx, cfg.AI, logger)
		if err != nil {
			logger.Warn("failed to initialize AI provider; continuing without AI functionality", zap.Error(err))
		} else {
			if cfg.AI.FailureRate > 0 {
				logger.Warn("provider failure injection enabled", zap.Float64("rate", cfg.AI.FailureRate))
				provider = ai.NewFaultyProvider(provider, cfg.AI.FailureRate, cfg.AI.FailureSeed)
			}
			rec = transcript.New(sessions, messages, provider, logger)
			logger.Info("AI provider initialized", zap.String("provider", cfg.AI.Provider))
		}
	} else {
		logger.Warn("AI credentials not configured, skipping AI initialization")
	}

	router := handler.NewRouter(sessionSvc, rec, provider, logger)

	startServer(ctx, cfg.Server, router, logger)
}

func openStores(cfg config.StoreConfig, logger *zap.Logger) (store.SessionStore, store.MessageStore, func(), error) {
	if cfg.Path == "" {
		logger.Warn("DATABASE_PATH not set, using in-memory store; data will not survive restarts")
		mem := store.NewMemory()
		return mem.Sessions(), mem.Messages(), func() {}, nil
	}

	db, err := store.OpenSQLite(cfg.Path)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info("sqlite store opened", zap.String("path", cfg.Path))
	return db.Sessions(), db.Messages(), func() { db.Close() }, nil
}

func newProvider(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (ai.Provider, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return ai.NewGeminiProvider(ctx, cfg, logger)
	default:
		return ai.NewArkProvider(ctx, cfg, logger)
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("threadloom backend listening", zap.String("addr", serverCfg.Addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
