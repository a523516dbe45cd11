package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/veganmessenger/server/internal/auth"
	"github.com/veganmessenger/server/internal/chat"
	"github.com/veganmessenger/server/internal/config"
	"github.com/veganmessenger/server/internal/httpapi"
	"github.com/veganmessenger/server/internal/presence"
	"github.com/veganmessenger/server/internal/router"
	"github.com/veganmessenger/server/internal/store"
)

func main() {
	// A missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.FromEnv()

	st, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open store",
			zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer func() { _ = st.Close() }()

	registry := presence.NewRegistry()
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	sessions := auth.NewMemorySessionStore(cfg.SessionTTL)

	hub := chat.NewHub(st, registry, tokens, cfg, logger)
	go hub.Run()

	api := httpapi.New(st, registry, sessions, tokens, logger)
	r := router.New(logger)
	api.Routes(r)

	corsLayer := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-ID", "X-HTTP-Method-Override"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	// The websocket endpoint bypasses the API router: the upgrade hijacks
	// the connection, so nothing may write a response after the handler.
	mux := http.NewServeMux()
	mux.Handle("/ws", chat.NewHandler(hub, chat.NewOriginChecker(cfg.AllowedOrigins, logger), logger))
	mux.Handle("/", corsLayer.Handler(r))

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", zap.Error(err))
	}
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		logger.Error("hub shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func openStore(cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		return store.OpenSQLite(cfg.SQLitePath, logger)
	default:
		return store.OpenFile(cfg.DataDir, logger)
	}
}
