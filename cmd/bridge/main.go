// Command bridge runs the arena chat bridge's HTTP and duplex-socket
// server: a single process exposing an OpenAI-compatible API in front of
// a browser session.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Laisky/zap"
	_ "github.com/joho/godotenv/autoload"

	"github.com/arenabridge/chat-bridge/internal/config"
	"github.com/arenabridge/chat-bridge/internal/httpapi"
	"github.com/arenabridge/chat-bridge/internal/hub"
	"github.com/arenabridge/chat-bridge/internal/lifecycle"
	"github.com/arenabridge/chat-bridge/internal/orchestrator"
	"github.com/arenabridge/chat-bridge/internal/rotation"
	"github.com/arenabridge/chat-bridge/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadFileConfig(config.MainConfigPath()); err != nil {
		config.Logger.Fatal("failed to load JSONC config", zap.Error(err))
	}
	config.Logger.Info("arena chat bridge starting", zap.Int("port", config.ServerPort), zap.String("data_dir", config.DataDir))

	catalog, err := store.NewCatalog(filepath.Join(config.DataDir, "catalog.json"))
	if err != nil {
		config.Logger.Fatal("failed to load model catalog", zap.Error(err))
	}
	pool, err := store.NewPool(filepath.Join(config.DataDir, "credential_pool.json"))
	if err != nil {
		config.Logger.Fatal("failed to load credential pool", zap.Error(err))
	}
	keys, err := store.NewKeyRegistry(filepath.Join(config.DataDir, "api_keys.json"))
	if err != nil {
		config.Logger.Fatal("failed to load API key registry", zap.Error(err))
	}

	h := hub.New()
	engine := rotation.NewEngine()
	tracker := lifecycle.NewTracker()

	deps := &orchestrator.Deps{
		Hub:      h,
		Catalog:  catalog,
		Pool:     pool,
		Keys:     keys,
		Engine:   engine,
		Activity: tracker,
	}

	stopWatch, err := watchExternalFiles(ctx, pool)
	if err != nil {
		config.Logger.Warn("failed to start config file watcher, external edits won't hot-reload", zap.Error(err))
	} else {
		defer stopWatch()
	}

	supervisor := lifecycle.NewSupervisor(tracker, h)
	go supervisor.Run(ctx)

	router := httpapi.NewRouter(deps)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.ServerPort),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			config.Logger.Warn("error during HTTP server shutdown", zap.Error(err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		config.Logger.Fatal("HTTP server exited with error", zap.Error(err))
	}
}
