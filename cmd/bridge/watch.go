package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/Laisky/zap"
	"github.com/fsnotify/fsnotify"

	"github.com/arenabridge/chat-bridge/internal/config"
	"github.com/arenabridge/chat-bridge/internal/store"
)

// shutdownGrace bounds how long the HTTP server is given to drain
// in-flight requests before the process exits.
const shutdownGrace = 5 * time.Second

// watchExternalFiles starts an fsnotify watcher on DataDir and reloads the
// credential pool whenever its backing file is written by the external
// ID-capture tool, since the pool is mutated only by the rotation engine
// and by that external tool. The catalog and key registry are
// server-admin-edited far less often and are picked up on the next full
// process restart instead.
func watchExternalFiles(ctx context.Context, pool *store.Pool) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(config.DataDir); err != nil {
		watcher.Close()
		return nil, err
	}

	poolFile := filepath.Join(config.DataDir, "credential_pool.json")

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if ev.Name != poolFile {
					continue
				}
				if err := pool.Reload(); err != nil {
					config.Logger.Warn("failed to reload credential pool after external write", zap.Error(err))
				} else {
					config.Logger.Info("reloaded credential pool after external write")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				config.Logger.Warn("config file watcher error", zap.Error(err))
			}
		}
	}()

	return func() {}, nil
}
