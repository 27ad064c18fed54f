// Package lifecycle implements the idle/restart supervisor: it tracks
// last-activity and triggers a graceful process self-replacement after an
// idle threshold.
package lifecycle

import (
	"context"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/Laisky/zap"

	"github.com/arenabridge/chat-bridge/internal/config"
	"github.com/arenabridge/chat-bridge/internal/hub"
	"github.com/arenabridge/chat-bridge/internal/wsproto"
)

// Tracker records the timestamp of the last authenticated chat call; the
// image-generation stub does not touch it. Safe for concurrent use.
type Tracker struct {
	mu   sync.Mutex
	last time.Time
}

// NewTracker starts a Tracker with its last-activity time set to now, so
// an idle-restart threshold is measured from process start rather than
// from the zero time.
func NewTracker() *Tracker {
	return &Tracker{last: time.Now()}
}

// Touch records activity at the current time.
func (t *Tracker) Touch() {
	t.mu.Lock()
	t.last = time.Now()
	t.mu.Unlock()
}

// IdleFor returns how long it has been since the last Touch.
func (t *Tracker) IdleFor() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Since(t.last)
}

// Supervisor polls Tracker and, once the idle threshold is crossed, best-
// effort notifies the browser and replaces the process image.
type Supervisor struct {
	tracker *Tracker
	hub     *hub.Hub
}

// NewSupervisor builds a Supervisor over tracker and hub.
func NewSupervisor(tracker *Tracker, h *hub.Hub) *Supervisor {
	return &Supervisor{tracker: tracker, hub: h}
}

// Run polls every IdlePollIntervalSec until ctx is done. IdleRestartSeconds
// <= 0 disables the check entirely.
func (s *Supervisor) Run(ctx context.Context) {
	if config.IdleRestartSeconds <= 0 {
		return
	}

	interval := time.Duration(config.IdlePollIntervalSec) * time.Second
	threshold := time.Duration(config.IdleRestartSeconds) * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.tracker.IdleFor() >= threshold {
				// restart only returns if syscall.Exec itself failed; a
				// successful exec replaces this process image entirely.
				s.restart()
			}
		}
	}
}

// restart best-effort asks the browser to reconnect, waits briefly so the
// notice has a chance to be observed, then replaces the process image via
// syscall.Exec. No third-party library offers process self-replacement,
// so this is the one component that stays on the standard library by
// necessity.
func (s *Supervisor) restart() {
	config.Logger.Info("idle threshold exceeded, restarting", zap.Duration("idle_for", s.tracker.IdleFor()))

	if err := s.hub.Send(wsproto.Command{Command: wsproto.CommandReconnect}); err != nil {
		config.Logger.Warn("failed to notify browser before restart", zap.Error(err))
	}

	time.Sleep(3 * time.Second)

	argv0, err := os.Executable()
	if err != nil {
		config.Logger.Error("failed to resolve executable path for restart, giving up", zap.Error(err))
		return
	}

	if err := syscall.Exec(argv0, os.Args, os.Environ()); err != nil {
		config.Logger.Error("failed to exec self for restart", zap.Error(err))
	}
}
