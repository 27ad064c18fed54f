package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/arenabridge/chat-bridge/internal/config"
	"github.com/arenabridge/chat-bridge/internal/hub"
)

func TestTracker_IdleForGrowsUntilTouch(t *testing.T) {
	tr := NewTracker()
	time.Sleep(10 * time.Millisecond)
	assert.GreaterOrEqual(t, tr.IdleFor(), 10*time.Millisecond)

	tr.Touch()
	assert.Less(t, tr.IdleFor(), 10*time.Millisecond)
}

func TestSupervisor_RunReturnsImmediatelyWhenDisabled(t *testing.T) {
	oldThreshold := config.IdleRestartSeconds
	config.IdleRestartSeconds = -1
	defer func() { config.IdleRestartSeconds = oldThreshold }()

	sup := NewSupervisor(NewTracker(), hub.New())

	done := make(chan struct{})
	go func() {
		sup.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return promptly when idle-restart is disabled")
	}
}

func TestSupervisor_RunDoesNotRestartBeforeThreshold(t *testing.T) {
	oldThreshold, oldPoll := config.IdleRestartSeconds, config.IdlePollIntervalSec
	config.IdleRestartSeconds = 3600
	config.IdlePollIntervalSec = 1
	defer func() {
		config.IdleRestartSeconds = oldThreshold
		config.IdlePollIntervalSec = oldPoll
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	sup := NewSupervisor(NewTracker(), hub.New())

	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop when context was cancelled")
	}
}
