package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextWakeAlignsToBoundary(t *testing.T) {
	s := NewAlignedScheduler(context.Background(), 30*time.Second, 0)

	now := time.Date(2025, 6, 2, 12, 0, 7, 0, time.UTC)
	wakeAt, wait := s.nextWake(now)
	assert.Equal(t, time.Date(2025, 6, 2, 12, 0, 30, 0, time.UTC), wakeAt)
	assert.Equal(t, 23*time.Second, wait)

	// Exactly on a boundary waits a full interval, never zero.
	now = time.Date(2025, 6, 2, 12, 0, 30, 0, time.UTC)
	wakeAt, wait = s.nextWake(now)
	assert.Equal(t, time.Date(2025, 6, 2, 12, 1, 0, 0, time.UTC), wakeAt)
	assert.Equal(t, 30*time.Second, wait)
}

func TestNextWakeAppliesOffset(t *testing.T) {
	s := NewAlignedScheduler(context.Background(), time.Minute, 5*time.Second)

	now := time.Date(2025, 6, 2, 12, 0, 50, 0, time.UTC)
	wakeAt, wait := s.nextWake(now)
	assert.Equal(t, time.Date(2025, 6, 2, 12, 1, 5, 0, time.UTC), wakeAt)
	assert.Equal(t, 15*time.Second, wait)
}

func TestStartRunImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewAlignedScheduler(ctx, time.Hour, 0)
	s.RunImmediately = true

	ran := make(chan struct{}, 1)
	go s.Start(func() {
		ran <- struct{}{}
		cancel()
	})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("immediate run never fired")
	}
}

func TestStartRejectsInvalidInterval(t *testing.T) {
	s := NewAlignedScheduler(context.Background(), 0, 0)
	done := make(chan struct{})
	go func() {
		s.Start(func() { t.Error("task must not run with a zero interval") })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return on invalid interval")
	}
}

func TestEveryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan struct{}, 16)

	done := make(chan struct{})
	go func() {
		Every(ctx, 10*time.Millisecond, func() { ran <- struct{}{} })
		close(done)
	}()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("ticker never fired")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Every did not return after cancel")
	}
}
