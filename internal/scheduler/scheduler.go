package scheduler

import (
	"context"
	"time"

	"riskgate/internal/logger"
)

// AlignedScheduler fires a task on wall-clock boundaries of Interval, plus
// an optional Offset. Reviews aligned to candle closes see fresh indicator
// values instead of a half-formed bar.
type AlignedScheduler struct {
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewAlignedScheduler(ctx context.Context, interval, offset time.Duration) *AlignedScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &AlignedScheduler{
		Interval: interval,
		Offset:   offset,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

func (s *AlignedScheduler) Start(task func()) {
	if s == nil {
		return
	}
	if task == nil {
		logger.Warnf("AlignedScheduler: task is nil, exit")
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("AlignedScheduler: invalid interval=%s, exit", s.Interval)
		return
	}
	if s.Offset < 0 {
		logger.Warnf("AlignedScheduler: negative offset=%s, clamp to 0", s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("AlignedScheduler: started interval=%s offset=%s run_immediately=%v at=%s",
		s.Interval, s.Offset, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		task()
	}

	for {
		now := s.nowFn().UTC()
		wakeAt, wait := s.nextWake(now)

		logger.Debugf("AlignedScheduler: next run at %s (in %s)",
			wakeAt.Format(time.RFC3339), wait.Truncate(time.Second))

		if wait <= 0 {
			task()
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			logger.Infof("AlignedScheduler: ctx done, exit")
			return
		case <-timer.C:
		}
		task()
	}
}

func (s *AlignedScheduler) nextWake(now time.Time) (wakeAt time.Time, wait time.Duration) {
	now = now.UTC()
	wakeAt = now.Truncate(s.Interval).Add(s.Interval).Add(s.Offset)
	wait = wakeAt.Sub(now)
	return wakeAt, wait
}

// Every runs task on a plain ticker until ctx is cancelled, for cadences
// that need no boundary alignment.
func Every(ctx context.Context, interval time.Duration, task func()) {
	if interval <= 0 || task == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task()
		}
	}
}
