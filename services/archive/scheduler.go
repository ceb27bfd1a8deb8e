package archive

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs the archive job once a day at a fixed local time.
type Scheduler struct {
	job    *Job
	hour   int
	minute int
	loc    *time.Location
	now    func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(job *Job, hour, minute int, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{job: job, hour: hour, minute: minute, loc: loc, now: time.Now}
}

func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	zap.L().Info("[Scheduler] started archive scheduler", zap.Int("hour", s.hour), zap.Int("minute", s.minute))

	for {
		now := s.now().In(s.loc)
		next := nextRunTime(now, s.hour, s.minute)

		wait := next.Sub(now)
		zap.L().Info("[Scheduler] next archive run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			s.runDaily(ctx)
		case <-ctx.Done():
			timer.Stop()
			zap.L().Info("[Scheduler] archive scheduler stopped")
			return
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context) {
	if _, err := s.job.Run(ctx); err != nil {
		zap.L().Error("[Scheduler] daily archive run failed", zap.Error(err))
	}
}

// nextRunTime returns the next hour:minute on or after now, in now's location.
func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(next) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, hour, minute, 0, 0, now.Location())
	}
	return next
}
