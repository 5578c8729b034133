package dispatch

import (
	"context"
	"time"

	"github.com/scarybot/bogamail/internal/observability"
)

// Scheduler runs ScanDue on a fixed interval.
type Scheduler struct {
	dispatcher *Dispatcher
	interval   time.Duration
}

func NewScheduler(d *Dispatcher, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{dispatcher: d, interval: interval}
}

// Run scans once immediately and then on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	log := observability.WithFields("component", "scheduler")
	log.Info("scheduler started", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.scan(ctx)

		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) scan(ctx context.Context) {
	sent, err := s.dispatcher.ScanDue(ctx, s.dispatcher.now())
	if err != nil {
		observability.Logger().Error("due scan failed", "error", err, "sent", sent)
		return
	}
	if sent > 0 {
		observability.Logger().Info("due scan sent messages", "sent", sent)
	}
}
