// Package scheduler periodically refreshes member counts on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"telebridge/internal/domain"
	"telebridge/internal/feature/group"
	"telebridge/internal/logging"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Refresher is the engine operation run on every tick.
type Refresher interface {
	Refresh(ctx context.Context) (group.RefreshReport, error)
}

// Validate checks a 5-field cron expression (or @every/@hourly descriptor).
func Validate(spec string) error {
	if _, err := parser.Parse(strings.TrimSpace(spec)); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	return nil
}

// Scheduler runs a refresh on each tick, skipping ticks while the previous
// run is still in flight.
type Scheduler struct {
	mu        sync.Mutex
	cron      *cron.Cron
	spec      string
	refresher Refresher
	logger    *logrus.Entry
	running   sync.Mutex
	cancel    context.CancelFunc
}

// New validates spec and prepares a stopped scheduler.
func New(spec string, refresher Refresher, logger *logrus.Entry) (*Scheduler, error) {
	if refresher == nil {
		return nil, errors.New("refresher is required")
	}
	spec = strings.TrimSpace(spec)
	if err := Validate(spec); err != nil {
		return nil, err
	}

	return &Scheduler{
		spec:      spec,
		refresher: refresher,
		logger:    logging.OrDefault(logger).WithField("component", "scheduler"),
	}, nil
}

// Start begins firing ticks in the background.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(s.spec, func() { s.tick(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule refresh: %w", err)
	}

	s.cron = c
	s.cancel = cancel
	c.Start()

	s.logger.WithFields(logging.Fields{
		"event":    "scheduler_started",
		"schedule": s.spec,
	}).Info("refresh scheduler started")
	return nil
}

// Stop cancels in-flight work and waits for it to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return nil
	}

	s.cancel()
	done := s.cron.Stop().Done()
	s.cron = nil

	select {
	case <-done:
		s.logger.WithField("event", "scheduler_stopped").Info("refresh scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.TryLock() {
		s.logger.WithField("event", "refresh_skipped").Warn("previous refresh still running; skipping tick")
		return
	}
	defer s.running.Unlock()

	report, err := s.refresher.Refresh(ctx)
	switch {
	case errors.Is(err, domain.ErrNotConnected):
		s.logger.WithField("event", "refresh_idle").Debug("bot not connected; skipping scheduled refresh")
	case err != nil:
		s.logger.WithError(err).WithField("event", "refresh_failed").Error("scheduled refresh failed")
	default:
		s.logger.WithFields(logging.Fields{
			"event":   "refresh_scheduled",
			"total":   report.Total,
			"updated": report.Updated,
			"failed":  report.Failed,
		}).Debug("scheduled refresh completed")
	}
}
