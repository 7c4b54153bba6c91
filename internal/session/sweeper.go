package session

import (
	"context"
	"fmt"

	"github.com/raaihank/glasslm/internal/logger"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper expires idle sessions on a cron schedule
type Sweeper struct {
	cron     *cron.Cron
	store    *Store
	logger   *logger.Logger
	onExpire func(removed int)
}

// NewSweeper schedules store sweeps. schedule accepts standard cron
// expressions with optional seconds, or descriptors such as "@every 5m".
func NewSweeper(store *Store, schedule string, log *logger.Logger, onExpire func(removed int)) (*Sweeper, error) {
	if log == nil {
		log = logger.NewNop()
	}

	s := &Sweeper{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		store:    store,
		logger:   log.WithComponent("session_sweeper"),
		onExpire: onExpire,
	}

	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	return s, nil
}

// Start begins running sweeps in the background
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("Session sweeper started", zap.Int("entries", len(s.cron.Entries())))
}

// Stop halts the schedule and returns a context done once a running sweep finishes
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Sweeper) run() {
	removed := s.store.Sweep()
	if removed == 0 {
		return
	}

	s.logger.Info("Expired idle sessions",
		zap.Int("removed", removed),
		zap.Int("remaining", s.store.Len()),
	)
	if s.onExpire != nil {
		s.onExpire(removed)
	}
}
