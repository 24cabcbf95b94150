// Package scheduler drives periodic opportunity discovery and marketplace
// token refresh.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"giftarb/internal/config"
	"giftarb/internal/exchange"
	"giftarb/internal/model"
	"giftarb/internal/notify"
	"giftarb/internal/worker"
)

// Finder produces the current set of opportunities. An error means the poll
// was degraded and its result must not replace the stored set.
type Finder interface {
	DiscoverOpportunities(ctx context.Context) ([]model.Opportunity, error)
}

// OpportunityStore persists the latest discovery result.
type OpportunityStore interface {
	ReplaceOpportunities(ctx context.Context, opportunities []model.Opportunity) error
}

// Publisher pushes a discovery result to live subscribers.
type Publisher interface {
	Publish(opportunities []model.Opportunity)
}

// Scheduler owns the discovery loop and the auth refresh loop.
type Scheduler struct {
	logger    *slog.Logger
	finder    Finder
	store     OpportunityStore
	gateways  []exchange.Gateway
	publisher Publisher
	notifier  notify.Notifier

	// mu serialises discovery cycles so a forced run never overlaps a periodic one.
	mu sync.Mutex

	dataLoop *worker.Loop
	authLoop *worker.Loop
}

// New creates a stopped scheduler. publisher may be nil.
func New(logger *slog.Logger, cfg config.SchedulerConfig, finder Finder, store OpportunityStore, gateways []exchange.Gateway, publisher Publisher, notifier notify.Notifier) *Scheduler {
	s := &Scheduler{
		logger:    logger,
		finder:    finder,
		store:     store,
		gateways:  gateways,
		publisher: publisher,
		notifier:  notifier,
	}
	s.dataLoop = worker.NewLoop("data-update", logger, worker.Options{
		Interval:     cfg.DataUpdateInterval,
		ErrorBackoff: cfg.ErrorBackoff,
		MinSleep:     cfg.MinSleep,
	}, func(ctx context.Context) error {
		_, err := s.updateData(ctx)
		return err
	})
	s.authLoop = worker.NewLoop("auth-update", logger, worker.Options{
		Interval:     cfg.AuthUpdateInterval,
		ErrorBackoff: cfg.ErrorBackoff,
		MinSleep:     cfg.MinSleep,
	}, s.RefreshTokens)
	return s
}

// Start launches both loops. It returns false when they were already running.
func (s *Scheduler) Start(ctx context.Context) bool {
	authStarted := s.authLoop.Start(ctx)
	dataStarted := s.dataLoop.Start(ctx)
	if authStarted || dataStarted {
		s.logger.Info("Scheduler: started")
	}
	return authStarted || dataStarted
}

// Stop halts both loops and waits for running cycles to finish.
func (s *Scheduler) Stop() bool {
	dataStopped := s.dataLoop.Stop()
	authStopped := s.authLoop.Stop()
	if dataStopped || authStopped {
		s.logger.Info("Scheduler: stopped")
	}
	return dataStopped || authStopped
}

// Running reports whether the discovery loop is active.
func (s *Scheduler) Running() bool { return s.dataLoop.Running() }

// ForceUpdate runs one discovery cycle now and returns the number of
// opportunities found. A failed discovery leaves the stored set untouched and
// is returned as an error. The periodic cadence is not affected.
func (s *Scheduler) ForceUpdate(ctx context.Context) (int, error) {
	return s.updateData(ctx)
}

func (s *Scheduler) updateData(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cycleID := uuid.NewString()
	started := time.Now()
	log := s.logger.With("cycle_id", cycleID)

	opps, err := s.finder.DiscoverOpportunities(ctx)
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	if err != nil {
		log.Warn("Scheduler: discovery failed, keeping stored opportunities", "error", err)
		return 0, fmt.Errorf("discover opportunities: %w", err)
	}
	if err := s.store.ReplaceOpportunities(ctx, opps); err != nil {
		return 0, fmt.Errorf("save opportunities: %w", err)
	}
	if s.publisher != nil {
		s.publisher.Publish(opps)
	}

	log.Info("Scheduler: opportunities updated", "count", len(opps), "elapsed", time.Since(started))
	return len(opps), nil
}

// RefreshTokens refreshes the credential of every marketplace. A failure on
// one marketplace does not prevent the others from refreshing.
func (s *Scheduler) RefreshTokens(ctx context.Context) error {
	var errs []error
	for _, gw := range s.gateways {
		if err := gw.RefreshToken(ctx); err != nil {
			s.logger.Error("Scheduler: token refresh failed", "market", gw.Name(), "error", err)
			if s.notifier != nil {
				s.notifier.Alert(ctx, fmt.Sprintf("Token refresh failed for %s: %v", gw.Name(), err))
			}
			errs = append(errs, fmt.Errorf("%s: %w", gw.Name(), err))
			continue
		}
		s.logger.Info("Scheduler: token refreshed", "market", gw.Name())
	}
	return errors.Join(errs...)
}
