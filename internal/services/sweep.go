package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/benAliAlizadeh/mahsabot/internal/config"
	"github.com/benAliAlizadeh/mahsabot/internal/constants"
	"github.com/benAliAlizadeh/mahsabot/internal/models"
)

// SweepStore is the query surface the expiry sweep needs
type SweepStore interface {
	ListExpired(ctx context.Context, now int64, limit int) ([]*models.Subscription, error)
	ListExpiring(ctx context.Context, from, to int64, limit int) ([]*models.Subscription, error)
	ListDisabledBefore(ctx context.Context, cutoff int64, limit int) ([]*models.Subscription, error)
	UpdateStatus(ctx context.Context, id int64, status int) error
}

// ExpirySweeper reconciles local expiry state with the panels in three
// phases: disable what has expired, warn on what is about to, and
// optionally purge what has been dead long enough. Each phase only picks
// up rows still in the prior state, so repeated sweeps are idempotent.
type ExpirySweeper struct {
	store     SweepStore
	lifecycle *LifecycleManager
	notifier  Notifier
	cfg       config.SweepConfig
	logger    *logrus.Logger
}

// NewExpirySweeper wires the sweep against its store and lifecycle
func NewExpirySweeper(store SweepStore, lifecycle *LifecycleManager, notifier Notifier, cfg config.SweepConfig, logger *logrus.Logger) *ExpirySweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = constants.DefaultSweepBatchSize
	}
	return &ExpirySweeper{
		store:     store,
		lifecycle: lifecycle,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run executes the sweep on the configured interval until the context ends
func (s *ExpirySweeper) Run(ctx context.Context) {
	interval := time.Duration(s.cfg.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Infof("Expiry sweep running every %s", interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Expiry sweep stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs all three phases once
func (s *ExpirySweeper) Sweep(ctx context.Context) {
	now := time.Now().Unix()
	s.disableExpired(ctx, now)
	s.warnExpiring(ctx, now)
	if s.cfg.AutoPurge {
		s.purgeStale(ctx, now)
	}
}

// disableExpired cuts access for subscriptions past their expiry. The
// remote disable is best-effort; the local flip happens regardless so an
// unreachable panel cannot keep an expired account marked active.
func (s *ExpirySweeper) disableExpired(ctx context.Context, now int64) {
	expired, err := s.store.ListExpired(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.logger.Errorf("Expired listing failed: %v", err)
		return
	}

	for _, sub := range expired {
		if err := s.lifecycle.SetEnabled(ctx, sub.ID, false); err != nil {
			s.logger.Warnf("Remote disable failed for %s, flipping local state only: %v", sub.ConfigName, err)
			if err := s.store.UpdateStatus(ctx, sub.ID, models.StatusDisabled); err != nil {
				s.logger.Errorf("Local disable failed for subscription %d: %v", sub.ID, err)
				continue
			}
		}
		s.logger.Infof("Disabled expired subscription %d (%s)", sub.ID, sub.ConfigName)
		s.notify(ctx, fmt.Sprintf("Subscription %s expired and was disabled.", sub.ConfigName))
	}
}

// warnExpiring notifies about subscriptions entering the warning window
func (s *ExpirySweeper) warnExpiring(ctx context.Context, now int64) {
	if s.cfg.WarnDays <= 0 {
		return
	}
	to := now + int64(s.cfg.WarnDays)*constants.SecondsInDay

	expiring, err := s.store.ListExpiring(ctx, now, to, s.cfg.BatchSize)
	if err != nil {
		s.logger.Errorf("Expiring listing failed: %v", err)
		return
	}

	for _, sub := range expiring {
		daysLeft := (sub.ExpiresAt - now + constants.SecondsInDay - 1) / constants.SecondsInDay
		s.notify(ctx, fmt.Sprintf("Subscription %s expires in %d day(s).", sub.ConfigName, daysLeft))
	}
}

// purgeStale deletes subscriptions that have sat disabled past the grace
// period, freeing their remote footprint and node slots
func (s *ExpirySweeper) purgeStale(ctx context.Context, now int64) {
	cutoff := now - int64(s.cfg.PurgeDays)*constants.SecondsInDay

	stale, err := s.store.ListDisabledBefore(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		s.logger.Errorf("Purge listing failed: %v", err)
		return
	}

	for _, sub := range stale {
		if err := s.lifecycle.Delete(ctx, sub.ID); err != nil {
			s.logger.Errorf("Purge of subscription %d failed: %v", sub.ID, err)
			continue
		}
		s.notify(ctx, fmt.Sprintf("Subscription %s purged after %d day(s) disabled.", sub.ConfigName, s.cfg.PurgeDays))
	}
}

func (s *ExpirySweeper) notify(ctx context.Context, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, message); err != nil {
		s.logger.Warnf("Notification failed: %v", err)
	}
}
