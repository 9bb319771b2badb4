package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/benAliAlizadeh/mahsabot/internal/config"
	"github.com/benAliAlizadeh/mahsabot/internal/constants"
	"github.com/benAliAlizadeh/mahsabot/internal/models"
)

// fakeSweepStore answers the sweep queries from the shared in-memory
// subscription store, so state changes made by one phase are visible to the
// next run, like the real repository.
type fakeSweepStore struct {
	subs        *fakeSubStore
	purgeListed bool
}

func (f *fakeSweepStore) ListExpired(_ context.Context, now int64, _ int) ([]*models.Subscription, error) {
	var out []*models.Subscription
	for _, s := range f.subs.subs {
		if s.Status == models.StatusActive && s.ExpiresAt > 0 && s.ExpiresAt < now {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeSweepStore) ListExpiring(_ context.Context, from, to int64, _ int) ([]*models.Subscription, error) {
	var out []*models.Subscription
	for _, s := range f.subs.subs {
		if s.Status == models.StatusActive && s.ExpiresAt > from && s.ExpiresAt <= to {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeSweepStore) ListDisabledBefore(_ context.Context, cutoff int64, _ int) ([]*models.Subscription, error) {
	f.purgeListed = true
	var out []*models.Subscription
	for _, s := range f.subs.subs {
		if s.Status == models.StatusDisabled && s.ExpiresAt > 0 && s.ExpiresAt < cutoff {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeSweepStore) UpdateStatus(ctx context.Context, id int64, status int) error {
	return f.subs.UpdateStatus(ctx, id, status)
}

type fakeNotifier struct {
	messages []string
}

func (f *fakeNotifier) Notify(_ context.Context, message string) error {
	f.messages = append(f.messages, message)
	return nil
}

func newSweepFixture(cfg config.SweepConfig) (*fixture, *fakeSweepStore, *fakeNotifier, *ExpirySweeper) {
	f := newFixture()
	store := &fakeSweepStore{subs: f.subs}
	notifier := &fakeNotifier{}
	sweeper := NewExpirySweeper(store, f.m, notifier, cfg, testLogger())
	return f, store, notifier, sweeper
}

func TestSweepDisablesExpired(t *testing.T) {
	f, _, notifier, sweeper := newSweepFixture(config.SweepConfig{})
	now := time.Now().Unix()

	expired := f.seedSub(&models.Subscription{
		NodeID: 1, ConfigName: "mb-exp1", ConfigUUID: "u1", Protocol: "vless",
		ExpiresAt: now - 100, Status: models.StatusActive,
	})
	healthy := f.seedSub(&models.Subscription{
		NodeID: 1, ConfigName: "mb-ok1", ConfigUUID: "u2", Protocol: "vless",
		ExpiresAt: now + 90*constants.SecondsInDay, Status: models.StatusActive,
	})

	sweeper.Sweep(context.Background())

	if f.subs.subs[expired.ID].Status != models.StatusDisabled {
		t.Error("expired subscription was not disabled")
	}
	if f.subs.subs[healthy.ID].Status != models.StatusActive {
		t.Error("healthy subscription was disabled")
	}
	if len(f.adapter.toggles) != 1 || f.adapter.toggles[0] {
		t.Errorf("remote toggles = %v, want one disable", f.adapter.toggles)
	}
	if len(notifier.messages) != 1 || !strings.Contains(notifier.messages[0], "mb-exp1") {
		t.Errorf("notifications = %v", notifier.messages)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	f, _, notifier, sweeper := newSweepFixture(config.SweepConfig{})

	f.seedSub(&models.Subscription{
		NodeID: 1, ConfigName: "mb-exp2", ConfigUUID: "u1", Protocol: "vless",
		ExpiresAt: time.Now().Unix() - 100, Status: models.StatusActive,
	})

	sweeper.Sweep(context.Background())
	sweeper.Sweep(context.Background())

	if len(f.adapter.toggles) != 1 {
		t.Errorf("remote disable ran %d times across two sweeps, want 1", len(f.adapter.toggles))
	}
	if len(notifier.messages) != 1 {
		t.Errorf("notifications = %v, want exactly one", notifier.messages)
	}
}

func TestSweepFlipsLocallyWhenRemoteFails(t *testing.T) {
	f, _, notifier, sweeper := newSweepFixture(config.SweepConfig{})
	f.adapter.setEnabledErr = errors.New("panel down")

	expired := f.seedSub(&models.Subscription{
		NodeID: 1, ConfigName: "mb-exp3", ConfigUUID: "u1", Protocol: "vless",
		ExpiresAt: time.Now().Unix() - 100, Status: models.StatusActive,
	})

	sweeper.Sweep(context.Background())

	if f.subs.subs[expired.ID].Status != models.StatusDisabled {
		t.Error("local state was not flipped after the remote disable failed")
	}
	if len(notifier.messages) != 1 {
		t.Errorf("notifications = %v", notifier.messages)
	}
}

func TestSweepWarnsInsideWindow(t *testing.T) {
	f, _, notifier, sweeper := newSweepFixture(config.SweepConfig{WarnDays: 3})
	now := time.Now().Unix()

	f.seedSub(&models.Subscription{
		NodeID: 1, ConfigName: "mb-soon1", ConfigUUID: "u1", Protocol: "vless",
		ExpiresAt: now + 2*constants.SecondsInDay + 1800, Status: models.StatusActive,
	})
	f.seedSub(&models.Subscription{
		NodeID: 1, ConfigName: "mb-far1", ConfigUUID: "u2", Protocol: "vless",
		ExpiresAt: now + 30*constants.SecondsInDay, Status: models.StatusActive,
	})

	sweeper.Sweep(context.Background())

	if len(notifier.messages) != 1 {
		t.Fatalf("notifications = %v, want one warning", notifier.messages)
	}
	if !strings.Contains(notifier.messages[0], "mb-soon1") || !strings.Contains(notifier.messages[0], "3 day(s)") {
		t.Errorf("warning = %q", notifier.messages[0])
	}
}

func TestSweepPurgeGatedByConfig(t *testing.T) {
	now := time.Now().Unix()
	stale := &models.Subscription{
		NodeID: 1, ConfigName: "mb-stale1", ConfigUUID: "u1", Protocol: "vless",
		ExpiresAt: now - 30*constants.SecondsInDay, Status: models.StatusDisabled,
	}

	t.Run("disabled purge never lists", func(t *testing.T) {
		f, store, _, sweeper := newSweepFixture(config.SweepConfig{AutoPurge: false, PurgeDays: 7})
		f.seedSub(stale)

		sweeper.Sweep(context.Background())

		if store.purgeListed {
			t.Error("purge queried the store while disabled")
		}
		if len(f.subs.deleted) != 0 {
			t.Error("purge deleted rows while disabled")
		}
	})

	t.Run("enabled purge removes stale rows", func(t *testing.T) {
		f, _, notifier, sweeper := newSweepFixture(config.SweepConfig{AutoPurge: true, PurgeDays: 7})
		seeded := f.seedSub(stale)

		sweeper.Sweep(context.Background())

		if _, ok := f.subs.subs[seeded.ID]; ok {
			t.Error("stale subscription survived the purge")
		}
		if len(f.adapter.deletes) != 1 {
			t.Errorf("remote deletes = %d, want 1", len(f.adapter.deletes))
		}
		if f.nodes.incremented[1] != 1 {
			t.Error("purge did not hand the node slot back")
		}
		found := false
		for _, msg := range notifier.messages {
			if strings.Contains(msg, "purged") {
				found = true
			}
		}
		if !found {
			t.Errorf("notifications = %v, want a purge notice", notifier.messages)
		}
	})
}
