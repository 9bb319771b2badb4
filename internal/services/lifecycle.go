// Package services holds the account lifecycle and the expiry sweep: every
// mutation that has to keep the local database and a remote panel in step
// goes through here.
package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/benAliAlizadeh/mahsabot/internal/config"
	"github.com/benAliAlizadeh/mahsabot/internal/constants"
	apperrors "github.com/benAliAlizadeh/mahsabot/internal/errors"
	"github.com/benAliAlizadeh/mahsabot/internal/helpers"
	"github.com/benAliAlizadeh/mahsabot/internal/models"
	"github.com/benAliAlizadeh/mahsabot/internal/panel"
)

// SubscriptionStore is the persistence surface the lifecycle needs
type SubscriptionStore interface {
	Create(ctx context.Context, s *models.Subscription) error
	GetByID(ctx context.Context, id int64) (*models.Subscription, error)
	GetByToken(ctx context.Context, token string) (*models.Subscription, error)
	GetByName(ctx context.Context, name string) (*models.Subscription, error)
	Update(ctx context.Context, s *models.Subscription) error
	UpdateStatus(ctx context.Context, id int64, status int) error
	Delete(ctx context.Context, id int64) error
}

// NodeStore exposes node lookups and capacity accounting
type NodeStore interface {
	GetByID(ctx context.Context, id int64) (*models.Node, error)
	GetBackend(ctx context.Context, nodeID int64) (*models.NodeBackendConfig, error)
	DecrementCapacity(ctx context.Context, nodeID int64) error
	IncrementCapacity(ctx context.Context, nodeID int64) error
}

// PlanStore exposes plan lookups
type PlanStore interface {
	GetByID(ctx context.Context, id int64) (*models.Plan, error)
}

// PanelFactory builds an adapter for a node backend. Indirected so tests can
// substitute fakes without a live panel.
type PanelFactory func(cfg *models.NodeBackendConfig) (panel.Adapter, error)

// LifecycleManager owns every account state transition. The ordering rule
// throughout: remote first, local second, so a local row never claims a
// state the panel refused.
type LifecycleManager struct {
	subs     SubscriptionStore
	nodes    NodeStore
	plans    PlanStore
	newPanel PanelFactory
	cfg      config.ProvisionConfig
	logger   *logrus.Logger
}

// NewLifecycleManager wires the lifecycle against its stores and panel factory
func NewLifecycleManager(subs SubscriptionStore, nodes NodeStore, plans PlanStore, newPanel PanelFactory, cfg config.ProvisionConfig, logger *logrus.Logger) *LifecycleManager {
	return &LifecycleManager{
		subs:     subs,
		nodes:    nodes,
		plans:    plans,
		newPanel: newPanel,
		cfg:      cfg,
		logger:   logger,
	}
}

func (m *LifecycleManager) adapterFor(ctx context.Context, nodeID int64) (panel.Adapter, error) {
	backend, err := m.nodes.GetBackend(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	return m.newPanel(backend)
}

func refFor(sub *models.Subscription) panel.AccountRef {
	return panel.AccountRef{
		Name:       sub.ConfigName,
		Credential: sub.ConfigUUID,
		InboundID:  sub.InboundID,
		Protocol:   sub.Protocol,
	}
}

// Create provisions a new account for a member. All-or-nothing: if any
// step fails the remote account is torn down and no local row survives.
func (m *LifecycleManager) Create(ctx context.Context, memberID, planID int64) (*models.Subscription, error) {
	plan, err := m.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	node, err := m.nodes.GetByID(ctx, plan.NodeID)
	if err != nil {
		return nil, err
	}
	if !node.Active || !node.State {
		return nil, &apperrors.ValidationError{Field: "node", Message: "node is not available for sales"}
	}
	if node.Full() {
		return nil, &apperrors.CapacityError{NodeID: node.ID}
	}

	adapter, err := m.adapterFor(ctx, plan.NodeID)
	if err != nil {
		return nil, err
	}

	name := helpers.GenerateConfigName(m.cfg.NamePrefix)
	credential := helpers.GenerateCredential(plan.Protocol)

	result, err := adapter.CreateAccount(ctx, plan, name, credential)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	var expiresAt int64
	if plan.Days > 0 {
		expiresAt = now + int64(plan.Days)*constants.SecondsInDay
	}

	sub := &models.Subscription{
		MemberID:    memberID,
		Token:       helpers.GenerateToken(constants.TokenLength),
		PlanID:      plan.ID,
		NodeID:      plan.NodeID,
		InboundID:   plan.InboundID,
		ConfigName:  name,
		ConfigUUID:  result.Credential,
		Protocol:    plan.Protocol,
		ExpiresAt:   expiresAt,
		ConnectLink: result.Link,
		Status:      models.StatusActive,
		RelayMode:   plan.RelayMode,
		CreatedAt:   now,
	}

	if err := m.subs.Create(ctx, sub); err != nil {
		// roll the remote account back so nothing dangles
		if delErr := adapter.DeleteAccount(ctx, refFor(sub)); delErr != nil {
			m.logger.Errorf("Rollback of remote account %s failed: %v", name, delErr)
		}
		return nil, err
	}

	if err := m.nodes.DecrementCapacity(ctx, plan.NodeID); err != nil {
		m.logger.Errorf("Capacity decrement failed for node %d: %v", plan.NodeID, err)
	}

	m.logger.Infof("Provisioned subscription %d (%s) on node %d", sub.ID, name, plan.NodeID)
	return sub, nil
}

// Renew resets quota and restarts the expiry clock from now. The remote
// write goes first; only then is the local expiry moved.
func (m *LifecycleManager) Renew(ctx context.Context, subID int64, volumeGB float64, days int) error {
	sub, err := m.subs.GetByID(ctx, subID)
	if err != nil {
		return err
	}
	adapter, err := m.adapterFor(ctx, sub.NodeID)
	if err != nil {
		return err
	}

	if err := adapter.EditTraffic(ctx, refFor(sub), volumeGB, days, panel.EditRenew); err != nil {
		return err
	}

	if days > 0 {
		sub.ExpiresAt = time.Now().Unix() + int64(days)*constants.SecondsInDay
	}
	sub.Status = models.StatusActive
	return m.subs.Update(ctx, sub)
}

// AddOn stacks quota and days on top of the current values. An expired
// account extends from now; an unbounded one follows the configured policy.
func (m *LifecycleManager) AddOn(ctx context.Context, subID int64, volumeGB float64, days int) error {
	sub, err := m.subs.GetByID(ctx, subID)
	if err != nil {
		return err
	}
	adapter, err := m.adapterFor(ctx, sub.NodeID)
	if err != nil {
		return err
	}

	if err := adapter.EditTraffic(ctx, refFor(sub), volumeGB, days, panel.EditAdd); err != nil {
		return err
	}

	if days > 0 {
		now := time.Now().Unix()
		switch {
		case sub.ExpiresAt == 0 && m.cfg.PreserveUnlimitedOnAdd:
			// stays unbounded
		default:
			base := sub.ExpiresAt
			if now > base {
				base = now
			}
			sub.ExpiresAt = base + int64(days)*constants.SecondsInDay
		}
	}
	return m.subs.Update(ctx, sub)
}

// SetEnabled toggles the account remotely and mirrors the flag locally.
// A missing remote account is tolerated so the operation stays idempotent
// after a panel-side cleanup.
func (m *LifecycleManager) SetEnabled(ctx context.Context, subID int64, enabled bool) error {
	sub, err := m.subs.GetByID(ctx, subID)
	if err != nil {
		return err
	}
	adapter, err := m.adapterFor(ctx, sub.NodeID)
	if err != nil {
		return err
	}

	if err := adapter.SetEnabled(ctx, refFor(sub), enabled); err != nil {
		if !apperrors.IsNotFound(err) {
			return err
		}
		m.logger.Warnf("Remote account %s missing during state change, updating local record only", sub.ConfigName)
	}

	status := models.StatusDisabled
	if enabled {
		status = models.StatusActive
	}
	return m.subs.UpdateStatus(ctx, sub.ID, status)
}

// Delete removes the account. The remote delete is best-effort: a panel
// that is down or already cleaned up never blocks the local removal, and
// the node slot is always handed back.
func (m *LifecycleManager) Delete(ctx context.Context, subID int64) error {
	sub, err := m.subs.GetByID(ctx, subID)
	if err != nil {
		return err
	}

	if adapter, err := m.adapterFor(ctx, sub.NodeID); err != nil {
		m.logger.Warnf("No panel adapter for node %d during delete: %v", sub.NodeID, err)
	} else if err := adapter.DeleteAccount(ctx, refFor(sub)); err != nil {
		m.logger.Warnf("Remote delete of %s failed, removing local record anyway: %v", sub.ConfigName, err)
	}

	if err := m.subs.Delete(ctx, sub.ID); err != nil {
		return err
	}
	if err := m.nodes.IncrementCapacity(ctx, sub.NodeID); err != nil {
		m.logger.Errorf("Capacity restore failed for node %d: %v", sub.NodeID, err)
	}
	m.logger.Infof("Deleted subscription %d (%s)", sub.ID, sub.ConfigName)
	return nil
}

// SwitchNode moves a subscription to another node by provisioning a fresh
// account there with the remaining lifetime, then tearing the old one down.
// Anyone with at least partial remaining time gets a minimum of one day.
func (m *LifecycleManager) SwitchNode(ctx context.Context, subID, newPlanID int64) error {
	sub, err := m.subs.GetByID(ctx, subID)
	if err != nil {
		return err
	}
	newPlan, err := m.plans.GetByID(ctx, newPlanID)
	if err != nil {
		return err
	}
	newNode, err := m.nodes.GetByID(ctx, newPlan.NodeID)
	if err != nil {
		return err
	}
	if !newNode.Active || !newNode.State {
		return &apperrors.ValidationError{Field: "node", Message: "target node is not available"}
	}
	if newNode.Full() {
		return &apperrors.CapacityError{NodeID: newNode.ID}
	}

	now := time.Now().Unix()
	remainingDays := 0
	if sub.ExpiresAt > 0 {
		if sub.ExpiresAt <= now {
			return &apperrors.ValidationError{Field: "subscription", Message: "cannot switch an expired subscription"}
		}
		remainingDays = int((sub.ExpiresAt - now) / constants.SecondsInDay)
		if remainingDays < 1 {
			remainingDays = 1
		}
	}

	newAdapter, err := m.adapterFor(ctx, newPlan.NodeID)
	if err != nil {
		return err
	}

	// carry the remaining lifetime, not the plan's full duration
	carried := *newPlan
	carried.Days = remainingDays

	name := helpers.GenerateConfigName(m.cfg.NamePrefix)
	credential := helpers.GenerateCredential(newPlan.Protocol)

	result, err := newAdapter.CreateAccount(ctx, &carried, name, credential)
	if err != nil {
		return err
	}

	// old account teardown is best-effort, the move already succeeded
	oldNodeID := sub.NodeID
	oldRef := refFor(sub)
	if oldAdapter, err := m.adapterFor(ctx, oldNodeID); err != nil {
		m.logger.Warnf("No panel adapter for old node %d: %v", oldNodeID, err)
	} else if err := oldAdapter.DeleteAccount(ctx, oldRef); err != nil {
		m.logger.Warnf("Old account %s not removed from node %d: %v", sub.ConfigName, oldNodeID, err)
	}

	sub.PlanID = newPlan.ID
	sub.NodeID = newPlan.NodeID
	sub.InboundID = newPlan.InboundID
	sub.ConfigName = name
	sub.ConfigUUID = result.Credential
	sub.Protocol = newPlan.Protocol
	sub.ConnectLink = result.Link
	sub.RelayMode = newPlan.RelayMode
	if remainingDays > 0 {
		sub.ExpiresAt = now + int64(remainingDays)*constants.SecondsInDay
	}

	if err := m.subs.Update(ctx, sub); err != nil {
		return err
	}

	if err := m.nodes.IncrementCapacity(ctx, oldNodeID); err != nil {
		m.logger.Errorf("Capacity restore failed for node %d: %v", oldNodeID, err)
	}
	if err := m.nodes.DecrementCapacity(ctx, newPlan.NodeID); err != nil {
		m.logger.Errorf("Capacity decrement failed for node %d: %v", newPlan.NodeID, err)
	}

	m.logger.Infof("Switched subscription %d to node %d (%d days carried)", sub.ID, newPlan.NodeID, remainingDays)
	return nil
}

// RotateCredential issues a fresh credential remotely and stores it along
// with regenerated links
func (m *LifecycleManager) RotateCredential(ctx context.Context, subID int64) (*models.Subscription, error) {
	sub, err := m.subs.GetByID(ctx, subID)
	if err != nil {
		return nil, err
	}
	adapter, err := m.adapterFor(ctx, sub.NodeID)
	if err != nil {
		return nil, err
	}

	newCredential, err := adapter.RotateCredential(ctx, refFor(sub))
	if err != nil {
		return nil, err
	}
	sub.ConfigUUID = newCredential

	plan, err := m.plans.GetByID(ctx, sub.PlanID)
	if err != nil {
		plan = nil // plan may have been retired; links still build from live state
	}
	if info, err := adapter.FetchConnectionInfo(ctx, refFor(sub), plan); err != nil {
		m.logger.Warnf("Link refresh after rotation failed for %s: %v", sub.ConfigName, err)
	} else if len(info.Links) > 0 {
		sub.ConnectLink = info.Links[0]
	}

	if err := m.subs.Update(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ConnectionInfo rebuilds connection links from live remote state. A
// panel-side settings change surfaces here first, so the stored link is
// refreshed whenever the rebuilt one differs.
func (m *LifecycleManager) ConnectionInfo(ctx context.Context, sub *models.Subscription) (*panel.ConnectionInfo, error) {
	adapter, err := m.adapterFor(ctx, sub.NodeID)
	if err != nil {
		return nil, err
	}
	plan, err := m.plans.GetByID(ctx, sub.PlanID)
	if err != nil {
		plan = nil
	}
	info, err := adapter.FetchConnectionInfo(ctx, refFor(sub), plan)
	if err != nil {
		return nil, err
	}
	if len(info.Links) > 0 && info.Links[0] != sub.ConnectLink {
		sub.ConnectLink = info.Links[0]
		if err := m.subs.Update(ctx, sub); err != nil {
			m.logger.Warnf("Connect link refresh for %s not persisted: %v", sub.ConfigName, err)
		}
	}
	return info, nil
}

// Traffic reads current usage counters for a subscription
func (m *LifecycleManager) Traffic(ctx context.Context, sub *models.Subscription) (*panel.TrafficStats, error) {
	adapter, err := m.adapterFor(ctx, sub.NodeID)
	if err != nil {
		return nil, err
	}
	return adapter.FetchTraffic(ctx, refFor(sub))
}
