package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/benAliAlizadeh/mahsabot/internal/config"
	"github.com/benAliAlizadeh/mahsabot/internal/constants"
	apperrors "github.com/benAliAlizadeh/mahsabot/internal/errors"
	"github.com/benAliAlizadeh/mahsabot/internal/models"
	"github.com/benAliAlizadeh/mahsabot/internal/panel"
	"github.com/benAliAlizadeh/mahsabot/internal/repository"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeSubStore struct {
	subs       map[int64]*models.Subscription
	nextID     int64
	failCreate bool
	deleted    []int64
	updates    int
}

func newFakeSubStore() *fakeSubStore {
	return &fakeSubStore{subs: map[int64]*models.Subscription{}, nextID: 1}
}

func (f *fakeSubStore) Create(_ context.Context, s *models.Subscription) error {
	if f.failCreate {
		return errors.New("insert failed")
	}
	s.ID = f.nextID
	f.nextID++
	cp := *s
	f.subs[s.ID] = &cp
	return nil
}

func (f *fakeSubStore) GetByID(_ context.Context, id int64) (*models.Subscription, error) {
	s, ok := f.subs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSubStore) GetByToken(_ context.Context, token string) (*models.Subscription, error) {
	for _, s := range f.subs {
		if s.Token == token {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeSubStore) GetByName(_ context.Context, name string) (*models.Subscription, error) {
	for _, s := range f.subs {
		if s.ConfigName == name {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeSubStore) Update(_ context.Context, s *models.Subscription) error {
	if _, ok := f.subs[s.ID]; !ok {
		return repository.ErrNotFound
	}
	f.updates++
	cp := *s
	f.subs[s.ID] = &cp
	return nil
}

func (f *fakeSubStore) UpdateStatus(_ context.Context, id int64, status int) error {
	s, ok := f.subs[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.Status = status
	return nil
}

func (f *fakeSubStore) Delete(_ context.Context, id int64) error {
	if _, ok := f.subs[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.subs, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeNodeStore struct {
	nodes       map[int64]*models.Node
	backends    map[int64]*models.NodeBackendConfig
	decremented map[int64]int
	incremented map[int64]int
}

func newFakeNodeStore(nodes ...*models.Node) *fakeNodeStore {
	f := &fakeNodeStore{
		nodes:       map[int64]*models.Node{},
		backends:    map[int64]*models.NodeBackendConfig{},
		decremented: map[int64]int{},
		incremented: map[int64]int{},
	}
	for _, n := range nodes {
		f.nodes[n.ID] = n
		f.backends[n.ID] = &models.NodeBackendConfig{
			NodeID:   n.ID,
			Kind:     models.PanelSanaei,
			PanelURL: fmt.Sprintf("https://node%d.example:2053", n.ID),
		}
	}
	return f
}

func (f *fakeNodeStore) GetByID(_ context.Context, id int64) (*models.Node, error) {
	n, ok := f.nodes[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return n, nil
}

func (f *fakeNodeStore) GetBackend(_ context.Context, nodeID int64) (*models.NodeBackendConfig, error) {
	b, ok := f.backends[nodeID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return b, nil
}

func (f *fakeNodeStore) DecrementCapacity(_ context.Context, nodeID int64) error {
	f.decremented[nodeID]++
	return nil
}

func (f *fakeNodeStore) IncrementCapacity(_ context.Context, nodeID int64) error {
	f.incremented[nodeID]++
	return nil
}

type fakePlanStore struct {
	plans map[int64]*models.Plan
}

func (f *fakePlanStore) GetByID(_ context.Context, id int64) (*models.Plan, error) {
	p, ok := f.plans[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

type createCall struct {
	name       string
	credential string
	days       int
}

type editCall struct {
	ref      panel.AccountRef
	volumeGB float64
	days     int
	mode     panel.EditMode
}

type fakeAdapter struct {
	creates []createCall
	edits   []editCall
	deletes []panel.AccountRef
	toggles []bool

	createErr     error
	setEnabledErr error
	deleteErr     error
	rotated       string
	links         []string
}

func (f *fakeAdapter) CreateAccount(_ context.Context, plan *models.Plan, name, credential string) (*panel.CreateResult, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.creates = append(f.creates, createCall{name: name, credential: credential, days: plan.Days})
	return &panel.CreateResult{
		Credential: credential,
		Link:       "vless://" + credential + "@node.example:443?security=tls&type=ws#" + name,
	}, nil
}

func (f *fakeAdapter) EditTraffic(_ context.Context, ref panel.AccountRef, volumeGB float64, days int, mode panel.EditMode) error {
	f.edits = append(f.edits, editCall{ref: ref, volumeGB: volumeGB, days: days, mode: mode})
	return nil
}

func (f *fakeAdapter) SetEnabled(_ context.Context, _ panel.AccountRef, enabled bool) error {
	if f.setEnabledErr != nil {
		return f.setEnabledErr
	}
	f.toggles = append(f.toggles, enabled)
	return nil
}

func (f *fakeAdapter) DeleteAccount(_ context.Context, ref panel.AccountRef) error {
	f.deletes = append(f.deletes, ref)
	return f.deleteErr
}

func (f *fakeAdapter) FetchConnectionInfo(_ context.Context, _ panel.AccountRef, _ *models.Plan) (*panel.ConnectionInfo, error) {
	return &panel.ConnectionInfo{Links: f.links}, nil
}

func (f *fakeAdapter) FetchTraffic(_ context.Context, _ panel.AccountRef) (*panel.TrafficStats, error) {
	return &panel.TrafficStats{}, nil
}

func (f *fakeAdapter) RotateCredential(_ context.Context, _ panel.AccountRef) (string, error) {
	return f.rotated, nil
}

func (f *fakeAdapter) ListAccounts(_ context.Context) ([]panel.Account, error) {
	return nil, nil
}

type fixture struct {
	subs    *fakeSubStore
	nodes   *fakeNodeStore
	plans   *fakePlanStore
	adapter *fakeAdapter
	m       *LifecycleManager
}

func newFixture(nodes ...*models.Node) *fixture {
	if len(nodes) == 0 {
		nodes = []*models.Node{{ID: 1, Active: true, State: true, Capacity: 10}}
	}
	f := &fixture{
		subs:    newFakeSubStore(),
		nodes:   newFakeNodeStore(nodes...),
		plans:   &fakePlanStore{plans: map[int64]*models.Plan{}},
		adapter: &fakeAdapter{},
	}
	factory := func(_ *models.NodeBackendConfig) (panel.Adapter, error) {
		return f.adapter, nil
	}
	f.m = NewLifecycleManager(f.subs, f.nodes, f.plans, factory, config.ProvisionConfig{NamePrefix: "mb"}, testLogger())
	return f
}

func (f *fixture) addPlan(p *models.Plan) {
	f.plans.plans[p.ID] = p
}

func (f *fixture) seedSub(s *models.Subscription) *models.Subscription {
	s.ID = f.subs.nextID
	f.subs.nextID++
	cp := *s
	f.subs.subs[s.ID] = &cp
	return s
}

func TestCreateProvisionsAccount(t *testing.T) {
	f := newFixture()
	f.addPlan(&models.Plan{ID: 1, NodeID: 1, InboundID: 5, Protocol: "vless", VolumeGB: 20, Days: 30})

	before := time.Now().Unix()
	sub, err := f.m.Create(context.Background(), 42, 1)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	after := time.Now().Unix()

	if len(f.adapter.creates) != 1 {
		t.Fatalf("remote create called %d times, want 1", len(f.adapter.creates))
	}
	if f.adapter.creates[0].days != 30 {
		t.Errorf("remote create days = %d, want 30", f.adapter.creates[0].days)
	}

	if sub.ID == 0 {
		t.Error("subscription was not persisted")
	}
	if sub.MemberID != 42 || sub.NodeID != 1 || sub.InboundID != 5 {
		t.Errorf("subscription = %+v", sub)
	}
	if sub.Token == "" {
		t.Error("subscription has no payload token")
	}
	if sub.Status != models.StatusActive {
		t.Errorf("status = %d, want active", sub.Status)
	}
	if sub.ExpiresAt < before+30*constants.SecondsInDay || sub.ExpiresAt > after+30*constants.SecondsInDay {
		t.Errorf("expiresAt = %d, want about 30 days from now", sub.ExpiresAt)
	}
	if sub.ConnectLink == "" {
		t.Error("connect link was not stored")
	}
	if f.nodes.decremented[1] != 1 {
		t.Errorf("node capacity decremented %d times, want 1", f.nodes.decremented[1])
	}
}

func TestCreateUnboundedPlanHasNoExpiry(t *testing.T) {
	f := newFixture()
	f.addPlan(&models.Plan{ID: 1, NodeID: 1, Protocol: "vless"})

	sub, err := f.m.Create(context.Background(), 42, 1)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if sub.ExpiresAt != 0 {
		t.Errorf("expiresAt = %d, want 0 for an unbounded plan", sub.ExpiresAt)
	}
}

func TestCreateRollsBackRemoteOnStoreFailure(t *testing.T) {
	f := newFixture()
	f.addPlan(&models.Plan{ID: 1, NodeID: 1, Protocol: "vless", Days: 30})
	f.subs.failCreate = true

	if _, err := f.m.Create(context.Background(), 42, 1); err == nil {
		t.Fatal("Create() succeeded despite a store failure")
	}

	if len(f.adapter.deletes) != 1 {
		t.Fatalf("rollback delete called %d times, want 1", len(f.adapter.deletes))
	}
	if f.adapter.deletes[0].Credential != f.adapter.creates[0].credential {
		t.Error("rollback targeted a different account than the one created")
	}
	if f.nodes.decremented[1] != 0 {
		t.Error("capacity was consumed for a failed provision")
	}
}

func TestCreateRejectsUnavailableNode(t *testing.T) {
	f := newFixture(&models.Node{ID: 1, Active: false, State: true})
	f.addPlan(&models.Plan{ID: 1, NodeID: 1, Protocol: "vless"})

	_, err := f.m.Create(context.Background(), 42, 1)
	var vErr *apperrors.ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("Create() error = %v, want validation error", err)
	}
	if len(f.adapter.creates) != 0 {
		t.Error("remote create was attempted on an unavailable node")
	}
}

func TestCreateRejectsFullNode(t *testing.T) {
	f := newFixture(&models.Node{ID: 1, Active: true, State: true, Capacity: -1})
	f.addPlan(&models.Plan{ID: 1, NodeID: 1, Protocol: "vless"})

	_, err := f.m.Create(context.Background(), 42, 1)
	if !apperrors.IsCapacity(err) {
		t.Errorf("Create() error = %v, want capacity error", err)
	}
}

func TestRenewRestartsExpiry(t *testing.T) {
	f := newFixture()
	sub := f.seedSub(&models.Subscription{
		NodeID: 1, ConfigName: "mb-rn1", ConfigUUID: "u1", Protocol: "vless",
		ExpiresAt: time.Now().Unix() + 90*constants.SecondsInDay,
		Status:    models.StatusDisabled,
	})

	before := time.Now().Unix()
	if err := f.m.Renew(context.Background(), sub.ID, 10, 30); err != nil {
		t.Fatalf("Renew() error = %v", err)
	}

	if len(f.adapter.edits) != 1 || f.adapter.edits[0].mode != panel.EditRenew {
		t.Fatalf("edits = %+v, want one renew", f.adapter.edits)
	}

	stored := f.subs.subs[sub.ID]
	want := before + 30*constants.SecondsInDay
	if stored.ExpiresAt < want || stored.ExpiresAt > want+5 {
		t.Errorf("expiresAt = %d, want restarted from now", stored.ExpiresAt)
	}
	if stored.Status != models.StatusActive {
		t.Error("renew did not reactivate the subscription")
	}
}

func TestAddOnStacksExpiry(t *testing.T) {
	now := time.Now().Unix()

	tests := []struct {
		name      string
		expiresAt int64
		preserve  bool
		wantFrom  int64 // expected lower bound, 0 means must stay 0
	}{
		{"stacks on a future expiry", now + 10*constants.SecondsInDay, false, now + 15*constants.SecondsInDay},
		{"expired extends from now", now - 3*constants.SecondsInDay, false, now + 5*constants.SecondsInDay},
		{"unbounded becomes bounded by default", 0, false, now + 5*constants.SecondsInDay},
		{"unbounded preserved under policy", 0, true, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.m.cfg.PreserveUnlimitedOnAdd = tc.preserve
			sub := f.seedSub(&models.Subscription{
				NodeID: 1, ConfigName: "mb-add1", ConfigUUID: "u1", Protocol: "vless",
				ExpiresAt: tc.expiresAt, Status: models.StatusActive,
			})

			if err := f.m.AddOn(context.Background(), sub.ID, 5, 5); err != nil {
				t.Fatalf("AddOn() error = %v", err)
			}
			if len(f.adapter.edits) != 1 || f.adapter.edits[0].mode != panel.EditAdd {
				t.Fatalf("edits = %+v, want one add", f.adapter.edits)
			}

			got := f.subs.subs[sub.ID].ExpiresAt
			if tc.wantFrom == 0 {
				if got != 0 {
					t.Errorf("expiresAt = %d, want unbounded preserved", got)
				}
				return
			}
			if got < tc.wantFrom || got > tc.wantFrom+5 {
				t.Errorf("expiresAt = %d, want about %d", got, tc.wantFrom)
			}
		})
	}
}

func TestSetEnabledToleratesMissingRemote(t *testing.T) {
	f := newFixture()
	sub := f.seedSub(&models.Subscription{
		NodeID: 1, ConfigName: "mb-gone1", ConfigUUID: "u1", Protocol: "vless",
		Status: models.StatusActive,
	})
	f.adapter.setEnabledErr = &apperrors.NotFoundError{PanelURL: "https://node1.example", Remark: "mb-gone1"}

	if err := f.m.SetEnabled(context.Background(), sub.ID, false); err != nil {
		t.Fatalf("SetEnabled() error = %v, want missing remote tolerated", err)
	}
	if f.subs.subs[sub.ID].Status != models.StatusDisabled {
		t.Error("local status was not flipped")
	}
}

func TestSetEnabledPropagatesRemoteFailure(t *testing.T) {
	f := newFixture()
	sub := f.seedSub(&models.Subscription{
		NodeID: 1, ConfigName: "mb-err1", ConfigUUID: "u1", Protocol: "vless",
		Status: models.StatusActive,
	})
	f.adapter.setEnabledErr = errors.New("panel down")

	if err := f.m.SetEnabled(context.Background(), sub.ID, false); err == nil {
		t.Fatal("SetEnabled() swallowed a remote failure")
	}
	if f.subs.subs[sub.ID].Status != models.StatusActive {
		t.Error("local status changed despite the remote refusing")
	}
}

func TestDeleteRestoresCapacityDespiteRemoteFailure(t *testing.T) {
	f := newFixture()
	sub := f.seedSub(&models.Subscription{
		NodeID: 1, ConfigName: "mb-del1", ConfigUUID: "u1", Protocol: "vless",
		Status: models.StatusActive,
	})
	f.adapter.deleteErr = errors.New("panel down")

	if err := f.m.Delete(context.Background(), sub.ID); err != nil {
		t.Fatalf("Delete() error = %v, want remote failure tolerated", err)
	}
	if _, ok := f.subs.subs[sub.ID]; ok {
		t.Error("local record survived the delete")
	}
	if f.nodes.incremented[1] != 1 {
		t.Errorf("capacity restored %d times, want 1", f.nodes.incremented[1])
	}
}

func TestSwitchNodeCarriesRemainingDays(t *testing.T) {
	f := newFixture(
		&models.Node{ID: 1, Active: true, State: true, Capacity: 10},
		&models.Node{ID: 2, Active: true, State: true, Capacity: 10},
	)
	f.addPlan(&models.Plan{ID: 2, NodeID: 2, InboundID: 7, Protocol: "vless", VolumeGB: 20, Days: 90})

	now := time.Now().Unix()
	sub := f.seedSub(&models.Subscription{
		NodeID: 1, PlanID: 1, ConfigName: "mb-old1", ConfigUUID: "old-cred", Protocol: "vless",
		ExpiresAt: now + 10*constants.SecondsInDay + 100,
		Status:    models.StatusActive,
	})

	if err := f.m.SwitchNode(context.Background(), sub.ID, 2); err != nil {
		t.Fatalf("SwitchNode() error = %v", err)
	}

	if len(f.adapter.creates) != 1 {
		t.Fatalf("remote create called %d times, want 1", len(f.adapter.creates))
	}
	if got := f.adapter.creates[0].days; got != 10 {
		t.Errorf("carried days = %d, want 10, not the plan's 90", got)
	}
	if len(f.adapter.deletes) != 1 || f.adapter.deletes[0].Credential != "old-cred" {
		t.Errorf("old account deletes = %+v", f.adapter.deletes)
	}

	stored := f.subs.subs[sub.ID]
	if stored.NodeID != 2 || stored.PlanID != 2 || stored.InboundID != 7 {
		t.Errorf("stored subscription = %+v", stored)
	}
	if stored.ConfigUUID == "old-cred" || stored.ConfigName == "mb-old1" {
		t.Error("switch kept the old identity")
	}
	if f.nodes.incremented[1] != 1 || f.nodes.decremented[2] != 1 {
		t.Errorf("capacity moves = +%d on old, -%d on new", f.nodes.incremented[1], f.nodes.decremented[2])
	}
}

func TestSwitchNodeMinimumOneDay(t *testing.T) {
	f := newFixture(
		&models.Node{ID: 1, Active: true, State: true},
		&models.Node{ID: 2, Active: true, State: true},
	)
	f.addPlan(&models.Plan{ID: 2, NodeID: 2, Protocol: "vless", Days: 30})

	sub := f.seedSub(&models.Subscription{
		NodeID: 1, PlanID: 1, ConfigName: "mb-short1", ConfigUUID: "c", Protocol: "vless",
		ExpiresAt: time.Now().Unix() + 3600,
		Status:    models.StatusActive,
	})

	if err := f.m.SwitchNode(context.Background(), sub.ID, 2); err != nil {
		t.Fatalf("SwitchNode() error = %v", err)
	}
	if got := f.adapter.creates[0].days; got != 1 {
		t.Errorf("carried days = %d, want the one-day floor", got)
	}
}

func TestSwitchNodeRejectsExpired(t *testing.T) {
	f := newFixture(
		&models.Node{ID: 1, Active: true, State: true},
		&models.Node{ID: 2, Active: true, State: true},
	)
	f.addPlan(&models.Plan{ID: 2, NodeID: 2, Protocol: "vless", Days: 30})

	sub := f.seedSub(&models.Subscription{
		NodeID: 1, PlanID: 1, ConfigName: "mb-exp1", ConfigUUID: "c", Protocol: "vless",
		ExpiresAt: time.Now().Unix() - 100,
		Status:    models.StatusActive,
	})

	err := f.m.SwitchNode(context.Background(), sub.ID, 2)
	var vErr *apperrors.ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("SwitchNode() error = %v, want validation error", err)
	}
	if len(f.adapter.creates) != 0 {
		t.Error("remote create was attempted for an expired subscription")
	}
}

func TestRotateCredentialUpdatesRecord(t *testing.T) {
	f := newFixture()
	f.addPlan(&models.Plan{ID: 1, NodeID: 1, Protocol: "vless"})
	sub := f.seedSub(&models.Subscription{
		NodeID: 1, PlanID: 1, ConfigName: "mb-rot1", ConfigUUID: "old-cred", Protocol: "vless",
		ConnectLink: "vless://old-cred@node.example:443#mb-rot1",
		Status:      models.StatusActive,
	})
	f.adapter.rotated = "new-cred"
	f.adapter.links = []string{"vless://new-cred@node.example:443#mb-rot1"}

	updated, err := f.m.RotateCredential(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("RotateCredential() error = %v", err)
	}
	if updated.ConfigUUID != "new-cred" {
		t.Errorf("credential = %q, want new-cred", updated.ConfigUUID)
	}
	if updated.ConnectLink != f.adapter.links[0] {
		t.Errorf("connect link = %q, want refreshed", updated.ConnectLink)
	}
	if f.subs.subs[sub.ID].ConfigUUID != "new-cred" {
		t.Error("rotation was not persisted")
	}
}

func TestConnectionInfoPersistsRefreshedLink(t *testing.T) {
	f := newFixture()
	f.addPlan(&models.Plan{ID: 1, NodeID: 1, Protocol: "vless"})
	sub := f.seedSub(&models.Subscription{
		NodeID: 1, PlanID: 1, ConfigName: "mb-ref1", ConfigUUID: "cred-1", Protocol: "vless",
		ConnectLink: "vless://cred-1@node.example:443?sni=old.example#mb-ref1",
		Status:      models.StatusActive,
	})
	f.adapter.links = []string{"vless://cred-1@node.example:443?sni=new.example#mb-ref1"}

	info, err := f.m.ConnectionInfo(context.Background(), sub)
	if err != nil {
		t.Fatalf("ConnectionInfo() error = %v", err)
	}
	if len(info.Links) != 1 || info.Links[0] != f.adapter.links[0] {
		t.Fatalf("links = %v", info.Links)
	}
	if f.subs.subs[sub.ID].ConnectLink != f.adapter.links[0] {
		t.Errorf("stored link = %q, want the rebuilt one persisted", f.subs.subs[sub.ID].ConnectLink)
	}
}

func TestConnectionInfoSkipsUpdateWhenLinkUnchanged(t *testing.T) {
	f := newFixture()
	f.addPlan(&models.Plan{ID: 1, NodeID: 1, Protocol: "vless"})
	link := "vless://cred-1@node.example:443?sni=node.example#mb-same1"
	sub := f.seedSub(&models.Subscription{
		NodeID: 1, PlanID: 1, ConfigName: "mb-same1", ConfigUUID: "cred-1", Protocol: "vless",
		ConnectLink: link,
		Status:      models.StatusActive,
	})
	f.adapter.links = []string{link}

	if _, err := f.m.ConnectionInfo(context.Background(), sub); err != nil {
		t.Fatalf("ConnectionInfo() error = %v", err)
	}
	if f.subs.updates != 0 {
		t.Errorf("store updated %d times, want 0", f.subs.updates)
	}
}
