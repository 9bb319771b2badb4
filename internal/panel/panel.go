// Package panel abstracts the remote control planes behind nodes. All X-UI
// variants share one adapter; Marzban gets its own. Callers never see panel
// wire formats, only the Adapter interface.
package panel

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/benAliAlizadeh/mahsabot/internal/constants"
	"github.com/benAliAlizadeh/mahsabot/internal/errors"
	"github.com/benAliAlizadeh/mahsabot/internal/models"
)

// EditMode selects how EditTraffic treats existing quota and expiry
type EditMode string

const (
	// EditRenew resets counters and starts quota and expiry from scratch
	EditRenew EditMode = "renew"
	// EditAdd stacks quota and days on top of the current values
	EditAdd EditMode = "add"
)

// AccountRef identifies a provisioned account on a panel. Name is the
// remote remark/username (the cross-system join key), Credential the UUID
// or trojan password, InboundID 0 for dedicated inbounds.
type AccountRef struct {
	Name       string
	Credential string
	InboundID  int
	Protocol   string
}

// CreateResult is the outcome of a successful account creation
type CreateResult struct {
	Credential      string
	Link            string
	Links           []string
	SubscriptionURL string
	InboundID       int
}

// ConnectionInfo carries the client-importable state of a live account
type ConnectionInfo struct {
	Links           []string
	SubscriptionURL string
}

// TrafficStats carries remote usage counters in bytes. Total 0 and
// ExpiryTime 0 mean unlimited.
type TrafficStats struct {
	Up         int64
	Down       int64
	Total      int64
	ExpiryTime int64
	Enabled    bool
}

// Account is one remote account row from ListAccounts
type Account struct {
	Name       string
	Credential string
	InboundID  int
	Enabled    bool
	ExpiryTime int64
	Up         int64
	Down       int64
	Total      int64
}

// Adapter is the uniform surface over a remote panel. Implementations
// authenticate per call; no session state is carried between operations.
type Adapter interface {
	// CreateAccount provisions a new account for the plan. The credential is
	// chosen by the caller so the local record can be written regardless of
	// what the panel echoes back.
	CreateAccount(ctx context.Context, plan *models.Plan, name, credential string) (*CreateResult, error)

	// EditTraffic renews or extends quota and expiry for an account.
	// volumeGB 0 or days 0 leaves that dimension untouched.
	EditTraffic(ctx context.Context, ref AccountRef, volumeGB float64, days int, mode EditMode) error

	// SetEnabled toggles the account on or off without touching quota
	SetEnabled(ctx context.Context, ref AccountRef, enabled bool) error

	// DeleteAccount removes the account, and for dedicated inbounds the
	// inbound itself
	DeleteAccount(ctx context.Context, ref AccountRef) error

	// FetchConnectionInfo rebuilds connection links from live remote state
	FetchConnectionInfo(ctx context.Context, ref AccountRef, plan *models.Plan) (*ConnectionInfo, error)

	// FetchTraffic reads current usage counters for an account
	FetchTraffic(ctx context.Context, ref AccountRef) (*TrafficStats, error)

	// RotateCredential replaces the account credential and returns the new one
	RotateCredential(ctx context.Context, ref AccountRef) (string, error)

	// ListAccounts enumerates every account visible on the panel
	ListAccounts(ctx context.Context) ([]Account, error)
}

// Options carries cross-cutting provisioning knobs shared by all adapters
type Options struct {
	// Ports hands out listen ports for dedicated inbounds
	Ports *PortAllocator

	// PreserveUnlimitedOnAdd keeps an unlimited account unlimited when an
	// add-on package arrives, instead of converting it to a finite quota
	PreserveUnlimitedOnAdd bool
}

// newPanelTransport dials with a bounded connect timeout, separate from
// the total request timeout, and accepts the self-signed certificates
// panels routinely run.
func newPanelTransport() *http.Transport {
	return &http.Transport{
		DialContext:     (&net.Dialer{Timeout: constants.ConnectTimeout}).DialContext,
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
}

// New returns the adapter for a node's backend configuration
func New(cfg *models.NodeBackendConfig, opts Options, logger *logrus.Logger) (Adapter, error) {
	switch cfg.Kind {
	case models.PanelSanaei, models.PanelAlireza, models.PanelVaxilu:
		return NewXUIClient(cfg, opts, logger), nil
	case models.PanelMarzban:
		return NewMarzbanClient(cfg, opts, logger), nil
	default:
		return nil, &errors.ConfigError{
			Section: "panel",
			Message: fmt.Sprintf("unknown panel kind %q", cfg.Kind),
		}
	}
}
