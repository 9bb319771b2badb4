package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/benAliAlizadeh/mahsabot/internal/constants"
	apperrors "github.com/benAliAlizadeh/mahsabot/internal/errors"
	"github.com/benAliAlizadeh/mahsabot/internal/models"
)

// MarzbanClient talks to a Marzban panel over its JWT REST API. Accounts
// are users keyed by username; there is no inbound taxonomy to manage, the
// plan carries a proxies/inbounds blob instead.
type MarzbanClient struct {
	httpClient *resty.Client
	cfg        *models.NodeBackendConfig
	opts       Options
	logger     *logrus.Logger
}

// NewMarzbanClient creates a client for one Marzban node
func NewMarzbanClient(cfg *models.NodeBackendConfig, opts Options, logger *logrus.Logger) *MarzbanClient {
	httpClient := resty.New().
		SetTimeout(constants.RequestTimeout).
		SetTransport(newPanelTransport()).
		SetHeader("Accept", "application/json")

	return &MarzbanClient{
		httpClient: httpClient,
		cfg:        cfg,
		opts:       opts,
		logger:     logger,
	}
}

// token obtains a fresh JWT access token with a form POST
func (c *MarzbanClient) token(ctx context.Context) (string, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"username": c.cfg.Username,
			"password": c.cfg.Password,
		}).
		Post(c.cfg.BaseURL() + "/api/admin/token")

	if err != nil {
		return "", &apperrors.AuthError{PanelURL: c.cfg.BaseURL(), Cause: err}
	}

	var tok models.MarzbanToken
	if err := json.Unmarshal(resp.Body(), &tok); err != nil || tok.AccessToken == "" {
		c.logger.Errorf("Marzban login failed for %s (status %d)", c.cfg.BaseURL(), resp.StatusCode())
		return "", &apperrors.AuthError{PanelURL: c.cfg.BaseURL(), Cause: err}
	}
	return tok.AccessToken, nil
}

// request executes an authenticated JSON request and decodes the response
// into out. Marzban signals errors with 4xx/5xx plus a structured detail
// field, which may be a string or an object.
func (c *MarzbanClient) request(ctx context.Context, token, method, path, op string, body, out interface{}) error {
	req := c.httpClient.R().SetContext(ctx)
	if token != "" {
		req.SetHeader("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, c.cfg.BaseURL()+path)
	if err != nil {
		return &apperrors.RequestError{PanelURL: c.cfg.BaseURL(), Operation: op, Cause: err}
	}

	if resp.StatusCode() >= http.StatusBadRequest {
		if resp.StatusCode() == http.StatusNotFound {
			return &apperrors.NotFoundError{PanelURL: c.cfg.BaseURL(), Remark: op}
		}
		return &apperrors.RequestError{
			PanelURL:  c.cfg.BaseURL(),
			Operation: op,
			Status:    resp.StatusCode(),
			Message:   marzbanDetail(resp.Body()),
		}
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return &apperrors.RequestError{PanelURL: c.cfg.BaseURL(), Operation: op, Cause: err}
		}
	}
	return nil
}

// marzbanDetail extracts the detail field from an error body
func marzbanDetail(body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return string(body)
	}
	var s string
	if err := json.Unmarshal(envelope.Detail, &s); err == nil {
		return s
	}
	return string(envelope.Detail)
}

// getUser fetches the raw user object
func (c *MarzbanClient) getUser(ctx context.Context, token, username string) (*models.MarzbanUser, error) {
	var user models.MarzbanUser
	err := c.request(ctx, token, http.MethodGet, "/api/user/"+url.PathEscape(username), username, nil, &user)
	if err != nil {
		return nil, err
	}
	if user.Username == "" {
		return nil, &apperrors.NotFoundError{PanelURL: c.cfg.BaseURL(), Remark: username}
	}
	return &user, nil
}

// CreateAccount creates a Marzban user. The plan's custom config blob maps
// protocols to inbound tags; the caller-chosen credential is injected into
// the protocol's proxy settings so the local record stays authoritative.
func (c *MarzbanClient) CreateAccount(ctx context.Context, plan *models.Plan, name, credential string) (*CreateResult, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	planCfg, err := models.ParseMarzbanPlanConfig(plan.CustomSNI)
	if err != nil {
		return nil, &apperrors.ValidationError{Field: "plan config", Message: err.Error()}
	}

	proxy := planCfg.Proxies[plan.Protocol]
	if plan.Protocol == "trojan" {
		proxy.Password = credential
	} else {
		proxy.ID = credential
	}
	planCfg.Proxies[plan.Protocol] = proxy

	body := models.MarzbanUser{
		Username:  name,
		Proxies:   planCfg.Proxies,
		Inbounds:  planCfg.Inbounds,
		Expire:    unixExpire(plan.Days),
		DataLimit: dataLimit(plan.VolumeGB),
	}

	var created models.MarzbanUser
	if err := c.request(ctx, token, http.MethodPost, "/api/user", "create user", body, &created); err != nil {
		return nil, err
	}
	if created.Username == "" {
		return nil, &apperrors.RequestError{
			PanelURL:  c.cfg.BaseURL(),
			Operation: "create user",
			Message:   "panel returned no user object",
		}
	}

	c.logger.Infof("Created Marzban user %s on %s", name, c.cfg.BaseURL())

	result := &CreateResult{
		Credential:      firstProxyCredential(&created, credential),
		Links:           created.Links,
		SubscriptionURL: c.absoluteSubURL(created.SubscriptionURL),
	}
	if len(created.Links) > 0 {
		result.Link = created.Links[0]
	}
	return result, nil
}

// EditTraffic renews or extends quota and expiry. Marzban has no partial
// update, so the current user is fetched, mutated and written back whole.
func (c *MarzbanClient) EditTraffic(ctx context.Context, ref AccountRef, volumeGB float64, days int, mode EditMode) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	user, err := c.getUser(ctx, token, ref.Name)
	if err != nil {
		return err
	}

	if volumeGB > 0 {
		extendBytes := volumeToBytes(volumeGB)
		if mode == EditRenew {
			if err := c.resetTraffic(ctx, token, ref.Name); err != nil {
				c.logger.Warnf("Traffic reset failed for %s: %v", ref.Name, err)
			}
			user.DataLimit = &extendBytes
		} else {
			current := int64(0)
			if user.DataLimit != nil {
				current = *user.DataLimit
			}
			if current == 0 && c.opts.PreserveUnlimitedOnAdd {
				user.DataLimit = nil
			} else {
				next := current + extendBytes
				user.DataLimit = &next
			}
		}
	}

	if days > 0 {
		extendSeconds := int64(days) * constants.SecondsInDay
		now := time.Now().Unix()
		current := int64(0)
		if user.Expire != nil {
			current = *user.Expire
		}
		switch {
		case mode == EditRenew:
			next := now + extendSeconds
			user.Expire = &next
		case current == 0 && c.opts.PreserveUnlimitedOnAdd:
			user.Expire = nil
		default:
			base := current
			if now > base {
				base = now
			}
			next := base + extendSeconds
			user.Expire = &next
		}
	}

	return c.putUser(ctx, token, ref.Name, user, "active")
}

// SetEnabled flips the user status between active and disabled, keeping
// every other field intact
func (c *MarzbanClient) SetEnabled(ctx context.Context, ref AccountRef, enabled bool) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	user, err := c.getUser(ctx, token, ref.Name)
	if err != nil {
		return err
	}

	status := "disabled"
	if enabled {
		status = "active"
	}
	return c.putUser(ctx, token, ref.Name, user, status)
}

// putUser writes the full user object back with the given status
func (c *MarzbanClient) putUser(ctx context.Context, token, username string, user *models.MarzbanUser, status string) error {
	body := models.MarzbanUser{
		Username:  username,
		Proxies:   user.Proxies,
		Inbounds:  user.Inbounds,
		Expire:    normalizeUnlimited(user.Expire),
		DataLimit: normalizeUnlimited(user.DataLimit),
		Status:    status,
	}
	var updated models.MarzbanUser
	if err := c.request(ctx, token, http.MethodPut, "/api/user/"+url.PathEscape(username), "update user", body, &updated); err != nil {
		return err
	}
	if updated.Username == "" {
		return &apperrors.RequestError{
			PanelURL:  c.cfg.BaseURL(),
			Operation: "update user",
			Message:   "panel returned no user object",
		}
	}
	return nil
}

// DeleteAccount removes the user from the panel
func (c *MarzbanClient) DeleteAccount(ctx context.Context, ref AccountRef) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	return c.request(ctx, token, http.MethodDelete, "/api/user/"+url.PathEscape(ref.Name), ref.Name, nil, nil)
}

// FetchConnectionInfo returns the panel-rendered links and the absolute
// subscription URL. Marzban builds links itself from its host settings, so
// unlike X-UI nothing is assembled locally.
func (c *MarzbanClient) FetchConnectionInfo(ctx context.Context, ref AccountRef, _ *models.Plan) (*ConnectionInfo, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	user, err := c.getUser(ctx, token, ref.Name)
	if err != nil {
		return nil, err
	}
	return &ConnectionInfo{
		Links:           user.Links,
		SubscriptionURL: c.absoluteSubURL(user.SubscriptionURL),
	}, nil
}

// FetchTraffic reads usage counters. Marzban only tracks combined used
// traffic, reported here as downstream. Expiry is normalized to
// milliseconds to match the X-UI adapters.
func (c *MarzbanClient) FetchTraffic(ctx context.Context, ref AccountRef) (*TrafficStats, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	user, err := c.getUser(ctx, token, ref.Name)
	if err != nil {
		return nil, err
	}

	stats := &TrafficStats{
		Down:    user.UsedTraffic,
		Enabled: user.Status == "active",
	}
	if user.DataLimit != nil {
		stats.Total = *user.DataLimit
	}
	if user.Expire != nil {
		stats.ExpiryTime = *user.Expire * 1000
	}
	return stats, nil
}

// RotateCredential revokes the subscription token, invalidating every link
// the user has handed out. The proxy credential itself is panel-managed and
// unchanged; the refreshed value is returned for the local record.
func (c *MarzbanClient) RotateCredential(ctx context.Context, ref AccountRef) (string, error) {
	token, err := c.token(ctx)
	if err != nil {
		return "", err
	}
	path := "/api/user/" + url.PathEscape(ref.Name) + "/revoke_sub"
	if err := c.request(ctx, token, http.MethodPost, path, ref.Name, nil, nil); err != nil {
		return "", err
	}

	user, err := c.getUser(ctx, token, ref.Name)
	if err != nil {
		return "", err
	}
	c.logger.Infof("Revoked subscription for Marzban user %s", ref.Name)
	return firstProxyCredential(user, ref.Credential), nil
}

// ListAccounts enumerates every user on the panel
func (c *MarzbanClient) ListAccounts(ctx context.Context) ([]Account, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	var listing struct {
		Users []models.MarzbanUser `json:"users"`
	}
	if err := c.request(ctx, token, http.MethodGet, "/api/users", "list users", nil, &listing); err != nil {
		return nil, err
	}

	accounts := make([]Account, 0, len(listing.Users))
	for i := range listing.Users {
		u := &listing.Users[i]
		acc := Account{
			Name:       u.Username,
			Credential: firstProxyCredential(u, ""),
			Enabled:    u.Status == "active",
			Down:       u.UsedTraffic,
		}
		if u.DataLimit != nil {
			acc.Total = *u.DataLimit
		}
		if u.Expire != nil {
			acc.ExpiryTime = *u.Expire * 1000
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

// resetTraffic zeroes the user's usage counter
func (c *MarzbanClient) resetTraffic(ctx context.Context, token, username string) error {
	path := "/api/user/" + url.PathEscape(username) + "/reset"
	return c.request(ctx, token, http.MethodPost, path, username, nil, nil)
}

// absoluteSubURL turns the panel's relative subscription path into a full URL
func (c *MarzbanClient) absoluteSubURL(subPath string) string {
	if subPath == "" {
		return ""
	}
	if strings.HasPrefix(subPath, "http://") || strings.HasPrefix(subPath, "https://") {
		return subPath
	}
	return fmt.Sprintf("%s/%s", c.cfg.BaseURL(), strings.TrimLeft(subPath, "/"))
}

// firstProxyCredential returns the first proxy's UUID or password
func firstProxyCredential(user *models.MarzbanUser, fallback string) string {
	for _, proxy := range user.Proxies {
		if cred := proxy.Credential(); cred != "" {
			return cred
		}
	}
	return fallback
}

// unixExpire converts a day count to an absolute Unix timestamp pointer.
// Zero days means unlimited, encoded as null on the wire.
func unixExpire(days int) *int64 {
	if days <= 0 {
		return nil
	}
	ts := time.Now().Unix() + int64(days)*constants.SecondsInDay
	return &ts
}

// dataLimit converts gigabytes to a byte-count pointer, null for unlimited
func dataLimit(volumeGB float64) *int64 {
	if volumeGB <= 0 {
		return nil
	}
	bytes := volumeToBytes(volumeGB)
	return &bytes
}

// normalizeUnlimited maps a zero value back to null so an unlimited account
// is never accidentally written as an instantly-expired one
func normalizeUnlimited(v *int64) *int64 {
	if v == nil || *v == 0 {
		return nil
	}
	return v
}
