package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/benAliAlizadeh/mahsabot/internal/constants"
	apperrors "github.com/benAliAlizadeh/mahsabot/internal/errors"
	"github.com/benAliAlizadeh/mahsabot/internal/helpers"
	"github.com/benAliAlizadeh/mahsabot/internal/link"
	"github.com/benAliAlizadeh/mahsabot/internal/models"
)

// XUIClient talks to the X-UI panel family: sanaei (3x-ui), alireza and
// vaxilu. Every logical operation performs a fresh form login; session
// cookies are never cached, so stale-session races cannot happen.
type XUIClient struct {
	httpClient *resty.Client
	cfg        *models.NodeBackendConfig
	opts       Options
	logger     *logrus.Logger
}

// apiResponse is the uniform X-UI envelope: {"success": ..., "msg": ..., "obj": ...}
type apiResponse struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

// NewXUIClient creates a client for one X-UI node. Panels routinely run
// self-signed certificates, so TLS verification is disabled.
func NewXUIClient(cfg *models.NodeBackendConfig, opts Options, logger *logrus.Logger) *XUIClient {
	httpClient := resty.New().
		SetTimeout(constants.RequestTimeout).
		SetTransport(newPanelTransport()).
		SetHeader("Accept", "application/json, text/plain, */*").
		SetHeader("X-Requested-With", "XMLHttpRequest")

	return &XUIClient{
		httpClient: httpClient,
		cfg:        cfg,
		opts:       opts,
		logger:     logger,
	}
}

// apiPrefix returns the API path prefix: sanaei moved the panel API under
// /panel, the older variants keep /xui.
func (c *XUIClient) apiPrefix() string {
	if c.cfg.Kind == models.PanelSanaei {
		return "/panel"
	}
	return "/xui"
}

func (c *XUIClient) isSanaeiFamily() bool {
	return c.cfg.Kind == models.PanelSanaei || c.cfg.Kind == models.PanelAlireza
}

// login authenticates with a form POST and returns the session cookie
func (c *XUIClient) login(ctx context.Context) (*http.Cookie, error) {
	loginURL := c.cfg.BaseURL() + "/login"

	c.logger.Debugf("Logging in to X-UI panel at %s", c.cfg.BaseURL())

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"username": c.cfg.Username,
			"password": c.cfg.Password,
		}).
		Post(loginURL)

	if err != nil {
		return nil, &apperrors.AuthError{PanelURL: c.cfg.BaseURL(), Cause: err}
	}

	var api apiResponse
	if err := json.Unmarshal(resp.Body(), &api); err != nil {
		return nil, &apperrors.AuthError{PanelURL: c.cfg.BaseURL(), Cause: err}
	}
	if !api.Success {
		c.logger.Errorf("X-UI login failed for %s: %s", c.cfg.BaseURL(), api.Msg)
		return nil, &apperrors.AuthError{PanelURL: c.cfg.BaseURL()}
	}

	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return nil, &apperrors.AuthError{
			PanelURL: c.cfg.BaseURL(),
			Cause:    fmt.Errorf("no session cookie received"),
		}
	}
	return cookies[0], nil
}

// post executes an authenticated form POST and decodes the X-UI envelope
func (c *XUIClient) post(ctx context.Context, cookie *http.Cookie, path, op string, form map[string]string) (*apiResponse, error) {
	req := c.httpClient.R().SetContext(ctx).SetCookie(cookie)
	if form != nil {
		req.SetFormData(form)
	}

	resp, err := req.Post(c.cfg.BaseURL() + path)
	if err != nil {
		return nil, &apperrors.RequestError{PanelURL: c.cfg.BaseURL(), Operation: op, Cause: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &apperrors.RequestError{
			PanelURL:  c.cfg.BaseURL(),
			Operation: op,
			Status:    resp.StatusCode(),
			Message:   string(resp.Body()),
		}
	}

	var api apiResponse
	if err := json.Unmarshal(resp.Body(), &api); err != nil {
		return nil, &apperrors.RequestError{PanelURL: c.cfg.BaseURL(), Operation: op, Cause: err}
	}
	if !api.Success {
		return nil, &apperrors.RequestError{PanelURL: c.cfg.BaseURL(), Operation: op, Message: api.Msg}
	}
	return &api, nil
}

// listInbounds fetches the full inbound list
func (c *XUIClient) listInbounds(ctx context.Context, cookie *http.Cookie) ([]models.Inbound, error) {
	api, err := c.post(ctx, cookie, c.apiPrefix()+"/inbound/list", "list inbounds", nil)
	if err != nil {
		return nil, err
	}
	var inbounds []models.Inbound
	if err := json.Unmarshal(api.Obj, &inbounds); err != nil {
		return nil, &apperrors.RequestError{
			PanelURL:  c.cfg.BaseURL(),
			Operation: "list inbounds",
			Cause:     err,
		}
	}
	return inbounds, nil
}

// buildClient assembles the client object for create calls. sanaei and
// alireza require subId and enable; vaxilu rejects unknown fields silently,
// so one shape serves all three.
func (c *XUIClient) buildClient(plan *models.Plan, name, credential string) models.InboundClient {
	client := models.InboundClient{
		Enable:     true,
		Email:      name,
		LimitIP:    plan.LimitIP,
		TotalGB:    volumeToBytes(plan.VolumeGB),
		ExpiryTime: expiryFromDays(plan.Days),
	}
	client.SetIdentity(plan.Protocol, credential)
	if plan.Protocol != "trojan" {
		client.Flow = plan.Flow
	}
	if c.isSanaeiFamily() {
		client.SubID = helpers.GenerateSubID()
	}
	return client
}

// CreateAccount provisions an account, either inside a shared inbound or as
// a fresh dedicated inbound when the plan carries no inbound id.
func (c *XUIClient) CreateAccount(ctx context.Context, plan *models.Plan, name, credential string) (*CreateResult, error) {
	cookie, err := c.login(ctx)
	if err != nil {
		return nil, err
	}

	client := c.buildClient(plan, name, credential)
	inboundID := plan.InboundID

	switch {
	case plan.Dedicated():
		created, err := c.createDedicatedInbound(ctx, cookie, plan, client, name)
		if err != nil {
			return nil, err
		}
		inboundID = created

	case c.isSanaeiFamily():
		settings := models.InboundSettings{Clients: []models.InboundClient{client}}
		encoded, err := settings.Encode()
		if err != nil {
			return nil, err
		}
		_, err = c.post(ctx, cookie, c.apiPrefix()+"/inbound/addClient/", "add client", map[string]string{
			"id":       strconv.Itoa(plan.InboundID),
			"settings": encoded,
		})
		if err != nil {
			return nil, err
		}

	default:
		// vaxilu has no addClient endpoint: fetch, append, replace
		if err := c.vaxiluAddClient(ctx, cookie, plan.InboundID, client); err != nil {
			return nil, err
		}
	}

	c.logger.Infof("Created X-UI account %s on %s (inbound %d)", name, c.cfg.BaseURL(), inboundID)

	ref := AccountRef{Name: name, Credential: credential, InboundID: plan.InboundID, Protocol: plan.Protocol}
	info, err := c.FetchConnectionInfo(ctx, ref, plan)
	if err != nil {
		c.logger.Warnf("Account %s created but link generation failed: %v", name, err)
		return &CreateResult{Credential: credential, InboundID: inboundID}, nil
	}

	result := &CreateResult{Credential: credential, Links: info.Links, InboundID: inboundID}
	if len(info.Links) > 0 {
		result.Link = info.Links[0]
	}
	return result, nil
}

// createDedicatedInbound adds a single-client inbound and returns its id
func (c *XUIClient) createDedicatedInbound(ctx context.Context, cookie *http.Cookie, plan *models.Plan, client models.InboundClient, remark string) (int, error) {
	port := plan.CustomPort
	if port == 0 {
		if c.opts.Ports == nil {
			return 0, &apperrors.ConfigError{Section: "panel", Message: "no port allocator configured for dedicated inbounds"}
		}
		next, err := c.opts.Ports.Next()
		if err != nil {
			return 0, err
		}
		port = next
	}

	settings := models.InboundSettings{Clients: []models.InboundClient{client}}
	settingsJSON, err := settings.Encode()
	if err != nil {
		return 0, err
	}

	streamJSON, err := c.buildStreamSettings(ctx, cookie, plan)
	if err != nil {
		return 0, err
	}

	sniffing, _ := json.Marshal(map[string]interface{}{
		"enabled":      true,
		"destOverride": []string{"http", "tls", "quic"},
	})

	api, err := c.post(ctx, cookie, c.apiPrefix()+"/inbound/add", "add inbound", map[string]string{
		"up":             "0",
		"down":           "0",
		"total":          strconv.FormatInt(client.TotalGB, 10),
		"remark":         remark,
		"enable":         "true",
		"expiryTime":     strconv.FormatInt(client.ExpiryTime, 10),
		"listen":         "",
		"port":           strconv.Itoa(port),
		"protocol":       plan.Protocol,
		"settings":       settingsJSON,
		"streamSettings": streamJSON,
		"sniffing":       string(sniffing),
	})
	if err != nil {
		return 0, err
	}

	var created models.Inbound
	if err := json.Unmarshal(api.Obj, &created); err != nil {
		return 0, nil // panel accepted but returned no object; id stays unknown
	}
	return created.ID, nil
}

// buildStreamSettings renders the transport and security document for a new
// dedicated inbound from the plan's settings
func (c *XUIClient) buildStreamSettings(ctx context.Context, cookie *http.Cookie, plan *models.Plan) (string, error) {
	stream := models.StreamSettings{
		Network:  plan.Transport,
		Security: plan.Security,
	}

	switch plan.Transport {
	case "ws":
		stream.WSSettings = &models.WSSettings{
			Path:    orDefaultStr(plan.CustomPath, "/"),
			Headers: map[string]string{"Host": plan.CustomSNI},
		}
	case "grpc":
		stream.GRPCSettings = &models.GRPCSettings{
			ServiceName: plan.CustomPath,
			MultiMode:   false,
		}
	case "kcp":
		stream.KCPSettings = &models.KCPSettings{
			MTU:              1350,
			TTI:              50,
			UplinkCapacity:   5,
			DownlinkCapacity: 20,
			Congestion:       false,
			ReadBufferSize:   2,
			WriteBufferSize:  2,
			Header:           models.TypeHeader{Type: "none"},
		}
	default:
		stream.TCPSettings = &models.TCPSettings{
			Header: models.TCPHeader{Type: "none"},
		}
	}

	switch plan.Security {
	case "tls":
		stream.TLSSettings = &models.TLSSettings{
			ServerName:   plan.CustomSNI,
			ALPN:         []string{"h2", "http/1.1"},
			Certificates: []models.Certificate{{}},
		}
	case "xtls":
		stream.XTLSSettings = &models.TLSSettings{
			ServerName:   plan.CustomSNI,
			Certificates: []models.Certificate{{}},
		}
	case "reality":
		privateKey, publicKey := c.fetchRealityKeys(ctx, cookie)
		stream.RealitySettings = &models.RealitySettings{
			Show:        false,
			Dest:        plan.RealityDest,
			Xver:        0,
			ServerNames: []string{plan.RealitySNI},
			PrivateKey:  privateKey,
			ShortIDs:    []string{helpers.GenerateShortID()},
			Settings: models.RealityExtra{
				PublicKey:   publicKey,
				Fingerprint: orDefaultStr(plan.RealityFingerprint, "chrome"),
				ServerName:  plan.RealitySNI,
				SpiderX:     orDefaultStr(plan.RealitySpider, "/"),
			},
		}
	}

	data, err := json.Marshal(stream)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// fetchRealityKeys asks the panel for a fresh X25519 keypair. A failure is
// not fatal: the inbound is still created and the operator can fill the keys
// in by hand.
func (c *XUIClient) fetchRealityKeys(ctx context.Context, cookie *http.Cookie) (privateKey, publicKey string) {
	api, err := c.post(ctx, cookie, "/server/getNewX25519Cert", "get x25519 cert", nil)
	if err != nil {
		c.logger.Warnf("Failed to fetch X25519 keypair from %s: %v", c.cfg.BaseURL(), err)
		return "", ""
	}
	var keys struct {
		PrivateKey string `json:"privateKey"`
		PublicKey  string `json:"publicKey"`
	}
	if err := json.Unmarshal(api.Obj, &keys); err != nil {
		return "", ""
	}
	return keys.PrivateKey, keys.PublicKey
}

// vaxiluAddClient appends a client by replacing the whole inbound
func (c *XUIClient) vaxiluAddClient(ctx context.Context, cookie *http.Cookie, inboundID int, client models.InboundClient) error {
	inbounds, err := c.listInbounds(ctx, cookie)
	if err != nil {
		return err
	}

	var inbound *models.Inbound
	for i := range inbounds {
		if inbounds[i].ID == inboundID {
			inbound = &inbounds[i]
			break
		}
	}
	if inbound == nil {
		return &apperrors.NotFoundError{PanelURL: c.cfg.BaseURL(), Remark: fmt.Sprintf("inbound %d", inboundID)}
	}

	settings, err := inbound.ParseSettings()
	if err != nil {
		return err
	}
	settings.Clients = append(settings.Clients, client)
	encoded, err := settings.Encode()
	if err != nil {
		return err
	}
	inbound.Settings = encoded

	return c.updateInbound(ctx, cookie, inbound, true)
}

// updateInbound pushes a full inbound replace, the only write primitive the
// vaxilu variant supports
func (c *XUIClient) updateInbound(ctx context.Context, cookie *http.Cookie, in *models.Inbound, enable bool) error {
	_, err := c.post(ctx, cookie, fmt.Sprintf("%s/inbound/update/%d", c.apiPrefix(), in.ID), "update inbound", map[string]string{
		"up":             strconv.FormatInt(in.Up, 10),
		"down":           strconv.FormatInt(in.Down, 10),
		"total":          strconv.FormatInt(in.Total, 10),
		"remark":         in.Remark,
		"enable":         strconv.FormatBool(enable),
		"expiryTime":     strconv.FormatInt(in.ExpiryTime, 10),
		"listen":         "",
		"port":           strconv.Itoa(in.Port),
		"protocol":       in.Protocol,
		"settings":       in.Settings,
		"streamSettings": orDefaultStr(in.StreamSettings, "{}"),
		"sniffing":       orDefaultStr(in.Sniffing, "{}"),
	})
	return err
}

// updateClient pushes a single-client update keyed by the current credential
// (sanaei and alireza only)
func (c *XUIClient) updateClient(ctx context.Context, cookie *http.Cookie, inboundID int, credential string, client models.InboundClient) error {
	settings := models.InboundSettings{Clients: []models.InboundClient{client}}
	encoded, err := settings.Encode()
	if err != nil {
		return err
	}
	_, err = c.post(ctx, cookie, c.apiPrefix()+"/inbound/updateClient/"+url.PathEscape(credential), "update client", map[string]string{
		"id":       strconv.Itoa(inboundID),
		"settings": encoded,
	})
	return err
}

// locate logs in, lists inbounds and resolves the account, returning the
// cookie for follow-up writes
func (c *XUIClient) locate(ctx context.Context, ref AccountRef) (*http.Cookie, *locatedClient, error) {
	cookie, err := c.login(ctx)
	if err != nil {
		return nil, nil, err
	}
	inbounds, err := c.listInbounds(ctx, cookie)
	if err != nil {
		return nil, nil, err
	}
	loc := findClient(inbounds, ref.InboundID, ref.Credential, ref.Protocol)
	if loc == nil {
		return nil, nil, &apperrors.NotFoundError{PanelURL: c.cfg.BaseURL(), Remark: ref.Name}
	}
	return cookie, loc, nil
}

// EditTraffic applies a renew or add-on to quota and expiry
func (c *XUIClient) EditTraffic(ctx context.Context, ref AccountRef, volumeGB float64, days int, mode EditMode) error {
	cookie, loc, err := c.locate(ctx, ref)
	if err != nil {
		return err
	}

	nowMs := time.Now().UnixMilli()
	dedicated := ref.InboundID == 0
	client := loc.client()

	if volumeGB > 0 {
		extendBytes := volumeToBytes(volumeGB)
		if dedicated {
			// dedicated inbounds track quota at the inbound level
			if mode == EditRenew {
				loc.inbound.Up = 0
				loc.inbound.Down = 0
				loc.inbound.Total = extendBytes
			} else {
				loc.inbound.Total = stackQuota(loc.inbound.Total, extendBytes, c.opts.PreserveUnlimitedOnAdd)
			}
		} else {
			if mode == EditRenew {
				if err := c.resetClientTraffic(ctx, cookie, ref.Name, ref.InboundID); err != nil {
					c.logger.Warnf("Traffic reset failed for %s: %v", ref.Name, err)
				}
				client.TotalGB = extendBytes
			} else {
				client.TotalGB = stackQuota(client.TotalGB, extendBytes, c.opts.PreserveUnlimitedOnAdd)
			}
		}
	}

	if days > 0 {
		extendMs := int64(days) * constants.MillisecondsInDay
		if dedicated {
			loc.inbound.ExpiryTime = stackExpiry(loc.inbound.ExpiryTime, extendMs, nowMs, mode, c.opts.PreserveUnlimitedOnAdd)
		} else {
			client.ExpiryTime = stackExpiry(client.ExpiryTime, extendMs, nowMs, mode, c.opts.PreserveUnlimitedOnAdd)
		}
	}

	c.ensureSanaeiFields(client)
	return c.pushClientChange(ctx, cookie, ref, loc, true)
}

// SetEnabled flips the enable flag. For dedicated inbounds the inbound
// itself is toggled too, which cuts traffic immediately.
func (c *XUIClient) SetEnabled(ctx context.Context, ref AccountRef, enabled bool) error {
	cookie, loc, err := c.locate(ctx, ref)
	if err != nil {
		return err
	}

	loc.client().Enable = enabled
	c.ensureSanaeiFields(loc.client())

	inboundEnable := true
	if ref.InboundID == 0 {
		inboundEnable = enabled
	}
	return c.pushClientChange(ctx, cookie, ref, loc, inboundEnable)
}

// pushClientChange sends a pending client mutation using the narrowest write
// the variant supports
func (c *XUIClient) pushClientChange(ctx context.Context, cookie *http.Cookie, ref AccountRef, loc *locatedClient, inboundEnable bool) error {
	if ref.InboundID > 0 && c.isSanaeiFamily() {
		return c.updateClient(ctx, cookie, ref.InboundID, ref.Credential, *loc.client())
	}

	encoded, err := loc.settings.Encode()
	if err != nil {
		return err
	}
	loc.inbound.Settings = encoded
	return c.updateInbound(ctx, cookie, loc.inbound, inboundEnable)
}

// DeleteAccount removes the account. Dedicated inbounds are deleted whole;
// shared clients are removed with delClient where available and by full
// replace on vaxilu.
func (c *XUIClient) DeleteAccount(ctx context.Context, ref AccountRef) error {
	cookie, err := c.login(ctx)
	if err != nil {
		return err
	}

	if ref.InboundID == 0 {
		inbounds, err := c.listInbounds(ctx, cookie)
		if err != nil {
			return err
		}
		loc := findClient(inbounds, 0, ref.Credential, ref.Protocol)
		if loc == nil {
			return &apperrors.NotFoundError{PanelURL: c.cfg.BaseURL(), Remark: ref.Name}
		}
		_, err = c.post(ctx, cookie, fmt.Sprintf("%s/inbound/del/%d", c.apiPrefix(), loc.inbound.ID), "delete inbound", nil)
		return err
	}

	if c.isSanaeiFamily() {
		path := fmt.Sprintf("%s/inbound/%d/delClient/%s", c.apiPrefix(), ref.InboundID, url.PathEscape(ref.Credential))
		_, err := c.post(ctx, cookie, path, "delete client", nil)
		return err
	}

	// vaxilu: drop the client from the array and replace
	inbounds, err := c.listInbounds(ctx, cookie)
	if err != nil {
		return err
	}
	loc := findClient(inbounds, ref.InboundID, ref.Credential, ref.Protocol)
	if loc == nil {
		return &apperrors.NotFoundError{PanelURL: c.cfg.BaseURL(), Remark: ref.Name}
	}
	loc.settings.Clients = append(loc.settings.Clients[:loc.index], loc.settings.Clients[loc.index+1:]...)
	encoded, err := loc.settings.Encode()
	if err != nil {
		return err
	}
	loc.inbound.Settings = encoded
	return c.updateInbound(ctx, cookie, loc.inbound, true)
}

// RotateCredential replaces the UUID or password and returns the new value.
// The local record must be updated by the caller.
func (c *XUIClient) RotateCredential(ctx context.Context, ref AccountRef) (string, error) {
	cookie, loc, err := c.locate(ctx, ref)
	if err != nil {
		return "", err
	}

	newCredential := helpers.GenerateCredential(ref.Protocol)
	loc.client().SetIdentity(ref.Protocol, newCredential)
	c.ensureSanaeiFields(loc.client())

	// the update is keyed by the old credential
	if err := c.pushClientChange(ctx, cookie, ref, loc, true); err != nil {
		return "", err
	}
	c.logger.Infof("Rotated credential for %s on %s", ref.Name, c.cfg.BaseURL())
	return newCredential, nil
}

// FetchConnectionInfo rebuilds connection links from the live inbound. The
// matched inbound's stream settings are ground truth, not the plan.
func (c *XUIClient) FetchConnectionInfo(ctx context.Context, ref AccountRef, plan *models.Plan) (*ConnectionInfo, error) {
	_, loc, err := c.locate(ctx, ref)
	if err != nil {
		return nil, err
	}

	stream, err := loc.inbound.ParseStreamSettings()
	if err != nil {
		return nil, err
	}

	remark := ref.Name
	if ref.InboundID == 0 && c.isSanaeiFamily() && loc.inbound.Remark != "" {
		remark = loc.inbound.Remark
	}

	params := c.linkParams(ref, loc, stream, remark, plan)

	endpoints := c.cfg.EndpointList()
	if len(endpoints) == 0 {
		endpoints = []string{c.panelHost()}
	}

	links := link.BuildAll(params, endpoints)
	if len(links) == 0 {
		return nil, &apperrors.RequestError{
			PanelURL:  c.cfg.BaseURL(),
			Operation: "build links",
			Message:   "no endpoints configured",
		}
	}
	return &ConnectionInfo{Links: links}, nil
}

// linkParams maps live stream settings onto link builder parameters
func (c *XUIClient) linkParams(ref AccountRef, loc *locatedClient, stream *models.StreamSettings, remark string, plan *models.Plan) link.Params {
	params := link.Params{
		Protocol:   ref.Protocol,
		Transport:  orDefaultStr(stream.Network, "tcp"),
		Security:   orDefaultStr(stream.Security, "none"),
		Credential: ref.Credential,
		Remark:     remark,
		Port:       loc.inbound.Port,
		Flow:       loc.client().Flow,
	}

	switch params.Transport {
	case "ws":
		if stream.WSSettings != nil {
			params.Path = stream.WSSettings.Path
			params.Host = stream.WSSettings.Headers["Host"]
		}
	case "grpc":
		if stream.GRPCSettings != nil {
			params.Path = stream.GRPCSettings.ServiceName
		}
	case "kcp":
		if stream.KCPSettings != nil {
			params.HeaderType = stream.KCPSettings.Header.Type
			params.Path = stream.KCPSettings.Seed
		}
	default:
		if stream.TCPSettings != nil {
			params.HeaderType = stream.TCPSettings.Header.Type
			if params.HeaderType == "http" && stream.TCPSettings.Header.Request != nil {
				req := stream.TCPSettings.Header.Request
				if len(req.Path) > 0 {
					params.Path = req.Path[0]
				}
				if hosts := req.Headers["Host"]; len(hosts) > 0 {
					params.Host = hosts[0]
				}
			}
		}
	}

	switch params.Security {
	case "tls":
		if stream.TLSSettings != nil {
			params.SNI = stream.TLSSettings.ResolveServerName()
			params.ALPN = strings.Join(stream.TLSSettings.ALPN, ",")
		}
	case "xtls":
		if stream.XTLSSettings != nil {
			params.SNI = stream.XTLSSettings.ResolveServerName()
			params.ALPN = strings.Join(stream.XTLSSettings.ALPN, ",")
		}
	case "reality":
		if stream.RealitySettings != nil {
			r := stream.RealitySettings
			if len(r.ServerNames) > 0 {
				params.RealitySNI = r.ServerNames[0]
			}
			if len(r.ShortIDs) > 0 {
				params.ShortID = r.ShortIDs[0]
			}
			params.Fingerprint = r.Settings.Fingerprint
			params.PublicKey = r.Settings.PublicKey
			params.SpiderX = r.Settings.SpiderX
		}
	}

	if params.SNI == "" {
		params.SNI = c.cfg.SNI
	}
	if plan != nil && plan.RelayMode && c.cfg.SNI != "" {
		params.RelaySNI = c.cfg.SNI
	}
	return params
}

// FetchTraffic reads usage counters: inbound-level for dedicated accounts,
// clientStats (with a client-settings fallback) for shared ones.
func (c *XUIClient) FetchTraffic(ctx context.Context, ref AccountRef) (*TrafficStats, error) {
	_, loc, err := c.locate(ctx, ref)
	if err != nil {
		return nil, err
	}

	if ref.InboundID == 0 {
		return &TrafficStats{
			Up:         loc.inbound.Up,
			Down:       loc.inbound.Down,
			Total:      loc.inbound.Total,
			ExpiryTime: loc.inbound.ExpiryTime,
			Enabled:    loc.inbound.Enable && loc.client().Enable,
		}, nil
	}

	client := loc.client()
	stats := &TrafficStats{
		Total:      client.TotalGB,
		ExpiryTime: client.ExpiryTime,
		Enabled:    client.Enable,
	}
	for _, s := range loc.inbound.ClientStats {
		if s.Email == client.Email {
			stats.Up = s.Up
			stats.Down = s.Down
			if s.Total > 0 {
				stats.Total = s.Total
			}
			break
		}
	}
	return stats, nil
}

// ListAccounts flattens every client of every inbound into account rows
func (c *XUIClient) ListAccounts(ctx context.Context) ([]Account, error) {
	cookie, err := c.login(ctx)
	if err != nil {
		return nil, err
	}
	inbounds, err := c.listInbounds(ctx, cookie)
	if err != nil {
		return nil, err
	}

	var accounts []Account
	for i := range inbounds {
		in := &inbounds[i]
		settings, err := in.ParseSettings()
		if err != nil {
			c.logger.Warnf("Skipping inbound %d with unparseable settings: %v", in.ID, err)
			continue
		}

		statsByEmail := make(map[string]models.ClientStat, len(in.ClientStats))
		for _, s := range in.ClientStats {
			statsByEmail[s.Email] = s
		}

		for k := range settings.Clients {
			cl := &settings.Clients[k]
			acc := Account{
				Name:       cl.Email,
				Credential: cl.Identity(in.Protocol),
				InboundID:  in.ID,
				Enabled:    cl.Enable && in.Enable,
				ExpiryTime: cl.ExpiryTime,
				Total:      cl.TotalGB,
			}
			if s, ok := statsByEmail[cl.Email]; ok {
				acc.Up = s.Up
				acc.Down = s.Down
			}
			accounts = append(accounts, acc)
		}
	}
	return accounts, nil
}

// resetClientTraffic zeroes usage counters. The URL shape differs per
// variant: vaxilu takes no inbound id in the path.
func (c *XUIClient) resetClientTraffic(ctx context.Context, cookie *http.Cookie, name string, inboundID int) error {
	var path string
	switch c.cfg.Kind {
	case models.PanelSanaei:
		path = fmt.Sprintf("/panel/inbound/%d/resetClientTraffic/%s", inboundID, url.PathEscape(name))
	case models.PanelAlireza:
		path = fmt.Sprintf("/xui/inbound/%d/resetClientTraffic/%s", inboundID, url.PathEscape(name))
	default:
		path = "/xui/inbound/resetClientTraffic/" + url.PathEscape(name)
	}
	_, err := c.post(ctx, cookie, path, "reset traffic", nil)
	return err
}

// ensureSanaeiFields backfills fields older records may lack before an update
func (c *XUIClient) ensureSanaeiFields(client *models.InboundClient) {
	if !c.isSanaeiFamily() {
		return
	}
	if client.SubID == "" {
		client.SubID = helpers.GenerateSubID()
	}
}

// panelHost extracts the host from the panel URL as an endpoint of last resort
func (c *XUIClient) panelHost() string {
	u, err := url.Parse(c.cfg.BaseURL())
	if err != nil || u.Hostname() == "" {
		return "127.0.0.1"
	}
	return u.Hostname()
}

func volumeToBytes(volumeGB float64) int64 {
	if volumeGB <= 0 {
		return 0
	}
	return int64(volumeGB * float64(constants.BytesPerGB))
}

func expiryFromDays(days int) int64 {
	if days <= 0 {
		return 0
	}
	return time.Now().UnixMilli() + int64(days)*constants.MillisecondsInDay
}

// stackQuota adds bytes on top of the current quota. A zero current quota
// means unlimited: it either stays unlimited or becomes the added amount,
// depending on policy.
func stackQuota(current, extend int64, preserveUnlimited bool) int64 {
	if current == 0 && preserveUnlimited {
		return 0
	}
	if current > 0 {
		return current + extend
	}
	return extend
}

// stackExpiry computes the new expiry timestamp in milliseconds
func stackExpiry(current, extend, nowMs int64, mode EditMode, preserveUnlimited bool) int64 {
	if mode == EditRenew {
		return nowMs + extend
	}
	if current == 0 && preserveUnlimited {
		return 0
	}
	if nowMs > current {
		return nowMs + extend
	}
	return current + extend
}

func orDefaultStr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
