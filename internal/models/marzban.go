package models

import "encoding/json"

// MarzbanToken is the response of POST /api/admin/token
type MarzbanToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// MarzbanUser represents a user object on the Marzban API. Expire and
// DataLimit are pointers because Marzban encodes "unlimited" as null,
// while the X-UI family uses 0; that difference is load-bearing.
type MarzbanUser struct {
	Username        string                  `json:"username"`
	Proxies         map[string]MarzbanProxy `json:"proxies"`
	Inbounds        map[string][]string     `json:"inbounds"`
	Expire          *int64                  `json:"expire"`
	DataLimit       *int64                  `json:"data_limit"`
	Status          string                  `json:"status,omitempty"`
	UsedTraffic     int64                   `json:"used_traffic,omitempty"`
	SubscriptionURL string                  `json:"subscription_url,omitempty"`
	Links           []string                `json:"links,omitempty"`
}

// MarzbanProxy holds per-protocol proxy settings of a Marzban user
type MarzbanProxy struct {
	ID       string `json:"id,omitempty"`
	Password string `json:"password,omitempty"`
	Flow     string `json:"flow,omitempty"`
}

// Credential returns the proxy's UUID or password, whichever is set
func (p *MarzbanProxy) Credential() string {
	if p.ID != "" {
		return p.ID
	}
	return p.Password
}

// MarzbanPlanConfig is the plan-level JSON blob (stored in Plan.CustomSNI for
// Marzban nodes) that maps protocols to Marzban inbound tags and proxy
// settings, so the system never has to model Marzban's inbound taxonomy.
type MarzbanPlanConfig struct {
	Proxies  map[string]MarzbanProxy `json:"proxies"`
	Inbounds map[string][]string     `json:"inbounds"`
}

// ParseMarzbanPlanConfig decodes the plan blob; an empty blob is valid and
// yields empty maps, letting Marzban pick its defaults.
func ParseMarzbanPlanConfig(blob string) (*MarzbanPlanConfig, error) {
	cfg := &MarzbanPlanConfig{
		Proxies:  map[string]MarzbanProxy{},
		Inbounds: map[string][]string{},
	}
	if blob == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(blob), cfg); err != nil {
		return nil, err
	}
	if cfg.Proxies == nil {
		cfg.Proxies = map[string]MarzbanProxy{}
	}
	if cfg.Inbounds == nil {
		cfg.Inbounds = map[string][]string{}
	}
	return cfg, nil
}
