package models

import "encoding/json"

// Inbound represents an X-UI inbound as returned by the inbound list API.
// Settings, StreamSettings and Sniffing are JSON documents encoded as strings,
// which is how every X-UI variant ships them.
type Inbound struct {
	ID             int          `json:"id"`
	Up             int64        `json:"up"`
	Down           int64        `json:"down"`
	Total          int64        `json:"total"`
	Remark         string       `json:"remark"`
	Enable         bool         `json:"enable"`
	ExpiryTime     int64        `json:"expiryTime"`
	ClientStats    []ClientStat `json:"clientStats"`
	Listen         string       `json:"listen"`
	Port           int          `json:"port"`
	Protocol       string       `json:"protocol"`
	Settings       string       `json:"settings"`
	StreamSettings string       `json:"streamSettings"`
	Sniffing       string       `json:"sniffing"`
}

// ParseSettings decodes the inbound's client settings document
func (i *Inbound) ParseSettings() (*InboundSettings, error) {
	var s InboundSettings
	if err := json.Unmarshal([]byte(i.Settings), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ParseStreamSettings decodes the inbound's transport/security document
func (i *Inbound) ParseStreamSettings() (*StreamSettings, error) {
	var s StreamSettings
	if err := json.Unmarshal([]byte(i.StreamSettings), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ClientStat represents per-client traffic counters
type ClientStat struct {
	ID         int    `json:"id"`
	InboundID  int    `json:"inboundId"`
	Enable     bool   `json:"enable"`
	Email      string `json:"email"`
	Up         int64  `json:"up"`
	Down       int64  `json:"down"`
	ExpiryTime int64  `json:"expiryTime"`
	Total      int64  `json:"total"`
	Reset      int64  `json:"reset"`
}

// InboundSettings is the decoded form of Inbound.Settings
type InboundSettings struct {
	Clients []InboundClient `json:"clients"`
}

// Encode re-serializes the settings document for a full inbound replace
func (s *InboundSettings) Encode() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// InboundClient represents a single client entry inside an inbound
type InboundClient struct {
	ID          string `json:"id,omitempty"`
	Password    string `json:"password,omitempty"`
	Enable      bool   `json:"enable"`
	Email       string `json:"email"`
	Flow        string `json:"flow,omitempty"`
	LimitIP     int    `json:"limitIp"`
	TotalGB     int64  `json:"totalGB"`
	ExpiryTime  int64  `json:"expiryTime"`
	SubID       string `json:"subId,omitempty"`
	TgID        string `json:"tgId,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// UnmarshalJSON backfills enable for legacy records. Old panels ship
// client entries without the field, and a zero-value decode would
// disable the account on the next write-back.
func (c *InboundClient) UnmarshalJSON(data []byte) error {
	type plain InboundClient
	aux := struct {
		Enable *bool `json:"enable"`
		*plain
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.Enable = aux.Enable == nil || *aux.Enable
	return nil
}

// Identity returns the client's credential for the given protocol:
// trojan clients are keyed by password, everything else by id.
func (c *InboundClient) Identity(protocol string) string {
	if protocol == "trojan" {
		return c.Password
	}
	return c.ID
}

// SetIdentity writes the credential into the protocol-implied field
func (c *InboundClient) SetIdentity(protocol, credential string) {
	if protocol == "trojan" {
		c.Password = credential
	} else {
		c.ID = credential
	}
}
