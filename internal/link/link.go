// Package link builds client-importable connection URIs for vless, vmess and
// trojan accounts. Everything here is pure: no I/O, no clock, no panel calls.
package link

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Params carries everything needed to render one connection URI for one
// endpoint. Transport and security params are taken from the live inbound
// (or the plan, for backends that never expose inbound settings).
type Params struct {
	Protocol   string // vless | vmess | trojan
	Transport  string // tcp | ws | grpc | kcp
	Security   string // none | tls | xtls | reality
	Credential string // UUID or trojan password
	Remark     string
	Endpoint   string
	Port       int

	Path       string // ws path, grpc service path, kcp seed
	Host       string
	SNI        string
	ALPN       string
	HeaderType string // tcp http obfuscation, kcp header type
	Flow       string

	// Reality
	Fingerprint string
	PublicKey   string
	ShortID     string
	SpiderX     string
	RealitySNI  string

	// RelaySNI, when set, fronts the link through a CDN host: it replaces
	// sni and host and forces security to tls. Reality links are left
	// untouched because Reality binds its identity to the real server name.
	RelaySNI string
}

// Build renders a single connection URI. Identical inputs always yield an
// identical string.
func Build(p Params) string {
	if p.Protocol == "vmess" {
		return buildVMess(p)
	}
	return buildQueryURI(p)
}

// BuildAll renders one link per endpoint, in list order
func BuildAll(p Params, endpoints []string) []string {
	links := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ep = strings.TrimSpace(ep)
		if ep == "" {
			continue
		}
		q := p
		q.Endpoint = ep
		links = append(links, Build(q))
	}
	return links
}

// EncodeSubscription encodes the newline-joined link set as a base64
// subscription payload
func EncodeSubscription(links []string) string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Join(links, "\n")))
}

// ProfileTitle returns the base64 profile-title header value for a remark
func ProfileTitle(remark string) string {
	return base64.StdEncoding.EncodeToString([]byte(remark))
}

// UserInfoHeader formats the subscription-userinfo header consumed by
// V2Ray-family clients
func UserInfoHeader(upload, download, total, expire int64) string {
	return fmt.Sprintf("upload=%d; download=%d; total=%d; expire=%d", upload, download, total, expire)
}

func buildQueryURI(p Params) string {
	relay := p.RelaySNI != "" && p.Security != "reality"

	security := p.Security
	if relay {
		security = "tls"
	}

	q := url.Values{}
	q.Set("type", p.Transport)
	q.Set("security", security)

	switch p.Transport {
	case "ws":
		q.Set("path", orDefault(p.Path, "/"))
		q.Set("host", firstNonEmpty(p.Host, p.SNI, p.Endpoint))
	case "grpc":
		q.Set("serviceName", strings.Trim(p.Path, "/"))
		if p.Protocol == "vless" {
			q.Set("mode", "gun")
		}
	case "kcp":
		q.Set("headerType", orDefault(p.HeaderType, "none"))
		if p.Path != "" {
			q.Set("seed", p.Path)
		}
	default: // tcp
		if p.HeaderType == "http" {
			q.Set("headerType", "http")
			q.Set("path", orDefault(p.Path, "/"))
			q.Set("host", firstNonEmpty(p.Host, p.SNI, p.Endpoint))
		}
	}

	switch security {
	case "tls":
		q.Set("sni", firstNonEmpty(p.SNI, p.Host, p.Endpoint))
		if p.ALPN != "" {
			q.Set("alpn", p.ALPN)
		}
		if p.Fingerprint != "" {
			q.Set("fp", p.Fingerprint)
		}
	case "xtls":
		q.Set("sni", firstNonEmpty(p.SNI, p.Host, p.Endpoint))
		if p.Protocol == "vless" && p.Flow != "" {
			q.Set("flow", p.Flow)
		}
	case "reality":
		q.Set("fp", orDefault(p.Fingerprint, "chrome"))
		q.Set("pbk", p.PublicKey)
		q.Set("sid", p.ShortID)
		q.Set("sni", firstNonEmpty(p.RealitySNI, p.SNI))
		if p.SpiderX != "" {
			q.Set("spx", p.SpiderX)
		}
		if p.Protocol == "vless" && p.Flow != "" {
			q.Set("flow", p.Flow)
		}
	default: // none; some clients still honor sni
		if p.SNI != "" {
			q.Set("sni", p.SNI)
		}
	}

	if relay {
		q.Set("sni", p.RelaySNI)
		q.Set("host", p.RelaySNI)
	}

	return fmt.Sprintf("%s://%s@%s:%d?%s#%s",
		p.Protocol, p.Credential, p.Endpoint, p.Port, q.Encode(), escapeRemark(p.Remark))
}

// vmessConfig is the legacy VMess JSON shape expected by client apps
type vmessConfig struct {
	V    string `json:"v"`
	PS   string `json:"ps"`
	Add  string `json:"add"`
	Port int    `json:"port"`
	ID   string `json:"id"`
	Aid  int    `json:"aid"`
	Net  string `json:"net"`
	Type string `json:"type"`
	Host string `json:"host"`
	Path string `json:"path"`
	TLS  string `json:"tls"`
	SNI  string `json:"sni,omitempty"`
}

func buildVMess(p Params) string {
	relay := p.RelaySNI != "" && p.Security != "reality"

	cfg := vmessConfig{
		V:    "2",
		PS:   p.Remark,
		Add:  p.Endpoint,
		Port: p.Port,
		ID:   p.Credential,
		Aid:  0,
		Net:  p.Transport,
		Type: "none",
		SNI:  p.SNI,
	}
	if p.Security != "none" {
		cfg.TLS = p.Security
	}

	switch p.Transport {
	case "ws":
		cfg.Host = firstNonEmpty(p.Host, p.SNI, p.Endpoint)
		cfg.Path = orDefault(p.Path, "/")
	case "grpc":
		cfg.Path = strings.Trim(p.Path, "/")
	case "kcp":
		cfg.Type = orDefault(p.HeaderType, "none")
		cfg.Path = p.Path // kcp seed rides in the path field
	default: // tcp
		if p.HeaderType == "http" {
			cfg.Type = "http"
			cfg.Host = firstNonEmpty(p.Host, p.SNI, p.Endpoint)
			cfg.Path = orDefault(p.Path, "/")
		}
	}

	if relay {
		cfg.SNI = p.RelaySNI
		cfg.Host = p.RelaySNI
		cfg.TLS = "tls"
	}

	data, _ := json.Marshal(cfg)
	return "vmess://" + base64.StdEncoding.EncodeToString(data)
}

func escapeRemark(remark string) string {
	return strings.ReplaceAll(url.QueryEscape(remark), "+", "%20")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
