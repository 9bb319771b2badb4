package models

import (
	"encoding/json"
	"testing"
)

func TestEndpointList(t *testing.T) {
	cfg := NodeBackendConfig{Endpoints: "1.2.3.4\r\n  cdn.example.com \n\n5.6.7.8\n"}
	got := cfg.EndpointList()
	want := []string{"1.2.3.4", "cdn.example.com", "5.6.7.8"}
	if len(got) != len(want) {
		t.Fatalf("EndpointList() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("EndpointList()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBaseURLTrimsSlash(t *testing.T) {
	cfg := NodeBackendConfig{PanelURL: "https://panel.example:2053/"}
	if got := cfg.BaseURL(); got != "https://panel.example:2053" {
		t.Errorf("BaseURL() = %q", got)
	}
}

func TestClientIdentity(t *testing.T) {
	c := InboundClient{ID: "uuid-1", Password: "pw-1"}
	if got := c.Identity("trojan"); got != "pw-1" {
		t.Errorf("trojan identity = %q, want the password", got)
	}
	if got := c.Identity("vless"); got != "uuid-1" {
		t.Errorf("vless identity = %q, want the id", got)
	}

	var d InboundClient
	d.SetIdentity("trojan", "newpw")
	if d.Password != "newpw" || d.ID != "" {
		t.Errorf("SetIdentity(trojan) wrote %+v", d)
	}
	d = InboundClient{}
	d.SetIdentity("vmess", "newid")
	if d.ID != "newid" || d.Password != "" {
		t.Errorf("SetIdentity(vmess) wrote %+v", d)
	}
}

func TestClientEnableBackfill(t *testing.T) {
	tests := []struct {
		name string
		blob string
		want bool
	}{
		{"missing field means enabled", `{"id":"uuid-1","email":"a"}`, true},
		{"explicit true", `{"id":"uuid-1","enable":true}`, true},
		{"explicit false", `{"id":"uuid-1","enable":false}`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var c InboundClient
			if err := json.Unmarshal([]byte(tc.blob), &c); err != nil {
				t.Fatal(err)
			}
			if c.Enable != tc.want {
				t.Errorf("Enable = %v, want %v", c.Enable, tc.want)
			}
		})
	}
}

func TestResolveServerName(t *testing.T) {
	outer := TLSSettings{ServerName: "outer.example"}
	if got := outer.ResolveServerName(); got != "outer.example" {
		t.Errorf("ResolveServerName() = %q", got)
	}

	nested := TLSSettings{Settings: &TLSExtra{ServerName: "inner.example"}}
	if got := nested.ResolveServerName(); got != "inner.example" {
		t.Errorf("ResolveServerName() = %q, want the nested name", got)
	}

	var empty TLSSettings
	if got := empty.ResolveServerName(); got != "" {
		t.Errorf("ResolveServerName() = %q, want empty", got)
	}
}

func TestParseMarzbanPlanConfig(t *testing.T) {
	cfg, err := ParseMarzbanPlanConfig("")
	if err != nil {
		t.Fatalf("empty blob: %v", err)
	}
	if cfg.Proxies == nil || cfg.Inbounds == nil {
		t.Error("empty blob should yield empty maps, not nil")
	}

	cfg, err = ParseMarzbanPlanConfig(`{"proxies":{"vless":{"flow":"xtls-rprx-vision"}},"inbounds":{"vless":["TAG"]}}`)
	if err != nil {
		t.Fatalf("valid blob: %v", err)
	}
	if cfg.Proxies["vless"].Flow != "xtls-rprx-vision" {
		t.Errorf("proxies = %+v", cfg.Proxies)
	}
	if tags := cfg.Inbounds["vless"]; len(tags) != 1 || tags[0] != "TAG" {
		t.Errorf("inbounds = %+v", cfg.Inbounds)
	}

	if _, err := ParseMarzbanPlanConfig("not json"); err == nil {
		t.Error("garbage blob should fail to parse")
	}
}

func TestSubscriptionExpired(t *testing.T) {
	now := int64(1_700_000_000)
	tests := []struct {
		expiresAt int64
		want      bool
	}{
		{0, false},
		{now + 1, false},
		{now - 1, true},
	}
	for _, tc := range tests {
		s := Subscription{ExpiresAt: tc.expiresAt}
		if got := s.Expired(now); got != tc.want {
			t.Errorf("Expired() with expiresAt %d = %v, want %v", tc.expiresAt, got, tc.want)
		}
	}
}

func TestNodeFull(t *testing.T) {
	if (&Node{Capacity: 0}).Full() {
		t.Error("capacity 0 means unlimited, not full")
	}
	if (&Node{Capacity: 5}).Full() {
		t.Error("capacity 5 is not full")
	}
	if !(&Node{Capacity: -1}).Full() {
		t.Error("negative capacity is full")
	}
}
