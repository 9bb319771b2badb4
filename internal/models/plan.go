package models

// Plan represents a sales template for a proxy account
type Plan struct {
	ID        int64
	GroupID   int64
	NodeID    int64
	InboundID int // 0 = dedicated inbound per account, >0 = shared inbound
	Title     string
	Protocol  string  // vless | vmess | trojan
	Transport string  // tcp | ws | grpc | kcp
	Security  string  // none | tls | xtls | reality
	VolumeGB  float64 // 0 = unbounded
	Days      int     // 0 = unbounded
	Flow      string
	RelayMode bool

	// Transport/security overrides. For Marzban nodes CustomSNI carries the
	// proxies/inbounds JSON blob instead of a server name.
	CustomSNI  string
	CustomPort int
	CustomPath string

	RealityDest        string
	RealitySNI         string
	RealityFingerprint string
	RealitySpider      string

	LimitIP int
}

// Dedicated reports whether accounts for this plan get their own inbound
func (p *Plan) Dedicated() bool {
	return p.InboundID == 0
}
