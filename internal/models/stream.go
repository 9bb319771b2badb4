package models

// StreamSettings is the decoded form of Inbound.StreamSettings. The matched
// inbound's live settings are ground truth for link generation, not the plan.
type StreamSettings struct {
	Network         string           `json:"network"`
	Security        string           `json:"security"`
	TCPSettings     *TCPSettings     `json:"tcpSettings,omitempty"`
	WSSettings      *WSSettings      `json:"wsSettings,omitempty"`
	GRPCSettings    *GRPCSettings    `json:"grpcSettings,omitempty"`
	KCPSettings     *KCPSettings     `json:"kcpSettings,omitempty"`
	TLSSettings     *TLSSettings     `json:"tlsSettings,omitempty"`
	XTLSSettings    *TLSSettings     `json:"xtlsSettings,omitempty"`
	RealitySettings *RealitySettings `json:"realitySettings,omitempty"`
}

// TCPSettings holds TCP transport options, including HTTP obfuscation
type TCPSettings struct {
	Header TCPHeader `json:"header"`
}

// TCPHeader describes the TCP header obfuscation mode
type TCPHeader struct {
	Type     string      `json:"type"`
	Request  *TCPRequest `json:"request,omitempty"`
	Response interface{} `json:"response,omitempty"`
}

// TCPRequest carries the faked HTTP request for header type "http"
type TCPRequest struct {
	Path    []string            `json:"path,omitempty"`
	Headers map[string][]string `json:"headers,omitempty"`
}

// WSSettings holds WebSocket transport options
type WSSettings struct {
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers,omitempty"`
}

// GRPCSettings holds gRPC transport options
type GRPCSettings struct {
	ServiceName string `json:"serviceName"`
	MultiMode   bool   `json:"multiMode"`
}

// KCPSettings holds mKCP transport options
type KCPSettings struct {
	MTU              int        `json:"mtu"`
	TTI              int        `json:"tti"`
	UplinkCapacity   int        `json:"uplinkCapacity"`
	DownlinkCapacity int        `json:"downlinkCapacity"`
	Congestion       bool       `json:"congestion"`
	ReadBufferSize   int        `json:"readBufferSize"`
	WriteBufferSize  int        `json:"writeBufferSize"`
	Header           TypeHeader `json:"header"`
	Seed             string     `json:"seed"`
}

// TypeHeader is the generic {"type": ...} header wrapper
type TypeHeader struct {
	Type string `json:"type"`
}

// TLSSettings holds TLS/XTLS security options. Newer 3x-ui builds nest the
// serverName and fingerprint inside an inner settings object as well.
type TLSSettings struct {
	ServerName   string        `json:"serverName"`
	ALPN         []string      `json:"alpn,omitempty"`
	Certificates []Certificate `json:"certificates,omitempty"`
	Settings     *TLSExtra     `json:"settings,omitempty"`
}

// ResolveServerName returns the server name from either location
func (t *TLSSettings) ResolveServerName() string {
	if t.ServerName != "" {
		return t.ServerName
	}
	if t.Settings != nil {
		return t.Settings.ServerName
	}
	return ""
}

// TLSExtra is the nested settings object on 3x-ui TLS blocks
type TLSExtra struct {
	ServerName  string `json:"serverName,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Certificate is a certificate file reference inside a TLS block
type Certificate struct {
	CertificateFile string `json:"certificateFile"`
	KeyFile         string `json:"keyFile"`
}

// RealitySettings holds Reality security options
type RealitySettings struct {
	Show        bool         `json:"show"`
	Dest        string       `json:"dest"`
	Xver        int          `json:"xver"`
	ServerNames []string     `json:"serverNames"`
	PrivateKey  string       `json:"privateKey"`
	ShortIDs    []string     `json:"shortIds"`
	Settings    RealityExtra `json:"settings"`
}

// RealityExtra carries the client-facing half of a Reality block
type RealityExtra struct {
	PublicKey   string `json:"publicKey"`
	Fingerprint string `json:"fingerprint"`
	ServerName  string `json:"serverName"`
	SpiderX     string `json:"spiderX"`
}
