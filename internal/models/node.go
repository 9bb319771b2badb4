package models

import "strings"

// PanelKind identifies the remote control plane behind a node
type PanelKind string

const (
	PanelSanaei  PanelKind = "sanaei"
	PanelAlireza PanelKind = "alireza"
	PanelVaxilu  PanelKind = "vaxilu"
	PanelMarzban PanelKind = "marzban"
)

// IsXUI reports whether the kind belongs to the X-UI family
func (k PanelKind) IsXUI() bool {
	return k == PanelSanaei || k == PanelAlireza || k == PanelVaxilu
}

// Node represents a proxy server available for sale
type Node struct {
	ID          int64
	Title       string
	Flag        string
	Capacity    int // remaining slots, 0 = unlimited
	Active      bool
	State       bool
	Description string
}

// Full reports whether the node is out of slots. Capacity 0 means unlimited,
// so only a negative value (possible through manual edits) counts as full.
func (n *Node) Full() bool {
	return n.Capacity < 0
}

// NodeBackendConfig holds the panel credentials and endpoints for a node
type NodeBackendConfig struct {
	ID         int64
	NodeID     int64
	Kind       PanelKind
	PanelURL   string
	Username   string
	Password   string
	Endpoints  string // newline-delimited host list
	SNI        string
	HeaderType string
}

// BaseURL returns the panel URL without a trailing slash
func (c *NodeBackendConfig) BaseURL() string {
	return strings.TrimRight(c.PanelURL, "/")
}

// EndpointList splits the endpoint field into individual hosts, in list order
func (c *NodeBackendConfig) EndpointList() []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(c.Endpoints, "\r", ""), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
