package models

// Subscription statuses
const (
	StatusDisabled = 0
	StatusActive   = 1
)

// Subscription represents a provisioned proxy account.
//
// ConfigName is the remote-visible remark and the join key into the remote
// system: it is the only identifier guaranteed to exist on both the local row
// and the remote object. ConfigUUID can be rotated and inbound ids reused.
type Subscription struct {
	ID          int64
	MemberID    int64
	Token       string
	PlanID      int64
	NodeID      int64
	InboundID   int
	ConfigName  string
	ConfigUUID  string
	Protocol    string
	ExpiresAt   int64 // unix seconds, 0 = unbounded
	ConnectLink string
	Status      int
	RelayMode   bool
	CreatedAt   int64
}

// Active reports whether the subscription is enabled locally
func (s *Subscription) Active() bool {
	return s.Status == StatusActive
}

// Expired reports whether the subscription is past its expiry at the given time
func (s *Subscription) Expired(now int64) bool {
	return s.ExpiresAt > 0 && s.ExpiresAt < now
}
