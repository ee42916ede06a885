package store

import "github.com/mfalves/dmsync/internal/attribute"

// Delivery is the lifecycle state of a message in the local cache.
type Delivery int

const (
	DeliveryConfirmed Delivery = iota
	DeliveryPending
	DeliveryFailed
)

func (d Delivery) String() string {
	switch d {
	case DeliveryPending:
		return "pending"
	case DeliveryFailed:
		return "failed"
	default:
		return "confirmed"
	}
}

// Peer is a known participant.
type Peer struct {
	ID          string
	DisplayName string
	AvatarRef   string
	Online      bool
}

// Summary is the per-peer conversation summary shown in list views.
// Optimistic marks a preview written locally on send, before the server's
// summary list has caught up.
type Summary struct {
	PeerID         string
	Preview        string
	File           bool
	LastActivityAt int64
	UnreadCount    int
	Optimistic     bool
}

// Message is a cached message. Confirmed messages carry a positive ServerID;
// messages born from a local send carry a uuid LocalID until (and after)
// reconciliation. The two id namespaces never collide.
type Message struct {
	ServerID int64
	LocalID  string
	PeerID   string
	Author   attribute.Author
	Body     string
	File     bool
	SentAt   int64
	Read     bool
	Delivery Delivery
}
