package remote

import "context"

// Peer is a participant record as reported by the Conversation Store.
// Online is a polled approximation, not push-delivered truth.
type Peer struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref"`
	Online      bool   `json:"online"`
}

// Summary is a per-peer conversation summary as reported by the store.
type Summary struct {
	PeerID         string `json:"peer_id"`
	Preview        string `json:"preview"`
	File           bool   `json:"file"`
	LastActivityAt int64  `json:"last_activity_at"`
	UnreadCount    int    `json:"unread_count"`
}

// RawMessage is a message record as it comes off the wire. FromCounterpart
// is the authorship flag; legacy records predate it, so it is optional.
type RawMessage struct {
	ID              int64  `json:"id"`
	Body            string `json:"body"`
	File            bool   `json:"file"`
	SentAt          int64  `json:"sent_at"`
	Read            bool   `json:"read"`
	FromCounterpart *bool  `json:"from_counterpart,omitempty"`
}

// SendReceipt is the store's acknowledgement of an accepted message.
type SendReceipt struct {
	ID     int64 `json:"id"`
	SentAt int64 `json:"sent_at"`
}

// Store is the remote Conversation Store boundary. Implementations must
// fail fast with ErrMissingIdentity when a participant id is empty, without
// making a network call.
type Store interface {
	ListPeers(ctx context.Context, selfID string) ([]Peer, error)
	ListSummaries(ctx context.Context, selfID string) ([]Summary, error)
	FetchConversation(ctx context.Context, selfID, peerID string) ([]RawMessage, error)
	SendMessage(ctx context.Context, selfID, peerID, body string, file bool) (SendReceipt, error)
	AcknowledgeRead(ctx context.Context, messageID int64) error
}
