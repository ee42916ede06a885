// Package api defines the control surface between the session daemon and the
// operator CLI: a small unary gRPC service served on a unix socket in the
// session directory. Payloads travel as JSON via a registered codec; the
// surface is five unary calls, so a self-describing wire format beats a
// codegen step here.
package api

// Peer mirrors a cached participant for the wire.
type Peer struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
	Online      bool   `json:"online,omitempty"`
}

// Summary mirrors a conversation summary for the wire.
type Summary struct {
	PeerID         string `json:"peer_id"`
	Preview        string `json:"preview,omitempty"`
	File           bool   `json:"file,omitempty"`
	LastActivityAt int64  `json:"last_activity_at,omitempty"`
	UnreadCount    int    `json:"unread_count,omitempty"`
}

// Message mirrors a cached message for the wire. Author is "self" or "peer";
// Delivery is "confirmed", "pending" or "failed".
type Message struct {
	ServerID int64  `json:"server_id,omitempty"`
	LocalID  string `json:"local_id,omitempty"`
	PeerID   string `json:"peer_id"`
	Author   string `json:"author"`
	Body     string `json:"body,omitempty"`
	File     bool   `json:"file,omitempty"`
	SentAt   int64  `json:"sent_at,omitempty"`
	Read     bool   `json:"read,omitempty"`
	Delivery string `json:"delivery"`
}

type PeersRequest struct{}

type PeersResponse struct {
	Peers []Peer `json:"peers,omitempty"`
}

type ConversationsRequest struct{}

type ConversationsResponse struct {
	Summaries []Summary `json:"summaries,omitempty"`
}

type HistoryRequest struct {
	PeerID string `json:"peer_id"`
}

type HistoryResponse struct {
	Messages []Message `json:"messages,omitempty"`
}

type SendRequest struct {
	PeerID string `json:"peer_id"`
	Body   string `json:"body"`
	File   bool   `json:"file,omitempty"`
}

// SendResponse reports the settled outcome of an optimistic send. Delivery is
// "confirmed" or "failed"; a failed send is not a transport error at this
// layer, the entry stays visible in the daemon's cache either way.
type SendResponse struct {
	LocalID  string `json:"local_id"`
	Delivery string `json:"delivery"`
}

type StatusRequest struct{}

type StatusResponse struct {
	State string `json:"state"`
}
