// Package store is the client-side conversation cache: peers, per-peer
// summaries, and ordered message lists. It is the single mutable state the
// sync engine operates on; the view layer only reads snapshots.
package store

import (
	"errors"
	"sync"
	"unicode/utf8"

	"github.com/mfalves/dmsync/internal/attribute"
)

// previewLimit caps summary preview text.
const previewLimit = 100

var (
	// ErrUnknownPending is returned when resolving a local id that was never
	// appended (or belongs to another conversation).
	ErrUnknownPending = errors.New("unknown pending message")
	// ErrAlreadyResolved signals a second resolution of the same local id,
	// which is a programming error in the caller.
	ErrAlreadyResolved = errors.New("pending message already resolved")
)

type conversation struct {
	msgs        []*Message
	maxServerID int64
	fetched     bool
}

// Store is an in-memory conversation cache keyed by peer id. All methods are
// safe for concurrent use; snapshot accessors return copies.
type Store struct {
	mu        sync.RWMutex
	peers     map[string]Peer
	peerOrder []string
	sums      map[string]*Summary
	sumOrder  []string
	convs     map[string]*conversation
}

// New creates an empty store.
func New() *Store {
	return &Store{
		peers: make(map[string]Peer),
		sums:  make(map[string]*Summary),
		convs: make(map[string]*conversation),
	}
}

// conv returns the conversation for a peer, creating it lazily. First contact
// with a peer with no prior conversation is a valid state, not an error.
func (s *Store) conv(peerID string) *conversation {
	c, ok := s.convs[peerID]
	if !ok {
		c = &conversation{}
		s.convs[peerID] = c
	}
	return c
}

// UpsertPeers replaces the known peer list. Conversation summaries for peers
// no longer listed are kept.
func (s *Store) UpsertPeers(peers []Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = make(map[string]Peer, len(peers))
	s.peerOrder = s.peerOrder[:0]
	for _, p := range peers {
		if _, ok := s.peers[p.ID]; ok {
			continue
		}
		s.peers[p.ID] = p
		s.peerOrder = append(s.peerOrder, p.ID)
	}
}

// Peers returns the known peers in listing order.
func (s *Store) Peers() []Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Peer, 0, len(s.peerOrder))
	for _, id := range s.peerOrder {
		out = append(out, s.peers[id])
	}
	return out
}

// Peer returns a single known peer.
func (s *Store) Peer(id string) (Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.peers[id]
	return p, ok
}

// MergeSummaries applies a server summary list, replace-by-key. An optimistic
// local preview survives until the server entry is at least as recent; the
// unread count always comes from the server.
func (s *Store) MergeSummaries(list []Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range list {
		in.Preview = truncate(in.Preview, previewLimit)
		in.Optimistic = false
		cur, ok := s.sums[in.PeerID]
		if !ok {
			cp := in
			s.sums[in.PeerID] = &cp
			s.sumOrder = append(s.sumOrder, in.PeerID)
			continue
		}
		if cur.Optimistic && in.LastActivityAt < cur.LastActivityAt {
			// Server list has not seen the optimistic send yet.
			cur.UnreadCount = in.UnreadCount
			continue
		}
		*cur = in
	}
}

// Summaries returns all conversation summaries in first-observation order.
func (s *Store) Summaries() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, 0, len(s.sumOrder))
	for _, id := range s.sumOrder {
		out = append(out, *s.sums[id])
	}
	return out
}

// Summary returns the summary for one peer.
func (s *Store) Summary(peerID string) (Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.sums[peerID]
	if !ok {
		return Summary{}, false
	}
	return *sum, true
}

// SetPreviewOptimistic writes a summary preview for a local send before the
// server has confirmed it, creating the summary if this is first contact.
func (s *Store) SetPreviewOptimistic(peerID, preview string, file bool, at int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.sums[peerID]
	if !ok {
		sum = &Summary{PeerID: peerID}
		s.sums[peerID] = sum
		s.sumOrder = append(s.sumOrder, peerID)
	}
	sum.Preview = truncate(preview, previewLimit)
	sum.File = file
	sum.LastActivityAt = at
	sum.Optimistic = true
}

// SetUnread overwrites a conversation's unread count. Counts are always
// recomputed from server-reported state, never incremented locally.
func (s *Store) SetUnread(peerID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.sums[peerID]
	if !ok {
		sum = &Summary{PeerID: peerID}
		s.sums[peerID] = sum
		s.sumOrder = append(s.sumOrder, peerID)
	}
	sum.UnreadCount = n
}

// ReplaceMessages applies a full fetch for one conversation. Incoming
// messages are authoritative for everything the server knows; local entries
// without a server counterpart survive the replace:
//   - Pending and Failed messages are re-appended in their original order.
//   - Confirmed messages above the incoming maximum id (a send the poll has
//     not caught up with) are kept rather than dropped.
//
// Already-stored confirmed messages are never reordered, and replacing with
// identical content is a no-op in effect.
func (s *Store) ReplaceMessages(peerID string, msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conv(peerID)

	seen := make(map[int64]struct{}, len(msgs))
	var maxIncoming int64
	next := make([]*Message, 0, len(msgs)+4)
	for i := range msgs {
		m := msgs[i]
		m.PeerID = peerID
		seen[m.ServerID] = struct{}{}
		if m.ServerID > maxIncoming {
			maxIncoming = m.ServerID
		}
		next = append(next, &m)
	}

	for _, old := range c.msgs {
		if old.ServerID != 0 {
			if _, ok := seen[old.ServerID]; ok {
				continue
			}
		}
		switch {
		case old.Delivery == DeliveryPending || old.Delivery == DeliveryFailed:
			next = append(next, old)
		case old.ServerID > maxIncoming:
			next = append(next, old)
		}
	}

	c.msgs = next
	if maxIncoming > c.maxServerID {
		c.maxServerID = maxIncoming
	}
	c.fetched = true
}

// AppendPending inserts a locally composed message at the tail.
func (s *Store) AppendPending(peerID string, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.PeerID = peerID
	msg.Delivery = DeliveryPending
	msg.Author = attribute.AuthorSelf
	c := s.conv(peerID)
	c.msgs = append(c.msgs, &msg)
}

// ResolveConfirmed settles a pending message with its server identity.
// At most one resolution per local id; a second attempt returns
// ErrAlreadyResolved.
func (s *Store) ResolveConfirmed(peerID, localID string, serverID, sentAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.pending(peerID, localID)
	if err != nil {
		return err
	}
	m.ServerID = serverID
	m.SentAt = sentAt
	m.Delivery = DeliveryConfirmed
	c := s.conv(peerID)
	if serverID > c.maxServerID {
		c.maxServerID = serverID
	}
	return nil
}

// ResolveFailed settles a pending message as failed. The message is retained,
// visible and distinguishable, never silently dropped.
func (s *Store) ResolveFailed(peerID, localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.pending(peerID, localID)
	if err != nil {
		return err
	}
	m.Delivery = DeliveryFailed
	return nil
}

func (s *Store) pending(peerID, localID string) (*Message, error) {
	c := s.conv(peerID)
	for _, m := range c.msgs {
		if m.LocalID == localID && m.LocalID != "" {
			if m.Delivery != DeliveryPending {
				return nil, ErrAlreadyResolved
			}
			return m, nil
		}
	}
	return nil, ErrUnknownPending
}

// Messages returns a snapshot of a conversation in arrival order.
func (s *Store) Messages(peerID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[peerID]
	if !ok {
		return nil
	}
	out := make([]Message, 0, len(c.msgs))
	for _, m := range c.msgs {
		out = append(out, *m)
	}
	return out
}

// MaxServerID returns the highest server-assigned id held for a conversation.
func (s *Store) MaxServerID(peerID string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[peerID]
	if !ok {
		return 0
	}
	return c.maxServerID
}

// Fetched reports whether a conversation has completed at least one full fetch.
func (s *Store) Fetched(peerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[peerID]
	return ok && c.fetched
}

// UnreadInbound returns the peer-authored unread messages of a conversation.
// Self-authored messages are never candidates for read transitions.
func (s *Store) UnreadInbound(peerID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[peerID]
	if !ok {
		return nil
	}
	var out []Message
	for _, m := range c.msgs {
		if m.Author == attribute.AuthorPeer && !m.Read && m.ServerID != 0 {
			out = append(out, *m)
		}
	}
	return out
}

// MarkRead flips the given inbound messages to read.
func (s *Store) MarkRead(peerID string, serverIDs []int64) {
	if len(serverIDs) == 0 {
		return
	}
	ids := make(map[int64]struct{}, len(serverIDs))
	for _, id := range serverIDs {
		ids[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[peerID]
	if !ok {
		return
	}
	for _, m := range c.msgs {
		if m.Author != attribute.AuthorPeer {
			continue
		}
		if _, hit := ids[m.ServerID]; hit {
			m.Read = true
		}
	}
}

// truncate cuts s to at most maxRunes runes, never splitting a multi-byte
// sequence.
func truncate(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes])
}
