// Package attribute decides, for a raw message record, whether the local
// viewer or the remote peer authored it.
//
// The Conversation Store has no reliable per-message sender field. Newer
// records carry a from_counterpart flag meaning "authored by the counterpart
// role" in absolute terms, so each screen inverts it against its own role.
// Legacy records lack the flag entirely and fall back to a session-local
// registry of ids this session itself sent.
//
// Known weakness, kept on purpose: the registry is not persisted, so a fresh
// session viewing an old conversation cannot recover true authorship for
// flag-less records and attributes them all to the peer. Do not "fix" this
// here; the flag semantics need confirmation against the store before the
// fallback can be retired.
package attribute

import "github.com/mfalves/dmsync/internal/remote"

// Attribute labels a raw message as authored by Self or Peer for the given
// viewing role. Pure; callers maintain the sent registry on send confirmation.
func Attribute(raw remote.RawMessage, viewer Role, sent *SentRegistry) Author {
	if raw.FromCounterpart != nil {
		byCounterpart := *raw.FromCounterpart
		if viewer == RoleCounterpart {
			byCounterpart = !byCounterpart
		}
		if byCounterpart {
			return AuthorPeer
		}
		return AuthorSelf
	}

	// Legacy record: trust only what this session remembers sending.
	if sent != nil && sent.Contains(raw.ID) {
		return AuthorSelf
	}
	return AuthorPeer
}
