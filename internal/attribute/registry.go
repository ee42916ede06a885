package attribute

import "sync"

// DefaultRegistryLimit bounds the sent-id registry. Old entries are evicted
// FIFO; a session that outlives the bound degrades to peer-attribution for
// its oldest legacy sends, which matches the post-reload behavior anyway.
const DefaultRegistryLimit = 4096

// SentRegistry remembers the server ids of messages this session sent, for
// the legacy attribution fallback. Session-scoped and deliberately not
// persisted; see the package comment.
type SentRegistry struct {
	mu    sync.Mutex
	limit int
	ids   map[int64]struct{}
	order []int64
}

// NewSentRegistry creates a registry holding at most limit ids.
func NewSentRegistry(limit int) *SentRegistry {
	if limit <= 0 {
		limit = DefaultRegistryLimit
	}
	return &SentRegistry{
		limit: limit,
		ids:   make(map[int64]struct{}),
	}
}

// Add records a server-assigned message id as sent by this session.
func (r *SentRegistry) Add(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[id]; ok {
		return
	}
	if len(r.order) >= r.limit {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.ids, oldest)
	}
	r.ids[id] = struct{}{}
	r.order = append(r.order, id)
}

// Contains reports whether this session sent the given id.
func (r *SentRegistry) Contains(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ids[id]
	return ok
}

// Len returns the number of remembered ids.
func (r *SentRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}
