package archive

import (
	"time"

	"github.com/mfalves/dmsync/internal/attribute"
	"github.com/mfalves/dmsync/internal/store"
)

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message store.Message
	Snippet string
}

// UpsertConversation inserts or updates a conversation row (idempotent on peer_id).
func (db *DB) UpsertConversation(s store.Summary) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (peer_id, preview, is_file, last_activity_at, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			preview = excluded.preview,
			is_file = excluded.is_file,
			last_activity_at = MAX(conversations.last_activity_at, excluded.last_activity_at),
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at`,
		s.PeerID, s.Preview, s.File, s.LastActivityAt, s.UnreadCount, now)
	return err
}

// UpsertMessage inserts or updates a confirmed message (idempotent on
// peer_id + server_id). Pending and failed entries never reach the archive.
func (db *DB) UpsertMessage(m store.Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (peer_id, server_id, author, body, is_file, is_read, sent_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(peer_id, server_id) DO UPDATE SET
			body = excluded.body,
			is_read = excluded.is_read`,
		m.PeerID, m.ServerID, m.Author.String(), m.Body, m.File, m.Read, m.SentAt, now)
	return err
}

// UpsertBatch records a merged fetch in a single transaction.
func (db *DB) UpsertBatch(msgs []store.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if m.Delivery != store.DeliveryConfirmed {
			continue
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (peer_id, server_id, author, body, is_file, is_read, sent_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(peer_id, server_id) DO UPDATE SET
				body = excluded.body,
				is_read = excluded.is_read`,
			m.PeerID, m.ServerID, m.Author.String(), m.Body, m.File, m.Read, m.SentAt, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListConversations returns archived conversations, most recent first.
func (db *DB) ListConversations(limit int) ([]store.Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT peer_id, preview, is_file, last_activity_at, unread_count
		FROM conversations
		ORDER BY last_activity_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []store.Summary
	for rows.Next() {
		var s store.Summary
		if err := rows.Scan(&s.PeerID, &s.Preview, &s.File, &s.LastActivityAt, &s.UnreadCount); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListMessages returns archived messages for a peer using keyset pagination
// by sent timestamp.
func (db *DB) ListMessages(peerID string, beforeTs int64, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT peer_id, server_id, author, body, is_file, is_read, sent_at
		FROM messages
		WHERE peer_id = ? AND sent_at < ?
		ORDER BY sent_at DESC
		LIMIT ?`, peerID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// SearchMessages performs a full-text search on archived message bodies.
func (db *DB) SearchMessages(query string, peerID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.peer_id, m.server_id, m.author, m.body, m.is_file, m.is_read, m.sent_at,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if peerID != "" {
		q += " AND m.peer_id = ?"
		args = append(args, peerID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var author string
		if err := rows.Scan(
			&r.Message.PeerID, &r.Message.ServerID, &author, &r.Message.Body,
			&r.Message.File, &r.Message.Read, &r.Message.SentAt, &r.Snippet,
		); err != nil {
			return nil, err
		}
		r.Message.Author = parseAuthor(author)
		r.Message.Delivery = store.DeliveryConfirmed
		results = append(results, r)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanMessages(rows rowScanner) ([]store.Message, error) {
	var out []store.Message
	for rows.Next() {
		var m store.Message
		var author string
		if err := rows.Scan(&m.PeerID, &m.ServerID, &author, &m.Body, &m.File, &m.Read, &m.SentAt); err != nil {
			return nil, err
		}
		m.Author = parseAuthor(author)
		m.Delivery = store.DeliveryConfirmed
		out = append(out, m)
	}
	return out, rows.Err()
}

func parseAuthor(s string) attribute.Author {
	if s == "self" {
		return attribute.AuthorSelf
	}
	return attribute.AuthorPeer
}
