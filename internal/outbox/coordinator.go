// Package outbox implements optimistic message delivery: a send appears in
// the local cache immediately as a pending entry and is reconciled (or marked
// failed) when the remote Conversation Store answers.
package outbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mfalves/dmsync/internal/attribute"
	"github.com/mfalves/dmsync/internal/bus"
	"github.com/mfalves/dmsync/internal/remote"
	"github.com/mfalves/dmsync/internal/store"
	"go.uber.org/zap"
)

// Coordinator drives the pending -> confirmed|failed lifecycle of local
// sends. Multiple sends may be in flight concurrently; each carries an
// independent local id and resolves independently.
type Coordinator struct {
	selfID string
	cache  *store.Store
	remote remote.Store
	sent   *attribute.SentRegistry
	bus    *bus.Bus
	logger *zap.Logger
}

// NewCoordinator creates a send coordinator.
func NewCoordinator(selfID string, cache *store.Store, rs remote.Store, sent *attribute.SentRegistry, b *bus.Bus, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		selfID: selfID,
		cache:  cache,
		remote: rs,
		sent:   sent,
		bus:    b,
		logger: logger,
	}
}

// Send validates, appends a pending message, updates the summary preview
// optimistically, then calls the remote store and resolves the pending entry
// exactly once. Blocks until the send settles; returns the local id either
// way so callers can locate the entry. A failed message stays visible and is
// not retried automatically.
func (c *Coordinator) Send(ctx context.Context, peerID, body string, file bool) (string, error) {
	if c.selfID == "" || peerID == "" {
		return "", remote.ErrMissingIdentity
	}
	if strings.TrimSpace(body) == "" {
		return "", remote.ErrEmptyMessage
	}

	localID := uuid.NewString()
	now := time.Now().UnixMilli()
	msg := store.Message{
		LocalID: localID,
		Body:    body,
		File:    file,
		SentAt:  now,
	}
	c.cache.AppendPending(peerID, msg)
	c.cache.SetPreviewOptimistic(peerID, body, file, now)
	c.publish(bus.KindMessageUpserted, snapshot(c.cache, peerID, localID))
	if sum, ok := c.cache.Summary(peerID); ok {
		c.publish(bus.KindSummaryUpdated, []store.Summary{sum})
	}

	receipt, err := c.remote.SendMessage(ctx, c.selfID, peerID, body, file)
	if err != nil {
		c.logger.Error("send failed",
			zap.String("peer", peerID),
			zap.String("local_id", localID),
			zap.Error(err))
		if rerr := c.cache.ResolveFailed(peerID, localID); rerr != nil {
			c.logger.Error("failed to mark send failed", zap.String("local_id", localID), zap.Error(rerr))
		}
		c.publish(bus.KindMessageSendFailed, snapshot(c.cache, peerID, localID))
		return localID, fmt.Errorf("send to %s: %w", peerID, err)
	}

	if rerr := c.cache.ResolveConfirmed(peerID, localID, receipt.ID, receipt.SentAt); rerr != nil {
		// Resolution is single-shot; anything else here is a bug upstream.
		c.logger.Error("failed to confirm send", zap.String("local_id", localID), zap.Error(rerr))
		return localID, rerr
	}
	c.sent.Add(receipt.ID)
	c.logger.Info("message sent",
		zap.String("peer", peerID),
		zap.String("local_id", localID),
		zap.Int64("server_id", receipt.ID))
	c.publish(bus.KindMessageSendAck, snapshot(c.cache, peerID, localID))
	return localID, nil
}

func (c *Coordinator) publish(kind string, payload any) {
	c.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// snapshot finds the current state of a local send for event payloads.
func snapshot(cache *store.Store, peerID, localID string) store.Message {
	for _, m := range cache.Messages(peerID) {
		if m.LocalID == localID {
			return m
		}
	}
	return store.Message{PeerID: peerID, LocalID: localID}
}
