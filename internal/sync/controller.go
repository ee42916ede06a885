// Package sync orchestrates the engine: it owns which conversation is
// active, drives fetch -> attribute -> merge -> mark-read, and exposes the
// operations the embedding UI layer calls.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mfalves/dmsync/internal/attribute"
	"github.com/mfalves/dmsync/internal/bus"
	"github.com/mfalves/dmsync/internal/outbox"
	"github.com/mfalves/dmsync/internal/receipt"
	"github.com/mfalves/dmsync/internal/remote"
	"github.com/mfalves/dmsync/internal/status"
	"github.com/mfalves/dmsync/internal/store"
	"go.uber.org/zap"
)

// degradedThreshold is the number of consecutive poll failures before the
// engine reports Degraded. Recovery on the first success.
const degradedThreshold = 3

// Controller coordinates the cache, the send coordinator, the read receipt
// tracker and the remote store. The per-session conversation state is mutated
// only here and in its subordinate components; the view layer reads snapshots.
type Controller struct {
	selfID string
	viewer attribute.Role

	cache    *store.Store
	remote   remote.Store
	sent     *attribute.SentRegistry
	sender   *outbox.Coordinator
	receipts *receipt.Tracker
	machine  *status.Machine
	bus      *bus.Bus
	logger   *zap.Logger

	mu       sync.Mutex
	active   string // peer id of the active conversation, "" when none
	inflight map[string]bool
	failures int // consecutive poll failures
}

// NewController creates the sync controller.
func NewController(
	selfID string,
	viewer attribute.Role,
	cache *store.Store,
	rs remote.Store,
	sent *attribute.SentRegistry,
	sender *outbox.Coordinator,
	receipts *receipt.Tracker,
	machine *status.Machine,
	b *bus.Bus,
	logger *zap.Logger,
) *Controller {
	return &Controller{
		selfID:   selfID,
		viewer:   viewer,
		cache:    cache,
		remote:   rs,
		sent:     sent,
		sender:   sender,
		receipts: receipts,
		machine:  machine,
		bus:      b,
		logger:   logger,
		inflight: make(map[string]bool),
	}
}

// Store exposes the cache for snapshot reads.
func (c *Controller) Store() *store.Store { return c.cache }

// Status exposes the runtime state machine.
func (c *Controller) Status() *status.Machine { return c.machine }

// InitialLoad fetches peers and summaries. A failure here is the one polling
// failure that is user-visible: the machine lands in Error and Retry re-runs
// the load.
func (c *Controller) InitialLoad(ctx context.Context) error {
	if err := c.machine.Transition(status.Loading); err != nil {
		c.logger.Warn("unexpected state at initial load", zap.Error(err))
	}

	peers, err := c.remote.ListPeers(ctx, c.selfID)
	if err != nil {
		_ = c.machine.Transition(status.Error)
		return fmt.Errorf("initial load: %w", err)
	}
	sums, err := c.remote.ListSummaries(ctx, c.selfID)
	if err != nil {
		_ = c.machine.Transition(status.Error)
		return fmt.Errorf("initial load: %w", err)
	}

	c.cache.UpsertPeers(peersFromRemote(peers))
	merged := summariesFromRemote(sums)
	c.cache.MergeSummaries(merged)
	_ = c.machine.Transition(status.Ready)

	c.publish(bus.KindPeersUpdated, c.cache.Peers())
	c.publish(bus.KindSummaryUpdated, merged)
	c.publish(bus.KindSyncInitialLoad, len(merged))
	c.logger.Info("initial load complete",
		zap.Int("peers", len(peers)),
		zap.Int("conversations", len(sums)))
	return nil
}

// Retry re-runs the initial load after a blocking failure.
func (c *Controller) Retry(ctx context.Context) error {
	return c.InitialLoad(ctx)
}

// Activate makes a conversation the active one and synchronizes it. Read
// receipts fire as part of activation even when the fetch brings nothing new.
func (c *Controller) Activate(ctx context.Context, peerID string) {
	if peerID == "" {
		return
	}
	c.mu.Lock()
	c.active = peerID
	c.mu.Unlock()
	c.refresh(ctx, peerID, true)
}

// Deactivate clears the active conversation.
func (c *Controller) Deactivate() {
	c.mu.Lock()
	c.active = ""
	c.mu.Unlock()
}

// Active returns the active conversation's peer id, or "".
func (c *Controller) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// RefreshActive runs a delta check for the active conversation, if any.
// Called by the scheduler.
func (c *Controller) RefreshActive(ctx context.Context) {
	if peerID := c.Active(); peerID != "" {
		c.refresh(ctx, peerID, false)
	}
}

// Send delegates to the optimistic send coordinator.
func (c *Controller) Send(ctx context.Context, peerID, body string, file bool) (string, error) {
	return c.sender.Send(ctx, peerID, body, file)
}

// refresh fetches one conversation and reconciles the result. At most one
// fetch per conversation is outstanding; an overlapping call is a no-op.
// The fetch is tagged with its peer id and relevance is re-checked when the
// response arrives: a result for a no-longer-active conversation still
// updates stored state but triggers no read-receipt marking.
func (c *Controller) refresh(ctx context.Context, peerID string, activation bool) {
	c.mu.Lock()
	if c.inflight[peerID] {
		c.mu.Unlock()
		return
	}
	c.inflight[peerID] = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inflight, peerID)
		c.mu.Unlock()
	}()

	raws, err := c.remote.FetchConversation(ctx, c.selfID, peerID)
	if err != nil {
		var shape *remote.DataShapeError
		if errors.As(err, &shape) {
			// Degrade to the unchanged local state for this conversation.
			c.logger.Error("malformed conversation payload", zap.String("peer", peerID), zap.Error(err))
			return
		}
		c.pollFailed(err)
		return
	}
	c.pollSucceeded()

	known := c.cache.MaxServerID(peerID)
	first := !c.cache.Fetched(peerID)
	var maxIncoming int64
	for _, r := range raws {
		if r.ID > maxIncoming {
			maxIncoming = r.ID
		}
	}

	applied := false
	if first || maxIncoming > known {
		msgs := make([]store.Message, 0, len(raws))
		for _, r := range raws {
			msgs = append(msgs, store.Message{
				ServerID: r.ID,
				PeerID:   peerID,
				Author:   attribute.Attribute(r, c.viewer, c.sent),
				Body:     r.Body,
				File:     r.File,
				SentAt:   r.SentAt,
				Read:     r.Read,
				Delivery: store.DeliveryConfirmed,
			})
		}
		c.cache.ReplaceMessages(peerID, msgs)
		c.cache.SetUnread(peerID, len(c.cache.UnreadInbound(peerID)))
		c.publish(bus.KindSyncDelta, msgs)
		applied = true
	}

	if c.Active() != peerID {
		return
	}
	if applied || activation {
		c.receipts.OnActivated(ctx, peerID)
	}
}

// RefreshSummaries re-fetches the conversation summary list. Failures are
// invisible; the next tick retries.
func (c *Controller) RefreshSummaries(ctx context.Context) {
	sums, err := c.remote.ListSummaries(ctx, c.selfID)
	if err != nil {
		var shape *remote.DataShapeError
		if errors.As(err, &shape) {
			c.logger.Error("malformed summary payload", zap.Error(err))
			return
		}
		c.pollFailed(err)
		return
	}
	c.pollSucceeded()
	merged := summariesFromRemote(sums)
	c.cache.MergeSummaries(merged)
	c.publish(bus.KindSummaryUpdated, merged)
}

// RefreshPeers re-fetches the peer list, refreshing presence in place.
func (c *Controller) RefreshPeers(ctx context.Context) {
	peers, err := c.remote.ListPeers(ctx, c.selfID)
	if err != nil {
		c.logger.Warn("peer refresh failed", zap.Error(err))
		return
	}
	c.cache.UpsertPeers(peersFromRemote(peers))
	c.publish(bus.KindPeersUpdated, c.cache.Peers())
}

func (c *Controller) pollFailed(err error) {
	c.mu.Lock()
	c.failures++
	n := c.failures
	c.mu.Unlock()
	c.logger.Warn("poll failed", zap.Int("consecutive", n), zap.Error(err))
	if n >= degradedThreshold && c.machine.Current() == status.Ready {
		_ = c.machine.Transition(status.Degraded)
	}
}

func (c *Controller) pollSucceeded() {
	c.mu.Lock()
	c.failures = 0
	c.mu.Unlock()
	if c.machine.Current() == status.Degraded {
		_ = c.machine.Transition(status.Ready)
	}
}

func (c *Controller) publish(kind string, payload any) {
	c.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func peersFromRemote(in []remote.Peer) []store.Peer {
	out := make([]store.Peer, 0, len(in))
	for _, p := range in {
		out = append(out, store.Peer{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			AvatarRef:   p.AvatarRef,
			Online:      p.Online,
		})
	}
	return out
}

func summariesFromRemote(in []remote.Summary) []store.Summary {
	out := make([]store.Summary, 0, len(in))
	for _, s := range in {
		out = append(out, store.Summary{
			PeerID:         s.PeerID,
			Preview:        s.Preview,
			File:           s.File,
			LastActivityAt: s.LastActivityAt,
			UnreadCount:    s.UnreadCount,
		})
	}
	return out
}
