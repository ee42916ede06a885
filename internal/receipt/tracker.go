// Package receipt marks inbound messages as read when their conversation is
// activated, acknowledging each one to the remote store best-effort.
package receipt

import (
	"context"
	"sync"
	"time"

	"github.com/mfalves/dmsync/internal/bus"
	"github.com/mfalves/dmsync/internal/remote"
	"github.com/mfalves/dmsync/internal/store"
	"go.uber.org/zap"
)

// Tracker issues read acknowledgements for unread inbound messages.
type Tracker struct {
	cache  *store.Store
	remote remote.Store
	bus    *bus.Bus
	logger *zap.Logger
}

// NewTracker creates a read receipt tracker.
func NewTracker(cache *store.Store, rs remote.Store, b *bus.Bus, logger *zap.Logger) *Tracker {
	return &Tracker{cache: cache, remote: rs, bus: b, logger: logger}
}

// OnActivated acknowledges every unread peer-authored message in the
// conversation. Acks run in parallel and settle independently: a failed ack
// leaves its message unread locally (retried on the next activation or sync)
// and does not block or roll back the others. The unread count is recomputed
// from what is still unread afterwards. Never touches self-authored messages,
// never surfaces errors; read acks are not safety-critical.
func (t *Tracker) OnActivated(ctx context.Context, peerID string) {
	unread := t.cache.UnreadInbound(peerID)
	if len(unread) == 0 {
		t.cache.SetUnread(peerID, 0)
		return
	}

	var (
		mu    sync.Mutex
		acked []int64
		wg    sync.WaitGroup
	)
	for _, m := range unread {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if err := t.remote.AcknowledgeRead(ctx, id); err != nil {
				t.logger.Warn("read ack failed",
					zap.String("peer", peerID),
					zap.Int64("message_id", id),
					zap.Error(err))
				return
			}
			mu.Lock()
			acked = append(acked, id)
			mu.Unlock()
		}(m.ServerID)
	}
	wg.Wait()

	t.cache.MarkRead(peerID, acked)
	outstanding := len(t.cache.UnreadInbound(peerID))
	t.cache.SetUnread(peerID, outstanding)

	if len(acked) > 0 {
		t.bus.Publish(bus.Event{
			Kind:      bus.KindMessageRead,
			Timestamp: time.Now(),
			Payload:   map[string]any{"peer_id": peerID, "acked": len(acked)},
		})
		if sum, ok := t.cache.Summary(peerID); ok {
			t.bus.Publish(bus.Event{
				Kind:      bus.KindSummaryUpdated,
				Timestamp: time.Now(),
				Payload:   []store.Summary{sum},
			})
		}
	}
	t.logger.Info("read receipts settled",
		zap.String("peer", peerID),
		zap.Int("acked", len(acked)),
		zap.Int("outstanding", outstanding))
}
