package archive

import (
	"context"

	"github.com/mfalves/dmsync/internal/bus"
	"github.com/mfalves/dmsync/internal/store"
	"go.uber.org/zap"
)

// Recorder subscribes to engine events and mirrors confirmed traffic into
// the archive. Idempotent upserts make replayed or overlapping events safe.
type Recorder struct {
	db     *DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewRecorder creates an archive recorder.
func NewRecorder(db *DB, b *bus.Bus, logger *zap.Logger) *Recorder {
	return &Recorder{db: db, bus: b, logger: logger}
}

// Start subscribes to message, sync and summary events on the bus.
func (r *Recorder) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	msgCh, unsubMsg := r.bus.Subscribe("message.", 256)
	syncCh, unsubSync := r.bus.Subscribe("sync.", 64)
	sumCh, unsubSum := r.bus.Subscribe("summary.", 64)

	go func() {
		defer unsubMsg()
		defer unsubSync()
		defer unsubSum()
		for {
			select {
			case evt := <-msgCh:
				r.handle(evt)
			case evt := <-syncCh:
				r.handle(evt)
			case evt := <-sumCh:
				r.handle(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the recorder.
func (r *Recorder) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Recorder) handle(evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessageSendAck:
		msg, ok := evt.Payload.(store.Message)
		if !ok || msg.Delivery != store.DeliveryConfirmed {
			return
		}
		if err := r.db.UpsertMessage(msg); err != nil {
			r.logger.Error("failed to archive message",
				zap.Int64("server_id", msg.ServerID), zap.Error(err))
		}
	case bus.KindSyncDelta:
		msgs, ok := evt.Payload.([]store.Message)
		if !ok {
			return
		}
		if err := r.db.UpsertBatch(msgs); err != nil {
			r.logger.Error("failed to archive batch", zap.Int("count", len(msgs)), zap.Error(err))
		}
	case bus.KindSummaryUpdated:
		sums, ok := evt.Payload.([]store.Summary)
		if !ok {
			return
		}
		for _, s := range sums {
			if s.Optimistic {
				// Only server-confirmed summaries are archived.
				continue
			}
			if err := r.db.UpsertConversation(s); err != nil {
				r.logger.Error("failed to archive conversation",
					zap.String("peer", s.PeerID), zap.Error(err))
			}
		}
	}
}
