package bus

import "time"

// Event kinds published by the engine. Subscribers filter by prefix, so
// "message." matches every message lifecycle event.
const (
	KindMessageUpserted   = "message.upserted"
	KindMessageSendAck    = "message.send_ack"
	KindMessageSendFailed = "message.send_failed"
	KindMessageRead       = "message.read"
	KindSummaryUpdated    = "summary.updated"
	KindPeersUpdated      = "peers.updated"
	KindSyncDelta         = "sync.delta"
	KindSyncInitialLoad   = "sync.initial_load"
	KindStatusChanged     = "engine.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
