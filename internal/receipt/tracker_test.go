package receipt

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/mfalves/dmsync/internal/attribute"
	"github.com/mfalves/dmsync/internal/bus"
	"github.com/mfalves/dmsync/internal/remote"
	"github.com/mfalves/dmsync/internal/store"
	"go.uber.org/zap"
)

// mockAcker fails acknowledgements for ids in failIDs.
type mockAcker struct {
	remote.Store

	mu      sync.Mutex
	acked   []int64
	failIDs map[int64]bool
}

func (m *mockAcker) AcknowledgeRead(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIDs[id] {
		return fmt.Errorf("ack %d: connection reset", id)
	}
	m.acked = append(m.acked, id)
	return nil
}

func inbound(id int64, read bool) store.Message {
	return store.Message{ServerID: id, Author: attribute.AuthorPeer, Body: "in", Read: read, Delivery: store.DeliveryConfirmed}
}

func newTracker(mock *mockAcker) (*Tracker, *store.Store) {
	cache := store.New()
	logger, _ := zap.NewDevelopment()
	return NewTracker(cache, mock, bus.New(), logger), cache
}

func TestOnActivatedMarksAllRead(t *testing.T) {
	mock := &mockAcker{}
	tr, cache := newTracker(mock)
	cache.ReplaceMessages("p", []store.Message{
		inbound(1, false),
		inbound(2, false),
		{ServerID: 3, Author: attribute.AuthorSelf, Body: "mine", Delivery: store.DeliveryConfirmed},
	})
	cache.SetUnread("p", 2)

	tr.OnActivated(context.Background(), "p")

	if len(mock.acked) != 2 {
		t.Errorf("acked %d messages, want 2 (never self-authored)", len(mock.acked))
	}
	for _, m := range cache.Messages("p") {
		if m.Author == attribute.AuthorPeer && !m.Read {
			t.Errorf("message %d still unread", m.ServerID)
		}
	}
	sum, _ := cache.Summary("p")
	if sum.UnreadCount != 0 {
		t.Errorf("unread count = %d, want 0", sum.UnreadCount)
	}
}

// Partial failure: the failed ack's message stays unread and is counted,
// successful acks are not rolled back.
func TestOnActivatedPartialFailure(t *testing.T) {
	mock := &mockAcker{failIDs: map[int64]bool{7: true}}
	tr, cache := newTracker(mock)
	cache.ReplaceMessages("p", []store.Message{
		inbound(5, false),
		inbound(6, false),
		inbound(7, false),
		inbound(8, false),
	})
	cache.SetUnread("p", 4)

	tr.OnActivated(context.Background(), "p")

	for _, m := range cache.Messages("p") {
		wantRead := m.ServerID != 7
		if m.Read != wantRead {
			t.Errorf("message %d read = %v, want %v", m.ServerID, m.Read, wantRead)
		}
	}
	sum, _ := cache.Summary("p")
	if sum.UnreadCount != 1 {
		t.Errorf("unread count = %d, want 1 (only the failed ack outstanding)", sum.UnreadCount)
	}
}

// The failed message is retried on the next activation.
func TestOnActivatedRetriesOnNextActivation(t *testing.T) {
	mock := &mockAcker{failIDs: map[int64]bool{7: true}}
	tr, cache := newTracker(mock)
	cache.ReplaceMessages("p", []store.Message{inbound(7, false)})

	tr.OnActivated(context.Background(), "p")
	if sum, _ := cache.Summary("p"); sum.UnreadCount != 1 {
		t.Fatalf("unread = %d after failed ack, want 1", sum.UnreadCount)
	}

	mock.mu.Lock()
	mock.failIDs = nil
	mock.mu.Unlock()

	tr.OnActivated(context.Background(), "p")
	if sum, _ := cache.Summary("p"); sum.UnreadCount != 0 {
		t.Errorf("unread = %d after retry, want 0", sum.UnreadCount)
	}
}

func TestOnActivatedNothingUnread(t *testing.T) {
	mock := &mockAcker{}
	tr, cache := newTracker(mock)
	cache.ReplaceMessages("p", []store.Message{inbound(1, true)})

	tr.OnActivated(context.Background(), "p")

	if len(mock.acked) != 0 {
		t.Errorf("acked %d, want 0", len(mock.acked))
	}
	if sum, _ := cache.Summary("p"); sum.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", sum.UnreadCount)
	}
}
