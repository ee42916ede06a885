package sync

import (
	"context"
	"fmt"
	"sync"
	"testing"
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

func boolPtr(b bool) *bool { return &b }

// mockRemote is a scriptable in-memory Conversation Store.
type mockRemote struct {
	mu sync.Mutex

	peers     []remote.Peer
	summaries []remote.Summary
	convos    map[string][]remote.RawMessage

	peersErr   error
	sumErr     error
	fetchErr   error
	ackErr     map[int64]error
	fetchGate  chan struct{} // when set, FetchConversation blocks until closed
	fetchCalls int
	acked      []int64
	nextSendID int64
}

func newMockRemote() *mockRemote {
	return &mockRemote{convos: make(map[string][]remote.RawMessage), nextSendID: 100}
}

func (m *mockRemote) ListPeers(_ context.Context, selfID string) ([]remote.Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.peersErr != nil {
		return nil, m.peersErr
	}
	return m.peers, nil
}

func (m *mockRemote) ListSummaries(_ context.Context, selfID string) ([]remote.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sumErr != nil {
		return nil, m.sumErr
	}
	return m.summaries, nil
}

func (m *mockRemote) FetchConversation(_ context.Context, selfID, peerID string) ([]remote.RawMessage, error) {
	m.mu.Lock()
	gate := m.fetchGate
	m.fetchCalls++
	err := m.fetchErr
	msgs := m.convos[peerID]
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (m *mockRemote) SendMessage(_ context.Context, selfID, peerID, body string, file bool) (remote.SendReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSendID++
	return remote.SendReceipt{ID: m.nextSendID, SentAt: m.nextSendID * 10}, nil
}

func (m *mockRemote) AcknowledgeRead(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ackErr[id]; err != nil {
		return err
	}
	m.acked = append(m.acked, id)
	return nil
}

func newController(t *testing.T, mock *mockRemote, viewer attribute.Role) *Controller {
	t.Helper()
	cache := store.New()
	sent := attribute.NewSentRegistry(100)
	b := bus.New()
	logger := zap.NewNop()
	sender := outbox.NewCoordinator("me", cache, mock, sent, b, logger)
	receipts := receipt.NewTracker(cache, mock, b, logger)
	machine := status.NewMachine(b)
	return NewController("me", viewer, cache, mock, sent, sender, receipts, machine, b, logger)
}

func TestInitialLoadSuccess(t *testing.T) {
	mock := newMockRemote()
	mock.peers = []remote.Peer{{ID: "b", DisplayName: "B", Online: true}}
	mock.summaries = []remote.Summary{{PeerID: "b", Preview: "hey", LastActivityAt: 10, UnreadCount: 1}}
	c := newController(t, mock, attribute.RoleInitiator)

	if err := c.InitialLoad(context.Background()); err != nil {
		t.Fatalf("InitialLoad() error = %v", err)
	}
	if c.Status().Current() != status.Ready {
		t.Errorf("state = %s, want READY", c.Status().Current())
	}
	if len(c.Store().Peers()) != 1 {
		t.Error("peers not cached")
	}
	if sum, ok := c.Store().Summary("b"); !ok || sum.UnreadCount != 1 {
		t.Errorf("summary = %+v, ok = %v", sum, ok)
	}
}

func TestInitialLoadFailureBlocksWithRetry(t *testing.T) {
	mock := newMockRemote()
	mock.peersErr = &remote.TransportError{Op: "list peers", Err: fmt.Errorf("refused")}
	c := newController(t, mock, attribute.RoleInitiator)

	if err := c.InitialLoad(context.Background()); err == nil {
		t.Fatal("InitialLoad() should fail")
	}
	if c.Status().Current() != status.Error {
		t.Fatalf("state = %s, want ERROR", c.Status().Current())
	}

	mock.mu.Lock()
	mock.peersErr = nil
	mock.mu.Unlock()

	if err := c.Retry(context.Background()); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if c.Status().Current() != status.Ready {
		t.Errorf("state after retry = %s, want READY", c.Status().Current())
	}
}

func TestActivateFetchesAttributesAndMarksRead(t *testing.T) {
	mock := newMockRemote()
	mock.convos["b"] = []remote.RawMessage{
		{ID: 1, Body: "from them", SentAt: 100, FromCounterpart: boolPtr(true)},
		{ID: 2, Body: "from me", SentAt: 200, Read: true, FromCounterpart: boolPtr(false)},
		{ID: 3, Body: "legacy", SentAt: 300},
	}
	c := newController(t, mock, attribute.RoleInitiator)

	c.Activate(context.Background(), "b")

	msgs := c.Store().Messages("b")
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].Author != attribute.AuthorPeer {
		t.Error("flagged counterpart message should be peer for the initiator")
	}
	if msgs[1].Author != attribute.AuthorSelf {
		t.Error("unflagged-counterpart message should be self for the initiator")
	}
	if msgs[2].Author != attribute.AuthorPeer {
		t.Error("legacy message with empty registry should default to peer")
	}

	// Unread inbound messages (1 and 3) were acknowledged.
	mock.mu.Lock()
	acked := append([]int64(nil), mock.acked...)
	mock.mu.Unlock()
	if len(acked) != 2 {
		t.Errorf("acked = %v, want ids 1 and 3", acked)
	}
	if sum, _ := c.Store().Summary("b"); sum.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", sum.UnreadCount)
	}
}

func TestSwitchingActiveBeforeFetchResolvesStoresButNoSideEffects(t *testing.T) {
	mock := newMockRemote()
	mock.convos["b"] = []remote.RawMessage{
		{ID: 1, Body: "unread", SentAt: 100, FromCounterpart: boolPtr(true)},
	}
	gate := make(chan struct{})
	mock.fetchGate = gate
	c := newController(t, mock, attribute.RoleInitiator)

	done := make(chan struct{})
	go func() {
		c.Activate(context.Background(), "b")
		close(done)
	}()

	// Let the fetch start, then switch away before it resolves.
	time.Sleep(50 * time.Millisecond)
	c.mu.Lock()
	c.active = "other"
	c.mu.Unlock()
	mock.mu.Lock()
	mock.fetchGate = nil
	mock.mu.Unlock()
	close(gate)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("activation did not settle")
	}

	// The fetched data is stored...
	if len(c.Store().Messages("b")) != 1 {
		t.Fatal("stale fetch result was discarded from the store")
	}
	// ...but no read acknowledgement fired for the no-longer-active peer.
	mock.mu.Lock()
	acked := len(mock.acked)
	mock.mu.Unlock()
	if acked != 0 {
		t.Errorf("acked %d messages for an inactive conversation, want 0", acked)
	}
}

func TestSingleFlightPerConversation(t *testing.T) {
	mock := newMockRemote()
	gate := make(chan struct{})
	mock.fetchGate = gate
	c := newController(t, mock, attribute.RoleInitiator)
	c.mu.Lock()
	c.active = "b"
	c.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RefreshActive(context.Background())
		}()
	}
	time.Sleep(100 * time.Millisecond)
	mock.mu.Lock()
	mock.fetchGate = nil
	mock.mu.Unlock()
	close(gate)
	wg.Wait()

	mock.mu.Lock()
	calls := mock.fetchCalls
	mock.mu.Unlock()
	if calls != 1 {
		t.Errorf("fetch calls = %d, want 1 (overlapping ticks no-op)", calls)
	}
}

func TestDeltaCheckSkipsWhenNothingNew(t *testing.T) {
	mock := newMockRemote()
	mock.convos["b"] = []remote.RawMessage{
		{ID: 1, Body: "a", SentAt: 100, Read: true, FromCounterpart: boolPtr(true)},
	}
	c := newController(t, mock, attribute.RoleInitiator)
	b := c.bus

	c.Activate(context.Background(), "b")

	ch, unsub := b.Subscribe(bus.KindSyncDelta, 10)
	defer unsub()

	// Second poll with identical data: no delta event downstream.
	c.RefreshActive(context.Background())
	select {
	case evt := <-ch:
		t.Errorf("unexpected delta event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}

	// New id beyond the known maximum: delta applies.
	mock.mu.Lock()
	mock.convos["b"] = append(mock.convos["b"], remote.RawMessage{ID: 2, Body: "new", SentAt: 200, FromCounterpart: boolPtr(true)})
	mock.mu.Unlock()
	c.RefreshActive(context.Background())

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for delta event")
	}
	if len(c.Store().Messages("b")) != 2 {
		t.Errorf("got %d messages, want 2", len(c.Store().Messages("b")))
	}
}

func TestPollFailuresDegradeAndRecover(t *testing.T) {
	mock := newMockRemote()
	c := newController(t, mock, attribute.RoleInitiator)
	if err := c.InitialLoad(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.mu.Lock()
	c.active = "b"
	c.mu.Unlock()

	mock.mu.Lock()
	mock.fetchErr = &remote.TransportError{Op: "fetch conversation", Err: fmt.Errorf("timeout")}
	mock.mu.Unlock()

	for i := 0; i < degradedThreshold; i++ {
		c.RefreshActive(context.Background())
	}
	if c.Status().Current() != status.Degraded {
		t.Fatalf("state = %s, want DEGRADED after %d failures", c.Status().Current(), degradedThreshold)
	}

	mock.mu.Lock()
	mock.fetchErr = nil
	mock.mu.Unlock()
	c.RefreshActive(context.Background())
	if c.Status().Current() != status.Ready {
		t.Errorf("state = %s, want READY after recovery", c.Status().Current())
	}
}

func TestDataShapeErrorLeavesStateUnchanged(t *testing.T) {
	mock := newMockRemote()
	mock.convos["b"] = []remote.RawMessage{{ID: 1, Body: "ok", SentAt: 1, Read: true, FromCounterpart: boolPtr(true)}}
	c := newController(t, mock, attribute.RoleInitiator)
	c.Activate(context.Background(), "b")

	mock.mu.Lock()
	mock.fetchErr = &remote.DataShapeError{Op: "fetch conversation", Detail: "missing ids"}
	mock.mu.Unlock()
	c.RefreshActive(context.Background())

	if len(c.Store().Messages("b")) != 1 {
		t.Error("conversation state changed on malformed payload")
	}
	if c.Status().Current() == status.Degraded {
		t.Error("shape errors must not count as transport failures")
	}
}

// Sending to a peer with no prior conversation creates the summary
// immediately and leaves exactly one confirmed message after reconciliation.
func TestFirstContactSendScenario(t *testing.T) {
	mock := newMockRemote()
	c := newController(t, mock, attribute.RoleInitiator)

	if _, err := c.Send(context.Background(), "b", "Hello", false); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	sum, ok := c.Store().Summary("b")
	if !ok || sum.Preview != "Hello" {
		t.Fatalf("summary = %+v, ok = %v, want preview Hello", sum, ok)
	}
	msgs := c.Store().Messages("b")
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want exactly 1", len(msgs))
	}
	if msgs[0].Delivery != store.DeliveryConfirmed || msgs[0].ServerID == 0 {
		t.Errorf("message = %+v, want confirmed with a server id", msgs[0])
	}

	// The poll later returns the same message; no duplicate appears, and the
	// sent registry resolves its legacy-format sibling to self.
	mock.mu.Lock()
	mock.convos["b"] = []remote.RawMessage{{ID: msgs[0].ServerID, Body: "Hello", SentAt: msgs[0].SentAt, Read: true}}
	mock.mu.Unlock()
	c.Activate(context.Background(), "b")

	msgs = c.Store().Messages("b")
	if len(msgs) != 1 {
		t.Fatalf("after poll: got %d messages, want 1", len(msgs))
	}
	if msgs[0].Author != attribute.AuthorSelf {
		t.Errorf("author = %v, want self via sent registry", msgs[0].Author)
	}
}
