package daemon

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mfalves/dmsync/internal/api"
	"github.com/mfalves/dmsync/internal/archive"
	"github.com/mfalves/dmsync/internal/attribute"
	"github.com/mfalves/dmsync/internal/bus"
	"github.com/mfalves/dmsync/internal/outbox"
	"github.com/mfalves/dmsync/internal/receipt"
	"github.com/mfalves/dmsync/internal/remote"
	"github.com/mfalves/dmsync/internal/status"
	"github.com/mfalves/dmsync/internal/store"
	intsync "github.com/mfalves/dmsync/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

type fakeRemote struct {
	mu         sync.Mutex
	convos     map[string][]remote.RawMessage
	acked      []int64
	nextSendID int64
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{convos: make(map[string][]remote.RawMessage), nextSendID: 100}
}

func (f *fakeRemote) ListPeers(context.Context, string) ([]remote.Peer, error) {
	return nil, nil
}

func (f *fakeRemote) ListSummaries(context.Context, string) ([]remote.Summary, error) {
	return nil, nil
}

func (f *fakeRemote) FetchConversation(_ context.Context, _, peerID string) ([]remote.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.convos[peerID], nil
}

func (f *fakeRemote) SendMessage(_ context.Context, _, _, _ string, _ bool) (remote.SendReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSendID++
	return remote.SendReceipt{ID: f.nextSendID, SentAt: f.nextSendID * 10}, nil
}

func (f *fakeRemote) AcknowledgeRead(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, id)
	return nil
}

// newTestDaemon wires the daemon's process shape without fx: live engine,
// archive recorder on the bus, and the control service served in-memory.
func newTestDaemon(t *testing.T, rs remote.Store) (*api.Client, *archive.DB) {
	t.Helper()
	logger := zap.NewNop()

	db, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	b := bus.New()
	rec := archive.NewRecorder(db, b, logger)
	rec.Start(context.Background())
	t.Cleanup(rec.Stop)

	cache := store.New()
	sent := attribute.NewSentRegistry(attribute.DefaultRegistryLimit)
	sender := outbox.NewCoordinator("me", cache, rs, sent, b, logger)
	tracker := receipt.NewTracker(cache, rs, b, logger)
	machine := status.NewMachine(b)
	ctrl := intsync.NewController("me", attribute.RoleInitiator, cache, rs, sent, sender, tracker, machine, b, logger)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	api.RegisterEngineServer(srv, newEngineService(ctrl, logger))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cc, err := grpc.NewClient("passthrough:///daemon",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.CodecName)),
	)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close() })
	return api.NewClient(cc), db
}

func waitForArchived(t *testing.T, db *archive.DB, peerID string, want int) []store.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		msgs, err := db.ListMessages(peerID, 0, 50)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) >= want {
			return msgs
		}
		select {
		case <-deadline:
			t.Fatalf("archived %d messages for %s, want %d", len(msgs), peerID, want)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestSendOverControlSocketReachesArchive(t *testing.T) {
	client, db := newTestDaemon(t, newFakeRemote())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Send(ctx, "b", "release notes shipped", false)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp.Delivery != "confirmed" || resp.LocalID == "" {
		t.Fatalf("send response = %+v", resp)
	}

	msgs := waitForArchived(t, db, "b", 1)
	if msgs[0].Body != "release notes shipped" || msgs[0].Author != attribute.AuthorSelf {
		t.Errorf("archived = %+v", msgs[0])
	}

	hits, err := db.SearchMessages("notes", "", 10)
	if err != nil {
		t.Fatalf("SearchMessages() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Message.PeerID != "b" {
		t.Errorf("search hits = %+v", hits)
	}
}

func TestHistoryOverControlSocketSyncsAndArchives(t *testing.T) {
	rs := newFakeRemote()
	rs.convos["b"] = []remote.RawMessage{
		{ID: 1, Body: "are you around", SentAt: 100, Read: true, FromCounterpart: boolPtr(true)},
		{ID: 2, Body: "ping", SentAt: 200, Read: false, FromCounterpart: boolPtr(true)},
	}
	client, db := newTestDaemon(t, rs)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hist, err := client.History(ctx, "b")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(hist.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(hist.Messages))
	}
	if hist.Messages[0].Author != "peer" || hist.Messages[1].Delivery != "confirmed" {
		t.Errorf("messages = %+v", hist.Messages)
	}

	waitForArchived(t, db, "b", 2)

	rs.mu.Lock()
	acked := append([]int64(nil), rs.acked...)
	rs.mu.Unlock()
	if len(acked) != 1 || acked[0] != 2 {
		t.Errorf("acked = %v, want [2]", acked)
	}
}

func boolPtr(b bool) *bool { return &b }
