package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is the CLI-side handle to a running daemon.
type Client struct {
	cc *grpc.ClientConn
}

// Dial connects to the daemon's unix socket. The connection is lazy; a daemon
// that is not running surfaces as Unavailable on the first call.
func Dial(socketPath string) (*Client, error) {
	cc, err := grpc.NewClient("unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc}, nil
}

// NewClient wraps an existing connection. The connection must carry the json
// content-subtype as a default call option.
func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc}
}

func (c *Client) Close() error { return c.cc.Close() }

func (c *Client) ListPeers(ctx context.Context) (*PeersResponse, error) {
	return invoke[PeersResponse](ctx, c.cc, "ListPeers", &PeersRequest{})
}

func (c *Client) ListConversations(ctx context.Context) (*ConversationsResponse, error) {
	return invoke[ConversationsResponse](ctx, c.cc, "ListConversations", &ConversationsRequest{})
}

func (c *Client) History(ctx context.Context, peerID string) (*HistoryResponse, error) {
	return invoke[HistoryResponse](ctx, c.cc, "History", &HistoryRequest{PeerID: peerID})
}

func (c *Client) Send(ctx context.Context, peerID, body string, file bool) (*SendResponse, error) {
	return invoke[SendResponse](ctx, c.cc, "Send", &SendRequest{PeerID: peerID, Body: body, File: file})
}

func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, "Status", &StatusRequest{})
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, req any) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, "/"+serviceName+"/"+method, req, out); err != nil {
		return nil, err
	}
	return out, nil
}
