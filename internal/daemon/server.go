package daemon

import (
	"context"
	"errors"

	"github.com/mfalves/dmsync/internal/api"
	"github.com/mfalves/dmsync/internal/remote"
	"github.com/mfalves/dmsync/internal/store"
	intsync "github.com/mfalves/dmsync/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// engineService exposes the daemon's live engine to the operator CLI. All
// reads come from the controller's cache; Send and History go through the
// controller so the optimistic-send and read-receipt flows (and the archive
// recorder listening on the bus) run in this process.
type engineService struct {
	ctrl   *intsync.Controller
	logger *zap.Logger
}

func newEngineService(ctrl *intsync.Controller, logger *zap.Logger) *engineService {
	return &engineService{ctrl: ctrl, logger: logger}
}

func (s *engineService) ListPeers(context.Context, *api.PeersRequest) (*api.PeersResponse, error) {
	peers := s.ctrl.Store().Peers()
	out := make([]api.Peer, 0, len(peers))
	for _, p := range peers {
		out = append(out, api.Peer{ID: p.ID, DisplayName: p.DisplayName, AvatarRef: p.AvatarRef, Online: p.Online})
	}
	return &api.PeersResponse{Peers: out}, nil
}

func (s *engineService) ListConversations(context.Context, *api.ConversationsRequest) (*api.ConversationsResponse, error) {
	sums := s.ctrl.Store().Summaries()
	out := make([]api.Summary, 0, len(sums))
	for _, sum := range sums {
		out = append(out, api.Summary{
			PeerID:         sum.PeerID,
			Preview:        sum.Preview,
			File:           sum.File,
			LastActivityAt: sum.LastActivityAt,
			UnreadCount:    sum.UnreadCount,
		})
	}
	return &api.ConversationsResponse{Summaries: out}, nil
}

// History activates the conversation, so it synchronizes, marks inbound
// messages read, and stays the polled conversation until another activation.
func (s *engineService) History(ctx context.Context, req *api.HistoryRequest) (*api.HistoryResponse, error) {
	if req.PeerID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "peer id required")
	}
	s.ctrl.Activate(ctx, req.PeerID)
	msgs := s.ctrl.Store().Messages(req.PeerID)
	out := make([]api.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageToWire(m))
	}
	return &api.HistoryResponse{Messages: out}, nil
}

func (s *engineService) Send(ctx context.Context, req *api.SendRequest) (*api.SendResponse, error) {
	localID, err := s.ctrl.Send(ctx, req.PeerID, req.Body, req.File)
	if err != nil {
		var pre remote.PreconditionError
		if errors.As(err, &pre) {
			return nil, grpcstatus.Error(codes.InvalidArgument, pre.Error())
		}
		// The pending entry resolved Failed and stays visible in the cache;
		// report the outcome rather than a transport error.
		s.logger.Warn("send settled as failed", zap.String("peer", req.PeerID), zap.Error(err))
		return &api.SendResponse{LocalID: localID, Delivery: store.DeliveryFailed.String()}, nil
	}
	return &api.SendResponse{LocalID: localID, Delivery: store.DeliveryConfirmed.String()}, nil
}

func (s *engineService) Status(context.Context, *api.StatusRequest) (*api.StatusResponse, error) {
	return &api.StatusResponse{State: string(s.ctrl.Status().Current())}, nil
}

func messageToWire(m store.Message) api.Message {
	return api.Message{
		ServerID: m.ServerID,
		LocalID:  m.LocalID,
		PeerID:   m.PeerID,
		Author:   m.Author.String(),
		Body:     m.Body,
		File:     m.File,
		SentAt:   m.SentAt,
		Read:     m.Read,
		Delivery: m.Delivery.String(),
	}
}
