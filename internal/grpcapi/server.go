// Package grpcapi exposes the viewer's notification fan-out to remote
// wallet clients over gRPC: a thin server struct wrapping the domain
// collaborator, registered against a hand-built ServiceDesc in
// internal/grpcapi/pb (see pb/service.go for why it isn't
// protoc-generated).
package grpcapi

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/blockvault/walletd/internal/grpcapi/pb"
	"github.com/blockvault/walletd/internal/logging"
	"github.com/blockvault/walletd/internal/viewer"
)

// Service implements pb.WalletdServiceServer over a *viewer.Viewer.
type Service struct {
	View *viewer.Viewer
	pb.UnimplementedWalletdServiceServer
}

func NewService(v *viewer.Viewer) *Service {
	return &Service{View: v}
}

func (s *Service) GetInfo(ctx context.Context, _ *pb.Empty) (*pb.InfoResponse, error) {
	top := s.View.Chain.Top()
	if top == nil {
		return &pb.InfoResponse{}, nil
	}
	return &pb.InfoResponse{
		Height:    uint64(top.Height),
		BlockHash: top.Hash[:],
	}, nil
}

// SubscribeNotifications streams every notification the viewer emits
// for as long as the client stays connected. The group field is
// accepted for forward compatibility with per-group subscriptions;
// today every notification reaches every subscriber, same as the
// viewer's single internal fan-out channel.
func (s *Service) SubscribeNotifications(req *pb.SubscribeRequest, stream pb.WalletdService_SubscribeNotificationsServer) error {
	logging.L.Info().Str("group", req.Group).Msg("grpc client subscribed to notifications")

	ch := s.View.Notifications()
	for {
		select {
		case <-stream.Context().Done():
			return nil
		case n, ok := <-ch:
			if !ok {
				return nil
			}
			msg := toProtoNotification(s.View, n)
			if err := stream.Send(msg); err != nil {
				logging.L.Err(err).Msg("grpc: failed to send notification")
				return err
			}
		}
	}
}

func toProtoNotification(v *viewer.Viewer, n viewer.Notification) *pb.Notification {
	out := &pb.Notification{
		Kind:        pb.NotificationKind(n.Kind) + 1,
		CurrentTop:  n.CurrentTop,
		PrevTop:     n.PrevTop,
		BranchPoint: n.BranchPoint,
	}
	if top := v.Chain.Top(); top != nil {
		out.CurrentTopHash = top.Hash[:]
	}
	return out
}

// Run starts the gRPC listener at addr with reflection enabled.
func Run(addr string, v *viewer.Viewer) {
	grpcServer := grpc.NewServer()

	pb.RegisterWalletdServiceServer(grpcServer, NewService(v))
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logging.L.Err(err).Msg("failed to listen for gRPC")
		panic(err)
	}

	logging.L.Info().Str("addr", addr).Msg("starting gRPC server")
	if err := grpcServer.Serve(lis); err != nil {
		logging.L.Err(err).Msg("failed to serve gRPC")
		panic(err)
	}
}
