package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// WalletdServiceServer is the server API for WalletdService, hand
// written in the shape protoc-gen-go-grpc emits from
// api/walletd/v1/walletd.proto.
type WalletdServiceServer interface {
	GetInfo(context.Context, *Empty) (*InfoResponse, error)
	SubscribeNotifications(*SubscribeRequest, WalletdService_SubscribeNotificationsServer) error
}

type WalletdService_SubscribeNotificationsServer interface {
	Send(*Notification) error
	grpc.ServerStream
}

type walletdServiceSubscribeNotificationsServer struct {
	grpc.ServerStream
}

func (s *walletdServiceSubscribeNotificationsServer) Send(n *Notification) error {
	return s.ServerStream.SendMsg(n)
}

func _WalletdService_GetInfo_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WalletdServiceServer).GetInfo(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/walletd.v1.WalletdService/GetInfo"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WalletdServiceServer).GetInfo(ctx, req.(*Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _WalletdService_SubscribeNotifications_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(SubscribeRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(WalletdServiceServer).SubscribeNotifications(m, &walletdServiceSubscribeNotificationsServer{stream})
}

// WalletdServiceServiceDesc is the grpc.ServiceDesc protoc-gen-go-grpc
// would otherwise generate for WalletdService.
var WalletdServiceServiceDesc = grpc.ServiceDesc{
	ServiceName: "walletd.v1.WalletdService",
	HandlerType: (*WalletdServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetInfo",
			Handler:    _WalletdService_GetInfo_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "SubscribeNotifications",
			Handler:       _WalletdService_SubscribeNotifications_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "api/walletd/v1/walletd.proto",
}

func RegisterWalletdServiceServer(s grpc.ServiceRegistrar, srv WalletdServiceServer) {
	s.RegisterService(&WalletdServiceServiceDesc, srv)
}

// UnimplementedWalletdServiceServer can be embedded by a server
// implementation for forward compatibility, matching the embedding
// protoc-gen-go-grpc generates.
type UnimplementedWalletdServiceServer struct{}

func (UnimplementedWalletdServiceServer) GetInfo(context.Context, *Empty) (*InfoResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetInfo not implemented")
}

func (UnimplementedWalletdServiceServer) SubscribeNotifications(*SubscribeRequest, WalletdService_SubscribeNotificationsServer) error {
	return status.Error(codes.Unimplemented, "method SubscribeNotifications not implemented")
}
