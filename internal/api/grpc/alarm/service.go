package alarm

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "apdalarms.v1.AlarmService"

	fullMethodGetAlarmState   = "/" + ServiceName + "/GetAlarmState"
	fullMethodWatchAlarmState = "/" + ServiceName + "/WatchAlarmState"
)

// AlarmServiceServer is the server API of the AlarmService.
type AlarmServiceServer interface {
	// GetAlarmState returns the current state.
	GetAlarmState(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	// WatchAlarmState streams the current state and every change until the client leaves.
	WatchAlarmState(req *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterAlarmServiceServer registers srv with registrar.
func RegisterAlarmServiceServer(registrar grpc.ServiceRegistrar, srv AlarmServiceServer) {
	registrar.RegisterService(&serviceDesc, srv)
}

//nolint:gochecknoglobals // Service descriptors are package level by convention.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AlarmServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetAlarmState",
			Handler:    getAlarmStateHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchAlarmState",
			Handler:       watchAlarmStateHandler,
			ServerStreams: true,
		},
	},
	Metadata: "apdalarms/v1/alarm.proto",
}

func getAlarmStateHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(AlarmServiceServer).GetAlarmState(ctx, in) //nolint:forcetypeassert // Guaranteed by HandlerType.
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: fullMethodGetAlarmState,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		//nolint:forcetypeassert // Guaranteed by HandlerType and dec.
		return srv.(AlarmServiceServer).GetAlarmState(ctx, req.(*emptypb.Empty))
	}

	return interceptor(ctx, in, info, handler)
}

func watchAlarmStateHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	//nolint:forcetypeassert // Guaranteed by HandlerType.
	return srv.(AlarmServiceServer).WatchAlarmState(
		in,
		&grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream},
	)
}
