package node

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the gRPC service name a node is served under. It is also
	// the service name reported to the gRPC health service.
	ServiceName = "kvcoord.v1.Node"

	// Metadata key carrying the key of a Put. The -bin suffix lets gRPC carry
	// arbitrary key bytes. Get and Delete send the key bytes as the body.
	keyMetadataKey = "x-kv-key-bin"

	getMethod      = "/" + ServiceName + "/Get"
	putMethod      = "/" + ServiceName + "/Put"
	deleteMethod   = "/" + ServiceName + "/Delete"
	identityMethod = "/" + ServiceName + "/Identity"
)

// nodeService is the server side of the node wire service.
type nodeService interface {
	Get(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Put(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BoolValue, error)
	Delete(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BoolValue, error)
	Identity(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
}

var nodeServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*nodeService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Get",
			Handler:    unaryHandler(getMethod, nodeService.Get),
		},
		{
			MethodName: "Put",
			Handler:    unaryHandler(putMethod, nodeService.Put),
		},
		{
			MethodName: "Delete",
			Handler:    unaryHandler(deleteMethod, nodeService.Delete),
		},
		{
			MethodName: "Identity",
			Handler:    unaryHandler(identityMethod, nodeService.Identity),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "kvcoord/v1/node.proto",
}

// unaryHandler builds the method handler protoc-gen-go-grpc would generate
// for a single unary method.
func unaryHandler[Req, Resp any](fullMethod string, call func(nodeService, context.Context, *Req) (*Resp, error)) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(nodeService), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(nodeService), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
