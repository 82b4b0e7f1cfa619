// Package transport carries node messages between nodes over gRPC.
//
// There is a single unary method, Deliver, taking a node.Message and
// returning either the target's reply or an empty acknowledgement. Callers
// authenticate with a node token in the request metadata.
package transport

import (
	"context"

	"github.com/dmitrijs2005/peervault/internal/node"
	"google.golang.org/grpc"
)

const (
	serviceName   = "peervault.Node"
	deliverMethod = "/" + serviceName + "/Deliver"
)

// NodeServer is implemented by the receiving side of Deliver.
type NodeServer interface {
	Deliver(ctx context.Context, msg *node.Message) (*node.Message, error)
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(node.Message)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: deliverMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(NodeServer).Deliver(ctx, req.(*node.Message))
	}
	return interceptor(ctx, in, info, handler)
}

var nodeServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*NodeServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    deliverHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "peervault/node",
}
