package transport

import (
	"context"
	"errors"
	"net"

	"github.com/dmitrijs2005/peervault/internal/auth"
	"github.com/dmitrijs2005/peervault/internal/common"
	"github.com/dmitrijs2005/peervault/internal/logging"
	"github.com/dmitrijs2005/peervault/internal/node"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Deliverer is the local side messages are handed to; *node.Runtime.
type Deliverer interface {
	Deliver(ctx context.Context, msg *node.Message) (*node.Message, error)
}

type ctxKey string

const nodeIDKey ctxKey = "nodeID"

type GRPCServer struct {
	address   string
	local     Deliverer
	logger    logging.Logger
	jwtSecret []byte
}

func NewGRPCServer(a string, l logging.Logger, local Deliverer, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		local:     local,
		logger:    l.With("module", "grpc_server"),
		jwtSecret: []byte(secretKey),
	}
}

func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve runs the server on an existing listener until ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, listen net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.nodeTokenInterceptor))

	srv.RegisterService(&nodeServiceDesc, s)

	hs := health.NewServer()
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		hs.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	return srv.Serve(listen)
}

func (s *GRPCServer) nodeTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if info.FullMethod != deliverMethod {
		return handler(ctx, req)
	}

	var token string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(common.NodeTokenHeaderName); len(values) > 0 {
			token = values[0]
		}
	}
	if token == "" {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	nodeID, err := auth.GetNodeIDFromToken(token, s.jwtSecret)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}

	return handler(context.WithValue(ctx, nodeIDKey, nodeID), req)
}

// Deliver hands an inbound message to the local runtime. The message must
// claim the same source node the caller authenticated as.
func (s *GRPCServer) Deliver(ctx context.Context, msg *node.Message) (*node.Message, error) {
	caller, _ := ctx.Value(nodeIDKey).(string)
	if caller == "" || msg.Source.Node != caller {
		s.logger.Warn(ctx, "rejected spoofed message", "caller", caller, "source", msg.Source.String())
		return nil, status.Error(codes.PermissionDenied, "source does not match caller")
	}

	resp, err := s.local.Deliver(ctx, msg)
	if err != nil {
		return nil, toStatus(err)
	}
	if resp == nil {
		return &node.Message{}, nil
	}
	return resp, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, node.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, common.ErrTimeout):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, node.ErrNoReply):
		return status.Error(codes.Aborted, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
