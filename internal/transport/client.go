package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/peervault/internal/auth"
	"github.com/dmitrijs2005/peervault/internal/common"
	"github.com/dmitrijs2005/peervault/internal/node"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const tokenValidity = time.Minute

// GRPCClient delivers messages to other nodes. It resolves node identities
// through a static peer table and keeps one connection per peer.
type GRPCClient struct {
	self      string
	peers     map[string]string
	jwtSecret []byte
	tokenTTL  time.Duration

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

var _ node.Remote = (*GRPCClient)(nil)

// NewGRPCClient creates a client speaking for node self. peers maps node
// identity to host:port.
func NewGRPCClient(self string, peers map[string]string, secretKey string) *GRPCClient {
	p := make(map[string]string, len(peers))
	for k, v := range peers {
		p[k] = v
	}
	return &GRPCClient{
		self:      self,
		peers:     p,
		jwtSecret: []byte(secretKey),
		tokenTTL:  tokenValidity,
		conns:     make(map[string]*grpc.ClientConn),
	}
}

func withNodeToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.NodeTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (c *GRPCClient) nodeTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	token, err := auth.GenerateToken(c.self, c.jwtSecret, c.tokenTTL)
	if err != nil {
		return fmt.Errorf("node token: %w", err)
	}
	return invoker(withNodeToken(ctx, token), method, req, reply, cc, opts...)
}

func (c *GRPCClient) conn(nodeID string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cc, ok := c.conns[nodeID]; ok {
		return cc, nil
	}

	addr, ok := c.peers[nodeID]
	if !ok {
		return nil, fmt.Errorf("%q: %w", nodeID, common.ErrUnknownPeer)
	}

	cc, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.nodeTokenInterceptor),
	)
	if err != nil {
		return nil, err
	}
	c.conns[nodeID] = cc
	return cc, nil
}

// SetTokenTTL changes the validity of the node tokens minted for each call.
// Call it before the first Deliver.
func (c *GRPCClient) SetTokenTTL(d time.Duration) {
	if d > 0 {
		c.tokenTTL = d
	}
}

// Peers lists the configured peer identities and addresses.
func (c *GRPCClient) Peers() map[string]string {
	out := make(map[string]string, len(c.peers))
	for k, v := range c.peers {
		out[k] = v
	}
	return out
}

// Deliver sends msg to the node named in its target. For messages that
// expect a reply the reply is returned; otherwise the result is nil once the
// remote node has queued the message.
func (c *GRPCClient) Deliver(ctx context.Context, msg *node.Message) (*node.Message, error) {
	cc, err := c.conn(msg.Target.Node)
	if err != nil {
		return nil, err
	}

	out := new(node.Message)
	if err := cc.Invoke(ctx, deliverMethod, msg, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, mapError(err)
	}

	if !msg.ExpectReply {
		return nil, nil
	}
	return out, nil
}

// Ping checks that nodeID is reachable and serving.
func (c *GRPCClient) Ping(ctx context.Context, nodeID string) error {
	cc, err := c.conn(nodeID)
	if err != nil {
		return err
	}

	resp, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{Service: serviceName})
	if err != nil {
		return mapError(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return common.ErrUnavailable
	}
	return nil
}

func (c *GRPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for id, cc := range c.conns {
		errs = append(errs, cc.Close())
		delete(c.conns, id)
	}
	return errors.Join(errs...)
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", common.ErrTimeout, err)
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", node.ErrNotFound, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", common.ErrTimeout, st.Message())
	case codes.Aborted:
		return fmt.Errorf("%w: %s", node.ErrNoReply, st.Message())
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", common.ErrInvalidToken, st.Message())
	case codes.Unavailable:
		return fmt.Errorf("%w: %s", common.ErrUnavailable, st.Message())
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
