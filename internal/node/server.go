package node

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"kvcoord/internal/storage"
)

// Server exposes a storage.Store as a node over gRPC.
type Server struct {
	nodeID     string
	store      storage.Store
	logger     *zap.Logger
	grpcServer *grpc.Server
	health     *health.Server
}

// NewServer creates a node server for store. The node reports itself as
// serving until SetServing(false) or Stop is called.
func NewServer(nodeID string, store storage.Store, logger *zap.Logger, opts ...grpc.ServerOption) *Server {
	if store == nil {
		store = storage.NewInMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		nodeID:     nodeID,
		store:      store,
		logger:     logger.With(zap.String("node_id", nodeID)),
		grpcServer: grpc.NewServer(opts...),
		health:     health.NewServer(),
	}

	s.grpcServer.RegisterService(&nodeServiceDesc, s)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	// Enable gRPC reflection for grpcurl
	reflection.Register(s.grpcServer)

	return s
}

// Start listens on addr and serves until Stop is called.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("starting node", zap.String("addr", lis.Addr().String()))

	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// SetServing flips the status reported to health checks. Requests are still
// answered; only the health view changes.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, st)
}

// Stop gracefully stops the node.
func (s *Server) Stop() {
	s.logger.Info("stopping node")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

// Get handles Get requests. The body carries the raw key bytes; any key,
// the empty one included, is valid.
func (s *Server) Get(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	key := string(req.GetValue())
	s.logger.Debug("get", zap.String("key", key))

	value, ok := s.store.Get(key)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "key %q not found", key)
	}
	return wrapperspb.Bytes(value), nil
}

// Put handles Put requests. The key is read from request metadata; a
// missing key is the empty key.
func (s *Server) Put(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BoolValue, error) {
	key := keyFromContext(ctx)
	s.logger.Debug("put", zap.String("key", key), zap.Int("size", len(req.GetValue())))

	s.store.Put(key, req.GetValue())
	return wrapperspb.Bool(true), nil
}

// Delete handles Delete requests. The body carries the raw key bytes.
func (s *Server) Delete(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BoolValue, error) {
	key := string(req.GetValue())
	s.logger.Debug("delete", zap.String("key", key))

	return wrapperspb.Bool(s.store.Delete(key)), nil
}

// Identity returns the node id.
func (s *Server) Identity(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return wrapperspb.String(s.nodeID), nil
}

func keyFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(keyMetadataKey)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
