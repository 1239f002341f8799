package node

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Remote is a node reached over gRPC. Transport errors are logged and
// reported as failure or absence, as the Node contract requires.
type Remote struct {
	id     string
	conn   grpc.ClientConnInterface
	health healthpb.HealthClient
	logger *zap.Logger
}

// NewRemote creates a remote node with identity id on top of conn.
func NewRemote(id string, conn grpc.ClientConnInterface, logger *zap.Logger) *Remote {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Remote{
		id:     id,
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		logger: logger.With(zap.String("node_id", id)),
	}
}

// ID returns the configured node identity.
func (r *Remote) ID() string {
	return r.id
}

// Get reads key from the remote node.
func (r *Remote) Get(ctx context.Context, key string) ([]byte, bool) {
	out := new(wrapperspb.BytesValue)
	err := r.conn.Invoke(ctx, getMethod, wrapperspb.Bytes([]byte(key)), out)
	if err != nil {
		if status.Code(err) != codes.NotFound {
			r.logger.Debug("remote get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return append([]byte{}, out.GetValue()...), true
}

// Put writes key to the remote node.
func (r *Remote) Put(ctx context.Context, key string, value []byte) bool {
	ctx = metadata.AppendToOutgoingContext(ctx, keyMetadataKey, key)

	out := new(wrapperspb.BoolValue)
	if err := r.conn.Invoke(ctx, putMethod, wrapperspb.Bytes(value), out); err != nil {
		r.logger.Debug("remote put failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return out.GetValue()
}

// Delete removes key on the remote node.
func (r *Remote) Delete(ctx context.Context, key string) bool {
	out := new(wrapperspb.BoolValue)
	if err := r.conn.Invoke(ctx, deleteMethod, wrapperspb.Bytes([]byte(key)), out); err != nil {
		r.logger.Debug("remote delete failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return out.GetValue()
}

// Check asks the node's gRPC health service whether it is serving.
func (r *Remote) Check(ctx context.Context) error {
	resp, err := r.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return fmt.Errorf("health check %s: %w", r.id, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("node %s is %s", r.id, resp.GetStatus())
	}
	return nil
}

// Identity asks the remote side for the id it serves under.
func (r *Remote) Identity(ctx context.Context) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := r.conn.Invoke(ctx, identityMethod, &emptypb.Empty{}, out); err != nil {
		return "", fmt.Errorf("identity %s: %w", r.id, err)
	}
	return out.GetValue(), nil
}
