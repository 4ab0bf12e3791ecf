package grpc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	lakeerrors "github.com/lakemeta/lakemeta/internal/errors"
	"github.com/lakemeta/lakemeta/internal/logging"
	"github.com/lakemeta/lakemeta/internal/meta"
	"github.com/lakemeta/lakemeta/pkg/types"
)

// CommitRequest is the CommitData message.
type CommitRequest struct {
	Op           string                `json:"op"`
	ChangeSchema bool                  `json:"change_schema,omitempty"`
	Table        types.TableInfo       `json:"table"`
	Partitions   []types.PartitionInfo `json:"partitions"`
}

// PartitionRequest addresses a partition, or a whole table when
// PartitionDesc is empty (LogicalDelete only). Version is used by
// GetLatestPartition (optional) and RollbackPartition.
type PartitionRequest struct {
	TableID       string `json:"table_id"`
	PartitionDesc string `json:"partition_desc"`
	Version       *int   `json:"version,omitempty"`
}

// Outcome reports whether a mutation was applied.
type Outcome struct {
	Committed bool   `json:"committed"`
	RequestID string `json:"request_id,omitempty"`
}

// MetaServer implements MetaServiceServer on top of a meta.Manager.
type MetaServer struct {
	mgr    *meta.Manager
	logger *zap.Logger
}

// NewMetaServer creates a new gRPC metadata server.
func NewMetaServer(mgr *meta.Manager, logger *zap.Logger) *MetaServer {
	return &MetaServer{mgr: mgr, logger: logging.OrNop(logger).With(zap.String("component", "grpc"))}
}

// NewServer returns a grpc.Server with the metadata service and the
// logging interceptor registered.
func NewServer(mgr *meta.Manager, logger *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	ms := NewMetaServer(mgr, logger)
	opts = append(opts, grpc.ChainUnaryInterceptor(ms.logInterceptor))
	s := grpc.NewServer(opts...)
	RegisterMetaServiceServer(s, ms)
	return s
}

// CommitData applies a commit proposal.
func (s *MetaServer) CommitData(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req CommitRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	op, err := types.ParseCommitOp(req.Op)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	ok, err := s.mgr.CommitData(ctx, types.MetaInfo{Table: req.Table, Partitions: req.Partitions}, req.ChangeSchema, op)
	if err != nil {
		return nil, toStatus(err)
	}
	return s.outcome(ctx, ok)
}

// GetLatestPartition returns the latest version of a partition, or the
// requested version.
func (s *MetaServer) GetLatestPartition(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req PartitionRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if req.TableID == "" {
		return nil, status.Error(codes.InvalidArgument, "table_id is required")
	}

	var (
		p   *types.PartitionInfo
		err error
	)
	if req.Version == nil {
		p, err = s.mgr.GetSinglePartitionInfo(ctx, req.TableID, req.PartitionDesc)
	} else {
		p, err = s.mgr.GetPartitionSnapshot(ctx, req.TableID, req.PartitionDesc, *req.Version)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	if p == nil {
		return nil, status.Errorf(codes.NotFound, "partition %s/%s not found", req.TableID, req.PartitionDesc)
	}
	return toStatusStruct(p)
}

// RollbackPartition republishes an earlier version.
func (s *MetaServer) RollbackPartition(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req PartitionRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if req.TableID == "" || req.Version == nil {
		return nil, status.Error(codes.InvalidArgument, "table_id and version are required")
	}
	ok, err := s.mgr.RollbackPartition(ctx, req.TableID, req.PartitionDesc, *req.Version)
	if err != nil {
		return nil, toStatus(err)
	}
	return s.outcome(ctx, ok)
}

// LogicalDelete deletes one partition, or every partition of the table when
// no descriptor is given.
func (s *MetaServer) LogicalDelete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req PartitionRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if req.TableID == "" {
		return nil, status.Error(codes.InvalidArgument, "table_id is required")
	}

	var (
		ok  bool
		err error
	)
	if req.PartitionDesc == "" {
		ok, err = s.mgr.LogicalDeleteTable(ctx, req.TableID)
	} else {
		ok, err = s.mgr.LogicalDeletePartition(ctx, req.TableID, req.PartitionDesc)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return s.outcome(ctx, ok)
}

func (s *MetaServer) outcome(ctx context.Context, ok bool) (*structpb.Struct, error) {
	return toStatusStruct(Outcome{Committed: ok, RequestID: extractRequestID(ctx)})
}

func toStatusStruct(v interface{}) (*structpb.Struct, error) {
	out, err := toStruct(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// toStatus maps structured errors to gRPC status codes.
func toStatus(err error) error {
	switch {
	case lakeerrors.IsValidation(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case lakeerrors.IsNameConflict(err):
		return status.Error(codes.AlreadyExists, err.Error())
	case lakeerrors.IsNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	default:
		if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
			return err
		}
		return status.Error(codes.Internal, err.Error())
	}
}

func (s *MetaServer) logInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	md, _ := metadata.FromIncomingContext(ctx)
	if len(md.Get("x-request-id")) == 0 {
		ctx = metadata.NewIncomingContext(ctx, metadata.Join(md, metadata.Pairs("x-request-id", uuid.New().String())))
	}
	resp, err := next(ctx, req)
	code := status.Code(err)
	fields := []zap.Field{
		zap.String("method", info.FullMethod),
		zap.String("code", code.String()),
		zap.Duration("duration", time.Since(start)),
		zap.String("request_id", extractRequestID(ctx)),
	}
	if code == codes.Internal || code == codes.Unknown {
		s.logger.Error("rpc failed", append(fields, zap.Error(err))...)
	} else {
		s.logger.Debug("rpc", fields...)
	}
	return resp, err
}

// extractRequestID returns the x-request-id metadata value, or a new id.
func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 {
			return ids[0]
		}
	}
	return uuid.New().String()
}

var _ MetaServiceServer = (*MetaServer)(nil)

// errorf is a helper for client-side decoding failures.
func errorf(format string, args ...interface{}) error {
	return fmt.Errorf("grpc: "+format, args...)
}
