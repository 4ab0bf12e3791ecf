// Package grpc exposes the commit protocol as a gRPC service. Messages are
// google.protobuf.Struct values holding the same JSON documents the HTTP API
// accepts, so no generated code is needed.
package grpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "lakemeta.v1.MetaService"

// Full method names.
const (
	MethodCommitData         = "/" + ServiceName + "/CommitData"
	MethodGetLatestPartition = "/" + ServiceName + "/GetLatestPartition"
	MethodRollbackPartition  = "/" + ServiceName + "/RollbackPartition"
	MethodLogicalDelete      = "/" + ServiceName + "/LogicalDelete"
)

// MetaServiceServer is the server API for the metadata service.
type MetaServiceServer interface {
	CommitData(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetLatestPartition(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RollbackPartition(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LogicalDelete(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterMetaServiceServer registers srv on s.
func RegisterMetaServiceServer(s grpc.ServiceRegistrar, srv MetaServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

type unaryMethod func(MetaServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(fullMethod string, call unaryMethod) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MetaServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(MetaServiceServer), ctx, req.(*structpb.Struct))
		})
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MetaServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CommitData", Handler: handler(MethodCommitData, MetaServiceServer.CommitData)},
		{MethodName: "GetLatestPartition", Handler: handler(MethodGetLatestPartition, MetaServiceServer.GetLatestPartition)},
		{MethodName: "RollbackPartition", Handler: handler(MethodRollbackPartition, MetaServiceServer.RollbackPartition)},
		{MethodName: "LogicalDelete", Handler: handler(MethodLogicalDelete, MetaServiceServer.LogicalDelete)},
	},
	Metadata: "lakemeta/v1/meta.proto",
}

// toStruct converts a JSON-serializable value to a Struct.
func toStruct(v interface{}) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("struct from %T: %w", v, err)
	}
	return out, nil
}

// fromStruct decodes a Struct into v through its JSON form.
func fromStruct(s *structpb.Struct, v interface{}) error {
	b, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
