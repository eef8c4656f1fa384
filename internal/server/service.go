package server

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "querywatch.v1.QueryService"

// Full method names, for clients and interceptors.
const (
	MethodCheck     = "/" + ServiceName + "/Check"
	MethodQuery     = "/" + ServiceName + "/Query"
	MethodAsk       = "/" + ServiceName + "/Ask"
	MethodLastQuery = "/" + ServiceName + "/LastQuery"
)

// QueryServiceServer is the server API. Messages are google.protobuf.Struct
// holding the JSON forms of the request and reply types in this package.
type QueryServiceServer interface {
	Check(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Query(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Ask(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LastQuery(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterQueryServiceServer registers srv on s.
func RegisterQueryServiceServer(s grpc.ServiceRegistrar, srv QueryServiceServer) {
	s.RegisterService(&queryServiceDesc, srv)
}

var queryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*QueryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Check", Handler: unaryHandler(MethodCheck, QueryServiceServer.Check)},
		{MethodName: "Query", Handler: unaryHandler(MethodQuery, QueryServiceServer.Query)},
		{MethodName: "Ask", Handler: unaryHandler(MethodAsk, QueryServiceServer.Ask)},
		{MethodName: "LastQuery", Handler: unaryHandler(MethodLastQuery, QueryServiceServer.LastQuery)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "querywatch/v1/query.proto",
}

type unaryMethod func(QueryServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(QueryServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(QueryServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ToStruct converts a JSON-tagged value to a Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return s, nil
}

// FromStruct decodes a Struct into a JSON-tagged value.
func FromStruct(s *structpb.Struct, v any) error {
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}
