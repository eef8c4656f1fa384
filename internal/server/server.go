// Package server serves the query pipeline over gRPC.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/querywatch/internal/pipeline"
)

// Config holds gRPC server configuration.
type Config struct {
	Listen  string
	Handler *pipeline.Handler
	// Rebuild, when set, constructs a fresh handler from the policy and
	// denylist files. ReloadPolicy uses it.
	Rebuild func() (*pipeline.Handler, error)
	Logger  *zap.Logger
}

// QueryRequest is the Query message.
type QueryRequest struct {
	SQL string `json:"sql"`
}

// AskRequest is the Ask message.
type AskRequest struct {
	Question string `json:"question"`
}

// CheckReply is the Check reply.
type CheckReply struct {
	Class     string   `json:"class"`
	Tables    []string `json:"tables,omitempty"`
	HasLimit  bool     `json:"has_limit"`
	Allowed   bool     `json:"allowed"`
	PolicyID  string   `json:"policy_id"`
	Reason    string   `json:"reason,omitempty"`
	Statement string   `json:"statement,omitempty"`
	Capped    bool     `json:"capped,omitempty"`
}

// LastQueryReply is the LastQuery reply.
type LastQueryReply struct {
	Found     bool   `json:"found"`
	RequestID string `json:"request_id,omitempty"`
	Question  string `json:"question,omitempty"`
	SQL       string `json:"sql,omitempty"`
	Executed  string `json:"executed,omitempty"`
	Status    string `json:"status,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Message   string `json:"message,omitempty"`
	Rows      int    `json:"rows,omitempty"`
}

// Server implements QueryServiceServer.
type Server struct {
	handler    atomic.Pointer[pipeline.Handler]
	rebuild    func() (*pipeline.Handler, error)
	listen     string
	log        *zap.Logger
	grpcServer *grpc.Server
}

// New creates a gRPC server around a pipeline handler.
func New(cfg Config) (*Server, error) {
	if cfg.Handler == nil {
		return nil, errors.New("server: pipeline handler is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Server{
		rebuild: cfg.Rebuild,
		listen:  cfg.Listen,
		log:     cfg.Logger.Named("grpc"),
	}
	s.handler.Store(cfg.Handler)
	s.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(s.logCalls))
	RegisterQueryServiceServer(s.grpcServer, s)
	return s, nil
}

// Serve listens on the configured address. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listen, err)
	}
	return s.ServeOn(lis)
}

// ServeOn serves on the given listener.
func (s *Server) ServeOn(lis net.Listener) error {
	s.log.Info("serving", zap.String("addr", lis.Addr().String()))
	return s.grpcServer.Serve(lis)
}

// GracefulStop gracefully shuts down the gRPC server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// ReloadPolicy swaps in a freshly built handler. Requests already running
// finish under the handler they started with.
func (s *Server) ReloadPolicy() error {
	if s.rebuild == nil {
		return errors.New("reload not configured")
	}
	h, err := s.rebuild()
	if err != nil {
		return err
	}
	s.handler.Store(h)
	s.log.Info("policy reloaded", zap.String("policy_hash", h.Policy().Hash()))
	return nil
}

// Check implements the Check RPC.
func (s *Server) Check(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req QueryRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	stmt, d := s.handler.Load().Check(req.SQL)
	reply := CheckReply{
		Class:    string(stmt.Class),
		Tables:   stmt.Tables,
		HasLimit: stmt.HasRowLimit,
		Allowed:  d.Allowed(),
		PolicyID: d.PolicyID(),
		Reason:   d.Reason(),
	}
	if d.Allowed() {
		reply.Statement = d.Statement()
		reply.Capped = d.Capped()
	}
	return ToStruct(reply)
}

// Query implements the Query RPC.
func (s *Server) Query(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req QueryRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.SQL == "" {
		return nil, status.Error(codes.InvalidArgument, "sql is required")
	}
	return ToStruct(s.handler.Load().Run(ctx, req.SQL))
}

// Ask implements the Ask RPC.
func (s *Server) Ask(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req AskRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.Question == "" {
		return nil, status.Error(codes.InvalidArgument, "question is required")
	}
	return ToStruct(s.handler.Load().Ask(ctx, req.Question))
}

// LastQuery implements the LastQuery RPC.
func (s *Server) LastQuery(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	e, ok := s.handler.Load().History().Last()
	if !ok {
		return ToStruct(LastQueryReply{})
	}
	return ToStruct(LastQueryReply{
		Found:     true,
		RequestID: e.RequestID,
		Question:  e.Question,
		SQL:       e.SQL,
		Executed:  e.Executed,
		Status:    e.Status,
		ErrorKind: e.ErrorKind,
		Message:   e.Message,
		Rows:      e.Rows,
	})
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		s.log.Warn("rpc failed", zap.String("method", info.FullMethod), zap.Error(err))
	} else {
		s.log.Debug("rpc", zap.String("method", info.FullMethod))
	}
	return resp, err
}
