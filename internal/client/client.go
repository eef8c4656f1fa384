// Package client talks to a querywatch gRPC server.
package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/querywatch/internal/pipeline"
	"github.com/ppiankov/querywatch/internal/server"
)

// PolicyUnreachable is the policy ID reported when the server cannot be reached.
const PolicyUnreachable = "failclosed.unreachable"

// Client connects to a querywatch gRPC server.
type Client struct {
	conn *grpc.ClientConn
}

// New creates a client for addr. Extra dial options are appended after
// insecure transport credentials.
func New(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to query server: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Check asks the server for a gate decision without executing.
// Fail-closed: an unreachable server yields a denial, not an error.
func (c *Client) Check(ctx context.Context, sql string) (server.CheckReply, error) {
	var reply server.CheckReply
	if err := c.call(ctx, server.MethodCheck, server.QueryRequest{SQL: sql}, &reply); err != nil {
		return server.CheckReply{
			Class:    "malformed",
			Allowed:  false,
			PolicyID: PolicyUnreachable,
			Reason:   fmt.Sprintf("query server unreachable: %v", err),
		}, nil
	}
	return reply, nil
}

// Query runs one statement on the server.
func (c *Client) Query(ctx context.Context, sql string) (pipeline.Response, error) {
	var resp pipeline.Response
	err := c.call(ctx, server.MethodQuery, server.QueryRequest{SQL: sql}, &resp)
	return resp, err
}

// Ask sends a question to the server's interpreter.
func (c *Client) Ask(ctx context.Context, question string) (pipeline.Response, error) {
	var resp pipeline.Response
	err := c.call(ctx, server.MethodAsk, server.AskRequest{Question: question}, &resp)
	return resp, err
}

// LastQuery returns the server's most recent execution.
func (c *Client) LastQuery(ctx context.Context) (server.LastQueryReply, error) {
	var reply server.LastQueryReply
	err := c.call(ctx, server.MethodLastQuery, struct{}{}, &reply)
	return reply, err
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, req, reply any) error {
	in, err := server.ToStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return err
	}
	return server.FromStruct(out, reply)
}
