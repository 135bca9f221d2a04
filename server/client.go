package server

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls a remote ExecutionService over gRPC.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a sasm server at addr ("host:port"). The connection is
// plaintext, matching SasmServer's h2c listener.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Run executes source remotely.
func (c *Client) Run(ctx context.Context, req *RunRequest) (*RunReply, error) {
	out, err := c.invoke(ctx, RunProcedure, req)
	if err != nil {
		return nil, err
	}
	return parseRunReply(out), nil
}

// Check assembles source remotely without running it.
func (c *Client) Check(ctx context.Context, req *RunRequest) (*CheckReply, error) {
	out, err := c.invoke(ctx, CheckProcedure, req)
	if err != nil {
		return nil, err
	}
	return parseCheckReply(out), nil
}

func (c *Client) invoke(ctx context.Context, method string, req *RunRequest) (*structpb.Struct, error) {
	in, err := req.toStruct()
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return out, nil
}
