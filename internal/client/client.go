// Package client connects to a running homecared over its unix socket.
package client

import (
	"fmt"

	"github.com/matheus3301/homecare/internal/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn    *grpc.ClientConn
	Session *api.SessionClient
	Chat    *api.ChatClient
}

// New dials the daemon's unix domain socket and returns typed service clients.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}

	return &Client{
		conn:    conn,
		Session: api.NewSessionClient(conn),
		Chat:    api.NewChatClient(conn),
	}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
