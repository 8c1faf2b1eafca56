// Package ctlclient dials a running rtlinkd over its Unix socket.
package ctlclient

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/matheus3301/rtlink/internal/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrNotRunning is returned by New when no daemon socket exists.
var ErrNotRunning = errors.New("daemon not running")

// Client holds the connection to one daemon.
type Client struct {
	conn *grpc.ClientConn
	Link *api.LinkClient
}

// New returns a client for the daemon listening on socketPath. gRPC connects
// lazily, so only the socket file is checked here.
func New(socketPath string) (*Client, error) {
	if _, err := os.Stat(socketPath); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: no socket at %s", ErrNotRunning, socketPath)
	}
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn, Link: api.NewLinkClient(conn)}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
