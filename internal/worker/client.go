package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/taituo/kirosu/internal/rpc"
)

// HubClient is a single persistent connection to the Hub: on a broken
// pipe or connection reset it reconnects once and retries the current
// RPC exactly once before surfacing the error.
type HubClient struct {
	Addr      string
	AuthToken string
	DialTimeout time.Duration

	conn net.Conn
	rpc  *rpc.Conn
}

// NewHubClient dials lazily on the first Call.
func NewHubClient(addr, authToken string) *HubClient {
	return &HubClient{Addr: addr, AuthToken: authToken, DialTimeout: 10 * time.Second}
}

func (c *HubClient) connect() error {
	if c.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", c.Addr, c.DialTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to hub at %s: %w", c.Addr, err)
	}
	c.conn = conn
	c.rpc = rpc.NewConn(conn, conn)
	return nil
}

func (c *HubClient) disconnect() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.rpc = nil
}

// Call sends method/params and blocks for the matching response line.
func (c *HubClient) Call(method string, params map[string]any) (json.RawMessage, error) {
	if params == nil {
		params = map[string]any{}
	}
	if c.AuthToken != "" {
		params["auth_token"] = c.AuthToken
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	req := rpc.Request{ID: uuid.NewString(), Method: method, Params: paramsJSON}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := c.connect(); err != nil {
			lastErr = err
			continue
		}

		if err := c.rpc.WriteRequest(req); err != nil {
			c.disconnect()
			lastErr = err
			if isRetryable(err) {
				continue
			}
			return nil, err
		}

		resp, err := c.rpc.ReadResponse()
		if err != nil {
			c.disconnect()
			lastErr = err
			if isRetryable(err) {
				continue
			}
			return nil, err
		}

		if resp.Error != "" {
			return nil, fmt.Errorf("hub error: %s", resp.Error)
		}
		return resp.Result, nil
	}

	return nil, fmt.Errorf("rpc call %s failed after retry: %w", method, lastErr)
}

// Close disconnects the underlying socket, if any.
func (c *HubClient) Close() {
	c.disconnect()
}

func isRetryable(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
