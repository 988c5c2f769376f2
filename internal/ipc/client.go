package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// DialTimeout is how long Dial waits for the daemon socket.
const DialTimeout = 2 * time.Second

// Client is a connection to a running daemon. It is safe for
// concurrent use; requests are serialized on the single connection.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	rd     *bufio.Reader
	nextID uint32
}

// Dial connects to the daemon socket.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w", path, err)
	}
	return &Client{conn: conn, rd: bufio.NewReader(conn)}, nil
}

// Do sends a request and waits for its response.
func (c *Client) Do(req Request) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	req.ID = c.nextID

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	payload = append(payload, '\n')
	if _, err := c.conn.Write(payload); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	line, err := c.rd.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("response id mismatch: sent %d, got %d", req.ID, resp.ID)
	}
	return &resp, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
