// Package headless drives a Delve headless server over its JSON-RPC API.
package headless

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gobreak/gobreak/log"
)

type jsonRPCRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
	Id     int           `json:"id"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Id int `json:"id"`
}

// Client is a JSON-RPC client for a Delve headless server. It serializes
// requests, so one Client may be shared by multiple goroutines.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	seq    int
	addr   string // kept for reconnection
	mutex  sync.Mutex

	// closed state is guarded separately: Close must be callable while a
	// blocking request (continue) holds the request mutex, so that closing
	// the connection can unblock it.
	closeMu  sync.Mutex
	isClosed bool

	logger log.Logger
}

// NewClient creates a new headless client.
func NewClient(logger log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		seq:    1,
		logger: logger,
	}
}

// Connect connects to a headless server.
func (c *Client) Connect(ctx context.Context, addr string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.addr = addr
	if err := c.dialLocked(ctx); err != nil {
		return err
	}
	c.logger.Debugf("connected to Delve server at %s", addr)
	return nil
}

// dialLocked dials c.addr. Caller must hold c.mutex.
func (c *Client) dialLocked(ctx context.Context) error {
	if c.addr == "" {
		return fmt.Errorf("no server address")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(timeoutCtx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to headless server: %w", err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)

	c.closeMu.Lock()
	c.isClosed = false
	c.closeMu.Unlock()
	return nil
}

// Close closes the connection to the headless server. Closing the socket
// also unblocks any request waiting on a reply.
func (c *Client) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	c.isClosed = true
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsClosed returns whether the client is closed.
func (c *Client) IsClosed() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.isClosed
}

// call sends one JSON-RPC request and decodes the result into T. Responses
// are read inline rather than by a reader goroutine: Delve answers requests
// in order on the same connection, and a blocking command (continue) simply
// blocks its caller.
func call[T any](c *Client, method RPCMethod, params interface{}) (T, error) {
	var result T

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.IsClosed() {
		return result, fmt.Errorf("client is closed")
	}
	if c.conn == nil {
		return result, fmt.Errorf("connection to server not established")
	}

	seqNum := c.seq
	c.seq++

	req := jsonRPCRequest{
		Method: string(method),
		Params: []interface{}{params},
		Id:     seqNum,
	}
	requestBytes, err := json.Marshal(req)
	if err != nil {
		return result, fmt.Errorf("failed to marshal request: %w", err)
	}
	c.logger.Debugf("sending request to Delve: %s", requestBytes)
	requestBytes = append(requestBytes, '\n')

	if _, err := c.conn.Write(requestBytes); err != nil {
		if c.IsClosed() {
			// Close raced us: an abandoned in-flight request must not
			// resurrect a deliberately closed client.
			return result, fmt.Errorf("client is closed")
		}
		if isConnReset(err) {
			if reconnErr := c.reconnectLocked(context.Background()); reconnErr != nil {
				return result, fmt.Errorf("failed to send request and reconnect: %w", err)
			}
			return result, fmt.Errorf("connection reset, reconnected: retry the request")
		}
		return result, fmt.Errorf("failed to send request: %w", err)
	}

	line, err := c.reader.ReadString('\n')
	if err != nil {
		if c.IsClosed() {
			return result, fmt.Errorf("client is closed")
		}
		if isConnReset(err) {
			if reconnErr := c.reconnectLocked(context.Background()); reconnErr != nil {
				return result, fmt.Errorf("connection failed and reconnect also failed: %w", reconnErr)
			}
			return result, fmt.Errorf("connection reset, reconnected: retry the request")
		}
		return result, fmt.Errorf("failed to read response: %w", err)
	}

	var resp jsonRPCResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return result, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Error != nil {
		return result, fmt.Errorf("error from Delve: %s", resp.Error.Message)
	}
	if resp.Id != seqNum {
		return result, fmt.Errorf("response ID %d does not match request ID %d", resp.Id, seqNum)
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return result, nil
}

func isConnReset(err error) bool {
	return err == io.EOF || strings.Contains(err.Error(), "use of closed network connection")
}

// reconnectLocked re-dials the stored server address. Caller must hold the
// mutex.
func (c *Client) reconnectLocked(ctx context.Context) error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
	if c.addr == "" {
		return fmt.Errorf("cannot reconnect: no server address stored")
	}
	c.logger.Debugf("attempting to reconnect to Delve server at %s", c.addr)
	if err := c.dialLocked(ctx); err != nil {
		return err
	}
	c.logger.Debugf("reconnected to Delve server")
	return nil
}
