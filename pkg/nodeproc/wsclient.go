package nodeproc

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type subscriptionParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

type rpcResponse struct {
	result json.RawMessage
	err    error
}

// WSClient is a JSON-RPC 2.0 client over a single WebSocket connection.
// Responses are matched to calls by request id; eth_subscription notifications
// are dispatched onto the emitter keyed by their subscription token.
type WSClient struct {
	conn    *websocket.Conn
	emitter *Emitter

	writeMu sync.Mutex
	nextID  atomic.Uint64

	pendingMu sync.Mutex
	pending   map[uint64]chan rpcResponse

	// Notifications are handed off to a dispatcher goroutine so a handler
	// that issues its own Call never blocks the read loop it depends on.
	notifyCh chan subscriptionParams

	closeOnce sync.Once
	done      chan struct{}
}

// DialWS connects to a node's WebSocket endpoint and starts the read loop.
// Subscription notifications go to emitter under their subscription token.
func DialWS(ctx context.Context, url string, emitter *Emitter) (*WSClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	c := &WSClient{
		conn:     conn,
		emitter:  emitter,
		pending:  make(map[uint64]chan rpcResponse),
		notifyCh: make(chan subscriptionParams, 256),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	go c.dispatchLoop()
	return c, nil
}

func (c *WSClient) dispatchLoop() {
	for {
		select {
		case <-c.done:
			return
		case p := <-c.notifyCh:
			c.emitter.Emit(p.Subscription, p.Result)
		}
	}
}

// Call sends one request and unmarshals the response result into result
// (skipped when result is nil).
func (c *WSClient) Call(ctx context.Context, method string, params any, result any) error {
	id := c.nextID.Add(1)
	if params == nil {
		params = []any{}
	}

	ch := make(chan rpcResponse, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	c.writeMu.Lock()
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send %s request: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.err != nil {
			return resp.err
		}
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(resp.result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("connection closed during %s call", method)
	}
}

func (c *WSClient) readLoop() {
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Printf("WSClient: read error: %v", err)
			}
			return
		}

		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("WSClient: skipping malformed message: %v", err)
			continue
		}

		switch {
		case msg.ID != nil:
			c.pendingMu.Lock()
			ch, ok := c.pending[*msg.ID]
			c.pendingMu.Unlock()
			if !ok {
				continue
			}
			resp := rpcResponse{result: msg.Result}
			if msg.Error != nil {
				resp.err = msg.Error
			}
			ch <- resp
		case msg.Method == "eth_subscription":
			var p subscriptionParams
			if err := json.Unmarshal(msg.Params, &p); err != nil {
				log.Printf("WSClient: skipping malformed subscription notification: %v", err)
				continue
			}
			select {
			case c.notifyCh <- p:
			default:
				log.Printf("WSClient: notification buffer full, dropping event for %s", p.Subscription)
			}
		}
	}
}

// Close tears down the connection. In-flight calls fail; it is safe to call
// more than once.
func (c *WSClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}
