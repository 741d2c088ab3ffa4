// Package ws provides a WebSocket client for long-lived event feeds:
// callback-driven reads, optional automatic redial with backoff, and
// serialized writes.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected reports a send attempted while the connection is down,
// between reconnect attempts or after Close.
var ErrNotConnected = errors.New("ws: not connected")

// Handler receives connection lifecycle and message events. OnOpen fires
// on every successful connect, including redials; OnClose fires exactly
// once, when the client is finished for good.
type Handler interface {
	OnOpen(c *Client)
	OnMessage(c *Client, msgType int, data []byte)
	OnError(c *Client, err error)
	OnClose(c *Client)
}

type Options struct {
	Header http.Header
	// ReconnectWait enables automatic redial after a dropped connection,
	// doubling from this value up to MaxReconnectWait. Zero means the
	// first failure closes the client.
	ReconnectWait    time.Duration
	MaxReconnectWait time.Duration
}

// Client is one subscription to a WebSocket endpoint. Reads are pumped to
// the Handler from a single goroutine; a dropped connection is redialed
// transparently when Options.ReconnectWait is set.
type Client struct {
	url     string
	opts    Options
	handler Handler

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	conn *websocket.Conn

	closeOnce sync.Once
}

// Dial connects synchronously, so the caller sees an immediate failure,
// then services the connection in the background. Canceling ctx closes
// the client.
func Dial(ctx context.Context, url string, handler Handler, opts Options) (*Client, error) {
	if opts.MaxReconnectWait <= 0 {
		opts.MaxReconnectWait = 30 * time.Second
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithCancel(ctx)
	c := &Client{
		url:     url,
		opts:    opts,
		handler: handler,
		ctx:     cctx,
		cancel:  cancel,
		conn:    conn,
	}
	handler.OnOpen(c)

	// Close unblocks the read pump by closing the connection, so context
	// cancellation must route through it.
	go func() {
		<-cctx.Done()
		c.Close()
	}()
	go c.run(conn)
	return c, nil
}

// run pumps one connection until it fails, then redials per Options.
func (c *Client) run(conn *websocket.Conn) {
	defer c.Close()
	for {
		err := c.pump(conn)
		if c.ctx.Err() != nil {
			return
		}
		c.handler.OnError(c, err)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		if c.opts.ReconnectWait <= 0 {
			return
		}

		next, ok := c.redial()
		if !ok {
			return
		}
		conn = next
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.handler.OnOpen(c)
	}
}

func (c *Client) pump(conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handler.OnMessage(c, msgType, data)
	}
}

// redial retries with doubling backoff until a connection is established
// or the client is closed.
func (c *Client) redial() (*websocket.Conn, bool) {
	wait := c.opts.ReconnectWait
	for {
		select {
		case <-time.After(wait):
		case <-c.ctx.Done():
			return nil, false
		}
		if wait < c.opts.MaxReconnectWait {
			wait *= 2
		}

		conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.url, c.opts.Header)
		if err != nil {
			if c.ctx.Err() != nil {
				return nil, false
			}
			c.handler.OnError(c, err)
			continue
		}
		return conn, true
	}
}

// send serializes writes; gorilla permits only one concurrent writer.
func (c *Client) send(msgType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.ctx.Err() != nil {
		return ErrNotConnected
	}
	return c.conn.WriteMessage(msgType, data)
}

func (c *Client) SendText(data []byte) error {
	return c.send(websocket.TextMessage, data)
}

func (c *Client) SendBinary(data []byte) error {
	return c.send(websocket.BinaryMessage, data)
}

// Close tears the client down exactly once and fires OnClose.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()
		c.handler.OnClose(c)
	})
}
