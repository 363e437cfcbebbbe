// Package client implements the blocking RPC channel, a pool of blocking channels, and typed
// stubs usable over any channel.
//
// A blocking Call writes its request and reads frames until its own response shows up. Several
// goroutines may call at once: reads are serialized, and a reader that comes across a response
// belonging to another waiting call files it for that caller.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"protorpc/codec"
	"protorpc/message"
	"protorpc/protocol"
)

// Client is a blocking channel over one connection.
type Client struct {
	conn net.Conn
	opts options

	writeMu sync.Mutex // Serializes whole frames
	readMu  sync.Mutex // Only one caller reads the stream at a time
	seq     atomic.Uint64

	mu      sync.Mutex
	waiting map[uint64]struct{}          // ids whose caller has not been answered yet
	stash   map[uint64]*message.Response // responses read on behalf of another caller
	lost    error                        // Set once the connection is unusable
}

// Dial connects to address and returns a client for it.
func Dial(network, address string, opts ...Option) (*Client, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, opts...), nil
}

// NewClient takes ownership of conn.
func NewClient(conn net.Conn, opts ...Option) *Client {
	o := newOptions(opts)
	o.logger = o.logger.With(zap.Stringer("peer", conn.RemoteAddr()))
	return &Client{
		conn:    conn,
		opts:    o,
		waiting: make(map[uint64]struct{}),
		stash:   make(map[uint64]*message.Response),
	}
}

// Call sends a request and blocks until its response arrives. ctx is only consulted before the
// request is sent; an in-flight call cannot be cancelled.
//
// A RemoteError leaves the client usable. Any transport failure closes it; the returned error
// wraps message.ErrConnectionLost and later calls fail with message.ErrClosed.
func (c *Client) Call(ctx context.Context, serviceMethod string, args, reply any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.Broken() {
		return message.ErrClosed
	}

	payload, err := c.opts.codec.Encode(args)
	if err != nil {
		return fmt.Errorf("client: encode args: %w", err)
	}

	id := c.seq.Add(1)
	c.register(id)
	defer c.unregister(id)

	env := &message.Envelope{Requests: []*message.Request{{ID: id, Method: serviceMethod, Payload: payload}}}
	if err := c.write(env); err != nil {
		return c.fail(err)
	}

	resp, err := c.await(id)
	if err != nil {
		return err
	}
	if resp.Failed() {
		return message.NewRemoteError(resp.Error)
	}
	if reply != nil {
		if err := c.opts.codec.Decode(resp.Payload, reply); err != nil {
			return fmt.Errorf("client: decode reply: %w", err)
		}
	}
	return nil
}

func (c *Client) write(env *message.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteEnvelope(c.conn, env)
}

// await reads until the response for id has been seen, by this caller or an earlier reader.
func (c *Client) await(id uint64) (*message.Response, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		if resp, ok := c.takeStashed(id); ok {
			return resp, nil
		}
		if err := c.lostErr(); err != nil {
			return nil, err
		}

		env, err := protocol.ReadEnvelope(c.conn, c.opts.maxFrameSize)
		if errors.Is(err, codec.ErrMalformedEnvelope) {
			// Nothing in it can be attributed to a call; the stream is still in sync.
			c.opts.logger.Warn("malformed envelope from server", zap.Error(err))
			continue
		}
		if err != nil {
			return nil, c.fail(err)
		}
		if len(env.Requests) > 0 {
			c.opts.logger.Debug("ignoring requests sent to a blocking client", zap.Int("count", len(env.Requests)))
		}

		var mine *message.Response
		for _, resp := range env.Responses {
			if resp.ID == id {
				mine = resp
				continue
			}
			c.file(resp)
		}
		if mine != nil {
			return mine, nil
		}
	}
}

// file keeps a response for the caller that is waiting on it, or drops it.
func (c *Client) file(resp *message.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.waiting[resp.ID]; ok {
		c.stash[resp.ID] = resp
		return
	}
	c.opts.logger.Debug("dropping response for unknown call", zap.Uint64("id", resp.ID))
	c.opts.metrics.RecordDroppedResponse()
}

func (c *Client) register(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waiting[id] = struct{}{}
}

func (c *Client) unregister(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.waiting, id)
	delete(c.stash, id)
}

func (c *Client) takeStashed(id uint64) (*message.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	resp, ok := c.stash[id]
	if ok {
		delete(c.stash, id)
	}
	return resp, ok
}

func (c *Client) lostErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lost
}

// fail marks the client broken and closes the socket. Every caller still waiting gets the
// same ErrConnectionLost.
func (c *Client) fail(cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lost == nil {
		c.lost = fmt.Errorf("%w: %w", message.ErrConnectionLost, cause)
		c.conn.Close()
		c.opts.logger.Info("connection lost", zap.Error(cause))
	}
	return c.lost
}

// Broken reports whether the client has lost its connection or been closed.
func (c *Client) Broken() bool {
	return c.lostErr() != nil
}

// Pending is the number of calls waiting for a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiting)
}

func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the connection. Calls blocked on it fail with message.ErrConnectionLost.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lost != nil {
		return nil
	}
	c.lost = fmt.Errorf("%w: %w", message.ErrConnectionLost, message.ErrClosed)
	return c.conn.Close()
}
