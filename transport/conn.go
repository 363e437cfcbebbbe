// Package transport implements the asynchronous channel: many calls in flight on one connection,
// in both directions.
//
// A single read goroutine per connection decodes frames. Responses are matched to pending calls
// by correlation id; requests go to the dispatcher and are answered whenever their handler
// completes, so responses may leave in any order.
//
//	goroutine-1 ──Go(id=1)──┐
//	goroutine-2 ──Go(id=2)──┼──→ one conn ──→ peer
//	goroutine-3 ──Go(id=3)──┘
//
//	readLoop: ←── response(id=2) → pending[2] → Call.Done
//	          ←── request(id=7)  → Dispatcher → done → response(id=7) ──→ peer
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"protorpc/codec"
	"protorpc/message"
	"protorpc/protocol"
	"protorpc/server"
)

// Conn is one asynchronous connection. It is safe for concurrent use.
type Conn struct {
	*endpoint
	conn net.Conn
	opts options

	writeMu sync.Mutex // Serializes whole frames

	ctx       context.Context // Cancelled on close; handed to dispatched handlers
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// Dial connects to address and starts the connection.
func Dial(ctx context.Context, network, address string, opts ...Option) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return NewConn(nc, opts...), nil
}

// NewConn takes ownership of nc and starts its read loop.
func NewConn(nc net.Conn, opts ...Option) *Conn {
	c := newConn(nc, newOptions(opts))
	c.start()
	return c
}

func newConn(nc net.Conn, o options) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		endpoint: newEndpoint(o),
		conn:     nc,
		opts:     o,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.logger = o.logger.With(zap.Stringer("peer", nc.RemoteAddr()))
	return c
}

func (c *Conn) start() {
	go c.readLoop()
	if c.opts.heartbeat > 0 {
		go c.heartbeatLoop(c.opts.heartbeat)
	}
}

// Go starts a call and returns immediately. The result arrives on the returned Call.
func (c *Conn) Go(serviceMethod string, args, reply any) *Call {
	call, req := c.prepare(serviceMethod, args, reply)
	if req == nil {
		return call
	}
	if err := c.write(&message.Envelope{Requests: []*message.Request{req}}); err != nil {
		// Closing fails every pending call, this one included.
		c.closeWithError(err)
	}
	return call
}

// Call issues a call and waits for it. If ctx ends first the call is abandoned and ctx.Err()
// is returned.
func (c *Conn) Call(ctx context.Context, serviceMethod string, args, reply any) error {
	return c.Go(serviceMethod, args, reply).Wait(ctx)
}

func (c *Conn) write(env *message.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteEnvelope(c.conn, env)
}

func (c *Conn) reply(resp *message.Response) {
	if err := c.write(&message.Envelope{Responses: []*message.Response{resp}}); err != nil {
		c.logger.Debug("failed to write response", zap.Uint64("id", resp.ID), zap.Error(err))
	}
}

// readLoop is the connection's dispatch loop. Reads must be sequential to keep frame
// boundaries, so this is the only goroutine reading from conn.
func (c *Conn) readLoop() {
	peer := c.conn.RemoteAddr()
	for {
		env, err := protocol.ReadEnvelope(c.conn, c.opts.maxFrameSize)
		if errors.Is(err, codec.ErrMalformedEnvelope) {
			c.logger.Warn("malformed envelope", zap.Error(err))
			c.reply(server.MalformedEnvelopeResponse(err))
			continue
		}
		if err != nil {
			c.closeWithError(err)
			return
		}
		if env.Empty() {
			continue // heartbeat
		}
		for _, resp := range env.Responses {
			c.resolve(resp)
		}
		c.dispatch(c.ctx, peer, env.Requests, c.reply)
	}
}

func (c *Conn) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(&message.Envelope{}); err != nil {
				c.closeWithError(err)
				return
			}
		}
	}
}

func (c *Conn) closeWithError(cause error) {
	closed := false
	c.closeOnce.Do(func() {
		closed = true
		c.err = cause
		c.cancel()
		c.conn.Close()
		c.failAll(cause)
		close(c.done)
	})
	if !closed {
		return
	}
	if errors.Is(cause, io.EOF) || errors.Is(cause, message.ErrClosed) {
		c.logger.Debug("connection closed", zap.Error(cause))
	} else {
		c.logger.Info("connection lost", zap.Error(cause))
	}
	// Outside the Once: the callback may close the connection again.
	if c.opts.onClose != nil {
		c.opts.onClose(c, cause)
	}
}

// Close closes the connection. Pending calls fail with message.ErrConnectionLost.
func (c *Conn) Close() error {
	c.closeWithError(message.ErrClosed)
	return nil
}

// Done is closed once the connection has closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection closed, or nil while it is open.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}
