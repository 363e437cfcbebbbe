package client

import (
	"context"
	"sync"

	"go.uber.org/multierr"

	"protorpc/message"
)

// Pool keeps up to max blocking clients to one address. A blocking client carries one caller's
// round trip at a time, so the pool is how a process gets parallel calls out of the blocking
// model.
//
// Pool design: a buffered channel is the idle list. It is goroutine-safe and blocking on empty
// is built in.
type Pool struct {
	mu      sync.Mutex
	idle    chan *Client
	addr    string
	max     int
	cur     int // Clients created and not yet discarded, idle or borrowed
	closed  bool
	factory func() (*Client, error)
}

// NewPool creates an empty pool. Clients are created lazily through factory; a nil factory
// dials addr over TCP with opts.
func NewPool(addr string, max int, factory func() (*Client, error), opts ...Option) *Pool {
	if max < 1 {
		max = 1
	}
	if factory == nil {
		factory = func() (*Client, error) { return Dial("tcp", addr, opts...) }
	}
	return &Pool{
		idle:    make(chan *Client, max),
		addr:    addr,
		max:     max,
		factory: factory,
	}
}

// Get borrows a client.
// Strategy:
//  1. Take an idle client if there is one
//  2. Otherwise create one if under the limit
//  3. Otherwise block until a client is returned or ctx ends
func (p *Pool) Get(ctx context.Context) (*Client, error) {
	select {
	case c, ok := <-p.idle:
		if !ok {
			return nil, message.ErrClosed
		}
		return c, nil
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, message.ErrClosed
	}
	if p.cur < p.max {
		p.cur++
		p.mu.Unlock()
		c, err := p.factory()
		if err != nil {
			p.mu.Lock()
			p.cur--
			p.mu.Unlock()
			return nil, err
		}
		return c, nil
	}
	p.mu.Unlock()

	select {
	case c, ok := <-p.idle:
		if !ok {
			return nil, message.ErrClosed
		}
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns a client. A broken client, or any client once the pool is closed, is closed and
// discarded.
func (p *Pool) Put(c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || c.Broken() {
		c.Close()
		p.cur--
		return
	}
	select {
	case p.idle <- c:
	default:
		// idle holds max clients, so a full list means every live client is already idle
		// and c was put back twice.
	}
}

// Call borrows a client, runs the call on it and returns it.
func (p *Pool) Call(ctx context.Context, serviceMethod string, args, reply any) error {
	c, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer p.Put(c)
	return c.Call(ctx, serviceMethod, args, reply)
}

// Len is the number of live clients, idle or borrowed.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur
}

// Close closes idle clients now and borrowed ones when they are returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.idle)

	var err error
	for c := range p.idle {
		err = multierr.Append(err, c.Close())
		p.cur--
	}
	return err
}
