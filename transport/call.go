package transport

import (
	"context"
	"sync"
)

// Call is an outstanding asynchronous call. Done receives the call once it completes, with
// Error set on failure; on success Reply has been filled in.
type Call struct {
	ID            uint64
	ServiceMethod string
	Args          any
	Reply         any
	Error         error
	Done          chan *Call

	once     sync.Once
	finished chan struct{}
	abandon  func() bool
}

func newCall(method string, args, reply any) *Call {
	return &Call{
		ServiceMethod: method,
		Args:          args,
		Reply:         reply,
		Done:          make(chan *Call, 1),
		finished:      make(chan struct{}),
	}
}

func (c *Call) complete(err error) {
	c.once.Do(func() {
		c.Error = err
		close(c.finished)
		c.Done <- c
	})
}

// Wait blocks until the call completes or ctx ends. A call abandoned through ctx is removed
// from its connection's pending table, and a late response for it is dropped.
func (c *Call) Wait(ctx context.Context) error {
	select {
	case <-c.finished:
		return c.Error
	case <-ctx.Done():
	}
	if c.abandon != nil && c.abandon() {
		c.complete(ctx.Err())
		return ctx.Err()
	}
	// The response won the race.
	<-c.finished
	return c.Error
}
