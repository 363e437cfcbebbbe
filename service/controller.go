package service

import (
	"net"
	"sync"
)

// Controller is handed to every handler invocation. A handler marks an application
// failure with SetFailed; the dispatcher turns it into a METHOD_ERROR response.
type Controller struct {
	mu     sync.Mutex
	failed bool
	reason string
	peer   net.Addr
}

func NewController(peer net.Addr) *Controller {
	return &Controller{peer: peer}
}

// SetFailed marks the call failed. The first reason wins.
func (c *Controller) SetFailed(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed {
		return
	}
	c.failed = true
	c.reason = reason
}

func (c *Controller) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

func (c *Controller) ErrorText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Peer is the remote address of the connection that carried the call, if known.
func (c *Controller) Peer() net.Addr {
	return c.peer
}
