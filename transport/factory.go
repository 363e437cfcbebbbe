package transport

import (
	"errors"
	"net"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"protorpc/server"
)

// Factory accepts connections and binds each one to the process-wide dispatcher. Accepted
// connections are full Conns, so the server can also call back into the client over them.
type Factory struct {
	opts options

	mu           sync.Mutex
	conns        map[*Conn]struct{}
	listeners    []net.Listener
	onConnect    func(*Conn)
	onDisconnect func(net.Addr, *Conn, error)
	closed       bool
}

// NewFactory creates a factory. WithOnClose among opts is ignored; use OnDisconnect.
func NewFactory(d *server.Dispatcher, opts ...Option) *Factory {
	opts = append(opts, WithDispatcher(d))
	return &Factory{
		opts:  newOptions(opts),
		conns: make(map[*Conn]struct{}),
	}
}

// OnConnect registers a callback run on its own goroutine for every accepted connection.
func (f *Factory) OnConnect(fn func(*Conn)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnect = fn
}

// OnDisconnect registers a callback run when an accepted connection closes.
func (f *Factory) OnDisconnect(fn func(peer net.Addr, c *Conn, err error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisconnect = fn
}

func (f *Factory) ListenAndServe(network, address string) error {
	ln, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return f.Serve(ln)
}

// Serve accepts connections on ln until the factory is closed, then returns nil.
func (f *Factory) Serve(ln net.Listener) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		ln.Close()
		return nil
	}
	f.listeners = append(f.listeners, ln)
	f.mu.Unlock()

	f.opts.logger.Info("serving", zap.Stringer("addr", ln.Addr()))
	for {
		nc, err := ln.Accept()
		if err != nil {
			if f.isClosed() {
				return nil
			}
			return err
		}
		f.accept(nc)
	}
}

func (f *Factory) accept(nc net.Conn) {
	o := f.opts
	o.onClose = f.connClosed
	c := newConn(nc, o)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		c.cancel()
		nc.Close()
		return
	}
	f.conns[c] = struct{}{}
	f.opts.metrics.ConnectionOpened()
	onConnect := f.onConnect
	f.mu.Unlock()

	c.logger.Debug("connection accepted")
	c.start()
	if onConnect != nil {
		go onConnect(c)
	}
}

func (f *Factory) connClosed(c *Conn, err error) {
	f.mu.Lock()
	_, tracked := f.conns[c]
	if tracked {
		delete(f.conns, c)
		f.opts.metrics.ConnectionClosed()
	}
	onDisconnect := f.onDisconnect
	f.mu.Unlock()

	if !tracked {
		return
	}
	if onDisconnect != nil {
		onDisconnect(c.RemoteAddr(), c, err)
	}
}

func (f *Factory) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Conns returns the live connections.
func (f *Factory) Conns() []*Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	conns := make([]*Conn, 0, len(f.conns))
	for c := range f.conns {
		conns = append(conns, c)
	}
	return conns
}

// CloseByPeer closes the connection whose remote address is addr and reports whether one
// was found.
func (f *Factory) CloseByPeer(addr string) bool {
	for _, c := range f.Conns() {
		if c.RemoteAddr().String() == addr {
			c.Close()
			return true
		}
	}
	return false
}

// Close stops every listener and closes every connection.
func (f *Factory) Close() error {
	f.mu.Lock()
	f.closed = true
	listeners := f.listeners
	f.listeners = nil
	f.mu.Unlock()

	var err error
	for _, ln := range listeners {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	for _, c := range f.Conns() {
		err = multierr.Append(err, c.Close())
	}
	return err
}
