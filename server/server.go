// Package server implements the blocking RPC server and the Dispatcher shared with the
// asynchronous transport.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request in the envelope: go handleRequest (parallel processing)
//	    → Dispatcher.Dispatch → middleware chain → service handler → done → write response
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"protorpc/codec"
	"protorpc/message"
	"protorpc/middleware"
	"protorpc/protocol"
	"protorpc/service"
)

// Server serves a service registry over stream connections, one goroutine per connection
// and one per request.
type Server struct {
	registry   *service.Registry
	opts       options
	dispatcher *Dispatcher

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	cancel   context.CancelFunc
	ctx      context.Context

	wg       sync.WaitGroup // Tracks in-flight requests for graceful shutdown
	shutdown atomic.Bool    // Set during shutdown to suppress Accept errors
}

// NewServer creates a server for reg. Middlewares may still be added with Use before Serve.
func NewServer(reg *service.Registry, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		registry: reg,
		opts:     newOptions(opts),
		conns:    make(map[net.Conn]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Use registers a middleware. Middlewares are applied in the order they are added and must be
// registered before Serve.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	svr.opts.middlewares = append(svr.opts.middlewares, mw)
}

// ListenAndServe listens on the address and calls Serve.
func (svr *Server) ListenAndServe(network, address string) error {
	ln, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. It returns nil after a shutdown and the
// Accept error otherwise.
func (svr *Server) Serve(ln net.Listener) error {
	svr.mu.Lock()
	svr.listener = ln
	if svr.dispatcher == nil {
		// Build the middleware chain once at startup, not per request.
		svr.dispatcher = newDispatcher(svr.registry, svr.opts)
	}
	svr.mu.Unlock()

	if svr.shutdown.Load() {
		ln.Close()
		return nil
	}

	svr.opts.logger.Info("serving", zap.Stringer("addr", ln.Addr()), zap.Strings("services", svr.registry.Names()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			// listener.Close() during shutdown makes Accept fail.
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// Addr is the listening address, or nil before Serve.
func (svr *Server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

func (svr *Server) trackConn(conn net.Conn, add bool) bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if add {
		if svr.shutdown.Load() {
			return false
		}
		svr.conns[conn] = struct{}{}
	} else {
		delete(svr.conns, conn)
	}
	return true
}

// handleConn runs the read loop of one connection. Reads are sequential so frame boundaries
// are preserved; every request is dispatched on its own goroutine. writeMu is shared by all
// of them so response frames never interleave.
func (svr *Server) handleConn(conn net.Conn) {
	if !svr.trackConn(conn, true) {
		conn.Close()
		return
	}
	defer svr.trackConn(conn, false)
	defer conn.Close()

	logger := svr.opts.logger.With(zap.Stringer("peer", conn.RemoteAddr()))
	logger.Debug("connection accepted")

	ctx, cancel := context.WithCancel(svr.ctx)
	defer cancel()

	writeMu := &sync.Mutex{}
	peer := conn.RemoteAddr()
	for {
		env, err := protocol.ReadEnvelope(conn, svr.opts.maxFrameSize)
		if errors.Is(err, codec.ErrMalformedEnvelope) {
			// The frame was read whole, so the stream is still in sync.
			logger.Warn("malformed envelope", zap.Error(err))
			svr.writeResponse(conn, writeMu, MalformedEnvelopeResponse(err), logger)
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !svr.shutdown.Load() {
				logger.Debug("connection read failed", zap.Error(err))
			}
			return
		}
		if len(env.Responses) > 0 {
			logger.Debug("ignoring responses sent to server", zap.Int("count", len(env.Responses)))
		}

		if !svr.admit(len(env.Requests)) {
			return
		}
		for _, req := range env.Requests {
			go svr.handleRequest(ctx, conn, writeMu, peer, req, logger)
		}
	}
}

// admit reserves WaitGroup slots for n requests unless shutdown has begun. The check and the
// Add happen under mu, which Shutdown also holds while setting the flag, so no Add can race
// with Wait.
func (svr *Server) admit(n int) bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.wg.Add(n)
	return true
}

// handleRequest dispatches one request. The WaitGroup slot is released when the response
// has been written, not when the handler returns.
func (svr *Server) handleRequest(ctx context.Context, conn net.Conn, writeMu *sync.Mutex, peer net.Addr, req *message.Request, logger *zap.Logger) {
	svr.dispatcher.Dispatch(ctx, peer, req, func(resp *message.Response) {
		defer svr.wg.Done()
		svr.writeResponse(conn, writeMu, resp, logger)
	})
}

func (svr *Server) writeResponse(conn net.Conn, writeMu *sync.Mutex, resp *message.Response, logger *zap.Logger) {
	writeMu.Lock()
	defer writeMu.Unlock()
	if err := protocol.WriteEnvelope(conn, &message.Envelope{Responses: []*message.Response{resp}}); err != nil {
		logger.Debug("failed to write response", zap.Uint64("id", resp.ID), zap.Error(err))
	}
}

// Shutdown performs graceful shutdown:
//  1. Set the shutdown flag so the Accept error is recognized as intentional
//  2. Close the listener (stop accepting new connections)
//  3. Wait for in-flight requests to finish, up to timeout
//  4. Close the remaining connections
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.mu.Lock()
	svr.shutdown.Store(true)
	ln := svr.listener
	svr.mu.Unlock()

	var err error
	if ln != nil {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		err = multierr.Append(err, fmt.Errorf("timeout waiting for ongoing requests to finish"))
	}

	// Handlers still running past the deadline see their context cancelled.
	svr.cancel()

	svr.mu.Lock()
	for conn := range svr.conns {
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	svr.mu.Unlock()
	return err
}
