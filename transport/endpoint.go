package transport

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"go.uber.org/zap"

	"protorpc/codec"
	"protorpc/message"
	"protorpc/metrics"
	"protorpc/server"
)

// endpoint is the calling and dispatching half shared by stream and datagram connections.
type endpoint struct {
	codec      codec.Codec
	dispatcher *server.Dispatcher
	logger     *zap.Logger
	metrics    *metrics.Metrics
	seq        atomic.Uint64
	pending    *pendingTable
}

func newEndpoint(o options) *endpoint {
	return &endpoint{
		codec:      o.codec,
		dispatcher: o.dispatcher,
		logger:     o.logger,
		metrics:    o.metrics,
		pending:    newPendingTable(),
	}
}

// prepare registers a new call and returns the request to send, or nil when the call already
// failed.
func (e *endpoint) prepare(method string, args, reply any) (*Call, *message.Request) {
	call := newCall(method, args, reply)
	payload, err := e.codec.Encode(args)
	if err != nil {
		call.complete(fmt.Errorf("transport: encode args: %w", err))
		return call, nil
	}

	id := e.seq.Add(1)
	call.ID = id
	call.abandon = func() bool { return e.pending.forget(id) }
	// Register before sending so the read loop cannot see the response first.
	if err := e.pending.add(id, call); err != nil {
		call.complete(err)
		return call, nil
	}
	return call, &message.Request{ID: id, Method: method, Payload: payload}
}

// resolve completes the pending call matching resp. Unknown ids are dropped.
func (e *endpoint) resolve(resp *message.Response) {
	call, ok := e.pending.take(resp.ID)
	if !ok {
		e.logger.Debug("dropping response for unknown call", zap.Uint64("id", resp.ID))
		e.metrics.RecordDroppedResponse()
		return
	}
	if resp.Failed() {
		call.complete(message.NewRemoteError(resp.Error))
		return
	}
	if call.Reply != nil {
		if err := e.codec.Decode(resp.Payload, call.Reply); err != nil {
			call.complete(fmt.Errorf("transport: decode reply: %w", err))
			return
		}
	}
	call.complete(nil)
}

// dispatch serves the requests of an envelope, each on its own goroutine so a slow handler
// never stalls the read loop. Without a dispatcher this side exports no services at all.
func (e *endpoint) dispatch(ctx context.Context, peer net.Addr, reqs []*message.Request, reply func(*message.Response)) {
	for _, req := range reqs {
		if e.dispatcher == nil {
			reply(message.NewErrorResponse(req.ID, message.ServiceNotFound, ""))
			continue
		}
		go e.dispatcher.Dispatch(ctx, peer, req, reply)
	}
}

func (e *endpoint) failAll(cause error) {
	lost := fmt.Errorf("%w: %w", message.ErrConnectionLost, cause)
	for _, call := range e.pending.failAll(lost) {
		call.complete(lost)
	}
}

// Pending is the number of calls awaiting a response.
func (e *endpoint) Pending() int {
	return e.pending.len()
}
