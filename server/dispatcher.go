package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"protorpc/codec"
	"protorpc/message"
	"protorpc/metrics"
	"protorpc/middleware"
	"protorpc/service"
)

// unknownMethodLabel stands in for the method of a request that named no registered method.
const unknownMethodLabel = "unknown"

// Dispatcher resolves requests against a service registry and produces responses.
// It holds no per-connection state and is shared by every connection in the process.
//
// Processing of one request:
//
//	split "Service.Method" → registry lookup → NewRequest + payload decode
//	  → middleware chain → handler(ctx, controller, req, done)
//	    → done(resp) → Response{ID, payload | error} → reply
type Dispatcher struct {
	registry *service.Registry
	codec    codec.Codec
	handler  middleware.HandlerFunc
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewDispatcher(reg *service.Registry, opts ...Option) *Dispatcher {
	o := newOptions(opts)
	return newDispatcher(reg, o)
}

func newDispatcher(reg *service.Registry, o options) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		codec:    o.codec,
		handler:  middleware.Chain(o.middlewares...)(middleware.Invoke),
		logger:   o.logger,
		metrics:  o.metrics,
	}
}

// Codec is the payload codec used for requests and responses.
func (d *Dispatcher) Codec() codec.Codec {
	return d.codec
}

// Dispatch handles one request. reply is called exactly once, possibly from another goroutine
// and possibly after Dispatch returns, when the handler completes asynchronously.
func (d *Dispatcher) Dispatch(ctx context.Context, peer net.Addr, req *message.Request, reply func(*message.Response)) {
	start := time.Now()
	// Only resolved methods become metric labels, so peers cannot mint new series.
	label := unknownMethodLabel
	var once sync.Once
	send := func(resp *message.Response) {
		once.Do(func() {
			d.record(label, resp, start)
			reply(resp)
		})
	}

	serviceName, methodName, _ := message.SplitMethod(req.Method)
	svc, ok := d.registry.Lookup(serviceName)
	if !ok {
		d.logger.Debug("service not found", zap.String("method", req.Method), zap.Uint64("id", req.ID))
		send(message.NewErrorResponse(req.ID, message.ServiceNotFound, ""))
		return
	}
	method, ok := svc.Method(methodName)
	if !ok {
		d.logger.Debug("method not found", zap.String("method", req.Method), zap.Uint64("id", req.ID))
		send(message.NewErrorResponse(req.ID, message.MethodNotFound, ""))
		return
	}

	label = req.Method

	arg := method.NewRequest()
	if err := d.codec.Decode(req.Payload, arg); err != nil {
		d.logger.Debug("cannot decode request payload", zap.String("method", req.Method), zap.Error(err))
		text := fmt.Sprintf("%s: %v", message.DefaultText(message.CannotDeserializeRequest), err)
		send(message.NewErrorResponse(req.ID, message.CannotDeserializeRequest, text))
		return
	}

	ctrl := service.NewController(peer)
	inv := &middleware.Invocation{
		ServiceMethod: req.Method,
		Peer:          peer,
		Request:       arg,
		Controller:    ctrl,
		Handler:       method.Handler,
	}

	var completed atomic.Bool
	d.handler(ctx, inv, func(resp any) {
		if completed.Swap(true) {
			d.logger.Warn("done called more than once", zap.String("method", req.Method), zap.Uint64("id", req.ID))
			return
		}
		send(d.buildResponse(req.ID, ctrl, resp))
	})
}

// DispatchEnvelope dispatches every request in env independently. Responses carried by env
// are not the dispatcher's concern and are ignored.
func (d *Dispatcher) DispatchEnvelope(ctx context.Context, peer net.Addr, env *message.Envelope, reply func(*message.Response)) {
	for _, req := range env.Requests {
		d.Dispatch(ctx, peer, req, reply)
	}
}

func (d *Dispatcher) buildResponse(id uint64, ctrl *service.Controller, resp any) *message.Response {
	if ctrl.Failed() {
		return message.NewErrorResponse(id, message.MethodError, ctrl.ErrorText())
	}
	if resp == nil {
		return message.NewErrorResponse(id, message.MethodError, "")
	}
	payload, err := d.codec.Encode(resp)
	if err != nil {
		d.logger.Warn("cannot encode response", zap.Uint64("id", id), zap.Error(err))
		return message.NewErrorResponse(id, message.MethodError, fmt.Sprintf("cannot serialize response: %v", err))
	}
	if payload == nil {
		payload = []byte{}
	}
	return &message.Response{ID: id, Payload: payload}
}

func (d *Dispatcher) record(method string, resp *message.Response, start time.Time) {
	code := message.Success
	if resp.Failed() {
		code = resp.Error.Code
	}
	d.metrics.RecordServerCall(method, code.String(), time.Since(start))
}

// MalformedEnvelopeResponse is the reply to a frame whose envelope does not parse. No request
// id can be recovered, so the response carries id 0.
func MalformedEnvelopeResponse(err error) *message.Response {
	text := message.DefaultText(message.UnserializeRPC)
	if err != nil {
		text = fmt.Sprintf("%s: %v", text, err)
	}
	return message.NewErrorResponse(0, message.UnserializeRPC, text)
}
