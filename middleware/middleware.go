package middleware

import (
	"context"
	"net"
	"sync"

	"protorpc/service"
)

// Invocation is one resolved call on its way to the service handler.
type Invocation struct {
	ServiceMethod string
	Peer          net.Addr
	Request       any
	Controller    *service.Controller
	Handler       service.Handler
}

// HandlerFunc runs an invocation and reports the result through done, possibly after it returns.
type HandlerFunc func(ctx context.Context, inv *Invocation, done service.Done)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares; the first one listed is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Invoke is the innermost HandlerFunc: it calls the service method itself.
func Invoke(ctx context.Context, inv *Invocation, done service.Done) {
	inv.Handler(ctx, inv.Controller, inv.Request, done)
}

// Once wraps done so that only its first call has an effect.
func Once(done service.Done) service.Done {
	var once sync.Once
	return func(resp any) {
		once.Do(func() { done(resp) })
	}
}
