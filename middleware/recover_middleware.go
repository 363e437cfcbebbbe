package middleware

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"protorpc/service"
)

// RecoverMiddleware turns a handler panic into a failed call instead of a crashed process.
// Only panics on the calling goroutine are caught.
func RecoverMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation, done service.Done) {
			finish := Once(done)
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panic", zap.String("method", inv.ServiceMethod), zap.Any("panic", r), zap.StackSkip("stack", 1))
					inv.Controller.SetFailed(fmt.Sprintf("panic: %v", r))
					finish(nil)
				}
			}()
			next(ctx, inv, finish)
		}
	}
}
