package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"protorpc/service"
)

// LoggingMiddleware logs every completed call with its duration. Failures are logged at warn.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation, done service.Done) {
			start := time.Now()
			next(ctx, inv, func(resp any) {
				fields := []zap.Field{
					zap.String("method", inv.ServiceMethod),
					zap.Duration("duration", time.Since(start)),
				}
				if inv.Peer != nil {
					fields = append(fields, zap.Stringer("peer", inv.Peer))
				}
				if inv.Controller.Failed() {
					logger.Warn("call failed", append(fields, zap.String("error", inv.Controller.ErrorText()))...)
				} else {
					logger.Debug("call completed", fields...)
				}
				done(resp)
			})
		}
	}
}
