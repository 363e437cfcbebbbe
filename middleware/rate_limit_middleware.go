package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"protorpc/service"
)

// RateLimitMiddleware rejects calls beyond a token bucket of r per second with the given burst.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation, done service.Done) {
			if !limiter.Allow() {
				inv.Controller.SetFailed("rate limit exceeded")
				done(nil)
				return
			}
			next(ctx, inv, done)
		}
	}
}
