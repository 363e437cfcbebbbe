package middleware

import (
	"context"
	"sync"
	"time"

	"protorpc/service"
)

const timeoutText = "request timed out"

// TimeOutMiddleware fails a call that has not completed within timeout. The handler's ctx is
// cancelled at that point; a late done from the handler is ignored.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation, done service.Done) {
			ctx, cancel := context.WithTimeout(ctx, timeout)

			var once sync.Once
			finish := func(resp any, timedOut bool) {
				once.Do(func() {
					cancel()
					if timedOut {
						inv.Controller.SetFailed(timeoutText)
						resp = nil
					}
					done(resp)
				})
			}

			timer := time.AfterFunc(timeout, func() { finish(nil, true) })
			next(ctx, inv, func(resp any) {
				timer.Stop()
				finish(resp, false)
			})
		}
	}
}
