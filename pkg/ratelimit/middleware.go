package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"github.com/getmockd/polyd/pkg/middleware"
	"github.com/getmockd/polyd/pkg/web"
)

// Middleware limits HTTP requests per remote IP. Rejected requests get 429
// with Retry-After in whole seconds. A nil limiter passes everything.
func Middleware(l *Limiter) web.Middleware {
	return middleware.MiddlewareFunc[*web.Context](func(ctx context.Context, c *web.Context, next middleware.Next[*web.Context]) *web.Context {
		if l == nil {
			return next(ctx, c)
		}
		h := c.Response.Header
		h.Set("X-RateLimit-Limit", strconv.Itoa(l.Burst()))

		ok, retry := l.Reserve(hostOfString(c.Request.RemoteAddr))
		if ok {
			return next(ctx, c)
		}
		secs := int64(math.Ceil(retry.Seconds()))
		if secs < 1 {
			secs = 1
		}
		h.Set("Retry-After", strconv.FormatInt(secs, 10))
		return c.Text(http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
	})
}
