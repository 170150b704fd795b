package httptransport

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// LogRequests returns a middleware that logs every round trip at debug level
// with the logger from the request context.
func LogRequests() Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.RoundTrip(r)

			lg := zctx.From(r.Context())
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("request_id", r.Header.Get(HeaderRequestID)),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				lg.Debug("Request failed", append(fields, zap.Error(err))...)
				return nil, err
			}
			lg.Debug("Request", append(fields, zap.Int("status", resp.StatusCode))...)
			return resp, nil
		})
	}
}

// Recovery returns a middleware that turns a panic in an inner RoundTripper
// into an error.
func Recovery() Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (resp *http.Response, err error) {
			defer func() {
				if rec := recover(); rec != nil {
					zctx.From(r.Context()).Error("Panic recovered",
						zap.Any("panic", rec),
						zap.Stack("stack"),
					)
					resp, err = nil, errors.Errorf("round trip panic: %v", rec)
				}
			}()
			return next.RoundTrip(r)
		})
	}
}
