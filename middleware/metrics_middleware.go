package middleware

import (
	"context"
	"time"

	"treemap/call"
	"treemap/message"
	"treemap/metrics"
)

// UnknownCall is the call label for names outside the catalog. Call names come
// from the peer and would otherwise grow the label set without bound.
const UnknownCall = "unknown"

// Metrics records call counts and latency by call name and outcome. Names not
// in catalog, or answered with unknown-call, are recorded as UnknownCall. A nil
// catalog relies on the unknown-call outcome alone.
func Metrics(catalog *call.Catalog) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			out := outcome(resp)
			metrics.RecordCall(callLabel(catalog, req.Call, out), out, time.Since(start))
			return resp
		}
	}
}

func callLabel(catalog *call.Catalog, name, out string) string {
	if out == string(call.KindUnknownCall) {
		return UnknownCall
	}
	if catalog != nil {
		if _, ok := catalog.Lookup(name); !ok {
			return UnknownCall
		}
	}
	return name
}
