package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"treemap/call"
	"treemap/message"
)

// Logging logs every call with its duration through the logger carried by ctx.
// Failures log at warn, except handler and output failures which log at error.
func Logging() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)

			logger := zerolog.Ctx(ctx)
			event := logger.Debug()
			if !resp.OK {
				switch outcome(resp) {
				case string(call.KindHandlerError), string(call.KindInvalidOutput):
					event = logger.Error()
				default:
					event = logger.Warn()
				}
				if resp.Error != nil {
					event = event.Str("error", resp.Error.Message)
				}
			}
			event.
				Uint32("id", req.ID).
				Str("call", req.Call).
				Str("outcome", outcome(resp)).
				Dur("duration", time.Since(start)).
				Msg("rpc_call")
			return resp
		}
	}
}
