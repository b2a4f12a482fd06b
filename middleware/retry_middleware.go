package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"envelope-rpc/message"
)

// RetryMiddleware retries calls that failed in the transport (no envelope came back), with
// exponential backoff starting at baseDelay. Envelopes are final: a request or server error
// reported by the peer is never retried. Meant for the client side.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			resp := next(ctx, req)
			for i := 0; i < maxRetries && resp.TransportFailure(); i++ {
				delay := baseDelay * time.Duration(1<<i)
				logger.Debug("retrying rpc call",
					zap.String("method", req.ServiceMethod),
					zap.Int("attempt", i+1),
					zap.Duration("backoff", delay),
					zap.String("error", resp.Error))

				select {
				case <-ctx.Done():
					return resp
				case <-time.After(delay):
				}
				resp = next(ctx, req)
			}
			return resp
		}
	}
}
