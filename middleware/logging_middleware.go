package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"envelope-rpc/envelope"
	"envelope-rpc/message"
)

// LoggingMiddleware logs every call with its duration and the kind of envelope it produced.
// Request errors are logged at warn level, server errors and unreadable responses at error.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("method", req.ServiceMethod),
				zap.Duration("duration", time.Since(start)),
			}
			if id := RequestIDFrom(ctx); id != "" {
				fields = append(fields, zap.String("request_id", id))
			}

			if resp == nil {
				logger.Error("rpc no response", fields...)
				return nil
			}
			if resp.TransportFailure() {
				logger.Warn("rpc transport failure", append(fields, zap.String("error", resp.Error))...)
				return resp
			}

			env, err := resp.Envelope()
			if err != nil {
				logger.Error("rpc malformed response", append(fields, zap.Error(err))...)
				return resp
			}

			fields = append(fields, zap.Object("envelope", env))
			switch env.Kind() {
			case envelope.KindOK:
				logger.Info("rpc call", fields...)
			case envelope.KindRequestError:
				logger.Warn("rpc request error", fields...)
			default:
				logger.Error("rpc server error", fields...)
			}
			return resp
		}
	}
}
