package middleware

import (
	"context"
	"time"

	"envelope-rpc/envelope"
	"envelope-rpc/message"
)

// TimeoutMessage is the message of the server error returned when a call runs out of time.
const TimeoutMessage = "request timed out"

// TimeOutMiddleware bounds the time a call may take. When the deadline passes first the call is
// answered with a server error envelope; the handler keeps running in the background with a
// cancelled context, and Server.Shutdown does not wait for it.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.RPCMessage, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.ErrorResponse(req.ServiceMethod, envelope.KindServerError, TimeoutMessage)
			}
		}
	}
}
