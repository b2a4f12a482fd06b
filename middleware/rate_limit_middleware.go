package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"envelope-rpc/envelope"
	"envelope-rpc/message"
)

// RateLimitMessage is the message of the server error returned when a call is rejected.
const RateLimitMessage = "rate limit exceeded"

// RateLimitMiddleware admits r calls per second with bursts of up to burst calls (token bucket).
// Rejected calls get a server error envelope: the request was fine, the service is saturated.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			if !limiter.Allow() {
				return message.ErrorResponse(req.ServiceMethod, envelope.KindServerError, RateLimitMessage)
			}
			return next(ctx, req)
		}
	}
}
