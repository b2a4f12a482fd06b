// Package gateway exposes RPC services over HTTP.
//
//	POST /rpc/{service}/{method}   body: JSON args   →   200 [value, code, message]
//
// The HTTP status is always 200 once a call reaches the dispatcher: the outcome travels in the
// envelope's code, exactly as it does over the framed protocol. Routing failures (unknown path,
// wrong verb) keep their ordinary HTTP statuses.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"envelope-rpc/envelope"
	"envelope-rpc/middleware"
)

const (
	// HeaderRequestID is the header carrying the request ID in both directions.
	HeaderRequestID = "X-Request-Id"

	// MaxBodySize bounds the args document of one call.
	MaxBodySize = 1 << 20
)

// Dispatcher runs one call and returns its JSON envelope. *server.Server implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, serviceMethod string, payload []byte) []byte
}

// Trace generates or propagates the X-Request-Id of each request, echoes it on the response
// and stores it in the request context for middleware.LoggingMiddleware.
func Trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = newRequestID()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(middleware.WithRequestID(r.Context(), id)))
	})
}

func newRequestID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Invoke reads the args from r's body, dispatches serviceMethod and writes the envelope.
// An unreadable or oversized body is answered with a RequestError envelope.
func Invoke(d Dispatcher, w http.ResponseWriter, r *http.Request, serviceMethod string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodySize))

	var out []byte
	if err != nil {
		// Error envelopes carry no value, so encoding cannot fail.
		out, _ = envelope.MarshalEnvelope(envelope.ErrorOf(envelope.KindRequestError,
			"gateway: unreadable request body: "+err.Error()))
	} else {
		out = d.Dispatch(r.Context(), serviceMethod, body)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// Option configures the router.
type Option func(*routerOptions)

type routerOptions struct {
	logger *zap.Logger
}

// WithLogger enables access logging.
func WithLogger(logger *zap.Logger) Option {
	return func(o *routerOptions) { o.logger = logger }
}

// NewRouter returns a chi router serving d under /rpc and a /healthz check.
func NewRouter(d Dispatcher, opts ...Option) http.Handler {
	o := routerOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(Trace)
	r.Use(accessLog(o.logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})
	r.Post("/rpc/{service}/{method}", func(w http.ResponseWriter, r *http.Request) {
		Invoke(d, w, r, chi.URLParam(r, "service")+"."+chi.URLParam(r, "method"))
	})
	return r
}

func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.RequestIDFrom(r.Context())))
		})
	}
}
