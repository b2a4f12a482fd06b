// Command trackerd serves the TV show tracker over the framed RPC protocol and, optionally,
// over HTTP.
//
//	trackerd -addr :30014 -http :8080 -etcd 127.0.0.1:2379
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	echofw "github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"envelope-rpc/gateway"
	echomount "envelope-rpc/gateway/integrations/echo"
	ginmount "envelope-rpc/gateway/integrations/gin"
	"envelope-rpc/internal/tracker"
	"envelope-rpc/middleware"
	"envelope-rpc/registry"
	"envelope-rpc/server"
)

const defaultAddr = ":30014"

type config struct {
	addr       string
	httpAddr   string
	httpRouter string
	etcd       []string
	advertise  string
	rate       float64
	burst      int
	timeout    time.Duration
	capacity   int
	debug      bool
}

// parseConfig reads flags from args, falling back to TRACKER_ADDR and TRACKER_ETCD.
func parseConfig(args []string, getenv func(string) string, output io.Writer) (config, error) {
	var cfg config
	var etcd string

	fs := flag.NewFlagSet("trackerd", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cfg.addr, "addr", envOr(getenv, "TRACKER_ADDR", defaultAddr), "RPC listen address")
	fs.StringVar(&cfg.httpAddr, "http", "", "HTTP gateway listen address, disabled when empty")
	fs.StringVar(&cfg.httpRouter, "http-router", "chi", "HTTP router: chi, gin or echo")
	fs.StringVar(&etcd, "etcd", getenv("TRACKER_ETCD"), "comma-separated etcd endpoints, discovery disabled when empty")
	fs.StringVar(&cfg.advertise, "advertise", "", "address registered in etcd, derived from -addr when empty")
	fs.Float64Var(&cfg.rate, "rate", 0, "requests per second, unlimited when 0")
	fs.IntVar(&cfg.burst, "burst", 10, "rate limiter burst")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-call timeout, disabled when 0")
	fs.IntVar(&cfg.capacity, "capacity", 0, "maximum number of tracked shows, unbounded when 0")
	fs.BoolVar(&cfg.debug, "debug", false, "development logging")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	if fs.NArg() > 0 {
		return config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	for _, ep := range strings.Split(etcd, ",") {
		if ep = strings.TrimSpace(ep); ep != "" {
			cfg.etcd = append(cfg.etcd, ep)
		}
	}
	switch cfg.httpRouter {
	case "chi", "gin", "echo":
	default:
		return config{}, fmt.Errorf("unknown -http-router %q", cfg.httpRouter)
	}
	if cfg.advertise == "" {
		advertise, err := advertiseAddr(cfg.addr)
		if err != nil {
			return config{}, err
		}
		cfg.advertise = advertise
	}
	return cfg, nil
}

func envOr(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// advertiseAddr turns a listen address such as ":30014" into a routable "127.0.0.1:30014".
func advertiseAddr(listen string) (string, error) {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "", fmt.Errorf("invalid -addr %q: %w", listen, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port), nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newServer(cfg config, logger *zap.Logger) (*server.Server, error) {
	svr := server.NewServer(server.WithLogger(logger))
	svr.Use(middleware.LoggingMiddleware(logger))
	if cfg.rate > 0 {
		svr.Use(middleware.RateLimitMiddleware(cfg.rate, cfg.burst))
	}
	if cfg.timeout > 0 {
		svr.Use(middleware.TimeOutMiddleware(cfg.timeout))
	}

	var opts []tracker.StoreOption
	if cfg.capacity > 0 {
		opts = append(opts, tracker.WithCapacity(cfg.capacity))
	}
	if err := tracker.Register(svr, tracker.NewStore(opts...)); err != nil {
		return nil, err
	}
	return svr, nil
}

// newHTTPHandler mounts d on the router named by cfg.httpRouter.
func newHTTPHandler(cfg config, d gateway.Dispatcher, logger *zap.Logger) http.Handler {
	switch cfg.httpRouter {
	case "gin":
		gin.SetMode(gin.ReleaseMode)
		r := gin.New()
		r.Use(gin.Recovery(), ginmount.Trace())
		ginmount.Mount(r, d)
		return r
	case "echo":
		e := echofw.New()
		e.HideBanner = true
		e.Use(echomount.Trace)
		echomount.Mount(e, d)
		return e
	default:
		return gateway.NewRouter(d, gateway.WithLogger(logger))
	}
}

func run(ctx context.Context, cfg config, logger *zap.Logger) error {
	svr, err := newServer(cfg, logger)
	if err != nil {
		return err
	}

	var reg registry.Registry
	if len(cfg.etcd) > 0 {
		etcdReg, err := registry.NewEtcdRegistry(cfg.etcd, registry.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("connect etcd: %w", err)
		}
		defer etcdReg.Close()
		reg = etcdReg
	}

	errc := make(chan error, 2)
	go func() {
		errc <- svr.Serve("tcp", cfg.addr, cfg.advertise, reg)
	}()

	var httpSrv *http.Server
	if cfg.httpAddr != "" {
		httpSrv = &http.Server{
			Addr:              cfg.httpAddr,
			Handler:           newHTTPHandler(cfg, svr, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("http gateway listening", zap.String("addr", cfg.httpAddr), zap.String("router", cfg.httpRouter))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errc:
		logger.Error("server stopped", zap.Error(err))
	}

	shutdownTimeout := 5 * time.Second
	if httpSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if herr := httpSrv.Shutdown(sctx); herr != nil {
			logger.Warn("http shutdown", zap.Error(herr))
		}
		cancel()
	}
	if serr := svr.Shutdown(shutdownTimeout); serr != nil {
		logger.Warn("rpc shutdown", zap.Error(serr))
	}
	return err
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Getenv, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "trackerd:", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "trackerd:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("trackerd failed", zap.Error(err))
		os.Exit(1)
	}
}
