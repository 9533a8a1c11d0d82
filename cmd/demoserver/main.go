// Command demoserver serves the demo methods over JSON-RPC on HTTP and over
// the framed TCP protocol, optionally announcing itself in etcd.
//
// Settings are read from DISPATCH_* environment variables first; flags given
// on the command line override them.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dispatch-rpc/demo"
	"dispatch-rpc/middleware"
	"dispatch-rpc/registry"
	"dispatch-rpc/server"
)

// options are the process settings that are not part of server.Config.
type options struct {
	HTTPAddr      string        `env:"DISPATCH_HTTP_ADDR"        envDefault:":8080"`
	TCPAddr       string        `env:"DISPATCH_TCP_ADDR"         envDefault:":9090"`
	AdvertiseAddr string        `env:"DISPATCH_ADVERTISE_ADDR"`
	EtcdEndpoints []string      `env:"DISPATCH_ETCD_ENDPOINTS"   envSeparator:","`
	RateLimit     float64       `env:"DISPATCH_RATE_LIMIT"       envDefault:"0"`
	RateBurst     int           `env:"DISPATCH_RATE_BURST"       envDefault:"100"`
	SMTPAddr      string        `env:"DISPATCH_SMTP_ADDR"`
	LogLevel      string        `env:"DISPATCH_LOG_LEVEL"        envDefault:"info"`
	ShutdownAfter time.Duration `env:"DISPATCH_SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "demoserver: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags layers flags over the environment.
func parseFlags(args []string) (server.Config, options, error) {
	cfg, err := server.LoadConfig()
	if err != nil {
		return server.Config{}, options{}, err
	}
	var opts options
	if err := env.Parse(&opts); err != nil {
		return server.Config{}, options{}, fmt.Errorf("parse env: %w", err)
	}

	fs := pflag.NewFlagSet("demoserver", pflag.ContinueOnError)
	fs.StringVar(&opts.HTTPAddr, "http", opts.HTTPAddr, "HTTP listen address, empty to disable")
	fs.StringVar(&opts.TCPAddr, "tcp", opts.TCPAddr, "TCP listen address, empty to disable")
	fs.StringVar(&opts.AdvertiseAddr, "advertise", opts.AdvertiseAddr, "address announced to the registry (defaults to the TCP listen address)")
	fs.StringSliceVar(&opts.EtcdEndpoints, "etcd-endpoints", opts.EtcdEndpoints, "etcd endpoints to announce the TCP listener to")
	fs.Float64Var(&opts.RateLimit, "rate-limit", opts.RateLimit, "calls per second, 0 for no limit")
	fs.IntVar(&opts.RateBurst, "rate-burst", opts.RateBurst, "rate limiter burst")
	fs.StringVar(&opts.SMTPAddr, "smtp", opts.SMTPAddr, "SMTP relay host:port for mail.send, empty to only log mail")
	fs.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "log level: debug, info, warn or error")
	fs.DurationVar(&opts.ShutdownAfter, "shutdown-timeout", opts.ShutdownAfter, "time allowed for in-flight calls on shutdown")

	fs.IntVar(&cfg.DebugLevel, "debug-level", cfg.DebugLevel, "dispatcher debug level 0-3")
	fs.StringVar(&cfg.ResponseCharset, "response-charset", cfg.ResponseCharset, "character set of HTTP responses")
	fs.BoolVar(&cfg.CompressResponse, "compress-response", cfg.CompressResponse, "gzip HTTP responses for clients that accept it")
	mode := fs.String("exception-handling", cfg.ExceptionHandling.String(), "handler error policy: fault, direct or rethrow")

	if err := fs.Parse(args); err != nil {
		return server.Config{}, options{}, err
	}
	if err := cfg.ExceptionHandling.UnmarshalText([]byte(*mode)); err != nil {
		return server.Config{}, options{}, err
	}
	if err := cfg.Validate(); err != nil {
		return server.Config{}, options{}, err
	}
	return cfg, opts, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func run(args []string) error {
	cfg, opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	logger, err := newLogger(opts.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svr := server.NewServer(server.WithLogger(logger), server.WithConfig(cfg))

	metrics, err := middleware.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	svr.Use(metrics.Middleware(svr.Known))
	if opts.RateLimit > 0 {
		svr.Use(middleware.RateLimitMiddleware(opts.RateLimit, opts.RateBurst))
	}
	svr.Use(middleware.LoggingMiddleware(logger))

	var mailer demo.Mailer
	if opts.SMTPAddr != "" {
		mailer = &demo.SMTPMailer{Addr: opts.SMTPAddr}
	}
	if err := demo.Register(svr, demo.Options{Mailer: mailer, Logger: logger}); err != nil {
		return err
	}

	var reg registry.Registry
	if len(opts.EtcdEndpoints) > 0 {
		etcd, err := registry.NewEtcdRegistry(opts.EtcdEndpoints, logger)
		if err != nil {
			return fmt.Errorf("etcd: %w", err)
		}
		defer etcd.Close()
		reg = etcd
	}

	errc := make(chan error, 2)
	var httpSrv *http.Server
	if opts.HTTPAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/", svr.HTTPHandler())
		mux.Handle("/metrics", promhttp.Handler())
		httpSrv = &http.Server{Addr: opts.HTTPAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logger.Info("http listening", zap.String("addr", opts.HTTPAddr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("http: %w", err)
			}
		}()
	}
	if opts.TCPAddr != "" {
		lis, err := net.Listen("tcp", opts.TCPAddr)
		if err != nil {
			return err
		}
		advertise := opts.AdvertiseAddr
		if advertise == "" {
			advertise = advertiseFor(lis.Addr())
		}
		go func() {
			if err := svr.Serve(lis, advertise, reg); err != nil {
				errc <- fmt.Errorf("tcp: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errc:
		logger.Error("listener failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownAfter)
	defer cancel()
	if httpSrv != nil {
		if serr := httpSrv.Shutdown(shutdownCtx); serr != nil {
			logger.Warn("http shutdown", zap.Error(serr))
		}
	}
	if opts.TCPAddr != "" {
		if serr := svr.Shutdown(opts.ShutdownAfter); serr != nil {
			logger.Warn("tcp shutdown", zap.Error(serr))
		}
	}
	return err
}

// advertiseFor turns a wildcard listen address into one a client on this
// host can dial.
func advertiseFor(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	if ip := net.ParseIP(host); host == "" || ip != nil && ip.IsUnspecified() {
		if name, err := os.Hostname(); err == nil && !strings.ContainsAny(name, " /") {
			host = name
		} else {
			host = "127.0.0.1"
		}
	}
	return net.JoinHostPort(host, port)
}
