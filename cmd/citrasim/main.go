// Command citrasim runs an in-memory stand-in for the emulator's scripting server.
package main

import (
	"citra-rpc/logging"
	"citra-rpc/middleware"
	"citra-rpc/registry"
	"citra-rpc/server"
	"citra-rpc/transport"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func main() {
	listen := flag.String("listen", fmt.Sprintf("tcp://*:%d", transport.DefaultPort), "REP endpoint to listen on")
	advertise := flag.String("advertise", transport.Endpoint(transport.DefaultHost, transport.DefaultPort), "endpoint registered for clients")
	etcd := flag.String("etcd", "", "comma-separated etcd endpoints; empty disables registration")
	name := flag.String("name", "citra", "service name to register under")
	ttl := flag.Int64("ttl", 10, "registration lease TTL in seconds")
	maxData := flag.Uint("max-data", server.MaxRequestData, "largest READ or WRITE accepted per request (0 = unlimited)")
	rateLimit := flag.Float64("rate", 0, "requests per second accepted (0 = unlimited)")
	logLevel := flag.String("log-level", "info", "log level")
	metricsAddr := flag.String("metrics", "", "serve Prometheus metrics on this address, e.g. :9464")
	flag.Parse()

	logger := logging.Configure(logging.ProfileRuntime, *logLevel).With().Str("app", "citrasim").Logger()

	srv := server.NewServer(server.NewPagedMemory(),
		server.WithLogger(logger),
		server.WithMaxRequestData(uint32(*maxData)),
	)
	srv.Use(middleware.Logging(logger))
	if *metricsAddr != "" {
		m, err := middleware.NewExchangeMetrics(prometheus.DefaultRegisterer, "server")
		if err != nil {
			log.Fatal().Err(err).Msg("register metrics")
		}
		srv.Use(m.Middleware())
		go serveMetrics(*metricsAddr)
	}
	if *rateLimit > 0 {
		srv.Use(middleware.RateLimit(*rateLimit, max(1, int(*rateLimit))))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *etcd != "" {
		reg, err := registry.NewEtcdRegistry(strings.Split(*etcd, ","), logger)
		if err != nil {
			log.Fatal().Err(err).Msg("connect etcd")
		}
		defer reg.Close()
		if err := srv.Register(ctx, reg, *name, *advertise, *ttl); err != nil {
			log.Fatal().Err(err).Msg("register")
		}
		logger.Info().Str("service", *name).Str("advertise", *advertise).Msg("registered")
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, *listen) }()

	var (
		serveErr error
		returned bool
	)
	select {
	case serveErr = <-served:
		returned = true
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("shutdown")
	}
	if !returned {
		serveErr = <-served
	}
	if serveErr != nil {
		log.Fatal().Err(serveErr).Msg("serve")
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info().Str("addr", addr).Msg("metrics listening")
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}
