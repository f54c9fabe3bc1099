// Command citractl reads and writes the memory of a running Citra emulator.
//
//	citractl [flags] read <addr> <len>
//	citractl [flags] write <addr> <hexbytes>
//	citractl [flags] repl
package main

import (
	"citra-rpc/client"
	"citra-rpc/config"
	"citra-rpc/loadbalance"
	"citra-rpc/logging"
	"citra-rpc/middleware"
	"citra-rpc/registry"
	"citra-rpc/server"
	"citra-rpc/transport"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "citractl: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	address    string
	port       int
	timeout    time.Duration
	retries    int
	service    string
	sim        bool
}

func run(args []string) error {
	fs := flag.NewFlagSet("citractl", flag.ContinueOnError)
	var opts options
	fs.StringVar(&opts.configPath, "config", "", "TOML config file")
	fs.StringVar(&opts.address, "addr", transport.DefaultHost, "emulator host")
	fs.IntVar(&opts.port, "port", transport.DefaultPort, "emulator port")
	fs.DurationVar(&opts.timeout, "timeout", 0, "per-exchange timeout (0 waits forever)")
	fs.IntVar(&opts.retries, "retries", 0, "retries after transport errors")
	fs.StringVar(&opts.service, "service", "", "discover the emulator in etcd under this service name")
	fs.BoolVar(&opts.sim, "sim", false, "talk to an in-process simulated emulator")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: citractl [flags] read <addr> <len> | write <addr> <hexbytes> | repl")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(fs, opts)
	if err != nil {
		return err
	}
	logger := logging.Configure(logging.ProfileRuntime, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := connect(ctx, cfg, opts.sim, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return errors.New("missing command")
	}
	switch rest[0] {
	case "repl":
		return runREPL(ctx, c, newLineEditor(), os.Stdout)
	default:
		return execute(ctx, c, rest, os.Stdout)
	}
}

// loadConfig starts from the config file (or defaults) and applies the flags set on the command line.
func loadConfig(fs *flag.FlagSet, opts options) (config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return config.Config{}, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Address = opts.address
		case "port":
			cfg.Port = opts.port
		case "timeout":
			cfg.Timeout = opts.timeout
		case "retries":
			cfg.Retries = opts.retries
		case "service":
			cfg.Service = opts.service
		}
	})
	return cfg, cfg.Validate()
}

// clientOptions turns the config into the client middleware stack:
// Logging → Retry → Timeout → Throttle → Conn.
func clientOptions(cfg config.Config, logger zerolog.Logger) []client.Option {
	mws := []middleware.Middleware{middleware.Logging(logger)}
	if cfg.Retries > 0 {
		mws = append(mws, middleware.Retry(cfg.Retries, cfg.RetryDelay, logger))
	}
	if cfg.Timeout > 0 {
		mws = append(mws, middleware.Timeout(cfg.Timeout))
	}
	if cfg.RateLimit > 0 {
		mws = append(mws, middleware.Throttle(cfg.RateLimit, cfg.RateBurst))
	}
	return []client.Option{
		client.WithMiddleware(mws...),
		client.WithChunkSize(cfg.ChunkSize),
		client.WithLogger(logger),
	}
}

func connect(ctx context.Context, cfg config.Config, sim bool, logger zerolog.Logger) (*client.Client, error) {
	opts := clientOptions(cfg, logger)

	if sim {
		srv := server.NewServer(server.NewPagedMemory(), server.WithLogger(logger))
		logger.Info().Msg("using in-process simulated emulator")
		return client.New(transport.NewLoopback(srv.HandleMessage), opts...), nil
	}

	if cfg.Service != "" {
		bal, err := loadbalance.ByName(cfg.Balancer)
		if err != nil {
			return nil, err
		}
		reg, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints, logger)
		if err != nil {
			return nil, err
		}
		defer reg.Close()

		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		c, err := client.DialService(dialCtx, reg, bal, cfg.Service, opts...)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("service", cfg.Service).Str("balancer", cfg.Balancer).Msg("connected via discovery")
		return c, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	c, err := client.Dial(dialCtx, cfg.Endpoint(), opts...)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("endpoint", cfg.Endpoint()).Msg("connected")
	return c, nil
}
