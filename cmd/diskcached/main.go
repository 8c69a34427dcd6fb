// Command diskcached serves a diskcache store over HTTP.
//
// Configuration is read from an optional TOML file and overridden by flags:
//
//	diskcached --config /etc/diskcached.toml --listen :9000
//
// Example config:
//
//	dir = "/var/lib/diskcache"
//	shards = 8
//	flush-interval = "0s"
//
//	[http]
//	listen = ":8081"
//
//	[logging]
//	format = "json"
//	level = "info"
//
// The shard count must stay the same for the lifetime of a directory.
// SIGINT or SIGTERM stops the HTTP server and closes the store, flushing
// any shard that still has unpersisted changes.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dreamware/diskcache/internal/config"
	"github.com/dreamware/diskcache/internal/httpapi"
	"github.com/dreamware/diskcache/internal/metrics"
	"github.com/dreamware/diskcache/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func main() {
	if err := newCommand(os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

type flagValues struct {
	configPath    string
	dir           string
	shards        int
	listen        string
	flushInterval time.Duration
	logLevel      string
	logFormat     string
}

func newCommand(logOut io.Writer) *cobra.Command {
	var fv flagValues
	cmd := &cobra.Command{
		Use:           "diskcached",
		Short:         "Serve a sharded persistent key-value store over HTTP",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags(), fv)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logOut, nil)
		},
	}

	bindFlags(cmd.Flags(), &fv)
	return cmd
}

func bindFlags(flags *pflag.FlagSet, fv *flagValues) {
	defaults := config.NewConfig()
	flags.StringVar(&fv.configPath, "config", "", "Path to a TOML config file")
	flags.StringVar(&fv.dir, "dir", defaults.Dir, "Store directory")
	flags.IntVar(&fv.shards, "shards", defaults.Shards, "Number of shards; must not change for an existing directory")
	flags.StringVar(&fv.listen, "listen", defaults.HTTP.Listen, "HTTP listen address")
	flags.DurationVar(&fv.flushInterval, "flush-interval", time.Duration(defaults.FlushInterval), "Persist dirty shards at this interval instead of on every write (0 = write-through)")
	flags.StringVar(&fv.logLevel, "log-level", defaults.Logging.Level.String(), "Log level: debug, info, warn, error")
	flags.StringVar(&fv.logFormat, "log-format", defaults.Logging.Format, "Log format: auto, console, json")
}

// loadConfig builds the effective config: defaults, then the config file,
// then any flag set explicitly on the command line.
func loadConfig(flags *pflag.FlagSet, fv flagValues) (config.Config, error) {
	cfg := config.NewConfig()
	if fv.configPath != "" {
		var err error
		if cfg, err = config.Load(fv.configPath); err != nil {
			return cfg, err
		}
	}

	if flags.Changed("dir") {
		cfg.Dir = fv.dir
	}
	if flags.Changed("shards") {
		cfg.Shards = fv.shards
	}
	if flags.Changed("listen") {
		cfg.HTTP.Listen = fv.listen
	}
	if flags.Changed("flush-interval") {
		cfg.FlushInterval = config.Duration(fv.flushInterval)
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = fv.logFormat
	}
	if flags.Changed("log-level") {
		if err := cfg.Logging.Level.UnmarshalText([]byte(fv.logLevel)); err != nil {
			return cfg, fmt.Errorf("invalid log level %q: %w", fv.logLevel, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// run serves cfg until ctx is done. ready, if not nil, is called with the
// bound listen address once the server accepts connections.
func run(ctx context.Context, cfg config.Config, logOut io.Writer, ready func(addr string)) (err error) {
	log, err := cfg.Logging.New(logOut)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	storeMetrics := metrics.NewStoreMetrics()
	httpMetrics := metrics.NewHTTPMetrics()
	reg.MustRegister(storeMetrics.PrometheusCollectors()...)
	reg.MustRegister(httpMetrics.PrometheusCollectors()...)

	store, err := storage.New(cfg.Dir, cfg.Shards,
		storage.WithLogger(log),
		storage.WithMetrics(storeMetrics),
		storage.WithFlushInterval(time.Duration(cfg.FlushInterval)),
	)
	if err != nil {
		log.Error("Failed to open store", zap.String("dir", cfg.Dir), zap.Error(err))
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			log.Error("Failed to close store", zap.Error(cerr))
			err = multierr.Append(err, cerr)
		}
	}()

	ln, err := net.Listen("tcp", cfg.HTTP.Listen)
	if err != nil {
		log.Error("Failed to listen", zap.String("addr", cfg.HTTP.Listen), zap.Error(err))
		return err
	}

	srv := &http.Server{
		Handler: httpapi.NewHandler(store,
			httpapi.WithLogger(log.With(zap.String("service", "http"))),
			httpapi.WithGatherer(reg),
			httpapi.WithMetrics(httpMetrics),
		),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	log.Info("Listening", zap.String("addr", ln.Addr().String()))
	if ready != nil {
		ready(ln.Addr().String())
	}

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", zap.Error(err))
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownTimeout))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", zap.Error(err))
		return err
	}
	return nil
}
