package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oicur0t/logcollect/internal/collector"
	"github.com/oicur0t/logcollect/internal/config"
	"github.com/oicur0t/logcollect/internal/output"
	"github.com/oicur0t/logcollect/internal/server"
	"github.com/oicur0t/logcollect/internal/source"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "/etc/logcollect/collector.yaml", "Path to configuration file")
	once := flag.Bool("once", false, "Run a single collection cycle over the initial lookback and exit")
	printConfig := flag.Bool("print-config", false, "Print the effective configuration as YAML and exit")
	listTargets := flag.Bool("list-targets", false, "Resolve and print the targets of a cycle, then exit")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	bootstrap, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// Load configuration
	provider, err := config.NewProvider(*configPath, bootstrap)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg := provider.Current()

	if *printConfig {
		data, err := config.MarshalYAML(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(data)
		return
	}

	// Initialize logger
	level := cfg.LogLevel
	if *verbose {
		level = "debug"
	}
	logger, err := initLogger(level, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	provider.SetLogger(logger)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router, err := source.NewRouter(cfg.Sources, logger)
	if err != nil {
		logger.Fatal("Failed to create source router", zap.Error(err))
	}

	if *listTargets {
		resolver := collector.NewResolver(router, cfg.QueryTimeout, logger)
		targets, failed := resolver.Resolve(ctx, cfg.Hosts, cfg.Logs)
		for _, t := range targets {
			fmt.Printf("%s\t%s\n", source.DisplayHost(t.Host), t.LogName)
		}
		for host, err := range failed {
			fmt.Fprintf(os.Stderr, "%s\t%v\n", source.DisplayHost(host), err)
		}
		if len(failed) > 0 {
			os.Exit(1)
		}
		return
	}

	opts, err := cfg.OutputOptions()
	if err != nil {
		logger.Fatal("Invalid output configuration", zap.Error(err))
	}
	writer := output.NewWriter(opts, logger)
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Error("Failed to close output file", zap.Error(err))
		}
	}()

	metrics := &collector.Metrics{}
	c := collector.New(cfg.Settings(), router, writer, metrics, logger)
	scheduler := collector.NewScheduler(c, cfg.Interval, time.Now().Add(-cfg.InitialLookback), metrics, logger)

	logger.Info("Starting logcollect",
		zap.Strings("hosts", cfg.HostList()),
		zap.String("logs", cfg.Logs),
		zap.Duration("interval", cfg.Interval),
		zap.String("output", opts.Policy.Path),
		zap.String("rotation", opts.Policy.Mode.String()))

	if *once {
		report, err := scheduler.Tick(ctx)
		if err != nil {
			logger.Fatal("Collection cycle failed", zap.Error(err))
		}
		if report.WriteError != "" {
			os.Exit(1)
		}
		return
	}

	// Configuration changes take effect at the start of the next cycle.
	scheduler.BeforeCycle = func() time.Duration {
		cfg, _ := provider.Reload()
		apply(cfg, c, writer, router, logger)
		return cfg.Interval
	}

	go func() {
		if err := provider.Watch(ctx, nil); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Config file watching disabled, changes apply on SIGHUP or next cycle", zap.Error(err))
		}
	}()

	var statusServer *http.Server
	if cfg.Status.ListenAddress != "" {
		statusServer = startStatusServer(cfg.Status.ListenAddress, scheduler, metrics, logger)
	}

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		for sig := range sigChan {
			if sig == syscall.SIGHUP {
				logger.Info("Received SIGHUP, reloading configuration")
				if _, err := provider.Reload(); err != nil {
					logger.Error("Failed to reload configuration", zap.Error(err))
				}
				continue
			}

			logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
			cancel()

			// Give 30 seconds for graceful shutdown
			time.Sleep(30 * time.Second)
			logger.Error("Forced shutdown after timeout")
			os.Exit(1)
		}
	}()

	// Run the first cycle right away, then on every tick
	if _, err := scheduler.Tick(ctx); err != nil {
		logger.Warn("Initial cycle skipped", zap.Error(err))
	}
	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Scheduler failed", zap.Error(err))
	}

	if statusServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Status server shutdown error", zap.Error(err))
		}
	}

	logger.Info("Collector stopped gracefully")
}

// apply pushes a reloaded configuration into the running components
func apply(cfg *config.CollectorConfig, c *collector.Collector, writer *output.Writer, router *source.Router, logger *zap.Logger) {
	c.Configure(cfg.Settings())

	if opts, err := cfg.OutputOptions(); err != nil {
		logger.Warn("Keeping previous output settings", zap.Error(err))
	} else {
		writer.Configure(opts)
	}

	if err := router.Configure(cfg.Sources); err != nil {
		logger.Warn("Keeping previous source settings", zap.Error(err))
	}
}

func startStatusServer(addr string, scheduler *collector.Scheduler, metrics *collector.Metrics, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	server.NewStatusHandler(scheduler, metrics, logger).Routes(mux)

	httpServer := &http.Server{
		Addr: addr,
		Handler: server.Chain(mux,
			server.LoggingMiddleware(logger),
			server.RecoveryMiddleware(logger)),
		ReadTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Status server starting", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Status server error", zap.Error(err))
		}
	}()
	return httpServer
}

// initLogger creates a configured zap logger
func initLogger(level, format, outputPath string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var loggerConfig zap.Config
	if format == "json" {
		loggerConfig = zap.NewProductionConfig()
	} else {
		loggerConfig = zap.NewDevelopmentConfig()
	}

	loggerConfig.Level = zap.NewAtomicLevelAt(zapLevel)
	if outputPath != "" {
		loggerConfig.OutputPaths = []string{outputPath}
	}

	return loggerConfig.Build()
}
