package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/oicur0t/logcollect/internal/config"
	"github.com/oicur0t/logcollect/internal/server"
	"github.com/oicur0t/logcollect/internal/source"
	"github.com/oicur0t/logcollect/pkg/mtls"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "/etc/logcollect/agent.yaml", "Path to configuration file")
	printConfig := flag.Bool("print-config", false, "Print the effective configuration as YAML and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAgentConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

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
	logger, err := initLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting logcollect-agent",
		zap.String("listen", cfg.Server.ListenAddress),
		zap.String("source", source.DisplayHost(cfg.Source.Host)))

	router, err := source.NewRouter(cfg.SourceConfig(), logger)
	if err != nil {
		logger.Fatal("Failed to create source router", zap.Error(err))
	}
	if router.KindOf(cfg.Source.Host) == source.KindAgent {
		logger.Fatal("source.host must name a local backend, not another agent",
			zap.String("host", cfg.Source.Host))
	}

	openCtx, openCancel := context.WithTimeout(context.Background(), cfg.Server.QueryTimeout)
	client, err := router.Open(openCtx, cfg.Source.Host)
	openCancel()
	if err != nil {
		logger.Fatal("Failed to open log source", zap.Error(err))
	}

	// Create handler
	handler := server.NewHandler(client, cfg.Server.QueryTimeout, logger)

	// Create HTTP mux
	mux := http.NewServeMux()
	handler.Routes(mux)

	// Apply middleware
	middleware := []server.Middleware{
		server.LoggingMiddleware(logger),
		server.RecoveryMiddleware(logger),
	}
	if cfg.MTLS.Enabled && strings.EqualFold(cfg.MTLS.ClientAuth, "require") {
		middleware = append(middleware, server.MTLSMiddleware(logger))
	}
	if cfg.Auth.TokenHash != "" {
		middleware = append(middleware, server.TokenMiddleware(cfg.Auth.TokenHash, logger))
	}

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddress,
		Handler:      server.Chain(mux, middleware...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Load TLS configuration if mTLS is enabled
	if cfg.MTLS.Enabled {
		tlsConfig, err := mtls.LoadServerTLSConfig(cfg.MTLS)
		if err != nil {
			logger.Fatal("Failed to load TLS config", zap.Error(err))
		}
		httpServer.TLSConfig = tlsConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, httpServer, cfg.MTLS.Enabled, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Error("Server error", zap.Error(err))
	}
	if err := client.Close(); err != nil {
		logger.Error("Failed to close log source", zap.Error(err))
	}
	logger.Info("Agent stopped")
}

// serve runs httpServer until ctx is done, then drains in-flight queries
// for at most shutdownTimeout.
func serve(ctx context.Context, httpServer *http.Server, useTLS bool, shutdownTimeout time.Duration, logger *zap.Logger) error {
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", zap.String("addr", httpServer.Addr), zap.Bool("tls", useTLS))
		if useTLS {
			serverErrors <- httpServer.ListenAndServeTLS("", "") // Certs loaded via TLSConfig
		} else {
			serverErrors <- httpServer.ListenAndServe()
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		httpServer.Close()
		return fmt.Errorf("failed to shut down gracefully: %w", err)
	}
	return nil
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
