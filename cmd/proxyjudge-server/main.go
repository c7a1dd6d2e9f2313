package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/config"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/errors"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/help"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/logging"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/metrics"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/proxy"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/server"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/store"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("proxyjudge-server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		addr        = fs.String("addr", "", "API/WebSocket address (overrides config)")
		configFile  = fs.String("config", "", "Configuration file")
		storeDSN    = fs.String("store", "", "Persist results to this DSN")
		logLevel    = fs.String("log-level", "", "Log level (debug, info, warn, error)")
		showVersion = fs.Bool("version", false, "Show version information")
	)
	if err := fs.Parse(args); err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *showVersion {
		help.PrintVersion(stdout, help.DetectNoColor())
		return 0
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(stderr, "ignoring .env file: %v\n", err)
	}
	configPath, _ := config.GetConfigPath(*configFile)
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration %s: %v\n", configPath, err)
		return 1
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *storeDSN != "" {
		cfg.Store.DSN = *storeDSN
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	loggerConfig := cfg.LoggerConfig()
	loggerConfig.Output = stderr
	logger := logging.NewLogger(loggerConfig)

	result := config.ValidateConfig(cfg)
	for _, warning := range result.Warnings {
		logger.Warn("Configuration validation warning", "warning", warning)
	}
	if !result.Valid {
		for _, validationErr := range result.Errors {
			logger.Error("Configuration error", "error", validationErr.Error())
		}
		return 1
	}
	logger.ConfigLoaded(configPath)
	logger.Info("Starting ProxyJudge server", "addr", cfg.Server.Addr, "version", help.Version)

	var serverOpts []server.Option
	serverOpts = append(serverOpts, server.WithLogger(logger))

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		serverOpts = append(serverOpts, server.WithMetrics(collector))
	}

	if cfg.Store.DSN != "" {
		persist, err := store.Open(cfg.Store.DSN)
		if err != nil {
			logger.Error("Failed to open store", "error", err, "category", errors.GetErrorCategory(err))
			return 1
		}
		defer persist.Close()
		serverOpts = append(serverOpts, server.WithWorkerOptions(worker.WithStore(persist)))
	}
	if cfg.RateLimit.Enabled {
		serverOpts = append(serverOpts, server.WithWorkerOptions(worker.WithRateLimit(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)))
	}

	fetcher := cfg.Fetcher()
	checkerOpts := []proxy.Option{proxy.WithLogger(logger)}
	if collector != nil {
		checkerOpts = append(checkerOpts, proxy.WithMetrics(collector))
	}
	checker := proxy.NewChecker(fetcher, fetcher, checkerOpts...)

	srv := server.New(checker, fetcher, server.Options{
		Template:     cfg.CheckerOptions(false),
		Concurrency:  cfg.Concurrency,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		ParseLimit:   cfg.ParseLimit,
		CurrentIPTTL: cfg.Server.CurrentIPTTL,
	}, serverOpts...)

	if err := srv.Start(cfg.Server.Addr); err != nil {
		logger.Error("Failed to start server", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Warm the current-IP cache so the first check does not pay for it.
	go func() {
		if ip, err := srv.IPCache().CurrentIP(ctx); err != nil {
			logger.Warn("Current IP not resolved yet", "error", err)
		} else {
			logger.Info("Current IP resolved", "ip", ip)
		}
	}()

	<-ctx.Done()
	logger.ShutdownReceived()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", "error", err)
		return 1
	}
	return 0
}
