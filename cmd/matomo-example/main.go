package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/guided-traffic/matomo-tracker/internal/config"
	"github.com/guided-traffic/matomo-tracker/internal/monitoring"
	"github.com/guided-traffic/matomo-tracker/internal/server"
	"github.com/guided-traffic/matomo-tracker/internal/server/handlers/health"
)

var (
	// Build information injected at build time
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"

	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "matomo-example",
		Short: "Example web application tracked by the Matomo tracker middleware",
		Long: `matomo-example serves a small web application whose requests are reported
to a Matomo server through its HTTP tracking API.

Every request sends one tracking call with the route as action name, the
response status and method as custom variables and the server generation time.
Health endpoints and paths below an "old" segment are not tracked.

The collector is configured under the 'tracker' key of the YAML configuration
file or with MATOMO_ prefixed environment variables. MATOMO_URL, MATOMO_ID_SITE
and MATOMO_TOKEN are accepted as well.`,
		Run: runServer,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to configuration file (YAML format)")
}

func initConfig() {
	config.InitConfig(cfgFile)
}

func runServer(cmd *cobra.Command, args []string) {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Invalid logging configuration")
	}

	// Display build information at startup
	logrus.WithFields(logrus.Fields{
		"version":   version,
		"commit":    commit,
		"buildTime": buildTime,
	}).Info("Matomo example build information")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitoringDone := startMonitoring(ctx, cfg)

	exampleServer, err := server.NewServer(cfg, health.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create server")
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	done := make(chan error, 1)
	go func() {
		done <- exampleServer.Start(ctx)
	}()

	select {
	case err := <-done:
		logrus.WithError(err).Fatal("Server failed")
	case <-sigChan:
	}
	logrus.Info("Received shutdown signal, gracefully shutting down...")

	// Cancel context to trigger graceful shutdown
	cancel()

	if err := <-done; err != nil {
		logrus.WithError(err).Error("Graceful shutdown incomplete")
	}
	if err := <-monitoringDone; err != nil {
		logrus.WithError(err).Error("Monitoring server failed")
	}

	logrus.Info("Server stopped")
}

// startMonitoring runs the metrics server until ctx is done. The returned
// channel yields its result once it has shut down, and is closed right away
// when monitoring is disabled.
func startMonitoring(ctx context.Context, cfg *config.Config) <-chan error {
	done := make(chan error, 1)
	if !cfg.Monitoring.Enabled {
		close(done)
		return done
	}

	monitoring.SetServerInfo(version, commit, buildTime)
	monitoringServer := monitoring.NewServer(&monitoring.Config{
		BindAddress: cfg.Monitoring.BindAddress,
		MetricsPath: cfg.Monitoring.MetricsPath,
	}, logrus.NewEntry(logrus.StandardLogger()))

	go func() {
		done <- monitoringServer.Start(ctx)
	}()
	return done
}

// configureLogging applies level, format and output of the standard logger
func configureLogging(cfg *config.Config) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	logrus.SetOutput(logOutput(cfg.LogFile))
	return nil
}

func logOutput(logFile string) io.Writer {
	switch logFile {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	default:
		return &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100,
			MaxAge:     14,
			MaxBackups: 10,
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
