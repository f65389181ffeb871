package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/guided-traffic/matomo-tracker/internal/config"
)

func TestLogOutput(t *testing.T) {
	assert.Equal(t, os.Stdout, logOutput(""))
	assert.Equal(t, os.Stdout, logOutput("stdout"))
	assert.Equal(t, os.Stderr, logOutput("stderr"))

	path := filepath.Join(t.TempDir(), "example.log")
	rotating, ok := logOutput(path).(*lumberjack.Logger)
	require.True(t, ok)
	assert.Equal(t, path, rotating.Filename)
}

func TestConfigureLogging(t *testing.T) {
	defer func() {
		logrus.SetLevel(logrus.InfoLevel)
		logrus.SetFormatter(&logrus.TextFormatter{})
		logrus.SetOutput(os.Stderr)
	}()

	err := configureLogging(&config.Config{LogLevel: "debug", LogFormat: "json", LogFile: "stderr"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)

	err = configureLogging(&config.Config{LogLevel: "loud"})
	assert.Error(t, err)
}

func TestStartMonitoring_Disabled(t *testing.T) {
	done := startMonitoring(context.Background(), &config.Config{})

	select {
	case err, ok := <-done:
		assert.NoError(t, err)
		assert.False(t, ok)
	default:
		t.Fatal("channel of disabled monitoring must be closed")
	}
}

func TestStartMonitoring_WaitsForShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := startMonitoring(ctx, &config.Config{
		Monitoring: config.MonitoringConfig{
			Enabled:     true,
			BindAddress: "127.0.0.1:0",
			MetricsPath: "/metrics",
		},
	})

	select {
	case err := <-done:
		t.Fatalf("monitoring server stopped before cancel: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("monitoring server did not shut down")
	}
}
