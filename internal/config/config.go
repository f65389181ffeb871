package config

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/guided-traffic/matomo-tracker/pkg/matomo"
)

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`      // Enable/disable monitoring
	BindAddress string `mapstructure:"bind_address"` // Address to bind monitoring server (default: :9090)
	MetricsPath string `mapstructure:"metrics_path"` // Path for metrics endpoint (default: /metrics)
}

// CORSConfig holds CORS configuration of the example server
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// TrackerConfig holds the Matomo tracker configuration
type TrackerConfig struct {
	URL       string `mapstructure:"url"`
	IDSite    int    `mapstructure:"id_site"`
	TokenAuth string `mapstructure:"token_auth"` // Without it no client IP is tracked
	BaseURL   string `mapstructure:"base_url"`

	// Send tracking calls in the background and drain them on shutdown
	Async bool `mapstructure:"async"`

	// Collector client settings
	Timeout            time.Duration `mapstructure:"timeout"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"` // Only for development/testing

	IgnoredRoutes     []string       `mapstructure:"ignored_routes"`
	IgnoredPatterns   []string       `mapstructure:"ignored_patterns"`
	IgnoredUAPatterns []string       `mapstructure:"ignored_ua_patterns"`
	RoutesDetails     []RouteDetails `mapstructure:"routes_details"`
}

// RouteDetails overrides the action name of a single route. Kept as a list
// because viper lowercases map keys and route templates are case sensitive.
type RouteDetails struct {
	Route      string `mapstructure:"route"`
	ActionName string `mapstructure:"action_name"`
}

// Config holds the application configuration
type Config struct {
	// Server configuration
	BindAddress       string `mapstructure:"bind_address"`
	LogLevel          string `mapstructure:"log_level"`
	LogFormat         string `mapstructure:"log_format"` // "text" (default) or "json"
	LogFile           string `mapstructure:"log_file"`   // "stdout", "stderr" or a file path
	LogHealthRequests bool   `mapstructure:"log_health_requests"`
	ShutdownTimeout   int    `mapstructure:"shutdown_timeout"` // Graceful shutdown timeout in seconds

	// Monitoring configuration
	Monitoring MonitoringConfig `mapstructure:"monitoring"`

	CORS CORSConfig `mapstructure:"cors"`

	// Matomo configuration
	Tracker TrackerConfig `mapstructure:"tracker"`
}

// legacyEnv maps environment variables of earlier releases onto config keys
var legacyEnv = map[string]string{
	"tracker.url":        "MATOMO_URL",
	"tracker.id_site":    "MATOMO_ID_SITE",
	"tracker.token_auth": "MATOMO_TOKEN",
}

// InitConfig initializes the configuration system
func InitConfig(cfgFile string) {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}

		// Search config in home directory with name ".matomo-tracker" (without extension)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".matomo-tracker")
	}

	bindEnv()

	// Set defaults
	setDefaults()

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// bindEnv enables MATOMO_ prefixed environment variables, e.g.
// MATOMO_TRACKER_ID_SITE for tracker.id_site
func bindEnv() {
	viper.SetEnvPrefix("MATOMO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	for key, env := range legacyEnv {
		// BindEnv only fails without arguments
		_ = viper.BindEnv(key, "MATOMO_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}
}

// Load loads the configuration from viper
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate required fields
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("bind_address", "0.0.0.0:8080")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")
	viper.SetDefault("log_file", "stdout")
	viper.SetDefault("log_health_requests", false)
	viper.SetDefault("shutdown_timeout", 30)

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", false)
	viper.SetDefault("monitoring.bind_address", ":9090")
	viper.SetDefault("monitoring.metrics_path", "/metrics")

	viper.SetDefault("cors.allowed_origins", []string{"*"})

	// Tracker defaults. Every key needs a default so that its MATOMO_ variable is
	// seen by Unmarshal. routes_details can only be set in the config file.
	viper.SetDefault("tracker.base_url", "")
	viper.SetDefault("tracker.ignored_routes", []string{})
	viper.SetDefault("tracker.ignored_patterns", []string{})
	viper.SetDefault("tracker.ignored_ua_patterns", []string{})
	viper.SetDefault("tracker.async", false)
	viper.SetDefault("tracker.timeout", 10*time.Second)
	viper.SetDefault("tracker.insecure_skip_verify", false)
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Tracker.URL == "" {
		return fmt.Errorf("tracker.url is required (or legacy MATOMO_URL)")
	}
	if _, err := matomo.NormalizeURL(cfg.Tracker.URL); err != nil {
		return fmt.Errorf("tracker.url: %w", err)
	}
	if cfg.Tracker.IDSite <= 0 {
		return fmt.Errorf("tracker.id_site must be a positive integer (or legacy MATOMO_ID_SITE), got %d", cfg.Tracker.IDSite)
	}
	for i, d := range cfg.Tracker.RoutesDetails {
		if d.Route == "" {
			return fmt.Errorf("tracker.routes_details[%d]: route is required", i)
		}
	}
	if cfg.Tracker.Timeout < 0 {
		return fmt.Errorf("tracker.timeout must not be negative")
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format '%s', must be 'text' or 'json'", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must not be negative")
	}

	if cfg.Monitoring.Enabled && !strings.HasPrefix(cfg.Monitoring.MetricsPath, "/") {
		return fmt.Errorf("monitoring.metrics_path must start with '/', got '%s'", cfg.Monitoring.MetricsPath)
	}

	return nil
}

// HTTPClient builds the client used for calls to the collector
func (tc TrackerConfig) HTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tc.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true, // #nosec G402 - Intentionally configurable for development/testing
		}
	}

	return &http.Client{
		Timeout:   tc.Timeout,
		Transport: transport,
	}
}

// TrackerConfig converts the tracker section into a matomo.Config. Routes,
// Observer and Logger are left for the caller to wire.
func (cfg *Config) TrackerConfig() matomo.Config {
	return matomo.Config{
		URL:                      cfg.Tracker.URL,
		SiteID:                   cfg.Tracker.IDSite,
		TokenAuth:                cfg.Tracker.TokenAuth,
		BaseURL:                  cfg.Tracker.BaseURL,
		IgnoredRoutes:            cfg.Tracker.IgnoredRoutes,
		IgnoredPatterns:          cfg.Tracker.IgnoredPatterns,
		IgnoredUserAgentPatterns: cfg.Tracker.IgnoredUAPatterns,
		RouteDetails:             cfg.Tracker.routeDetails(),
		Client:                   cfg.Tracker.HTTPClient(),
		Async:                    cfg.Tracker.Async,
	}
}

func (tc TrackerConfig) routeDetails() map[string]matomo.RouteDetails {
	if len(tc.RoutesDetails) == 0 {
		return nil
	}
	details := make(map[string]matomo.RouteDetails, len(tc.RoutesDetails))
	for _, d := range tc.RoutesDetails {
		details[d.Route] = matomo.RouteDetails{ActionName: d.ActionName}
	}
	return details
}

// GetShutdownTimeout returns the graceful shutdown timeout
func (cfg *Config) GetShutdownTimeout() time.Duration {
	return time.Duration(cfg.ShutdownTimeout) * time.Second
}
