package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mcpship/mcpship/internal/core/network"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Cloud  CloudConfig  `mapstructure:"cloud"`
	Docker DockerConfig `mapstructure:"docker"`
	Deploy DeployConfig `mapstructure:"deploy"`
	Output OutputConfig `mapstructure:"output"`
	Log    LogConfig    `mapstructure:"log"`
}

// CloudConfig selects and scopes the cloud provider.
type CloudConfig struct {
	// Provider is the target platform: "aws" or "gcp".
	Provider string `mapstructure:"provider"`

	// Region is the cloud region to deploy into.
	Region string `mapstructure:"region"`

	// ProjectID is the GCP project ID (required for gcp).
	ProjectID string `mapstructure:"project_id"`

	// Repository is the registry repository namespace for pushed images.
	Repository string `mapstructure:"repository"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// DeployConfig describes the service to deploy.
type DeployConfig struct {
	// ServiceName is the unique service identifier (a DNS label).
	ServiceName string `mapstructure:"service_name"`

	// Image is the locally available image to push and deploy.
	Image string `mapstructure:"image"`

	// ExtraImages are additional local references pushed alongside the
	// primary image, typically per-architecture tags.
	ExtraImages []string `mapstructure:"extra_images"`

	// Port is the container port the service listens on.
	Port int `mapstructure:"port"`

	// CPUMillis and MemoryMB are provider-agnostic resource limits.
	CPUMillis int `mapstructure:"cpu_millis"`
	MemoryMB  int `mapstructure:"memory_mb"`

	// Env is the environment variable mapping for the container.
	Env map[string]string `mapstructure:"env"`

	// Public grants unauthenticated access when true.
	Public bool `mapstructure:"public"`

	// CertificateARN optionally enables HTTPS on the load balancer (aws).
	CertificateARN string `mapstructure:"certificate_arn"`

	// CustomDomain optionally names a domain to serve the service on.
	CustomDomain string `mapstructure:"custom_domain"`

	// MaxInstances caps serverless scaling (gcp). Zero means the platform
	// default.
	MaxInstances int `mapstructure:"max_instances"`

	// Network holds the target network identifiers. The cluster fields are
	// required for aws; the ingress class applies to gcp.
	Network network.Descriptor `mapstructure:"network"`

	// PollInterval and PollTimeout bound the convergence wait.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`

	// ProbeAttempts and ProbeBackoff bound the post-deploy health probe.
	ProbeAttempts int           `mapstructure:"probe_attempts"`
	ProbeBackoff  time.Duration `mapstructure:"probe_backoff"`
}

// OutputConfig controls the client configuration emitted after a deploy.
type OutputConfig struct {
	// SaveConfig is the path to write the mcpServers client config to.
	// Empty prints it to stdout only.
	SaveConfig string `mapstructure:"save_config"`

	// Transport is the connection type advertised to clients: "http" or
	// "sse".
	Transport string `mapstructure:"transport"`

	// Headers are extra HTTP headers clients should send.
	Headers map[string]string `mapstructure:"headers"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("cloud.provider", "")
	v.SetDefault("cloud.region", "")
	v.SetDefault("cloud.project_id", "")
	v.SetDefault("cloud.repository", "")
	v.SetDefault("docker.host", "")
	v.SetDefault("deploy.service_name", "")
	v.SetDefault("deploy.image", "")
	v.SetDefault("deploy.port", 8000)
	v.SetDefault("deploy.cpu_millis", 1000)
	v.SetDefault("deploy.memory_mb", 512)
	v.SetDefault("deploy.public", true)
	v.SetDefault("deploy.poll_interval", "15s")
	v.SetDefault("deploy.poll_timeout", "30m")
	v.SetDefault("deploy.probe_attempts", 5)
	v.SetDefault("deploy.probe_backoff", "10s")
	v.SetDefault("output.transport", "http")
	v.SetDefault("output.save_config", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("MCPSHIP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
