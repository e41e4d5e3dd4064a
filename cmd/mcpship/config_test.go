package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpship/mcpship/internal/core/cloudfail"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Deploy.Port)
	assert.Equal(t, 1000, cfg.Deploy.CPUMillis)
	assert.Equal(t, 512, cfg.Deploy.MemoryMB)
	assert.True(t, cfg.Deploy.Public)
	assert.Equal(t, 15*time.Second, cfg.Deploy.PollInterval)
	assert.Equal(t, 30*time.Minute, cfg.Deploy.PollTimeout)
	assert.Equal(t, 5, cfg.Deploy.ProbeAttempts)
	assert.Equal(t, 10*time.Second, cfg.Deploy.ProbeBackoff)
	assert.Equal(t, "http", cfg.Output.Transport)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
cloud:
  provider: "aws"
  region: "us-east-1"
  repository: "my-servers"

deploy:
  service_name: "weather-api"
  image: "weather-api:latest"
  port: 9000
  cpu_millis: 2000
  memory_mb: 1024
  public: false
  env:
    API_KEY: "secret"
  network:
    cluster_name: "mcp-cluster"
    vpc_id: "vpc-0abc123"
    public_subnet_ids: ["subnet-aaa", "subnet-bbb"]
    private_subnet_ids: ["subnet-ccc"]
  poll_interval: 5s
  poll_timeout: 10m

output:
  transport: "sse"
  save_config: "/tmp/mcp.json"

log:
  level: "debug"
  format: "json"
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "aws", cfg.Cloud.Provider)
	assert.Equal(t, "us-east-1", cfg.Cloud.Region)
	assert.Equal(t, "my-servers", cfg.Cloud.Repository)
	assert.Equal(t, "weather-api", cfg.Deploy.ServiceName)
	assert.Equal(t, 9000, cfg.Deploy.Port)
	assert.Equal(t, 2000, cfg.Deploy.CPUMillis)
	assert.Equal(t, 1024, cfg.Deploy.MemoryMB)
	assert.False(t, cfg.Deploy.Public)
	assert.Equal(t, map[string]string{"API_KEY": "secret"}, cfg.Deploy.Env)
	assert.Equal(t, "mcp-cluster", cfg.Deploy.Network.ClusterName)
	assert.Equal(t, "vpc-0abc123", cfg.Deploy.Network.VPCID)
	assert.Equal(t, []string{"subnet-aaa", "subnet-bbb"}, cfg.Deploy.Network.PublicSubnetIDs)
	assert.Equal(t, 5*time.Second, cfg.Deploy.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.Deploy.PollTimeout)
	assert.Equal(t, "sse", cfg.Output.Transport)
	assert.Equal(t, "/tmp/mcp.json", cfg.Output.SaveConfig)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("MCPSHIP_CLOUD_PROVIDER", "gcp")
	t.Setenv("MCPSHIP_CLOUD_REGION", "us-central1")
	t.Setenv("MCPSHIP_CLOUD_PROJECT_ID", "my-proj")
	t.Setenv("MCPSHIP_DEPLOY_SERVICE_NAME", "weather-api")
	t.Setenv("MCPSHIP_DEPLOY_PORT", "9090")
	t.Setenv("MCPSHIP_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "gcp", cfg.Cloud.Provider)
	assert.Equal(t, "us-central1", cfg.Cloud.Region)
	assert.Equal(t, "my-proj", cfg.Cloud.ProjectID)
	assert.Equal(t, "weather-api", cfg.Deploy.ServiceName)
	assert.Equal(t, 9090, cfg.Deploy.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err) // Should not error, just use defaults

	assert.Equal(t, 8000, cfg.Deploy.Port)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "text", ""} {
		cfg := &Config{Log: LogConfig{Level: "info", Format: format}}
		assert.NotNil(t, SetupLogger(cfg))
	}
}

func TestSetupLogger_InvalidLevel(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "invalid", Format: "json"}}

	// Should fall back to info level, not panic
	assert.NotNil(t, SetupLogger(cfg))
}

// =============================================================================
// Exit Code Tests
// =============================================================================

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"validation", cloudfail.NewValidationError("port", "must be positive"), ExitValidation},
		{"not configured", &cloudfail.NotConfiguredError{Provider: "aws", Hint: "aws sts get-caller-identity", Err: errors.New("no credentials")}, ExitNotConfigured},
		{"registry", &cloudfail.RegistryError{Op: "Push", Err: errors.New("denied")}, ExitRegistry},
		{"infrastructure", cloudfail.NewInfrastructureError(errors.New("AccessDenied")), ExitInfrastructure},
		{"timeout", &cloudfail.InfrastructureError{Kind: cloudfail.KindTimeout, Cause: context.DeadlineExceeded}, ExitTimeout},
		{"conflict", fmt.Errorf("refused: %w", cloudfail.ErrConcurrentOperation), ExitConflict},
		{"unsupported provider", fmt.Errorf("%w: %q", cloudfail.ErrUnsupportedProvider, "azure"), ExitValidation},
		{"opaque", errors.New("boom"), ExitInfrastructure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFor(tt.err))
		})
	}
}

// =============================================================================
// Test Helpers
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"MCPSHIP_CLOUD_PROVIDER",
		"MCPSHIP_CLOUD_REGION",
		"MCPSHIP_CLOUD_PROJECT_ID",
		"MCPSHIP_CLOUD_REPOSITORY",
		"MCPSHIP_DEPLOY_SERVICE_NAME",
		"MCPSHIP_DEPLOY_IMAGE",
		"MCPSHIP_DEPLOY_PORT",
		"MCPSHIP_LOG_LEVEL",
		"MCPSHIP_LOG_FORMAT",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}
