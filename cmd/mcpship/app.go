package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mcpship/mcpship/internal/core/cloudfail"
	"github.com/mcpship/mcpship/internal/core/deploy"
	"github.com/mcpship/mcpship/internal/core/mcpconfig"
	"github.com/mcpship/mcpship/internal/shell/orchestrator"
	"github.com/mcpship/mcpship/internal/shell/provider"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess        = 0
	ExitValidation     = 1
	ExitInfrastructure = 2
	ExitTimeout        = 3
	ExitConflict       = 4
	ExitNotConfigured  = 5
	ExitRegistry       = 6
)

// exitCodeFor maps the error taxonomy onto process exit codes so scripted
// callers can branch on the failure class.
func exitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var validation *cloudfail.ValidationError
	if errors.As(err, &validation) {
		return ExitValidation
	}
	var notConfigured *cloudfail.NotConfiguredError
	if errors.As(err, &notConfigured) {
		return ExitNotConfigured
	}
	var registry *cloudfail.RegistryError
	if errors.As(err, &registry) {
		return ExitRegistry
	}
	var infra *cloudfail.InfrastructureError
	if errors.As(err, &infra) {
		if infra.Timeout() {
			return ExitTimeout
		}
		return ExitInfrastructure
	}
	if errors.Is(err, cloudfail.ErrConcurrentOperation) {
		return ExitConflict
	}
	if errors.Is(err, cloudfail.ErrUnsupportedProvider) {
		return ExitValidation
	}
	return ExitInfrastructure
}

// =============================================================================
// App
// =============================================================================

// App wires the configured provider adapter to the deployment lifecycle.
type App struct {
	cfg      *Config
	logger   *slog.Logger
	provider provider.CloudProvider
}

// NewApp constructs the provider adapter from configuration.
func NewApp(ctx context.Context, cfg *Config, logger *slog.Logger) (*App, error) {
	prober := orchestrator.NewProber(orchestrator.ProbeConfig{
		Attempts: cfg.Deploy.ProbeAttempts,
		Backoff:  cfg.Deploy.ProbeBackoff,
	}, logger)

	orch := orchestrator.New(orchestrator.PollConfig{
		Interval: cfg.Deploy.PollInterval,
		Timeout:  cfg.Deploy.PollTimeout,
	}, prober, logger)

	prov, err := provider.New(ctx, cfg.Cloud.Provider, provider.Options{
		Region:     cfg.Cloud.Region,
		ProjectID:  cfg.Cloud.ProjectID,
		Repository: cfg.Cloud.Repository,
		DockerHost: cfg.Docker.Host,
	}, orch, logger)
	if err != nil {
		return nil, err
	}

	return &App{cfg: cfg, logger: logger, provider: prov}, nil
}

// request assembles the deployment request from configuration. The image is
// filled in after the push resolved the registry reference.
func (a *App) request(image string) deploy.Request {
	d := a.cfg.Deploy
	return deploy.Request{
		ServiceName:    d.ServiceName,
		Image:          image,
		Port:           d.Port,
		CPUMillis:      d.CPUMillis,
		MemoryMB:       d.MemoryMB,
		Env:            d.Env,
		Network:        d.Network,
		Public:         d.Public,
		CertificateARN: d.CertificateARN,
		CustomDomain:   d.CustomDomain,
		MaxInstances:   d.MaxInstances,
	}
}

// Deploy pushes the image set, runs the lifecycle and emits the client
// configuration for the resulting endpoint.
func (a *App) Deploy(ctx context.Context) error {
	d := a.cfg.Deploy
	if d.Image == "" {
		return cloudfail.NewValidationError("image", "required")
	}

	// Reject bad requests before pushing anything. The image reference
	// checked here is the local one; the pushed reference parses whenever
	// the local one does.
	if err := a.provider.ValidateRequest(a.request(d.Image)); err != nil {
		return err
	}

	refs := append([]string{d.Image}, d.ExtraImages...)
	pushed, err := orchestrator.PushAll(ctx, a.provider, refs)
	if err != nil {
		return err
	}
	a.logger.Info("images pushed", "count", len(pushed))

	outcome, err := a.provider.Deploy(ctx, a.request(pushed[0]))
	if err != nil {
		return err
	}
	a.logger.Info("deployment finished",
		"outcome", string(outcome.Kind),
		"url", outcome.Endpoint.BaseURL,
	)

	return a.emitClientConfig(outcome.Endpoint)
}

// Endpoint prints the client configuration for an already-deployed service.
func (a *App) Endpoint(ctx context.Context) error {
	ep, err := a.provider.GetEndpoint(ctx, a.cfg.Deploy.ServiceName)
	if err != nil {
		return err
	}
	return a.emitClientConfig(ep)
}

// Destroy tears the service down.
func (a *App) Destroy(ctx context.Context) error {
	if err := a.provider.Destroy(ctx, a.cfg.Deploy.ServiceName); err != nil {
		return err
	}
	a.logger.Info("service destroyed", "service", a.cfg.Deploy.ServiceName)
	return nil
}

// emitClientConfig renders the mcpServers snippet, prints it and optionally
// saves it to the configured path. A custom domain replaces the platform
// hostname; the operator points DNS at the platform endpoint themselves.
func (a *App) emitClientConfig(ep deploy.Endpoint) error {
	if domain := a.cfg.Deploy.CustomDomain; domain != "" {
		ep = deploy.NewEndpoint("https://"+domain, ep.SessionAffinity, ep.AliveStatuses...)
	}
	cfg, err := mcpconfig.Render(
		a.cfg.Deploy.ServiceName,
		ep,
		mcpconfig.Transport(a.cfg.Output.Transport),
		a.cfg.Output.Headers,
	)
	if err != nil {
		return err
	}

	encoded, err := mcpconfig.Encode(cfg)
	if err != nil {
		return err
	}
	fmt.Fprint(os.Stdout, string(encoded))

	if path := a.cfg.Output.SaveConfig; path != "" {
		if err := mcpconfig.Save(cfg, path); err != nil {
			return err
		}
		a.logger.Info("client config saved", "path", path)
	}
	return nil
}
