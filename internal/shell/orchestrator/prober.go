package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mcpship/mcpship/internal/core/cloudfail"
	"github.com/mcpship/mcpship/internal/core/deploy"
	"github.com/mcpship/mcpship/internal/core/health"
)

// ProbeConfig bounds the health probe after a stack settles.
type ProbeConfig struct {
	// Attempts is the fixed number of probes before giving up.
	// Default: 5.
	Attempts int

	// Backoff is the fixed wait between probes.
	// Default: 10 seconds.
	Backoff time.Duration

	// RequestTimeout bounds a single probe request.
	// Default: 30 seconds.
	RequestTimeout time.Duration
}

// DefaultProbeConfig returns the default probe bounds.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		Attempts:       5,
		Backoff:        10 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// Prober checks endpoint reachability against the health contract.
type Prober struct {
	config ProbeConfig
	client *http.Client
	logger *slog.Logger
}

// NewProber creates a prober. A nil client gets a fresh http.Client bounded
// by the configured request timeout.
func NewProber(config ProbeConfig, logger *slog.Logger) *Prober {
	if config.Attempts == 0 {
		config.Attempts = DefaultProbeConfig().Attempts
	}
	if config.Backoff == 0 {
		config.Backoff = DefaultProbeConfig().Backoff
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = DefaultProbeConfig().RequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		config: config,
		client: &http.Client{Timeout: config.RequestTimeout},
		logger: logger.With("component", "prober"),
	}
}

// Probe issues bounded GETs against the endpoint's health URL until one
// satisfies the health contract. Connection refusals and timeouts count as
// unhealthy attempts, not hard failures, until the attempts are exhausted.
func (p *Prober) Probe(ctx context.Context, ep deploy.Endpoint) error {
	url := ep.HealthURL()
	var lastErr error

	for attempt := 1; attempt <= p.config.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return &cloudfail.InfrastructureError{
					Kind:       cloudfail.KindTimeout,
					Diagnostic: fmt.Sprintf("health probe of %s cancelled: %v", url, lastErr),
					Cause:      ctx.Err(),
				}
			case <-time.After(p.config.Backoff):
			}
		}

		status, err := p.probeOnce(ctx, url)
		if err != nil {
			lastErr = err
			p.logger.Warn("health probe failed", "url", url, "attempt", attempt, "error", err)
			continue
		}
		if health.Healthy(status, ep.AliveStatuses...) {
			p.logger.Info("health probe passed", "url", url, "status", status, "attempt", attempt)
			return nil
		}
		lastErr = fmt.Errorf("unhealthy status %d from %s", status, url)
		p.logger.Warn("health probe unhealthy", "url", url, "status", status, "attempt", attempt)
	}

	return &cloudfail.InfrastructureError{
		Kind:       cloudfail.KindUnknown,
		Diagnostic: fmt.Sprintf("service did not become healthy after %d probes: %v", p.config.Attempts, lastErr),
		Cause:      lastErr,
	}
}

func (p *Prober) probeOnce(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
