// Package orchestrator drives the idempotent create-or-update lifecycle of a
// deployment stack against a provider-specific stack driver. This is part of
// the Imperative Shell - it suspends on polling and health probing, both
// bounded and cancellable through the caller's context.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mcpship/mcpship/internal/core/cloudfail"
	"github.com/mcpship/mcpship/internal/core/deploy"
)

// =============================================================================
// Stack Driver Contract
// =============================================================================

// Driver is the provider-specific half of the deployment lifecycle. Every
// method except Create and Update is read-only; Create and Update issue
// exactly one mutating platform call each and return without waiting for
// convergence.
type Driver interface {
	// ValidateRequest deterministically checks the request without any I/O.
	// On failure it returns a *cloudfail.ValidationError.
	ValidateRequest(req deploy.Request) error

	// CurrentState reports the observed lifecycle state of the named stack.
	CurrentState(ctx context.Context, serviceName string) (deploy.StackState, error)

	// ObservedSpec reconstructs the drift-relevant spec of a deployed stack.
	// It is only called when CurrentState reported StateStable.
	ObservedSpec(ctx context.Context, serviceName string) (deploy.Spec, error)

	// Create materializes a new stack for the request.
	Create(ctx context.Context, req deploy.Request) error

	// Update reconciles an existing stack toward the request. When the
	// platform reports that nothing would change, Update returns an error
	// wrapping cloudfail.ErrNoChanges.
	Update(ctx context.Context, req deploy.Request) error

	// Endpoint resolves the service endpoint of a stable stack.
	Endpoint(ctx context.Context, serviceName string) (deploy.Endpoint, error)
}

// =============================================================================
// Configuration
// =============================================================================

// PollConfig bounds the convergence wait after a mutating call.
type PollConfig struct {
	// Interval is the time between read-only state checks.
	// Default: 15 seconds.
	Interval time.Duration

	// Timeout is the overall convergence budget. On expiry the attempt
	// fails with a timeout; the in-flight platform operation is left
	// running and a later attempt will observe it as a conflict.
	// Default: 30 minutes.
	Timeout time.Duration
}

// DefaultPollConfig returns the default polling bounds.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval: 15 * time.Second,
		Timeout:  30 * time.Minute,
	}
}

// Orchestrator executes deployment attempts. It holds no per-attempt state;
// concurrent attempts against different service names are independent.
type Orchestrator struct {
	poll   PollConfig
	prober *Prober
	logger *slog.Logger
}

// New creates an orchestrator. Zero config fields fall back to defaults.
func New(poll PollConfig, prober *Prober, logger *slog.Logger) *Orchestrator {
	if poll.Interval == 0 {
		poll.Interval = DefaultPollConfig().Interval
	}
	if poll.Timeout == 0 {
		poll.Timeout = DefaultPollConfig().Timeout
	}
	if prober == nil {
		prober = NewProber(DefaultProbeConfig(), nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		poll:   poll,
		prober: prober,
		logger: logger.With("component", "orchestrator"),
	}
}

// =============================================================================
// Deployment Lifecycle
// =============================================================================

// Deploy runs one attempt: state query, create or update or no-op, bounded
// convergence polling, endpoint resolution and health probing. Re-running
// the same request against a stable stack never issues a mutating call.
func (o *Orchestrator) Deploy(ctx context.Context, drv Driver, req deploy.Request) (deploy.Outcome, error) {
	attemptID := uuid.New().String()
	logger := o.logger.With("attempt_id", attemptID, "service", req.ServiceName)

	// Validation is local; a rejected request never contacts the platform.
	if err := drv.ValidateRequest(req); err != nil {
		return deploy.Failed(err), err
	}

	ctx, cancel := context.WithTimeout(ctx, o.poll.Timeout)
	defer cancel()

	state, err := drv.CurrentState(ctx, req.ServiceName)
	if err != nil {
		return fail(err)
	}
	logger.Info("observed stack state", "state", state)

	var verb deploy.OutcomeKind
	switch {
	case state == deploy.StateAbsent:
		verb = deploy.OutcomeCreated
		if err := drv.Create(ctx, req); err != nil {
			return fail(err)
		}
		logger.Info("create issued")

	case state == deploy.StateStable:
		observed, err := drv.ObservedSpec(ctx, req.ServiceName)
		if err != nil {
			return fail(err)
		}
		if deploy.SpecOf(req).Equal(observed) {
			logger.Info("no drift detected, skipping mutation")
			return o.finish(ctx, drv, req, deploy.OutcomeUnchanged, logger)
		}
		verb = deploy.OutcomeUpdated
		if err := drv.Update(ctx, req); err != nil {
			if errors.Is(err, cloudfail.ErrNoChanges) {
				// The platform signals a no-op as an error-shaped response.
				logger.Info("platform reported no changes to apply")
				return o.finish(ctx, drv, req, deploy.OutcomeUnchanged, logger)
			}
			return fail(err)
		}
		logger.Info("update issued")

	case state.InProgress():
		logger.Warn("stack is mid-operation, refusing to issue a competing mutation", "state", state)
		return deploy.Failed(cloudfail.ErrConcurrentOperation), cloudfail.ErrConcurrentOperation

	case state == deploy.StateFailed:
		// A previously failed stack accepts a fresh update so the operator
		// can repair it with a corrected request.
		verb = deploy.OutcomeUpdated
		if err := drv.Update(ctx, req); err != nil {
			if errors.Is(err, cloudfail.ErrNoChanges) {
				return fail(fmt.Errorf("stack is in a failed state and the platform reports nothing to change: %w", cloudfail.ErrNoChanges))
			}
			return fail(err)
		}
		logger.Info("repair update issued on failed stack")

	default:
		return fail(fmt.Errorf("%w: %q", deploy.ErrInvalidState, state))
	}

	if err := o.waitForConvergence(ctx, drv, req.ServiceName, logger); err != nil {
		return fail(err)
	}

	return o.finish(ctx, drv, req, verb, logger)
}

// maxPollReadFailures bounds how many consecutive state reads may fail
// before polling gives up. A single failed read is usually throttling or a
// network blip; a run of them means the credentials or the API are broken
// and waiting out the full poll budget would only delay the report.
const maxPollReadFailures = 5

// waitForConvergence polls the stack state read-only until it settles.
func (o *Orchestrator) waitForConvergence(ctx context.Context, drv Driver, serviceName string, logger *slog.Logger) error {
	ticker := time.NewTicker(o.poll.Interval)
	defer ticker.Stop()

	readFailures := 0
	for {
		select {
		case <-ctx.Done():
			return &cloudfail.InfrastructureError{
				Kind:       cloudfail.KindTimeout,
				Diagnostic: "timed out waiting for stack convergence; the platform operation was left running",
				Cause:      ctx.Err(),
			}
		case <-ticker.C:
		}

		state, err := drv.CurrentState(ctx, serviceName)
		if err != nil {
			readFailures++
			if readFailures >= maxPollReadFailures {
				return cloudfail.NewInfrastructureError(
					fmt.Errorf("gave up polling after %d consecutive read failures: %w", readFailures, err))
			}
			// A lone read failure should not abort a running operation.
			logger.Warn("state poll failed", "error", err, "consecutive_failures", readFailures)
			continue
		}
		readFailures = 0
		logger.Debug("poll", "state", state)

		switch state {
		case deploy.StateStable:
			return nil
		case deploy.StateFailed:
			return cloudfail.NewInfrastructureError(
				fmt.Errorf("stack %s converged to a failed state", serviceName))
		}
	}
}

// finish resolves the endpoint of a stable stack and probes it before
// declaring the deployment usable.
func (o *Orchestrator) finish(ctx context.Context, drv Driver, req deploy.Request, kind deploy.OutcomeKind, logger *slog.Logger) (deploy.Outcome, error) {
	ep, err := drv.Endpoint(ctx, req.ServiceName)
	if err != nil {
		return fail(err)
	}

	if err := o.prober.Probe(ctx, ep); err != nil {
		return fail(err)
	}
	logger.Info("service is reachable", "url", ep.BaseURL, "outcome", kind)

	return deploy.Outcome{Kind: kind, Endpoint: ep}, nil
}

// fail classifies err into the taxonomy unless it already carries a
// classified type, and pairs it with a Failed outcome.
func fail(err error) (deploy.Outcome, error) {
	var infra *cloudfail.InfrastructureError
	var validation *cloudfail.ValidationError
	if !errors.As(err, &infra) &&
		!errors.As(err, &validation) &&
		!errors.Is(err, cloudfail.ErrConcurrentOperation) &&
		!errors.Is(err, cloudfail.ErrServiceNotFound) {
		err = cloudfail.NewInfrastructureError(err)
	}
	return deploy.Failed(err), err
}
