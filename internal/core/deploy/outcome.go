package deploy

import (
	"strings"

	"github.com/mcpship/mcpship/internal/core/health"
)

// =============================================================================
// Service Endpoint
// =============================================================================

// Endpoint is the resolved address of a deployed service.
type Endpoint struct {
	// BaseURL is scheme+host[:port] without a trailing slash.
	BaseURL string

	// SessionAffinity is true when the deployment model routes through a
	// load balancer that needs cookie stickiness for long-lived streaming
	// connections.
	SessionAffinity bool

	// HealthPath is the probe path inherited from the health contract.
	HealthPath string

	// AliveStatuses are extra platform-documented statuses that prove the
	// service is alive even though the platform gates unauthenticated
	// access (for example 401/403 on a restricted serverless service).
	AliveStatuses []int
}

// NewEndpoint builds an endpoint carrying the shared health contract.
func NewEndpoint(baseURL string, sessionAffinity bool, aliveStatuses ...int) Endpoint {
	return Endpoint{
		BaseURL:         strings.TrimRight(baseURL, "/"),
		SessionAffinity: sessionAffinity,
		HealthPath:      health.Path,
		AliveStatuses:   aliveStatuses,
	}
}

// HealthURL returns the absolute URL of the health probe target.
func (e Endpoint) HealthURL() string {
	return e.BaseURL + e.HealthPath
}

// =============================================================================
// Provider Outcome
// =============================================================================

// OutcomeKind tags the result of one orchestration attempt.
type OutcomeKind string

const (
	OutcomeCreated   OutcomeKind = "created"
	OutcomeUpdated   OutcomeKind = "updated"
	OutcomeUnchanged OutcomeKind = "unchanged"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome is the tagged result of one Deploy call. It is owned by the caller
// for the duration of that call and is not persisted, except that the
// endpoint may be written out when a client-config save path was requested.
type Outcome struct {
	Kind     OutcomeKind
	Endpoint Endpoint
	// Err carries the classified failure when Kind is OutcomeFailed.
	Err error
}

// Succeeded reports whether the attempt left a reachable service behind.
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeCreated || o.Kind == OutcomeUpdated || o.Kind == OutcomeUnchanged
}

// Created builds a success outcome for a newly materialized stack.
func Created(ep Endpoint) Outcome { return Outcome{Kind: OutcomeCreated, Endpoint: ep} }

// Updated builds a success outcome for a drift-correcting update.
func Updated(ep Endpoint) Outcome { return Outcome{Kind: OutcomeUpdated, Endpoint: ep} }

// Unchanged builds a success outcome for a no-drift request.
func Unchanged(ep Endpoint) Outcome { return Outcome{Kind: OutcomeUnchanged, Endpoint: ep} }

// Failed builds a failure outcome carrying the classified error.
func Failed(err error) Outcome { return Outcome{Kind: OutcomeFailed, Err: err} }
