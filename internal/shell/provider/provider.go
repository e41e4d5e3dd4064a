// Package provider implements cloud platform adapters behind a narrow
// contract. This is part of the Imperative Shell - it handles I/O with the
// cloud APIs; all decision logic lives in internal/core.
package provider

import (
	"context"

	"github.com/mcpship/mcpship/internal/core/deploy"
)

// CloudProvider is the capability set the rest of the system sees. Adapters
// internally use whatever shape the platform client demands, but nothing
// outside the adapter observes it.
type CloudProvider interface {
	// Name returns the provider key ("aws" or "gcp").
	Name() string

	// ValidateRequest deterministically checks the request against the
	// provider's deployment model. No I/O; returns a
	// *cloudfail.ValidationError naming the offending field.
	ValidateRequest(req deploy.Request) error

	// PushImage authenticates to the provider's container registry, creates
	// the backing repository if absent (already-exists is not an error),
	// uploads the image and returns the fully-qualified registry reference.
	PushImage(ctx context.Context, localRef string) (string, error)

	// Deploy runs the idempotent create-or-update lifecycle for the request
	// and reports the outcome.
	Deploy(ctx context.Context, req deploy.Request) (deploy.Outcome, error)

	// GetEndpoint looks up the endpoint of a deployed service without
	// mutating anything. Unknown services yield cloudfail.ErrServiceNotFound.
	GetEndpoint(ctx context.Context, serviceName string) (deploy.Endpoint, error)

	// Destroy tears down the service's stack. A missing stack is success.
	Destroy(ctx context.Context, serviceName string) error
}

// Options configures an adapter.
type Options struct {
	// Region is the cloud region to operate in.
	Region string

	// ProjectID is the GCP project ID. For AWS it optionally pins the
	// account ID instead of resolving it from the caller identity.
	ProjectID string

	// Repository is the registry repository namespace for pushed images.
	Repository string

	// DockerHost overrides the Docker daemon address for registry pushes.
	DockerHost string
}

// DefaultRepository is the registry namespace used when none is configured.
const DefaultRepository = "mcp-servers"
