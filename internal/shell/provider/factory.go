package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mcpship/mcpship/internal/core/cloudfail"
	"github.com/mcpship/mcpship/internal/shell/orchestrator"
)

// New creates a cloud provider adapter by name. The provider set is closed:
// anything other than "aws" or "gcp" fails with ErrUnsupportedProvider.
// Missing platform credentials surface as *cloudfail.NotConfiguredError with
// the exact command to verify the setup.
func New(ctx context.Context, name string, opts Options, orch *orchestrator.Orchestrator, logger *slog.Logger) (CloudProvider, error) {
	if opts.Repository == "" {
		opts.Repository = DefaultRepository
	}

	switch name {
	case "aws":
		if opts.Region == "" {
			return nil, cloudfail.NewValidationError("region", "required for the aws provider")
		}
		return NewAWSProvider(ctx, opts, orch, logger)

	case "gcp":
		if opts.Region == "" {
			return nil, cloudfail.NewValidationError("region", "required for the gcp provider")
		}
		if opts.ProjectID == "" {
			return nil, cloudfail.NewValidationError("project_id", "required for the gcp provider")
		}
		return NewGCPProvider(ctx, opts, orch, logger)

	default:
		return nil, fmt.Errorf("%w: %q (supported: aws, gcp)", cloudfail.ErrUnsupportedProvider, name)
	}
}
