// Package cloudfail defines the error taxonomy for deployment operations.
// Following ADR-002: Values as Boundaries - this package contains NO I/O.
// Classification is deterministic over error text and wrapped sentinels.
package cloudfail

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrNoChanges is returned by a stack driver when the platform reports
	// that the requested update contains no changes. The orchestrator
	// reinterprets it as a successful Unchanged outcome.
	ErrNoChanges = errors.New("no changes to apply")

	// ErrServiceNotFound is returned by endpoint lookups for unknown services.
	ErrServiceNotFound = errors.New("service not found")

	// ErrConcurrentOperation is returned when a deploy is requested while the
	// stack is already being created or updated. Never retried automatically.
	ErrConcurrentOperation = errors.New("a deployment operation is already in progress")

	// ErrUnsupportedProvider is returned by the factory for unknown provider names.
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

// =============================================================================
// Validation Errors
// =============================================================================

// ValidationError reports a malformed deployment request field. It is
// produced before any network call and is always recoverable by fixing input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for a request field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// =============================================================================
// Registry Errors
// =============================================================================

// RegistryError reports a container registry push or authentication failure.
type RegistryError struct {
	Op       string // Operation that failed (Authenticate, CreateRepository, Push)
	Registry string
	Err      error
}

func (e *RegistryError) Error() string {
	if e.Registry != "" {
		return fmt.Sprintf("registry %s: %s: %v", e.Registry, e.Op, e.Err)
	}
	return fmt.Sprintf("registry: %s: %v", e.Op, e.Err)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Infrastructure Errors
// =============================================================================

// Kind classifies an opaque platform error into an actionable category.
type Kind string

const (
	KindQuotaExceeded        Kind = "quota_exceeded"
	KindPermissionDenied     Kind = "permission_denied"
	KindInvalidNetworkConfig Kind = "invalid_network_config"
	KindTimeout              Kind = "timeout"
	KindUnknown              Kind = "unknown"
)

// InfrastructureError wraps a platform failure with its classified kind and
// the raw provider diagnostic. It is surfaced, never silently retried.
type InfrastructureError struct {
	Kind       Kind
	Diagnostic string
	Cause      error
}

func (e *InfrastructureError) Error() string {
	if e.Diagnostic != "" {
		return fmt.Sprintf("infrastructure failure (%s): %s", e.Kind, e.Diagnostic)
	}
	return fmt.Sprintf("infrastructure failure (%s): %v", e.Kind, e.Cause)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Cause
}

// Timeout reports whether the error represents a deadline expiry.
func (e *InfrastructureError) Timeout() bool {
	return e.Kind == KindTimeout
}

// =============================================================================
// Provider Configuration Errors
// =============================================================================

// NotConfiguredError reports missing provider credentials or setup. The Hint
// names the exact command the operator can run to verify their setup.
type NotConfiguredError struct {
	Provider string
	Hint     string
	Err      error
}

func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("%s provider is not configured: %v (verify with: %s)", e.Provider, e.Err, e.Hint)
}

func (e *NotConfiguredError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Classification (Pure)
// =============================================================================

// Classify maps an opaque platform error onto an error kind. Platforms report
// quota, IAM and network problems as free-text diagnostics, so classification
// works over the lowercased error text plus wrapped standard errors.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "timed out", "timeout"):
		return KindTimeout
	case containsAny(msg, "quota", "limit exceeded", "limitexceeded", "resource_exhausted", "too many"):
		return KindQuotaExceeded
	case containsAny(msg, "accessdenied", "access denied", "permission denied", "permissiondenied",
		"unauthorized", "forbidden", "not authorized", "unauthorizedoperation"):
		return KindPermissionDenied
	case containsAny(msg, "subnet", "vpc", "security group", "securitygroup", "ingress",
		"network interface", "elastic load balanc"):
		return KindInvalidNetworkConfig
	default:
		return KindUnknown
	}
}

// NewInfrastructureError classifies err and wraps it with the platform's raw
// diagnostic text.
func NewInfrastructureError(err error) *InfrastructureError {
	return &InfrastructureError{
		Kind:       Classify(err),
		Diagnostic: err.Error(),
		Cause:      err,
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
