package docker

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Image errors
	ErrImageNotFound   = errors.New("image not found")
	ErrImagePushFailed = errors.New("image push failed")
	ErrImageTagFailed  = errors.New("image tag failed")

	// Connection errors
	ErrConnectionFailed = errors.New("docker connection failed")
)

// DockerError wraps errors with additional context.
type DockerError struct {
	Op      string // Operation that failed
	Ref     string // Image reference if applicable
	Message string
	Err     error
}

func (e *DockerError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Ref, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *DockerError) Unwrap() error {
	return e.Err
}

// NewDockerError creates a new DockerError.
func NewDockerError(op, ref, message string, err error) *DockerError {
	return &DockerError{
		Op:      op,
		Ref:     ref,
		Message: message,
		Err:     err,
	}
}
