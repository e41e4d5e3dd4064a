// Package docker provides a narrow Docker daemon client for tagging locally
// built images and pushing them to a cloud container registry.
package docker

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
)

// =============================================================================
// Docker Client Implementation
// =============================================================================

// Auth carries registry credentials for a push.
type Auth struct {
	Username      string
	Password      string
	ServerAddress string
}

// Client wraps the Docker SDK with the operations the registry push needs.
type Client struct {
	cli *client.Client
}

// NewClient creates a new Docker client.
// If host is empty, it uses the default Docker host from environment.
func NewClient(host string) (*Client, error) {
	var opts []client.Opt
	opts = append(opts, client.FromEnv)
	opts = append(opts, client.WithAPIVersionNegotiation())

	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewClient", "", "failed to create client", ErrConnectionFailed)
	}

	return &Client{cli: cli}, nil
}

// Ping checks if the Docker daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.cli.Ping(ctx); err != nil {
		return NewDockerError("Ping", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Close closes the Docker client connection.
func (c *Client) Close() error {
	return c.cli.Close()
}

// =============================================================================
// Image Operations
// =============================================================================

// ImageExists checks if an image exists locally.
func (c *Client) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, _, err := c.cli.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, NewDockerError("ImageExists", ref, err.Error(), err)
	}
	return true, nil
}

// TagImage tags a local image with a registry reference.
func (c *Client) TagImage(ctx context.Context, source, target string) error {
	if err := c.cli.ImageTag(ctx, source, target); err != nil {
		if client.IsErrNotFound(err) {
			return NewDockerError("TagImage", source, "local image not found", ErrImageNotFound)
		}
		return NewDockerError("TagImage", source, err.Error(), ErrImageTagFailed)
	}
	return nil
}

// PushImage pushes a tagged image to its registry. The daemon streams
// progress as JSON lines; a line carrying an "error" field aborts the push.
func (c *Client) PushImage(ctx context.Context, ref string, auth Auth) error {
	encodedAuth, err := encodeAuth(auth)
	if err != nil {
		return NewDockerError("PushImage", ref, "failed to encode registry auth", err)
	}

	reader, err := c.cli.ImagePush(ctx, ref, image.PushOptions{RegistryAuth: encodedAuth})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "not found") ||
			strings.Contains(errStr, "repository does not exist") {
			return NewDockerError("PushImage", ref, "image not found", ErrImageNotFound)
		}
		return NewDockerError("PushImage", ref, err.Error(), ErrImagePushFailed)
	}
	defer reader.Close()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var msg pushMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if msg.Error != "" {
			return NewDockerError("PushImage", ref, msg.Error, ErrImagePushFailed)
		}
	}
	if err := scanner.Err(); err != nil {
		return NewDockerError("PushImage", ref, err.Error(), ErrImagePushFailed)
	}

	return nil
}

// pushMessage is one line of the daemon's push progress stream.
type pushMessage struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// encodeAuth serializes auth the way the Docker API expects: base64 over
// the JSON auth config.
func encodeAuth(auth Auth) (string, error) {
	cfg := registry.AuthConfig{
		Username:      auth.Username,
		Password:      auth.Password,
		ServerAddress: auth.ServerAddress,
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(data), nil
}
