// Package mcpconfig renders MCP client connection descriptors for deployed
// services. Rendering is pure; the only I/O is the optional file write.
package mcpconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mcpship/mcpship/internal/core/deploy"
	"github.com/mcpship/mcpship/internal/core/health"
)

// Transport is the wire shape an MCP client should use to reach the service.
type Transport string

const (
	// TransportHTTP is streamable HTTP: bidirectional streaming over the
	// single /mcp path.
	TransportHTTP Transport = "http"

	// TransportSSE is the legacy two-endpoint event-stream shape. Clients
	// still connect through the /mcp path; the type tells them to speak SSE.
	TransportSSE Transport = "sse"
)

// ErrUnknownTransport is returned for transports other than http and sse.
var ErrUnknownTransport = errors.New("unknown transport")

// ServerEntry is one server's connection descriptor.
type ServerEntry struct {
	Type    string            `json:"type"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// ClientConfig is the persisted descriptor shape MCP clients consume.
type ClientConfig struct {
	MCPServers map[string]ServerEntry `json:"mcpServers"`
}

// Render builds the client config for one deployed service. The headers map
// is optional and passed through as-is (a restricted service typically needs
// an authorization header the caller provisions out of band).
func Render(serviceName string, ep deploy.Endpoint, transport Transport, headers map[string]string) (ClientConfig, error) {
	switch transport {
	case TransportHTTP, TransportSSE:
	default:
		return ClientConfig{}, fmt.Errorf("%w: %q", ErrUnknownTransport, transport)
	}

	return ClientConfig{
		MCPServers: map[string]ServerEntry{
			serviceName: {
				Type:    string(transport),
				URL:     ep.BaseURL + health.Path,
				Headers: headers,
			},
		},
	}, nil
}

// Encode marshals the config as indented JSON with a trailing newline.
func Encode(cfg ClientConfig) ([]byte, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Save writes the config to path, creating parent directories as needed.
// Filesystem errors are surfaced as-is.
func Save(cfg ClientConfig, path string) error {
	data, err := Encode(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
