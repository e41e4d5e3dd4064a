// Package health defines the readiness contract shared by all providers.
// Following ADR-002: Values as Boundaries - this package contains NO I/O.
package health

// Path is the endpoint probed to decide that a deployed service is ready.
// It is the MCP wire-protocol endpoint and is fixed by the protocol the
// deployed servers speak, not configurable per deployment.
const Path = "/mcp"

// StatusAliveWithoutHandshake is returned by MCP servers for a bare GET
// without a protocol handshake. It proves the process is alive and serving,
// so the contract treats it as healthy.
const StatusAliveWithoutHandshake = 400

// Healthy reports whether an HTTP status code satisfies the contract.
// Any 2xx counts, as does the MCP handshake rejection (400). Adapters may
// pass additional platform-documented "unauthenticated but alive" statuses
// (for example 401/403 from a serverless platform gating invocation).
func Healthy(status int, aliveStatuses ...int) bool {
	if status >= 200 && status <= 299 {
		return true
	}
	if status == StatusAliveWithoutHandshake {
		return true
	}
	for _, s := range aliveStatuses {
		if status == s {
			return true
		}
	}
	return false
}
