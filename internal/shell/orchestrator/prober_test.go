package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpship/mcpship/internal/core/cloudfail"
	"github.com/mcpship/mcpship/internal/core/deploy"
)

func fastProber(attempts int) *Prober {
	return NewProber(ProbeConfig{
		Attempts:       attempts,
		Backoff:        time.Millisecond,
		RequestTimeout: time.Second,
	}, nil)
}

func TestProbe_PassesOn200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mcp", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := fastProber(1).Probe(context.Background(), deploy.NewEndpoint(server.URL, false))
	require.NoError(t, err)
}

func TestProbe_PassesOnHandshakeRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	err := fastProber(1).Probe(context.Background(), deploy.NewEndpoint(server.URL, false))
	require.NoError(t, err)
}

func TestProbe_PassesOnPlatformAuthGate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	// Restricted serverless endpoints report 401/403 as alive.
	err := fastProber(1).Probe(context.Background(), deploy.NewEndpoint(server.URL, false, 401, 403))
	require.NoError(t, err)
}

func TestProbe_FailsAfterExhaustingAttempts(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := fastProber(3).Probe(context.Background(), deploy.NewEndpoint(server.URL, false))
	require.Error(t, err)

	var infra *cloudfail.InfrastructureError
	require.ErrorAs(t, err, &infra)
	assert.Equal(t, int32(3), hits.Load())
}

func TestProbe_RecoversAfterInitialFailure(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	err := fastProber(5).Probe(context.Background(), deploy.NewEndpoint(server.URL, false))
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestProbe_TreatsConnectionRefusedAsUnhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	err := fastProber(2).Probe(context.Background(), deploy.NewEndpoint(url, false))
	require.Error(t, err)

	var infra *cloudfail.InfrastructureError
	require.ErrorAs(t, err, &infra)
}
