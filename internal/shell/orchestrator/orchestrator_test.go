package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpship/mcpship/internal/core/cloudfail"
	"github.com/mcpship/mcpship/internal/core/deploy"
)

// =============================================================================
// Fake Driver
// =============================================================================

// fakeDriver scripts the observed state sequence: each CurrentState call
// consumes one entry, and the last entry repeats forever.
type fakeDriver struct {
	mu sync.Mutex

	validateErr error
	states      []deploy.StackState
	observed    deploy.Spec
	observedErr error
	createErr   error
	updateErr   error
	endpoint    deploy.Endpoint

	// stateErr, when set, is returned from every CurrentState call after
	// stateErrAfter successful reads.
	stateErr      error
	stateErrAfter int

	stateCalls  int
	createCalls int
	updateCalls int
}

func (f *fakeDriver) ValidateRequest(req deploy.Request) error {
	return f.validateErr
}

func (f *fakeDriver) CurrentState(ctx context.Context, serviceName string) (deploy.StackState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateCalls++
	if f.stateErr != nil && f.stateCalls > f.stateErrAfter {
		return "", f.stateErr
	}

	state := f.states[0]
	if len(f.states) > 1 {
		f.states = f.states[1:]
	}
	return state, nil
}

func (f *fakeDriver) ObservedSpec(ctx context.Context, serviceName string) (deploy.Spec, error) {
	return f.observed, f.observedErr
}

func (f *fakeDriver) Create(ctx context.Context, req deploy.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	return f.createErr
}

func (f *fakeDriver) Update(ctx context.Context, req deploy.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	return f.updateErr
}

func (f *fakeDriver) Endpoint(ctx context.Context, serviceName string) (deploy.Endpoint, error) {
	return f.endpoint, nil
}

// =============================================================================
// Test Helpers
// =============================================================================

func healthyServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// MCP servers reject bare GETs without a handshake.
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)
	return server
}

func testOrchestrator(poll PollConfig) *Orchestrator {
	prober := NewProber(ProbeConfig{Attempts: 1, Backoff: time.Millisecond, RequestTimeout: time.Second}, nil)
	return New(poll, prober, nil)
}

func testRequest() deploy.Request {
	return deploy.Request{
		ServiceName: "weather-api",
		Image:       "weather-api:latest",
		Port:        8000,
		CPUMillis:   1000,
		MemoryMB:    512,
		Public:      true,
	}
}

func fastPoll() PollConfig {
	return PollConfig{Interval: time.Millisecond, Timeout: 5 * time.Second}
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestDeploy_CreatesWhenAbsent(t *testing.T) {
	server := healthyServer(t)
	drv := &fakeDriver{
		states:   []deploy.StackState{deploy.StateAbsent, deploy.StateCreating, deploy.StateStable},
		endpoint: deploy.NewEndpoint(server.URL, false),
	}

	outcome, err := testOrchestrator(fastPoll()).Deploy(context.Background(), drv, testRequest())
	require.NoError(t, err)

	assert.Equal(t, deploy.OutcomeCreated, outcome.Kind)
	assert.Equal(t, server.URL, outcome.Endpoint.BaseURL)
	assert.Equal(t, 1, drv.createCalls)
	assert.Equal(t, 0, drv.updateCalls)
}

func TestDeploy_UnchangedWhenNoDrift(t *testing.T) {
	server := healthyServer(t)
	req := testRequest()
	drv := &fakeDriver{
		states:   []deploy.StackState{deploy.StateStable},
		observed: deploy.SpecOf(req),
		endpoint: deploy.NewEndpoint(server.URL, false),
	}

	outcome, err := testOrchestrator(fastPoll()).Deploy(context.Background(), drv, req)
	require.NoError(t, err)

	assert.Equal(t, deploy.OutcomeUnchanged, outcome.Kind)
	assert.Equal(t, 0, drv.createCalls)
	assert.Equal(t, 0, drv.updateCalls)
}

func TestDeploy_SecondRunDoesNotMutate(t *testing.T) {
	server := healthyServer(t)
	req := testRequest()
	drv := &fakeDriver{
		states:   []deploy.StackState{deploy.StateAbsent, deploy.StateStable},
		endpoint: deploy.NewEndpoint(server.URL, false),
	}
	orch := testOrchestrator(fastPoll())

	first, err := orch.Deploy(context.Background(), drv, req)
	require.NoError(t, err)
	require.Equal(t, deploy.OutcomeCreated, first.Kind)

	// The platform now reports the deployed spec back verbatim.
	drv.states = []deploy.StackState{deploy.StateStable}
	drv.observed = deploy.SpecOf(req)

	second, err := orch.Deploy(context.Background(), drv, req)
	require.NoError(t, err)
	assert.Equal(t, deploy.OutcomeUnchanged, second.Kind)
	assert.Equal(t, 1, drv.createCalls)
	assert.Equal(t, 0, drv.updateCalls)
}

func TestDeploy_UpdatesOnDrift(t *testing.T) {
	server := healthyServer(t)
	req := testRequest()
	drifted := deploy.SpecOf(req)
	drifted.Image = "weather-api:v0"

	drv := &fakeDriver{
		states:   []deploy.StackState{deploy.StateStable, deploy.StateUpdating, deploy.StateStable},
		observed: drifted,
		endpoint: deploy.NewEndpoint(server.URL, false),
	}

	outcome, err := testOrchestrator(fastPoll()).Deploy(context.Background(), drv, req)
	require.NoError(t, err)

	assert.Equal(t, deploy.OutcomeUpdated, outcome.Kind)
	assert.Equal(t, 0, drv.createCalls)
	assert.Equal(t, 1, drv.updateCalls)
}

func TestDeploy_PlatformNoChangesIsUnchanged(t *testing.T) {
	server := healthyServer(t)
	req := testRequest()
	drifted := deploy.SpecOf(req)
	drifted.MemoryMB = 1024

	drv := &fakeDriver{
		states:    []deploy.StackState{deploy.StateStable},
		observed:  drifted,
		updateErr: fmt.Errorf("stack mcp-server-weather-api: %w", cloudfail.ErrNoChanges),
		endpoint:  deploy.NewEndpoint(server.URL, false),
	}

	outcome, err := testOrchestrator(fastPoll()).Deploy(context.Background(), drv, req)
	require.NoError(t, err)
	assert.Equal(t, deploy.OutcomeUnchanged, outcome.Kind)
}

func TestDeploy_RefusesConcurrentOperation(t *testing.T) {
	drv := &fakeDriver{
		states: []deploy.StackState{deploy.StateCreating},
	}

	outcome, err := testOrchestrator(fastPoll()).Deploy(context.Background(), drv, testRequest())
	require.ErrorIs(t, err, cloudfail.ErrConcurrentOperation)

	assert.Equal(t, deploy.OutcomeFailed, outcome.Kind)
	assert.Equal(t, 0, drv.createCalls)
	assert.Equal(t, 0, drv.updateCalls)
}

func TestDeploy_RepairsFailedStack(t *testing.T) {
	server := healthyServer(t)
	drv := &fakeDriver{
		states:   []deploy.StackState{deploy.StateFailed, deploy.StateUpdating, deploy.StateStable},
		endpoint: deploy.NewEndpoint(server.URL, false),
	}

	outcome, err := testOrchestrator(fastPoll()).Deploy(context.Background(), drv, testRequest())
	require.NoError(t, err)

	assert.Equal(t, deploy.OutcomeUpdated, outcome.Kind)
	assert.Equal(t, 1, drv.updateCalls)
}

// panickingDriver fails the test if any platform method is reached.
type panickingDriver struct {
	validateErr error
}

func (p *panickingDriver) ValidateRequest(req deploy.Request) error {
	return p.validateErr
}

func (p *panickingDriver) CurrentState(ctx context.Context, serviceName string) (deploy.StackState, error) {
	panic("platform touched after rejected validation")
}

func (p *panickingDriver) ObservedSpec(ctx context.Context, serviceName string) (deploy.Spec, error) {
	panic("platform touched after rejected validation")
}

func (p *panickingDriver) Create(ctx context.Context, req deploy.Request) error {
	panic("platform touched after rejected validation")
}

func (p *panickingDriver) Update(ctx context.Context, req deploy.Request) error {
	panic("platform touched after rejected validation")
}

func (p *panickingDriver) Endpoint(ctx context.Context, serviceName string) (deploy.Endpoint, error) {
	panic("platform touched after rejected validation")
}

func TestDeploy_RejectedValidationNeverTouchesPlatform(t *testing.T) {
	drv := &panickingDriver{
		validateErr: cloudfail.NewValidationError("service_name", "required"),
	}

	outcome, err := testOrchestrator(fastPoll()).Deploy(context.Background(), drv, testRequest())
	require.Error(t, err)
	assert.Equal(t, deploy.OutcomeFailed, outcome.Kind)
}

func TestDeploy_ValidationFailureSkipsPlatform(t *testing.T) {
	drv := &fakeDriver{
		validateErr: cloudfail.NewValidationError("port", "must be between 1 and 65535"),
		states:      []deploy.StackState{deploy.StateAbsent},
	}

	outcome, err := testOrchestrator(fastPoll()).Deploy(context.Background(), drv, testRequest())
	require.Error(t, err)

	var vErr *cloudfail.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "port", vErr.Field)
	assert.Equal(t, deploy.OutcomeFailed, outcome.Kind)
	assert.Equal(t, 0, drv.stateCalls)
	assert.Equal(t, 0, drv.createCalls)
}

func TestDeploy_TimesOutWhenStackNeverConverges(t *testing.T) {
	drv := &fakeDriver{
		states: []deploy.StackState{deploy.StateAbsent, deploy.StateCreating},
	}
	orch := testOrchestrator(PollConfig{Interval: time.Millisecond, Timeout: 50 * time.Millisecond})

	outcome, err := orch.Deploy(context.Background(), drv, testRequest())
	require.Error(t, err)

	var infra *cloudfail.InfrastructureError
	require.ErrorAs(t, err, &infra)
	assert.True(t, infra.Timeout())
	assert.Equal(t, deploy.OutcomeFailed, outcome.Kind)
	assert.Equal(t, 1, drv.createCalls)
}

func TestDeploy_GivesUpAfterPersistentPollFailures(t *testing.T) {
	drv := &fakeDriver{
		states:        []deploy.StackState{deploy.StateAbsent},
		stateErr:      fmt.Errorf("ExpiredToken: the security token included in the request is expired"),
		stateErrAfter: 1,
	}
	orch := testOrchestrator(fastPoll())

	outcome, err := orch.Deploy(context.Background(), drv, testRequest())
	require.Error(t, err)

	var infra *cloudfail.InfrastructureError
	require.ErrorAs(t, err, &infra)
	assert.False(t, infra.Timeout(), "persistent read failures must not masquerade as a convergence timeout")
	assert.Contains(t, err.Error(), "consecutive read failures")
	assert.Equal(t, deploy.OutcomeFailed, outcome.Kind)

	// One pre-deploy read plus the bounded run of failed polls.
	assert.Equal(t, 1+maxPollReadFailures, drv.stateCalls)
}

func TestDeploy_SurfacesConvergedFailure(t *testing.T) {
	drv := &fakeDriver{
		states: []deploy.StackState{deploy.StateAbsent, deploy.StateFailed},
	}

	outcome, err := testOrchestrator(fastPoll()).Deploy(context.Background(), drv, testRequest())
	require.Error(t, err)

	var infra *cloudfail.InfrastructureError
	require.ErrorAs(t, err, &infra)
	assert.False(t, infra.Timeout())
	assert.Equal(t, deploy.OutcomeFailed, outcome.Kind)
}
