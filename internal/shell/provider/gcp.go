package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	artifactregistry "cloud.google.com/go/artifactregistry/apiv1"
	"cloud.google.com/go/artifactregistry/apiv1/artifactregistrypb"
	"cloud.google.com/go/iam/apiv1/iampb"
	run "cloud.google.com/go/run/apiv2"
	"cloud.google.com/go/run/apiv2/runpb"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mcpship/mcpship/internal/core/cloudfail"
	"github.com/mcpship/mcpship/internal/core/deploy"
	"github.com/mcpship/mcpship/internal/core/network"
	"github.com/mcpship/mcpship/internal/shell/docker"
	"github.com/mcpship/mcpship/internal/shell/orchestrator"
)

// arUsername is the fixed username for Artifact Registry token auth.
const arUsername = "oauth2accesstoken"

// GCPProvider deploys services to Cloud Run, with images hosted in a
// regional Artifact Registry docker repository.
type GCPProvider struct {
	projectID  string
	region     string
	repository string

	services *run.ServicesClient
	registry *artifactregistry.Client
	tokens   oauth2.TokenSource

	docker *docker.Client

	orch   *orchestrator.Orchestrator
	logger *slog.Logger
}

// NewGCPProvider creates the GCP adapter using application default credentials.
func NewGCPProvider(ctx context.Context, opts Options, orch *orchestrator.Orchestrator, logger *slog.Logger) (*GCPProvider, error) {
	creds, err := google.FindDefaultCredentials(ctx, "https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return nil, &cloudfail.NotConfiguredError{
			Provider: "gcp",
			Hint:     "gcloud auth application-default login",
			Err:      err,
		}
	}

	services, err := run.NewServicesClient(ctx)
	if err != nil {
		return nil, &cloudfail.NotConfiguredError{
			Provider: "gcp",
			Hint:     "gcloud auth application-default login",
			Err:      err,
		}
	}
	registry, err := artifactregistry.NewClient(ctx)
	if err != nil {
		services.Close()
		return nil, &cloudfail.NotConfiguredError{
			Provider: "gcp",
			Hint:     "gcloud auth application-default login",
			Err:      err,
		}
	}

	dockerClient, err := docker.NewClient(opts.DockerHost)
	if err != nil {
		return nil, err
	}

	return &GCPProvider{
		projectID:  opts.ProjectID,
		region:     opts.Region,
		repository: opts.Repository,
		services:   services,
		registry:   registry,
		tokens:     creds.TokenSource,
		docker:     dockerClient,
		orch:       orch,
		logger:     logger.With("provider", "gcp"),
	}, nil
}

// Name returns the provider key.
func (p *GCPProvider) Name() string { return "gcp" }

// ValidateRequest checks the request against the serverless deployment model.
func (p *GCPProvider) ValidateRequest(req deploy.Request) error {
	return req.Validate(network.ModelServerless)
}

// Deploy runs the create-or-update lifecycle against this adapter.
func (p *GCPProvider) Deploy(ctx context.Context, req deploy.Request) (deploy.Outcome, error) {
	return p.orch.Deploy(ctx, p, req)
}

// =============================================================================
// Registry Operations (Artifact Registry)
// =============================================================================

// PushImage pushes a locally built image to Artifact Registry and returns the
// registry reference. The docker repository is created on first use.
func (p *GCPProvider) PushImage(ctx context.Context, localRef string) (string, error) {
	registryHost := fmt.Sprintf("%s-docker.pkg.dev", p.region)

	name, tag, err := splitImageRef(localRef)
	if err != nil {
		return "", &cloudfail.RegistryError{Op: "ParseReference", Err: err}
	}
	target := fmt.Sprintf("%s/%s/%s/%s:%s", registryHost, p.projectID, p.repository, name, tag)

	if err := p.ensureRepository(ctx); err != nil {
		return "", &cloudfail.RegistryError{Op: "CreateRepository", Registry: registryHost, Err: err}
	}

	token, err := p.tokens.Token()
	if err != nil {
		return "", &cloudfail.RegistryError{Op: "Authenticate", Registry: registryHost, Err: err}
	}
	auth := docker.Auth{
		Username:      arUsername,
		Password:      token.AccessToken,
		ServerAddress: "https://" + registryHost,
	}

	if err := p.docker.TagImage(ctx, localRef, target); err != nil {
		return "", &cloudfail.RegistryError{Op: "Tag", Registry: registryHost, Err: err}
	}

	p.logger.Info("pushing image", "ref", target)
	if err := p.docker.PushImage(ctx, target, auth); err != nil {
		if !transientPushError(err) {
			return "", &cloudfail.RegistryError{Op: "Push", Registry: registryHost, Err: err}
		}
		p.logger.Warn("push failed with a transient error, retrying once", "error", err)
		if err := p.docker.PushImage(ctx, target, auth); err != nil {
			return "", &cloudfail.RegistryError{Op: "Push", Registry: registryHost, Err: err}
		}
	}

	return target, nil
}

// ensureRepository creates the docker repository if it does not exist.
func (p *GCPProvider) ensureRepository(ctx context.Context) error {
	repoName := fmt.Sprintf("projects/%s/locations/%s/repositories/%s",
		p.projectID, p.region, p.repository)

	_, err := p.registry.GetRepository(ctx, &artifactregistrypb.GetRepositoryRequest{Name: repoName})
	if err == nil {
		return nil
	}
	if status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to check repository %s: %w", p.repository, err)
	}

	p.logger.Info("creating Artifact Registry repository", "repository", p.repository)
	op, err := p.registry.CreateRepository(ctx, &artifactregistrypb.CreateRepositoryRequest{
		Parent:       fmt.Sprintf("projects/%s/locations/%s", p.projectID, p.region),
		RepositoryId: p.repository,
		Repository: &artifactregistrypb.Repository{
			Format:      artifactregistrypb.Repository_DOCKER,
			Description: "Container images managed by mcpship",
		},
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil
		}
		return fmt.Errorf("failed to create repository %s: %w", p.repository, err)
	}
	if _, err := op.Wait(ctx); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil
		}
		return fmt.Errorf("failed to create repository %s: %w", p.repository, err)
	}
	return nil
}

// =============================================================================
// Service Driver (Cloud Run)
// =============================================================================

func (p *GCPProvider) serviceName(name string) string {
	return fmt.Sprintf("projects/%s/locations/%s/services/%s", p.projectID, p.region, name)
}

// CurrentState maps the Cloud Run service condition onto the lifecycle states
// the orchestrator understands.
func (p *GCPProvider) CurrentState(ctx context.Context, serviceName string) (deploy.StackState, error) {
	svc, err := p.getService(ctx, serviceName)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return deploy.StateAbsent, nil
		}
		return "", fmt.Errorf("failed to get service %s: %w", serviceName, err)
	}

	if svc.Reconciling {
		if svc.LatestReadyRevision == "" {
			return deploy.StateCreating, nil
		}
		return deploy.StateUpdating, nil
	}
	cond := svc.TerminalCondition
	if cond == nil {
		return deploy.StateConverging, nil
	}
	switch cond.State {
	case runpb.Condition_CONDITION_SUCCEEDED:
		return deploy.StateStable, nil
	case runpb.Condition_CONDITION_FAILED:
		return deploy.StateFailed, nil
	default:
		return deploy.StateConverging, nil
	}
}

// ObservedSpec reconstructs the deployed spec from the live service
// definition and its IAM policy.
func (p *GCPProvider) ObservedSpec(ctx context.Context, serviceName string) (deploy.Spec, error) {
	svc, err := p.getService(ctx, serviceName)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return deploy.Spec{}, fmt.Errorf("service %s: %w", serviceName, cloudfail.ErrServiceNotFound)
		}
		return deploy.Spec{}, fmt.Errorf("failed to get service %s: %w", serviceName, err)
	}

	spec := deploy.Spec{Ingress: ingressClass(svc.Ingress)}

	if tmpl := svc.Template; tmpl != nil && len(tmpl.Containers) > 0 {
		ctr := tmpl.Containers[0]
		spec.Image = ctr.Image
		if len(ctr.Ports) > 0 {
			spec.Port = int(ctr.Ports[0].ContainerPort)
		}
		if ctr.Resources != nil {
			spec.CPUMillis = parseCPULimit(ctr.Resources.Limits["cpu"])
			spec.MemoryMB = parseMemoryLimit(ctr.Resources.Limits["memory"])
		}
		if len(ctr.Env) > 0 {
			spec.Env = make(map[string]string, len(ctr.Env))
			for _, e := range ctr.Env {
				spec.Env[e.Name] = e.GetValue()
			}
		}
	}

	public, err := p.isPublic(ctx, serviceName)
	if err != nil {
		return deploy.Spec{}, err
	}
	spec.Public = public
	return spec, nil
}

// Create submits the service without waiting for the revision rollout; the
// orchestrator polls CurrentState until the rollout settles.
func (p *GCPProvider) Create(ctx context.Context, req deploy.Request) error {
	p.logger.Info("creating Cloud Run service", "service", req.ServiceName)
	_, err := p.services.CreateService(ctx, &runpb.CreateServiceRequest{
		Parent:    fmt.Sprintf("projects/%s/locations/%s", p.projectID, p.region),
		ServiceId: req.ServiceName,
		Service:   p.renderService(req),
	})
	if err != nil {
		return fmt.Errorf("failed to create service %s: %w", req.ServiceName, err)
	}
	return p.reconcileInvoker(ctx, req.ServiceName, req.Public)
}

// Update submits the new revision template without waiting for the rollout.
func (p *GCPProvider) Update(ctx context.Context, req deploy.Request) error {
	svc := p.renderService(req)
	svc.Name = p.serviceName(req.ServiceName)

	p.logger.Info("updating Cloud Run service", "service", req.ServiceName)
	_, err := p.services.UpdateService(ctx, &runpb.UpdateServiceRequest{Service: svc})
	if err != nil {
		return fmt.Errorf("failed to update service %s: %w", req.ServiceName, err)
	}
	return p.reconcileInvoker(ctx, req.ServiceName, req.Public)
}

// Endpoint reads the service URL. Cloud Run terminates sessions itself, so no
// affinity cookie is needed; a restricted service answers probes with 401 or
// 403 instead of the handshake rejection.
func (p *GCPProvider) Endpoint(ctx context.Context, serviceName string) (deploy.Endpoint, error) {
	svc, err := p.getService(ctx, serviceName)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return deploy.Endpoint{}, fmt.Errorf("service %s: %w", serviceName, cloudfail.ErrServiceNotFound)
		}
		return deploy.Endpoint{}, fmt.Errorf("failed to get service %s: %w", serviceName, err)
	}
	if svc.Uri == "" {
		return deploy.Endpoint{}, fmt.Errorf("service %s has no URL yet: %w",
			serviceName, cloudfail.ErrServiceNotFound)
	}

	public, err := p.isPublic(ctx, serviceName)
	if err != nil {
		return deploy.Endpoint{}, err
	}
	if !public {
		return deploy.NewEndpoint(svc.Uri, false, 401, 403), nil
	}
	return deploy.NewEndpoint(svc.Uri, false), nil
}

// GetEndpoint is the read-only endpoint lookup of the provider contract.
func (p *GCPProvider) GetEndpoint(ctx context.Context, serviceName string) (deploy.Endpoint, error) {
	return p.Endpoint(ctx, serviceName)
}

// Destroy deletes the service and waits for the deletion to finish. A service
// that does not exist is already destroyed.
func (p *GCPProvider) Destroy(ctx context.Context, serviceName string) error {
	p.logger.Info("deleting Cloud Run service", "service", serviceName)
	op, err := p.services.DeleteService(ctx, &runpb.DeleteServiceRequest{
		Name: p.serviceName(serviceName),
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return fmt.Errorf("failed to delete service %s: %w", serviceName, err)
	}
	if _, err := op.Wait(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return cloudfail.NewInfrastructureError(
			fmt.Errorf("failed to delete service %s: %w", serviceName, err))
	}
	return nil
}

func (p *GCPProvider) getService(ctx context.Context, serviceName string) (*runpb.Service, error) {
	return p.services.GetService(ctx, &runpb.GetServiceRequest{
		Name: p.serviceName(serviceName),
	})
}

// renderService translates a request into the Cloud Run service definition.
func (p *GCPProvider) renderService(req deploy.Request) *runpb.Service {
	envs := make([]*runpb.EnvVar, 0, len(req.Env))
	for name, value := range req.Env {
		envs = append(envs, &runpb.EnvVar{
			Name:   name,
			Values: &runpb.EnvVar_Value{Value: value},
		})
	}

	var scaling *runpb.RevisionScaling
	if req.MaxInstances > 0 {
		scaling = &runpb.RevisionScaling{MaxInstanceCount: int32(req.MaxInstances)}
	}

	return &runpb.Service{
		Ingress: ingressTraffic(req.Network.EffectiveIngress()),
		Labels:  map[string]string{"managed-by": "mcpship"},
		Template: &runpb.RevisionTemplate{
			Scaling: scaling,
			Containers: []*runpb.Container{{
				Image: req.Image,
				Ports: []*runpb.ContainerPort{{ContainerPort: int32(req.Port)}},
				Env:   envs,
				Resources: &runpb.ResourceRequirements{
					Limits: map[string]string{
						"cpu":    cpuLimit(req.CPUMillis),
						"memory": memoryLimit(req.MemoryMB),
					},
				},
			}},
		},
	}
}

// =============================================================================
// Invoker Policy
// =============================================================================

// isPublic reports whether the service grants invoke to unauthenticated
// callers.
func (p *GCPProvider) isPublic(ctx context.Context, serviceName string) (bool, error) {
	policy, err := p.services.GetIamPolicy(ctx, &iampb.GetIamPolicyRequest{
		Resource: p.serviceName(serviceName),
	})
	if err != nil {
		return false, fmt.Errorf("failed to get IAM policy for %s: %w", serviceName, err)
	}

	grant := network.DeriveInvokerGrant(true)
	for _, binding := range policy.Bindings {
		if binding.Role != grant.Role {
			continue
		}
		for _, member := range binding.Members {
			if member == grant.Member {
				return true, nil
			}
		}
	}
	return false, nil
}

// reconcileInvoker aligns the service's IAM policy with the public flag,
// adding or removing the unauthenticated invoker grant.
func (p *GCPProvider) reconcileInvoker(ctx context.Context, serviceName string, public bool) error {
	resource := p.serviceName(serviceName)
	policy, err := p.services.GetIamPolicy(ctx, &iampb.GetIamPolicyRequest{Resource: resource})
	if err != nil {
		return fmt.Errorf("failed to get IAM policy for %s: %w", serviceName, err)
	}

	grant := network.DeriveInvokerGrant(true)
	changed := false

	if public {
		var binding *iampb.Binding
		for _, b := range policy.Bindings {
			if b.Role == grant.Role {
				binding = b
				break
			}
		}
		if binding == nil {
			policy.Bindings = append(policy.Bindings, &iampb.Binding{
				Role:    grant.Role,
				Members: []string{grant.Member},
			})
			changed = true
		} else if !containsString(binding.Members, grant.Member) {
			binding.Members = append(binding.Members, grant.Member)
			changed = true
		}
	} else {
		for _, b := range policy.Bindings {
			if b.Role != grant.Role {
				continue
			}
			kept := b.Members[:0]
			for _, m := range b.Members {
				if m == grant.Member {
					changed = true
					continue
				}
				kept = append(kept, m)
			}
			b.Members = kept
		}
	}

	if !changed {
		return nil
	}

	p.logger.Info("updating invoker policy", "service", serviceName, "public", public)
	_, err = p.services.SetIamPolicy(ctx, &iampb.SetIamPolicyRequest{
		Resource: resource,
		Policy:   policy,
	})
	if err != nil {
		return fmt.Errorf("failed to set IAM policy for %s: %w", serviceName, err)
	}
	return nil
}

func containsString(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}

// =============================================================================
// Unit and Ingress Conversion
// =============================================================================

// cpuLimit renders millicores as a Kubernetes quantity ("1000m").
func cpuLimit(millis int) string {
	return strconv.Itoa(millis) + "m"
}

// parseCPULimit reads a cpu quantity back into millicores. Whole-core
// quantities ("1", "2") and millicore quantities ("500m") both occur.
func parseCPULimit(limit string) int {
	if limit == "" {
		return 0
	}
	if strings.HasSuffix(limit, "m") {
		n, _ := strconv.Atoi(strings.TrimSuffix(limit, "m"))
		return n
	}
	cores, _ := strconv.Atoi(limit)
	return cores * 1000
}

// memoryLimit renders megabytes as a Kubernetes quantity ("512Mi").
func memoryLimit(mb int) string {
	return strconv.Itoa(mb) + "Mi"
}

func parseMemoryLimit(limit string) int {
	if limit == "" {
		return 0
	}
	if strings.HasSuffix(limit, "Gi") {
		n, _ := strconv.Atoi(strings.TrimSuffix(limit, "Gi"))
		return n * 1024
	}
	n, _ := strconv.Atoi(strings.TrimSuffix(limit, "Mi"))
	return n
}

func ingressTraffic(class network.IngressClass) runpb.IngressTraffic {
	switch class {
	case network.IngressInternal:
		return runpb.IngressTraffic_INGRESS_TRAFFIC_INTERNAL_ONLY
	case network.IngressInternalAndCloud:
		return runpb.IngressTraffic_INGRESS_TRAFFIC_INTERNAL_LOAD_BALANCER
	default:
		return runpb.IngressTraffic_INGRESS_TRAFFIC_ALL
	}
}

func ingressClass(traffic runpb.IngressTraffic) network.IngressClass {
	switch traffic {
	case runpb.IngressTraffic_INGRESS_TRAFFIC_INTERNAL_ONLY:
		return network.IngressInternal
	case runpb.IngressTraffic_INGRESS_TRAFFIC_INTERNAL_LOAD_BALANCER:
		return network.IngressInternalAndCloud
	default:
		return network.IngressAll
	}
}
