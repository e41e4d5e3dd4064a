package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	smithy "github.com/aws/smithy-go"

	"github.com/mcpship/mcpship/internal/core/cloudfail"
	"github.com/mcpship/mcpship/internal/core/deploy"
	"github.com/mcpship/mcpship/internal/core/network"
	"github.com/mcpship/mcpship/internal/shell/docker"
	"github.com/mcpship/mcpship/internal/shell/orchestrator"
)

// ecrUsername is the fixed username for ECR token auth.
const ecrUsername = "AWS"

// stackPrefix namespaces the CloudFormation stacks this tool owns.
const stackPrefix = "mcp-server-"

// AWSProvider deploys services to ECS behind an application load balancer,
// materialized as one CloudFormation stack per service.
type AWSProvider struct {
	region     string
	repository string

	// accountID is resolved lazily from the caller identity when not
	// configured. Pushes for multiple architectures run concurrently, so
	// the resolution is guarded by accountOnce.
	accountID   string
	accountOnce sync.Once
	accountErr  error

	cfn    *cloudformation.Client
	ecr    *ecr.Client
	sts    *sts.Client
	ec2    *ec2.Client
	docker *docker.Client

	orch   *orchestrator.Orchestrator
	logger *slog.Logger
}

// NewAWSProvider creates the AWS adapter using the default credential chain.
func NewAWSProvider(ctx context.Context, opts Options, orch *orchestrator.Orchestrator, logger *slog.Logger) (*AWSProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, &cloudfail.NotConfiguredError{
			Provider: "aws",
			Hint:     "aws sts get-caller-identity",
			Err:      err,
		}
	}
	if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
		return nil, &cloudfail.NotConfiguredError{
			Provider: "aws",
			Hint:     "aws sts get-caller-identity",
			Err:      err,
		}
	}

	dockerClient, err := docker.NewClient(opts.DockerHost)
	if err != nil {
		return nil, err
	}

	return &AWSProvider{
		region:     opts.Region,
		accountID:  opts.ProjectID,
		repository: opts.Repository,
		cfn:        cloudformation.NewFromConfig(cfg),
		ecr:        ecr.NewFromConfig(cfg),
		sts:        sts.NewFromConfig(cfg),
		ec2:        ec2.NewFromConfig(cfg),
		docker:     dockerClient,
		orch:       orch,
		logger:     logger.With("provider", "aws"),
	}, nil
}

// Name returns the provider key.
func (p *AWSProvider) Name() string { return "aws" }

// ValidateRequest checks the request against the cluster deployment model.
func (p *AWSProvider) ValidateRequest(req deploy.Request) error {
	return req.Validate(network.ModelCluster)
}

// Deploy runs the create-or-update lifecycle against this adapter.
func (p *AWSProvider) Deploy(ctx context.Context, req deploy.Request) (deploy.Outcome, error) {
	return p.orch.Deploy(ctx, p, req)
}

// =============================================================================
// Registry Operations (ECR)
// =============================================================================

// PushImage pushes a locally built image to ECR and returns the registry
// reference. The backing repository is created on first use; a transient
// network failure is retried once before surfacing a RegistryError.
func (p *AWSProvider) PushImage(ctx context.Context, localRef string) (string, error) {
	registryHost, err := p.registryHost(ctx)
	if err != nil {
		return "", &cloudfail.RegistryError{Op: "ResolveRegistry", Err: err}
	}

	name, tag, err := splitImageRef(localRef)
	if err != nil {
		return "", &cloudfail.RegistryError{Op: "ParseReference", Err: err}
	}
	repoName := p.repository + "/" + name
	target := fmt.Sprintf("%s/%s:%s", registryHost, repoName, tag)

	if err := p.ensureRepository(ctx, repoName); err != nil {
		return "", &cloudfail.RegistryError{Op: "CreateRepository", Registry: registryHost, Err: err}
	}

	auth, err := p.registryAuth(ctx)
	if err != nil {
		return "", &cloudfail.RegistryError{Op: "Authenticate", Registry: registryHost, Err: err}
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

// registryHost resolves the account-scoped ECR hostname, looking the account
// ID up from the caller identity exactly once even under concurrent pushes.
func (p *AWSProvider) registryHost(ctx context.Context) (string, error) {
	p.accountOnce.Do(func() {
		if p.accountID != "" {
			return
		}
		out, err := p.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		if err != nil {
			p.accountErr = fmt.Errorf("failed to resolve account id: %w", err)
			return
		}
		p.accountID = aws.ToString(out.Account)
	})
	if p.accountErr != nil {
		return "", p.accountErr
	}
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com", p.accountID, p.region), nil
}

// ensureRepository creates the ECR repository if it does not exist.
func (p *AWSProvider) ensureRepository(ctx context.Context, repoName string) error {
	_, err := p.ecr.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{repoName},
	})
	if err == nil {
		return nil
	}
	var notFound *ecrtypes.RepositoryNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("failed to check repository %s: %w", repoName, err)
	}

	p.logger.Info("creating ECR repository", "repository", repoName)
	_, err = p.ecr.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: aws.String(repoName),
		ImageScanningConfiguration: &ecrtypes.ImageScanningConfiguration{
			ScanOnPush: true,
		},
		EncryptionConfiguration: &ecrtypes.EncryptionConfiguration{
			EncryptionType: ecrtypes.EncryptionTypeAes256,
		},
	})
	if err != nil {
		var exists *ecrtypes.RepositoryAlreadyExistsException
		if errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("failed to create repository %s: %w", repoName, err)
	}
	return nil
}

// registryAuth exchanges the short-lived ECR authorization token for docker
// push credentials.
func (p *AWSProvider) registryAuth(ctx context.Context) (docker.Auth, error) {
	out, err := p.ecr.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return docker.Auth{}, fmt.Errorf("failed to get authorization token: %w", err)
	}
	if len(out.AuthorizationData) == 0 {
		return docker.Auth{}, errors.New("no authorization data returned")
	}
	data := out.AuthorizationData[0]

	decoded, err := base64.StdEncoding.DecodeString(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return docker.Auth{}, fmt.Errorf("failed to decode authorization token: %w", err)
	}
	username, password, found := strings.Cut(string(decoded), ":")
	if !found || username != ecrUsername {
		return docker.Auth{}, errors.New("malformed authorization token")
	}

	return docker.Auth{
		Username:      username,
		Password:      password,
		ServerAddress: aws.ToString(data.ProxyEndpoint),
	}, nil
}

// transientPushError reports whether a push failure looks like a network
// blip worth one retry rather than an auth or permission problem.
func transientPushError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "unexpected eof")
}

// =============================================================================
// Stack Driver (CloudFormation)
// =============================================================================

func stackName(serviceName string) string {
	return stackPrefix + serviceName
}

// CurrentState maps the CloudFormation stack status onto the lifecycle
// states the orchestrator understands.
func (p *AWSProvider) CurrentState(ctx context.Context, serviceName string) (deploy.StackState, error) {
	stack, err := p.describeStack(ctx, serviceName)
	if err != nil {
		if errors.Is(err, cloudfail.ErrServiceNotFound) {
			return deploy.StateAbsent, nil
		}
		return "", err
	}

	switch stack.StackStatus {
	case cfntypes.StackStatusCreateInProgress:
		return deploy.StateCreating, nil
	case cfntypes.StackStatusUpdateInProgress,
		cfntypes.StackStatusUpdateCompleteCleanupInProgress:
		return deploy.StateUpdating, nil
	case cfntypes.StackStatusRollbackInProgress,
		cfntypes.StackStatusUpdateRollbackInProgress,
		cfntypes.StackStatusUpdateRollbackCompleteCleanupInProgress,
		cfntypes.StackStatusDeleteInProgress,
		cfntypes.StackStatusReviewInProgress:
		return deploy.StateConverging, nil
	case cfntypes.StackStatusCreateComplete,
		cfntypes.StackStatusUpdateComplete,
		cfntypes.StackStatusUpdateRollbackComplete:
		return deploy.StateStable, nil
	default:
		// CREATE_FAILED, ROLLBACK_COMPLETE, DELETE_FAILED and friends.
		return deploy.StateFailed, nil
	}
}

// ObservedSpec reconstructs the deployed spec from the stack parameters.
func (p *AWSProvider) ObservedSpec(ctx context.Context, serviceName string) (deploy.Spec, error) {
	stack, err := p.describeStack(ctx, serviceName)
	if err != nil {
		return deploy.Spec{}, err
	}

	params := make(map[string]string, len(stack.Parameters))
	for _, param := range stack.Parameters {
		params[aws.ToString(param.ParameterKey)] = aws.ToString(param.ParameterValue)
	}
	return specFromParameters(stackName(serviceName), params)
}

// specFromParameters rebuilds the drift-relevant spec from the stack's
// parameter map. CPU millis are carried in their own parameter; the
// ECS-units parameter is a unit conversion the drift comparison must not
// depend on, because it is lossy for fractional vCPU values.
func specFromParameters(stack string, params map[string]string) (deploy.Spec, error) {
	port, _ := strconv.Atoi(params[paramContainerPort])
	memoryMB, _ := strconv.Atoi(params[paramTaskMemory])

	cpuMillis, _ := strconv.Atoi(params[paramTaskCPUMillis])
	if cpuMillis == 0 {
		// Stacks created before the millis parameter only carry ECS units.
		cpuUnits, _ := strconv.Atoi(params[paramTaskCPU])
		cpuMillis = cpuUnitsToMillis(cpuUnits)
	}

	var env map[string]string
	if raw := params[paramEnvVars]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			return deploy.Spec{}, fmt.Errorf("stack %s has a malformed %s parameter: %w",
				stack, paramEnvVars, err)
		}
	}

	return deploy.Spec{
		Image:            params[paramImageURI],
		Port:             port,
		CPUMillis:        cpuMillis,
		MemoryMB:         memoryMB,
		Env:              env,
		Public:           params[paramPublicAccess] == "true",
		Ingress:          network.IngressAll,
		ClusterName:      params[paramClusterName],
		VPCID:            params[paramVPCID],
		PublicSubnetIDs:  splitIDList(params[paramALBSubnets]),
		PrivateSubnetIDs: splitIDList(params[paramServiceSubnets]),
	}, nil
}

// Create materializes the stack. Network identifiers are existence-checked
// first so a typo fails before CloudFormation starts rolling resources.
func (p *AWSProvider) Create(ctx context.Context, req deploy.Request) error {
	if err := p.checkNetworkExists(ctx, req.Network); err != nil {
		return err
	}

	body, err := renderServiceTemplate(req)
	if err != nil {
		return err
	}

	p.logger.Info("creating CloudFormation stack", "stack", stackName(req.ServiceName))
	_, err = p.cfn.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:    aws.String(stackName(req.ServiceName)),
		TemplateBody: aws.String(body),
		Parameters:   stackParameters(req),
		Capabilities: []cfntypes.Capability{cfntypes.CapabilityCapabilityNamedIam},
		Tags: []cfntypes.Tag{
			{Key: aws.String("ManagedBy"), Value: aws.String("mcpship")},
			{Key: aws.String("ServiceName"), Value: aws.String(req.ServiceName)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create stack: %w", err)
	}
	return nil
}

// Update reconciles the stack toward the request. CloudFormation reports a
// no-op update as an error; that is translated to ErrNoChanges.
func (p *AWSProvider) Update(ctx context.Context, req deploy.Request) error {
	if err := p.checkNetworkExists(ctx, req.Network); err != nil {
		return err
	}

	body, err := renderServiceTemplate(req)
	if err != nil {
		return err
	}

	p.logger.Info("updating CloudFormation stack", "stack", stackName(req.ServiceName))
	_, err = p.cfn.UpdateStack(ctx, &cloudformation.UpdateStackInput{
		StackName:    aws.String(stackName(req.ServiceName)),
		TemplateBody: aws.String(body),
		Parameters:   stackParameters(req),
		Capabilities: []cfntypes.Capability{cfntypes.CapabilityCapabilityNamedIam},
	})
	if err != nil {
		if strings.Contains(err.Error(), "No updates are to be performed") {
			return fmt.Errorf("stack %s: %w", stackName(req.ServiceName), cloudfail.ErrNoChanges)
		}
		return fmt.Errorf("failed to update stack: %w", err)
	}
	return nil
}

// Endpoint reads the load balancer URL from the stack outputs. The ALB path
// requires cookie stickiness for long-lived streaming connections.
func (p *AWSProvider) Endpoint(ctx context.Context, serviceName string) (deploy.Endpoint, error) {
	stack, err := p.describeStack(ctx, serviceName)
	if err != nil {
		return deploy.Endpoint{}, err
	}

	for _, out := range stack.Outputs {
		if aws.ToString(out.OutputKey) == outputEndpointURL {
			return deploy.NewEndpoint(aws.ToString(out.OutputValue), true), nil
		}
	}
	return deploy.Endpoint{}, fmt.Errorf("stack %s has no %s output: %w",
		stackName(serviceName), outputEndpointURL, cloudfail.ErrServiceNotFound)
}

// GetEndpoint is the read-only endpoint lookup of the provider contract.
func (p *AWSProvider) GetEndpoint(ctx context.Context, serviceName string) (deploy.Endpoint, error) {
	return p.Endpoint(ctx, serviceName)
}

// Destroy deletes the service's stack and waits for the deletion to finish.
// A stack that does not exist is already destroyed.
func (p *AWSProvider) Destroy(ctx context.Context, serviceName string) error {
	name := stackName(serviceName)
	p.logger.Info("deleting CloudFormation stack", "stack", name)

	_, err := p.cfn.DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName: aws.String(name),
	})
	if err != nil {
		if stackMissing(err) {
			return nil
		}
		return fmt.Errorf("failed to delete stack %s: %w", name, err)
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return &cloudfail.InfrastructureError{
				Kind:       cloudfail.KindTimeout,
				Diagnostic: fmt.Sprintf("timed out waiting for stack %s to delete", name),
				Cause:      ctx.Err(),
			}
		case <-ticker.C:
		}

		stack, err := p.describeStack(ctx, serviceName)
		if err != nil {
			if errors.Is(err, cloudfail.ErrServiceNotFound) {
				return nil
			}
			return err
		}
		if stack.StackStatus == cfntypes.StackStatusDeleteFailed {
			return cloudfail.NewInfrastructureError(
				fmt.Errorf("stack %s failed to delete: %s", name, aws.ToString(stack.StackStatusReason)))
		}
	}
}

// describeStack fetches the stack, mapping the platform's "does not exist"
// response onto ErrServiceNotFound.
func (p *AWSProvider) describeStack(ctx context.Context, serviceName string) (*cfntypes.Stack, error) {
	out, err := p.cfn.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName(serviceName)),
	})
	if err != nil {
		if stackMissing(err) {
			return nil, fmt.Errorf("stack %s: %w", stackName(serviceName), cloudfail.ErrServiceNotFound)
		}
		return nil, fmt.Errorf("failed to describe stack %s: %w", stackName(serviceName), err)
	}
	if len(out.Stacks) == 0 {
		return nil, fmt.Errorf("stack %s: %w", stackName(serviceName), cloudfail.ErrServiceNotFound)
	}
	return &out.Stacks[0], nil
}

// stackMissing detects CloudFormation's "stack does not exist" error, which
// surfaces as a generic validation error rather than a typed one.
func stackMissing(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return strings.Contains(apiErr.ErrorMessage(), "does not exist")
	}
	return false
}

// checkNetworkExists verifies the referenced VPC and subnets exist. This is
// the only cloud read the topology derivation requires.
func (p *AWSProvider) checkNetworkExists(ctx context.Context, desc network.Descriptor) error {
	if _, err := p.ec2.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
		VpcIds: []string{desc.VPCID},
	}); err != nil {
		return fmt.Errorf("vpc %s not usable: %w", desc.VPCID, err)
	}

	subnetIDs := append(append([]string(nil), desc.PublicSubnetIDs...), desc.PrivateSubnetIDs...)
	if _, err := p.ec2.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		SubnetIds: subnetIDs,
	}); err != nil {
		return fmt.Errorf("subnets not usable: %w", err)
	}
	return nil
}

// =============================================================================
// Unit Conversion
// =============================================================================

// cpuMillisToUnits converts provider-agnostic millicores to ECS CPU units
// (1024 units per vCPU).
func cpuMillisToUnits(millis int) int {
	return millis * 1024 / 1000
}

func cpuUnitsToMillis(units int) int {
	return units * 1000 / 1024
}

func splitIDList(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// splitImageRef normalizes a local image reference into its short name and
// tag for repository naming.
func splitImageRef(localRef string) (name, tag string, err error) {
	named, err := parseImageRef(localRef)
	if err != nil {
		return "", "", err
	}
	return named.name, named.tag, nil
}
