// Package network normalizes user-supplied network identifiers into the
// shape each deployment model requires. All functions are pure - existence
// checks against the cloud happen in the provider adapters.
package network

import (
	"github.com/mcpship/mcpship/internal/core/cloudfail"
)

// =============================================================================
// Deployment Models
// =============================================================================

// Model identifies how a provider schedules containers.
type Model string

const (
	// ModelCluster runs containers on a user-referenced managed cluster
	// behind a load balancer (AWS ECS).
	ModelCluster Model = "cluster"

	// ModelServerless lets the platform schedule containers directly
	// (GCP Cloud Run).
	ModelServerless Model = "serverless"
)

// IngressClass controls which traffic may reach a serverless service.
type IngressClass string

const (
	IngressAll              IngressClass = "all"
	IngressInternal         IngressClass = "internal"
	IngressInternalAndCloud IngressClass = "internal-and-cloud-load-balancing"
)

// =============================================================================
// Descriptor
// =============================================================================

// Descriptor holds normalized network identifiers for a deployment target.
// Exactly one of the two shapes may be populated: the cluster fields
// (ClusterName, VPCID, subnets) or the serverless Ingress class.
type Descriptor struct {
	// Cluster model.
	ClusterName      string   `json:"cluster_name,omitempty" mapstructure:"cluster_name"`
	VPCID            string   `json:"vpc_id,omitempty" mapstructure:"vpc_id"`
	PublicSubnetIDs  []string `json:"public_subnet_ids,omitempty" mapstructure:"public_subnet_ids"`
	PrivateSubnetIDs []string `json:"private_subnet_ids,omitempty" mapstructure:"private_subnet_ids"`

	// Serverless model.
	Ingress IngressClass `json:"ingress,omitempty" mapstructure:"ingress"`
}

// hasClusterFields reports whether any cluster-model identifier is set.
func (d Descriptor) hasClusterFields() bool {
	return d.ClusterName != "" || d.VPCID != "" ||
		len(d.PublicSubnetIDs) > 0 || len(d.PrivateSubnetIDs) > 0
}

// Model returns the deployment model the descriptor describes.
func (d Descriptor) Model() Model {
	if d.hasClusterFields() {
		return ModelCluster
	}
	return ModelServerless
}

// Validate checks the descriptor against the requirements of the given model.
// The cluster model needs a cluster, a VPC, at least 2 public subnets for
// load-balancer high availability and at least 1 private subnet for
// workloads, with the two subnet sets disjoint. The serverless model needs a
// known ingress class and no cluster fields.
func (d Descriptor) Validate(model Model) error {
	switch model {
	case ModelCluster:
		return d.validateCluster()
	case ModelServerless:
		return d.validateServerless()
	default:
		return cloudfail.NewValidationError("network", "unknown deployment model")
	}
}

func (d Descriptor) validateCluster() error {
	if d.Ingress != "" {
		return cloudfail.NewValidationError("network.ingress",
			"ingress class is a serverless option and cannot be combined with cluster networking")
	}
	if d.ClusterName == "" {
		return cloudfail.NewValidationError("network.cluster_name", "required")
	}
	if d.VPCID == "" {
		return cloudfail.NewValidationError("network.vpc_id", "required")
	}
	if len(d.PublicSubnetIDs) < 2 {
		return cloudfail.NewValidationError("network.public_subnets", "minimum 2 required")
	}
	if len(d.PrivateSubnetIDs) < 1 {
		return cloudfail.NewValidationError("network.private_subnets", "minimum 1 required")
	}

	public := make(map[string]bool, len(d.PublicSubnetIDs))
	for _, id := range d.PublicSubnetIDs {
		if id == "" {
			return cloudfail.NewValidationError("network.public_subnets", "subnet id cannot be empty")
		}
		public[id] = true
	}
	for _, id := range d.PrivateSubnetIDs {
		if id == "" {
			return cloudfail.NewValidationError("network.private_subnets", "subnet id cannot be empty")
		}
		if public[id] {
			return cloudfail.NewValidationError("network.private_subnets",
				"subnet "+id+" appears in both public and private sets")
		}
	}
	return nil
}

func (d Descriptor) validateServerless() error {
	if d.hasClusterFields() {
		return cloudfail.NewValidationError("network",
			"cluster networking fields cannot be combined with the serverless model")
	}
	switch d.Ingress {
	case "", IngressAll, IngressInternal, IngressInternalAndCloud:
		return nil
	default:
		return cloudfail.NewValidationError("network.ingress",
			"must be one of: all, internal, internal-and-cloud-load-balancing")
	}
}

// EffectiveIngress returns the ingress class, defaulting to all traffic.
func (d Descriptor) EffectiveIngress() IngressClass {
	if d.Ingress == "" {
		return IngressAll
	}
	return d.Ingress
}

// =============================================================================
// Security Group Derivation (Pure)
// =============================================================================

// IngressRule describes one allowed inbound flow.
type IngressRule struct {
	Protocol string
	FromPort int
	ToPort   int
	// CIDR is set for internet-facing rules; SourceGroup references another
	// derived security group for group-to-group rules.
	CIDR        string
	SourceGroup string
	Description string
}

// SecurityGroupPlan is the derived pair of security groups for the cluster
// model: one facing the load balancer, one facing the workload tasks.
type SecurityGroupPlan struct {
	LoadBalancerIngress []IngressRule
	WorkloadIngress     []IngressRule
}

// GroupLoadBalancer names the logical LB-facing group inside a plan.
const GroupLoadBalancer = "load-balancer"

// DeriveSecurityGroups derives the security topology for a cluster-model
// deployment. The load balancer accepts 80/443 from anywhere; the workload
// accepts the container port only from the load balancer's group. The
// derivation is deterministic from the container port alone.
func DeriveSecurityGroups(containerPort int) SecurityGroupPlan {
	return SecurityGroupPlan{
		LoadBalancerIngress: []IngressRule{
			{Protocol: "tcp", FromPort: 80, ToPort: 80, CIDR: "0.0.0.0/0", Description: "HTTP"},
			{Protocol: "tcp", FromPort: 443, ToPort: 443, CIDR: "0.0.0.0/0", Description: "HTTPS"},
		},
		WorkloadIngress: []IngressRule{
			{
				Protocol:    "tcp",
				FromPort:    containerPort,
				ToPort:      containerPort,
				SourceGroup: GroupLoadBalancer,
				Description: "Container traffic from load balancer",
			},
		},
	}
}

// =============================================================================
// Serverless Invoker Semantics (Pure)
// =============================================================================

// InvokerGrant describes the platform invoker permission derived from the
// public-access policy.
type InvokerGrant struct {
	// AllowUnauthenticated grants invoke to all users when true.
	AllowUnauthenticated bool
	Role                 string
	Member               string
}

// DeriveInvokerGrant maps the public-access policy onto serverless
// invoker-permission semantics.
func DeriveInvokerGrant(public bool) InvokerGrant {
	if !public {
		return InvokerGrant{}
	}
	return InvokerGrant{
		AllowUnauthenticated: true,
		Role:                 "roles/run.invoker",
		Member:               "allUsers",
	}
}
