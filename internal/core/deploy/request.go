// Package deploy contains the deployment domain types: the declarative
// request, the stack lifecycle states and the outcome of one orchestration
// attempt. Following ADR-002: Values as Boundaries - this package contains
// NO I/O; everything here is deterministic and testable in isolation.
package deploy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/distribution/reference"

	"github.com/mcpship/mcpship/internal/core/cloudfail"
	"github.com/mcpship/mcpship/internal/core/network"
)

// dnsLabel matches RFC 1123 labels: lowercase alphanumerics and hyphens,
// starting and ending with an alphanumeric.
var dnsLabel = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// MaxServiceNameLength is the DNS label length limit.
const MaxServiceNameLength = 63

// Request is an immutable description of the desired end state of one
// service deployment. It is validated once, before any network call.
type Request struct {
	// ServiceName is unique per provider+region+namespace and must be a
	// valid DNS label.
	ServiceName string

	// Image is the fully-qualified container image reference to run.
	Image string

	// Port is the container port the service listens on.
	Port int

	// CPUMillis and MemoryMB are provider-agnostic resource limits.
	// Adapters translate them to the platform's own units.
	CPUMillis int
	MemoryMB  int

	// Env is the environment variable mapping for the container.
	Env map[string]string

	// Network is the normalized network descriptor for the target model.
	Network network.Descriptor

	// Public grants unauthenticated access when true. A restricted service
	// does not require a TLS identity; a custom domain carries its own
	// certificate handling outside this system.
	Public bool

	// CertificateARN optionally references a TLS identity for the
	// load-balancer listener (cluster model only).
	CertificateARN string

	// CustomDomain optionally names a domain to serve the service on.
	CustomDomain string

	// MaxInstances caps serverless scaling. Zero means the platform default.
	MaxInstances int
}

// Validate checks the request without any I/O. It returns a
// *cloudfail.ValidationError naming the offending field, or nil.
func (r Request) Validate(model network.Model) error {
	if r.ServiceName == "" {
		return cloudfail.NewValidationError("service_name", "required")
	}
	if len(r.ServiceName) > MaxServiceNameLength {
		return cloudfail.NewValidationError("service_name",
			fmt.Sprintf("must be at most %d characters", MaxServiceNameLength))
	}
	if !dnsLabel.MatchString(r.ServiceName) {
		return cloudfail.NewValidationError("service_name",
			"must be a valid DNS label (lowercase alphanumerics and hyphens)")
	}

	if r.Image == "" {
		return cloudfail.NewValidationError("image", "required")
	}
	if _, err := reference.ParseNormalizedNamed(r.Image); err != nil {
		return cloudfail.NewValidationError("image", fmt.Sprintf("not a valid image reference: %v", err))
	}

	if r.Port <= 0 || r.Port > 65535 {
		return cloudfail.NewValidationError("port", "must be between 1 and 65535")
	}
	if r.CPUMillis <= 0 {
		return cloudfail.NewValidationError("cpu", "must be positive")
	}
	if r.MemoryMB <= 0 {
		return cloudfail.NewValidationError("memory", "must be positive")
	}
	if r.MaxInstances < 0 {
		return cloudfail.NewValidationError("max_instances", "cannot be negative")
	}

	if r.CertificateARN != "" && model == network.ModelCluster &&
		!strings.HasPrefix(r.CertificateARN, "arn:aws:acm:") {
		return cloudfail.NewValidationError("certificate_arn", "must start with arn:aws:acm:")
	}
	if r.CustomDomain != "" && model == network.ModelCluster && r.CertificateARN == "" {
		return cloudfail.NewValidationError("custom_domain",
			"serving a custom domain on a load balancer requires certificate_arn")
	}

	return r.Network.Validate(model)
}

// Spec captures the drift-relevant subset of a request for comparison with
// what a platform reports as currently deployed.
type Spec struct {
	Image            string
	Port             int
	CPUMillis        int
	MemoryMB         int
	Env              map[string]string
	Public           bool
	Ingress          network.IngressClass
	ClusterName      string
	VPCID            string
	PublicSubnetIDs  []string
	PrivateSubnetIDs []string
}

// SpecOf extracts the drift-relevant spec from a request.
func SpecOf(r Request) Spec {
	return Spec{
		Image:            r.Image,
		Port:             r.Port,
		CPUMillis:        r.CPUMillis,
		MemoryMB:         r.MemoryMB,
		Env:              r.Env,
		Public:           r.Public,
		Ingress:          r.Network.EffectiveIngress(),
		ClusterName:      r.Network.ClusterName,
		VPCID:            r.Network.VPCID,
		PublicSubnetIDs:  r.Network.PublicSubnetIDs,
		PrivateSubnetIDs: r.Network.PrivateSubnetIDs,
	}
}

// Equal reports whether two specs describe the same deployed state.
// Subnet order and env map iteration order are not significant.
func (s Spec) Equal(other Spec) bool {
	if s.Image != other.Image ||
		s.Port != other.Port ||
		s.CPUMillis != other.CPUMillis ||
		s.MemoryMB != other.MemoryMB ||
		s.Public != other.Public ||
		s.Ingress != other.Ingress ||
		s.ClusterName != other.ClusterName ||
		s.VPCID != other.VPCID {
		return false
	}
	if !sameStringSet(s.PublicSubnetIDs, other.PublicSubnetIDs) ||
		!sameStringSet(s.PrivateSubnetIDs, other.PrivateSubnetIDs) {
		return false
	}
	if len(s.Env) != len(other.Env) {
		return false
	}
	for k, v := range s.Env {
		if other.Env[k] != v {
			return false
		}
	}
	return true
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
