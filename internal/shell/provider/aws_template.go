package provider

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/aws/aws-sdk-go-v2/aws"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/mcpship/mcpship/internal/core/deploy"
	"github.com/mcpship/mcpship/internal/core/health"
	"github.com/mcpship/mcpship/internal/core/network"
)

// CloudFormation parameter keys. Every value that participates in drift
// detection is passed as a stack parameter so ObservedSpec can read it
// back from DescribeStacks without inspecting the template body.
const (
	paramServiceName    = "ServiceName"
	paramClusterName    = "ClusterName"
	paramImageURI       = "ImageUri"
	paramContainerPort  = "ContainerPort"
	paramTaskCPU        = "TaskCpu"
	paramTaskCPUMillis  = "TaskCpuMillis"
	paramTaskMemory     = "TaskMemory"
	paramVPCID          = "VpcId"
	paramALBSubnets     = "AlbSubnetIds"
	paramServiceSubnets = "ServiceSubnetIds"
	paramCertificateARN = "CertificateArn"
	paramEnvVars        = "EnvVarsJson"
	paramPublicAccess   = "PublicAccess"

	outputEndpointURL = "EndpointUrl"

	// ALB health checks treat the MCP handshake rejection as alive.
	healthMatcher = "200-299,400"
)

//go:embed templates/ecs-service.yaml.tmpl
var ecsServiceTemplate string

var serviceTmpl = template.Must(template.New("ecs-service").Parse(ecsServiceTemplate))

type templateEnvVar struct {
	Name  string
	Value string
}

type serviceTemplateData struct {
	LoadBalancerIngress []network.IngressRule
	EnvVars             []templateEnvVar
	HealthPath          string
	HealthMatcher       string
}

// renderServiceTemplate produces the CloudFormation template body for a
// deployment request. Environment variables are baked into the task
// definition; the security group rules come from the shared network plan.
func renderServiceTemplate(req deploy.Request) (string, error) {
	plan := network.DeriveSecurityGroups(req.Port)

	envs := make([]templateEnvVar, 0, len(req.Env))
	for name, value := range req.Env {
		envs = append(envs, templateEnvVar{
			Name:  strconv.Quote(name),
			Value: strconv.Quote(value),
		})
	}
	sort.Slice(envs, func(i, j int) bool { return envs[i].Name < envs[j].Name })

	data := serviceTemplateData{
		LoadBalancerIngress: plan.LoadBalancerIngress,
		EnvVars:             envs,
		HealthPath:          health.Path,
		HealthMatcher:       healthMatcher,
	}

	var buf bytes.Buffer
	if err := serviceTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render service template: %w", err)
	}
	return buf.String(), nil
}

// stackParameters maps a deployment request onto the template's parameters.
func stackParameters(req deploy.Request) []cfntypes.Parameter {
	envJSON, _ := json.Marshal(req.Env)

	param := func(key, value string) cfntypes.Parameter {
		return cfntypes.Parameter{
			ParameterKey:   aws.String(key),
			ParameterValue: aws.String(value),
		}
	}

	return []cfntypes.Parameter{
		param(paramServiceName, req.ServiceName),
		param(paramClusterName, req.Network.ClusterName),
		param(paramImageURI, req.Image),
		param(paramContainerPort, strconv.Itoa(req.Port)),
		param(paramTaskCPU, strconv.Itoa(cpuMillisToUnits(req.CPUMillis))),
		param(paramTaskCPUMillis, strconv.Itoa(req.CPUMillis)),
		param(paramTaskMemory, strconv.Itoa(req.MemoryMB)),
		param(paramVPCID, req.Network.VPCID),
		param(paramALBSubnets, strings.Join(req.Network.PublicSubnetIDs, ",")),
		param(paramServiceSubnets, strings.Join(req.Network.PrivateSubnetIDs, ",")),
		param(paramCertificateARN, req.CertificateARN),
		param(paramEnvVars, string(envJSON)),
		param(paramPublicAccess, strconv.FormatBool(req.Public)),
	}
}
