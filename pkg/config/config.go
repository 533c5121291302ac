package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/surgeworks/stampede/pkg/plan"
	"github.com/surgeworks/stampede/pkg/types"
)

// defaultVUsPerContainer caps a single worker's load when the plan file
// does not say otherwise
const defaultVUsPerContainer = 10

// TestPlan is the on-disk YAML shape of a load test
type TestPlan struct {
	Target       string            `yaml:"target"`
	TestType     string            `yaml:"test_type"`
	Distribution Distribution      `yaml:"distribution"`
	Protocol     KindSettings      `yaml:"protocol_settings"`
	Browser      KindSettings      `yaml:"browser_settings"`
	Cloud        Cloud             `yaml:"cloud"`
	Env          map[string]string `yaml:"env"`
}

// Distribution controls how the total load is partitioned across workers
type Distribution struct {
	TotalVUs        int        `yaml:"total_vus"`
	Duration        string     `yaml:"duration"`
	VUsPerContainer int        `yaml:"vus_per_container"`
	Resources       *Resources `yaml:"resources"`
}

// Resources overrides the per-kind default worker container shape
type Resources struct {
	CPUCores  float64 `yaml:"cpu_cores"`
	MemoryGiB float64 `yaml:"memory_gib"`
}

// KindSettings carries per-test-kind extras passed to workers verbatim
type KindSettings struct {
	Image string            `yaml:"image"`
	Env   map[string]string `yaml:"env"`
}

// Cloud names the infrastructure a run provisions into
type Cloud struct {
	Region           string   `yaml:"region"`
	Cluster          string   `yaml:"cluster"`
	Subnets          []string `yaml:"subnets"`
	SecurityGroups   []string `yaml:"security_groups"`
	AssignPublicIP   bool     `yaml:"assign_public_ip"`
	ExecutionRoleARN string   `yaml:"execution_role_arn"`
	Bucket           string   `yaml:"bucket"`
	Registry         string   `yaml:"registry"`
}

// Load reads and parses a YAML test plan, applying defaults. Validation of
// the resulting values is the plan compiler's job.
func Load(path string) (*TestPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	var tp TestPlan
	if err := yaml.Unmarshal(data, &tp); err != nil {
		return nil, fmt.Errorf("failed to parse plan file %s: %w", path, err)
	}
	tp.applyDefaults()
	return &tp, nil
}

func (tp *TestPlan) applyDefaults() {
	if tp.TestType == "" {
		tp.TestType = string(types.TestKindProtocol)
	}
	if tp.Distribution.VUsPerContainer == 0 {
		tp.Distribution.VUsPerContainer = defaultVUsPerContainer
	}
}

// PlanInput assembles the compiler input from the file values. Per-kind env
// settings are merged under the plan-wide env block; plan-wide keys win.
func (tp *TestPlan) PlanInput() plan.Input {
	kind := types.TestKind(tp.TestType)

	settings := tp.Protocol
	if kind == types.TestKindBrowser {
		settings = tp.Browser
	}

	env := make(map[string]string, len(settings.Env)+len(tp.Env))
	for k, v := range settings.Env {
		env[k] = v
	}
	for k, v := range tp.Env {
		env[k] = v
	}
	if len(env) == 0 {
		env = nil
	}

	in := plan.Input{
		TargetURL:     tp.Target,
		TestKind:      kind,
		TotalVUs:      tp.Distribution.TotalVUs,
		Duration:      tp.Distribution.Duration,
		PerWorkerVUs:  tp.Distribution.VUsPerContainer,
		Registry:      tp.Cloud.Registry,
		ImageRef:      settings.Image,
		BlobNamespace: tp.Cloud.Bucket,
		EnvOverrides:  env,
	}
	if r := tp.Distribution.Resources; r != nil {
		in.Resources = &types.WorkerResources{CPUCores: r.CPUCores, MemoryGiB: r.MemoryGiB}
	}
	return in
}
