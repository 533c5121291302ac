package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"

	"github.com/surgeworks/stampede/pkg/log"
	"github.com/surgeworks/stampede/pkg/types"
)

// ECSConfig holds the Fargate placement settings for worker tasks
type ECSConfig struct {
	Region           string
	Cluster          string
	Subnets          []string
	SecurityGroups   []string
	AssignPublicIP   bool
	ExecutionRoleARN string
}

// ECSProvider runs each worker as a Fargate task in an ECS cluster. The
// provider identifier is the task ARN.
type ECSProvider struct {
	client *ecs.Client
	cfg    ECSConfig
}

// NewECSProvider creates a provider using ambient AWS credentials
func NewECSProvider(ctx context.Context, cfg ECSConfig) (*ECSProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return &ECSProvider{client: ecs.NewFromConfig(awsCfg), cfg: cfg}, nil
}

// NewECSProviderWithClient wraps an existing ECS client
func NewECSProviderWithClient(client *ecs.Client, cfg ECSConfig) *ECSProvider {
	return &ECSProvider{client: client, cfg: cfg}
}

func (p *ECSProvider) Create(ctx context.Context, spec CreateSpec) (string, error) {
	logger := log.WithComponent("ecs")

	// Fargate sizes tasks in CPU units (1024 per core) and MiB of memory
	cpuUnits := int32(spec.CPUCores * 1024)
	memoryMiB := int32(spec.MemoryGiB * 1024)

	var env []ecstypes.KeyValuePair
	for k, v := range spec.Env {
		env = append(env, ecstypes.KeyValuePair{Name: aws.String(k), Value: aws.String(v)})
	}

	regOut, err := p.client.RegisterTaskDefinition(ctx, &ecs.RegisterTaskDefinitionInput{
		Family:                  aws.String(spec.GroupName),
		RequiresCompatibilities: []ecstypes.Compatibility{ecstypes.CompatibilityFargate},
		NetworkMode:             ecstypes.NetworkModeAwsvpc,
		Cpu:                     aws.String(fmt.Sprintf("%d", cpuUnits)),
		Memory:                  aws.String(fmt.Sprintf("%d", memoryMiB)),
		ExecutionRoleArn:        roleOrNil(p.cfg.ExecutionRoleARN),
		ContainerDefinitions: []ecstypes.ContainerDefinition{
			{
				Name:        aws.String("worker"),
				Image:       aws.String(spec.Image),
				Essential:   aws.Bool(true),
				Environment: env,
			},
		},
	})
	if err != nil {
		return "", classify("register task definition", err)
	}

	assignIP := ecstypes.AssignPublicIpDisabled
	if p.cfg.AssignPublicIP {
		assignIP = ecstypes.AssignPublicIpEnabled
	}

	runOut, err := p.client.RunTask(ctx, &ecs.RunTaskInput{
		Cluster:        aws.String(p.cfg.Cluster),
		TaskDefinition: regOut.TaskDefinition.TaskDefinitionArn,
		LaunchType:     ecstypes.LaunchTypeFargate,
		Count:          aws.Int32(1),
		NetworkConfiguration: &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				Subnets:        p.cfg.Subnets,
				SecurityGroups: p.cfg.SecurityGroups,
				AssignPublicIp: assignIP,
			},
		},
	})
	if err != nil {
		return "", classify("run task", err)
	}
	if len(runOut.Failures) > 0 {
		f := runOut.Failures[0]
		return "", fmt.Errorf("%w: run task: %s (%s)", types.ErrProviderFatal,
			aws.ToString(f.Reason), aws.ToString(f.Detail))
	}
	if len(runOut.Tasks) == 0 {
		return "", fmt.Errorf("%w: run task returned no tasks", types.ErrProviderFatal)
	}

	taskARN := aws.ToString(runOut.Tasks[0].TaskArn)
	logger.Debug().Str("group", spec.GroupName).Str("task_arn", taskARN).Msg("task started")
	return taskARN, nil
}

func (p *ECSProvider) Status(ctx context.Context, providerID string) (Status, error) {
	out, err := p.client.DescribeTasks(ctx, &ecs.DescribeTasksInput{
		Cluster: aws.String(p.cfg.Cluster),
		Tasks:   []string{providerID},
	})
	if err != nil {
		return Status{State: StateUnknown}, classify("describe tasks", err)
	}
	if len(out.Tasks) == 0 {
		// Stopped tasks age out of DescribeTasks; treat as gone
		return Status{State: StateUnknown}, nil
	}

	task := out.Tasks[0]
	switch strings.ToUpper(aws.ToString(task.LastStatus)) {
	case "RUNNING":
		return Status{State: StateRunning}, nil
	case "STOPPED", "DEPROVISIONING", "DELETED":
		st := Status{State: StateTerminated}
		for _, c := range task.Containers {
			if c.ExitCode != nil {
				code := int(*c.ExitCode)
				st.ExitCode = &code
				break
			}
		}
		return st, nil
	default:
		// PROVISIONING, PENDING, ACTIVATING
		return Status{State: StateUnknown}, nil
	}
}

func (p *ECSProvider) Delete(ctx context.Context, providerID string) error {
	_, err := p.client.StopTask(ctx, &ecs.StopTaskInput{
		Cluster: aws.String(p.cfg.Cluster),
		Task:    aws.String(providerID),
		Reason:  aws.String("stampede teardown"),
	})
	if err != nil {
		return classify("stop task", err)
	}
	return nil
}

// Logs returns the stop reason recorded by ECS. Full container logs live in
// the log driver configured on the task definition; fetching them is out of
// the provider contract.
func (p *ECSProvider) Logs(ctx context.Context, providerID string) ([]byte, error) {
	out, err := p.client.DescribeTasks(ctx, &ecs.DescribeTasksInput{
		Cluster: aws.String(p.cfg.Cluster),
		Tasks:   []string{providerID},
	})
	if err != nil {
		return nil, classify("describe tasks", err)
	}
	if len(out.Tasks) == 0 {
		return nil, nil
	}
	var b strings.Builder
	task := out.Tasks[0]
	if reason := aws.ToString(task.StoppedReason); reason != "" {
		fmt.Fprintf(&b, "stopped: %s\n", reason)
	}
	for _, c := range task.Containers {
		if reason := aws.ToString(c.Reason); reason != "" {
			fmt.Fprintf(&b, "container %s: %s\n", aws.ToString(c.Name), reason)
		}
	}
	return []byte(b.String()), nil
}

func classify(op string, err error) error {
	if IsThrottled(err) {
		return fmt.Errorf("%w: %s: %v", types.ErrProviderThrottled, op, err)
	}
	return fmt.Errorf("%w: %s: %v", types.ErrProviderUnavailable, op, err)
}

func roleOrNil(arn string) *string {
	if arn == "" {
		return nil
	}
	return aws.String(arn)
}
