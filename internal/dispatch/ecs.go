package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"

	"github.com/atharvarekhawar/DropIt/internal/domain"
)

// ECSDispatcher launches one-off Fargate tasks for builds.
type ECSDispatcher struct {
	client    *ecs.Client
	logger    *slog.Logger
	cluster   string
	taskDef   string
	container string
	subnets   []string
	secGroups []string
}

// ECSOptions configures task placement.
type ECSOptions struct {
	Region         string
	Cluster        string
	TaskDefinition string
	ContainerName  string
	Subnets        []string
	SecurityGroups []string
}

// NewECSDispatcher constructs an ECS-backed dispatcher.
func NewECSDispatcher(ctx context.Context, opts ECSOptions, logger *slog.Logger) (*ECSDispatcher, error) {
	if opts.Cluster == "" || opts.TaskDefinition == "" {
		return nil, errors.New("dispatch: ECS cluster and task definition are required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &ECSDispatcher{
		client:    ecs.NewFromConfig(cfg),
		logger:    logger,
		cluster:   opts.Cluster,
		taskDef:   opts.TaskDefinition,
		container: opts.ContainerName,
		subnets:   opts.Subnets,
		secGroups: opts.SecurityGroups,
	}, nil
}

// Submit runs the build task with params injected as container environment.
func (d *ECSDispatcher) Submit(ctx context.Context, params map[string]string) (string, error) {
	env := make([]types.KeyValuePair, 0, len(params))
	for key, value := range params {
		env = append(env, types.KeyValuePair{Name: aws.String(key), Value: aws.String(value)})
	}
	out, err := d.client.RunTask(ctx, &ecs.RunTaskInput{
		Cluster:        aws.String(d.cluster),
		TaskDefinition: aws.String(d.taskDef),
		LaunchType:     types.LaunchTypeFargate,
		Count:          aws.Int32(1),
		NetworkConfiguration: &types.NetworkConfiguration{
			AwsvpcConfiguration: &types.AwsVpcConfiguration{
				AssignPublicIp: types.AssignPublicIpEnabled,
				Subnets:        d.subnets,
				SecurityGroups: d.secGroups,
			},
		},
		Overrides: &types.TaskOverride{
			ContainerOverrides: []types.ContainerOverride{
				{Name: aws.String(d.container), Environment: env},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: run task: %v", domain.ErrDispatch, err)
	}
	if len(out.Failures) > 0 {
		f := out.Failures[0]
		return "", fmt.Errorf("%w: %s", domain.ErrDispatch, aws.ToString(f.Reason))
	}
	if len(out.Tasks) == 0 {
		return "", fmt.Errorf("%w: backend returned no task", domain.ErrDispatch)
	}
	arn := aws.ToString(out.Tasks[0].TaskArn)
	d.logger.Info("build task submitted", "task_arn", arn, "deployment_id", params[ParamDeploymentID])
	return arn, nil
}

// SplitList parses comma-separated config values such as subnet lists.
func SplitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
