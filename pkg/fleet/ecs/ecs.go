// Package ecs runs pools as ECS services on Fargate. Each pool is one
// ECS service named after the pool; Provision registers a fresh task
// definition revision and points the service at it. Replica health
// comes from the pool's target group, which health checks registered
// tasks whether or not the group receives traffic, so the idle pool
// can be verified before cutover.
package ecs

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	awsecs "github.com/aws/aws-sdk-go/service/ecs"
	"github.com/aws/aws-sdk-go/service/ecs/ecsiface"
	"github.com/aws/aws-sdk-go/service/elbv2"
	"github.com/aws/aws-sdk-go/service/elbv2/elbv2iface"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/ragchat/bluegreen/pkg/fleet"
	"github.com/ragchat/bluegreen/pkg/image"
	"github.com/ragchat/bluegreen/pkg/pool"
	"github.com/ragchat/bluegreen/pkg/service"
)

const (
	defaultCPU    = "256"
	defaultMemory = "512"
)

// Config collects the AWS resources the fleet drives. TargetGroups
// maps pool IDs to target group ARNs; each ECS service registers its
// tasks into its pool's group.
type Config struct {
	Region           string
	Cluster          string
	Subnets          []string
	SecurityGroups   []string
	AssignPublicIP   bool
	ExecutionRoleARN string
	CPU              string
	Memory           string
	TargetGroups     map[string]string
}

type Fleet struct {
	ecs    ecsiface.ECSAPI
	elb    elbv2iface.ELBV2API
	cfg    Config
	ports  map[string]int
	logger log.Logger
}

var _ fleet.Manager = &Fleet{}

// NewFleet builds a fleet against the AWS API in the configured
// region. Credentials come from the SDK's usual chain (environment,
// shared config, task role).
func NewFleet(cfg Config, catalog service.Catalog, logger log.Logger) *Fleet {
	sess := session.Must(session.NewSession(&aws.Config{Region: aws.String(cfg.Region)}))
	return newFleet(awsecs.New(sess), elbv2.New(sess), cfg, catalog, logger)
}

func newFleet(ecsAPI ecsiface.ECSAPI, elbAPI elbv2iface.ELBV2API, cfg Config, catalog service.Catalog, logger log.Logger) *Fleet {
	if cfg.CPU == "" {
		cfg.CPU = defaultCPU
	}
	if cfg.Memory == "" {
		cfg.Memory = defaultMemory
	}
	// The health check port doubles as the container port; the
	// catalog does not model a separate serving port.
	ports := map[string]int{}
	for _, s := range catalog {
		ports[s.Name] = s.Health.Port
	}
	return &Fleet{
		ecs:    ecsAPI,
		elb:    elbAPI,
		cfg:    cfg,
		ports:  ports,
		logger: logger,
	}
}

// Provision registers a task definition revision for img and sets the
// pool's ECS service to run `replicas` copies of it, creating the
// service on first use.
func (f *Fleet) Provision(ctx context.Context, id pool.ID, img image.Ref, replicas int) error {
	port, ok := f.ports[id.Service]
	if !ok {
		return errors.Errorf("service %s is not in the catalog", id.Service)
	}
	tg, err := f.targetGroup(id)
	if err != nil {
		return err
	}

	taskDef, err := f.registerTaskDefinition(ctx, id, img, port)
	if err != nil {
		return err
	}
	f.logger.Log("info", "registered task definition", "pool", id.String(), "taskDefinition", aws.StringValue(taskDef))

	svc, err := f.findService(ctx, id)
	if err != nil {
		return err
	}
	if svc == nil {
		_, err := f.ecs.CreateServiceWithContext(ctx, &awsecs.CreateServiceInput{
			Cluster:              aws.String(f.cfg.Cluster),
			ServiceName:          aws.String(id.String()),
			TaskDefinition:       taskDef,
			DesiredCount:         aws.Int64(int64(replicas)),
			LaunchType:           aws.String(awsecs.LaunchTypeFargate),
			NetworkConfiguration: f.networkConfiguration(),
			LoadBalancers: []*awsecs.LoadBalancer{{
				TargetGroupArn: aws.String(tg),
				ContainerName:  aws.String(id.Service),
				ContainerPort:  aws.Int64(int64(port)),
			}},
		})
		return errors.Wrapf(err, "creating service %s", id)
	}
	_, err = f.ecs.UpdateServiceWithContext(ctx, &awsecs.UpdateServiceInput{
		Cluster:        aws.String(f.cfg.Cluster),
		Service:        aws.String(id.String()),
		TaskDefinition: taskDef,
		DesiredCount:   aws.Int64(int64(replicas)),
	})
	return errors.Wrapf(err, "updating service %s", id)
}

// Health reads the pool's target group.
func (f *Fleet) Health(ctx context.Context, id pool.ID) ([]fleet.ReplicaStatus, error) {
	tg, err := f.targetGroup(id)
	if err != nil {
		return nil, err
	}
	out, err := f.elb.DescribeTargetHealthWithContext(ctx, &elbv2.DescribeTargetHealthInput{
		TargetGroupArn: aws.String(tg),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "describing target health of pool %s", id)
	}
	var statuses []fleet.ReplicaStatus
	for _, d := range out.TargetHealthDescriptions {
		var state, detail string
		if d.TargetHealth != nil {
			state = aws.StringValue(d.TargetHealth.State)
			detail = aws.StringValue(d.TargetHealth.Description)
		}
		st := fleet.ReplicaStatus{ID: targetID(d.Target)}
		if state == elbv2.TargetHealthStateEnumHealthy {
			st.Healthy = true
		} else if detail != "" {
			st.Detail = detail
		} else {
			st.Detail = state
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// Scale changes the service's desired count, leaving its task
// definition alone.
func (f *Fleet) Scale(ctx context.Context, id pool.ID, replicas int) error {
	svc, err := f.findService(ctx, id)
	if err != nil {
		return err
	}
	if svc == nil {
		if replicas == 0 {
			return nil
		}
		return errors.Errorf("pool %s has never been provisioned", id)
	}
	_, err = f.ecs.UpdateServiceWithContext(ctx, &awsecs.UpdateServiceInput{
		Cluster:      aws.String(f.cfg.Cluster),
		Service:      aws.String(id.String()),
		DesiredCount: aws.Int64(int64(replicas)),
	})
	return errors.Wrapf(err, "scaling service %s", id)
}

func (f *Fleet) Ping(ctx context.Context) error {
	out, err := f.ecs.DescribeClustersWithContext(ctx, &awsecs.DescribeClustersInput{
		Clusters: aws.StringSlice([]string{f.cfg.Cluster}),
	})
	if err != nil {
		return errors.Wrap(err, "describing cluster")
	}
	for _, c := range out.Clusters {
		if aws.StringValue(c.ClusterName) == f.cfg.Cluster || aws.StringValue(c.ClusterArn) == f.cfg.Cluster {
			if status := aws.StringValue(c.Status); status != "ACTIVE" {
				return errors.Errorf("cluster %s is %s", f.cfg.Cluster, status)
			}
			return nil
		}
	}
	return errors.Errorf("cluster %s not found", f.cfg.Cluster)
}

func (f *Fleet) registerTaskDefinition(ctx context.Context, id pool.ID, img image.Ref, port int) (*string, error) {
	input := &awsecs.RegisterTaskDefinitionInput{
		Family:                  aws.String(id.String()),
		RequiresCompatibilities: aws.StringSlice([]string{awsecs.CompatibilityFargate}),
		NetworkMode:             aws.String(awsecs.NetworkModeAwsvpc),
		Cpu:                     aws.String(f.cfg.CPU),
		Memory:                  aws.String(f.cfg.Memory),
		ContainerDefinitions: []*awsecs.ContainerDefinition{{
			Name:      aws.String(id.Service),
			Image:     aws.String(img.String()),
			Essential: aws.Bool(true),
			PortMappings: []*awsecs.PortMapping{{
				ContainerPort: aws.Int64(int64(port)),
				Protocol:      aws.String(awsecs.TransportProtocolTcp),
			}},
		}},
	}
	if f.cfg.ExecutionRoleARN != "" {
		input.ExecutionRoleArn = aws.String(f.cfg.ExecutionRoleARN)
	}
	out, err := f.ecs.RegisterTaskDefinitionWithContext(ctx, input)
	if err != nil {
		return nil, errors.Wrapf(err, "registering task definition for %s", id)
	}
	return out.TaskDefinition.TaskDefinitionArn, nil
}

func (f *Fleet) networkConfiguration() *awsecs.NetworkConfiguration {
	assign := awsecs.AssignPublicIpDisabled
	if f.cfg.AssignPublicIP {
		assign = awsecs.AssignPublicIpEnabled
	}
	return &awsecs.NetworkConfiguration{
		AwsvpcConfiguration: &awsecs.AwsVpcConfiguration{
			Subnets:        aws.StringSlice(f.cfg.Subnets),
			SecurityGroups: aws.StringSlice(f.cfg.SecurityGroups),
			AssignPublicIp: aws.String(assign),
		},
	}
}

func (f *Fleet) findService(ctx context.Context, id pool.ID) (*awsecs.Service, error) {
	out, err := f.ecs.DescribeServicesWithContext(ctx, &awsecs.DescribeServicesInput{
		Cluster:  aws.String(f.cfg.Cluster),
		Services: aws.StringSlice([]string{id.String()}),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "describing service %s", id)
	}
	for _, s := range out.Services {
		// Deleted services linger with status INACTIVE; they can be
		// re-created but not updated.
		if aws.StringValue(s.Status) != "INACTIVE" {
			return s, nil
		}
	}
	return nil, nil
}

func (f *Fleet) targetGroup(id pool.ID) (string, error) {
	tg, ok := f.cfg.TargetGroups[id.String()]
	if !ok {
		return "", errors.Errorf("no target group configured for pool %s", id)
	}
	return tg, nil
}

func targetID(t *elbv2.TargetDescription) string {
	if t == nil {
		return ""
	}
	if t.Port != nil {
		return fmt.Sprintf("%s:%d", aws.StringValue(t.Id), aws.Int64Value(t.Port))
	}
	return aws.StringValue(t.Id)
}
