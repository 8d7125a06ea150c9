package ecs

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	awsecs "github.com/aws/aws-sdk-go/service/ecs"
	"github.com/aws/aws-sdk-go/service/ecs/ecsiface"
	"github.com/aws/aws-sdk-go/service/elbv2"
	"github.com/aws/aws-sdk-go/service/elbv2/elbv2iface"
	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragchat/bluegreen/pkg/fleet"
	"github.com/ragchat/bluegreen/pkg/image"
	"github.com/ragchat/bluegreen/pkg/pool"
	"github.com/ragchat/bluegreen/pkg/service"
)

var backendBlue = pool.MakeID("backend", pool.Blue)

type fakeECS struct {
	ecsiface.ECSAPI
	services map[string]*awsecs.Service
	clusters []*awsecs.Cluster

	registered []*awsecs.RegisterTaskDefinitionInput
	created    []*awsecs.CreateServiceInput
	updated    []*awsecs.UpdateServiceInput
}

func (f *fakeECS) RegisterTaskDefinitionWithContext(_ aws.Context, in *awsecs.RegisterTaskDefinitionInput, _ ...request.Option) (*awsecs.RegisterTaskDefinitionOutput, error) {
	f.registered = append(f.registered, in)
	arn := fmt.Sprintf("arn:aws:ecs:task-definition/%s:%d", aws.StringValue(in.Family), len(f.registered))
	return &awsecs.RegisterTaskDefinitionOutput{
		TaskDefinition: &awsecs.TaskDefinition{TaskDefinitionArn: aws.String(arn)},
	}, nil
}

func (f *fakeECS) DescribeServicesWithContext(_ aws.Context, in *awsecs.DescribeServicesInput, _ ...request.Option) (*awsecs.DescribeServicesOutput, error) {
	out := &awsecs.DescribeServicesOutput{}
	for _, name := range aws.StringValueSlice(in.Services) {
		if s, ok := f.services[name]; ok {
			out.Services = append(out.Services, s)
		}
	}
	return out, nil
}

func (f *fakeECS) CreateServiceWithContext(_ aws.Context, in *awsecs.CreateServiceInput, _ ...request.Option) (*awsecs.CreateServiceOutput, error) {
	f.created = append(f.created, in)
	return &awsecs.CreateServiceOutput{}, nil
}

func (f *fakeECS) UpdateServiceWithContext(_ aws.Context, in *awsecs.UpdateServiceInput, _ ...request.Option) (*awsecs.UpdateServiceOutput, error) {
	f.updated = append(f.updated, in)
	return &awsecs.UpdateServiceOutput{}, nil
}

func (f *fakeECS) DescribeClustersWithContext(_ aws.Context, _ *awsecs.DescribeClustersInput, _ ...request.Option) (*awsecs.DescribeClustersOutput, error) {
	return &awsecs.DescribeClustersOutput{Clusters: f.clusters}, nil
}

type fakeELB struct {
	elbv2iface.ELBV2API
	// health maps target group ARN to its target health descriptions.
	health map[string][]*elbv2.TargetHealthDescription
}

func (f *fakeELB) DescribeTargetHealthWithContext(_ aws.Context, in *elbv2.DescribeTargetHealthInput, _ ...request.Option) (*elbv2.DescribeTargetHealthOutput, error) {
	return &elbv2.DescribeTargetHealthOutput{
		TargetHealthDescriptions: f.health[aws.StringValue(in.TargetGroupArn)],
	}, nil
}

func testConfig() Config {
	return Config{
		Region:         "eu-west-1",
		Cluster:        "acme-prod",
		Subnets:        []string{"subnet-aaa", "subnet-bbb"},
		SecurityGroups: []string{"sg-ccc"},
		TargetGroups: map[string]string{
			"backend-blue":  "arn:tg/backend-blue",
			"backend-green": "arn:tg/backend-green",
		},
	}
}

func testFleet(e *fakeECS, lb *fakeELB) *Fleet {
	catalog := service.Catalog{{
		Name:   "backend",
		Health: service.HealthCheck{Path: "/health", Port: 8000},
	}}
	return newFleet(e, lb, testConfig(), catalog, log.NewNopLogger())
}

func TestProvisionCreatesService(t *testing.T) {
	e := &fakeECS{}
	f := testFleet(e, &fakeELB{})

	img := image.MustParseRef("123.dkr.ecr.eu-west-1.amazonaws.com/acme/backend:v2")
	require.NoError(t, f.Provision(context.Background(), backendBlue, img, 2))

	require.Len(t, e.registered, 1)
	reg := e.registered[0]
	assert.Equal(t, "backend-blue", aws.StringValue(reg.Family))
	assert.Equal(t, "awsvpc", aws.StringValue(reg.NetworkMode))
	assert.Equal(t, []string{"FARGATE"}, aws.StringValueSlice(reg.RequiresCompatibilities))
	assert.Equal(t, defaultCPU, aws.StringValue(reg.Cpu))
	require.Len(t, reg.ContainerDefinitions, 1)
	assert.Equal(t, "backend", aws.StringValue(reg.ContainerDefinitions[0].Name))
	assert.Equal(t, img.String(), aws.StringValue(reg.ContainerDefinitions[0].Image))
	assert.Equal(t, int64(8000), aws.Int64Value(reg.ContainerDefinitions[0].PortMappings[0].ContainerPort))

	require.Len(t, e.created, 1)
	created := e.created[0]
	assert.Equal(t, "acme-prod", aws.StringValue(created.Cluster))
	assert.Equal(t, "backend-blue", aws.StringValue(created.ServiceName))
	assert.Equal(t, int64(2), aws.Int64Value(created.DesiredCount))
	assert.Equal(t, "FARGATE", aws.StringValue(created.LaunchType))
	assert.Equal(t, []string{"subnet-aaa", "subnet-bbb"}, aws.StringValueSlice(created.NetworkConfiguration.AwsvpcConfiguration.Subnets))
	assert.Equal(t, "DISABLED", aws.StringValue(created.NetworkConfiguration.AwsvpcConfiguration.AssignPublicIp))
	require.Len(t, created.LoadBalancers, 1)
	assert.Equal(t, "arn:tg/backend-blue", aws.StringValue(created.LoadBalancers[0].TargetGroupArn))
	assert.Equal(t, int64(8000), aws.Int64Value(created.LoadBalancers[0].ContainerPort))

	assert.Empty(t, e.updated)
}

func TestProvisionUpdatesExistingService(t *testing.T) {
	e := &fakeECS{services: map[string]*awsecs.Service{
		"backend-blue": {Status: aws.String("ACTIVE")},
	}}
	f := testFleet(e, &fakeELB{})

	img := image.MustParseRef("123.dkr.ecr.eu-west-1.amazonaws.com/acme/backend:v3")
	require.NoError(t, f.Provision(context.Background(), backendBlue, img, 3))

	assert.Empty(t, e.created)
	require.Len(t, e.updated, 1)
	assert.Equal(t, "backend-blue", aws.StringValue(e.updated[0].Service))
	assert.Equal(t, int64(3), aws.Int64Value(e.updated[0].DesiredCount))
	assert.Contains(t, aws.StringValue(e.updated[0].TaskDefinition), "backend-blue")
}

func TestProvisionRecreatesInactiveService(t *testing.T) {
	e := &fakeECS{services: map[string]*awsecs.Service{
		"backend-blue": {Status: aws.String("INACTIVE")},
	}}
	f := testFleet(e, &fakeELB{})

	img := image.MustParseRef("123.dkr.ecr.eu-west-1.amazonaws.com/acme/backend:v2")
	require.NoError(t, f.Provision(context.Background(), backendBlue, img, 1))
	assert.Len(t, e.created, 1)
	assert.Empty(t, e.updated)
}

func TestHealthFromTargetGroup(t *testing.T) {
	lb := &fakeELB{health: map[string][]*elbv2.TargetHealthDescription{
		"arn:tg/backend-blue": {
			{
				Target:       &elbv2.TargetDescription{Id: aws.String("10.0.1.5"), Port: aws.Int64(8000)},
				TargetHealth: &elbv2.TargetHealth{State: aws.String("healthy")},
			},
			{
				Target: &elbv2.TargetDescription{Id: aws.String("10.0.1.6"), Port: aws.Int64(8000)},
				TargetHealth: &elbv2.TargetHealth{
					State:       aws.String("initial"),
					Description: aws.String("Target registration is in progress"),
				},
			},
		},
	}}
	f := testFleet(&fakeECS{}, lb)

	statuses, err := f.Health(context.Background(), backendBlue)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, fleet.ReplicaStatus{ID: "10.0.1.5:8000", Healthy: true}, statuses[0])
	assert.Equal(t, "10.0.1.6:8000", statuses[1].ID)
	assert.False(t, statuses[1].Healthy)
	assert.Equal(t, "Target registration is in progress", statuses[1].Detail)
}

func TestHealthEmptyTargetGroup(t *testing.T) {
	f := testFleet(&fakeECS{}, &fakeELB{})
	statuses, err := f.Health(context.Background(), backendBlue)
	require.NoError(t, err)
	assert.Empty(t, statuses)
}

func TestScaleKeepsTaskDefinition(t *testing.T) {
	e := &fakeECS{services: map[string]*awsecs.Service{
		"backend-blue": {Status: aws.String("ACTIVE")},
	}}
	f := testFleet(e, &fakeELB{})

	require.NoError(t, f.Scale(context.Background(), backendBlue, 0))
	require.Len(t, e.updated, 1)
	assert.Equal(t, int64(0), aws.Int64Value(e.updated[0].DesiredCount))
	assert.Nil(t, e.updated[0].TaskDefinition)
}

func TestScaleUnprovisionedPool(t *testing.T) {
	e := &fakeECS{}
	f := testFleet(e, &fakeELB{})

	assert.NoError(t, f.Scale(context.Background(), backendBlue, 0))
	assert.Error(t, f.Scale(context.Background(), backendBlue, 2))
	assert.Empty(t, e.updated)
}

func TestPing(t *testing.T) {
	f := testFleet(&fakeECS{clusters: []*awsecs.Cluster{{
		ClusterName: aws.String("acme-prod"),
		Status:      aws.String("ACTIVE"),
	}}}, &fakeELB{})
	assert.NoError(t, f.Ping(context.Background()))

	f = testFleet(&fakeECS{}, &fakeELB{})
	assert.Error(t, f.Ping(context.Background()))

	f = testFleet(&fakeECS{clusters: []*awsecs.Cluster{{
		ClusterName: aws.String("acme-prod"),
		Status:      aws.String("INACTIVE"),
	}}}, &fakeELB{})
	err := f.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INACTIVE")
}
