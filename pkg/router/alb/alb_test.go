package alb

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/elbv2"
	"github.com/aws/aws-sdk-go/service/elbv2/elbv2iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragchat/bluegreen/pkg/pool"
	"github.com/ragchat/bluegreen/pkg/router"
)

var (
	backendBlue  = pool.MakeID("backend", pool.Blue)
	backendGreen = pool.MakeID("backend", pool.Green)
)

type fakeELB struct {
	elbv2iface.ELBV2API
	rules     []*elbv2.Rule
	listeners []*elbv2.Listener
	modified  []*elbv2.ModifyRuleInput
}

func (f *fakeELB) DescribeRulesWithContext(_ aws.Context, _ *elbv2.DescribeRulesInput, _ ...request.Option) (*elbv2.DescribeRulesOutput, error) {
	return &elbv2.DescribeRulesOutput{Rules: f.rules}, nil
}

func (f *fakeELB) ModifyRuleWithContext(_ aws.Context, in *elbv2.ModifyRuleInput, _ ...request.Option) (*elbv2.ModifyRuleOutput, error) {
	f.modified = append(f.modified, in)
	return &elbv2.ModifyRuleOutput{}, nil
}

func (f *fakeELB) DescribeListenersWithContext(_ aws.Context, _ *elbv2.DescribeListenersInput, _ ...request.Option) (*elbv2.DescribeListenersOutput, error) {
	return &elbv2.DescribeListenersOutput{Listeners: f.listeners}, nil
}

func forwardRule(arn, tg string) *elbv2.Rule {
	return &elbv2.Rule{
		RuleArn: aws.String(arn),
		Actions: []*elbv2.Action{{
			Type:           aws.String("forward"),
			TargetGroupArn: aws.String(tg),
		}},
	}
}

func testRouter(lb *fakeELB) *Router {
	return newRouter(lb, Config{
		ListenerARN: "arn:listener/acme",
		TargetGroups: map[string]string{
			"backend-blue":   "arn:tg/backend-blue",
			"backend-green":  "arn:tg/backend-green",
			"frontend-blue":  "arn:tg/frontend-blue",
			"frontend-green": "arn:tg/frontend-green",
		},
	})
}

func TestLive(t *testing.T) {
	r := testRouter(&fakeELB{rules: []*elbv2.Rule{
		forwardRule("arn:rule/frontend", "arn:tg/frontend-blue"),
		forwardRule("arn:rule/backend", "arn:tg/backend-green"),
	}})

	id, err := r.Live(context.Background(), "backend")
	require.NoError(t, err)
	assert.Equal(t, backendGreen, id)

	id, err = r.Live(context.Background(), "frontend")
	require.NoError(t, err)
	assert.Equal(t, pool.MakeID("frontend", pool.Blue), id)
}

func TestLiveNoRule(t *testing.T) {
	r := testRouter(&fakeELB{rules: []*elbv2.Rule{
		forwardRule("arn:rule/frontend", "arn:tg/frontend-blue"),
	}})

	_, err := r.Live(context.Background(), "backend")
	assert.Equal(t, router.ErrNoLivePool, err)
}

func TestLiveSkipsDefaultRule(t *testing.T) {
	def := forwardRule("arn:rule/default", "arn:tg/backend-blue")
	def.IsDefault = aws.Bool(true)
	r := testRouter(&fakeELB{rules: []*elbv2.Rule{def}})

	_, err := r.Live(context.Background(), "backend")
	assert.Equal(t, router.ErrNoLivePool, err)
}

func TestSetLive(t *testing.T) {
	lb := &fakeELB{rules: []*elbv2.Rule{
		forwardRule("arn:rule/backend", "arn:tg/backend-blue"),
	}}
	r := testRouter(lb)

	require.NoError(t, r.SetLive(context.Background(), backendGreen))
	require.Len(t, lb.modified, 1)
	assert.Equal(t, "arn:rule/backend", aws.StringValue(lb.modified[0].RuleArn))
	require.Len(t, lb.modified[0].Actions, 1)
	assert.Equal(t, "forward", aws.StringValue(lb.modified[0].Actions[0].Type))
	assert.Equal(t, "arn:tg/backend-green", aws.StringValue(lb.modified[0].Actions[0].TargetGroupArn))
}

func TestSetLiveIdempotent(t *testing.T) {
	lb := &fakeELB{rules: []*elbv2.Rule{
		forwardRule("arn:rule/backend", "arn:tg/backend-green"),
	}}
	r := testRouter(lb)

	require.NoError(t, r.SetLive(context.Background(), backendGreen))
	assert.Empty(t, lb.modified)
}

func TestSetLiveNeedsRule(t *testing.T) {
	r := testRouter(&fakeELB{})
	err := r.SetLive(context.Background(), backendBlue)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule")
}

func TestSetLiveReadsWeightedForward(t *testing.T) {
	lb := &fakeELB{rules: []*elbv2.Rule{{
		RuleArn: aws.String("arn:rule/backend"),
		Actions: []*elbv2.Action{{
			Type: aws.String("forward"),
			ForwardConfig: &elbv2.ForwardActionConfig{
				TargetGroups: []*elbv2.TargetGroupTuple{{
					TargetGroupArn: aws.String("arn:tg/backend-blue"),
					Weight:         aws.Int64(1),
				}},
			},
		}},
	}}}
	r := testRouter(lb)

	require.NoError(t, r.SetLive(context.Background(), backendGreen))
	require.Len(t, lb.modified, 1)
	assert.Equal(t, "arn:tg/backend-green", aws.StringValue(lb.modified[0].Actions[0].TargetGroupArn))
}

func TestPing(t *testing.T) {
	r := testRouter(&fakeELB{listeners: []*elbv2.Listener{{
		ListenerArn: aws.String("arn:listener/acme"),
	}}})
	assert.NoError(t, r.Ping(context.Background()))

	r = testRouter(&fakeELB{})
	assert.Error(t, r.Ping(context.Background()))
}
