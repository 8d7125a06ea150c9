// Package alb drives traffic with an Application Load Balancer
// listener. Each service has a listener rule matching its path prefix
// and forwarding to the live pool's target group; cutover rewrites
// that rule's forward action, which the ALB applies atomically per
// request. The rules themselves are infrastructure: the router flips
// them but never creates them, and it leaves the listener's default
// action alone. Before the first deployment a rule may point at
// either pool's group; the first cutover moves it as usual.
package alb

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/elbv2"
	"github.com/aws/aws-sdk-go/service/elbv2/elbv2iface"
	"github.com/pkg/errors"

	"github.com/ragchat/bluegreen/pkg/pool"
	"github.com/ragchat/bluegreen/pkg/router"
)

// Config names the listener the router drives. TargetGroups maps pool
// IDs to target group ARNs; every pool of every service needs an
// entry.
type Config struct {
	Region       string
	ListenerARN  string
	TargetGroups map[string]string
}

type Router struct {
	elb elbv2iface.ELBV2API
	cfg Config
}

var _ router.Router = &Router{}

// NewRouter builds a router against the AWS API in the configured
// region. Credentials come from the SDK's usual chain.
func NewRouter(cfg Config) *Router {
	sess := session.Must(session.NewSession(&aws.Config{Region: aws.String(cfg.Region)}))
	return newRouter(elbv2.New(sess), cfg)
}

func newRouter(elb elbv2iface.ELBV2API, cfg Config) *Router {
	return &Router{elb: elb, cfg: cfg}
}

// Live reports which pool the service's listener rule forwards to.
func (r *Router) Live(ctx context.Context, service string) (pool.ID, error) {
	rule, id, err := r.findRule(ctx, service)
	if err != nil {
		return pool.ID{}, err
	}
	if rule == nil {
		return pool.ID{}, router.ErrNoLivePool
	}
	return id, nil
}

// SetLive rewrites the service's rule to forward to the given pool's
// target group. Rewriting to the group the rule already forwards to
// makes no API call.
func (r *Router) SetLive(ctx context.Context, id pool.ID) error {
	tg, ok := r.cfg.TargetGroups[id.String()]
	if !ok {
		return errors.Errorf("no target group configured for pool %s", id)
	}
	rule, live, err := r.findRule(ctx, id.Service)
	if err != nil {
		return err
	}
	if rule == nil {
		return errors.Errorf("no listener rule forwards to a %s pool; the listener needs a rule per service", id.Service)
	}
	if live == id {
		return nil
	}
	_, err = r.elb.ModifyRuleWithContext(ctx, &elbv2.ModifyRuleInput{
		RuleArn: rule.RuleArn,
		Actions: []*elbv2.Action{{
			Type:           aws.String(elbv2.ActionTypeEnumForward),
			TargetGroupArn: aws.String(tg),
		}},
	})
	return errors.Wrapf(err, "pointing rule at %s", id)
}

func (r *Router) Ping(ctx context.Context) error {
	out, err := r.elb.DescribeListenersWithContext(ctx, &elbv2.DescribeListenersInput{
		ListenerArns: aws.StringSlice([]string{r.cfg.ListenerARN}),
	})
	if err != nil {
		return errors.Wrap(err, "describing listener")
	}
	if len(out.Listeners) == 0 {
		return errors.Errorf("listener %s not found", r.cfg.ListenerARN)
	}
	return nil
}

// findRule scans the listener for the rule forwarding to one of the
// service's two target groups. A nil rule with a nil error means no
// rule forwards to either.
func (r *Router) findRule(ctx context.Context, service string) (*elbv2.Rule, pool.ID, error) {
	byARN := map[string]pool.ID{}
	for _, color := range []pool.Color{pool.Blue, pool.Green} {
		id := pool.MakeID(service, color)
		if arn, ok := r.cfg.TargetGroups[id.String()]; ok {
			byARN[arn] = id
		}
	}
	if len(byARN) == 0 {
		return nil, pool.ID{}, errors.Errorf("no target groups configured for service %s", service)
	}

	out, err := r.elb.DescribeRulesWithContext(ctx, &elbv2.DescribeRulesInput{
		ListenerArn: aws.String(r.cfg.ListenerARN),
	})
	if err != nil {
		return nil, pool.ID{}, errors.Wrap(err, "describing listener rules")
	}
	for _, rule := range out.Rules {
		// The default rule cannot be changed with ModifyRule, so it
		// is never treated as a service's rule.
		if aws.BoolValue(rule.IsDefault) {
			continue
		}
		for _, action := range rule.Actions {
			if id, ok := byARN[forwardTarget(action)]; ok {
				return rule, id, nil
			}
		}
	}
	return nil, pool.ID{}, nil
}

// forwardTarget returns the target group a forward action points at,
// or "". The router never writes weighted forwards, but reads
// tolerate one as long as it names a single group.
func forwardTarget(a *elbv2.Action) string {
	if a == nil || aws.StringValue(a.Type) != elbv2.ActionTypeEnumForward {
		return ""
	}
	if arn := aws.StringValue(a.TargetGroupArn); arn != "" {
		return arn
	}
	if a.ForwardConfig != nil && len(a.ForwardConfig.TargetGroups) == 1 {
		return aws.StringValue(a.ForwardConfig.TargetGroups[0].TargetGroupArn)
	}
	return ""
}
