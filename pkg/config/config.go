// Package config reads the bluegreend configuration file: the service
// catalog, deploy settings (global defaults with per-service
// overrides), and the fleet and router backends to use.
package config

import (
	"encoding/json"
	"io/ioutil"
	"strings"
	"time"

	"github.com/ghodss/yaml"
	"github.com/imdario/mergo"
	"github.com/pkg/errors"

	"github.com/ragchat/bluegreen/pkg/deploy"
	"github.com/ragchat/bluegreen/pkg/pool"
	"github.com/ragchat/bluegreen/pkg/service"
)

// ConfigVersion marks a file as readable by this daemon. The value
// determines how the config file is interpreted: for now, if it is
// not equal to this, it is considered an invalid configuration.
const ConfigVersion = "v1"

const (
	FleetLocal  = "local"
	FleetDocker = "docker"
	FleetECS    = "ecs"

	RouterInMem = "inmem"
	RouterALB   = "alb"
)

// Duration is a time.Duration that appears in the file as a string
// like "90s" or "5m".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(in []byte) error {
	var s string
	if err := json.Unmarshal(in, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Config is the file bluegreend reads at startup.
type Config struct {
	Version  string          `json:"version"`
	Services []ServiceConfig `json:"services"`
	// Deploy holds the global deploy settings; fields left out
	// inherit the shipped defaults.
	Deploy DeploySettings `json:"deploy,omitempty"`
	Fleet  FleetConfig    `json:"fleet,omitempty"`
	Router RouterConfig   `json:"router,omitempty"`
}

// ServiceConfig is one service plus its deploy overrides.
type ServiceConfig struct {
	service.Service
	// Deploy overrides the global deploy settings for this service;
	// fields left out inherit.
	Deploy DeploySettings `json:"deploy,omitempty"`
}

// DeploySettings mirrors deploy.Settings with file-friendly keys and
// duration strings. All fields are optional; the pointers tell an
// explicit zero apart from an absent field.
type DeploySettings struct {
	HealthCheckInterval *Duration `json:"health_check_interval,omitempty"`
	HealthCheckTimeout  *Duration `json:"health_check_timeout,omitempty"`
	HealthyThreshold    *int      `json:"healthy_threshold,omitempty"`
	UnhealthyThreshold  *int      `json:"unhealthy_threshold,omitempty"`
	CutoverCooldown     *Duration `json:"cutover_cooldown,omitempty"`
	ProvisionRetryCount *int      `json:"provision_retry_count,omitempty"`
	RollbackOnEvents    []string  `json:"rollback_on_events,omitempty"`
	TimeoutPolicy       *string   `json:"timeout_policy,omitempty"`
}

// overlay applies the fields that are present onto s.
func (ds DeploySettings) overlay(s deploy.Settings) deploy.Settings {
	if ds.HealthCheckInterval != nil {
		s.HealthCheckInterval = time.Duration(*ds.HealthCheckInterval)
	}
	if ds.HealthCheckTimeout != nil {
		s.HealthCheckTimeout = time.Duration(*ds.HealthCheckTimeout)
	}
	if ds.HealthyThreshold != nil {
		s.HealthyThreshold = *ds.HealthyThreshold
	}
	if ds.UnhealthyThreshold != nil {
		s.UnhealthyThreshold = *ds.UnhealthyThreshold
	}
	if ds.CutoverCooldown != nil {
		s.Cooldown = time.Duration(*ds.CutoverCooldown)
	}
	if ds.ProvisionRetryCount != nil {
		s.ProvisionRetries = *ds.ProvisionRetryCount
	}
	if ds.RollbackOnEvents != nil {
		s.RollbackOnEvents = ds.RollbackOnEvents
	}
	if ds.TimeoutPolicy != nil {
		s.TimeoutPolicy = deploy.TimeoutPolicy(*ds.TimeoutPolicy)
	}
	return s
}

// FleetConfig selects and configures the fleet backend.
type FleetConfig struct {
	Type   string            `json:"type,omitempty"`
	Local  LocalFleetConfig  `json:"local,omitempty"`
	Docker DockerFleetConfig `json:"docker,omitempty"`
	ECS    ECSFleetConfig    `json:"ecs,omitempty"`
}

// LocalFleetConfig tunes the in-process fleet used for development.
type LocalFleetConfig struct {
	// StartupDelay is how long a freshly provisioned replica takes to
	// start passing health checks. Defaults to 2s.
	StartupDelay Duration `json:"startup_delay,omitempty"`
}

// DockerFleetConfig says how to reach the Docker engine that runs the
// pools.
type DockerFleetConfig struct {
	// Host is the engine address, e.g. unix:///var/run/docker.sock;
	// empty means the engine client's usual environment handling.
	Host string `json:"host,omitempty"`
	// Network is the Docker network replicas are attached to.
	// Defaults to "bluegreen".
	Network string `json:"network,omitempty"`
}

// ECSFleetConfig names the ECS resources each pool maps onto.
type ECSFleetConfig struct {
	Region  string `json:"region,omitempty"`
	Cluster string `json:"cluster"`
	// Subnets and SecurityGroups parameterize awsvpc networking for
	// the tasks.
	Subnets        []string `json:"subnets,omitempty"`
	SecurityGroups []string `json:"security_groups,omitempty"`
	AssignPublicIP bool     `json:"assign_public_ip,omitempty"`
	// ExecutionRoleARN is passed through to registered task
	// definitions.
	ExecutionRoleARN string `json:"execution_role_arn,omitempty"`
	// CPU and Memory are Fargate task sizes, e.g. "256" and "512".
	CPU    string `json:"cpu,omitempty"`
	Memory string `json:"memory,omitempty"`
	// TargetGroups maps pool IDs to target group ARNs. Tasks register
	// into their pool's target group, and the target group's health
	// checks are the pool's replica health. Every pool needs an
	// entry.
	TargetGroups map[string]string `json:"target_groups"`
}

// RouterConfig selects and configures the traffic router backend.
type RouterConfig struct {
	Type string          `json:"type,omitempty"`
	ALB  ALBRouterConfig `json:"alb,omitempty"`
}

// ALBRouterConfig maps pools onto ALB listener rules. Cutover is a
// rule-forwarding change, which the ALB applies atomically.
type ALBRouterConfig struct {
	Region      string `json:"region,omitempty"`
	ListenerARN string `json:"listener_arn"`
	// TargetGroups maps pool IDs (e.g. "backend-blue") to target
	// group ARNs. Every pool of every service needs an entry.
	TargetGroups map[string]string `json:"target_groups"`
}

// Load reads, parses and validates the configuration file.
func Load(path string) (Config, error) {
	in, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading config file %s", path)
	}
	c, err := Parse(in)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config file %s", path)
	}
	return c, nil
}

// Parse parses configuration file content, fills in defaults for the
// fields left out, and validates the result.
func Parse(in []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(in, &c); err != nil {
		return Config{}, errors.Wrap(err, "parsing YAML")
	}
	if err := mergo.Merge(&c, defaultConfig()); err != nil {
		return Config{}, errors.Wrap(err, "applying config defaults")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func defaultConfig() Config {
	return Config{
		Fleet: FleetConfig{
			Type:   FleetLocal,
			Local:  LocalFleetConfig{StartupDelay: Duration(2 * time.Second)},
			Docker: DockerFleetConfig{Network: "bluegreen"},
		},
		Router: RouterConfig{Type: RouterInMem},
	}
}

// Catalog returns the configured services, in file order. That order
// is also the deploy order within a run.
func (c Config) Catalog() service.Catalog {
	catalog := make(service.Catalog, len(c.Services))
	for i, sc := range c.Services {
		catalog[i] = sc.Service
	}
	return catalog
}

// Settings resolves the deploy settings for every service: shipped
// defaults, overlaid with the global deploy section, overlaid with
// the service's own overrides. An explicit zero in an override counts
// as an override.
func (c Config) Settings() (map[string]deploy.Settings, error) {
	out := map[string]deploy.Settings{}
	for _, sc := range c.Services {
		settings := sc.Deploy.overlay(c.Deploy.overlay(deploy.DefaultSettings()))
		if err := settings.Validate(); err != nil {
			return nil, errors.Wrapf(err, "deploy settings for %s", sc.Name)
		}
		out[sc.Name] = settings
	}
	return out, nil
}

// Validate reports the first problem with the configuration, if any.
func (c Config) Validate() error {
	if c.Version != ConfigVersion {
		return errors.Errorf("config file is expected to include `version: %s` to mark it as a bluegreen config", ConfigVersion)
	}
	if len(c.Services) == 0 {
		return errors.New("no services configured")
	}

	names := map[string]bool{}
	prefixes := map[string]bool{}
	for _, sc := range c.Services {
		if sc.Name == "" {
			return errors.New("service with no name")
		}
		if names[sc.Name] {
			return errors.Errorf("service %q configured twice", sc.Name)
		}
		names[sc.Name] = true
		if sc.Image.String() == "" {
			return errors.Errorf("service %q has no image", sc.Name)
		}
		if sc.Replicas < 1 {
			return errors.Errorf("service %q needs at least 1 replica", sc.Name)
		}
		if !strings.HasPrefix(sc.Health.Path, "/") {
			return errors.Errorf("service %q health path must start with /", sc.Name)
		}
		if sc.Health.Port < 1 || sc.Health.Port > 65535 {
			return errors.Errorf("service %q health port %d out of range", sc.Name, sc.Health.Port)
		}
		if !strings.HasPrefix(sc.Route.PathPrefix, "/") {
			return errors.Errorf("service %q route prefix must start with /", sc.Name)
		}
		if prefixes[sc.Route.PathPrefix] {
			return errors.Errorf("route prefix %q used twice", sc.Route.PathPrefix)
		}
		prefixes[sc.Route.PathPrefix] = true
	}

	switch c.Fleet.Type {
	case "", FleetLocal, FleetDocker:
	case FleetECS:
		if c.Fleet.ECS.Cluster == "" {
			return errors.New("ecs fleet needs a cluster")
		}
		if err := c.poolTargetGroups("ecs fleet", c.Fleet.ECS.TargetGroups); err != nil {
			return err
		}
	default:
		return errors.Errorf("unknown fleet type %q (try %s, %s or %s)", c.Fleet.Type, FleetLocal, FleetDocker, FleetECS)
	}

	switch c.Router.Type {
	case "", RouterInMem:
	case RouterALB:
		if c.Router.ALB.ListenerARN == "" {
			return errors.New("alb router needs a listener_arn")
		}
		if err := c.poolTargetGroups("alb router", c.Router.ALB.TargetGroups); err != nil {
			return err
		}
	default:
		return errors.Errorf("unknown router type %q (try %s or %s)", c.Router.Type, RouterInMem, RouterALB)
	}

	return nil
}

func (c Config) poolTargetGroups(section string, tgs map[string]string) error {
	for _, sc := range c.Services {
		for _, color := range []pool.Color{pool.Blue, pool.Green} {
			id := sc.Service.Pool(color).String()
			if tgs[id] == "" {
				return errors.Errorf("%s has no target group for pool %q", section, id)
			}
		}
	}
	return nil
}
