// Package docker runs pools as labelled containers on a Docker
// engine. Each replica is one container, named `<pool>-<index>` and
// attached to a shared network; replica health is container state
// plus an HTTP probe of the service's health endpoint over that
// network. Suitable for a single-host deployment where the daemon can
// reach the container network.
package docker

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/ragchat/bluegreen/pkg/fleet"
	"github.com/ragchat/bluegreen/pkg/image"
	"github.com/ragchat/bluegreen/pkg/pool"
	"github.com/ragchat/bluegreen/pkg/probe"
	"github.com/ragchat/bluegreen/pkg/service"
)

const (
	// labelPool marks a container as belonging to a pool; the value
	// is the pool ID. Containers without the label are invisible to
	// the fleet.
	labelPool = "bluegreen.pool"
	// labelReplica carries the replica's index within its pool.
	labelReplica = "bluegreen.replica"

	stopTimeout  = 10 * time.Second
	probeTimeout = 5 * time.Second
)

// engineAPI is the slice of the Docker engine client the fleet uses.
type engineAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, containerName string) (container.ContainerCreateCreatedBody, error)
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerStop(ctx context.Context, containerID string, timeout *time.Duration) error
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
	ContainerList(ctx context.Context, options types.ContainerListOptions) ([]types.Container, error)
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ImagePull(ctx context.Context, refStr string, options types.ImagePullOptions) (io.ReadCloser, error)
	Ping(ctx context.Context) (types.Ping, error)
}

type Fleet struct {
	client  engineAPI
	network string
	checks  map[string]service.HealthCheck
	prober  *probe.Prober
	logger  log.Logger
}

var _ fleet.Manager = &Fleet{}

// NewFleet connects to the Docker engine at host (empty means the
// client's usual environment handling, e.g. DOCKER_HOST) and manages
// pools for the catalog's services on the named network.
func NewFleet(host, network string, catalog service.Catalog, prober *probe.Prober, logger log.Logger) (*Fleet, error) {
	opts := []client.Opt{client.FromEnv}
	if host != "" {
		opts = []client.Opt{client.WithHost(host)}
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to docker engine")
	}
	cli.NegotiateAPIVersion(context.Background())
	return newFleet(cli, network, catalog, prober, logger), nil
}

func newFleet(cli engineAPI, network string, catalog service.Catalog, prober *probe.Prober, logger log.Logger) *Fleet {
	checks := map[string]service.HealthCheck{}
	for _, s := range catalog {
		checks[s.Name] = s.Health
	}
	return &Fleet{
		client:  cli,
		network: network,
		checks:  checks,
		prober:  prober,
		logger:  logger,
	}
}

// Provision replaces the pool's containers with `replicas` fresh ones
// running img. Replacement rather than in-place update: the pool is
// idle when this is called, so there is no traffic to preserve.
func (f *Fleet) Provision(ctx context.Context, id pool.ID, img image.Ref, replicas int) error {
	check, err := f.check(id)
	if err != nil {
		return err
	}
	if err := f.pull(ctx, img); err != nil {
		f.logger.Log("warning", "image pull failed; will try local images", "image", img.String(), "err", err)
	}
	existing, err := f.poolContainers(ctx, id)
	if err != nil {
		return err
	}
	if err := f.remove(ctx, existing); err != nil {
		return err
	}
	for i := 0; i < replicas; i++ {
		if err := f.run(ctx, id, img.String(), i, check.Port); err != nil {
			return err
		}
	}
	return nil
}

// Health lists the pool's containers and probes each running one. A
// container that is not running reports its engine status (e.g.
// "Exited (1) 2 minutes ago") as the detail.
func (f *Fleet) Health(ctx context.Context, id pool.ID) ([]fleet.ReplicaStatus, error) {
	check, err := f.check(id)
	if err != nil {
		return nil, err
	}
	cs, err := f.poolContainers(ctx, id)
	if err != nil {
		return nil, err
	}
	var statuses []fleet.ReplicaStatus
	for _, c := range cs {
		st := fleet.ReplicaStatus{ID: containerName(c)}
		if c.State != "running" {
			st.Detail = c.Status
			statuses = append(statuses, st)
			continue
		}
		addr, err := f.address(ctx, c.ID)
		if err != nil {
			st.Detail = err.Error()
			statuses = append(statuses, st)
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err = f.prober.Probe(probeCtx, fmt.Sprintf("http://%s:%d%s", addr, check.Port, check.Path))
		cancel()
		if err != nil {
			st.Detail = err.Error()
		} else {
			st.Healthy = true
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// Scale adds or removes containers to reach `replicas`. Added
// replicas run the image the pool already runs; removed ones are the
// highest-indexed.
func (f *Fleet) Scale(ctx context.Context, id pool.ID, replicas int) error {
	cs, err := f.poolContainers(ctx, id)
	if err != nil {
		return err
	}
	if len(cs) == 0 {
		if replicas == 0 {
			return nil
		}
		return errors.Errorf("pool %s has never been provisioned", id)
	}
	if len(cs) > replicas {
		return f.remove(ctx, cs[replicas:])
	}
	check, err := f.check(id)
	if err != nil {
		return err
	}
	img := cs[0].Image
	for i := len(cs); i < replicas; i++ {
		if err := f.run(ctx, id, img, i, check.Port); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fleet) Ping(ctx context.Context) error {
	_, err := f.client.Ping(ctx)
	return errors.Wrap(err, "pinging docker engine")
}

func (f *Fleet) check(id pool.ID) (service.HealthCheck, error) {
	check, ok := f.checks[id.Service]
	if !ok {
		return service.HealthCheck{}, errors.Errorf("no health check configured for service %s", id.Service)
	}
	return check, nil
}

func (f *Fleet) pull(ctx context.Context, img image.Ref) error {
	rc, err := f.client.ImagePull(ctx, img.String(), types.ImagePullOptions{})
	if err != nil {
		return err
	}
	defer rc.Close()
	// The body streams progress messages; the pull is not complete
	// until EOF.
	_, err = io.Copy(ioutil.Discard, rc)
	return err
}

func (f *Fleet) run(ctx context.Context, id pool.ID, img string, index, port int) error {
	name := fmt.Sprintf("%s-%d", id, index)
	config := &container.Config{
		Image: img,
		Labels: map[string]string{
			labelPool:    id.String(),
			labelReplica: strconv.Itoa(index),
		},
		ExposedPorts: nat.PortSet{
			nat.Port(fmt.Sprintf("%d/tcp", port)): struct{}{},
		},
	}
	hostConfig := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
	}
	networking := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			f.network: {},
		},
	}
	created, err := f.client.ContainerCreate(ctx, config, hostConfig, networking, name)
	if err != nil {
		return errors.Wrapf(err, "creating container %s", name)
	}
	if err := f.client.ContainerStart(ctx, created.ID, types.ContainerStartOptions{}); err != nil {
		return errors.Wrapf(err, "starting container %s", name)
	}
	return nil
}

func (f *Fleet) remove(ctx context.Context, cs []types.Container) error {
	for _, c := range cs {
		timeout := stopTimeout
		if err := f.client.ContainerStop(ctx, c.ID, &timeout); err != nil {
			f.logger.Log("warning", "stopping container", "container", containerName(c), "err", err)
		}
		if err := f.client.ContainerRemove(ctx, c.ID, types.ContainerRemoveOptions{Force: true}); err != nil {
			return errors.Wrapf(err, "removing container %s", containerName(c))
		}
	}
	return nil
}

func (f *Fleet) address(ctx context.Context, containerID string) (string, error) {
	info, err := f.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", errors.Wrap(err, "inspecting container")
	}
	if info.NetworkSettings != nil {
		if ep, ok := info.NetworkSettings.Networks[f.network]; ok && ep.IPAddress != "" {
			return ep.IPAddress, nil
		}
	}
	return "", errors.Errorf("not attached to network %s", f.network)
}

func (f *Fleet) poolContainers(ctx context.Context, id pool.ID) ([]types.Container, error) {
	args := filters.NewArgs()
	args.Add("label", labelPool+"="+id.String())
	cs, err := f.client.ContainerList(ctx, types.ContainerListOptions{All: true, Filters: args})
	if err != nil {
		return nil, errors.Wrapf(err, "listing containers of pool %s", id)
	}
	sort.Slice(cs, func(i, j int) bool { return replicaIndex(cs[i]) < replicaIndex(cs[j]) })
	return cs, nil
}

func replicaIndex(c types.Container) int {
	n, _ := strconv.Atoi(c.Labels[labelReplica])
	return n
}

func containerName(c types.Container) string {
	if len(c.Names) > 0 {
		return strings.TrimPrefix(c.Names[0], "/")
	}
	if len(c.ID) > 12 {
		return c.ID[:12]
	}
	return c.ID
}
