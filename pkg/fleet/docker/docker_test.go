package docker

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragchat/bluegreen/pkg/fleet"
	"github.com/ragchat/bluegreen/pkg/image"
	"github.com/ragchat/bluegreen/pkg/pool"
	"github.com/ragchat/bluegreen/pkg/probe"
	"github.com/ragchat/bluegreen/pkg/service"
)

var backendBlue = pool.MakeID("backend", pool.Blue)

type createCall struct {
	name       string
	config     *container.Config
	host       *container.HostConfig
	networking *network.NetworkingConfig
}

type fakeEngine struct {
	containers []types.Container
	// addresses maps container ID to its IP on the test network.
	addresses map[string]string

	pulled  []string
	created []createCall
	started []string
	stopped []string
	removed []string
}

func (e *fakeEngine) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, name string) (container.ContainerCreateCreatedBody, error) {
	e.created = append(e.created, createCall{name, config, hostConfig, networkingConfig})
	return container.ContainerCreateCreatedBody{ID: "ctr-" + name}, nil
}

func (e *fakeEngine) ContainerStart(ctx context.Context, id string, _ types.ContainerStartOptions) error {
	e.started = append(e.started, id)
	return nil
}

func (e *fakeEngine) ContainerStop(ctx context.Context, id string, _ *time.Duration) error {
	e.stopped = append(e.stopped, id)
	return nil
}

func (e *fakeEngine) ContainerRemove(ctx context.Context, id string, _ types.ContainerRemoveOptions) error {
	e.removed = append(e.removed, id)
	return nil
}

func (e *fakeEngine) ContainerList(ctx context.Context, opts types.ContainerListOptions) ([]types.Container, error) {
	var out []types.Container
	for _, c := range e.containers {
		if matchesLabels(c, opts.Filters.Get("label")) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (e *fakeEngine) ContainerInspect(ctx context.Context, id string) (types.ContainerJSON, error) {
	return types.ContainerJSON{
		NetworkSettings: &types.NetworkSettings{
			Networks: map[string]*network.EndpointSettings{
				"testnet": {IPAddress: e.addresses[id]},
			},
		},
	}, nil
}

func (e *fakeEngine) ImagePull(ctx context.Context, ref string, _ types.ImagePullOptions) (io.ReadCloser, error) {
	e.pulled = append(e.pulled, ref)
	return ioutil.NopCloser(strings.NewReader("{}")), nil
}

func (e *fakeEngine) Ping(ctx context.Context) (types.Ping, error) {
	return types.Ping{}, nil
}

func matchesLabels(c types.Container, labels []string) bool {
	for _, l := range labels {
		kv := strings.SplitN(l, "=", 2)
		if len(kv) != 2 || c.Labels[kv[0]] != kv[1] {
			return false
		}
	}
	return true
}

func testContainer(id pool.ID, index int, state, status, img string) types.Container {
	name := fmt.Sprintf("%s-%d", id, index)
	return types.Container{
		ID:     "ctr-" + name,
		Names:  []string{"/" + name},
		Image:  img,
		State:  state,
		Status: status,
		Labels: map[string]string{
			labelPool:    id.String(),
			labelReplica: strconv.Itoa(index),
		},
	}
}

func testCatalog(port int) service.Catalog {
	return service.Catalog{{
		Name:     "backend",
		Replicas: 2,
		Health:   service.HealthCheck{Path: "/health", Port: port},
		Route:    service.Route{PathPrefix: "/api"},
	}}
}

func testFleet(e *fakeEngine, catalog service.Catalog) *Fleet {
	return newFleet(e, "testnet", catalog, probe.NewProber(100, 10, log.NewNopLogger()), log.NewNopLogger())
}

func serverPort(t *testing.T, srv *httptest.Server) int {
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func TestProvisionReplacesPool(t *testing.T) {
	stale := testContainer(backendBlue, 0, "running", "Up 2 hours", "registry.example.com/acme/backend:v1")
	e := &fakeEngine{containers: []types.Container{stale}}
	f := testFleet(e, testCatalog(8000))

	img := image.MustParseRef("registry.example.com/acme/backend:v2")
	require.NoError(t, f.Provision(context.Background(), backendBlue, img, 2))

	assert.Equal(t, []string{img.String()}, e.pulled)
	assert.Equal(t, []string{stale.ID}, e.stopped)
	assert.Equal(t, []string{stale.ID}, e.removed)

	require.Len(t, e.created, 2)
	assert.Equal(t, "backend-blue-0", e.created[0].name)
	assert.Equal(t, "backend-blue-1", e.created[1].name)
	assert.Equal(t, img.String(), e.created[0].config.Image)
	assert.Equal(t, "backend-blue", e.created[0].config.Labels[labelPool])
	assert.Equal(t, "1", e.created[1].config.Labels[labelReplica])
	_, onNetwork := e.created[0].networking.EndpointsConfig["testnet"]
	assert.True(t, onNetwork)
	assert.Equal(t, []string{"ctr-backend-blue-0", "ctr-backend-blue-1"}, e.started)
}

func TestHealthProbesReplicas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	running := testContainer(backendBlue, 0, "running", "Up 10 seconds", "img")
	exited := testContainer(backendBlue, 1, "exited", "Exited (1) 5 seconds ago", "img")
	e := &fakeEngine{
		containers: []types.Container{running, exited},
		addresses:  map[string]string{running.ID: "127.0.0.1"},
	}
	f := testFleet(e, testCatalog(serverPort(t, srv)))

	statuses, err := f.Health(context.Background(), backendBlue)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, fleet.ReplicaStatus{ID: "backend-blue-0", Healthy: true}, statuses[0])
	assert.False(t, statuses[1].Healthy)
	assert.Equal(t, "Exited (1) 5 seconds ago", statuses[1].Detail)
	assert.Equal(t, 1, fleet.CountHealthy(statuses))
}

func TestHealthReportsFailingCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "vector store unreachable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	running := testContainer(backendBlue, 0, "running", "Up 10 seconds", "img")
	e := &fakeEngine{
		containers: []types.Container{running},
		addresses:  map[string]string{running.ID: "127.0.0.1"},
	}
	f := testFleet(e, testCatalog(serverPort(t, srv)))

	statuses, err := f.Health(context.Background(), backendBlue)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].Healthy)
	assert.Contains(t, statuses[0].Detail, "503")
	assert.Contains(t, statuses[0].Detail, "vector store unreachable")
}

func TestScaleDownRemovesHighestIndexes(t *testing.T) {
	cs := []types.Container{
		testContainer(backendBlue, 0, "running", "Up", "img"),
		testContainer(backendBlue, 1, "running", "Up", "img"),
		testContainer(backendBlue, 2, "running", "Up", "img"),
	}
	// Engine listing order is arbitrary.
	e := &fakeEngine{containers: []types.Container{cs[2], cs[0], cs[1]}}
	f := testFleet(e, testCatalog(8000))

	require.NoError(t, f.Scale(context.Background(), backendBlue, 1))
	assert.Equal(t, []string{cs[1].ID, cs[2].ID}, e.removed)
	assert.Empty(t, e.created)
}

func TestScaleUpRunsPoolImage(t *testing.T) {
	e := &fakeEngine{containers: []types.Container{
		testContainer(backendBlue, 0, "running", "Up", "registry.example.com/acme/backend:v2"),
	}}
	f := testFleet(e, testCatalog(8000))

	require.NoError(t, f.Scale(context.Background(), backendBlue, 3))
	require.Len(t, e.created, 2)
	assert.Equal(t, "backend-blue-1", e.created[0].name)
	assert.Equal(t, "backend-blue-2", e.created[1].name)
	assert.Equal(t, "registry.example.com/acme/backend:v2", e.created[0].config.Image)
	assert.Empty(t, e.removed)
}

func TestScaleUnprovisionedPool(t *testing.T) {
	f := testFleet(&fakeEngine{}, testCatalog(8000))
	assert.NoError(t, f.Scale(context.Background(), backendBlue, 0))
	assert.Error(t, f.Scale(context.Background(), backendBlue, 2))
}
