package service

import (
	"github.com/pkg/errors"

	"github.com/ragchat/bluegreen/pkg/image"
	"github.com/ragchat/bluegreen/pkg/pool"
)

// HealthCheck says how to decide whether a single replica of a service
// is serving. The daemon (or the fleet it delegates to) probes
// http://<replica>:<port><path> and treats a 2xx response as a pass.
type HealthCheck struct {
	Path string `json:"path"`
	Port int    `json:"port"`
}

// Route is the slice of request space the shared router sends to a
// service. Longest prefix wins, so `/api` can shadow `/`.
type Route struct {
	PathPrefix string `json:"pathPrefix"`
}

// Service is one independently deployable unit behind the shared
// router. The set of services is fixed at startup and immutable for
// the lifetime of a pipeline run.
type Service struct {
	Name     string      `json:"name"`
	Image    image.Name  `json:"image"`
	Replicas int         `json:"replicas"`
	Health   HealthCheck `json:"health"`
	Route    Route       `json:"route"`
}

// Pool returns the ID of this service's pool of the given colour.
func (s Service) Pool(c pool.Color) pool.ID {
	return pool.MakeID(s.Name, c)
}

// Catalog is the ordered set of services the daemon manages. The order
// is the order services are deployed in within a run.
type Catalog []Service

// Find returns the named service, or an error naming the services that
// do exist.
func (c Catalog) Find(name string) (Service, error) {
	for _, s := range c {
		if s.Name == name {
			return s, nil
		}
	}
	return Service{}, errors.Errorf("unknown service %q; have %v", name, c.Names())
}

// Names returns the service names in catalog order.
func (c Catalog) Names() []string {
	names := make([]string, len(c))
	for i := range c {
		names[i] = c[i].Name
	}
	return names
}
