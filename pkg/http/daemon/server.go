package daemon

import (
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/weaveworks/common/middleware"

	"github.com/ragchat/bluegreen/pkg/api"
	"github.com/ragchat/bluegreen/pkg/api/v1"
	"github.com/ragchat/bluegreen/pkg/event"
	transport "github.com/ragchat/bluegreen/pkg/http"
	"github.com/ragchat/bluegreen/pkg/http/websocket"
	"github.com/ragchat/bluegreen/pkg/job"
	bgmetrics "github.com/ragchat/bluegreen/pkg/metrics"
)

var (
	requestDuration = stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
		Namespace: "bluegreen",
		Name:      "request_duration_seconds",
		Help:      "Time (in seconds) spent serving HTTP requests.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{bgmetrics.LabelMethod, bgmetrics.LabelRoute, "status_code", "ws"})
)

// Size of the channel buffer for each websocket event subscriber. A
// subscriber further behind than this starts losing events.
const watchEventBuffer = 64

// An API server for the daemon
func NewRouter() *mux.Router {
	r := transport.NewAPIRouter()

	// We assume every request that doesn't match a route is a client
	// calling an old or hitherto unsupported API.
	r.NewRoute().Name("NotFound").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transport.WriteError(w, r, http.StatusNotFound, transport.MakeAPINotFound(r.URL.Path))
	})

	return r
}

func NewHandler(s api.Server, r *mux.Router, broker *event.Broker) http.Handler {
	handle := HTTPServer{s, broker}

	r.Get(transport.Ping).HandlerFunc(handle.Ping)
	r.Get(transport.Version).HandlerFunc(handle.Version)
	r.Get(transport.Release).HandlerFunc(handle.Release)
	r.Get(transport.RunStatus).HandlerFunc(handle.RunStatus)
	r.Get(transport.ListRuns).HandlerFunc(handle.ListRuns)
	r.Get(transport.ListServices).HandlerFunc(handle.ListServices)
	r.Get(transport.Rollback).HandlerFunc(handle.Rollback)
	r.Get(transport.Events).HandlerFunc(handle.Events)
	r.Get(transport.WatchEvents).HandlerFunc(handle.WatchEvents)

	return middleware.Instrument{
		RouteMatcher: r,
		Duration:     requestDuration,
	}.Wrap(r)
}

type HTTPServer struct {
	server api.Server
	broker *event.Broker
}

func (s HTTPServer) Ping(w http.ResponseWriter, r *http.Request) {
	if err := s.server.Ping(r.Context()); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	return
}

func (s HTTPServer) Version(w http.ResponseWriter, r *http.Request) {
	version, err := s.server.Version(r.Context())
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, version)
}

func (s HTTPServer) Release(w http.ResponseWriter, r *http.Request) {
	var spec v1.ReleaseSpec
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		transport.WriteError(w, r, http.StatusBadRequest, err)
		return
	}
	jobID, err := s.server.Release(r.Context(), spec)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, jobID)
}

func (s HTTPServer) RunStatus(w http.ResponseWriter, r *http.Request) {
	id := job.ID(mux.Vars(r)["id"])
	status, err := s.server.RunStatus(r.Context(), id)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, status)
}

func (s HTTPServer) ListRuns(w http.ResponseWriter, r *http.Request) {
	var limit int
	if l := r.URL.Query().Get("limit"); l != "" {
		var err error
		limit, err = strconv.Atoi(l)
		if err != nil {
			transport.WriteError(w, r, http.StatusBadRequest, errors.Wrapf(err, "parsing limit %q", l))
			return
		}
	}

	runs, err := s.server.ListRuns(r.Context(), limit)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, runs)
}

func (s HTTPServer) ListServices(w http.ResponseWriter, r *http.Request) {
	res, err := s.server.ListServices(r.Context())
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, res)
}

func (s HTTPServer) Rollback(w http.ResponseWriter, r *http.Request) {
	var spec v1.RollbackSpec
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		transport.WriteError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.server.Rollback(r.Context(), spec); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s HTTPServer) Events(w http.ResponseWriter, r *http.Request) {
	opts, err := parseEventsOptions(r)
	if err != nil {
		transport.WriteError(w, r, http.StatusBadRequest, err)
		return
	}

	events, err := s.server.Events(r.Context(), opts)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, events)
}

// WatchEvents upgrades the connection to a websocket and streams each
// event as a JSON document as it happens. For events before the
// connection was made, use the events endpoint with `after`.
func (s HTTPServer) WatchEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		return
	}
	defer ws.Close()

	events, cancel := s.broker.Subscribe(watchEventBuffer)
	defer cancel()

	// The client isn't expected to send anything, but reading is how
	// close frames get noticed.
	go func() {
		io.Copy(ioutil.Discard, ws)
		cancel()
	}()

	enc := json.NewEncoder(ws)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			return
		}
	}
}

func parseEventsOptions(r *http.Request) (v1.EventsOptions, error) {
	var opts v1.EventsOptions
	q := r.URL.Query()

	if after := q.Get("after"); after != "" {
		id, err := strconv.ParseInt(after, 10, 64)
		if err != nil {
			return opts, errors.Wrapf(err, "parsing after %q", after)
		}
		opts.After = event.EventID(id)
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.ParseInt(limit, 10, 64)
		if err != nil {
			return opts, errors.Wrapf(err, "parsing limit %q", limit)
		}
		opts.Limit = n
	}
	opts.Service = q.Get("service")
	return opts, nil
}
