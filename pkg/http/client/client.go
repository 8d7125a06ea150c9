package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/ragchat/bluegreen/pkg/api"
	"github.com/ragchat/bluegreen/pkg/api/v1"
	bgerr "github.com/ragchat/bluegreen/pkg/errors"
	"github.com/ragchat/bluegreen/pkg/event"
	transport "github.com/ragchat/bluegreen/pkg/http"
	"github.com/ragchat/bluegreen/pkg/http/websocket"
	"github.com/ragchat/bluegreen/pkg/job"
)

const userAgent = "bluegreen-client"

type Client struct {
	client   *http.Client
	token    transport.Token
	router   *mux.Router
	endpoint string
}

var _ api.Server = &Client{}

func New(c *http.Client, router *mux.Router, endpoint string, t transport.Token) *Client {
	return &Client{
		client:   c,
		token:    t,
		router:   router,
		endpoint: endpoint,
	}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.Get(ctx, nil, transport.Ping)
}

func (c *Client) Version(ctx context.Context) (string, error) {
	var v string
	err := c.Get(ctx, &v, transport.Version)
	return v, err
}

func (c *Client) Release(ctx context.Context, spec v1.ReleaseSpec) (job.ID, error) {
	var res job.ID
	err := c.methodWithResp(ctx, "POST", &res, transport.Release, spec)
	return res, err
}

func (c *Client) RunStatus(ctx context.Context, id job.ID) (job.Status, error) {
	var res job.Status
	err := c.Get(ctx, &res, transport.RunStatus, "id", string(id))
	return res, err
}

func (c *Client) ListRuns(ctx context.Context, limit int) ([]job.Status, error) {
	var res []job.Status
	err := c.Get(ctx, &res, transport.ListRuns, "limit", strconv.Itoa(limit))
	return res, err
}

func (c *Client) ListServices(ctx context.Context) ([]v1.ServiceStatus, error) {
	var res []v1.ServiceStatus
	err := c.Get(ctx, &res, transport.ListServices)
	return res, err
}

func (c *Client) Rollback(ctx context.Context, spec v1.RollbackSpec) error {
	return c.PostWithBody(ctx, transport.Rollback, spec)
}

func (c *Client) Events(ctx context.Context, opts v1.EventsOptions) ([]event.Event, error) {
	var res []event.Event
	err := c.Get(ctx, &res, transport.Events,
		"after", strconv.FormatInt(int64(opts.After), 10),
		"service", opts.Service,
		"limit", strconv.FormatInt(opts.Limit, 10))
	return res, err
}

// WatchEvents opens a websocket to the daemon and forwards each event
// to the channel as it arrives, returning when the connection closes
// or ctx is done. Events logged before the connection was made are not
// replayed; use Events with `after` for those.
func (c *Client) WatchEvents(ctx context.Context, events chan<- event.Event) error {
	u, err := transport.MakeURL(c.endpoint, c.router, transport.WatchEvents)
	if err != nil {
		return errors.Wrap(err, "constructing URL")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	ws, err := websocket.Dial(c.client, userAgent, c.token, u)
	if err != nil {
		return errors.Wrapf(err, "connecting to %s", u)
	}
	defer ws.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-done:
		}
	}()

	dec := json.NewDecoder(ws)
	for {
		var ev event.Event
		if err := dec.Decode(&ev); err != nil {
			if websocket.IsExpectedWSCloseError(err) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return nil
		}
	}
}

// --- Request helpers

// Post is a simple query-param only post request
func (c *Client) Post(ctx context.Context, route string, queryParams ...string) error {
	return c.PostWithBody(ctx, route, nil, queryParams...)
}

// PostWithBody is a more complex post request, which includes a json-ified body.
// If body is not nil, it is encoded to json before sending
func (c *Client) PostWithBody(ctx context.Context, route string, body interface{}, queryParams ...string) error {
	return c.methodWithResp(ctx, "POST", nil, route, body, queryParams...)
}

// methodWithResp is the full enchilada, it handles body and query-param
// encoding, as well as decoding the response into the provided destination.
// Note, the response will only be decoded into the dest if the len is > 0.
func (c *Client) methodWithResp(ctx context.Context, method string, dest interface{}, route string, body interface{}, queryParams ...string) error {
	u, err := transport.MakeURL(c.endpoint, c.router, route, queryParams...)
	if err != nil {
		return errors.Wrap(err, "constructing URL")
	}

	var bodyBytes []byte
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
	}

	req, err := http.NewRequest(method, u.String(), bytes.NewReader(bodyBytes))
	if err != nil {
		return errors.Wrapf(err, "constructing request %s", u)
	}
	req = req.WithContext(ctx)

	c.token.Set(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.executeRequest(req)
	if err != nil {
		return errors.Wrap(err, "executing HTTP request")
	}
	defer resp.Body.Close()

	respBytes, err := ioutil.ReadAll(resp.Body)

	if err != nil {
		return errors.Wrap(err, "decoding response from server")
	}
	if len(respBytes) <= 0 {
		return nil
	}
	if err := json.Unmarshal(respBytes, &dest); err != nil {
		return errors.Wrap(err, "decoding response from server")
	}
	return nil
}

// Get executes a get request against the daemon. It unmarshals the
// response into dest, if not nil.
func (c *Client) Get(ctx context.Context, dest interface{}, route string, queryParams ...string) error {
	u, err := transport.MakeURL(c.endpoint, c.router, route, queryParams...)
	if err != nil {
		return errors.Wrap(err, "constructing URL")
	}

	req, err := http.NewRequest("GET", u.String(), nil)
	if err != nil {
		return errors.Wrapf(err, "constructing request %s", u)
	}
	req = req.WithContext(ctx)

	c.token.Set(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.executeRequest(req)
	if err != nil {
		return errors.Wrap(err, "executing HTTP request")
	}
	defer resp.Body.Close()

	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return errors.Wrap(err, "decoding response from server")
		}
	}
	return nil
}

func (c *Client) executeRequest(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "executing HTTP request")
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent, http.StatusAccepted:
		return resp, nil
	case http.StatusUnauthorized:
		return resp, transport.ErrorUnauthorized
	default:
		body, err := ioutil.ReadAll(resp.Body)
		if err != nil {
			return resp, errors.Wrap(err, "reading response body of error")
		}
		// Use the content type to discriminate between our own JSON
		// errors and "any old error".
		if strings.HasPrefix(resp.Header.Get(http.CanonicalHeaderKey("Content-Type")), "application/json") {
			var niceError bgerr.Error
			if err := json.Unmarshal(body, &niceError); err != nil {
				return resp, errors.Wrap(err, "decoding response body of error")
			}
			// just in case it's JSON but not one of our own errors
			if niceError.Err != nil {
				return resp, &niceError
			}
			// fallthrough
		}
		return resp, errors.New(resp.Status + " " + string(body))
	}
}
