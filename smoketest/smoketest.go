// Package smoketest checks that a spatial server answers end to end: it
// spawns a body, watches it through a viewer connection, finds it with an
// area query and removes it.
package smoketest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/spatial/models"
	"github.com/aukilabs/spatial/quadtree"
	swebsocket "github.com/aukilabs/spatial/websocket"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"

	ErrTypeSmokeTest = "smoke-test-failed"

	defaultTimeout = time.Second * 10
)

type Options struct {
	// The public endpoint of the server running the smoke test.
	Endpoint string

	// The user agent set on outgoing requests.
	UserAgent string

	// The transport used for HTTP requests. http.DefaultTransport when nil.
	Transport http.RoundTripper

	// Called with the results of each smoke test.
	SendResult func(context.Context, Results) error
}

type Request struct {
	// The endpoint of the spatial server to test.
	Endpoint string `json:"endpoint"`

	// The maximum duration of the test. Defaults to 10s.
	Timeout time.Duration `json:"timeout"`
}

type Results struct {
	FromEndpoint    string  `json:"from_endpoint"`
	ToEndpoint      string  `json:"to_endpoint"`
	Status          string  `json:"status"`
	LatencyMilliSec float64 `json:"latency_ms"`
	Error           string  `json:"error,omitempty"`
}

// HandleSmokeTest starts a smoke test against the endpoint given in the
// request body. The test runs in the background and its results are passed
// to opts.SendResult.
func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		b, err := io.ReadAll(r.Body)
		if err != nil {
			logs.Warn(errors.New("reading body failed").Wrap(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var req Request
		if err := json.Unmarshal(b, &req); err != nil || req.Endpoint == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		go func() {
			res, err := Run(ctx, opts, req)
			if err != nil {
				logs.Warn(err)
			}

			if opts.SendResult == nil {
				return
			}

			if err := opts.SendResult(ctx, res); err != nil {
				logs.WithTag("from_endpoint", opts.Endpoint).
					WithTag("to_endpoint", req.Endpoint).
					Warn(errors.New("sending smoke test result failed").Wrap(err))
			}
		}()

		w.WriteHeader(http.StatusAccepted)
	}
}

// Run runs a smoke test against req.Endpoint. The latency is the time between
// setting a viewport and receiving the bodies it contains.
func Run(ctx context.Context, opts Options, req Request) (Results, error) {
	res := Results{
		FromEndpoint: opts.Endpoint,
		ToEndpoint:   req.Endpoint,
		Status:       StatusFailed,
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := client{
		endpoint:  strings.TrimSuffix(req.Endpoint, "/"),
		userAgent: opts.UserAgent,
		http:      &http.Client{Transport: opts.Transport},
	}

	latency, err := c.run(ctx)
	if err != nil {
		err = errors.New("smoke test failed").
			WithType(ErrTypeSmokeTest).
			WithTag("from_endpoint", opts.Endpoint).
			WithTag("to_endpoint", req.Endpoint).
			Wrap(err)
		res.Error = err.Error()
		return res, err
	}

	res.Status = StatusSuccess
	res.LatencyMilliSec = float64(latency) / float64(time.Millisecond)

	logs.WithTag("to_endpoint", req.Endpoint).
		WithTag("latency_ms", res.LatencyMilliSec).
		Info("smoke test succeeded")
	return res, nil
}

type client struct {
	endpoint  string
	userAgent string
	http      *http.Client
}

func (c client) run(ctx context.Context) (time.Duration, error) {
	var nodes []quadtree.NodeInfo
	if err := c.do(ctx, http.MethodGet, "/nodes", nil, http.StatusOK, &nodes); err != nil {
		return 0, err
	}
	if len(nodes) == 0 {
		return 0, errors.New("world has no root node")
	}
	cx, cy := nodes[0].Bounds.Center()

	var body models.BodyView
	if err := c.do(ctx, http.MethodPost, "/bodies", map[string]float64{
		"x": cx,
		"y": cy,
		"w": 1,
		"h": 1,
	}, http.StatusCreated, &body); err != nil {
		return 0, err
	}
	defer func() {
		path := fmt.Sprintf("/bodies?id=%d", body.ID)
		if err := c.do(context.Background(), http.MethodDelete, path, nil, http.StatusNoContent, nil); err != nil {
			logs.Warn(errors.New("removing smoke test body failed").
				WithTag("body_id", body.ID).
				Wrap(err))
		}
	}()

	area := quadtree.NewRect(cx-1, cy-1, 2, 2)

	latency, err := c.watch(ctx, area, body.ID)
	if err != nil {
		return 0, err
	}

	var found []models.BodyView
	path := fmt.Sprintf("/query?x=%g&y=%g&w=%g&h=%g", area.X, area.Y, area.W, area.H)
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &found); err != nil {
		return 0, err
	}
	if !containsBody(found, body.ID) {
		return 0, errors.New("spawned body not found by query").
			WithTag("body_id", body.ID).
			WithTag("area", area)
	}

	return latency, nil
}

// watch opens a viewer connection on area and waits for a bodies message
// containing the given body.
func (c client) watch(ctx context.Context, area quadtree.Rect, id uint32) (time.Duration, error) {
	wsEndpoint := strings.Replace(c.endpoint, "http", "ws", 1) + "/viewer"

	config, err := websocket.NewConfig(wsEndpoint, c.endpoint)
	if err != nil {
		return 0, errors.New("creating viewer config failed").Wrap(err)
	}
	if c.userAgent != "" {
		config.Header.Set("User-Agent", c.userAgent)
	}

	conn, err := config.DialContext(ctx)
	if err != nil {
		return 0, errors.New("dialing viewer failed").
			WithTag("endpoint", wsEndpoint).
			Wrap(err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	viewport, err := json.Marshal(swebsocket.Msg{
		Type: swebsocket.MsgTypeViewport,
		Area: &area,
	})
	if err != nil {
		return 0, errors.New("encoding viewport failed").Wrap(err)
	}

	start := time.Now()
	if err := websocket.Message.Send(conn, string(viewport)); err != nil {
		return 0, errors.New("sending viewport failed").Wrap(err)
	}

	for {
		var data []byte
		if err := websocket.Message.Receive(conn, &data); err != nil {
			return 0, errors.New("receiving bodies failed").Wrap(err)
		}

		var msg swebsocket.Msg
		if err := json.Unmarshal(data, &msg); err != nil {
			return 0, errors.New("decoding viewer message failed").Wrap(err)
		}

		switch msg.Type {
		case swebsocket.MsgTypeError:
			return 0, errors.New("viewer error").WithTag("error", msg.Error)

		case swebsocket.MsgTypeBodies:
			if containsBody(msg.Bodies, id) {
				return time.Since(start), nil
			}
		}
	}
}

func (c client) do(ctx context.Context, method, path string, in any, status int, out any) error {
	var reqBody io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.New("encoding request failed").Wrap(err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reqBody)
	if err != nil {
		return errors.New("creating request failed").Wrap(err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return errors.New("request failed").
			WithTag("method", method).
			WithTag("path", path).
			Wrap(err)
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.New("reading response failed").Wrap(err)
	}

	if res.StatusCode != status {
		return errors.New("unexpected status code").
			WithTag("method", method).
			WithTag("path", path).
			WithTag("status", res.StatusCode).
			WithTag("body", string(b))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return errors.New("decoding response failed").
			WithTag("path", path).
			Wrap(err)
	}
	return nil
}

func containsBody(bodies []models.BodyView, id uint32) bool {
	for _, b := range bodies {
		if b.ID == id {
			return true
		}
	}
	return false
}
