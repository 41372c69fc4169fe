package smoketest

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	spatialhttp "github.com/aukilabs/spatial/http"
	"github.com/aukilabs/spatial/models"
	"github.com/aukilabs/spatial/quadtree"
	swebsocket "github.com/aukilabs/spatial/websocket"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func newTestServer(t *testing.T) (*httptest.Server, *models.World) {
	world, err := models.NewWorld(quadtree.NewRect(0, 0, 100, 100), time.Millisecond*10)
	require.NoError(t, err)
	go world.StartDispatchFrames()
	t.Cleanup(world.Close)

	var mux http.ServeMux
	mux.HandleFunc("/nodes", spatialhttp.HandleNodes(world))
	mux.HandleFunc("/bodies", spatialhttp.HandleSpawn(world))
	mux.HandleFunc("/query", spatialhttp.HandleQuery(world))
	mux.Handle("/viewer", websocket.Server{
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			h := &swebsocket.ViewerHandler{
				World:             world,
				ClientIdleTimeout: time.Second,
			}
			defer h.Close()

			swebsocket.Handle(context.Background(), conn, h)
		},
	})

	server := httptest.NewServer(&mux)
	t.Cleanup(server.Close)
	return server, world
}

func TestRun(t *testing.T) {
	t.Run("smoke test success", func(t *testing.T) {
		server, world := newTestServer(t)

		res, err := Run(context.Background(), Options{
			Endpoint:  "http://localspatial",
			UserAgent: "spatial-test",
		}, Request{
			Endpoint: server.URL,
			Timeout:  time.Second * 2,
		})
		require.NoError(t, err)
		require.Equal(t, StatusSuccess, res.Status)
		require.Equal(t, "http://localspatial", res.FromEndpoint)
		require.Equal(t, server.URL, res.ToEndpoint)
		require.Greater(t, res.LatencyMilliSec, float64(0))
		require.Empty(t, res.Error)
		require.Zero(t, world.BodyCount())
	})

	t.Run("smoke test failed - offline", func(t *testing.T) {
		res, err := Run(context.Background(), Options{
			Endpoint: "http://localspatial",
		}, Request{
			Endpoint: "http://127.0.0.1:1",
			Timeout:  time.Second,
		})
		require.Error(t, err)
		require.Equal(t, StatusFailed, res.Status)
		require.Zero(t, res.LatencyMilliSec)
		require.NotEmpty(t, res.Error)
	})
}

func TestHandleSmokeTest(t *testing.T) {
	server, _ := newTestServer(t)

	results := make(chan Results, 1)
	smokeTest := HandleSmokeTest(context.Background(), Options{
		Endpoint: "http://localspatial",
		SendResult: func(_ context.Context, res Results) error {
			results <- res
			return nil
		},
	})

	t.Run("bad request", func(t *testing.T) {
		rec := httptest.NewRecorder()
		smokeTest.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/smoke-test", bytes.NewBufferString(`{}`)))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		smokeTest.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/smoke-test", nil))
		require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("results are sent", func(t *testing.T) {
		body, err := json.Marshal(Request{
			Endpoint: server.URL,
			Timeout:  time.Second * 2,
		})
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		smokeTest.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/smoke-test", bytes.NewBuffer(body)))
		require.Equal(t, http.StatusAccepted, rec.Code)

		select {
		case res := <-results:
			require.Equal(t, StatusSuccess, res.Status)
			require.Equal(t, server.URL, res.ToEndpoint)

		case <-time.After(time.Second * 5):
			t.Fatal("no smoke test result")
		}
	})
}
