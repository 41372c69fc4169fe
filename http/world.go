package http

import (
	"io"
	"net/http"
	"strconv"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/spatial/models"
	"github.com/aukilabs/spatial/quadtree"
	"github.com/segmentio/encoding/json"
)

const (
	ErrTypeBadRequest = "http-bad-request"

	maxRequestBodySize = 1 << 12
)

// HandleQuery responds with the bodies overlapping the area given by the x,
// y, w and h query parameters. An optional limit caps the number of bodies.
func HandleQuery(world *models.World) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}

		area, err := areaFromQuery(r)
		if err != nil {
			badRequest(w, err)
			return
		}

		limit, err := limitFromQuery(r)
		if err != nil {
			badRequest(w, err)
			return
		}

		views := []models.BodyView{}
		world.QueryFunc(area, func(b *models.Body) bool {
			views = append(views, b.ToView())
			return limit == 0 || len(views) < limit
		})

		writeJSON(w, http.StatusOK, views)
	}
}

// HandleStats responds with the world statistics.
func HandleStats(world *models.World) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		writeJSON(w, http.StatusOK, world.Stats())
	}
}

// HandleNodes responds with the nodes of the world index, parents before
// children.
func HandleNodes(world *models.World) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		writeJSON(w, http.StatusOK, world.Nodes())
	}
}

type spawnRequest struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	W  float64 `json:"w"`
	H  float64 `json:"h"`
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

// HandleSpawn spawns a body on POST and removes the body identified by the id
// query parameter on DELETE.
func HandleSpawn(world *models.World) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			spawn(world, w, r)

		case http.MethodDelete:
			remove(world, w, r)

		default:
			methodNotAllowed(w, "POST, DELETE")
		}
	}
}

func spawn(world *models.World, w http.ResponseWriter, r *http.Request) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		badRequest(w, errors.New("reading body failed").
			WithType(ErrTypeBadRequest).
			Wrap(err))
		return
	}

	var req spawnRequest
	if err := json.Unmarshal(b, &req); err != nil {
		badRequest(w, errors.New("decoding body failed").
			WithType(ErrTypeBadRequest).
			Wrap(err))
		return
	}

	body, err := world.Spawn(
		models.Vector2{X: req.X, Y: req.Y},
		models.Vector2{X: req.W, Y: req.H},
		models.Vector2{X: req.VX, Y: req.VY},
	)
	if err != nil {
		badRequest(w, err)
		return
	}

	logs.WithTag("world_uuid", world.UUID).
		WithTag("body_id", body.ID).
		Debug("body spawned")
	writeJSON(w, http.StatusCreated, body.ToView())
}

func remove(world *models.World, w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.URL.Query().Get("id"), 10, 32)
	if err != nil {
		badRequest(w, errors.New("invalid body id").
			WithType(ErrTypeBadRequest).
			WithTag("id", r.URL.Query().Get("id")).
			Wrap(err))
		return
	}

	if !world.Remove(uint32(id)) {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	logs.WithTag("world_uuid", world.UUID).
		WithTag("body_id", id).
		Debug("body removed")
	w.WriteHeader(http.StatusNoContent)
}

// HandleReset removes every body of the world.
func HandleReset(world *models.World) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}

		world.Reset()
		logs.WithTag("world_uuid", world.UUID).Info("world reset")
		w.WriteHeader(http.StatusNoContent)
	}
}

func areaFromQuery(r *http.Request) (quadtree.Rect, error) {
	query := r.URL.Query()

	var values [4]float64
	for i, k := range [4]string{"x", "y", "w", "h"} {
		v, err := strconv.ParseFloat(query.Get(k), 64)
		if err != nil {
			return quadtree.Rect{}, errors.New("invalid area parameter").
				WithType(ErrTypeBadRequest).
				WithTag("param", k).
				WithTag("value", query.Get(k)).
				Wrap(err)
		}
		values[i] = v
	}

	area := quadtree.NewRect(values[0], values[1], values[2], values[3])
	if area.Empty() {
		return quadtree.Rect{}, errors.New("area must have a positive width and height").
			WithType(ErrTypeBadRequest).
			WithTag("area", area)
	}
	return area, nil
}

func limitFromQuery(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}

	limit, err := strconv.Atoi(v)
	if err != nil || limit < 0 {
		return 0, errors.New("invalid limit").
			WithType(ErrTypeBadRequest).
			WithTag("limit", v)
	}
	return limit, nil
}
