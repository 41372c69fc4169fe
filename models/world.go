package models

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/spatial/quadtree"
	"github.com/google/uuid"
)

// World is a rectangular area where bodies move every frame. Bodies are
// indexed in a quadtree so area queries do not scan every body.
type World struct {
	UUID          string
	FrameDuration time.Duration

	bounds quadtree.Rect
	index  *quadtree.Locked[*Body]

	bodyIDs   SequentialIDGenerator
	bodyMutex sync.RWMutex
	bodies    map[uint32]*Body

	frame           atomic.Uint64
	startFrameOnce  sync.Once
	closeFrameChan  chan struct{}
	frameTicker     *time.Ticker
	frameHandlerIDs SequentialIDGenerator
	frameHandlers   map[uint32]func(uint64)
	frameMutex      sync.RWMutex

	closeOnce sync.Once
}

// NewWorld creates a world covering the given bounds. The options configure
// the quadtree indexing the bodies.
func NewWorld(bounds quadtree.Rect, frameDuration time.Duration, opts ...quadtree.Option) (*World, error) {
	if frameDuration <= 0 {
		return nil, errors.New("frame duration must be positive").
			WithType(quadtree.ErrTypeInvalidArgument).
			WithTag("frame_duration", frameDuration)
	}

	worldUUID := uuid.NewString()
	opts = append([]quadtree.Option{quadtree.WithName(worldUUID)}, opts...)

	index, err := quadtree.NewLocked[*Body](bounds, (*Body).Bounds, opts...)
	if err != nil {
		return nil, errors.New("creating world index failed").
			WithTag("bounds", bounds).
			Wrap(err)
	}

	return &World{
		UUID:           worldUUID,
		FrameDuration:  frameDuration,
		bounds:         bounds,
		index:          index,
		bodies:         make(map[uint32]*Body),
		closeFrameChan: make(chan struct{}, 1),
		frameTicker:    time.NewTicker(frameDuration),
		frameHandlers:  make(map[uint32]func(uint64)),
	}, nil
}

func (w *World) Close() {
	w.closeOnce.Do(func() {
		w.frameTicker.Stop()
		w.closeFrameChan <- struct{}{}
	})
}

func (w *World) Bounds() quadtree.Rect {
	return w.bounds
}

// Spawn creates a body and adds it to the world.
func (w *World) Spawn(position, size, velocity Vector2) (*Body, error) {
	body := NewBody(w.bodyIDs.New(), position, size, velocity)

	if err := w.index.Insert(body); err != nil {
		w.bodyIDs.Reuse(body.ID)
		return nil, errors.New("spawning body failed").
			WithType(quadtree.ErrTypeInvalidArgument).
			WithTag("position", position).
			WithTag("size", size).
			Wrap(err)
	}

	w.bodyMutex.Lock()
	w.bodies[body.ID] = body
	w.bodyMutex.Unlock()

	instrumentIncreaseBodyGauge(w.UUID)
	return body, nil
}

// SpawnRandom spawns n bodies at random positions within the world, with
// sizes up to maxSize and speeds up to maxSpeed on each axis.
func (w *World) SpawnRandom(rnd *rand.Rand, n int, maxSize, maxSpeed float64) ([]*Body, error) {
	bodies := make([]*Body, 0, n)

	for i := 0; i < n; i++ {
		size := Vector2{
			X: 1 + rnd.Float64()*(maxSize-1),
			Y: 1 + rnd.Float64()*(maxSize-1),
		}
		position := Vector2{
			X: w.bounds.X + size.X/2 + rnd.Float64()*(w.bounds.W-size.X),
			Y: w.bounds.Y + size.Y/2 + rnd.Float64()*(w.bounds.H-size.Y),
		}
		velocity := Vector2{
			X: (rnd.Float64()*2 - 1) * maxSpeed,
			Y: (rnd.Float64()*2 - 1) * maxSpeed,
		}

		b, err := w.Spawn(position, size, velocity)
		if err != nil {
			return bodies, err
		}
		bodies = append(bodies, b)
	}

	return bodies, nil
}

// Remove removes the body with the given id. It returns false when there is
// no such body.
func (w *World) Remove(id uint32) bool {
	w.bodyMutex.Lock()
	body, ok := w.bodies[id]
	if ok {
		delete(w.bodies, id)
	}
	w.bodyMutex.Unlock()

	if !ok {
		return false
	}

	w.index.Remove(body)
	w.bodyIDs.Reuse(id)
	instrumentDecreaseBodyGauge(w.UUID)
	return true
}

// Reset removes every body.
func (w *World) Reset() {
	w.bodyMutex.Lock()
	defer w.bodyMutex.Unlock()

	for id := range w.bodies {
		w.bodyIDs.Reuse(id)
	}
	clear(w.bodies)
	w.index.Clear()
	instrumentResetBodyGauge(w.UUID)
}

func (w *World) Body(id uint32) (*Body, bool) {
	w.bodyMutex.RLock()
	defer w.bodyMutex.RUnlock()

	body, ok := w.bodies[id]
	return body, ok
}

func (w *World) Bodies() []*Body {
	w.bodyMutex.RLock()
	defer w.bodyMutex.RUnlock()

	bodies := make([]*Body, 0, len(w.bodies))
	for _, b := range w.bodies {
		bodies = append(bodies, b)
	}
	return bodies
}

func (w *World) BodyCount() int {
	w.bodyMutex.RLock()
	defer w.bodyMutex.RUnlock()

	return len(w.bodies)
}

// Move teleports a body to the given position.
func (w *World) Move(id uint32, position Vector2) bool {
	body, ok := w.Body(id)
	if !ok {
		return false
	}

	body.SetPosition(position)
	return w.index.Update(body)
}

// Step advances every body by dt seconds and refreshes their placement in the
// index.
func (w *World) Step(dt float64) {
	bodies := w.Bodies()

	w.index.Batch(func(tree *quadtree.Quadtree[*Body]) {
		for _, b := range bodies {
			if b.step(dt, w.bounds) {
				tree.Update(b)
			}
		}
	})
}

// Query returns the bodies overlapping area.
func (w *World) Query(area quadtree.Rect) []*Body {
	defer instrumentQueryLatency(w.UUID, time.Now())
	return w.index.Query(area)
}

// QueryFunc calls visit for each body overlapping area until visit returns
// false.
func (w *World) QueryFunc(area quadtree.Rect, visit func(*Body) bool) {
	defer instrumentQueryLatency(w.UUID, time.Now())
	w.index.QueryFunc(area, visit)
}

// Nodes returns a description of every node of the index.
func (w *World) Nodes() []quadtree.NodeInfo {
	var nodes []quadtree.NodeInfo
	w.index.View(func(tree *quadtree.Quadtree[*Body]) {
		tree.WalkNodes(func(n quadtree.NodeInfo) bool {
			nodes = append(nodes, n)
			return true
		})
	})
	return nodes
}

// WorldStats is a snapshot of the world and its index.
type WorldStats struct {
	UUID        string `json:"uuid"`
	Frame       uint64 `json:"frame"`
	Bodies      int    `json:"bodies"`
	Nodes       int    `json:"nodes"`
	Objects     int    `json:"objects"`
	PooledNodes int    `json:"pooled_nodes"`
	Depth       int    `json:"depth"`
}

func (w *World) Stats() WorldStats {
	stats := WorldStats{
		UUID:   w.UUID,
		Frame:  w.Frame(),
		Bodies: w.BodyCount(),
	}

	w.index.View(func(tree *quadtree.Quadtree[*Body]) {
		stats.Nodes = tree.TotalNodes()
		stats.Objects = tree.TotalObjects()
		stats.PooledNodes = tree.PooledNodes()
		stats.Depth = tree.Depth()
	})
	return stats
}

// Frame returns the number of frames dispatched so far.
func (w *World) Frame() uint64 {
	return w.frame.Load()
}

// HandleFrame registers a handler called after each frame step with the frame
// number.
func (w *World) HandleFrame(h func(frame uint64)) (cancel func()) {
	w.frameMutex.Lock()
	defer w.frameMutex.Unlock()

	id := w.frameHandlerIDs.New()
	w.frameHandlers[id] = h

	return func() {
		w.frameMutex.Lock()
		defer w.frameMutex.Unlock()

		delete(w.frameHandlers, id)
		w.frameHandlerIDs.Reuse(id)
	}
}

// StartDispatchFrames steps the world every frame duration and calls the
// frame handlers. It blocks until the world is closed.
func (w *World) StartDispatchFrames() {
	w.startFrameOnce.Do(func() {
		logs.WithTag("world_uuid", w.UUID).
			WithTag("frame_duration", w.FrameDuration).
			Info("starting world frames")

		dt := w.FrameDuration.Seconds()

		for {
			select {
			case <-w.closeFrameChan:
				logs.WithTag("world_uuid", w.UUID).
					WithTag("frame", w.Frame()).
					Info("stopping world frames")
				return

			case <-w.frameTicker.C:
				w.dispatchFrame(dt)
			}
		}
	})
}

func (w *World) dispatchFrame(dt float64) {
	defer instrumentFrameLatency(w.UUID, time.Now())

	w.Step(dt)
	frame := w.frame.Add(1)

	w.frameMutex.RLock()
	for _, h := range w.frameHandlers {
		h(frame)
	}
	w.frameMutex.RUnlock()
}
