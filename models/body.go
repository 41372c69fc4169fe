package models

import (
	"sync"

	"github.com/aukilabs/spatial/quadtree"
)

type Vector2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Body is a moving rectangle living in a world. Its position is the center of
// its bounds.
type Body struct {
	ID uint32

	mutex    sync.RWMutex
	position Vector2
	size     Vector2
	velocity Vector2
}

func NewBody(id uint32, position, size, velocity Vector2) *Body {
	return &Body{
		ID:       id,
		position: position,
		size:     size,
		velocity: velocity,
	}
}

func (b *Body) SetPosition(v Vector2) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.position = v
}

func (b *Body) Position() Vector2 {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	return b.position
}

func (b *Body) Size() Vector2 {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	return b.size
}

func (b *Body) SetVelocity(v Vector2) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.velocity = v
}

func (b *Body) Velocity() Vector2 {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	return b.velocity
}

// Bounds returns the rectangle covered by the body. It is the bounds accessor
// of the world index.
func (b *Body) Bounds() quadtree.Rect {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	return b.bounds()
}

func (b *Body) bounds() quadtree.Rect {
	return quadtree.Rect{
		X: b.position.X - b.size.X/2,
		Y: b.position.Y - b.size.Y/2,
		W: b.size.X,
		H: b.size.Y,
	}
}

// step moves the body by its velocity over dt seconds and bounces it off the
// edges of area. It reports whether the body moved.
func (b *Body) step(dt float64, area quadtree.Rect) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.velocity == (Vector2{}) || dt <= 0 {
		return false
	}

	b.position.X += b.velocity.X * dt
	b.position.Y += b.velocity.Y * dt

	hw := b.size.X / 2
	hh := b.size.Y / 2

	switch {
	case b.position.X-hw < area.X:
		b.position.X = area.X + hw
		b.velocity.X = -b.velocity.X

	case b.position.X+hw > area.MaxX():
		b.position.X = area.MaxX() - hw
		b.velocity.X = -b.velocity.X
	}

	switch {
	case b.position.Y-hh < area.Y:
		b.position.Y = area.Y + hh
		b.velocity.Y = -b.velocity.Y

	case b.position.Y+hh > area.MaxY():
		b.position.Y = area.MaxY() - hh
		b.velocity.Y = -b.velocity.Y
	}

	return true
}

// BodyView is the serializable state of a body.
type BodyView struct {
	ID uint32  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	W  float64 `json:"w"`
	H  float64 `json:"h"`
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

func (b *Body) ToView() BodyView {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	return BodyView{
		ID: b.ID,
		X:  b.position.X,
		Y:  b.position.Y,
		W:  b.size.X,
		H:  b.size.Y,
		VX: b.velocity.X,
		VY: b.velocity.Y,
	}
}

func BodiesToViews(bodies []*Body) []BodyView {
	views := make([]BodyView, len(bodies))
	for i, b := range bodies {
		views[i] = b.ToView()
	}
	return views
}
