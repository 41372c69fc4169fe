package quadtree

import "fmt"

// Rect is an axis-aligned rectangle described by its top-left corner and its
// size.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func NewRect(x, y, w, h float64) Rect {
	return Rect{X: x, Y: y, W: w, H: h}
}

// RectFromPoints returns the rectangle spanning the two given corners. Corners
// can be given in any order.
func RectFromPoints(x1, y1, x2, y2 float64) Rect {
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}
	return Rect{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

func (r Rect) MaxX() float64 {
	return r.X + r.W
}

func (r Rect) MaxY() float64 {
	return r.Y + r.H
}

func (r Rect) Center() (float64, float64) {
	return r.X + r.W/2, r.Y + r.H/2
}

func (r Rect) Area() float64 {
	if r.Empty() {
		return 0
	}
	return r.W * r.H
}

// Empty reports whether the rectangle has no area. NaN sizes are empty.
func (r Rect) Empty() bool {
	return !(r.W > 0 && r.H > 0)
}

// Encloses reports whether o lies entirely within r, borders included.
func (r Rect) Encloses(o Rect) bool {
	return o.X >= r.X &&
		o.Y >= r.Y &&
		o.MaxX() <= r.MaxX() &&
		o.MaxY() <= r.MaxY()
}

// Intersects reports whether r and o overlap. Rectangles that only share an
// edge do not intersect.
func (r Rect) Intersects(o Rect) bool {
	return r.X < o.MaxX() &&
		o.X < r.MaxX() &&
		r.Y < o.MaxY() &&
		o.Y < r.MaxY()
}

// quadrants returns the four quarters of r in NW, NE, SW, SE order.
func (r Rect) quadrants() [4]Rect {
	hw := r.W / 2
	hh := r.H / 2
	return [4]Rect{
		nw: {X: r.X, Y: r.Y, W: hw, H: hh},
		ne: {X: r.X + hw, Y: r.Y, W: hw, H: hh},
		sw: {X: r.X, Y: r.Y + hh, W: hw, H: hh},
		se: {X: r.X + hw, Y: r.Y + hh, W: hw, H: hh},
	}
}

func (r Rect) String() string {
	return fmt.Sprintf("[%g,%g]-[%g,%g]", r.X, r.Y, r.MaxX(), r.MaxY())
}
