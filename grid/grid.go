// Package grid implements a regular grid spatial partition.
//
// The plane is divided into square cells of Resolution units and every cell
// references the objects overlapping it. The grid expands by whole cells to
// fit the objects inserted outside of it, so no object is ever clamped to an
// edge cell. Queries have the same semantics as quadtree queries: an object
// is returned when its bounds intersect the area, shared edges excluded.
//
// The grid is the reference index of the quadtree: randomized tests check
// that both return the same objects for the same operations, and benchmarks
// compare their query costs. No server path uses it.
package grid

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/spatial/quadtree"
)

// Grid is a regular grid indexing objects by their bounds. It is not safe for
// concurrent use.
type Grid[T comparable] struct {
	resolution float64
	originX    float64
	originY    float64
	boundsOf   quadtree.BoundsFunc[T]

	// Absolute coordinates of cells[0][0].
	minCol int
	minRow int
	cells  [][][]T

	placed map[T]quadtree.Rect
}

// New creates a grid covering at least bounds, with square cells of the given
// resolution.
func New[T comparable](bounds quadtree.Rect, resolution float64, boundsOf quadtree.BoundsFunc[T]) (*Grid[T], error) {
	if bounds.Empty() {
		return nil, errors.New("grid bounds have zero area").
			WithType(quadtree.ErrTypeInvalidArgument).
			WithTag("bounds", bounds)
	}

	if !(resolution > 0) || math.IsInf(resolution, 0) {
		return nil, errors.New("grid resolution must be positive").
			WithType(quadtree.ErrTypeInvalidArgument).
			WithTag("resolution", resolution)
	}

	if boundsOf == nil {
		return nil, errors.New("bounds accessor is nil").
			WithType(quadtree.ErrTypeInvalidArgument)
	}

	g := &Grid[T]{
		resolution: resolution,
		originX:    bounds.X,
		originY:    bounds.Y,
		boundsOf:   boundsOf,
		placed:     make(map[T]quadtree.Rect),
	}

	cols := int(math.Ceil(bounds.W / resolution))
	rows := int(math.Ceil(bounds.H / resolution))
	g.cells = make([][][]T, rows)
	for i := range g.cells {
		g.cells[i] = make([][]T, cols)
	}
	return g, nil
}

// Insert adds the object to every cell its bounds overlap. Inserting an
// object twice relocates it.
func (g *Grid[T]) Insert(obj T) error {
	bounds := g.boundsOf(obj)
	if bounds.Empty() {
		return errors.New("object bounds have zero area").
			WithType(quadtree.ErrTypeInvalidArgument).
			WithTag("bounds", bounds)
	}

	if _, ok := g.placed[obj]; ok {
		g.Remove(obj)
	}

	minCol, minRow, maxCol, maxRow := g.span(bounds)
	g.expandToFit(minCol, minRow, maxCol, maxRow)

	for row := minRow; row <= maxRow; row++ {
		cells := g.cells[row-g.minRow]
		for col := minCol; col <= maxCol; col++ {
			cells[col-g.minCol] = append(cells[col-g.minCol], obj)
		}
	}

	g.placed[obj] = bounds
	return nil
}

// Remove takes the object out of the grid. It returns false when the object
// is not indexed.
func (g *Grid[T]) Remove(obj T) bool {
	bounds, ok := g.placed[obj]
	if !ok {
		return false
	}

	minCol, minRow, maxCol, maxRow := g.span(bounds)
	for row := minRow; row <= maxRow; row++ {
		cells := g.cells[row-g.minRow]
		for col := minCol; col <= maxCol; col++ {
			cells[col-g.minCol] = removeFromCell(cells[col-g.minCol], obj)
		}
	}

	delete(g.placed, obj)
	return true
}

// Update refreshes the cells of an object whose bounds changed. It returns
// false when the object is not indexed.
func (g *Grid[T]) Update(obj T) bool {
	if !g.Remove(obj) {
		return false
	}

	if err := g.Insert(obj); err != nil {
		logs.Warn(errors.New("updating grid object failed").Wrap(err))
		return false
	}
	return true
}

// Query returns the objects whose bounds intersect area.
func (g *Grid[T]) Query(area quadtree.Rect) []T {
	var res []T
	g.QueryFunc(area, func(obj T) bool {
		res = append(res, obj)
		return true
	})
	return res
}

// QueryFunc calls visit once for each object whose bounds intersect area,
// until visit returns false.
func (g *Grid[T]) QueryFunc(area quadtree.Rect, visit func(T) bool) {
	minCol, minRow, maxCol, maxRow := g.span(area)
	minCol = max(minCol, g.minCol)
	minRow = max(minRow, g.minRow)
	maxCol = min(maxCol, g.minCol+g.Cols()-1)
	maxRow = min(maxRow, g.minRow+g.Rows()-1)

	seen := make(map[T]struct{})
	for row := minRow; row <= maxRow; row++ {
		cells := g.cells[row-g.minRow]
		for col := minCol; col <= maxCol; col++ {
			for _, obj := range cells[col-g.minCol] {
				if _, ok := seen[obj]; ok {
					continue
				}
				seen[obj] = struct{}{}

				if g.placed[obj].Intersects(area) && !visit(obj) {
					return
				}
			}
		}
	}
}

func (g *Grid[T]) Contains(obj T) bool {
	_, ok := g.placed[obj]
	return ok
}

func (g *Grid[T]) Len() int {
	return len(g.placed)
}

func (g *Grid[T]) Rows() int {
	return len(g.cells)
}

func (g *Grid[T]) Cols() int {
	if len(g.cells) == 0 {
		return 0
	}
	return len(g.cells[0])
}

// Bounds returns the area covered by the cells.
func (g *Grid[T]) Bounds() quadtree.Rect {
	return quadtree.NewRect(
		g.originX+float64(g.minCol)*g.resolution,
		g.originY+float64(g.minRow)*g.resolution,
		float64(g.Cols())*g.resolution,
		float64(g.Rows())*g.resolution,
	)
}

// DebugInfo describes the grid layout and the number of objects per cell.
type DebugInfo struct {
	Resolution float64       `json:"resolution"`
	Rows       int           `json:"rows"`
	Cols       int           `json:"cols"`
	Objects    int           `json:"objects"`
	Bounds     quadtree.Rect `json:"bounds"`

	// Row major object count of each cell.
	Occupancy []int `json:"occupancy"`
}

func (g *Grid[T]) DebugInfo() DebugInfo {
	info := DebugInfo{
		Resolution: g.resolution,
		Rows:       g.Rows(),
		Cols:       g.Cols(),
		Objects:    g.Len(),
		Bounds:     g.Bounds(),
		Occupancy:  make([]int, 0, g.Rows()*g.Cols()),
	}

	for _, cells := range g.cells {
		for _, objects := range cells {
			info.Occupancy = append(info.Occupancy, len(objects))
		}
	}
	return info
}

// span returns the absolute coordinates of the cells r overlaps. A cell whose
// edge only touches r is not part of the span, except for zero sized areas
// which still cover the cell they are in.
func (g *Grid[T]) span(r quadtree.Rect) (minCol, minRow, maxCol, maxRow int) {
	minCol = int(math.Floor((r.X - g.originX) / g.resolution))
	minRow = int(math.Floor((r.Y - g.originY) / g.resolution))
	maxCol = max(minCol, int(math.Ceil((r.MaxX()-g.originX)/g.resolution))-1)
	maxRow = max(minRow, int(math.Ceil((r.MaxY()-g.originY)/g.resolution))-1)
	return minCol, minRow, maxCol, maxRow
}

func (g *Grid[T]) expandToFit(minCol, minRow, maxCol, maxRow int) {
	left := max(0, g.minCol-minCol)
	right := max(0, maxCol-(g.minCol+g.Cols()-1))
	top := max(0, g.minRow-minRow)
	bottom := max(0, maxRow-(g.minRow+g.Rows()-1))

	if left == 0 && right == 0 && top == 0 && bottom == 0 {
		return
	}

	cols := g.Cols() + left + right

	if left != 0 || right != 0 {
		for i, cells := range g.cells {
			expanded := make([][]T, cols)
			copy(expanded[left:], cells)
			g.cells[i] = expanded
		}
	}

	if top != 0 || bottom != 0 {
		expanded := make([][][]T, top+len(g.cells)+bottom)
		copy(expanded[top:], g.cells)
		for i := range expanded {
			if expanded[i] == nil {
				expanded[i] = make([][]T, cols)
			}
		}
		g.cells = expanded
	}

	g.minCol -= left
	g.minRow -= top

	logs.WithTag("rows", g.Rows()).
		WithTag("cols", g.Cols()).
		WithTag("bounds", g.Bounds()).
		Debug("grid expanded")
}

func removeFromCell[T comparable](objects []T, obj T) []T {
	for i, o := range objects {
		if o == obj {
			last := len(objects) - 1
			objects[i] = objects[last]
			var zero T
			objects[last] = zero
			return objects[:last]
		}
	}
	return objects
}
