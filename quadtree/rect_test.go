package quadtree

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRectFromPoints(t *testing.T) {
	r := RectFromPoints(10, 20, 0, 5)
	require.Equal(t, Rect{X: 0, Y: 5, W: 10, H: 15}, r)
	require.Equal(t, float64(10), r.MaxX())
	require.Equal(t, float64(20), r.MaxY())
}

func TestRectEmpty(t *testing.T) {
	require.True(t, Rect{}.Empty())
	require.True(t, NewRect(0, 0, 10, 0).Empty())
	require.True(t, NewRect(0, 0, 0, 10).Empty())
	require.True(t, NewRect(0, 0, -1, 10).Empty())
	require.True(t, NewRect(0, 0, math.NaN(), 10).Empty())
	require.False(t, NewRect(0, 0, 1, 1).Empty())
	require.Zero(t, NewRect(0, 0, -1, 10).Area())
	require.Equal(t, float64(6), NewRect(0, 0, 2, 3).Area())
}

func TestRectEncloses(t *testing.T) {
	r := NewRect(0, 0, 100, 100)

	t.Run("inside", func(t *testing.T) {
		require.True(t, r.Encloses(NewRect(10, 10, 5, 5)))
	})

	t.Run("on the border", func(t *testing.T) {
		require.True(t, r.Encloses(r))
		require.True(t, r.Encloses(NewRect(0, 0, 50, 50)))
		require.True(t, r.Encloses(NewRect(50, 50, 50, 50)))
	})

	t.Run("straddling", func(t *testing.T) {
		require.False(t, r.Encloses(NewRect(90, 90, 20, 5)))
		require.False(t, r.Encloses(NewRect(-1, 10, 5, 5)))
	})

	t.Run("outside", func(t *testing.T) {
		require.False(t, r.Encloses(NewRect(200, 200, 5, 5)))
	})
}

func TestRectIntersects(t *testing.T) {
	r := NewRect(0, 0, 10, 10)

	require.True(t, r.Intersects(NewRect(5, 5, 10, 10)))
	require.True(t, r.Intersects(NewRect(2, 2, 1, 1)))
	require.True(t, NewRect(2, 2, 1, 1).Intersects(r))
	require.False(t, r.Intersects(NewRect(10, 0, 5, 5)))
	require.False(t, r.Intersects(NewRect(0, 10, 5, 5)))
	require.False(t, r.Intersects(NewRect(20, 20, 5, 5)))
}

func TestRectQuadrants(t *testing.T) {
	r := NewRect(-10, 0, 20, 40)
	q := r.quadrants()

	require.Equal(t, NewRect(-10, 0, 10, 20), q[nw])
	require.Equal(t, NewRect(0, 0, 10, 20), q[ne])
	require.Equal(t, NewRect(-10, 20, 10, 20), q[sw])
	require.Equal(t, NewRect(0, 20, 10, 20), q[se])

	var area float64
	for i, a := range q {
		require.True(t, r.Encloses(a))
		area += a.Area()

		for j, b := range q {
			if i != j {
				require.False(t, a.Intersects(b))
			}
		}
	}
	require.Equal(t, r.Area(), area)
}
