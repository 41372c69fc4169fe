package quadtree

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
)

type box struct {
	id     int
	bounds Rect
}

func boxBounds(b *box) Rect {
	return b.bounds
}

func newTestTree(t testing.TB, opts ...Option) *Quadtree[*box] {
	tree, err := New[*box](NewRect(0, 0, 100, 100), boxBounds, opts...)
	require.NoError(t, err)
	return tree
}

// fiveInNorthWest returns five unit boxes that all fit in the NW quadrant of
// a 100x100 tree.
func fiveInNorthWest() []*box {
	return []*box{
		{id: 1, bounds: NewRect(1, 1, 1, 1)},
		{id: 2, bounds: NewRect(10, 10, 1, 1)},
		{id: 3, bounds: NewRect(20, 5, 1, 1)},
		{id: 4, bounds: NewRect(30, 40, 1, 1)},
		{id: 5, bounds: NewRect(48, 48, 1, 1)},
	}
}

func ids(boxes []*box) []int {
	res := make([]int, len(boxes))
	for i, b := range boxes {
		res[i] = b.id
	}
	sort.Ints(res)
	return res
}

func TestNew(t *testing.T) {
	t.Run("creates a single leaf root", func(t *testing.T) {
		tree := newTestTree(t)
		require.Equal(t, NewRect(0, 0, 100, 100), tree.Bounds())
		require.Equal(t, DefaultCapacity, tree.Capacity())
		require.Equal(t, defaultName, tree.Name())
		require.Equal(t, 1, tree.TotalNodes())
		require.Zero(t, tree.TotalObjects())
		require.Zero(t, tree.PooledNodes())
		require.Equal(t, 1, tree.Depth())
		require.True(t, tree.nodes.get(tree.root).isLeaf())
	})

	t.Run("applies options", func(t *testing.T) {
		tree := newTestTree(t, WithCapacity(8), WithName("test"), WithMergeOnUpdate(true))
		require.Equal(t, 8, tree.Capacity())
		require.Equal(t, "test", tree.Name())
		require.True(t, tree.mergeOnUpdate)
		require.Equal(t, 8, tree.nodes.get(tree.root).capacity)
	})

	t.Run("zero area bounds returns an error", func(t *testing.T) {
		tree, err := New[*box](NewRect(0, 0, 100, 0), boxBounds)
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeInvalidArgument))
		require.Nil(t, tree)
	})

	t.Run("nil bounds accessor returns an error", func(t *testing.T) {
		tree, err := New[*box](NewRect(0, 0, 100, 100), nil)
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeInvalidArgument))
		require.Nil(t, tree)
	})

	t.Run("capacity not greater than the merge threshold returns an error", func(t *testing.T) {
		for _, capacity := range []int{-1, 0, 1, MergeThreshold} {
			tree, err := New[*box](NewRect(0, 0, 100, 100), boxBounds, WithCapacity(capacity))
			require.Error(t, err)
			require.True(t, errors.IsType(err, ErrTypeInvalidArgument))
			require.Nil(t, tree)
		}
	})

	t.Run("smallest capacity", func(t *testing.T) {
		tree := newTestTree(t, WithCapacity(MergeThreshold+1))
		require.Equal(t, MergeThreshold+1, tree.Capacity())
	})
}

func TestQuadtreeInsert(t *testing.T) {
	t.Run("object is placed in the root leaf", func(t *testing.T) {
		tree := newTestTree(t)
		b := &box{id: 1, bounds: NewRect(10, 10, 1, 1)}

		require.NoError(t, tree.Insert(b))
		require.Equal(t, 1, tree.TotalObjects())
		require.True(t, tree.Contains(b))
		require.Equal(t, tree.root, tree.index[b])

		cached, ok := tree.CachedBounds(b)
		require.True(t, ok)
		require.Equal(t, b.bounds, cached)
	})

	t.Run("zero area object returns an error", func(t *testing.T) {
		tree := newTestTree(t)
		b := &box{id: 1, bounds: NewRect(10, 10, 0, 1)}

		err := tree.Insert(b)
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeInvalidArgument))
		require.False(t, tree.Contains(b))
		require.Zero(t, tree.TotalObjects())
	})

	t.Run("inserting twice keeps a single placement", func(t *testing.T) {
		tree := newTestTree(t)
		boxes := fiveInNorthWest()
		for _, b := range boxes {
			require.NoError(t, tree.Insert(b))
		}

		placement := tree.index[boxes[2]]
		require.NoError(t, tree.Insert(boxes[2]))
		require.NoError(t, tree.Insert(boxes[2]))
		require.Equal(t, placement, tree.index[boxes[2]])
		require.Equal(t, 5, tree.TotalObjects())
		require.Len(t, tree.Query(tree.Bounds()), 5)
		checkInvariants(t, tree)
	})

	t.Run("inserting twice does not merge a sparse subtree", func(t *testing.T) {
		tree := newTestTree(t)
		boxes := make([]*box, 6)
		for i := range boxes {
			boxes[i] = &box{id: i + 1, bounds: NewRect(float64(2+i*3), 2, 1, 1)}
			require.NoError(t, tree.Insert(boxes[i]))
		}
		require.Equal(t, 9, tree.TotalNodes())

		for i, b := range boxes[:4] {
			b.bounds = NewRect(float64(80+i*3), 80, 1, 1)
			require.True(t, tree.Update(b))
		}
		require.Equal(t, 9, tree.TotalNodes())

		c := &box{id: 42, bounds: NewRect(10, 10, 1, 1)}
		require.NoError(t, tree.Insert(c))
		placement := tree.index[c]
		require.Equal(t, NewRect(0, 0, 25, 25), tree.nodes.get(placement).bounds)

		require.NoError(t, tree.Insert(c))
		require.Equal(t, placement, tree.index[c])
		require.Equal(t, NewRect(0, 0, 25, 25), tree.nodes.get(tree.index[c]).bounds)
		require.Equal(t, 9, tree.TotalNodes())
		require.Equal(t, 7, tree.TotalObjects())
		checkInvariants(t, tree)
	})

	t.Run("inserting a moved object places it again", func(t *testing.T) {
		tree := newTestTree(t)
		boxes := fiveInNorthWest()
		for _, b := range boxes {
			require.NoError(t, tree.Insert(b))
		}

		boxes[0].bounds = NewRect(80, 80, 1, 1)
		require.NoError(t, tree.Insert(boxes[0]))
		require.Equal(t, NewRect(50, 50, 50, 50), tree.nodes.get(tree.index[boxes[0]]).bounds)
		require.Equal(t, []int{1}, ids(tree.Query(NewRect(75, 75, 10, 10))))
		require.Equal(t, 5, tree.TotalObjects())
		checkInvariants(t, tree)
	})

	t.Run("object outside the tree bounds is kept by the root", func(t *testing.T) {
		tree := newTestTree(t)
		for _, b := range fiveInNorthWest() {
			require.NoError(t, tree.Insert(b))
		}

		outside := &box{id: 42, bounds: NewRect(150, 150, 10, 10)}
		require.NoError(t, tree.Insert(outside))
		require.Equal(t, tree.root, tree.index[outside])
		require.Equal(t, []int{42}, ids(tree.Query(NewRect(140, 140, 30, 30))))
		checkInvariants(t, tree)
	})
}

func TestQuadtreeSplit(t *testing.T) {
	tree := newTestTree(t)
	boxes := fiveInNorthWest()

	for i, b := range boxes[:4] {
		require.NoError(t, tree.Insert(b))
		require.Equal(t, 1, tree.TotalNodes(), "insert %d", i)
	}

	require.NoError(t, tree.Insert(boxes[4]))
	require.Equal(t, 5, tree.TotalNodes())
	require.Equal(t, 2, tree.Depth())

	root := tree.nodes.get(tree.root)
	require.False(t, root.isLeaf())
	require.Empty(t, root.objects)

	northWest := root.children[nw]
	require.Len(t, tree.nodes.get(northWest).objects, 5)
	for _, b := range boxes {
		require.Equal(t, northWest, tree.index[b])
	}

	for _, q := range []int{ne, sw, se} {
		require.Empty(t, tree.nodes.get(root.children[q]).objects)
	}

	require.Equal(t, ids(boxes), ids(tree.Query(NewRect(0, 0, 50, 50))))
	require.Empty(t, tree.Query(NewRect(50, 50, 50, 50)))
	checkInvariants(t, tree)
}

func TestQuadtreeSplitKeepsStraddlingObjects(t *testing.T) {
	tree := newTestTree(t)
	boxes := fiveInNorthWest()[:4]
	straddling := &box{id: 42, bounds: NewRect(45, 45, 10, 10)}
	boxes = append(boxes, straddling)

	for _, b := range boxes {
		require.NoError(t, tree.Insert(b))
	}

	require.Equal(t, 5, tree.TotalNodes())
	require.Equal(t, tree.root, tree.index[straddling])

	root := tree.nodes.get(tree.root)
	require.Len(t, root.objects, 1)
	require.Len(t, tree.nodes.get(root.children[nw]).objects, 4)
	require.Equal(t, []int{42}, ids(tree.Query(NewRect(52, 52, 1, 1))))
	checkInvariants(t, tree)
}

func TestQuadtreeRemove(t *testing.T) {
	t.Run("not indexed object", func(t *testing.T) {
		tree := newTestTree(t)
		require.False(t, tree.Remove(&box{id: 1, bounds: NewRect(1, 1, 1, 1)}))
	})

	t.Run("object is removed", func(t *testing.T) {
		tree := newTestTree(t)
		b := &box{id: 1, bounds: NewRect(1, 1, 1, 1)}
		require.NoError(t, tree.Insert(b))

		require.True(t, tree.Remove(b))
		require.False(t, tree.Contains(b))
		require.Zero(t, tree.TotalObjects())
		require.Empty(t, tree.Query(tree.Bounds()))
		require.False(t, tree.Remove(b))
	})

	t.Run("underflow merges children back into the root", func(t *testing.T) {
		tree := newTestTree(t)
		boxes := fiveInNorthWest()
		for _, b := range boxes {
			require.NoError(t, tree.Insert(b))
		}
		require.Equal(t, 5, tree.TotalNodes())

		require.True(t, tree.Remove(boxes[0]))
		require.True(t, tree.Remove(boxes[1]))
		require.Equal(t, 5, tree.TotalNodes())

		require.True(t, tree.Remove(boxes[2]))
		require.Equal(t, 1, tree.TotalNodes())
		require.Equal(t, 4, tree.PooledNodes())
		require.True(t, tree.nodes.get(tree.root).isLeaf())
		require.Len(t, tree.nodes.get(tree.root).objects, 2)
		require.Equal(t, tree.root, tree.index[boxes[3]])
		require.Equal(t, tree.root, tree.index[boxes[4]])

		require.True(t, tree.Remove(boxes[3]))
		require.Equal(t, 1, tree.TotalNodes())
		require.Equal(t, []int{5}, ids(tree.Query(tree.Bounds())))
		checkInvariants(t, tree)
	})

	t.Run("merge cascades up to the root", func(t *testing.T) {
		tree := newTestTree(t, WithCapacity(3))
		boxes := []*box{
			{id: 1, bounds: NewRect(1, 1, 0.5, 0.5)},
			{id: 2, bounds: NewRect(2, 2, 0.5, 0.5)},
			{id: 3, bounds: NewRect(3, 3, 0.5, 0.5)},
			{id: 4, bounds: NewRect(4, 4, 0.5, 0.5)},
			{id: 5, bounds: NewRect(5, 5, 0.5, 0.5)},
		}
		for _, b := range boxes {
			require.NoError(t, tree.Insert(b))
		}
		require.Equal(t, 9, tree.TotalNodes())
		require.Equal(t, 3, tree.Depth())
		checkInvariants(t, tree)

		require.True(t, tree.Remove(boxes[0]))
		require.True(t, tree.Remove(boxes[1]))
		require.Equal(t, 9, tree.TotalNodes())

		require.True(t, tree.Remove(boxes[2]))
		require.Equal(t, 1, tree.TotalNodes())
		require.Equal(t, 8, tree.PooledNodes())
		require.Equal(t, 1, tree.Depth())
		require.Equal(t, ids(boxes[3:]), ids(tree.Query(tree.Bounds())))
		checkInvariants(t, tree)
	})

	t.Run("pooled nodes are reused by the next split", func(t *testing.T) {
		tree := newTestTree(t)
		boxes := fiveInNorthWest()
		for _, b := range boxes {
			require.NoError(t, tree.Insert(b))
		}
		for _, b := range boxes[:3] {
			require.True(t, tree.Remove(b))
		}
		require.Equal(t, 4, tree.PooledNodes())

		for _, b := range boxes[:3] {
			require.NoError(t, tree.Insert(b))
		}
		require.Equal(t, 5, tree.TotalNodes())
		require.Zero(t, tree.PooledNodes())
		require.Len(t, tree.nodes.nodes, 5)
		checkInvariants(t, tree)
	})
}

func TestQuadtreeUpdate(t *testing.T) {
	t.Run("not indexed object", func(t *testing.T) {
		tree := newTestTree(t)
		require.False(t, tree.Update(&box{id: 1, bounds: NewRect(1, 1, 1, 1)}))
	})

	t.Run("move within the same node refreshes the cached bounds", func(t *testing.T) {
		tree := newTestTree(t)
		boxes := fiveInNorthWest()
		for _, b := range boxes {
			require.NoError(t, tree.Insert(b))
		}
		placement := tree.index[boxes[0]]

		boxes[0].bounds = NewRect(40, 40, 2, 2)
		require.True(t, tree.Update(boxes[0]))
		require.Equal(t, placement, tree.index[boxes[0]])
		require.Equal(t, 5, tree.TotalNodes())

		cached, ok := tree.CachedBounds(boxes[0])
		require.True(t, ok)
		require.Equal(t, boxes[0].bounds, cached)
		require.Equal(t, []int{1}, ids(tree.Query(NewRect(41, 41, 0.5, 0.5))))
		checkInvariants(t, tree)
	})

	t.Run("move to another quadrant relocates the object", func(t *testing.T) {
		tree := newTestTree(t)
		boxes := fiveInNorthWest()
		for _, b := range boxes {
			require.NoError(t, tree.Insert(b))
		}

		boxes[0].bounds = NewRect(80, 80, 1, 1)
		require.True(t, tree.Update(boxes[0]))

		root := tree.nodes.get(tree.root)
		require.Equal(t, root.children[se], tree.index[boxes[0]])
		require.Equal(t, []int{1}, ids(tree.Query(NewRect(50, 50, 50, 50))))
		require.Len(t, tree.Query(NewRect(0, 0, 50, 50)), 4)
		checkInvariants(t, tree)
	})

	t.Run("move outside the tree bounds places the object at the root", func(t *testing.T) {
		tree := newTestTree(t)
		boxes := fiveInNorthWest()
		for _, b := range boxes {
			require.NoError(t, tree.Insert(b))
		}

		boxes[0].bounds = NewRect(-20, -20, 1, 1)
		require.True(t, tree.Update(boxes[0]))
		require.Equal(t, tree.root, tree.index[boxes[0]])
		require.Equal(t, []int{1}, ids(tree.Query(NewRect(-25, -25, 10, 10))))
		checkInvariants(t, tree)
	})

	t.Run("relocation does not merge by default", func(t *testing.T) {
		tree := newTestTree(t)
		boxes := fiveInNorthWest()
		for _, b := range boxes {
			require.NoError(t, tree.Insert(b))
		}
		require.True(t, tree.Remove(boxes[0]))
		require.True(t, tree.Remove(boxes[1]))

		boxes[2].bounds = NewRect(80, 80, 1, 1)
		require.True(t, tree.Update(boxes[2]))
		require.Equal(t, 5, tree.TotalNodes())
		require.Equal(t, tree.nodes.get(tree.root).children[se], tree.index[boxes[2]])
		checkInvariants(t, tree)
	})

	t.Run("relocation merges when enabled", func(t *testing.T) {
		tree := newTestTree(t, WithMergeOnUpdate(true))
		boxes := fiveInNorthWest()
		for _, b := range boxes {
			require.NoError(t, tree.Insert(b))
		}
		require.True(t, tree.Remove(boxes[0]))
		require.True(t, tree.Remove(boxes[1]))

		boxes[2].bounds = NewRect(80, 80, 1, 1)
		require.True(t, tree.Update(boxes[2]))
		require.Equal(t, 1, tree.TotalNodes())
		require.Equal(t, tree.root, tree.index[boxes[2]])
		require.Equal(t, ids(boxes[2:]), ids(tree.Query(tree.Bounds())))
		checkInvariants(t, tree)
	})
}

func TestQuadtreeQuery(t *testing.T) {
	tree := newTestTree(t)
	boxes := fiveInNorthWest()
	for _, b := range boxes {
		require.NoError(t, tree.Insert(b))
	}

	t.Run("area touching an edge does not match", func(t *testing.T) {
		require.Empty(t, tree.Query(NewRect(2, 1, 1, 1)))
	})

	t.Run("area outside the tree", func(t *testing.T) {
		require.Empty(t, tree.Query(NewRect(200, 200, 10, 10)))
	})

	t.Run("visit stops the query", func(t *testing.T) {
		var visited int
		tree.QueryFunc(tree.Bounds(), func(*box) bool {
			visited++
			return false
		})
		require.Equal(t, 1, visited)
	})

	t.Run("visit is called for each match", func(t *testing.T) {
		var visited []*box
		tree.QueryFunc(NewRect(0, 0, 15, 15), func(b *box) bool {
			visited = append(visited, b)
			return true
		})
		require.Equal(t, []int{1, 2}, ids(visited))
	})
}

func TestQuadtreeClear(t *testing.T) {
	tree := newTestTree(t)
	boxes := fiveInNorthWest()
	for _, b := range boxes {
		require.NoError(t, tree.Insert(b))
	}
	require.Equal(t, 5, tree.TotalNodes())

	tree.Clear()
	require.Equal(t, 1, tree.TotalNodes())
	require.Equal(t, 4, tree.PooledNodes())
	require.Zero(t, tree.TotalObjects())
	require.Empty(t, tree.Query(tree.Bounds()))
	require.Equal(t, NewRect(0, 0, 100, 100), tree.Bounds())
	require.True(t, tree.nodes.get(tree.root).isLeaf())
	checkInvariants(t, tree)

	for _, b := range boxes {
		require.NoError(t, tree.Insert(b))
	}
	require.Equal(t, 5, tree.TotalNodes())
	require.Zero(t, tree.PooledNodes())
	checkInvariants(t, tree)
}

func TestQuadtreeWalkNodes(t *testing.T) {
	tree := newTestTree(t)
	for _, b := range fiveInNorthWest() {
		require.NoError(t, tree.Insert(b))
	}

	var nodes []NodeInfo
	tree.WalkNodes(func(n NodeInfo) bool {
		nodes = append(nodes, n)
		return true
	})

	require.Len(t, nodes, 5)
	require.Equal(t, NodeInfo{Bounds: tree.Bounds(), Depth: 0, Leaf: false}, nodes[0])
	require.Equal(t, NodeInfo{Bounds: NewRect(0, 0, 50, 50), Depth: 1, Objects: 5, Leaf: true}, nodes[1])

	var visited int
	tree.WalkNodes(func(NodeInfo) bool {
		visited++
		return visited < 2
	})
	require.Equal(t, 2, visited)
}

func TestQuadtreeRandomOperations(t *testing.T) {
	for _, capacity := range []int{MergeThreshold + 1, 4, 16} {
		for _, mergeOnUpdate := range []bool{false, true} {
			name := fmt.Sprintf("capacity=%d merge_on_update=%t", capacity, mergeOnUpdate)
			t.Run(name, func(t *testing.T) {
				rnd := rand.New(rand.NewSource(int64(capacity)))
				tree := newTestTree(t,
					WithCapacity(capacity),
					WithMergeOnUpdate(mergeOnUpdate),
				)

				var boxes []*box
				tracked := make(map[*box]struct{})

				for i := 0; i < 3000; i++ {
					switch op := rnd.Intn(10); {
					case op < 4 || len(boxes) == 0:
						b := &box{id: i, bounds: randomRect(rnd)}
						require.NoError(t, tree.Insert(b))
						boxes = append(boxes, b)
						tracked[b] = struct{}{}

					case op < 6:
						b := boxes[rnd.Intn(len(boxes))]
						_, ok := tracked[b]
						require.Equal(t, ok, tree.Remove(b))
						delete(tracked, b)

					default:
						b := boxes[rnd.Intn(len(boxes))]
						b.bounds = moveRect(rnd, b.bounds)
						_, ok := tracked[b]
						require.Equal(t, ok, tree.Update(b))
					}

					if i%100 == 0 {
						checkInvariants(t, tree)
						checkQueries(t, tree, tracked, rnd)
					}
				}

				checkInvariants(t, tree)
				checkQueries(t, tree, tracked, rnd)

				for b := range tracked {
					require.True(t, tree.Remove(b))
				}
				require.Zero(t, tree.TotalObjects())
				require.Equal(t, 1, tree.TotalNodes())
				checkInvariants(t, tree)
			})
		}
	}
}

func randomRect(rnd *rand.Rand) Rect {
	return NewRect(
		rnd.Float64()*110-5,
		rnd.Float64()*110-5,
		rnd.Float64()*8+0.1,
		rnd.Float64()*8+0.1,
	)
}

func moveRect(rnd *rand.Rand, r Rect) Rect {
	if rnd.Intn(4) == 0 {
		return randomRect(rnd)
	}
	r.X += rnd.Float64()*4 - 2
	r.Y += rnd.Float64()*4 - 2
	return r
}

// checkQueries compares random queries against a linear scan of the tracked
// objects.
func checkQueries(t *testing.T, tree *Quadtree[*box], tracked map[*box]struct{}, rnd *rand.Rand) {
	areas := []Rect{
		tree.Bounds(),
		NewRect(-1000, -1000, 2000, 2000),
	}
	for i := 0; i < 10; i++ {
		areas = append(areas, NewRect(
			rnd.Float64()*100,
			rnd.Float64()*100,
			rnd.Float64()*50+0.1,
			rnd.Float64()*50+0.1,
		))
	}

	for _, area := range areas {
		var want []*box
		for b := range tracked {
			if b.bounds.Intersects(area) {
				want = append(want, b)
			}
		}

		got := tree.Query(area)
		require.Equal(t, ids(want), ids(got), "area %s", area)
	}

	all := tree.Query(NewRect(-1000, -1000, 2000, 2000))
	require.Len(t, all, len(tracked))
}

// checkInvariants walks the whole arena and verifies the structure of the
// tree against the object index.
func checkInvariants[T comparable](t *testing.T, tree *Quadtree[T]) {
	t.Helper()

	free := make(map[nodeID]bool, len(tree.nodes.free))
	for _, id := range tree.nodes.free {
		require.False(t, free[id], "node %d released twice", id)
		free[id] = true

		n := tree.nodes.get(id)
		require.Empty(t, n.objects, "pooled node %d holds objects", id)
		require.True(t, n.isLeaf(), "pooled node %d has children", id)
		require.Equal(t, noNode, n.parent, "pooled node %d has a parent", id)
	}
	require.False(t, free[tree.root], "root is pooled")

	var reachable, objects int
	var walk func(id nodeID)
	walk = func(id nodeID) {
		reachable++
		require.False(t, free[id], "reachable node %d is pooled", id)

		n := tree.nodes.get(id)
		require.Equal(t, tree.capacity, n.capacity)
		objects += len(n.objects)

		for obj, bounds := range n.objects {
			require.Equal(t, id, tree.index[obj], "object index disagrees with node %d", id)
			if id != tree.root {
				require.True(t, n.bounds.Encloses(bounds), "node %d does not enclose %s", id, bounds)
			}
		}

		if n.isLeaf() {
			for _, c := range n.children {
				require.Equal(t, noNode, c)
			}
			return
		}

		quadrants := n.bounds.quadrants()
		for i, c := range n.children {
			require.NotEqual(t, noNode, c, "node %d has a partial set of children", id)
			child := tree.nodes.get(c)
			require.Equal(t, id, child.parent)
			require.Equal(t, quadrants[i], child.bounds)
			walk(c)
		}
	}
	walk(tree.root)

	require.Equal(t, tree.TotalNodes(), reachable)
	require.Equal(t, len(tree.nodes.nodes), reachable+len(tree.nodes.free))
	require.Equal(t, tree.TotalObjects(), objects)
	require.Len(t, tree.Query(NewRect(-1e9, -1e9, 2e9, 2e9)), tree.TotalObjects())
}
