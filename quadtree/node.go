package quadtree

// nodeID is the index of a node in the arena. Parent links are nodeIDs, so
// they never own the node they point to.
type nodeID int32

const noNode nodeID = -1

// Quadrant order of node children.
const (
	nw = iota
	ne
	sw
	se
)

var noChildren = [4]nodeID{noNode, noNode, noNode, noNode}

type node[T comparable] struct {
	bounds   Rect
	capacity int
	objects  map[T]Rect
	children [4]nodeID
	parent   nodeID
}

func (n *node[T]) isLeaf() bool {
	return n.children[nw] == noNode
}

func (n *node[T]) init(bounds Rect, capacity int, parent nodeID) {
	n.bounds = bounds
	n.capacity = capacity
	n.children = noChildren
	n.parent = parent
	if n.objects == nil {
		n.objects = make(map[T]Rect, capacity+1)
	}
}

// reset detaches the node. The object map is kept so a reused node does not
// allocate again.
func (n *node[T]) reset() {
	clear(n.objects)
	n.children = noChildren
	n.parent = noNode
}

// nodeArena stores every node ever created. Released slots are pushed on the
// free stack and handed out again before the arena grows.
type nodeArena[T comparable] struct {
	nodes []node[T]
	free  []nodeID
	live  int
}

// get returns the node stored at the given id. The pointer is only valid
// until the next alloc since the arena may grow.
func (a *nodeArena[T]) get(id nodeID) *node[T] {
	return &a.nodes[id]
}

// alloc returns a detached node initialized with the given values. pooled
// reports whether the node was taken from the free stack.
func (a *nodeArena[T]) alloc(bounds Rect, capacity int, parent nodeID) (id nodeID, pooled bool) {
	if l := len(a.free); l != 0 {
		id = a.free[l-1]
		a.free = a.free[:l-1]
		pooled = true
	} else {
		a.nodes = append(a.nodes, node[T]{})
		id = nodeID(len(a.nodes) - 1)
	}

	a.get(id).init(bounds, capacity, parent)
	a.live++
	return id, pooled
}

func (a *nodeArena[T]) release(id nodeID) {
	a.get(id).reset()
	a.free = append(a.free, id)
	a.live--
}

func (a *nodeArena[T]) pooled() int {
	return len(a.free)
}
