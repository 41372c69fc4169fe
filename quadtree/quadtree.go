// Package quadtree provides a dynamic region quadtree indexing movable objects
// by their bounding rectangle.
//
// Nodes split when they hold more than their capacity and subtrees collapse
// back into a single node when they hold MergeThreshold objects or less.
// Released nodes are kept in a pool and reused by later splits, which keeps
// allocations low when objects are inserted, moved and removed every frame.
//
// A Quadtree is not safe for concurrent use. Wrap it with NewLocked when it is
// shared between goroutines.
package quadtree

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

const (
	// DefaultCapacity is the number of objects a leaf holds before splitting.
	DefaultCapacity = 4

	// MergeThreshold is the object count at or under which a subtree collapses
	// into its root node. It is lower than the capacity so a count oscillating
	// around the capacity does not split and merge on every change.
	MergeThreshold = 2

	defaultName = "default"
)

// BoundsFunc returns the current bounds of an object. It must be
// deterministic for a given object state.
type BoundsFunc[T comparable] func(T) Rect

// Option configures a Quadtree.
type Option func(*options)

type options struct {
	name          string
	capacity      int
	mergeOnUpdate bool
}

// WithCapacity sets the number of objects a leaf holds before splitting.
func WithCapacity(n int) Option {
	return func(o *options) {
		o.capacity = n
	}
}

// WithMergeOnUpdate makes Update try to collapse the node an object leaves
// when it moves out of it. It is off by default so objects moving every frame
// do not cause merge churn.
func WithMergeOnUpdate(v bool) Option {
	return func(o *options) {
		o.mergeOnUpdate = v
	}
}

// WithName sets the name used to label the index metrics and logs.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// Quadtree is a region quadtree that indexes objects of type T. Objects are
// keyed by identity, so T is usually an id or a pointer.
type Quadtree[T comparable] struct {
	name          string
	capacity      int
	mergeOnUpdate bool
	boundsOf      BoundsFunc[T]

	root  nodeID
	nodes nodeArena[T]

	// Where each object currently lives.
	index map[T]nodeID
}

// New creates a quadtree covering the given bounds. It returns an error when
// bounds has no area, boundsOf is nil or the capacity is not greater than
// MergeThreshold.
func New[T comparable](bounds Rect, boundsOf BoundsFunc[T], opts ...Option) (*Quadtree[T], error) {
	o := options{
		name:     defaultName,
		capacity: DefaultCapacity,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if bounds.Empty() {
		return nil, errors.New("quadtree bounds have zero area").
			WithType(ErrTypeInvalidArgument).
			WithTag("bounds", bounds)
	}

	if boundsOf == nil {
		return nil, errors.New("quadtree bounds accessor is nil").
			WithType(ErrTypeInvalidArgument)
	}

	if o.capacity <= MergeThreshold {
		return nil, errors.New("quadtree capacity must be greater than the merge threshold").
			WithType(ErrTypeInvalidArgument).
			WithTag("capacity", o.capacity).
			WithTag("merge_threshold", MergeThreshold)
	}

	t := &Quadtree[T]{
		name:          o.name,
		capacity:      o.capacity,
		mergeOnUpdate: o.mergeOnUpdate,
		boundsOf:      boundsOf,
		index:         make(map[T]nodeID),
	}
	t.root = t.allocNode(bounds, noNode)
	return t, nil
}

// Insert places the object in the deepest node that encloses its bounds. An
// object that is already indexed is relocated: it stays in its node when the
// node still encloses its bounds, otherwise it is placed again from the root.
// Relocating never merges subtrees.
func (t *Quadtree[T]) Insert(obj T) error {
	bounds := t.boundsOf(obj)
	if bounds.Empty() {
		return errors.New("object bounds have zero area").
			WithType(ErrTypeInvalidArgument).
			WithTag("index", t.name).
			WithTag("bounds", bounds)
	}

	if id, ok := t.index[obj]; ok {
		logs.WithTag("index", t.name).
			WithTag("bounds", bounds).
			Info("object already indexed, relocating it")

		n := t.nodes.get(id)
		if n.bounds.Encloses(bounds) {
			n.objects[obj] = bounds
			return nil
		}

		delete(n.objects, obj)
		delete(t.index, obj)
	}

	t.insert(t.root, obj, bounds)
	return nil
}

// Remove takes the object out of the index and collapses the subtrees that
// became small enough. It returns false when the object is not indexed.
func (t *Quadtree[T]) Remove(obj T) bool {
	id, ok := t.index[obj]
	if !ok {
		t.logNotFound("remove")
		return false
	}

	delete(t.nodes.get(id).objects, obj)
	delete(t.index, obj)
	t.mergeFrom(id)
	return true
}

// Update refreshes the placement of an object after its bounds changed. It
// returns false when the object is not indexed.
func (t *Quadtree[T]) Update(obj T) bool {
	id, ok := t.index[obj]
	if !ok {
		t.logNotFound("update")
		return false
	}

	bounds := t.boundsOf(obj)
	n := t.nodes.get(id)
	if n.bounds.Encloses(bounds) {
		n.objects[obj] = bounds
		return true
	}

	delete(n.objects, obj)
	delete(t.index, obj)
	instrumentRelocation(t.name)

	if t.mergeOnUpdate {
		// A merge may release any node between id and the root, so the
		// descent restarts from the root.
		t.mergeFrom(id)
		t.insert(t.root, obj, bounds)
		return true
	}

	for p := n.parent; p != noNode; p = t.nodes.get(p).parent {
		if t.nodes.get(p).bounds.Encloses(bounds) {
			t.insert(p, obj, bounds)
			return true
		}
	}

	t.insert(t.root, obj, bounds)
	return true
}

// Query returns the objects whose cached bounds intersect area.
func (t *Quadtree[T]) Query(area Rect) []T {
	var res []T
	t.query(t.root, area, func(obj T) bool {
		res = append(res, obj)
		return true
	})
	return res
}

// QueryFunc calls visit for each object whose cached bounds intersect area,
// without allocating a result slice. The query stops when visit returns
// false.
func (t *Quadtree[T]) QueryFunc(area Rect, visit func(T) bool) {
	t.query(t.root, area, visit)
}

// Clear removes every object and returns all nodes but the root to the pool.
func (t *Quadtree[T]) Clear() {
	t.releaseChildren(t.root)
	clear(t.nodes.get(t.root).objects)
	clear(t.index)
}

// Contains reports whether the object is indexed.
func (t *Quadtree[T]) Contains(obj T) bool {
	_, ok := t.index[obj]
	return ok
}

// CachedBounds returns the bounds recorded for the object at its last
// placement or update.
func (t *Quadtree[T]) CachedBounds(obj T) (Rect, bool) {
	id, ok := t.index[obj]
	if !ok {
		return Rect{}, false
	}

	b, ok := t.nodes.get(id).objects[obj]
	return b, ok
}

// Bounds returns the area covered by the quadtree.
func (t *Quadtree[T]) Bounds() Rect {
	return t.nodes.get(t.root).bounds
}

func (t *Quadtree[T]) Name() string {
	return t.name
}

func (t *Quadtree[T]) Capacity() int {
	return t.capacity
}

// TotalNodes returns the number of nodes in the tree, root included.
func (t *Quadtree[T]) TotalNodes() int {
	return t.nodes.live
}

// TotalObjects returns the number of indexed objects.
func (t *Quadtree[T]) TotalObjects() int {
	return len(t.index)
}

// PooledNodes returns the number of released nodes waiting for reuse.
func (t *Quadtree[T]) PooledNodes() int {
	return t.nodes.pooled()
}

// Depth returns the number of levels in the tree. A tree with only a root has
// a depth of 1.
func (t *Quadtree[T]) Depth() int {
	return t.depth(t.root)
}

// NodeInfo describes a node of the tree.
type NodeInfo struct {
	Bounds  Rect `json:"bounds"`
	Depth   int  `json:"depth"`
	Objects int  `json:"objects"`
	Leaf    bool `json:"leaf"`
}

// WalkNodes calls visit for each node in depth-first order, parents before
// children. The walk stops when visit returns false.
func (t *Quadtree[T]) WalkNodes(visit func(NodeInfo) bool) {
	t.walk(t.root, 0, visit)
}

func (t *Quadtree[T]) allocNode(bounds Rect, parent nodeID) nodeID {
	id, pooled := t.nodes.alloc(bounds, t.capacity, parent)
	instrumentNodeAllocation(t.name, pooled)
	return id
}

func (t *Quadtree[T]) insert(id nodeID, obj T, bounds Rect) {
	for {
		n := t.nodes.get(id)
		if n.isLeaf() {
			break
		}

		next := noNode
		for _, c := range n.children {
			if t.nodes.get(c).bounds.Encloses(bounds) {
				next = c
				break
			}
		}
		if next == noNode {
			break
		}
		id = next
	}

	n := t.nodes.get(id)
	n.objects[obj] = bounds
	t.index[obj] = id

	if n.isLeaf() && len(n.objects) > n.capacity {
		t.split(id)
	}
}

// split gives a leaf four children and moves down every object that fits in
// one of them. Objects straddling the children stay in the node.
func (t *Quadtree[T]) split(id nodeID) {
	if !t.nodes.get(id).isLeaf() {
		return
	}

	quadrants := t.nodes.get(id).bounds.quadrants()
	var children [4]nodeID
	for i, q := range quadrants {
		children[i] = t.allocNode(q, id)
	}

	n := t.nodes.get(id)
	n.children = children

	for obj, bounds := range n.objects {
		if t.index[obj] != id {
			logs.Error(errors.New("splitting node holds an object indexed elsewhere").
				WithType(ErrTypeInconsistentState).
				WithTag("index", t.name).
				WithTag("bounds", bounds))
		}

		for _, c := range children {
			child := t.nodes.get(c)
			if child.bounds.Encloses(bounds) {
				child.objects[obj] = bounds
				t.index[obj] = c
				delete(n.objects, obj)
				break
			}
		}
	}

	instrumentSplit(t.name)
}

// mergeFrom tries to collapse the subtrees above a node that just lost an
// object. A leaf cannot merge by itself, so the attempt starts at its parent.
func (t *Quadtree[T]) mergeFrom(id nodeID) {
	if n := t.nodes.get(id); n.isLeaf() {
		id = n.parent
	}
	t.tryMerge(id)
}

// tryMerge collapses the subtree rooted at id when it holds MergeThreshold
// objects or less, then does the same with its parent until a subtree is too
// large.
func (t *Quadtree[T]) tryMerge(id nodeID) {
	for id != noNode {
		n := t.nodes.get(id)
		if n.isLeaf() {
			return
		}

		if t.countObjects(id, MergeThreshold) > MergeThreshold {
			return
		}

		for _, c := range n.children {
			t.liftObjects(id, c)
		}
		t.releaseChildren(id)
		instrumentMerge(t.name)

		id = t.nodes.get(id).parent
	}
}

// countObjects returns the number of objects in the subtree rooted at id. It
// stops counting once the count is greater than limit.
func (t *Quadtree[T]) countObjects(id nodeID, limit int) int {
	n := t.nodes.get(id)
	count := len(n.objects)
	if n.isLeaf() {
		return count
	}

	for _, c := range n.children {
		if count > limit {
			break
		}
		count += t.countObjects(c, limit-count)
	}
	return count
}

// liftObjects moves every object of the subtree rooted at id into the target
// node.
func (t *Quadtree[T]) liftObjects(target, id nodeID) {
	n := t.nodes.get(id)
	if !n.isLeaf() {
		for _, c := range n.children {
			t.liftObjects(target, c)
		}
	}

	dst := t.nodes.get(target)
	for obj, bounds := range n.objects {
		if t.index[obj] != id {
			logs.Error(errors.New("merged node holds an object indexed elsewhere").
				WithType(ErrTypeInconsistentState).
				WithTag("index", t.name).
				WithTag("bounds", bounds))
		}

		dst.objects[obj] = bounds
		t.index[obj] = target
	}
	clear(n.objects)
}

// releaseChildren returns every descendant of id to the pool and turns id
// into a leaf.
func (t *Quadtree[T]) releaseChildren(id nodeID) {
	n := t.nodes.get(id)
	if n.isLeaf() {
		return
	}

	children := n.children
	n.children = noChildren

	for _, c := range children {
		t.releaseChildren(c)
		t.nodes.release(c)
	}
}

// query visits the matching objects of the subtree rooted at id. Objects
// outside the tree bounds are kept by the root, so the root objects are
// tested even when the root does not intersect area.
func (t *Quadtree[T]) query(id nodeID, area Rect, visit func(T) bool) bool {
	n := t.nodes.get(id)
	intersects := n.bounds.Intersects(area)
	if !intersects && id != t.root {
		return true
	}

	for obj, bounds := range n.objects {
		if bounds.Intersects(area) && !visit(obj) {
			return false
		}
	}

	if n.isLeaf() || !intersects {
		return true
	}

	for _, c := range n.children {
		if !t.query(c, area, visit) {
			return false
		}
	}
	return true
}

func (t *Quadtree[T]) depth(id nodeID) int {
	n := t.nodes.get(id)
	if n.isLeaf() {
		return 1
	}

	var deepest int
	for _, c := range n.children {
		if d := t.depth(c); d > deepest {
			deepest = d
		}
	}
	return deepest + 1
}

func (t *Quadtree[T]) walk(id nodeID, depth int, visit func(NodeInfo) bool) bool {
	n := t.nodes.get(id)
	if !visit(NodeInfo{
		Bounds:  n.bounds,
		Depth:   depth,
		Objects: len(n.objects),
		Leaf:    n.isLeaf(),
	}) {
		return false
	}

	if n.isLeaf() {
		return true
	}

	children := n.children
	for _, c := range children {
		if !t.walk(c, depth+1, visit) {
			return false
		}
	}
	return true
}

func (t *Quadtree[T]) logNotFound(op string) {
	logs.WithTag("index", t.name).
		WithTag("operation", op).
		Debug(errors.New("object is not indexed").
			WithType(ErrTypeNotFound))
}
