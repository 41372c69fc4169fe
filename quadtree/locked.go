package quadtree

import "sync"

// Locked guards a Quadtree with a read-write mutex. Mutations are exclusive
// while queries and counters can run concurrently.
type Locked[T comparable] struct {
	mutex sync.RWMutex
	tree  *Quadtree[T]
}

// NewLocked creates a quadtree like New and wraps it in a Locked.
func NewLocked[T comparable](bounds Rect, boundsOf BoundsFunc[T], opts ...Option) (*Locked[T], error) {
	tree, err := New(bounds, boundsOf, opts...)
	if err != nil {
		return nil, err
	}
	return &Locked[T]{tree: tree}, nil
}

func (l *Locked[T]) Insert(obj T) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return l.tree.Insert(obj)
}

func (l *Locked[T]) Remove(obj T) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return l.tree.Remove(obj)
}

func (l *Locked[T]) Update(obj T) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return l.tree.Update(obj)
}

func (l *Locked[T]) Clear() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.tree.Clear()
}

// Batch runs fn with exclusive access to the underlying tree. It is meant for
// updating many objects in a single critical section, like once per frame.
func (l *Locked[T]) Batch(fn func(*Quadtree[T])) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	fn(l.tree)
}

func (l *Locked[T]) Query(area Rect) []T {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.tree.Query(area)
}

// QueryFunc calls visit while holding the read lock. visit must not modify
// the tree.
func (l *Locked[T]) QueryFunc(area Rect, visit func(T) bool) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	l.tree.QueryFunc(area, visit)
}

// View runs fn with shared access to the underlying tree. fn must not modify
// the tree.
func (l *Locked[T]) View(fn func(*Quadtree[T])) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	fn(l.tree)
}

func (l *Locked[T]) Contains(obj T) bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.tree.Contains(obj)
}

func (l *Locked[T]) Bounds() Rect {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.tree.Bounds()
}

func (l *Locked[T]) TotalNodes() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.tree.TotalNodes()
}

func (l *Locked[T]) TotalObjects() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.tree.TotalObjects()
}
