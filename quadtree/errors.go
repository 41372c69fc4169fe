package quadtree

const (
	// ErrTypeInvalidArgument is the type of errors returned when a bounding
	// rectangle has no area, the bounds accessor is missing or an option is
	// out of range.
	ErrTypeInvalidArgument = "quadtree-invalid-argument"

	// ErrTypeNotFound is the type of errors logged when an operation targets
	// an object that is not indexed.
	ErrTypeNotFound = "quadtree-not-found"

	// ErrTypeInconsistentState is the type of errors logged when the object
	// index and the nodes disagree about where an object lives.
	ErrTypeInconsistentState = "quadtree-inconsistent-state"
)
