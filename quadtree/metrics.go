package quadtree

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	indexLabel  = "index"
	sourceLabel = "source"

	sourcePool = "pool"
	sourceNew  = "new"
)

var (
	quadtreeSplits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadtree_splits",
		Help: "The number of leaf nodes split into four children.",
	}, []string{indexLabel})

	quadtreeMerges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadtree_merges",
		Help: "The number of subtrees collapsed into their root node.",
	}, []string{indexLabel})

	quadtreeNodeAllocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadtree_node_allocations",
		Help: "The number of nodes handed out, by source (pool or new).",
	}, []string{indexLabel, sourceLabel})

	quadtreeRelocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadtree_relocations",
		Help: "The number of updates that moved an object to another node.",
	}, []string{indexLabel})
)

func instrumentSplit(index string) {
	quadtreeSplits.
		With(prometheus.Labels{indexLabel: index}).
		Inc()
}

func instrumentMerge(index string) {
	quadtreeMerges.
		With(prometheus.Labels{indexLabel: index}).
		Inc()
}

func instrumentNodeAllocation(index string, pooled bool) {
	source := sourceNew
	if pooled {
		source = sourcePool
	}

	quadtreeNodeAllocations.
		With(prometheus.Labels{
			indexLabel:  index,
			sourceLabel: source,
		}).
		Inc()
}

func instrumentRelocation(index string) {
	quadtreeRelocations.
		With(prometheus.Labels{indexLabel: index}).
		Inc()
}
