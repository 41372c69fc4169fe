package featureflag

type Flag string

const (
	// Lets quadtree updates collapse underflowing subtrees before reinserting.
	FlagMergeOnUpdate Flag = "MERGE_ON_UPDATE"

	// Stops pushing per-frame body snapshots to viewers. Viewers still get a
	// snapshot when they set a viewport.
	FlagDisableViewerBroadcast Flag = "DISABLE_VIEWER_BROADCAST"
)
