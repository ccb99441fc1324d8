package loader

import "errors"

var (
	// ErrInvalidState is returned for an operation the loader's state does not allow
	ErrInvalidState = errors.New("invalid loader state")
	// ErrCancelled ends a load whose context was cancelled
	ErrCancelled = errors.New("load cancelled")
	// ErrLaunchAssetFailed ends a load whose launch asset could not be materialized
	ErrLaunchAssetFailed = errors.New("launch asset failed")
	// ErrPartialUpdate ends a load with failed assets when partial commits are disabled
	ErrPartialUpdate = errors.New("update has failed assets")
)
