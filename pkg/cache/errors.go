package cache

import "errors"

var (
	// ErrAssetCorrupt means downloaded bytes do not hash to the declared value
	ErrAssetCorrupt = errors.New("asset corrupt")
	// ErrHashCollision means two different files claim the same hash
	ErrHashCollision = errors.New("hash collision")
)
