package pool

import "errors"

// Sentinel errors for the pool package.
var (
	// ErrDBPathRequired is returned when a pool operation is attempted without a path.
	ErrDBPathRequired = errors.New("database path is required")
)
