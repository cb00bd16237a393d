package packed

import "github.com/pkg/errors"

// ErrCapacityExceeded is returned whenever a block has not enough free space
// left for an allocation. It is an expected condition and will usually be
// handled by splitting a node.
var ErrCapacityExceeded = errors.New("packed: block capacity exceeded")

// ErrBadLayout flags a block or region whose offsets or sizes are corrupt.
var ErrBadLayout = errors.New("packed: bad block layout")

// ErrVersion is returned for regions written in an unknown format version.
var ErrVersion = errors.New("packed: unsupported format version")

// ErrKind is returned if a region holds a different structure than expected.
var ErrKind = errors.New("packed: structure kind mismatch")

// ErrValueRange is returned if a value, or the sum it would contribute to,
// does not fit into an int64.
var ErrValueRange = errors.New("packed: value exceeds range of sums")
