package metadata

import "math"

// BlockAllocationHandle identifies a single live allocation inside a BlockMetadata. For the buddy
// implementation it is the index of the tree node that serves the allocation.
type BlockAllocationHandle uint64

const (
	NoAllocation BlockAllocationHandle = math.MaxUint64
)

// Suballocation describes a region inside a block
type Suballocation struct {
	Offset   int
	Size     int
	UserData any
}
