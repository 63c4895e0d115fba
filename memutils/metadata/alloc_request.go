package metadata

// AllocationRequestType is an enum that indicates the type of allocation that is being made.
// It is returned in AllocationRequest from CreateAllocationRequest
type AllocationRequestType uint32

const (
	// AllocationRequestBuddy indicates that the allocation request was sourced from metadata.BuddyBlockMetadata
	AllocationRequestBuddy AllocationRequestType = iota
)

var allocationRequestMapping = map[AllocationRequestType]string{
	AllocationRequestBuddy: "Buddy",
}

func (t AllocationRequestType) String() string {
	return allocationRequestMapping[t]
}

// AllocationRequest is a type returned from BlockMetadata.CreateAllocationRequest which indicates where and how
// the metadata intends to allocate new memory. This allocation can be applied to the actual memory system consuming
// memutils, and then committed to the metadata with BlockMetadata.Alloc
type AllocationRequest struct {
	// BlockAllocationHandle is a numeric handle used to identify individual allocations within the metadata
	BlockAllocationHandle BlockAllocationHandle
	// Size the total size of the region that will be reserved, which may be larger than what was
	// originally requested
	Size int
	// Item is a Suballocation object indicating where the allocation will land and how many bytes
	// were requested
	Item Suballocation
	// Type identifies the sort of allocation this request represents (and can be used
	// to identify the BlockMetadata implementation used to generate this request).
	Type AllocationRequestType

	// AlgorithmData is arbitrary data used by the BlockMetadata implementation for internal
	// purposes
	AlgorithmData uint64
}
