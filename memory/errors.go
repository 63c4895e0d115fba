package memory

import "github.com/cockroachdb/errors"

var (
	// ErrNoSuitableMemoryType is returned when no memory type permitted by a request has the
	// property flags its usage requires. Retrying will never succeed.
	ErrNoSuitableMemoryType = errors.New("no memory type satisfies the required property flags")
	// ErrOutOfMemory is returned when every suitable memory type failed to allocate
	ErrOutOfMemory = errors.New("device memory exhausted")
	// ErrAllocationFreed is returned when an allocation is freed a second time
	ErrAllocationFreed = errors.New("allocation has already been freed")
	// ErrInvalidRequirements is returned when a request has a non-positive size or an alignment
	// that is not a power of two
	ErrInvalidRequirements = errors.New("invalid memory requirements")
)
