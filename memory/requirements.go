package memory

import "github.com/vkngwrapper/core/v2/core1_0"

// DedicatedMode controls whether an allocation gets a driver allocation of its own
type DedicatedMode int32

const (
	// DedicatedNone suballocates from a shared block unless the request is larger than a block
	DedicatedNone DedicatedMode = iota
	// DedicatedPreferred tries a dedicated allocation first and falls back to shared blocks if
	// the memory type is out of memory
	DedicatedPreferred
	// DedicatedRequired always uses a dedicated allocation
	DedicatedRequired
)

var dedicatedModeMapping = map[DedicatedMode]string{
	DedicatedNone:      "None",
	DedicatedPreferred: "Preferred",
	DedicatedRequired:  "Required",
}

func (m DedicatedMode) String() string {
	return dedicatedModeMapping[m]
}

// Requirements is what a resource reports it needs from the pool. The embedded
// core1_0.MemoryRequirements carries the size, alignment and permitted memory types exactly as the
// driver reports them for a buffer or image. A zero MemoryTypeBits permits every memory type.
type Requirements struct {
	core1_0.MemoryRequirements
	Dedicated DedicatedMode
}
