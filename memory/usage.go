package memory

import "github.com/vkngwrapper/core/v2/core1_0"

// Usage describes how a resource's memory will be accessed. The pool turns it into a set
// of required and preferred memory property flags when choosing a memory type.
type Usage int32

const (
	// UsageGPUOnly memory is only touched by the device. Device-local memory is preferred.
	UsageGPUOnly Usage = iota
	// UsageCPUOnly memory is written by the host and read by the device rarely, usually as a
	// staging source. It must be host visible and coherent, and device-local memory is avoided.
	UsageCPUOnly
	// UsageCPUToGPU memory is written by the host every frame and read by the device. It must be
	// host visible and coherent, and device-local memory is preferred.
	UsageCPUToGPU
	// UsageGPUToCPU memory is written by the device and read back by the host. It must be host
	// visible and coherent, and cached memory is preferred.
	UsageGPUToCPU

	usageCount
)

var usageMapping = map[Usage]string{
	UsageGPUOnly:  "GPUOnly",
	UsageCPUOnly:  "CPUOnly",
	UsageCPUToGPU: "CPUToGPU",
	UsageGPUToCPU: "GPUToCPU",
}

func (u Usage) String() string {
	str, ok := usageMapping[u]
	if !ok {
		return "Unknown"
	}
	return str
}

// IsValid reports whether u is one of the declared usage classes
func (u Usage) IsValid() bool {
	return u >= 0 && u < usageCount
}

// IsHostVisible reports whether memory for this usage is always mapped into host address space
func (u Usage) IsHostVisible() bool {
	return u != UsageGPUOnly
}

func (u Usage) preferences() (requiredFlags, preferredFlags, notPreferredFlags core1_0.MemoryPropertyFlags) {
	hostAccess := core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent

	switch u {
	case UsageGPUOnly:
		preferredFlags = core1_0.MemoryPropertyDeviceLocal
	case UsageCPUOnly:
		requiredFlags = hostAccess
		notPreferredFlags = core1_0.MemoryPropertyDeviceLocal
	case UsageCPUToGPU:
		requiredFlags = hostAccess
		preferredFlags = core1_0.MemoryPropertyDeviceLocal
	case UsageGPUToCPU:
		requiredFlags = hostAccess
		preferredFlags = core1_0.MemoryPropertyHostCached
	}

	return requiredFlags, preferredFlags, notPreferredFlags
}
