package memory

import (
	"unsafe"

	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

//go:generate mockgen -source device.go -destination ./mocks/device.go -package mocks

// DeviceMemory is a single allocation made directly from the driver
type DeviceMemory interface {
	// Size is the number of bytes that were requested from the driver
	Size() int
}

// Device is the driver boundary the Pool allocates through. Every method is called with the pool's
// lock held (when the pool is synchronized at all), so implementations do not need to lock internally.
//
// AllocateMemory and MapMemory report failures with both a VkResult and an error. The pool treats
// core1_0.VKErrorOutOfDeviceMemory and core1_0.VKErrorOutOfHostMemory as transient and moves on
// to the next suitable memory type. Any other failure is returned to the caller unchanged.
type Device interface {
	MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties
	AllocateMemory(memoryTypeIndex int, size int) (DeviceMemory, common.VkResult, error)
	FreeMemory(memory DeviceMemory)
	MapMemory(memory DeviceMemory) (unsafe.Pointer, common.VkResult, error)
	UnmapMemory(memory DeviceMemory)
}

func isOutOfMemory(res common.VkResult) bool {
	return res == core1_0.VKErrorOutOfDeviceMemory || res == core1_0.VKErrorOutOfHostMemory
}
