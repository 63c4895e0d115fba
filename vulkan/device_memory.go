// Package vulkan binds the memory pool to a real Vulkan device through vkngwrapper.
package vulkan

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/foundry/memory"
	"github.com/vkngwrapper/foundry/memutils"
)

// Memory is a memory.DeviceMemory backed by a core1_0.DeviceMemory
type Memory struct {
	memory          core1_0.DeviceMemory
	memoryTypeIndex int
	size            int
}

func (m *Memory) Size() int { return m.size }

// VulkanDeviceMemory is the driver object that resources should be bound to
func (m *Memory) VulkanDeviceMemory() core1_0.DeviceMemory { return m.memory }

// DeviceMemory implements memory.Device for a logical device. It tracks how many driver
// allocations exist per heap and enforces optional per-heap limits.
type DeviceMemory struct {
	// Number of real allocations that have been made from device memory
	blockCount [common.MaxMemoryHeaps]int32
	// Size of real allocations that have been made from device memory
	blockBytes [common.MaxMemoryHeaps]int64

	memoryCount         uint32
	maxAllocationCount  int
	heapLimits          []int
	allocationCallbacks *driver.AllocationCallbacks

	device           core1_0.Device
	memoryProperties *core1_0.PhysicalDeviceMemoryProperties
}

var _ memory.Device = &DeviceMemory{}

// NewDeviceMemory reads the memory layout of physicalDevice. heapSizeLimits is either empty or has
// one entry per heap, where 0 means the heap is unlimited.
func NewDeviceMemory(
	device core1_0.Device,
	physicalDevice core1_0.PhysicalDevice,
	allocationCallbacks *driver.AllocationCallbacks,
	heapSizeLimits []int,
) (*DeviceMemory, error) {
	deviceProperties, err := physicalDevice.Properties()
	if err != nil {
		return nil, err
	}

	memoryProperties := physicalDevice.MemoryProperties()

	heapLimitCount := len(heapSizeLimits)
	if heapLimitCount > 0 && heapLimitCount != len(memoryProperties.MemoryHeaps) {
		return nil, errors.New("heap size limits were provided, but the length does not equal the number of PhysicalDevice heaps")
	}
	if heapLimitCount == 0 {
		heapSizeLimits = make([]int, len(memoryProperties.MemoryHeaps))
	}

	err = memutils.CheckPow2(deviceProperties.Limits.NonCoherentAtomSize, "device nonCoherentAtomSize")
	if err != nil {
		return nil, err
	}

	return &DeviceMemory{
		maxAllocationCount:  deviceProperties.Limits.MaxMemoryAllocationCount,
		heapLimits:          heapSizeLimits,
		allocationCallbacks: allocationCallbacks,
		device:              device,
		memoryProperties:    memoryProperties,
	}, nil
}

func (m *DeviceMemory) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return m.memoryProperties
}

func (m *DeviceMemory) addBlockAllocation(heapIndex, allocationSize int) (common.VkResult, error) {
	limit := m.heapLimits[heapIndex]
	if limit == 0 {
		atomic.AddInt64(&m.blockBytes[heapIndex], int64(allocationSize))
		atomic.AddInt32(&m.blockCount[heapIndex], 1)
		return core1_0.VKSuccess, nil
	}

	maxAllocatable := min(limit, m.memoryProperties.MemoryHeaps[heapIndex].Size)
	for {
		currentVal := atomic.LoadInt64(&m.blockBytes[heapIndex])
		targetVal := currentVal + int64(allocationSize)

		if targetVal > int64(maxAllocatable) {
			return core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError()
		}

		if atomic.CompareAndSwapInt64(&m.blockBytes[heapIndex], currentVal, targetVal) {
			break
		}
	}

	atomic.AddInt32(&m.blockCount[heapIndex], 1)
	return core1_0.VKSuccess, nil
}

func (m *DeviceMemory) removeBlockAllocation(heapIndex, allocationSize int) {
	newVal := atomic.AddInt64(&m.blockBytes[heapIndex], int64(-allocationSize))
	if newVal < 0 {
		panic(fmt.Sprintf("block bytes for heapIndex %d went negative", heapIndex))
	}

	newCountVal := atomic.AddInt32(&m.blockCount[heapIndex], -1)
	if newCountVal < 0 {
		panic(fmt.Sprintf("block count for heapIndex %d went negative", heapIndex))
	}
}

func (m *DeviceMemory) AllocateMemory(memoryTypeIndex int, size int) (mem memory.DeviceMemory, res common.VkResult, err error) {
	newDeviceCount := atomic.AddUint32(&m.memoryCount, 1)
	defer func() {
		// If we failed out, roll back the device increment
		if err != nil {
			atomic.AddUint32(&m.memoryCount, ^uint32(0))
		}
	}()

	if m.maxAllocationCount > 0 && int(newDeviceCount) > m.maxAllocationCount {
		return nil, core1_0.VKErrorTooManyObjects, core1_0.VKErrorTooManyObjects.ToError()
	}

	heapIndex := m.memoryProperties.MemoryTypes[memoryTypeIndex].HeapIndex
	res, err = m.addBlockAllocation(heapIndex, size)
	if err != nil {
		return nil, res, err
	}
	defer func() {
		// If we failed out, roll back the block allocation
		if err != nil {
			m.removeBlockAllocation(heapIndex, size)
		}
	}()

	vulkanMem, res, err := m.device.AllocateMemory(m.allocationCallbacks, core1_0.MemoryAllocateInfo{
		AllocationSize:  size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		return nil, res, err
	}

	return &Memory{
		memory:          vulkanMem,
		memoryTypeIndex: memoryTypeIndex,
		size:            size,
	}, res, nil
}

func (m *DeviceMemory) FreeMemory(mem memory.DeviceMemory) {
	vulkanMem := mem.(*Memory)
	vulkanMem.memory.Free(m.allocationCallbacks)

	heapIndex := m.memoryProperties.MemoryTypes[vulkanMem.memoryTypeIndex].HeapIndex
	m.removeBlockAllocation(heapIndex, vulkanMem.size)
	atomic.AddUint32(&m.memoryCount, ^uint32(0))
}

// MapMemory maps the whole allocation. A size of -1 is VK_WHOLE_SIZE.
func (m *DeviceMemory) MapMemory(mem memory.DeviceMemory) (unsafe.Pointer, common.VkResult, error) {
	return mem.(*Memory).memory.Map(0, -1, 0)
}

func (m *DeviceMemory) UnmapMemory(mem memory.DeviceMemory) {
	mem.(*Memory).memory.Unmap()
}

// HeapStatistics reports the driver allocations currently made from a heap
func (m *DeviceMemory) HeapStatistics(heapIndex int) memutils.Statistics {
	return memutils.Statistics{
		BlockCount: int(atomic.LoadInt32(&m.blockCount[heapIndex])),
		BlockBytes: int(atomic.LoadInt64(&m.blockBytes[heapIndex])),
	}
}
