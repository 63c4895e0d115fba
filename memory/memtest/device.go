// Package memtest provides an in-process memory.Device for tests and dry runs. Host-visible memory
// is backed by Go byte slices so mapped pointers can be written and read back.
package memtest

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/foundry/memory"
)

// FakeMemory is a DeviceMemory handed out by FakeDevice
type FakeMemory struct {
	MemoryTypeIndex int
	size            int
	data            []byte
	mapped          bool
	freed           bool
}

func (m *FakeMemory) Size() int { return m.size }

// Mapped reports whether the memory is currently mapped
func (m *FakeMemory) Mapped() bool { return m.mapped }

// Freed reports whether the memory was returned to the device
func (m *FakeMemory) Freed() bool { return m.freed }

// Data exposes the bytes behind this memory. It is nil until the memory is mapped.
func (m *FakeMemory) Data() []byte { return m.data }

// FakeDevice implements memory.Device with configurable memory types. Each heap has a byte
// budget: allocations past it fail with core1_0.VKErrorOutOfDeviceMemory.
type FakeDevice struct {
	mutex      sync.Mutex
	properties core1_0.PhysicalDeviceMemoryProperties
	heapUsage  []int
	live       map[*FakeMemory]struct{}

	// FailTypes makes every allocation from the listed memory types fail with the given result
	FailTypes map[int]common.VkResult

	AllocateCount int
	FreeCount     int
}

var _ memory.Device = &FakeDevice{}

func NewFakeDevice(memoryTypes []core1_0.MemoryType, memoryHeaps []core1_0.MemoryHeap) *FakeDevice {
	return &FakeDevice{
		properties: core1_0.PhysicalDeviceMemoryProperties{
			MemoryTypes: memoryTypes,
			MemoryHeaps: memoryHeaps,
		},
		heapUsage: make([]int, len(memoryHeaps)),
		live:      make(map[*FakeMemory]struct{}),
		FailTypes: make(map[int]common.VkResult),
	}
}

// NewDiscreteDevice builds a device laid out like a typical discrete GPU:
//
//	type 0: DeviceLocal                                heap 0
//	type 1: HostVisible | HostCoherent                 heap 1
//	type 2: HostVisible | HostCoherent | HostCached    heap 1
//	type 3: DeviceLocal | HostVisible | HostCoherent   heap 2
func NewDiscreteDevice(deviceHeapSize, hostHeapSize, sharedHeapSize int) *FakeDevice {
	hostAccess := core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent

	return NewFakeDevice(
		[]core1_0.MemoryType{
			{PropertyFlags: core1_0.MemoryPropertyDeviceLocal, HeapIndex: 0},
			{PropertyFlags: hostAccess, HeapIndex: 1},
			{PropertyFlags: hostAccess | core1_0.MemoryPropertyHostCached, HeapIndex: 1},
			{PropertyFlags: core1_0.MemoryPropertyDeviceLocal | hostAccess, HeapIndex: 2},
		},
		[]core1_0.MemoryHeap{
			{Size: deviceHeapSize, Flags: core1_0.MemoryHeapDeviceLocal},
			{Size: hostHeapSize},
			{Size: sharedHeapSize, Flags: core1_0.MemoryHeapDeviceLocal},
		},
	)
}

func (d *FakeDevice) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return &d.properties
}

func (d *FakeDevice) AllocateMemory(memoryTypeIndex int, size int) (memory.DeviceMemory, common.VkResult, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if memoryTypeIndex < 0 || memoryTypeIndex >= len(d.properties.MemoryTypes) {
		return nil, core1_0.VKErrorUnknown, errors.Errorf("memory type %d does not exist", memoryTypeIndex)
	}

	res, fail := d.FailTypes[memoryTypeIndex]
	if fail {
		return nil, res, res.ToError()
	}

	heapIndex := d.properties.MemoryTypes[memoryTypeIndex].HeapIndex
	if d.heapUsage[heapIndex]+size > d.properties.MemoryHeaps[heapIndex].Size {
		return nil, core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError()
	}

	d.heapUsage[heapIndex] += size
	d.AllocateCount++

	mem := &FakeMemory{MemoryTypeIndex: memoryTypeIndex, size: size}
	d.live[mem] = struct{}{}
	return mem, core1_0.VKSuccess, nil
}

func (d *FakeDevice) FreeMemory(mem memory.DeviceMemory) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	fake := mem.(*FakeMemory)
	if fake.freed {
		panic("memory freed twice")
	}
	if fake.mapped {
		panic("memory freed while still mapped")
	}

	fake.freed = true
	fake.data = nil
	delete(d.live, fake)
	d.heapUsage[d.properties.MemoryTypes[fake.MemoryTypeIndex].HeapIndex] -= fake.size
	d.FreeCount++
}

func (d *FakeDevice) MapMemory(mem memory.DeviceMemory) (unsafe.Pointer, common.VkResult, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	fake := mem.(*FakeMemory)
	if d.properties.MemoryTypes[fake.MemoryTypeIndex].PropertyFlags&core1_0.MemoryPropertyHostVisible == 0 {
		return nil, core1_0.VKErrorMemoryMapFailed, core1_0.VKErrorMemoryMapFailed.ToError()
	}
	if fake.mapped {
		return nil, core1_0.VKErrorMemoryMapFailed, errors.New("memory is already mapped")
	}

	fake.data = make([]byte, fake.size)
	fake.mapped = true
	return unsafe.Pointer(&fake.data[0]), core1_0.VKSuccess, nil
}

func (d *FakeDevice) UnmapMemory(mem memory.DeviceMemory) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	mem.(*FakeMemory).mapped = false
}

// HeapUsage is the number of bytes currently allocated from a heap
func (d *FakeDevice) HeapUsage(heapIndex int) int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.heapUsage[heapIndex]
}

// LiveCount is the number of allocations that have not been freed
func (d *FakeDevice) LiveCount() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return len(d.live)
}
