package vulkan

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/foundry/memutils"
)

func testDeviceMemory(heapLimits []int) *DeviceMemory {
	return &DeviceMemory{
		heapLimits: heapLimits,
		memoryProperties: &core1_0.PhysicalDeviceMemoryProperties{
			MemoryTypes: []core1_0.MemoryType{
				{PropertyFlags: core1_0.MemoryPropertyDeviceLocal, HeapIndex: 0},
				{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, HeapIndex: 1},
			},
			MemoryHeaps: []core1_0.MemoryHeap{
				{Size: 1 << 20, Flags: core1_0.MemoryHeapDeviceLocal},
				{Size: 1 << 20},
			},
		},
	}
}

func TestHeapLimitRejectsOverflow(t *testing.T) {
	memory := testDeviceMemory([]int{4096, 0})

	res, err := memory.addBlockAllocation(0, 3000)
	require.NoError(t, err)
	require.Equal(t, core1_0.VKSuccess, res)

	res, err = memory.addBlockAllocation(0, 2000)
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorOutOfDeviceMemory, res)

	require.Equal(t, memutils.Statistics{BlockCount: 1, BlockBytes: 3000}, memory.HeapStatistics(0))

	memory.removeBlockAllocation(0, 3000)
	require.Equal(t, memutils.Statistics{}, memory.HeapStatistics(0))
}

func TestUnlimitedHeapOnlyCounts(t *testing.T) {
	memory := testDeviceMemory([]int{0, 0})

	for i := 0; i < 10; i++ {
		_, err := memory.addBlockAllocation(1, 1<<20)
		require.NoError(t, err)
	}

	require.Equal(t, memutils.Statistics{BlockCount: 10, BlockBytes: 10 << 20}, memory.HeapStatistics(1))
	require.Equal(t, memory.memoryProperties, memory.MemoryProperties())
}

func TestRemovingTooMuchPanics(t *testing.T) {
	memory := testDeviceMemory([]int{0, 0})

	require.Panics(t, func() {
		memory.removeBlockAllocation(0, 1)
	})
}

type fakeVulkanMemory struct {
	core1_0.DeviceMemory

	data  []byte
	maps  [][3]int
	freed bool
}

func (m *fakeVulkanMemory) Map(offset int, size int, flags core1_0.MemoryMapFlags) (unsafe.Pointer, common.VkResult, error) {
	m.maps = append(m.maps, [3]int{offset, size, int(flags)})
	return unsafe.Pointer(&m.data[0]), core1_0.VKSuccess, nil
}

func (m *fakeVulkanMemory) Unmap() {}

func (m *fakeVulkanMemory) Free(callbacks *driver.AllocationCallbacks) {
	m.freed = true
}

func TestMapMemoryMapsWholeSize(t *testing.T) {
	device := testDeviceMemory([]int{0, 0})
	native := &fakeVulkanMemory{data: make([]byte, 64)}
	mem := &Memory{memory: native, memoryTypeIndex: 1, size: 64}

	_, err := device.addBlockAllocation(1, 64)
	require.NoError(t, err)
	device.memoryCount = 1

	ptr, res, err := device.MapMemory(mem)
	require.NoError(t, err)
	require.Equal(t, core1_0.VKSuccess, res)
	require.Equal(t, unsafe.Pointer(&native.data[0]), ptr)
	require.Equal(t, [][3]int{{0, -1, 0}}, native.maps)

	device.UnmapMemory(mem)
	device.FreeMemory(mem)
	require.True(t, native.freed)
	require.Equal(t, memutils.Statistics{}, device.HeapStatistics(1))
}
