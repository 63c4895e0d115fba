package memory

import (
	"fmt"
	"unsafe"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/foundry/memutils/metadata"
)

// Allocation is a range of device memory handed out by a Pool. It remains valid until it is freed,
// which must happen exactly once.
type Allocation struct {
	pool      *Pool
	block     *deviceMemoryBlock
	leafIndex metadata.BlockAllocationHandle
	usage     Usage

	offset   int
	size     int
	nodeSize int
	freed    bool

	name     string
	userData any

	prevDedicated *Allocation
	nextDedicated *Allocation
}

func (a *Allocation) initBlockAllocation(block *deviceMemoryBlock, leafIndex metadata.BlockAllocationHandle, offset, size, nodeSize int) {
	a.block = block
	a.leafIndex = leafIndex
	a.offset = offset
	a.size = size
	a.nodeSize = nodeSize
}

func (a *Allocation) initDedicatedAllocation(block *deviceMemoryBlock, size int) {
	block.dedicated = a
	a.block = block
	a.leafIndex = metadata.NoAllocation
	a.offset = 0
	a.size = size
	a.nodeSize = block.size
}

func (a *Allocation) SetName(name string) {
	a.name = name
}

func (a *Allocation) Name() string {
	return a.name
}

func (a *Allocation) SetUserData(userData any) {
	a.userData = userData
}

func (a *Allocation) UserData() any {
	return a.userData
}

func (a *Allocation) Pool() *Pool                                { return a.pool }
func (a *Allocation) Usage() Usage                               { return a.usage }
func (a *Allocation) Memory() DeviceMemory                       { return a.block.memory }
func (a *Allocation) Offset() int                                { return a.offset }
func (a *Allocation) Size() int                                  { return a.size }
func (a *Allocation) MemoryTypeIndex() int                       { return a.block.memoryTypeIndex }
func (a *Allocation) PropertyFlags() core1_0.MemoryPropertyFlags { return a.block.propertyFlags }
func (a *Allocation) BlockID() int                               { return a.block.id }
func (a *Allocation) IsDedicated() bool                          { return a.block.IsDedicated() }
func (a *Allocation) IsFreed() bool                              { return a.freed }

// ReservedSize is the number of bytes the allocation holds inside its block. For suballocations
// this is the size of the buddy node that serves it.
func (a *Allocation) ReservedSize() int { return a.nodeSize }

// LeafIndex is the buddy tree node serving this allocation, or metadata.NoAllocation for
// dedicated allocations
func (a *Allocation) LeafIndex() metadata.BlockAllocationHandle { return a.leafIndex }

// MappedData returns a host pointer to the start of the allocation, or nil if the memory is not
// host visible. The pointer is valid until the allocation is freed.
func (a *Allocation) MappedData() unsafe.Pointer {
	if a.freed || a.block.mapped == nil {
		return nil
	}
	return unsafe.Add(a.block.mapped, a.offset)
}

// Bytes exposes the mapped range as a byte slice, or nil if the memory is not host visible
func (a *Allocation) Bytes() []byte {
	data := a.MappedData()
	if data == nil {
		return nil
	}
	return unsafe.Slice((*byte)(data), a.size)
}

// Free returns the allocation to its pool
func (a *Allocation) Free() error {
	return a.pool.Free(a)
}

func (a *Allocation) printParameters(json *jwriter.ObjectState) {
	json.Name("Usage").String(a.usage.String())
	json.Name("Offset").Int(a.offset)
	json.Name("Size").Int(a.size)

	if a.userData != nil {
		json.Name("CustomData").String(fmt.Sprintf("%+v", a.userData))
	}

	if a.name != "" {
		json.Name("Name").String(a.name)
	}
}
