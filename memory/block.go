package memory

import (
	"context"
	"log/slog"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/foundry/memutils"
	"github.com/vkngwrapper/foundry/memutils/metadata"
)

// deviceMemoryBlock is one driver allocation. Shared blocks carve their memory up with a buddy tree,
// dedicated blocks hold exactly one allocation and have no metadata.
type deviceMemoryBlock struct {
	id              int
	memoryTypeIndex int
	propertyFlags   core1_0.MemoryPropertyFlags
	size            int
	logger          *slog.Logger
	device          Device

	memory   DeviceMemory
	mapped   unsafe.Pointer
	metadata metadata.BlockMetadata

	dedicated *Allocation
}

func (b *deviceMemoryBlock) Init(
	logger *slog.Logger,
	device Device,
	memoryType core1_0.MemoryType,
	memoryTypeIndex int,
	newMemory DeviceMemory,
	newSize int,
	id int,
	blockMetadata metadata.BlockMetadata,
) (common.VkResult, error) {
	if b.memory != nil {
		panic("attempting to initialize a device memory block that is already in use")
	}

	b.id = id
	b.logger = logger
	b.device = device
	b.memoryTypeIndex = memoryTypeIndex
	b.propertyFlags = memoryType.PropertyFlags
	b.memory = newMemory
	b.size = newSize
	b.metadata = blockMetadata

	if b.metadata != nil {
		b.metadata.Init(newSize)
		if b.metadata.Size() != newSize {
			return core1_0.VKErrorUnknown, errors.Errorf("block of %d bytes cannot be managed by a buddy tree without rounding to %d bytes", newSize, b.metadata.Size())
		}
	}

	if b.propertyFlags&core1_0.MemoryPropertyHostVisible != 0 {
		data, res, err := device.MapMemory(newMemory)
		if err != nil {
			return res, err
		}
		b.mapped = data
	}

	b.logger.LogAttrs(context.Background(), slog.LevelDebug, "created device memory block",
		slog.Int("block.id", b.id),
		slog.Int("memoryType", memoryTypeIndex),
		slog.String("size", humanize.IBytes(uint64(newSize))),
		slog.Bool("dedicated", blockMetadata == nil),
		slog.Bool("mapped", b.mapped != nil),
	)

	return core1_0.VKSuccess, nil
}

func (b *deviceMemoryBlock) IsDedicated() bool { return b.metadata == nil }

func (b *deviceMemoryBlock) IsEmpty() bool {
	if b.metadata == nil {
		return b.dedicated == nil
	}
	return b.metadata.IsEmpty()
}

// Allocate tries to place an allocation in this shared block. It returns false without an error
// when there is no room.
func (b *deviceMemoryBlock) Allocate(alloc *Allocation, size int, alignment uint) (bool, error) {
	if b.metadata == nil {
		return false, errors.New("cannot suballocate from a dedicated block")
	}
	if !b.metadata.MayHaveFreeBlock(size) {
		return false, nil
	}

	success, req, err := b.metadata.CreateAllocationRequest(size, alignment)
	if err != nil || !success {
		return false, err
	}

	err = b.metadata.Alloc(req, alloc)
	if err != nil {
		return false, err
	}

	alloc.initBlockAllocation(b, req.BlockAllocationHandle, req.Item.Offset, size, req.Size)
	return true, nil
}

// Free returns an allocation's node to the buddy tree, or detaches the dedicated allocation
func (b *deviceMemoryBlock) Free(alloc *Allocation) error {
	if b.metadata == nil {
		if b.dedicated != alloc {
			return errors.New("allocation does not belong to this dedicated block")
		}
		b.dedicated = nil
		return nil
	}

	return b.metadata.Free(alloc.leafIndex)
}

// Reset drops every allocation in the block without releasing the device memory
func (b *deviceMemoryBlock) Reset() {
	if b.metadata != nil {
		b.metadata.Clear()
	}
	b.dedicated = nil
}

func (b *deviceMemoryBlock) Destroy() error {
	if !b.IsEmpty() {
		if b.metadata == nil {
			b.logUnreleasedMemory(0, b.size, b.dedicated)
		} else {
			err := b.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
				if free {
					return nil
				}

				b.logUnreleasedMemory(offset, size, userData)
				return nil
			})
			if err != nil {
				b.logger.LogAttrs(context.Background(),
					slog.LevelError,
					"[UNRELEASED MEMORY] error while iterating unreleased memory",
					slog.Any("error", err))
			}
		}

		return errors.New("some allocations were not freed before the destruction of this memory block!")
	}

	if b.memory == nil {
		panic("attempting to destroy a memory block, but it did not have a backing device memory handle")
	}

	if b.mapped != nil {
		b.device.UnmapMemory(b.memory)
		b.mapped = nil
	}
	b.device.FreeMemory(b.memory)

	b.logger.LogAttrs(context.Background(), slog.LevelDebug, "released device memory block",
		slog.Int("block.id", b.id),
		slog.Int("memoryType", b.memoryTypeIndex),
		slog.String("size", humanize.IBytes(uint64(b.size))),
	)

	b.memory = nil
	b.metadata = nil
	return nil
}

func (b *deviceMemoryBlock) logUnreleasedMemory(offset, size int, userData any) {
	name := "empty"
	allocation, ok := userData.(*Allocation)
	if ok && allocation.Name() != "" {
		name = allocation.Name()
	}

	b.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
		slog.Int("block.id", b.id),
		slog.Int("offset", offset),
		slog.Int("size", size),
		slog.String("name", name),
	)
}

func (b *deviceMemoryBlock) Validate() error {
	if b.memory == nil {
		return errors.New("no valid memory for this memory block")
	}
	if b.size < 1 {
		return errors.New("this memory block has an invalid size")
	}
	if b.propertyFlags&core1_0.MemoryPropertyHostVisible != 0 && b.mapped == nil {
		return errors.Errorf("block %d is host visible but is not mapped", b.id)
	}

	if b.metadata == nil {
		if b.dedicated != nil && b.dedicated.block != b {
			return errors.Errorf("dedicated block %d holds an allocation that points elsewhere", b.id)
		}
		return nil
	}

	err := b.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset, size int, userData any, free bool) error {
		allocation, isAllocation := userData.(*Allocation)
		if free && isAllocation {
			return errors.Errorf("an allocation at offset %d is marked as free but contains an allocation object", offset)
		} else if !free && (!isAllocation || allocation == nil) {
			return errors.Errorf("an allocation at offset %d is marked as allocated but has no allocation object", offset)
		} else if !free && (allocation.offset != offset || allocation.block != b) {
			return errors.Errorf("the allocation at offset %d does not agree with the metadata about where it lives", offset)
		}

		return nil
	})
	if err != nil {
		return err
	}

	return b.metadata.Validate()
}

func (b *deviceMemoryBlock) AddStatistics(stats *memutils.Statistics) {
	if b.metadata != nil {
		b.metadata.AddStatistics(stats)
		return
	}

	stats.AddBlock(b.size)
	if b.dedicated != nil {
		stats.AllocationCount++
		stats.AllocationBytes += b.size
	}
}

func (b *deviceMemoryBlock) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	if b.metadata != nil {
		b.metadata.AddDetailedStatistics(stats)
		return
	}

	stats.AddBlock(b.size)
	if b.dedicated != nil {
		stats.AddAllocation(b.size)
	}
}

func (b *deviceMemoryBlock) BlockJsonData(json *jwriter.ObjectState) {
	json.Name("ID").Int(b.id)
	json.Name("MemoryType").Int(b.memoryTypeIndex)
	json.Name("Mapped").Bool(b.mapped != nil)

	if b.metadata != nil {
		b.metadata.BlockJsonData(json)
		return
	}

	json.Name("TotalBytes").Int(b.size)
	if b.dedicated != nil {
		dedicated := json.Name("Allocation").Object()
		b.dedicated.printParameters(&dedicated)
		dedicated.End()
	}
}
