package memory

import (
	"cmp"
	"context"
	"log/slog"
	"math/bits"
	"slices"

	cerrors "github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/foundry/internal/utils"
	"github.com/vkngwrapper/foundry/memutils"
	"github.com/vkngwrapper/foundry/memutils/metadata"
)

const (
	// DefaultBlockSize is the size of shared blocks when CreateOptions.BlockSize is left at 0
	DefaultBlockSize int = 256 * 1024 * 1024
	// DefaultMinLeafSize is the smallest buddy node when CreateOptions.MinLeafSize is left at 0
	DefaultMinLeafSize int = 4 * 1024
)

// CreateOptions configures a Pool
type CreateOptions struct {
	Flags CreateFlags
	// BlockSize is the size in bytes of each shared block. It is rounded up so that the block is a
	// power-of-two multiple of MinLeafSize. Requests larger than a block always get dedicated memory.
	BlockSize int
	// MinLeafSize is the smallest allocation granule inside a shared block. It must be a power of two.
	MinLeafSize int
}

// Pool hands out device memory for resources. Small requests are suballocated from large shared
// blocks with a buddy allocator, large requests and those that ask for it get a driver allocation
// of their own. Host-visible memory is mapped for its entire lifetime.
//
// A Pool is not safe for concurrent use unless it was created with CreateSynchronized.
type Pool struct {
	logger           *slog.Logger
	device           Device
	memoryProperties *core1_0.PhysicalDeviceMemoryProperties
	createFlags      CreateFlags

	blockSize   int
	minLeafSize int

	mutex     utils.OptionalRWMutex
	blocks    [common.MaxMemoryTypes][]*deviceMemoryBlock
	dedicated dedicatedAllocationList

	// cursors is where each usage starts probing equally good memory types, and exhausted marks
	// the types that last ran out of memory for a usage until a block of that type is released
	cursors   [usageCount]int
	exhausted [usageCount]uint32

	nextBlockID int
}

func New(logger *slog.Logger, device Device, options CreateOptions) (*Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if device == nil {
		return nil, errors.New("a pool requires a device")
	}

	minLeafSize := options.MinLeafSize
	if minLeafSize == 0 {
		minLeafSize = DefaultMinLeafSize
	}
	err := memutils.CheckPow2(minLeafSize, "memory.CreateOptions.MinLeafSize")
	if err != nil {
		return nil, err
	}

	blockSize := options.BlockSize
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	if blockSize < 0 {
		return nil, errors.Errorf("memory.CreateOptions.BlockSize must not be negative, but is %d", blockSize)
	}
	blockSize = memutils.NextPow2((blockSize+minLeafSize-1)/minLeafSize) * minLeafSize

	memoryProperties := device.MemoryProperties()
	if memoryProperties == nil || len(memoryProperties.MemoryTypes) == 0 {
		return nil, errors.New("the device did not report any memory types")
	}
	if len(memoryProperties.MemoryTypes) > common.MaxMemoryTypes {
		return nil, errors.Errorf("the device reported %d memory types, but at most %d are supported", len(memoryProperties.MemoryTypes), common.MaxMemoryTypes)
	}

	return &Pool{
		logger:           logger,
		device:           device,
		memoryProperties: memoryProperties,
		createFlags:      options.Flags,
		blockSize:        blockSize,
		minLeafSize:      minLeafSize,
		mutex: utils.OptionalRWMutex{
			UseMutex: options.Flags&CreateSynchronized != 0,
		},
	}, nil
}

// BlockSize is the rounded size of each shared block
func (p *Pool) BlockSize() int { return p.blockSize }

// MinLeafSize is the smallest allocation granule inside a shared block
func (p *Pool) MinLeafSize() int { return p.minLeafSize }

// MemoryProperties returns the memory types and heaps the pool allocates from
func (p *Pool) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return p.memoryProperties
}

type memoryTypeCandidate struct {
	index int
	cost  int
}

// memoryTypeCandidates lists the memory types permitted by memoryTypeBits that have every flag
// usage requires, best first. Types missing preferred flags or carrying unwanted ones cost more,
// types that recently ran out of memory cost the most, and equal costs are ordered from the
// usage's cursor.
func (p *Pool) memoryTypeCandidates(usage Usage, memoryTypeBits uint32) []memoryTypeCandidate {
	requiredFlags, preferredFlags, notPreferredFlags := usage.preferences()
	typeCount := len(p.memoryProperties.MemoryTypes)
	cursor := p.cursors[usage]

	var candidates []memoryTypeCandidate
	for i := 0; i < typeCount; i++ {
		memTypeIndex := (cursor + i) % typeCount
		memTypeBit := uint32(1) << memTypeIndex

		if memoryTypeBits != 0 && memTypeBit&memoryTypeBits == 0 {
			// This memory type is banned by the bitmask
			continue
		}

		flags := p.memoryProperties.MemoryTypes[memTypeIndex].PropertyFlags
		if requiredFlags&flags != requiredFlags {
			// This memory type is missing required flags
			continue
		}

		missingPreferredFlags := preferredFlags & ^flags
		presentNotPreferredFlags := notPreferredFlags & flags
		cost := bits.OnesCount32(uint32(missingPreferredFlags)) + bits.OnesCount32(uint32(presentNotPreferredFlags))
		if p.exhausted[usage]&memTypeBit != 0 {
			cost += 64
		}

		candidates = append(candidates, memoryTypeCandidate{index: memTypeIndex, cost: cost})
	}

	slices.SortStableFunc(candidates, func(a, b memoryTypeCandidate) int {
		return cmp.Compare(a.cost, b.cost)
	})
	return candidates
}

// FindMemoryTypeIndex returns the memory type the pool would try first for a request
func (p *Pool) FindMemoryTypeIndex(usage Usage, memoryTypeBits uint32) (int, error) {
	if !usage.IsValid() {
		return -1, errors.Errorf("unknown memory usage: %d", usage)
	}

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	candidates := p.memoryTypeCandidates(usage, memoryTypeBits)
	if len(candidates) == 0 {
		return -1, cerrors.Wrapf(ErrNoSuitableMemoryType, "usage %s with memory type bits %#x", usage, memoryTypeBits)
	}
	return candidates[0].index, nil
}

// Alloc finds memory for a resource. Memory types are tried best first. A type that reports it is
// out of memory is skipped and the next suitable type is tried.
//
// ErrNoSuitableMemoryType is returned when no permitted memory type has the flags the usage
// requires. ErrOutOfMemory is returned when every suitable type failed to allocate.
func (p *Pool) Alloc(usage Usage, requirements Requirements) (*Allocation, error) {
	if !usage.IsValid() {
		return nil, errors.Errorf("unknown memory usage: %d", usage)
	}

	size := requirements.Size
	alignment := uint(requirements.Alignment)
	if alignment == 0 {
		alignment = 1
	}
	if size < 1 {
		return nil, cerrors.Wrapf(ErrInvalidRequirements, "size is %d", size)
	}
	err := memutils.CheckPow2(alignment, "alignment")
	if err != nil {
		return nil, cerrors.WithSecondaryError(cerrors.Wrapf(ErrInvalidRequirements, "alignment is %d", alignment), err)
	}
	memoryTypeBits := uint32(requirements.MemoryTypeBits)

	p.mutex.Lock()
	defer p.mutex.Unlock()

	candidates := p.memoryTypeCandidates(usage, memoryTypeBits)
	if len(candidates) == 0 {
		return nil, cerrors.Wrapf(ErrNoSuitableMemoryType, "usage %s with memory type bits %#x", usage, memoryTypeBits)
	}

	var lastErr error
	for _, candidate := range candidates {
		alloc, res, err := p.allocateFromMemoryType(candidate.index, usage, size, alignment, requirements.Dedicated)
		if err == nil {
			memutils.DebugValidate(validatePool{p})
			return alloc, nil
		}

		if !isOutOfMemory(res) {
			return nil, err
		}

		p.logger.LogAttrs(context.Background(), slog.LevelDebug, "memory type out of memory, trying the next one",
			slog.Int("memoryType", candidate.index),
			slog.String("usage", usage.String()),
			slog.String("size", humanize.IBytes(uint64(size))))

		p.exhausted[usage] |= uint32(1) << candidate.index
		p.cursors[usage] = (candidate.index + 1) % len(p.memoryProperties.MemoryTypes)
		lastErr = err
	}

	return nil, cerrors.WithSecondaryError(
		cerrors.Wrapf(ErrOutOfMemory, "no memory type could provide %d bytes of %s memory", size, usage),
		lastErr)
}

func (p *Pool) allocateFromMemoryType(memTypeIndex int, usage Usage, size int, alignment uint, dedicated DedicatedMode) (*Allocation, common.VkResult, error) {
	if dedicated == DedicatedRequired || size > p.blockSize || int(alignment) > p.blockSize {
		return p.allocateDedicated(memTypeIndex, usage, size)
	}

	if dedicated == DedicatedPreferred {
		alloc, res, err := p.allocateDedicated(memTypeIndex, usage, size)
		if err == nil || !isOutOfMemory(res) {
			return alloc, res, err
		}
	}

	alloc := &Allocation{pool: p, usage: usage}
	for _, block := range p.blocks[memTypeIndex] {
		success, err := block.Allocate(alloc, size, alignment)
		if err != nil {
			return nil, core1_0.VKErrorUnknown, err
		}
		if success {
			return alloc, core1_0.VKSuccess, nil
		}
	}

	block, res, err := p.createBlock(memTypeIndex, p.blockSize, true)
	if err != nil {
		return nil, res, err
	}
	p.blocks[memTypeIndex] = append(p.blocks[memTypeIndex], block)

	success, err := block.Allocate(alloc, size, alignment)
	if err == nil && !success {
		err = errors.Errorf("a fresh block of %d bytes could not fit %d bytes", p.blockSize, size)
	}
	if err != nil {
		p.releaseBlock(block)
		return nil, core1_0.VKErrorUnknown, err
	}

	return alloc, core1_0.VKSuccess, nil
}

func (p *Pool) allocateDedicated(memTypeIndex int, usage Usage, size int) (*Allocation, common.VkResult, error) {
	block, res, err := p.createBlock(memTypeIndex, size, false)
	if err != nil {
		return nil, res, err
	}

	alloc := &Allocation{pool: p, usage: usage}
	alloc.initDedicatedAllocation(block, size)
	p.dedicated.Register(alloc)

	return alloc, core1_0.VKSuccess, nil
}

func (p *Pool) createBlock(memTypeIndex int, size int, shared bool) (*deviceMemoryBlock, common.VkResult, error) {
	var blockMetadata metadata.BlockMetadata
	if shared {
		buddy, err := metadata.NewBuddyBlockMetadata(p.minLeafSize)
		if err != nil {
			return nil, core1_0.VKErrorUnknown, err
		}
		blockMetadata = buddy
	}

	memory, res, err := p.device.AllocateMemory(memTypeIndex, size)
	if err != nil {
		return nil, res, err
	}

	block := &deviceMemoryBlock{}
	res, err = block.Init(p.logger, p.device, p.memoryProperties.MemoryTypes[memTypeIndex], memTypeIndex, memory, size, p.nextBlockID, blockMetadata)
	if err != nil {
		p.device.FreeMemory(memory)
		return nil, res, err
	}
	p.nextBlockID++

	return block, core1_0.VKSuccess, nil
}

// releaseBlock gives an empty block's memory back to the device
func (p *Pool) releaseBlock(block *deviceMemoryBlock) {
	if !block.IsDedicated() {
		blocks := p.blocks[block.memoryTypeIndex]
		index := slices.Index(blocks, block)
		if index >= 0 {
			p.blocks[block.memoryTypeIndex] = slices.Delete(blocks, index, index+1)
		}
	}

	block.Reset()
	err := block.Destroy()
	if err != nil {
		// Reset guarantees the block is empty
		panic(err)
	}

	memTypeBit := uint32(1) << block.memoryTypeIndex
	for usage := range p.exhausted {
		p.exhausted[usage] &= ^memTypeBit
	}
}

// Free returns an allocation to the pool. Once the last allocation in a block is freed, the
// block's device memory is released immediately. Freeing an allocation twice returns
// ErrAllocationFreed.
func (p *Pool) Free(alloc *Allocation) error {
	if alloc == nil {
		return errors.New("cannot free a nil allocation")
	}
	if alloc.pool != p {
		return errors.New("attempted to free an allocation that belongs to a different pool")
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if alloc.freed {
		return cerrors.Wrapf(ErrAllocationFreed, "allocation %q at offset %d", alloc.name, alloc.offset)
	}

	block := alloc.block
	err := block.Free(alloc)
	if err != nil {
		return err
	}
	alloc.freed = true

	if block.IsDedicated() {
		p.dedicated.Unregister(alloc)
	}
	if block.IsEmpty() {
		p.releaseBlock(block)
	}

	memutils.DebugValidate(validatePool{p})
	return nil
}

// BlockCount is the number of live driver allocations, shared and dedicated
func (p *Pool) BlockCount() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	count := p.dedicated.Len()
	for _, blocks := range p.blocks {
		count += len(blocks)
	}
	return count
}

func (p *Pool) Statistics() memutils.Statistics {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	var stats memutils.Statistics
	for _, blocks := range p.blocks {
		for _, block := range blocks {
			block.AddStatistics(&stats)
		}
	}
	p.dedicated.AddStatistics(&stats)

	return stats
}

func (p *Pool) DetailedStatistics() memutils.DetailedStatistics {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	var stats memutils.DetailedStatistics
	stats.Clear()
	for _, blocks := range p.blocks {
		for _, block := range blocks {
			block.AddDetailedStatistics(&stats)
		}
	}
	p.dedicated.AddDetailedStatistics(&stats)

	return stats
}

// BuildStatsString renders the pool state as json. With detailed set, every block and its
// suballocations are included.
func (p *Pool) BuildStatsString(detailed bool) string {
	total := p.DetailedStatistics()

	p.mutex.RLock()
	defer p.mutex.RUnlock()

	writer := jwriter.NewWriter()
	obj := writer.Object()

	totalObj := obj.Name("Total").Object()
	total.WriteJson(&totalObj)
	totalObj.End()

	obj.Name("BlockSize").Int(p.blockSize)
	obj.Name("MinLeafSize").Int(p.minLeafSize)

	types := obj.Name("MemoryTypes").Array()
	for memTypeIndex, memType := range p.memoryProperties.MemoryTypes {
		blocks := p.blocks[memTypeIndex]
		if len(blocks) == 0 {
			continue
		}

		var stats memutils.DetailedStatistics
		stats.Clear()
		for _, block := range blocks {
			block.AddDetailedStatistics(&stats)
		}

		typeObj := types.Object()
		typeObj.Name("Index").Int(memTypeIndex)
		typeObj.Name("Flags").String(memType.PropertyFlags.String())
		typeObj.Name("HeapIndex").Int(memType.HeapIndex)

		statsObj := typeObj.Name("Stats").Object()
		stats.WriteJson(&statsObj)
		statsObj.End()

		if detailed {
			blockArray := typeObj.Name("Blocks").Array()
			for _, block := range blocks {
				blockObj := blockArray.Object()
				block.BlockJsonData(&blockObj)
				blockObj.End()
			}
			blockArray.End()
		}
		typeObj.End()
	}
	types.End()

	if detailed {
		p.dedicated.BuildStatsString(obj.Name("DedicatedAllocations"))
	} else {
		obj.Name("DedicatedAllocations").Int(p.dedicated.Len())
	}

	obj.End()
	return string(writer.Bytes())
}

func (p *Pool) Validate() error {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return p.validate()
}

func (p *Pool) validate() error {
	for memTypeIndex, blocks := range p.blocks {
		for _, block := range blocks {
			if block.IsDedicated() {
				return errors.Errorf("dedicated block %d is in the shared block list for memory type %d", block.id, memTypeIndex)
			}
			if block.memoryTypeIndex != memTypeIndex {
				return errors.Errorf("block %d has memory type %d but is listed under %d", block.id, block.memoryTypeIndex, memTypeIndex)
			}
			if block.IsEmpty() {
				return errors.Errorf("empty block %d was retained", block.id)
			}

			err := block.Validate()
			if err != nil {
				return cerrors.Wrapf(err, "block %d", block.id)
			}
		}
	}

	return p.dedicated.Validate()
}

// Destroy releases every block. Allocations that were never freed are logged and cause an error,
// and the blocks that hold them are kept.
func (p *Pool) Destroy() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var err error
	for memTypeIndex, blocks := range p.blocks {
		var retained []*deviceMemoryBlock
		for _, block := range blocks {
			destroyErr := block.Destroy()
			if destroyErr != nil {
				err = cerrors.CombineErrors(err, cerrors.Wrapf(destroyErr, "block %d", block.id))
				retained = append(retained, block)
			}
		}
		p.blocks[memTypeIndex] = retained
	}

	p.dedicated.Each(func(alloc *Allocation) {
		err = cerrors.CombineErrors(err, cerrors.Wrapf(alloc.block.Destroy(), "dedicated block %d", alloc.block.id))
	})

	return err
}

type validatePool struct {
	pool *Pool
}

func (v validatePool) Validate() error {
	return v.pool.validate()
}
