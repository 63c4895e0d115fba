package metadata

import (
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/foundry/memutils"
)

type buddyNodeState uint8

const (
	// buddyNodeFree means the node's entire range is unused
	buddyNodeFree buddyNodeState = iota
	// buddyNodeSplit means at least one descendant of the node is occupied
	buddyNodeSplit
	// buddyNodeOccupied means the node itself serves an allocation
	buddyNodeOccupied
)

var buddyNodeStateMapping = map[buddyNodeState]string{
	buddyNodeFree:     "Free",
	buddyNodeSplit:    "Split",
	buddyNodeOccupied: "Occupied",
}

func (s buddyNodeState) String() string {
	return buddyNodeStateMapping[s]
}

type buddyAllocation struct {
	requestedSize int
	userData      any
}

// BuddyBlockMetadata is a BlockMetadata implementation that carves a block into power-of-two sized
// nodes of a complete binary tree stored in a flat array. Node i has children 2i+1 and 2i+2, and
// every node at level L spans Size() >> L bytes. Allocations are served by the smallest node that
// fits the request and freed nodes merge with their buddy whenever both halves of a parent are free.
//
// Allocations are always placed at offsets that are a multiple of their node size, so any alignment
// up to the node size is free. Requests with a larger alignment only consider suitably aligned nodes.
type BuddyBlockMetadata struct {
	BlockMetadataBase

	minLeafSize int
	levels      int
	nodes       []buddyNodeState

	allocations   *swiss.Map[BlockAllocationHandle, buddyAllocation]
	occupiedBytes int
}

var _ BlockMetadata = &BuddyBlockMetadata{}

// NewBuddyBlockMetadata creates a buddy tree whose smallest node is minLeafSize bytes. minLeafSize
// must be a power of two.
func NewBuddyBlockMetadata(minLeafSize int) (*BuddyBlockMetadata, error) {
	err := memutils.CheckPow2(minLeafSize, "minLeafSize")
	if err != nil {
		return nil, err
	}

	return &BuddyBlockMetadata{
		minLeafSize: minLeafSize,
		allocations: swiss.NewMap[BlockAllocationHandle, buddyAllocation](42),
	}, nil
}

// Init sizes the tree. The size is rounded up to a multiple of the minimum leaf size and then up
// again so that the number of leaves is a power of two.
func (m *BuddyBlockMetadata) Init(size int) {
	leafCount := memutils.NextPow2((max(size, 1) + m.minLeafSize - 1) / m.minLeafSize)

	m.BlockMetadataBase.Init(leafCount * m.minLeafSize)
	m.levels = memutils.Log2(leafCount) + 1
	m.nodes = make([]buddyNodeState, (1<<m.levels)-1)
	m.allocations.Clear()
	m.occupiedBytes = 0
}

// MinLeafSize is the size in bytes of the deepest level of the tree
func (m *BuddyBlockMetadata) MinLeafSize() int { return m.minLeafSize }

// Levels is the number of levels in the tree, including the root
func (m *BuddyBlockMetadata) Levels() int { return m.levels }

func (m *BuddyBlockMetadata) levelNodeSize(level int) int {
	return m.size >> level
}

func nodeLevel(node int) int {
	return memutils.Log2(node + 1)
}

func (m *BuddyBlockMetadata) nodeOffset(node int) int {
	level := nodeLevel(node)
	firstInLevel := (1 << level) - 1
	return (node - firstInLevel) * m.levelNodeSize(level)
}

func (m *BuddyBlockMetadata) nodeSize(node int) int {
	return m.levelNodeSize(nodeLevel(node))
}

func (m *BuddyBlockMetadata) isLeaf(node int) bool {
	return nodeLevel(node) == m.levels-1
}

func (m *BuddyBlockMetadata) getAllocation(handle BlockAllocationHandle) (buddyAllocation, error) {
	if handle == NoAllocation || int(handle) >= len(m.nodes) {
		return buddyAllocation{}, errors.New("received a handle that was incompatible with this metadata")
	}

	alloc, ok := m.allocations.Get(handle)
	if !ok {
		return buddyAllocation{}, errors.Errorf("node %d does not hold a live allocation", handle)
	}

	return alloc, nil
}

func (m *BuddyBlockMetadata) AllocationCount() int {
	return m.allocations.Count()
}

func (m *BuddyBlockMetadata) SumFreeSize() int {
	return m.size - m.occupiedBytes
}

func (m *BuddyBlockMetadata) IsEmpty() bool {
	return m.allocations.Count() == 0
}

func (m *BuddyBlockMetadata) MayHaveFreeBlock(size int) bool {
	return size <= m.SumFreeSize()
}

func (m *BuddyBlockMetadata) FreeRegionsCount() int {
	count := 0
	_ = m.VisitAllRegions(func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		if free {
			count++
		}
		return nil
	})

	return count
}

// levelForSize returns the deepest level whose nodes can hold size bytes
func (m *BuddyBlockMetadata) levelForSize(size int) int {
	level := m.levels - 1
	for level > 0 && m.levelNodeSize(level) < size {
		level--
	}
	return level
}

func (m *BuddyBlockMetadata) CreateAllocationRequest(allocSize int, allocAlignment uint) (bool, AllocationRequest, error) {
	var allocRequest AllocationRequest

	if allocSize < 1 {
		return false, allocRequest, errors.Errorf("invalid allocSize: %d", allocSize)
	}
	err := memutils.CheckPow2(allocAlignment, "allocAlignment")
	if err != nil {
		return false, allocRequest, err
	}

	if allocSize > m.SumFreeSize() {
		return false, allocRequest, nil
	}

	level := m.levelForSize(allocSize)
	node := m.findFreeNode(0, level, int(allocAlignment))
	if node < 0 {
		return false, allocRequest, nil
	}

	allocRequest.Type = AllocationRequestBuddy
	allocRequest.BlockAllocationHandle = BlockAllocationHandle(node)
	allocRequest.Size = m.levelNodeSize(level)
	allocRequest.Item.Offset = m.nodeOffset(node)
	allocRequest.Item.Size = allocSize
	allocRequest.AlgorithmData = uint64(level)

	return true, allocRequest, nil
}

// findFreeNode returns the leftmost free node at targetLevel below the provided node whose offset
// honors alignment, or -1. Occupied subtrees are skipped entirely.
func (m *BuddyBlockMetadata) findFreeNode(node int, targetLevel int, alignment int) int {
	state := m.nodes[node]
	if state == buddyNodeOccupied {
		return -1
	}

	if nodeLevel(node) == targetLevel {
		if state != buddyNodeFree || !memutils.IsAligned(m.nodeOffset(node), alignment) {
			return -1
		}
		return node
	}

	left := m.findFreeNode(2*node+1, targetLevel, alignment)
	if left >= 0 {
		return left
	}
	return m.findFreeNode(2*node+2, targetLevel, alignment)
}

func (m *BuddyBlockMetadata) Alloc(req AllocationRequest, userData any) error {
	if req.Type != AllocationRequestBuddy {
		return errors.New("allocation request was received by an incompatible metadata")
	}

	node := int(req.BlockAllocationHandle)
	if req.BlockAllocationHandle == NoAllocation || node >= len(m.nodes) {
		return errors.New("allocation request referred to a node outside of this metadata")
	}
	if nodeLevel(node) != int(req.AlgorithmData) || m.nodeOffset(node) != req.Item.Offset {
		return errors.New("allocation request does not match the layout of this metadata")
	}
	if m.nodes[node] != buddyNodeFree {
		return errors.Errorf("node %d is no longer free", node)
	}
	if req.Item.Size > m.nodeSize(node) {
		return errors.New("allocation request had a node too small for the request")
	}

	for parent := node; parent > 0; {
		parent = (parent - 1) / 2
		if m.nodes[parent] == buddyNodeOccupied {
			return errors.Errorf("node %d is covered by an occupied ancestor", node)
		}
	}

	m.nodes[node] = buddyNodeOccupied
	m.markUp(node)
	m.occupiedBytes += m.nodeSize(node)
	m.allocations.Put(req.BlockAllocationHandle, buddyAllocation{
		requestedSize: req.Item.Size,
		userData:      userData,
	})

	memutils.DebugValidate(m)
	return nil
}

// markUp flags every ancestor of node as split
func (m *BuddyBlockMetadata) markUp(node int) {
	for node > 0 {
		node = (node - 1) / 2
		if m.nodes[node] == buddyNodeSplit {
			return
		}
		m.nodes[node] = buddyNodeSplit
	}
}

// mergeUp walks from node toward the root freeing every ancestor whose children are both free
func (m *BuddyBlockMetadata) mergeUp(node int) {
	for node > 0 {
		parent := (node - 1) / 2
		if m.nodes[2*parent+1] != buddyNodeFree || m.nodes[2*parent+2] != buddyNodeFree {
			return
		}
		m.nodes[parent] = buddyNodeFree
		node = parent
	}
}

func (m *BuddyBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	_, err := m.getAllocation(allocHandle)
	if err != nil {
		return err
	}

	node := int(allocHandle)
	if m.nodes[node] != buddyNodeOccupied {
		return errors.Errorf("node %d holds an allocation but is marked %s", node, m.nodes[node])
	}

	m.nodes[node] = buddyNodeFree
	m.occupiedBytes -= m.nodeSize(node)
	m.allocations.Delete(allocHandle)
	m.mergeUp(node)

	memutils.DebugValidate(m)
	return nil
}

func (m *BuddyBlockMetadata) Clear() {
	clear(m.nodes)
	m.allocations.Clear()
	m.occupiedBytes = 0
}

func (m *BuddyBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (int, error) {
	_, err := m.getAllocation(allocHandle)
	if err != nil {
		return 0, err
	}

	return m.nodeOffset(int(allocHandle)), nil
}

func (m *BuddyBlockMetadata) AllocationSize(allocHandle BlockAllocationHandle) (int, error) {
	alloc, err := m.getAllocation(allocHandle)
	if err != nil {
		return 0, err
	}

	return alloc.requestedSize, nil
}

// AllocationNodeSize returns the number of bytes reserved in the tree for a live allocation
func (m *BuddyBlockMetadata) AllocationNodeSize(allocHandle BlockAllocationHandle) (int, error) {
	_, err := m.getAllocation(allocHandle)
	if err != nil {
		return 0, err
	}

	return m.nodeSize(int(allocHandle)), nil
}

func (m *BuddyBlockMetadata) AllocationUserData(allocHandle BlockAllocationHandle) (any, error) {
	alloc, err := m.getAllocation(allocHandle)
	if err != nil {
		return nil, err
	}

	return alloc.userData, nil
}

func (m *BuddyBlockMetadata) SetAllocationUserData(allocHandle BlockAllocationHandle, userData any) error {
	alloc, err := m.getAllocation(allocHandle)
	if err != nil {
		return err
	}

	alloc.userData = userData
	m.allocations.Put(allocHandle, alloc)
	return nil
}

func (m *BuddyBlockMetadata) VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error {
	if len(m.nodes) == 0 {
		return nil
	}
	return m.visitNode(0, handleBlock)
}

func (m *BuddyBlockMetadata) visitNode(node int, handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error {
	switch m.nodes[node] {
	case buddyNodeFree:
		return handleBlock(NoAllocation, m.nodeOffset(node), m.nodeSize(node), nil, true)
	case buddyNodeOccupied:
		alloc, err := m.getAllocation(BlockAllocationHandle(node))
		if err != nil {
			return err
		}
		return handleBlock(BlockAllocationHandle(node), m.nodeOffset(node), m.nodeSize(node), alloc.userData, false)
	}

	err := m.visitNode(2*node+1, handleBlock)
	if err != nil {
		return err
	}
	return m.visitNode(2*node+2, handleBlock)
}

func (m *BuddyBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.AddBlock(m.Size())

	_ = m.VisitAllRegions(func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		if free {
			stats.AddUnusedRange(size)
		} else {
			stats.AddAllocation(size)
		}
		return nil
	})
}

func (m *BuddyBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.AddBlock(m.Size())
	stats.AllocationCount += m.AllocationCount()
	stats.AllocationBytes += m.occupiedBytes
}

func (m *BuddyBlockMetadata) Validate() error {
	if m.size < m.minLeafSize || m.size%m.minLeafSize != 0 {
		return errors.Errorf("block size %d is not a positive multiple of the minimum leaf size %d", m.size, m.minLeafSize)
	}
	if len(m.nodes) != (1<<m.levels)-1 {
		return errors.Errorf("tree with %d levels should have %d nodes, but has %d", m.levels, (1<<m.levels)-1, len(m.nodes))
	}

	occupiedCount := 0
	occupiedBytes := 0
	for node, state := range m.nodes {
		_, hasAllocation := m.allocations.Get(BlockAllocationHandle(node))

		switch state {
		case buddyNodeOccupied:
			if !hasAllocation {
				return errors.Errorf("node %d is occupied but has no allocation", node)
			}
			occupiedCount++
			occupiedBytes += m.nodeSize(node)
		case buddyNodeSplit:
			if m.isLeaf(node) {
				return errors.Errorf("leaf node %d is marked as split", node)
			}
			if m.nodes[2*node+1] == buddyNodeFree && m.nodes[2*node+2] == buddyNodeFree {
				return errors.Errorf("node %d is marked as split but both of its children are free", node)
			}
		case buddyNodeFree:
			if hasAllocation {
				return errors.Errorf("node %d is free but holds an allocation", node)
			}
		}

		if state != buddyNodeFree && node > 0 && m.nodes[(node-1)/2] != buddyNodeSplit {
			return errors.Errorf("node %d is in use but its parent is marked %s", node, m.nodes[(node-1)/2])
		}
	}

	if occupiedCount != m.allocations.Count() {
		return errors.Errorf("the allocation count of the metadata is %d, but the occupied nodes only added up to %d", m.allocations.Count(), occupiedCount)
	}
	if occupiedBytes != m.occupiedBytes {
		return errors.Errorf("the occupied size of the metadata is %d, but the occupied nodes only added up to %d", m.occupiedBytes, occupiedBytes)
	}

	return nil
}

func (m *BuddyBlockMetadata) BlockJsonData(json *jwriter.ObjectState) {
	m.BlockMetadataBase.BlockJsonData(json, m.SumFreeSize(), m.AllocationCount(), m.FreeRegionsCount())
	json.Name("MinLeafSize").Int(m.minLeafSize)
	json.Name("Levels").Int(m.levels)

	arr := json.Name("Suballocations").Array()
	_ = m.VisitAllRegions(func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		obj := arr.Object()
		obj.Name("Offset").Int(offset)
		obj.Name("Size").Int(size)
		if free {
			obj.Name("Type").String("FREE")
		} else {
			obj.Name("Node").Int(int(handle))
		}
		obj.End()
		return nil
	})
	arr.End()
}
