package memutils

import (
	"math"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Statistics is a cheap summary of how much device memory is held in blocks and how much of it
// has been handed out as allocations
type Statistics struct {
	BlockCount      int
	AllocationCount int
	BlockBytes      int
	AllocationBytes int
}

func (s *Statistics) Clear() {
	s.BlockCount = 0
	s.AllocationCount = 0
	s.BlockBytes = 0
	s.AllocationBytes = 0
}

// AddBlock records a single block of size bytes
func (s *Statistics) AddBlock(size int) {
	s.BlockCount++
	s.BlockBytes += size
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.BlockCount += other.BlockCount
	s.AllocationCount += other.AllocationCount
	s.BlockBytes += other.BlockBytes
	s.AllocationBytes += other.AllocationBytes
}

// UnusedBytes is the number of block bytes that are not covered by an allocation
func (s *Statistics) UnusedBytes() int {
	return s.BlockBytes - s.AllocationBytes
}

func (s *Statistics) WriteJson(obj *jwriter.ObjectState) {
	obj.Name("BlockCount").Int(s.BlockCount)
	obj.Name("BlockBytes").Int(s.BlockBytes)
	obj.Name("AllocationCount").Int(s.AllocationCount)
	obj.Name("AllocationBytes").Int(s.AllocationBytes)
}

// DetailedStatistics extends Statistics with size extremes for allocations and free ranges.
// Clear must be called before accumulating into a new value so the minimums start out correct.
type DetailedStatistics struct {
	Statistics
	UnusedRangeCount   int
	AllocationSizeMin  int
	AllocationSizeMax  int
	UnusedRangeSizeMin int
	UnusedRangeSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.UnusedRangeCount = 0
	s.AllocationSizeMin = math.MaxInt
	s.AllocationSizeMax = 0
	s.UnusedRangeSizeMin = math.MaxInt
	s.UnusedRangeSizeMax = 0
}

func (s *DetailedStatistics) AddUnusedRange(size int) {
	s.UnusedRangeCount++
	s.UnusedRangeSizeMin = min(s.UnusedRangeSizeMin, size)
	s.UnusedRangeSizeMax = max(s.UnusedRangeSizeMax, size)
}

func (s *DetailedStatistics) AddAllocation(size int) {
	s.AllocationCount++
	s.AllocationBytes += size
	s.AllocationSizeMin = min(s.AllocationSizeMin, size)
	s.AllocationSizeMax = max(s.AllocationSizeMax, size)
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.UnusedRangeCount += other.UnusedRangeCount
	s.UnusedRangeSizeMin = min(s.UnusedRangeSizeMin, other.UnusedRangeSizeMin)
	s.UnusedRangeSizeMax = max(s.UnusedRangeSizeMax, other.UnusedRangeSizeMax)
	s.AllocationSizeMin = min(s.AllocationSizeMin, other.AllocationSizeMin)
	s.AllocationSizeMax = max(s.AllocationSizeMax, other.AllocationSizeMax)
}

func (s *DetailedStatistics) WriteJson(obj *jwriter.ObjectState) {
	s.Statistics.WriteJson(obj)
	obj.Name("UnusedRanges").Int(s.UnusedRangeCount)
	if s.AllocationCount > 0 {
		obj.Name("AllocationSizeMin").Int(s.AllocationSizeMin)
		obj.Name("AllocationSizeMax").Int(s.AllocationSizeMax)
	}
	if s.UnusedRangeCount > 0 {
		obj.Name("UnusedRangeSizeMin").Int(s.UnusedRangeSizeMin)
		obj.Name("UnusedRangeSizeMax").Int(s.UnusedRangeSizeMax)
	}
}
