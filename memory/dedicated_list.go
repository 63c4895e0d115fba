package memory

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/foundry/memutils"
)

// dedicatedAllocationList is an intrusive list of the allocations that own their device memory
type dedicatedAllocationList struct {
	count              int
	allocationListHead *Allocation
	allocationListTail *Allocation
}

func (l *dedicatedAllocationList) Validate() error {
	actualCount := 0

	for alloc := l.allocationListHead; alloc != nil; alloc = alloc.nextDedicated {
		actualCount++
		if alloc.block.dedicated != alloc {
			return errors.Errorf("dedicated allocation %q is not attached to its block", alloc.name)
		}
	}

	if l.count != actualCount {
		return errors.Errorf("the listed number of dedicated allocations in the list (%d) does not match the actual number of allocations (%d)", l.count, actualCount)
	}

	return nil
}

func (l *dedicatedAllocationList) AddStatistics(stats *memutils.Statistics) {
	for item := l.allocationListHead; item != nil; item = item.nextDedicated {
		item.block.AddStatistics(stats)
	}
}

func (l *dedicatedAllocationList) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	for item := l.allocationListHead; item != nil; item = item.nextDedicated {
		item.block.AddDetailedStatistics(stats)
	}
}

func (l *dedicatedAllocationList) BuildStatsString(writer *jwriter.Writer) {
	s := writer.Array()
	defer s.End()

	for alloc := l.allocationListHead; alloc != nil; alloc = alloc.nextDedicated {
		o := s.Object()
		alloc.block.BlockJsonData(&o)
		o.End()
	}
}

func (l *dedicatedAllocationList) IsEmpty() bool {
	return l.count == 0
}

func (l *dedicatedAllocationList) Len() int {
	return l.count
}

func (l *dedicatedAllocationList) Register(alloc *Allocation) {
	if l.count == 0 {
		l.allocationListHead = alloc
		l.allocationListTail = alloc
		l.count = 1
		return
	}

	alloc.prevDedicated = l.allocationListTail
	l.allocationListTail.nextDedicated = alloc
	l.allocationListTail = alloc
	l.count++
}

func (l *dedicatedAllocationList) Unregister(alloc *Allocation) {
	prev := alloc.prevDedicated
	next := alloc.nextDedicated

	if prev != nil {
		prev.nextDedicated = next
	} else {
		l.allocationListHead = next
	}

	if next != nil {
		next.prevDedicated = prev
	} else {
		l.allocationListTail = prev
	}

	alloc.nextDedicated = nil
	alloc.prevDedicated = nil

	l.count--
}

// Each calls the callback for every allocation in the list. The callback may unregister the
// allocation it receives.
func (l *dedicatedAllocationList) Each(callback func(alloc *Allocation)) {
	for alloc := l.allocationListHead; alloc != nil; {
		next := alloc.nextDedicated
		callback(alloc)
		alloc = next
	}
}
