package memutils_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/foundry/memutils"
)

func TestCheckPow2(t *testing.T) {
	require.NoError(t, memutils.CheckPow2(1, "one"))
	require.NoError(t, memutils.CheckPow2(uint(4096), "page"))

	err := memutils.CheckPow2(12, "alignment")
	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))
	require.Contains(t, err.Error(), "alignment is 12")

	require.Error(t, memutils.CheckPow2(0, "zero"))
}

func TestAlign(t *testing.T) {
	require.Equal(t, 0, memutils.AlignUp(0, 256))
	require.Equal(t, 256, memutils.AlignUp(1, 256))
	require.Equal(t, 256, memutils.AlignUp(256, 256))
	require.Equal(t, 512, memutils.AlignUp(257, 256))
	require.Equal(t, 256, memutils.AlignDown(511, 256))
	require.True(t, memutils.IsAligned(1024, 256))
	require.False(t, memutils.IsAligned(1000, 256))
}

func TestNextPow2(t *testing.T) {
	require.Equal(t, 1, memutils.NextPow2(0))
	require.Equal(t, 1, memutils.NextPow2(1))
	require.Equal(t, 2, memutils.NextPow2(2))
	require.Equal(t, 4, memutils.NextPow2(3))
	require.Equal(t, 1024, memutils.NextPow2(1000))
	require.Equal(t, 10, memutils.Log2(1024))
	require.Equal(t, 9, memutils.Log2(1023))
}

func TestDetailedStatistics(t *testing.T) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	stats.AddBlock(1024)
	stats.AddAllocation(256)
	stats.AddAllocation(64)
	stats.AddUnusedRange(704)

	var other memutils.DetailedStatistics
	other.Clear()
	other.AddBlock(512)
	other.AddAllocation(512)

	stats.AddDetailedStatistics(&other)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      2,
			BlockBytes:      1536,
			AllocationCount: 3,
			AllocationBytes: 832,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  64,
		AllocationSizeMax:  512,
		UnusedRangeSizeMin: 704,
		UnusedRangeSizeMax: 704,
	}, stats)
	require.Equal(t, 704, stats.UnusedBytes())
}
