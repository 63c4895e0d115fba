package memutils_test

import (
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/foundry/memutils"
)

func TestDetailedStatisticsJson(t *testing.T) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	stats.AddBlock(4096)
	stats.AddAllocation(1024)
	stats.AddAllocation(256)
	stats.AddUnusedRange(2816)

	w := jwriter.NewWriter()
	obj := w.Object()
	obj.Name("Before").Bool(true)
	stats.WriteJson(&obj)
	obj.Name("After").Bool(true)
	obj.End()

	require.JSONEq(t, `{
		"Before": true,
		"BlockCount": 1,
		"BlockBytes": 4096,
		"AllocationCount": 2,
		"AllocationBytes": 1280,
		"UnusedRanges": 1,
		"AllocationSizeMin": 256,
		"AllocationSizeMax": 1024,
		"UnusedRangeSizeMin": 2816,
		"UnusedRangeSizeMax": 2816,
		"After": true
	}`, string(w.Bytes()))
}

func TestEmptyDetailedStatisticsJson(t *testing.T) {
	var stats memutils.DetailedStatistics
	stats.Clear()

	w := jwriter.NewWriter()
	obj := w.Object()
	stats.WriteJson(&obj)
	obj.End()

	require.JSONEq(t, `{
		"BlockCount": 0,
		"BlockBytes": 0,
		"AllocationCount": 0,
		"AllocationBytes": 0,
		"UnusedRanges": 0
	}`, string(w.Bytes()))
}
