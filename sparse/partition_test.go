package sparse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func checkPartition(t *testing.T, part []int, n, devices int) {
	t.Helper()
	require.Len(t, part, devices+1)
	require.Equal(t, 0, part[0])
	require.Equal(t, n, part[devices])
	for d := 0; d < devices; d++ {
		require.LessOrEqual(t, part[d], part[d+1], "boundaries must be non-decreasing")
	}
	// Interior boundaries are aligned unless clamped to n.
	for d := 1; d < devices; d++ {
		if part[d] < n {
			require.Zero(t, part[d]%partitionAlign, "boundary %d not aligned", d)
		}
	}
}

func TestPartition(t *testing.T) {
	for _, tc := range []struct{ n, devices int }{
		{0, 1}, {0, 3}, {1, 1}, {4, 2}, {100, 1}, {100, 3}, {1000, 4}, {15, 7}, {16, 2}, {1 << 20, 5},
	} {
		part := Partition(tc.n, tc.devices)
		checkPartition(t, part, tc.n, tc.devices)
	}
}

func TestPartitionSmallNGivesEmptyDevices(t *testing.T) {
	// 4 rows over 2 devices: alignment pushes everything onto the first device.
	part := Partition(4, 2)
	require.Equal(t, []int{0, 4, 4}, part)
}

func TestPartitionWeighted(t *testing.T) {
	part := PartitionWeighted(1000, []float64{1, 1})
	checkPartition(t, part, 1000, 2)
	require.InDelta(t, 500, part[1], partitionAlign)

	part = PartitionWeighted(1000, []float64{3, 1})
	checkPartition(t, part, 1000, 2)
	require.InDelta(t, 750, part[1], partitionAlign)

	// Heavily skewed weights may starve a device entirely.
	part = PartitionWeighted(64, []float64{1000, 1})
	checkPartition(t, part, 64, 2)
	require.Equal(t, 64, part[1])
}

func TestPartitionWeightedDegenerateWeights(t *testing.T) {
	// Non-positive weights fall back to an even split.
	require.Equal(t, Partition(1000, 3), PartitionWeighted(1000, []float64{0, 0, 0}))
	require.Equal(t, Partition(1000, 2), PartitionWeighted(1000, []float64{-1, 0}))
}

func TestPartitionPanicsOnInvalidArgs(t *testing.T) {
	require.Panics(t, func() { Partition(10, 0) })
	require.Panics(t, func() { Partition(-1, 2) })
	require.Panics(t, func() { PartitionWeighted(10, nil) })
}
