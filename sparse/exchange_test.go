package sparse

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// tridiagonal builds the n-row tridiagonal matrix with 2 on the diagonal and
// -1 off-diagonal.
func tridiagonal(n int) (rowPtr []int, col []uint32, val []float64) {
	rowPtr = make([]int, 1, n+1)
	for i := 0; i < n; i++ {
		if i > 0 {
			col = append(col, uint32(i-1))
			val = append(val, -1)
		}
		col = append(col, uint32(i))
		val = append(val, 2)
		if i < n-1 {
			col = append(col, uint32(i+1))
			val = append(val, -1)
		}
		rowPtr = append(rowPtr, len(col))
	}
	return
}

func TestPlanExchangeTridiagonal(t *testing.T) {
	rowPtr, col, _ := tridiagonal(4)
	part := []int{0, 2, 4}

	remote, plan := planExchange(part, rowPtr, col)
	require.Equal(t, []uint32{2}, remote[0], "device 0 needs column 2")
	require.Equal(t, []uint32{1}, remote[1], "device 1 needs column 1")

	require.NotNil(t, plan)
	require.Equal(t, []uint32{1, 2}, plan.transfer)
	require.Equal(t, []int{0, 1, 2}, plan.cidx, "device 0 supplies column 1, device 1 supplies column 2")
	require.Equal(t, []int{1}, plan.recvIdx[0])
	require.Equal(t, []int{0}, plan.recvIdx[1])
}

func TestPlanExchangeSingleDevice(t *testing.T) {
	rowPtr, col, _ := tridiagonal(16)
	remote, plan := planExchange([]int{0, 16}, rowPtr, col)
	require.Empty(t, remote[0])
	require.Nil(t, plan, "single device must skip all exchange machinery")
}

func TestPlanExchangeEmptyPartition(t *testing.T) {
	rowPtr, col, _ := tridiagonal(8)
	// Middle device gets no rows: it neither supplies nor consumes.
	remote, plan := planExchange([]int{0, 4, 4, 8}, rowPtr, col)
	require.Empty(t, remote[1])
	require.NotNil(t, plan)
	require.Equal(t, plan.cidx[1], plan.cidx[2])
	require.Empty(t, plan.recvIdx[1])
}

func TestPlanExchangeProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	n := 96
	rowPtr, col, _ := randomCSR(rng, n, 6)
	for _, part := range [][]int{
		{0, 32, 64, 96},
		{0, 16, 16, 96},
		{0, 48, 96},
	} {
		remote, plan := planExchange(part, rowPtr, col)
		devices := len(part) - 1

		// Every remote column of every device appears in the transfer list,
		// and every transfer entry is consumed by at least one device.
		consumed := make(map[uint32]int)
		for d := 0; d < devices; d++ {
			for _, c := range remote[d] {
				consumed[c]++
			}
		}
		if plan == nil {
			require.Empty(t, consumed)
			continue
		}
		require.Len(t, plan.transfer, len(consumed))
		for _, c := range plan.transfer {
			require.GreaterOrEqual(t, consumed[c], 1, "transfer entry %d has no consumer", c)
		}

		// Exactly one device's supply sub-range contains each transfer position,
		// and the supplier owns the column.
		require.Equal(t, 0, plan.cidx[0])
		require.Equal(t, len(plan.transfer), plan.cidx[devices])
		for d := 0; d < devices; d++ {
			for i := plan.cidx[d]; i < plan.cidx[d+1]; i++ {
				c := int(plan.transfer[i])
				require.GreaterOrEqual(t, c, part[d])
				require.Less(t, c, part[d+1])
			}
		}

		// Receive lists scatter the full transfer list back to the consumers.
		for d := 0; d < devices; d++ {
			require.Len(t, plan.recvIdx[d], len(remote[d]))
			for j, pos := range plan.recvIdx[d] {
				require.Equal(t, remote[d][j], plan.transfer[pos])
			}
		}
	}
}

func TestColumnRenumberRoundTrip(t *testing.T) {
	// The local/ghost rewrite must reproduce each row's global column set.
	rng := rand.New(rand.NewSource(7))
	n := 64
	rowPtr, col, _ := randomCSR(rng, n, 5)
	part := []int{0, 32, 64}
	remote, _ := planExchange(part, rowPtr, col)

	for d := 0; d < 2; d++ {
		beg, end := part[d], part[d+1]
		r2l := ghostRenumber(remote[d])
		l2r := make(map[uint32]uint32, len(r2l))
		for g, l := range r2l {
			l2r[l] = g
		}
		for i := beg; i < end; i++ {
			var roundTrip []uint32
			for j := rowPtr[i]; j < rowPtr[i+1]; j++ {
				if c := int(col[j]); c >= beg && c < end {
					local := uint32(c - beg)
					roundTrip = append(roundTrip, local+uint32(beg))
				} else {
					slot, ok := r2l[col[j]]
					require.True(t, ok)
					roundTrip = append(roundTrip, l2r[slot])
				}
			}
			require.Equal(t, col[rowPtr[i]:rowPtr[i+1]], roundTrip, "row %d", i)
		}
	}
}
