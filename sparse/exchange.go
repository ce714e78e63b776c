package sparse

import (
	"slices"
	"sort"
)

// exchangePlan is the global outcome of halo planning: the sorted, de-duplicated
// list of columns that must cross device boundaries, who supplies each entry,
// and who consumes it.
type exchangePlan[C Column] struct {
	// transfer is the global transfer list: every column referenced by some
	// device but owned by another, sorted, each exactly once.
	transfer []C

	// cidx[d]..cidx[d+1] is the sub-range of transfer that device d must supply,
	// i.e. the entries falling inside d's row range. Contiguous because transfer
	// is sorted and partitions are contiguous index ranges.
	cidx []int

	// recvIdx[d] lists the positions in transfer that device d consumes, in
	// ascending order. Ghost-buffer slot j of device d holds transfer[recvIdx[d][j]].
	recvIdx [][]int
}

// remoteColumns returns, per device, the sorted set of distinct global columns
// referenced by that device's row range but owned by another device.
//
// Only the device's own rows are scanned.
func remoteColumns[C Column](part []int, rowPtr []int, col []C) [][]C {
	devices := len(part) - 1
	remote := make([][]C, devices)
	for d := 0; d < devices; d++ {
		beg, end := part[d], part[d+1]
		seen := make(map[C]struct{})
		for i := beg; i < end; i++ {
			for j := rowPtr[i]; j < rowPtr[i+1]; j++ {
				c := col[j]
				if int(c) < beg || int(c) >= end {
					seen[c] = struct{}{}
				}
			}
		}
		if len(seen) == 0 {
			continue
		}
		cols := make([]C, 0, len(seen))
		for c := range seen {
			cols = append(cols, c)
		}
		slices.Sort(cols)
		remote[d] = cols
	}
	return remote
}

// planExchange computes the per-device remote column sets and the global
// exchange plan for the given partition and matrix structure.
//
// The returned plan is nil when no column crosses a device boundary; callers
// must then skip all exchange machinery.
func planExchange[C Column](part []int, rowPtr []int, col []C) (remote [][]C, plan *exchangePlan[C]) {
	devices := len(part) - 1
	remote = remoteColumns(part, rowPtr, col)

	var transfer []C
	for _, cols := range remote {
		transfer = append(transfer, cols...)
	}
	if len(transfer) == 0 {
		return remote, nil
	}
	slices.Sort(transfer)
	transfer = slices.Compact(transfer)

	plan = &exchangePlan[C]{transfer: transfer}

	// Supply sub-ranges: binary search of the partition boundaries over the
	// sorted transfer list. Valid because both share the same global index space.
	plan.cidx = make([]int, devices+1)
	for d := 0; d <= devices; d++ {
		bound := part[d]
		plan.cidx[d] = sort.Search(len(transfer), func(i int) bool {
			return int(transfer[i]) >= bound
		})
	}

	// Receive index lists: positions of each device's remote columns within the
	// transfer list. Both sides are sorted, so a linear merge suffices.
	plan.recvIdx = make([][]int, devices)
	for d := 0; d < devices; d++ {
		cols := remote[d]
		if len(cols) == 0 {
			continue
		}
		idx := make([]int, 0, len(cols))
		k := 0
		for i, c := range transfer {
			if k == len(cols) {
				break
			}
			if c == cols[k] {
				idx = append(idx, i)
				k++
			}
		}
		plan.recvIdx[d] = idx
	}
	return remote, plan
}
