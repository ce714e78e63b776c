package sparse

import (
	"github.com/gosparse/gosparse/backends"
)

// csrEngine stores one device's strip in the row-pointer (CSR) layout: exact
// nonzeros per row, split into local and remote triplets with renumbered
// columns in a single pass over the strip.
type csrEngine[T Float, C Column] struct {
	queue     backends.Queue
	rows      int
	loc, rem  csrTriplet
	hasRemote bool
	set, add  backends.Kernel
}

type csrTriplet struct {
	row backends.Buffer
	col backends.Buffer
	val backends.Buffer
}

var _ localEngine[float32, uint32] = (*csrEngine[float32, uint32])(nil)

func newCSREngine[T Float, C Column](
	queue backends.Queue, beg, end int,
	rowPtr []int, col []C, val []T, remote []C,
) (*csrEngine[T, C], error) {
	rows := end - beg
	e := &csrEngine[T, C]{
		queue:     queue,
		rows:      rows,
		hasRemote: len(remote) > 0,
	}
	ctx := queue.Context()
	prog, err := ctx.Programs().Get(ctx, csrSource[T, C]())
	if err != nil {
		return nil, err
	}
	if e.set, err = prog.Kernel(kernelSpMVSet); err != nil {
		return nil, err
	}
	if e.add, err = prog.Kernel(kernelSpMVAdd); err != nil {
		return nil, err
	}

	var last backends.Event
	if beg == 0 && len(remote) == 0 {
		// The device owns every column its rows touch starting at row 0: the
		// input triplet can be uploaded as-is.
		if e.loc.row, _, err = upload(queue, toInt64(rowPtr[:rows+1]), backends.ReadOnly); err != nil {
			return nil, err
		}
		if e.loc.col, _, err = upload(queue, col[:rowPtr[rows]], backends.ReadOnly); err != nil {
			return nil, err
		}
		if e.loc.val, last, err = upload(queue, val[:rowPtr[rows]], backends.ReadOnly); err != nil {
			return nil, err
		}
	} else {
		nnz := rowPtr[end] - rowPtr[beg]
		lrow := make([]int64, 1, rows+1)
		lcol := make([]C, 0, nnz)
		lval := make([]T, 0, nnz)
		var rrow []int64
		var rcol []C
		var rval []T
		if e.hasRemote {
			rrow = make([]int64, 1, rows+1)
			rcol = make([]C, 0, nnz)
			rval = make([]T, 0, nnz)
		}

		r2l := ghostRenumber(remote)
		for i := beg; i < end; i++ {
			for j := rowPtr[i]; j < rowPtr[i+1]; j++ {
				if c := int(col[j]); c >= beg && c < end {
					lcol = append(lcol, C(c-beg))
					lval = append(lval, val[j])
				} else {
					rcol = append(rcol, r2l[col[j]])
					rval = append(rval, val[j])
				}
			}
			lrow = append(lrow, int64(len(lcol)))
			if e.hasRemote {
				rrow = append(rrow, int64(len(rcol)))
			}
		}

		if e.loc.row, _, err = upload(queue, lrow, backends.ReadOnly); err != nil {
			return nil, err
		}
		if e.loc.col, _, err = upload(queue, lcol, backends.ReadOnly); err != nil {
			return nil, err
		}
		if e.loc.val, last, err = upload(queue, lval, backends.ReadOnly); err != nil {
			return nil, err
		}
		if e.hasRemote {
			if e.rem.row, _, err = upload(queue, rrow, backends.ReadOnly); err != nil {
				return nil, err
			}
			if e.rem.col, _, err = upload(queue, rcol, backends.ReadOnly); err != nil {
				return nil, err
			}
			if e.rem.val, last, err = upload(queue, rval, backends.ReadOnly); err != nil {
				return nil, err
			}
		}
	}
	if last != nil {
		if err = last.Wait(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *csrEngine[T, C]) mulLocal(x, y backends.Buffer, alpha T, appendTo bool) error {
	kernel := e.set
	if appendTo {
		kernel = e.add
	}
	args := []any{e.rows, e.loc.row, e.loc.col, e.loc.val, x, y, alpha}
	_, err := e.queue.Launch(kernel, e.rows, args, nil)
	return err
}

func (e *csrEngine[T, C]) mulRemote(xGhost, y backends.Buffer, alpha T, waitFor []backends.Event) (backends.Event, error) {
	args := []any{e.rows, e.rem.row, e.rem.col, e.rem.val, xGhost, y, alpha}
	return e.queue.Launch(e.add, e.rows, args, waitFor)
}
