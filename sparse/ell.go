package sparse

import (
	"github.com/gosparse/gosparse/backends"
	"github.com/pkg/errors"
)

// ellEngine stores one device's strip in the padded-width (ELL) layout: per
// half, a fixed width W = max nonzeros-per-row, columns addressed row+j*pitch,
// sentinel columns marking padding. Every row does W iterations regardless of
// its actual nonzero count.
type ellEngine[T Float, C Column] struct {
	queue       backends.Queue
	rows, pitch int
	loc, rem    ellHalf
	set, add    backends.Kernel
}

type ellHalf struct {
	width int
	col   backends.Buffer
	val   backends.Buffer
}

var _ localEngine[float32, uint32] = (*ellEngine[float32, uint32])(nil)

// newELLEngine builds the padded-width strip for rows [beg, end) of the global
// matrix, renumbering columns inside the strip to partition offsets and ghost
// columns to their ghost-buffer slots (sorted remote order).
func newELLEngine[T Float, C Column](
	queue backends.Queue, beg, end int,
	rowPtr []int, col []C, val []T, remote []C,
) (*ellEngine[T, C], error) {
	rows := end - beg
	e := &ellEngine[T, C]{
		queue: queue,
		rows:  rows,
		pitch: alignUp(rows, partitionAlign),
	}
	ctx := queue.Context()
	prog, err := ctx.Programs().Get(ctx, ellSource[T, C]())
	if err != nil {
		return nil, err
	}
	if e.set, err = prog.Kernel(kernelSpMVSet); err != nil {
		return nil, err
	}
	if e.add, err = prog.Kernel(kernelSpMVAdd); err != nil {
		return nil, err
	}

	// Widths of the local and remote halves.
	for i := beg; i < end; i++ {
		w := 0
		for j := rowPtr[i]; j < rowPtr[i+1]; j++ {
			if int(col[j]) >= beg && int(col[j]) < end {
				w++
			}
		}
		e.loc.width = max(e.loc.width, w)
		e.rem.width = max(e.rem.width, rowPtr[i+1]-rowPtr[i]-w)
	}

	// Rearrange columns and values into the padded layout.
	ncol := ncolSentinel[C]()
	lcol := make([]C, e.pitch*e.loc.width)
	lval := make([]T, e.pitch*e.loc.width)
	rcol := make([]C, e.pitch*e.rem.width)
	rval := make([]T, e.pitch*e.rem.width)
	for i := range lcol {
		lcol[i] = ncol
	}
	for i := range rcol {
		rcol[i] = ncol
	}
	r2l := ghostRenumber(remote)
	for i, k := beg, 0; i < end; i, k = i+1, k+1 {
		lc, rc := 0, 0
		for j := rowPtr[i]; j < rowPtr[i+1]; j++ {
			if c := int(col[j]); c >= beg && c < end {
				lcol[k+e.pitch*lc] = C(c - beg)
				lval[k+e.pitch*lc] = val[j]
				lc++
			} else {
				slot, ok := r2l[col[j]]
				if !ok {
					return nil, errors.Errorf("column %d of row %d missing from the remote set", int(col[j]), i)
				}
				rcol[k+e.pitch*rc] = slot
				rval[k+e.pitch*rc] = val[j]
				rc++
			}
		}
	}

	var last backends.Event
	if e.loc.col, _, err = upload(queue, lcol, backends.ReadOnly); err != nil {
		return nil, err
	}
	if e.loc.val, last, err = upload(queue, lval, backends.ReadOnly); err != nil {
		return nil, err
	}
	if e.rem.width > 0 {
		if e.rem.col, _, err = upload(queue, rcol, backends.ReadOnly); err != nil {
			return nil, err
		}
		if e.rem.val, last, err = upload(queue, rval, backends.ReadOnly); err != nil {
			return nil, err
		}
	}
	// Host arrays must not be collected before the writes land.
	if last != nil {
		if err = last.Wait(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *ellEngine[T, C]) mulLocal(x, y backends.Buffer, alpha T, appendTo bool) error {
	kernel := e.set
	if appendTo {
		kernel = e.add
	}
	args := []any{e.rows, e.loc.width, e.pitch, e.loc.col, e.loc.val, x, y, alpha}
	_, err := e.queue.Launch(kernel, e.rows, args, nil)
	return err
}

func (e *ellEngine[T, C]) mulRemote(xGhost, y backends.Buffer, alpha T, waitFor []backends.Event) (backends.Event, error) {
	args := []any{e.rows, e.rem.width, e.pitch, e.rem.col, e.rem.val, xGhost, y, alpha}
	return e.queue.Launch(e.add, e.rows, args, waitFor)
}
