package sparse

import (
	"github.com/gosparse/gosparse/backends"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// StencilMatrix is a sparse matrix in stencil-relative (CCSR) form: rows with
// identical sparsity shape share one entry of a row-pointer table, and column
// positions are stored as signed offsets from the row index. For matrices from
// regular-grid discretizations this collapses row-pointer storage from O(n) to
// O(distinct shapes).
//
// It is a single-device representation; the column-offset type must be signed,
// which the SignedColumn constraint enforces.
type StencilMatrix[T Float, C SignedColumn] struct {
	queue    backends.Queue
	rows     int
	idx      backends.Buffer // row -> row-table entry
	rowTab   backends.Buffer // shared row-pointer table, m+1 entries
	col      backends.Buffer // offsets relative to the row index
	val      backends.Buffer
	set, add backends.Kernel
}

// NewStencilMatrix builds the device representation of an n-row CCSR matrix
// with m distinct row shapes: idx maps each row to an entry of the shared
// row-pointer table rowTab (m+1 entries indexing col and val), and col holds
// column offsets relative to the row index.
func NewStencilMatrix[T Float, C SignedColumn](
	queue backends.Queue, n, m int,
	idx []int, rowTab []int, col []C, val []T,
) (*StencilMatrix[T, C], error) {
	if len(idx) != n {
		return nil, errors.Errorf("idx has %d entries, want n=%d", len(idx), n)
	}
	if len(rowTab) != m+1 {
		return nil, errors.Errorf("row table has %d entries, want m+1=%d", len(rowTab), m+1)
	}
	if rowTab[m] != len(col) || rowTab[m] != len(val) {
		return nil, errors.Errorf("row table end %d does not match %d columns / %d values",
			rowTab[m], len(col), len(val))
	}
	a := &StencilMatrix[T, C]{queue: queue, rows: n}
	ctx := queue.Context()
	prog, err := ctx.Programs().Get(ctx, ccsrSource[T, C]())
	if err != nil {
		return nil, err
	}
	if a.set, err = prog.Kernel(kernelSpMVSet); err != nil {
		return nil, err
	}
	if a.add, err = prog.Kernel(kernelSpMVAdd); err != nil {
		return nil, err
	}

	var last backends.Event
	if a.idx, _, err = upload(queue, toInt64(idx), backends.ReadOnly); err != nil {
		return nil, err
	}
	if a.rowTab, _, err = upload(queue, toInt64(rowTab), backends.ReadOnly); err != nil {
		return nil, err
	}
	if a.col, _, err = upload(queue, col, backends.ReadOnly); err != nil {
		return nil, err
	}
	if a.val, last, err = upload(queue, val, backends.ReadOnly); err != nil {
		return nil, err
	}
	if last != nil {
		if err = last.Wait(); err != nil {
			return nil, err
		}
	}
	klog.V(1).Infof("sparse: stencil matrix %dx%d, %d shape(s), on %s", n, n, m, queue.Device().Name())
	return a, nil
}

// Mul computes y = alpha*A*x, or y += alpha*A*x when appendTo is set. The
// vectors must live on the matrix's single queue and span all n rows.
func (a *StencilMatrix[T, C]) Mul(x, y *Vector[T], alpha T, appendTo bool) error {
	if len(x.queues) != 1 || len(y.queues) != 1 {
		return errors.New("stencil matrices are single-device; vectors must have exactly one strip")
	}
	if x.Len() != a.rows || y.Len() != a.rows {
		return errors.Errorf("vector sizes %d/%d do not match %d rows", x.Len(), y.Len(), a.rows)
	}
	kernel := a.set
	if appendTo {
		kernel = a.add
	}
	args := []any{a.rows, a.idx, a.rowTab, a.col, a.val, x.bufs[0], y.bufs[0], alpha}
	_, err := a.queue.Launch(kernel, a.rows, args, nil)
	return err
}
