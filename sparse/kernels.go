package sparse

import (
	"fmt"
	"reflect"

	"github.com/gosparse/gosparse/backends"
)

// Kernel entry-point names shared by all programs in this package.
const (
	kernelSpMVSet = "spmv_set"
	kernelSpMVAdd = "spmv_add"
	kernelGather  = "gather_vals_to_send"
)

// goTypeName spells a Go type for use in program cache keys, which must be
// exact per instantiation.
func goTypeName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}

// ncol is the padding sentinel of the padded-width layout: all bits set, which
// reads as -1 for signed column types, matching the device text's NCOL.
func ncolSentinel[C Column]() C {
	return ^C(0)
}

// gatherSource describes the kernel that gathers locally-owned values destined
// for other devices into the device's send buffer.
//
// Native arguments: n int, x []T, colsToSend []C, valsToSend []T.
func gatherSource[T Float, C Column]() *backends.Source {
	text := fmt.Sprintf(`typedef %s real;
kernel void gather_vals_to_send(
    ulong n,
    global const real *vals,
    global const %s *cols_to_send,
    global real *vals_to_send
    )
{
    size_t i = get_global_id(0);
    if (i < n) vals_to_send[i] = vals[cols_to_send[i]];
}
`, clTypeName[T](), clTypeName[C]())
	return &backends.Source{
		Name: fmt.Sprintf("sparse.gather<%s,%s>", goTypeName[T](), goTypeName[C]()),
		Text: text,
		Native: map[string]backends.NativeKernel{
			kernelGather: func(args []any, lo, hi int) {
				n := args[0].(int)
				x := backends.AsSlice[T](args[1].([]byte))
				cols := backends.AsSlice[C](args[2].([]byte))
				out := backends.AsSlice[T](args[3].([]byte))
				hi = min(hi, n)
				for i := lo; i < hi; i++ {
					out[i] = x[cols[i]]
				}
			},
		},
	}
}

// ellSource describes the padded-width (ELL) multiply program: fixed width per
// row, columns addressed row + j*pitch, sentinel columns skipped.
//
// Native arguments: n int, w int, pitch int, col []C, val []T, x []T, y []T, alpha T.
func ellSource[T Float, C Column]() *backends.Source {
	kernelText := func(name, op string) string {
		return fmt.Sprintf(`kernel void %s(
    ulong n, uint w, ulong pitch,
    global const %s *col,
    global const real *val,
    global const real *x,
    global real *y,
    real alpha
    )
{
    size_t grid_size = get_num_groups(0) * get_local_size(0);
    for (size_t row = get_global_id(0); row < n; row += grid_size) {
        real sum = 0;
        for (size_t j = 0; j < w; j++) {
            %s c = col[row + j * pitch];
            if (c != NCOL) sum += val[row + j * pitch] * x[c];
        }
        y[row] %s alpha * sum;
    }
}
`, name, clTypeName[C](), clTypeName[C](), op)
	}
	text := fmt.Sprintf("typedef %s real;\n#define NCOL ((%s)(-1))\n", clTypeName[T](), clTypeName[C]()) +
		kernelText(kernelSpMVSet, "=") + kernelText(kernelSpMVAdd, "+=")

	run := func(appendTo bool) backends.NativeKernel {
		return func(args []any, lo, hi int) {
			n := args[0].(int)
			w := args[1].(int)
			pitch := args[2].(int)
			col := backends.AsSlice[C](args[3].([]byte))
			val := backends.AsSlice[T](args[4].([]byte))
			x := backends.AsSlice[T](args[5].([]byte))
			y := backends.AsSlice[T](args[6].([]byte))
			alpha := args[7].(T)
			ncol := ncolSentinel[C]()
			hi = min(hi, n)
			for row := lo; row < hi; row++ {
				var sum T
				for j := 0; j < w; j++ {
					c := col[row+j*pitch]
					if c != ncol {
						sum += val[row+j*pitch] * x[c]
					}
				}
				if appendTo {
					y[row] += alpha * sum
				} else {
					y[row] = alpha * sum
				}
			}
		}
	}
	return &backends.Source{
		Name: fmt.Sprintf("sparse.ell<%s,%s>", goTypeName[T](), goTypeName[C]()),
		Text: text,
		Native: map[string]backends.NativeKernel{
			kernelSpMVSet: run(false),
			kernelSpMVAdd: run(true),
		},
	}
}

// csrSource describes the row-pointer (CSR) multiply program: exact work per
// row, no padding.
//
// Native arguments: n int, rowPtr []int64, col []C, val []T, x []T, y []T, alpha T.
func csrSource[T Float, C Column]() *backends.Source {
	kernelText := func(name, op string) string {
		return fmt.Sprintf(`kernel void %s(
    ulong n,
    global const ulong *row,
    global const %s *col,
    global const real *val,
    global const real *x,
    global real *y,
    real alpha
    )
{
    size_t i = get_global_id(0);
    if (i < n) {
        real sum = 0;
        size_t beg = row[i];
        size_t end = row[i + 1];
        for (size_t j = beg; j < end; j++)
            sum += val[j] * x[col[j]];
        y[i] %s alpha * sum;
    }
}
`, name, clTypeName[C](), op)
	}
	text := fmt.Sprintf("typedef %s real;\n", clTypeName[T]()) +
		kernelText(kernelSpMVSet, "=") + kernelText(kernelSpMVAdd, "+=")

	run := func(appendTo bool) backends.NativeKernel {
		return func(args []any, lo, hi int) {
			n := args[0].(int)
			rowPtr := backends.AsSlice[int64](args[1].([]byte))
			col := backends.AsSlice[C](args[2].([]byte))
			val := backends.AsSlice[T](args[3].([]byte))
			x := backends.AsSlice[T](args[4].([]byte))
			y := backends.AsSlice[T](args[5].([]byte))
			alpha := args[6].(T)
			hi = min(hi, n)
			for i := lo; i < hi; i++ {
				var sum T
				for j := rowPtr[i]; j < rowPtr[i+1]; j++ {
					sum += val[j] * x[col[j]]
				}
				if appendTo {
					y[i] += alpha * sum
				} else {
					y[i] = alpha * sum
				}
			}
		}
	}
	return &backends.Source{
		Name: fmt.Sprintf("sparse.csr<%s,%s>", goTypeName[T](), goTypeName[C]()),
		Text: text,
		Native: map[string]backends.NativeKernel{
			kernelSpMVSet: run(false),
			kernelSpMVAdd: run(true),
		},
	}
}

// ccsrSource describes the stencil-relative (CCSR) multiply program: row i maps
// through an index table to a shared row-shape entry whose column offsets are
// relative to i.
//
// Native arguments: n int, idx []int64, rowPtr []int64, col []C, val []T,
// x []T, y []T, alpha T.
func ccsrSource[T Float, C SignedColumn]() *backends.Source {
	kernelText := func(name, op string) string {
		return fmt.Sprintf(`kernel void %s(
    ulong n,
    global const ulong *idx,
    global const ulong *row,
    global const %s *col,
    global const real *val,
    global const real *x,
    global real *y,
    real alpha
    )
{
    size_t i = get_global_id(0);
    if (i < n) {
        real sum = 0;
        size_t pos = idx[i];
        size_t beg = row[pos];
        size_t end = row[pos + 1];
        for (size_t j = beg; j < end; j++)
            sum += val[j] * x[i + col[j]];
        y[i] %s alpha * sum;
    }
}
`, name, clTypeName[C](), op)
	}
	text := fmt.Sprintf("typedef %s real;\n", clTypeName[T]()) +
		kernelText(kernelSpMVSet, "=") + kernelText(kernelSpMVAdd, "+=")

	run := func(appendTo bool) backends.NativeKernel {
		return func(args []any, lo, hi int) {
			n := args[0].(int)
			idx := backends.AsSlice[int64](args[1].([]byte))
			rowPtr := backends.AsSlice[int64](args[2].([]byte))
			col := backends.AsSlice[C](args[3].([]byte))
			val := backends.AsSlice[T](args[4].([]byte))
			x := backends.AsSlice[T](args[5].([]byte))
			y := backends.AsSlice[T](args[6].([]byte))
			alpha := args[7].(T)
			hi = min(hi, n)
			for i := lo; i < hi; i++ {
				var sum T
				pos := idx[i]
				for j := rowPtr[pos]; j < rowPtr[pos+1]; j++ {
					sum += val[j] * x[i+int(col[j])]
				}
				if appendTo {
					y[i] += alpha * sum
				} else {
					y[i] = alpha * sum
				}
			}
		}
	}
	return &backends.Source{
		Name: fmt.Sprintf("sparse.ccsr<%s,%s>", goTypeName[T](), goTypeName[C]()),
		Text: text,
		Native: map[string]backends.NativeKernel{
			kernelSpMVSet: run(false),
			kernelSpMVAdd: run(true),
		},
	}
}
