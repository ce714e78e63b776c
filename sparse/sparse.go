// Package sparse implements distributed sparse matrix-vector multiplication
// across the compute devices of a backend.
//
// A Matrix is constructed from a global matrix in compressed-row (row-pointer /
// column-index / value) form and a list of device command queues, one per
// participating device. Rows are partitioned across devices; each device stores
// its strip in a layout suited to its execution model (padded-width for wide
// parallel devices, row-pointer for scalar ones). Columns owned by other
// devices ("ghost" columns) are exchanged at multiply time, with the transfer
// overlapped with each device's local computation on a secondary queue.
//
// StencilMatrix is a separate single-device representation for matrices whose
// rows share sparsity shapes, with column offsets relative to the row index.
package sparse

import (
	"golang.org/x/exp/constraints"
)

// Float constrains the element type of matrices and vectors.
type Float interface {
	constraints.Float
}

// Column constrains the column-index type of partitioned matrices.
// Signed types are allowed but values must be non-negative global indices.
type Column interface {
	constraints.Integer
}

// SignedColumn constrains the column-offset type of stencil matrices, whose
// offsets are relative to the row index and may be negative.
type SignedColumn interface {
	constraints.Signed
}

// alignUp rounds x up to a multiple of granularity.
func alignUp(x, granularity int) int {
	return (x + granularity - 1) / granularity * granularity
}

// clTypeName returns the device-source spelling of a Go numeric type, used
// when generating kernel text.
func clTypeName[T any]() string {
	var t T
	switch any(t).(type) {
	case float32:
		return "float"
	case float64:
		return "double"
	case int8:
		return "char"
	case uint8:
		return "uchar"
	case int16:
		return "short"
	case uint16:
		return "ushort"
	case int32:
		return "int"
	case uint32:
		return "uint"
	case int64, int:
		return "long"
	case uint64, uint, uintptr:
		return "ulong"
	}
	return "unknown"
}
