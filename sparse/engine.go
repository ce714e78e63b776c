package sparse

import (
	"unsafe"

	"github.com/gosparse/gosparse/backends"
	"github.com/pkg/errors"
)

// localEngine is one device's strip of a partitioned matrix: two independent
// sub-matrices, "local" over the device's own columns and "remote" over its
// ghost columns, each multipliable against device buffers.
//
// mulLocal computes y = alpha*A_local*x, or y += ... when appendTo is set.
// mulRemote always accumulates y += alpha*A_remote*xGhost and must not start
// before the events in waitFor complete (the scatter filling xGhost).
type localEngine[T Float, C Column] interface {
	mulLocal(x, y backends.Buffer, alpha T, appendTo bool) error
	mulRemote(xGhost, y backends.Buffer, alpha T, waitFor []backends.Event) (backends.Event, error)
}

// EngineKind selects the storage layout of one device's strip.
type EngineKind int

const (
	// EnginePaddedWidth is the fixed-width-per-row (ELL) layout: uniform per-row
	// work, sentinel padding, favorable on wide parallel devices.
	EnginePaddedWidth EngineKind = iota

	// EngineRowPointer is the classic row-pointer (CSR) layout: exact work per
	// row, favorable on scalar devices.
	EngineRowPointer
)

// EngineSelector picks the storage layout for a device. It is a heuristic:
// either choice produces identical numerical results.
type EngineSelector func(dev backends.Device) EngineKind

// DefaultEngineSelector gives scalar (cpu) devices the row-pointer layout and
// everything else the padded-width layout.
func DefaultEngineSelector(dev backends.Device) EngineKind {
	if dev.Type() == backends.DeviceTypeCPU {
		return EngineRowPointer
	}
	return EnginePaddedWidth
}

// ghostRenumber maps each ghost column to its 0-based slot in the device's
// ghost buffer. The slot order follows the sorted remote column order, which is
// also the order the exchange plan's receive index list scatters into.
func ghostRenumber[C Column](remote []C) map[C]C {
	r2l := make(map[C]C, len(remote))
	for i, c := range remote {
		r2l[c] = C(i)
	}
	return r2l
}

// upload allocates a device buffer for data and enqueues its write. Empty
// slices get a minimal placeholder buffer so kernels can still bind the
// argument. The returned event is nil for placeholder buffers.
func upload[E any](q backends.Queue, data []E, access backends.Access) (backends.Buffer, backends.Event, error) {
	var e E
	byteSize := len(data) * int(unsafe.Sizeof(e))
	buf, err := q.Context().NewBuffer(max(byteSize, 1), access)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "allocating device buffer")
	}
	if len(data) == 0 {
		return buf, nil, nil
	}
	ev, err := q.WriteBuffer(buf, 0, backends.AsBytes(data), nil)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "uploading device buffer")
	}
	return buf, ev, nil
}

// toInt64 widens a row-pointer array for device residence.
func toInt64(a []int) []int64 {
	out := make([]int64, len(a))
	for i, v := range a {
		out[i] = int64(v)
	}
	return out
}
