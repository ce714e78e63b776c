package sparse

import (
	"slices"
	"unsafe"

	"github.com/gosparse/gosparse/backends"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Matrix is a sparse matrix distributed across the devices of the given command
// queues. Each device stores the strip of rows assigned to it by the partition,
// split into a local sub-matrix (columns the device owns) and a remote
// sub-matrix (ghost columns fetched from other devices at multiply time).
type Matrix[T Float, C Column] struct {
	queues  []backends.Queue
	squeues []backends.Queue // secondary per-device queues for data movement
	part    []int
	engines []localEngine[T, C]

	// Exchange state; all nil/empty when no column crosses a device boundary.
	plan       *exchangePlan[C]
	exch       []exchangeSide[T]
	staging    []T // host relay for cross-device values, indexed like plan.transfer
	gather     backends.Kernel
	evTransfer []backends.Event // per-device slot for the last transfer, reused across calls
	evScatter  []backends.Event // per-device last ghost scatter, guards the host ghost area
	evRemote   []backends.Event // per-device last remote multiply, guards the ghost buffer
}

// exchangeSide is one device's view of the exchange: what it sends and what it
// receives.
type exchangeSide[T Float] struct {
	recvIdx    []int           // positions in the staging array this device consumes
	ghost      []T             // host scatter area, one slot per ghost column
	rx         backends.Buffer // device ghost buffer
	colsToSend backends.Buffer // partition-local indices of owned values others need
	valsToSend backends.Buffer // gathered owned values, read back to staging
}

// MatrixOption configures NewMatrix.
type MatrixOption func(*matrixOptions)

type matrixOptions struct {
	selector EngineSelector
	weights  []float64
	part     []int
}

// WithEngineSelector overrides the per-device storage-layout heuristic.
func WithEngineSelector(selector EngineSelector) MatrixOption {
	return func(o *matrixOptions) { o.selector = selector }
}

// WithWeights partitions rows proportionally to the given per-device weights
// instead of evenly. See PartitionByPerf for measured weights.
func WithWeights(weights []float64) MatrixOption {
	return func(o *matrixOptions) { o.weights = weights }
}

// WithPartition uses an explicit row partition instead of computing one: a
// non-decreasing boundary per device plus a sentinel, starting at 0 and ending
// at n.
func WithPartition(part []int) MatrixOption {
	return func(o *matrixOptions) { o.part = part }
}

// NewMatrix builds the distributed representation of an n-row sparse matrix
// given in compressed-row form: rowPtr has n+1 entries indexing into col and
// val. One queue per participating device.
//
// The input triplet is only validated as far as upload requires; rows and
// columns must otherwise be well-formed (see the package contract). The input
// slices are not retained.
func NewMatrix[T Float, C Column](
	queues []backends.Queue, n int,
	rowPtr []int, col []C, val []T,
	opts ...MatrixOption,
) (*Matrix[T, C], error) {
	options := matrixOptions{selector: DefaultEngineSelector}
	for _, opt := range opts {
		opt(&options)
	}
	if len(queues) == 0 {
		return nil, errors.New("no device queues given")
	}
	if len(rowPtr) != n+1 {
		return nil, errors.Errorf("rowPtr has %d entries, want n+1=%d", len(rowPtr), n+1)
	}
	if rowPtr[n] != len(col) || rowPtr[n] != len(val) {
		return nil, errors.Errorf("rowPtr[n]=%d does not match %d columns / %d values",
			rowPtr[n], len(col), len(val))
	}
	if options.weights != nil && len(options.weights) != len(queues) {
		return nil, errors.Errorf("%d weights for %d queues", len(options.weights), len(queues))
	}
	if options.part != nil {
		if len(options.part) != len(queues)+1 || options.part[0] != 0 || options.part[len(queues)] != n {
			return nil, errors.Errorf("explicit partition %v is not a boundary list for n=%d over %d queues",
				options.part, n, len(queues))
		}
		for d := 0; d < len(queues); d++ {
			if options.part[d] > options.part[d+1] {
				return nil, errors.Errorf("explicit partition %v is not non-decreasing", options.part)
			}
		}
	}

	m := &Matrix[T, C]{
		queues:  queues,
		engines: make([]localEngine[T, C], len(queues)),
	}
	switch {
	case options.part != nil:
		m.part = options.part
	case options.weights != nil:
		m.part = PartitionWeighted(n, options.weights)
	default:
		m.part = Partition(n, len(queues))
	}

	remote, plan := planExchange(m.part, rowPtr, col)
	m.plan = plan
	if plan != nil {
		if err := m.setupExchange(plan, remote); err != nil {
			return nil, err
		}
	}

	for d, q := range queues {
		if m.part[d+1] == m.part[d] {
			continue
		}
		var (
			engine localEngine[T, C]
			err    error
		)
		switch options.selector(q.Device()) {
		case EngineRowPointer:
			engine, err = newCSREngine(q, m.part[d], m.part[d+1], rowPtr, col, val, remote[d])
		default:
			engine, err = newELLEngine(q, m.part[d], m.part[d+1], rowPtr, col, val, remote[d])
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "building strip for device %s", q.Device().Name())
		}
		m.engines[d] = engine
	}
	klog.V(1).Infof("sparse: matrix %dx%d distributed over %d device(s), %d ghost column(s)",
		n, n, len(queues), len(m.transferList()))
	return m, nil
}

// setupExchange builds the per-device send/receive machinery for a non-empty
// transfer list: ghost buffers, send index/value buffers, secondary queues and
// the host staging array.
func (m *Matrix[T, C]) setupExchange(plan *exchangePlan[C], remote [][]C) error {
	var t T
	elemSize := int(unsafe.Sizeof(t))

	m.staging = make([]T, len(plan.transfer))
	m.exch = make([]exchangeSide[T], len(m.queues))
	m.squeues = make([]backends.Queue, len(m.queues))
	m.evTransfer = make([]backends.Event, len(m.queues))
	m.evScatter = make([]backends.Event, len(m.queues))
	m.evRemote = make([]backends.Event, len(m.queues))

	// The gather program is shared by all devices of the context.
	ctx := m.queues[0].Context()
	prog, err := ctx.Programs().Get(ctx, gatherSource[T, C]())
	if err != nil {
		return err
	}
	if m.gather, err = prog.Kernel(kernelGather); err != nil {
		return err
	}

	for d, q := range m.queues {
		m.squeues[d] = q.Device().NewQueue()

		// Receive side: devices with a non-empty remote column set.
		if rcols := len(remote[d]); rcols > 0 {
			m.exch[d].recvIdx = plan.recvIdx[d]
			m.exch[d].ghost = make([]T, rcols)
			m.exch[d].rx, err = q.Context().NewBuffer(rcols*elemSize, backends.ReadOnly)
			if err != nil {
				return errors.WithMessagef(err, "allocating ghost buffer for device %d", d)
			}
		}

		// Send side: devices owning a sub-range of the transfer list.
		if ncols := plan.cidx[d+1] - plan.cidx[d]; ncols > 0 {
			colsToSend := make([]C, ncols)
			for i := range colsToSend {
				colsToSend[i] = plan.transfer[plan.cidx[d]+i] - C(m.part[d])
			}
			var ev backends.Event
			if m.exch[d].colsToSend, ev, err = upload(q, colsToSend, backends.ReadOnly); err != nil {
				return errors.WithMessagef(err, "uploading send indices for device %d", d)
			}
			if err = ev.Wait(); err != nil {
				return err
			}
			m.exch[d].valsToSend, err = q.Context().NewBuffer(ncols*elemSize, backends.ReadWrite)
			if err != nil {
				return errors.WithMessagef(err, "allocating send buffer for device %d", d)
			}
		}
	}
	return nil
}

// Partition returns the matrix's row boundaries, one per device plus a
// sentinel. The caller must not modify it.
func (m *Matrix[T, C]) Partition() []int { return m.part }

func (m *Matrix[T, C]) transferList() []C {
	if m.plan == nil {
		return nil
	}
	return m.plan.transfer
}

// Mul computes y = alpha*A*x, or y += alpha*A*x when appendTo is set,
// in parallel on all participating devices. Ghost values of x are transferred
// across device boundaries as needed, overlapped with the local computation.
//
// x and y must be distributed over the same queues and partition as the
// matrix. All operations are issued asynchronously; the call returns once
// everything is enqueued, and completion is observed through the vector's
// queues (e.g. Vector.CopyTo or Matrix.Finish). Mul must not be called
// concurrently on the same matrix.
func (m *Matrix[T, C]) Mul(x, y *Vector[T], alpha T, appendTo bool) error {
	if !slices.Equal(x.part, m.part) || !slices.Equal(y.part, m.part) {
		return errors.New("vector partition does not match the matrix partition")
	}

	// Gather owned values destined for other devices and start moving them to
	// the host staging array. The readback rides the secondary queue so it can
	// overlap the local multiplies below.
	if m.plan != nil {
		for d, q := range m.queues {
			ncols := m.plan.cidx[d+1] - m.plan.cidx[d]
			if ncols == 0 {
				continue
			}
			args := []any{ncols, x.bufs[d], m.exch[d].colsToSend, m.exch[d].valsToSend}
			evGather, err := q.Launch(m.gather, ncols, args, nil)
			if err != nil {
				return errors.WithMessagef(err, "gathering send values on device %d", d)
			}
			dst := backends.AsBytes(m.staging[m.plan.cidx[d] : m.plan.cidx[d+1]])
			m.evTransfer[d], err = m.squeues[d].ReadBuffer(m.exch[d].valsToSend, 0, dst, []backends.Event{evGather})
			if err != nil {
				return errors.WithMessagef(err, "transferring send values off device %d", d)
			}
		}
	}

	// Local contribution: no ordering dependency on the transfers above.
	for d, engine := range m.engines {
		if engine == nil {
			continue
		}
		if err := engine.mulLocal(x.bufs[d], y.bufs[d], alpha, appendTo); err != nil {
			return errors.WithMessagef(err, "local multiply on device %d", d)
		}
	}

	// Remote contribution.
	if m.plan != nil {
		// Barrier: the staging array must be fully populated before any device
		// scatters from it.
		for d := range m.queues {
			if m.plan.cidx[d+1] == m.plan.cidx[d] {
				continue
			}
			if err := m.evTransfer[d].Wait(); err != nil {
				return errors.WithMessagef(err, "waiting for transfer from device %d", d)
			}
		}

		for d := range m.queues {
			side := &m.exch[d]
			if len(side.recvIdx) == 0 {
				continue
			}
			// A previous multiply may still be copying the host ghost area.
			if m.evScatter[d] != nil {
				if err := m.evScatter[d].Wait(); err != nil {
					return errors.WithMessagef(err, "waiting for previous scatter on device %d", d)
				}
			}
			for i, pos := range side.recvIdx {
				side.ghost[i] = m.staging[pos]
			}
			// The ghost device buffer frees up once the previous remote multiply ran.
			evScatter, err := m.squeues[d].WriteBuffer(side.rx, 0, backends.AsBytes(side.ghost),
				[]backends.Event{m.evRemote[d]})
			if err != nil {
				return errors.WithMessagef(err, "scattering ghost values to device %d", d)
			}
			m.evScatter[d] = evScatter
			m.evRemote[d], err = m.engines[d].mulRemote(side.rx, y.bufs[d], alpha, []backends.Event{evScatter})
			if err != nil {
				return errors.WithMessagef(err, "remote multiply on device %d", d)
			}
		}
	}
	return nil
}

// Finish blocks until every operation issued by this matrix has completed.
func (m *Matrix[T, C]) Finish() error {
	for _, q := range m.queues {
		if err := q.Finish(); err != nil {
			return err
		}
	}
	for _, q := range m.squeues {
		if q == nil {
			continue
		}
		if err := q.Finish(); err != nil {
			return err
		}
	}
	return nil
}
