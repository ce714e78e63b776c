package sparse

import (
	"fmt"
	"sync"
	"time"

	"github.com/gosparse/gosparse/backends"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// devicePerfCache memoizes measured device throughput for the process
// lifetime, keyed by context identity and device number.
var devicePerfCache sync.Map // string -> float64

// DevicePerf measures a device's sparse multiply throughput and returns it as
// a weight (inverse of the measured time). Results are cached per device for
// the lifetime of the process.
//
// The probe is a 3D Poisson problem in a cubic domain, multiplied once warmed
// and once timed on a dedicated queue of the device.
func DevicePerf(dev backends.Device) (float64, error) {
	queue := dev.NewQueue()
	key := fmt.Sprintf("%s/%d", queue.Context().ID(), dev.Num())
	if w, ok := devicePerfCache.Load(key); ok {
		return w.(float64), nil
	}

	const probeSize = 24
	n, rowPtr, col, val := poissonProbe(probeSize)

	queues := []backends.Queue{queue}
	mat, err := NewMatrix(queues, n, rowPtr, col, val)
	if err != nil {
		return 0, errors.WithMessage(err, "building probe matrix")
	}
	x, err := NewVector[float32](queues, n)
	if err != nil {
		return 0, err
	}
	y, err := NewVector[float32](queues, n)
	if err != nil {
		return 0, err
	}
	if err = x.Fill(1); err != nil {
		return 0, err
	}

	// Warming run.
	if err = mat.Mul(x, y, 1, false); err != nil {
		return 0, err
	}
	if err = mat.Finish(); err != nil {
		return 0, err
	}

	start := time.Now()
	if err = mat.Mul(x, y, 1, false); err != nil {
		return 0, err
	}
	if err = mat.Finish(); err != nil {
		return 0, err
	}
	elapsed := time.Since(start).Seconds()
	weight := 1 / elapsed
	klog.V(1).Infof("sparse: device %s spmv probe took %.3gs (weight %.3g)", dev.Name(), elapsed, weight)
	devicePerfCache.Store(key, weight)
	return weight, nil
}

// PartitionByPerf splits n rows across the queues' devices proportionally to
// each device's measured multiply throughput.
func PartitionByPerf(n int, queues []backends.Queue) ([]int, error) {
	if len(queues) == 1 {
		return Partition(n, 1), nil
	}
	weights := make([]float64, len(queues))
	for d, q := range queues {
		w, err := DevicePerf(q.Device())
		if err != nil {
			return nil, errors.WithMessagef(err, "measuring device %s", q.Device().Name())
		}
		weights[d] = w
	}
	return PartitionWeighted(n, weights), nil
}

// poissonProbe builds the matrix of a 3D Poisson problem on a size^3 cubic
// grid: identity rows on the boundary, 7-point stencil inside.
func poissonProbe(size int) (n int, rowPtr []int, col []uint32, val []float32) {
	n = size * size * size
	h2i := float32((size - 1) * (size - 1))

	rowPtr = make([]int, 1, n+1)
	col = make([]uint32, 0, 7*n)
	val = make([]float32, 0, 7*n)

	idx := 0
	for k := 0; k < size; k++ {
		for j := 0; j < size; j++ {
			for i := 0; i < size; i++ {
				if i == 0 || i == size-1 || j == 0 || j == size-1 || k == 0 || k == size-1 {
					col = append(col, uint32(idx))
					val = append(val, 1)
				} else {
					col = append(col, uint32(idx-size*size), uint32(idx-size), uint32(idx-1),
						uint32(idx), uint32(idx+1), uint32(idx+size), uint32(idx+size*size))
					val = append(val, -h2i, -h2i, -h2i, 6*h2i, -h2i, -h2i, -h2i)
				}
				rowPtr = append(rowPtr, len(col))
				idx++
			}
		}
	}
	return n, rowPtr, col, val
}
