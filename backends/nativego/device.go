package nativego

import (
	"fmt"
	"sync"

	"github.com/gosparse/gosparse/backends"
)

// device is one virtual device of the native backend. All devices share the
// backend's execution context and the host's memory; what distinguishes them is
// their queues and their declared type.
type device struct {
	backend *Backend
	num     backends.DeviceNum
	devType backends.DeviceType
	units   int

	muQueues sync.Mutex
	queues   []*queue
}

var _ backends.Device = (*device)(nil)

func (d *device) Num() backends.DeviceNum { return d.num }

func (d *device) Name() string {
	return fmt.Sprintf("go:%s%d", d.devType, d.num)
}

func (d *device) Type() backends.DeviceType { return d.devType }

func (d *device) ComputeUnits() int { return d.units }

// NewQueue creates a new in-order command queue serviced by its own goroutine.
func (d *device) NewQueue() backends.Queue {
	q := newQueue(d)
	d.muQueues.Lock()
	d.queues = append(d.queues, q)
	d.muQueues.Unlock()
	return q
}

func (d *device) finalizeQueues() {
	d.muQueues.Lock()
	defer d.muQueues.Unlock()
	for _, q := range d.queues {
		q.finalize()
	}
	d.queues = nil
}
