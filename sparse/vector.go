package sparse

import (
	"unsafe"

	"github.com/gosparse/gosparse/backends"
	"github.com/pkg/errors"
)

// Vector is a distributed device vector: one buffer per device, each sized to
// that device's partition of the n rows. Devices with an empty partition hold
// no buffer.
type Vector[T Float] struct {
	queues []backends.Queue
	part   []int
	bufs   []backends.Buffer
}

// NewVector creates a distributed vector of n elements over the given queues,
// partitioned the same way Partition splits matrix rows.
func NewVector[T Float](queues []backends.Queue, n int) (*Vector[T], error) {
	return NewVectorPartitioned[T](queues, Partition(n, len(queues)))
}

// NewVectorPartitioned creates a distributed vector with an explicit partition,
// which must have len(queues)+1 non-decreasing boundaries.
func NewVectorPartitioned[T Float](queues []backends.Queue, part []int) (*Vector[T], error) {
	if len(part) != len(queues)+1 {
		return nil, errors.Errorf("partition has %d boundaries for %d queues", len(part), len(queues))
	}
	var t T
	v := &Vector[T]{
		queues: queues,
		part:   part,
		bufs:   make([]backends.Buffer, len(queues)),
	}
	for d, q := range queues {
		rows := part[d+1] - part[d]
		if rows == 0 {
			continue
		}
		buf, err := q.Context().NewBuffer(rows*int(unsafe.Sizeof(t)), backends.ReadWrite)
		if err != nil {
			return nil, errors.WithMessagef(err, "allocating vector strip for device %d", d)
		}
		v.bufs[d] = buf
	}
	return v, nil
}

// Len returns the global element count.
func (v *Vector[T]) Len() int { return v.part[len(v.part)-1] }

// Partition returns the vector's row boundaries. The caller must not modify it.
func (v *Vector[T]) Partition() []int { return v.part }

// Buffer returns device d's strip, or nil if its partition is empty.
func (v *Vector[T]) Buffer(d int) backends.Buffer { return v.bufs[d] }

// SetFrom copies host into the vector, strip by strip, and waits for all
// writes to complete.
func (v *Vector[T]) SetFrom(host []T) error {
	if len(host) != v.Len() {
		return errors.Errorf("host slice has %d elements, vector has %d", len(host), v.Len())
	}
	events := make([]backends.Event, 0, len(v.queues))
	for d, q := range v.queues {
		if v.bufs[d] == nil {
			continue
		}
		ev, err := q.WriteBuffer(v.bufs[d], 0, backends.AsBytes(host[v.part[d]:v.part[d+1]]), nil)
		if err != nil {
			return errors.WithMessagef(err, "writing strip of device %d", d)
		}
		events = append(events, ev)
	}
	return waitAll(events)
}

// CopyTo copies the vector into host, strip by strip, after all previously
// enqueued operations on the vector's queues.
func (v *Vector[T]) CopyTo(host []T) error {
	if len(host) != v.Len() {
		return errors.Errorf("host slice has %d elements, vector has %d", len(host), v.Len())
	}
	events := make([]backends.Event, 0, len(v.queues))
	for d, q := range v.queues {
		if v.bufs[d] == nil {
			continue
		}
		ev, err := q.ReadBuffer(v.bufs[d], 0, backends.AsBytes(host[v.part[d]:v.part[d+1]]), nil)
		if err != nil {
			return errors.WithMessagef(err, "reading strip of device %d", d)
		}
		events = append(events, ev)
	}
	return waitAll(events)
}

// Fill sets every element to value and waits for completion.
func (v *Vector[T]) Fill(value T) error {
	host := make([]T, v.Len())
	for i := range host {
		host[i] = value
	}
	return v.SetFrom(host)
}

// Free releases all device buffers. The vector must not be used afterwards.
func (v *Vector[T]) Free() error {
	for d, buf := range v.bufs {
		if buf == nil {
			continue
		}
		if err := v.queues[d].Context().FreeBuffer(buf); err != nil {
			return err
		}
		v.bufs[d] = nil
	}
	return nil
}

func waitAll(events []backends.Event) error {
	for _, ev := range events {
		if err := ev.Wait(); err != nil {
			return err
		}
	}
	return nil
}
