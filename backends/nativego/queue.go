package nativego

import (
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gosparse/gosparse/backends"
	"github.com/gosparse/gosparse/types/xsync"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// queue is an in-order command queue serviced by a dedicated goroutine.
//
// Each enqueued command first waits on its dependency events (which may come
// from other queues), then runs. In-order semantics per queue fall out of the
// single servicing goroutine; concurrency comes from using several queues.
type queue struct {
	dev       *device
	cmds      chan command
	finalized atomic.Bool
}

type command struct {
	waitFor []backends.Event
	run     func() error
	ev      *event
}

// event is a completion handle backed by a latch holding the operation's error.
type event struct {
	latch *xsync.LatchWithValue[error]
}

var _ backends.Event = (*event)(nil)

func newEvent() *event {
	return &event{latch: xsync.NewLatchWithValue[error]()}
}

// Wait blocks until the operation completed, returning its error, if any.
func (e *event) Wait() error { return e.latch.Wait() }

// Done reports whether the operation already completed.
func (e *event) Done() bool { return e.latch.Test() }

const queueDepth = 64

func newQueue(d *device) *queue {
	q := &queue{
		dev:  d,
		cmds: make(chan command, queueDepth),
	}
	go q.serve()
	return q
}

func (q *queue) serve() {
	for cmd := range q.cmds {
		var err error
		for _, dep := range cmd.waitFor {
			if dep == nil {
				continue
			}
			if depErr := dep.Wait(); depErr != nil {
				err = errors.WithMessage(depErr, "dependency failed")
				break
			}
		}
		if err == nil && cmd.run != nil {
			err = cmd.run()
		}
		cmd.ev.latch.Trigger(err)
	}
}

var _ backends.Queue = (*queue)(nil)

func (q *queue) Device() backends.Device { return q.dev }

func (q *queue) Context() backends.Context { return q.dev.backend.ctx }

// enqueue submits a command. Panics if the queue was finalized: enqueueing
// after Backend.Finalize is a caller bug.
func (q *queue) enqueue(waitFor []backends.Event, run func() error) *event {
	if q.finalized.Load() {
		exceptions.Panicf("nativego: enqueue on finalized queue of device %s", q.dev.Name())
	}
	ev := newEvent()
	q.cmds <- command{waitFor: waitFor, run: run, ev: ev}
	return ev
}

// WriteBuffer enqueues an asynchronous host-to-device copy.
func (q *queue) WriteBuffer(dst backends.Buffer, offset int, src []byte, waitFor []backends.Event) (backends.Event, error) {
	buf, err := q.dev.backend.ctx.checkBuffer(dst)
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset+len(src) > len(buf.data) {
		return nil, errors.Errorf("nativego: write of %d bytes at offset %d overflows buffer of %d bytes",
			len(src), offset, len(buf.data))
	}
	klog.V(3).Infof("nativego: %s write %d bytes at %d", q.dev.Name(), len(src), offset)
	return q.enqueue(waitFor, func() error {
		copy(buf.data[offset:], src)
		return nil
	}), nil
}

// ReadBuffer enqueues an asynchronous device-to-host copy.
func (q *queue) ReadBuffer(src backends.Buffer, offset int, dst []byte, waitFor []backends.Event) (backends.Event, error) {
	buf, err := q.dev.backend.ctx.checkBuffer(src)
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset+len(dst) > len(buf.data) {
		return nil, errors.Errorf("nativego: read of %d bytes at offset %d overflows buffer of %d bytes",
			len(dst), offset, len(buf.data))
	}
	klog.V(3).Infof("nativego: %s read %d bytes at %d", q.dev.Name(), len(dst), offset)
	return q.enqueue(waitFor, func() error {
		copy(dst, buf.data[offset:])
		return nil
	}), nil
}

// Launch enqueues execution of kernel over globalSize work items.
func (q *queue) Launch(k backends.Kernel, globalSize int, args []any, waitFor []backends.Event) (backends.Event, error) {
	kern, ok := k.(*kernel)
	if !ok {
		return nil, errors.Errorf("nativego: kernel of type %T was not compiled by this backend", k)
	}
	if globalSize <= 0 {
		return nil, errors.Errorf("nativego: invalid global size %d for kernel %q", globalSize, kern.name)
	}
	// Resolve buffer arguments to their raw storage now, so invalid buffers fail
	// at enqueue time, not on the queue goroutine.
	resolved := make([]any, len(args))
	for i, arg := range args {
		if buf, isBuf := arg.(*deviceBuffer); isBuf {
			live, err := q.dev.backend.ctx.checkBuffer(buf)
			if err != nil {
				return nil, errors.WithMessagef(err, "kernel %q argument %d", kern.name, i)
			}
			resolved[i] = live.data
			continue
		}
		resolved[i] = arg
	}
	klog.V(3).Infof("nativego: %s launch %q over %d items", q.dev.Name(), kern.name, globalSize)
	return q.enqueue(waitFor, func() error {
		return kern.run(q.dev, resolved, globalSize)
	}), nil
}

// Finish blocks until every operation enqueued so far has completed.
func (q *queue) Finish() error {
	return q.enqueue(nil, nil).Wait()
}

func (q *queue) finalize() {
	if q.finalized.Swap(true) {
		return
	}
	close(q.cmds)
}
