package nativego

import (
	"math/bits"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/gosparse/gosparse/backends"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
	"k8s.io/klog/v2"
)

// Compile-time check:
var _ backends.Context = (*execContext)(nil)

// execContext is the execution context shared by all devices of one Backend
// instance. It owns the buffer pools and the compiled-program cache.
type execContext struct {
	id       string
	programs backends.Cache

	// bufferPools maps a power-of-two size class to a *sync.Pool of byte slices.
	bufferPools sync.Map

	// workers bounds the number of goroutines running kernel chunks across all
	// queues of the context.
	workers *semaphore.Weighted

	allocated atomic.Int64
	finalized atomic.Bool
}

func newContext() *execContext {
	return &execContext{
		id:      uuid.NewString(),
		workers: semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
	}
}

// ID returns the context identity used to key process-wide caches.
func (c *execContext) ID() string { return c.id }

// Programs returns the per-context compiled-program cache.
func (c *execContext) Programs() *backends.Cache { return &c.programs }

// deviceBuffer is the native backend's buffer: a host allocation sliced from a
// pooled size class.
type deviceBuffer struct {
	ctx    *execContext
	data   []byte
	access backends.Access
	class  int
	valid  bool
}

// sizeClass rounds a byte size up to the pooled power-of-two class.
func sizeClass(byteSize int) int {
	return bits.Len(uint(byteSize - 1))
}

func (c *execContext) getBufferPool(class int) *sync.Pool {
	poolAny, ok := c.bufferPools.Load(class)
	if !ok {
		poolAny, _ = c.bufferPools.LoadOrStore(class, &sync.Pool{
			New: func() any {
				return make([]byte, 1<<class)
			},
		})
	}
	return poolAny.(*sync.Pool)
}

// NewBuffer allocates a device-visible buffer of byteSize bytes, zero-filled.
func (c *execContext) NewBuffer(byteSize int, access backends.Access) (backends.Buffer, error) {
	if c.finalized.Load() {
		return nil, errors.New("nativego: context already finalized")
	}
	if byteSize <= 0 {
		return nil, errors.Errorf("nativego: invalid buffer size %d", byteSize)
	}
	class := sizeClass(byteSize)
	raw := c.getBufferPool(class).Get().([]byte)
	data := raw[:byteSize]
	for i := range data {
		data[i] = 0
	}
	c.allocated.Add(int64(byteSize))
	return &deviceBuffer{ctx: c, data: data, access: access, class: class, valid: true}, nil
}

// FreeBuffer returns the buffer's storage to its pool.
func (c *execContext) FreeBuffer(buffer backends.Buffer) error {
	buf, err := c.checkBuffer(buffer)
	if err != nil {
		return err
	}
	buf.valid = false
	c.allocated.Add(-int64(len(buf.data)))
	c.getBufferPool(buf.class).Put(buf.data[:cap(buf.data)])
	buf.data = nil
	return nil
}

// checkBuffer asserts that buffer is a live buffer of this context.
func (c *execContext) checkBuffer(buffer backends.Buffer) (*deviceBuffer, error) {
	buf, ok := buffer.(*deviceBuffer)
	if !ok {
		return nil, errors.Errorf("nativego: buffer of type %T was not created by this backend", buffer)
	}
	if buf.ctx != c {
		return nil, errors.New("nativego: buffer belongs to a different context")
	}
	if !buf.valid {
		return nil, errors.New("nativego: buffer was already freed")
	}
	return buf, nil
}

// Compile builds a program from its host-Go entry points.
// The textual device source is carried along for debugging only.
func (c *execContext) Compile(src *backends.Source) (backends.Program, error) {
	if c.finalized.Load() {
		return nil, errors.New("nativego: context already finalized")
	}
	if len(src.Native) == 0 {
		return nil, errors.Errorf(
			"nativego: program %q has no native kernels -- the go backend cannot compile device text", src.Name)
	}
	prog := &program{name: src.Name, kernels: make(map[string]*kernel, len(src.Native))}
	for name, fn := range src.Native {
		if fn == nil {
			return nil, errors.Errorf("nativego: program %q kernel %q is nil", src.Name, name)
		}
		prog.kernels[name] = &kernel{name: name, fn: fn}
	}
	klog.V(1).Infof("nativego: compiled program %q (%d kernels) for context %s",
		src.Name, len(prog.kernels), c.id)
	return prog, nil
}

func (c *execContext) allocatedHuman() string {
	return humanize.IBytes(uint64(max(c.allocated.Load(), 0)))
}

func (c *execContext) finalize() {
	c.finalized.Store(true)
	c.bufferPools.Range(func(key, _ any) bool {
		c.bufferPools.Delete(key)
		return true
	})
}
