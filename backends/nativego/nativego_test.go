package nativego

import (
	"sync/atomic"
	"testing"

	"github.com/gosparse/gosparse/backends"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T, config string) *Backend {
	t.Helper()
	b, err := New(config)
	require.NoError(t, err)
	t.Cleanup(b.Finalize)
	return b.(*Backend)
}

func TestConfigParsing(t *testing.T) {
	b := newTestBackend(t, "cpu,gpu,accelerator")
	require.Equal(t, backends.DeviceNum(3), b.NumDevices())
	require.Equal(t, backends.DeviceTypeCPU, b.Device(0).Type())
	require.Equal(t, backends.DeviceTypeAccelerator, b.Device(1).Type())
	require.Equal(t, backends.DeviceTypeAccelerator, b.Device(2).Type())

	// Empty config defaults to one cpu device.
	b = newTestBackend(t, "")
	require.Equal(t, backends.DeviceNum(1), b.NumDevices())

	_, err := New("cpu,quantum")
	require.Error(t, err)
}

func TestRegisteredWithBackendsRegistry(t *testing.T) {
	b, err := backends.NewWithConfig(BackendName + ":cpu,gpu")
	require.NoError(t, err)
	defer b.Finalize()
	require.IsType(t, &Backend{}, b)
	require.Equal(t, backends.DeviceNum(2), b.NumDevices())
}

func TestBufferWriteRead(t *testing.T) {
	b := newTestBackend(t, "cpu")
	q := b.Device(0).NewQueue()

	buf, err := b.Context().NewBuffer(16, backends.ReadWrite)
	require.NoError(t, err)

	src := []byte{1, 2, 3, 4}
	evWrite, err := q.WriteBuffer(buf, 4, src, nil)
	require.NoError(t, err)

	dst := make([]byte, 4)
	evRead, err := q.ReadBuffer(buf, 4, dst, nil)
	require.NoError(t, err)
	require.NoError(t, evRead.Wait())
	require.True(t, evWrite.Done(), "in-order queue: the write completed before the read")
	require.Equal(t, src, dst)
}

func TestBufferBoundsChecking(t *testing.T) {
	b := newTestBackend(t, "cpu")
	q := b.Device(0).NewQueue()
	buf, err := b.Context().NewBuffer(8, backends.ReadWrite)
	require.NoError(t, err)

	_, err = q.WriteBuffer(buf, 5, make([]byte, 4), nil)
	require.Error(t, err)
	_, err = q.ReadBuffer(buf, -1, make([]byte, 4), nil)
	require.Error(t, err)

	_, err = b.Context().NewBuffer(0, backends.ReadOnly)
	require.Error(t, err)
}

func TestFreedBufferIsRejected(t *testing.T) {
	b := newTestBackend(t, "cpu")
	q := b.Device(0).NewQueue()
	buf, err := b.Context().NewBuffer(8, backends.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, b.Context().FreeBuffer(buf))

	_, err = q.WriteBuffer(buf, 0, make([]byte, 8), nil)
	require.Error(t, err)
	require.Error(t, b.Context().FreeBuffer(buf))
}

func TestCrossQueueEventDependency(t *testing.T) {
	b := newTestBackend(t, "cpu")
	dev := b.Device(0)
	q1, q2 := dev.NewQueue(), dev.NewQueue()

	buf, err := b.Context().NewBuffer(8, backends.ReadWrite)
	require.NoError(t, err)

	evWrite, err := q1.WriteBuffer(buf, 0, []byte{9, 9, 9, 9, 9, 9, 9, 9}, nil)
	require.NoError(t, err)

	// The read on the other queue must observe the full write.
	dst := make([]byte, 8)
	evRead, err := q2.ReadBuffer(buf, 0, dst, []backends.Event{evWrite})
	require.NoError(t, err)
	require.NoError(t, evRead.Wait())
	require.Equal(t, []byte{9, 9, 9, 9, 9, 9, 9, 9}, dst)
}

func testProgram(counter *atomic.Int32) *backends.Source {
	return &backends.Source{
		Name: "test.double<float32>",
		Text: "kernel void double_vals(...) {}",
		Native: map[string]backends.NativeKernel{
			"double_vals": func(args []any, lo, hi int) {
				n := args[0].(int)
				x := backends.AsSlice[float32](args[1].([]byte))
				y := backends.AsSlice[float32](args[2].([]byte))
				if counter != nil {
					counter.Add(1)
				}
				for i := lo; i < min(hi, n); i++ {
					y[i] = 2 * x[i]
				}
			},
		},
	}
}

func TestKernelLaunch(t *testing.T) {
	b := newTestBackend(t, "gpu")
	q := b.Device(0).NewQueue()
	ctx := b.Context()

	prog, err := ctx.Programs().Get(ctx, testProgram(nil))
	require.NoError(t, err)
	kern, err := prog.Kernel("double_vals")
	require.NoError(t, err)
	_, err = prog.Kernel("missing")
	require.Error(t, err)

	const n = 1000
	host := make([]float32, n)
	for i := range host {
		host[i] = float32(i)
	}
	x, err := ctx.NewBuffer(n*4, backends.ReadOnly)
	require.NoError(t, err)
	y, err := ctx.NewBuffer(n*4, backends.ReadWrite)
	require.NoError(t, err)

	_, err = q.WriteBuffer(x, 0, backends.AsBytes(host), nil)
	require.NoError(t, err)
	_, err = q.Launch(kern, n, []any{n, x, y}, nil)
	require.NoError(t, err)

	got := make([]float32, n)
	ev, err := q.ReadBuffer(y, 0, backends.AsBytes(got), nil)
	require.NoError(t, err)
	require.NoError(t, ev.Wait())
	for i := range got {
		require.Equal(t, 2*float32(i), got[i])
	}
}

func TestLaunchValidation(t *testing.T) {
	b := newTestBackend(t, "cpu")
	q := b.Device(0).NewQueue()
	ctx := b.Context()
	prog, err := ctx.Compile(testProgram(nil))
	require.NoError(t, err)
	kern, err := prog.Kernel("double_vals")
	require.NoError(t, err)

	_, err = q.Launch(kern, 0, nil, nil)
	require.Error(t, err, "global size must be positive")

	_, err = q.Launch(nil, 8, nil, nil)
	require.Error(t, err, "foreign kernels are rejected")
}

func TestProgramCacheCompilesOnce(t *testing.T) {
	b := newTestBackend(t, "cpu")
	ctx := b.Context()

	src := testProgram(nil)
	first, err := ctx.Programs().Get(ctx, src)
	require.NoError(t, err)
	second, err := ctx.Programs().Get(ctx, src)
	require.NoError(t, err)
	require.Same(t, first, second, "same program name must compile once per context")

	// A fresh context compiles its own copy.
	other := newTestBackend(t, "cpu")
	otherCtx := other.Context()
	third, err := otherCtx.Programs().Get(otherCtx, src)
	require.NoError(t, err)
	require.NotSame(t, first, third)
	require.NotEqual(t, ctx.ID(), otherCtx.ID())
}

func TestCompileRejectsEmptyPrograms(t *testing.T) {
	b := newTestBackend(t, "cpu")
	_, err := b.Context().Compile(&backends.Source{Name: "empty", Text: "kernel void k() {}"})
	require.Error(t, err)
	_, err = b.Context().Programs().Get(b.Context(), &backends.Source{})
	require.Error(t, err, "unnamed sources are rejected")
}

func TestDependencyFailurePropagates(t *testing.T) {
	b := newTestBackend(t, "cpu")
	q := b.Device(0).NewQueue()
	buf, err := b.Context().NewBuffer(8, backends.ReadWrite)
	require.NoError(t, err)

	// A dependency that completed with an error fails the dependent command.
	failing := newEvent()
	failing.latch.Trigger(errors.New("simulated device failure"))
	ev, err := q.ReadBuffer(buf, 0, make([]byte, 8), []backends.Event{failing})
	require.NoError(t, err)
	require.Error(t, ev.Wait())

	// The queue keeps serving after a failed command.
	require.NoError(t, q.Finish())
}

func TestEnqueueAfterFinalizePanics(t *testing.T) {
	b, err := New("cpu")
	require.NoError(t, err)
	q := b.Device(0).NewQueue()
	b.Finalize()
	require.Panics(t, func() {
		_ = q.Finish()
	})
}
