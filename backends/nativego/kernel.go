package nativego

import (
	"context"
	"sync"

	"github.com/gosparse/gosparse/backends"
	"github.com/pkg/errors"
)

// program is a compiled set of host-Go kernels.
type program struct {
	name    string
	kernels map[string]*kernel
}

var _ backends.Program = (*program)(nil)

// Kernel returns the callable kernel with the given name.
func (p *program) Kernel(name string) (backends.Kernel, error) {
	k, ok := p.kernels[name]
	if !ok {
		return nil, errors.Errorf("nativego: program %q has no kernel %q", p.name, name)
	}
	return k, nil
}

// kernel wraps one native entry point.
type kernel struct {
	name string
	fn   backends.NativeKernel
}

var _ backends.Kernel = (*kernel)(nil)

func (k *kernel) Name() string { return k.name }

// WorkgroupSize returns the chunk alignment for launches on dev. Accelerator
// devices get wider groups to amortize dispatch.
func (k *kernel) WorkgroupSize(dev backends.Device) int {
	if dev.Type() == backends.DeviceTypeAccelerator {
		return 64
	}
	return 16
}

// run executes the kernel over [0, globalSize), splitting the range into
// workgroup-aligned chunks spread over the context's bounded worker pool.
func (k *kernel) run(dev *device, args []any, globalSize int) error {
	wgSize := k.WorkgroupSize(dev)
	chunk := (globalSize + dev.units*4 - 1) / (dev.units * 4)
	chunk = (chunk + wgSize - 1) / wgSize * wgSize
	if chunk >= globalSize {
		k.fn(args, 0, globalSize)
		return nil
	}
	workers := dev.backend.ctx.workers
	var wg sync.WaitGroup
	for lo := 0; lo < globalSize; lo += chunk {
		hi := min(lo+chunk, globalSize)
		if err := workers.Acquire(context.Background(), 1); err != nil {
			return errors.WithMessage(err, "acquiring kernel worker")
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			defer workers.Release(1)
			k.fn(args, lo, hi)
		}(lo, hi)
	}
	wg.Wait()
	return nil
}
