// Package nativego implements a portable, in-process compute backend for gosparse.
//
// Devices are virtual: the config string lists device types ("cpu,accelerator")
// and each virtual device gets its own command queues, all sharing one execution
// context and the host's memory. Kernels are executed by their host-Go entry
// points over a bounded worker pool.
//
// It exists so the distributed machinery (partitioning, halo exchange, queue
// ordering) can run and be tested anywhere, and as the reference for backends
// that drive real accelerators.
package nativego

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/gosparse/gosparse/backends"
	"github.com/pkg/errors"
)

// BackendName to be used in GOSPARSE_BACKEND to select this backend.
const BackendName = "go"

func init() {
	backends.Register(BackendName, New)
}

// New constructs a new native Go backend.
//
// The config string is a comma-separated list of virtual device types, each
// "cpu" or "accelerator" (alias "gpu"). An empty config means a single cpu
// device.
func New(config string) (backends.Backend, error) {
	if config == "" {
		config = "cpu"
	}
	b := &Backend{
		ctx: newContext(),
	}
	for i, tok := range strings.Split(config, ",") {
		var devType backends.DeviceType
		switch strings.TrimSpace(tok) {
		case "cpu":
			devType = backends.DeviceTypeCPU
		case "accelerator", "gpu":
			devType = backends.DeviceTypeAccelerator
		default:
			return nil, errors.Errorf("nativego: unknown device type %q in config %q", tok, config)
		}
		b.devices = append(b.devices, &device{
			backend: b,
			num:     backends.DeviceNum(i),
			devType: devType,
			units:   runtime.GOMAXPROCS(0),
		})
	}
	return b, nil
}

// Backend implements the backends.Backend interface.
type Backend struct {
	devices []*device
	ctx     *execContext
}

// Compile-time check that nativego.Backend implements backends.Backend.
var _ backends.Backend = (*Backend)(nil)

// Name returns the short name of the backend.
func (b *Backend) Name() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return fmt.Sprintf("Native Go Backend: %d virtual device(s), %s allocated",
		len(b.devices), b.ctx.allocatedHuman())
}

// NumDevices returns the number of virtual devices configured.
func (b *Backend) NumDevices() backends.DeviceNum {
	return backends.DeviceNum(len(b.devices))
}

// Device returns the device with the given number.
func (b *Backend) Device(num backends.DeviceNum) backends.Device {
	return b.devices[num]
}

// Context returns the execution context shared by all of the backend's devices.
func (b *Backend) Context() backends.Context { return b.ctx }

// Finalize releases the backend's resources and stops all queue workers.
func (b *Backend) Finalize() {
	for _, dev := range b.devices {
		dev.finalizeQueues()
	}
	b.ctx.finalize()
}
