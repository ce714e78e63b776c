// Package backends defines the interface a compute backend needs to implement to be
// used by the gosparse distributed sparse-matrix engine.
//
// A backend exposes a set of compute devices, each with asynchronous command queues.
// Buffers live on a shared execution context, data movement and kernel launches are
// enqueued with explicit event dependencies, and device programs are compiled once
// per context and cached.
//
// Registry errors (no backend registered, unknown backend name) panic with a stack
// trace. See package github.com/gomlx/exceptions.
package backends

import (
	"os"
	"strings"

	"github.com/gomlx/exceptions"
)

// DeviceNum identifies one device within a Backend.
// It is between 0 and Backend.NumDevices.
type DeviceNum int

// DeviceType is a coarse classification of a device's execution model, used to pick
// a sparse storage layout per device.
type DeviceType int

const (
	// DeviceTypeCPU marks devices optimized for scalar/branching execution.
	DeviceTypeCPU DeviceType = iota

	// DeviceTypeAccelerator marks devices that favor wide uniform parallel work
	// (GPU-style SIMD lanes).
	DeviceTypeAccelerator
)

// String implements fmt.Stringer.
func (t DeviceType) String() string {
	switch t {
	case DeviceTypeCPU:
		return "cpu"
	case DeviceTypeAccelerator:
		return "accelerator"
	}
	return "unknown"
}

// Backend is the API a gosparse compute backend implements.
type Backend interface {
	// Name returns the short name of the backend, e.g. "go" for the native Go backend.
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// NumDevices returns the number of devices available for this Backend.
	NumDevices() DeviceNum

	// Device returns the device with the given number.
	Device(num DeviceNum) Device

	// Context returns the execution context shared by all devices of this backend
	// instance. Buffers and compiled programs belong to the context.
	Context() Context

	// Finalize releases all associated resources immediately and makes the backend invalid.
	Finalize()
}

// Device is one compute device of a Backend.
type Device interface {
	// Num returns the device's number within its backend.
	Num() DeviceNum

	// Name returns a human-readable device name.
	Name() string

	// Type classifies the device's execution model.
	Type() DeviceType

	// ComputeUnits returns the number of parallel compute units, used to size
	// grid-stride kernel launches.
	ComputeUnits() int

	// NewQueue creates a new in-order command queue on this device. A device may
	// have several queues; operations on distinct queues may execute concurrently.
	NewQueue() Queue
}

// Buffer represents data resident on the execution context, accessible to its devices.
//
// It is opaque outside the backend that created it.
type Buffer any

// Access restricts how device code may use a buffer.
type Access int

const (
	// ReadOnly buffers are written once from the host and only read by kernels.
	ReadOnly Access = iota

	// ReadWrite buffers may be both read and written by kernels and the host.
	ReadWrite
)

// Context is the execution context shared by the devices of one backend instance.
type Context interface {
	// ID returns a unique identity for this context, usable as a cache key that
	// outlives any single matrix instance.
	ID() string

	// NewBuffer allocates a device-visible buffer of byteSize bytes.
	NewBuffer(byteSize int, access Access) (Buffer, error)

	// FreeBuffer informs the backend that buffer is no longer needed and its
	// resources can be reclaimed immediately. A freed buffer must not be used again.
	FreeBuffer(buffer Buffer) error

	// Compile builds the device program described by src. Most callers should go
	// through Programs instead, which compiles each program only once per context.
	Compile(src *Source) (Program, error)

	// Programs returns the per-context cache of compiled programs.
	Programs() *Cache
}

// Event is an opaque completion handle for an enqueued operation.
// Events are used only for ordering; they carry no data.
type Event interface {
	// Wait blocks until the operation completed, returning its error, if any.
	Wait() error

	// Done reports whether the operation already completed.
	Done() bool
}

// Queue is an in-order asynchronous command queue bound to one device.
//
// All enqueue operations return immediately with an Event for the operation's
// completion. Operations on one queue execute in enqueue order; waitFor adds
// dependencies on events from other queues. Passing a nil waitFor means no
// extra dependency.
type Queue interface {
	// Device returns the device this queue executes on.
	Device() Device

	// Context returns the execution context of the queue's device.
	Context() Context

	// WriteBuffer enqueues an asynchronous host-to-device copy of src into dst
	// starting at byte offset.
	WriteBuffer(dst Buffer, offset int, src []byte, waitFor []Event) (Event, error)

	// ReadBuffer enqueues an asynchronous device-to-host copy from src starting at
	// byte offset into dst.
	ReadBuffer(src Buffer, offset int, dst []byte, waitFor []Event) (Event, error)

	// Launch enqueues execution of kernel over globalSize work items.
	// Buffer arguments are passed as Buffer values; scalars are passed as-is.
	Launch(kernel Kernel, globalSize int, args []any, waitFor []Event) (Event, error)

	// Finish blocks until every operation enqueued so far has completed.
	Finish() error
}

// Program is a compiled device program from which kernels are retrieved by name.
type Program interface {
	// Kernel returns the callable kernel with the given name.
	Kernel(name string) (Kernel, error)
}

// Kernel is a callable entry point of a compiled Program. It is executed
// through Queue.Launch.
type Kernel interface {
	// Name returns the kernel's entry-point name.
	Name() string

	// WorkgroupSize returns the preferred workgroup size for dev, used to align
	// launch sizes.
	WorkgroupSize(dev Device) int
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register a backend with the given name and a constructor that takes a
// backend-specific configuration string.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// DefaultConfig is the backend configuration to use if none is specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// GOSPARSE_BACKEND is the environment variable with the default backend
// configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
const GOSPARSE_BACKEND = "GOSPARSE_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment GOSPARSE_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
//
// It panics if no backend was registered.
func New() (Backend, error) {
	config, found := os.LookupEnv(GOSPARSE_BACKEND)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig creates a Backend from a configuration string formatted as
// "<backend_name>:<backend_configuration>".
//
// The "<backend_name>" is the name of a registered backend (e.g. "go") and
// "<backend_configuration>" is backend specific.
func NewWithConfig(config string) (Backend, error) {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf(`no registered backends for gosparse -- maybe import the native one with import _ "github.com/gosparse/gosparse/backends/nativego"?`)
	}
	backendName := firstRegistered
	backendConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		exceptions.Panicf("can't find backend %q for configuration %q given", backendName, config)
	}
	return constructor(backendConfig)
}
