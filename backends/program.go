package backends

import (
	"sync"

	"github.com/pkg/errors"
)

// NativeKernel is a host-Go entry point of a device program, used by in-process
// backends. It is invoked over sub-ranges [lo, hi) of the launch's global size,
// possibly concurrently for disjoint sub-ranges.
//
// Buffer arguments appear in args as raw byte slices; scalar arguments are passed
// through unchanged. See Queue.Launch.
type NativeKernel func(args []any, lo, hi int)

// Source describes a device program to be compiled by a Context.
//
// Text is the textual device program (OpenCL-style) for backends that compile
// device code. Native maps each kernel entry-point name to a host-Go
// implementation with identical semantics, for in-process backends. A backend
// uses whichever representation it can execute.
type Source struct {
	// Name identifies the program. It doubles as the cache key within one context,
	// so it must encode anything the Text depends on (e.g. element type names).
	Name string

	// Text is the device program source.
	Text string

	// Native maps kernel names to host-Go implementations.
	Native map[string]NativeKernel
}

// Cache is a per-context cache of compiled programs with lazy build-once-per-key
// semantics. Every Context owns one, returned by Context.Programs.
//
// The zero value is ready to use.
type Cache struct {
	programs sync.Map // program name -> *cacheEntry
}

type cacheEntry struct {
	once sync.Once
	prog Program
	err  error
}

// Get returns the compiled program for src, compiling it through ctx at most once
// per program name for the lifetime of the cache.
//
// Concurrent callers with the same program name share a single compilation.
func (c *Cache) Get(ctx Context, src *Source) (Program, error) {
	if src.Name == "" {
		return nil, errors.New("program source has no name")
	}
	entryAny, _ := c.programs.LoadOrStore(src.Name, &cacheEntry{})
	entry := entryAny.(*cacheEntry)
	entry.once.Do(func() {
		entry.prog, entry.err = ctx.Compile(src)
	})
	if entry.err != nil {
		return nil, errors.WithMessagef(entry.err, "compiling program %q", src.Name)
	}
	return entry.prog, nil
}
