// Package kmain contains the kernel entrypoint that brings up physical
// memory management.
package kmain

import (
	"github.com/u0733159/MP2/kernel"
	"github.com/u0733159/MP2/kernel/kfmt"
	"github.com/u0733159/MP2/kernel/mm"
	"github.com/u0733159/MP2/kernel/mm/pmm"
)

// selfTestAllocs is the number of frames each pool hands out during the boot
// memory self-test.
const selfTestAllocs = 32

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	// The following functions are mocked by tests.
	physMemFn = mm.IdentityMapped
	panicFn   = kfmt.Panic
)

// Kmain is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after setting up the GDT
// and a minimal g0 struct that allows Go code to run on the stack allocated by the
// assembly code.
//
// The rt0 code identity maps physical memory up to physMemEnd before calling
// Kmain. Only the memory from the start of the kernel pool onwards is handed
// to the frame pools.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(physMemEnd uintptr) {
	kfmt.Printf("[kmain] starting, %dKb of identity mapped memory\n", uint64(physMemEnd>>10))

	var (
		startAddr = pmm.KernelPoolStartFrame.Address()
		size      mm.Size
	)
	if physMemEnd > startAddr {
		size = mm.Size(physMemEnd - startAddr)
	}

	mem := physMemFn(startAddr, size)
	if err := pmm.Init(mem); err != nil {
		panicFn(err)
		return
	}

	// The kernel pool is reached through the frame allocator registered by
	// pmm.Init, the same path used by page table code.
	processPool := pmm.ProcessPool()
	for _, st := range []struct {
		allocFn   mm.FrameAllocatorFn
		releaseFn func(mm.Frame) *kernel.Error
	}{
		{mm.AllocFrame, pmm.ReleaseFrame},
		{processPool.AllocFrame, processPool.ReleaseFrame},
	} {
		if err := testMemory(mem, st.allocFn, st.releaseFn, selfTestAllocs); err != nil {
			panicFn(err)
			return
		}
	}
	kfmt.Printf("[kmain] memory self-test passed\n")

	// Use panicFn instead of returning so the compiler does not treat
	// kfmt.Panic as dead-code and eliminate it.
	panicFn(errKmainReturned)
}
