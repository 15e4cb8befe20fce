package pmm

import (
	"github.com/u0733159/MP2/kernel"
	"github.com/u0733159/MP2/kernel/kfmt"
	"github.com/u0733159/MP2/kernel/mm"
)

// Physical memory layout used at boot. The kernel pool covers 2MB-4MB and
// hosts its own bitmap; the process pool covers 4MB-32MB and keeps its bitmap
// in a frame taken from the kernel pool. The 15MB-16MB range is a memory hole
// that must never be handed out.
const (
	KernelPoolStartFrame = mm.Frame((2 * mm.Mb) >> mm.PageShift)
	KernelPoolFrameCount = uint32((2 * mm.Mb) >> mm.PageShift)

	ProcessPoolStartFrame = mm.Frame((4 * mm.Mb) >> mm.PageShift)
	ProcessPoolFrameCount = uint32((28 * mm.Mb) >> mm.PageShift)

	MemHoleStartFrame = mm.Frame((15 * mm.Mb) >> mm.PageShift)
	MemHoleFrameCount = uint32((1 * mm.Mb) >> mm.PageShift)
)

var (
	kernelPool  *FramePool
	processPool *FramePool

	// pools lists every pool set up by Init in the order they were created.
	pools []*FramePool

	// panicFn is mocked by tests.
	panicFn = kfmt.Panic
)

// Init sets up the kernel and process frame pools on top of mem, carves the
// memory hole out of the process pool and registers the kernel pool as the
// frame source for mm.AllocFrame. mem must cover the kernel pool.
func Init(mem *mm.PhysMem) *kernel.Error {
	kpool, err := NewFramePool(mem, KernelPoolStartFrame, KernelPoolFrameCount, 0)
	if err != nil {
		return err
	}

	infoFrame, err := kpool.AllocFrame()
	if err != nil {
		return err
	}

	ppool, err := NewFramePool(mem, ProcessPoolStartFrame, ProcessPoolFrameCount, infoFrame)
	if err != nil {
		return err
	}

	if err = ppool.MarkRangeInaccessible(MemHoleStartFrame, MemHoleFrameCount); err != nil {
		return err
	}

	kernelPool, processPool = kpool, ppool
	pools = []*FramePool{kpool, ppool}
	mm.SetFrameAllocator(kernelAllocFrame)

	printPoolSummary()
	return nil
}

// KernelPool returns the pool that serves kernel allocations.
func KernelPool() *FramePool { return kernelPool }

// ProcessPool returns the pool that serves process allocations.
func ProcessPool() *FramePool { return processPool }

func kernelAllocFrame() (mm.Frame, *kernel.Error) {
	return kernelPool.AllocFrame()
}

// poolForFrame returns the pool that manages frame or nil if no pool does.
func poolForFrame(frame mm.Frame) *FramePool {
	for _, pool := range pools {
		if pool.Contains(frame) {
			return pool
		}
	}

	return nil
}

// ReleaseFrame returns frame to whichever pool manages it.
func ReleaseFrame(frame mm.Frame) *kernel.Error {
	pool := poolForFrame(frame)
	if pool == nil {
		return ErrFrameNotManaged
	}

	return pool.ReleaseFrame(frame)
}

// MustRelease releases frame and halts the system if the release fails. A
// failed release means frame accounting is corrupt.
func MustRelease(frame mm.Frame) {
	if err := ReleaseFrame(frame); err != nil {
		kfmt.Printf("[frame_pool] failed to release frame %d\n", uint64(frame))
		panicFn(err)
	}
}

// MustReserve marks frame as inaccessible in the pool that manages it and
// halts the system if the frame is unmanaged or already in use.
func MustReserve(frame mm.Frame) {
	err := ErrFrameNotManaged
	if pool := poolForFrame(frame); pool != nil {
		err = pool.MarkInaccessible(frame)
	}

	if err != nil {
		kfmt.Printf("[frame_pool] failed to reserve frame %d\n", uint64(frame))
		panicFn(err)
	}
}

func printPoolSummary() {
	kfmt.Printf("[frame_pool] physical memory pools:\n")
	for _, pool := range pools {
		kfmt.Printf("\t[frames %6d - %6d], info frame: %6d, free: %6d/%d\n",
			uint64(pool.BaseFrame()),
			uint64(pool.BaseFrame())+uint64(pool.FrameCount())-1,
			uint64(pool.InfoFrame()),
			pool.FreeCount(),
			pool.FrameCount(),
		)
	}
}
