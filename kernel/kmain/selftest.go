package kmain

import (
	"github.com/u0733159/MP2/kernel"
	"github.com/u0733159/MP2/kernel/mm"
)

var errSelfTestCorrupted = &kernel.Error{Module: "kmain", Message: "memory self-test read back corrupted data"}

// testMemory allocates allocsToGo frames one at a time using allocFn, fills
// each frame with a marker derived from the remaining allocation count and,
// on the way back out of the recursion, verifies the marker and hands the
// frame to releaseFn. Frames that are not reachable through mem are allocated
// and released but not written.
func testMemory(mem *mm.PhysMem, allocFn mm.FrameAllocatorFn, releaseFn func(mm.Frame) *kernel.Error, allocsToGo int) *kernel.Error {
	if allocsToGo == 0 {
		return nil
	}

	frame, err := allocFn()
	if err != nil {
		return err
	}

	marker := byte(allocsToGo)
	page, mapErr := mem.FrameBytes(frame)
	if mapErr == nil {
		mm.Memset(page, marker)
	}

	if err = testMemory(mem, allocFn, releaseFn, allocsToGo-1); err != nil {
		return err
	}

	if mapErr == nil {
		for _, b := range page {
			if b != marker {
				return errSelfTestCorrupted
			}
		}
	}

	return releaseFn(frame)
}
