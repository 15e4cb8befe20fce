// Package pmm contains the physical memory frame pools that hand out and
// reclaim frames for the kernel.
package pmm

import (
	"github.com/u0733159/MP2/kernel"
	"github.com/u0733159/MP2/kernel/kfmt"
	"github.com/u0733159/MP2/kernel/mm"
	"github.com/u0733159/MP2/kernel/sync"
)

var (
	// ErrOversizedPool is returned when a pool manages more frames than its
	// single-frame bitmap can track.
	ErrOversizedPool = &kernel.Error{Module: "frame_pool", Message: "need more than one frame for management info"}

	// ErrMisalignedPool is returned when the frame count is zero or not a
	// multiple of 8.
	ErrMisalignedPool = &kernel.Error{Module: "frame_pool", Message: "frame count must be a positive multiple of 8"}

	// ErrInfoFrameOverlap is returned when a caller-supplied info frame lies
	// inside the range the pool manages.
	ErrInfoFrameOverlap = &kernel.Error{Module: "frame_pool", Message: "info frame lies inside the managed range"}

	// ErrPoolExhausted is returned by AllocFrame when no free frames remain.
	ErrPoolExhausted = &kernel.Error{Module: "frame_pool", Message: "no frames available"}

	// ErrDoubleReservation is returned when reserving a frame that is
	// already in use.
	ErrDoubleReservation = &kernel.Error{Module: "frame_pool", Message: "frame being marked inaccessible is already in use"}

	// ErrDoubleFree is returned when releasing a frame that is not in use.
	ErrDoubleFree = &kernel.Error{Module: "frame_pool", Message: "frame being released is not in use"}

	// ErrFrameNotManaged is returned for frames outside the pool's range.
	ErrFrameNotManaged = &kernel.Error{Module: "frame_pool", Message: "frame is not managed by this pool"}

	// ErrInfoFrameRelease is returned when releasing the frame that hosts
	// the bitmap of a self-hosting pool.
	ErrInfoFrameRelease = &kernel.Error{Module: "frame_pool", Message: "frame hosts the pool bitmap"}
)

// FramePool tracks the free/used state of a contiguous range of physical
// frames using a bitmap with one bit per frame. A set bit marks a free frame;
// the most significant bit of each byte corresponds to the lowest-numbered
// frame in that byte's group of 8.
//
// The bitmap lives inside physical memory: either in the first frame of the
// managed range, which the pool then never hands out, or in a frame supplied
// by the caller from outside the range.
type FramePool struct {
	lock sync.Spinlock

	// baseFrame is the first frame in this pool. Bitmap bit i
	// corresponds to frame (baseFrame + i).
	baseFrame mm.Frame

	// frameCount is the number of frames managed by this pool.
	frameCount uint32

	// infoFrame is the frame that hosts the bitmap.
	infoFrame mm.Frame

	// freeCount tracks the number of set bits in the bitmap.
	freeCount uint32

	bitmap []byte
}

// NewFramePool creates a pool that manages frameCount frames starting at
// baseFrame. If infoFrame is 0, the bitmap is stored in baseFrame and that
// frame is marked as used; otherwise the bitmap is stored in infoFrame, which
// must lie outside the managed range and is the caller's to keep reserved.
// The frame hosting the bitmap must be covered by mem.
func NewFramePool(mem *mm.PhysMem, baseFrame mm.Frame, frameCount uint32, infoFrame mm.Frame) (*FramePool, *kernel.Error) {
	if uintptr(frameCount) > mm.PageSizeBits {
		kfmt.Printf("[frame_pool] cannot manage %d frames; limit is %d\n", frameCount, uint64(mm.PageSizeBits))
		return nil, ErrOversizedPool
	}

	if frameCount == 0 || frameCount%8 != 0 {
		return nil, ErrMisalignedPool
	}

	pool := &FramePool{
		baseFrame:  baseFrame,
		frameCount: frameCount,
		infoFrame:  infoFrame,
		freeCount:  frameCount,
	}

	if infoFrame == 0 {
		pool.infoFrame = baseFrame
	} else if pool.Contains(infoFrame) {
		return nil, ErrInfoFrameOverlap
	}

	page, err := mem.FrameBytes(pool.infoFrame)
	if err != nil {
		return nil, err
	}

	pool.bitmap = page[:frameCount/8]
	mm.Memset(pool.bitmap, 0xff)

	if infoFrame == 0 {
		pool.bitmap[0] = 0x7f
		pool.freeCount--
	}

	kfmt.Printf("[frame_pool] initialized frame pool: frames %d-%d, info frame %d, free %d\n",
		uint64(baseFrame), uint64(baseFrame)+uint64(frameCount)-1, uint64(pool.infoFrame), pool.freeCount,
	)

	return pool, nil
}

// AllocFrame reserves and returns the lowest-numbered free frame in the pool.
// It returns ErrPoolExhausted if every frame is in use.
func (p *FramePool) AllocFrame() (mm.Frame, *kernel.Error) {
	p.lock.Acquire()
	defer p.lock.Release()

	if p.freeCount == 0 {
		return mm.InvalidFrame, ErrPoolExhausted
	}

	var index int
	for p.bitmap[index] == 0 {
		index++
	}

	var (
		block  = p.bitmap[index]
		offset uint32
		mask   = byte(0x80)
	)
	for block&mask == 0 {
		mask >>= 1
		offset++
	}

	p.bitmap[index] = block &^ mask
	p.freeCount--

	return p.baseFrame + mm.Frame(uint32(index)*8+offset), nil
}

// MarkInaccessible marks a single free frame as used so that it is never
// handed out by AllocFrame.
func (p *FramePool) MarkInaccessible(frame mm.Frame) *kernel.Error {
	return p.MarkRangeInaccessible(frame, 1)
}

// MarkRangeInaccessible marks count frames starting at startFrame as used.
// The operation is all-or-nothing: if any frame in the range is outside the
// pool or already in use, an error is returned and the pool is not modified.
func (p *FramePool) MarkRangeInaccessible(startFrame mm.Frame, count uint32) *kernel.Error {
	if count == 0 {
		return nil
	}

	lastFrame := startFrame + mm.Frame(count-1)
	if lastFrame < startFrame || !p.Contains(startFrame) || !p.Contains(lastFrame) {
		return ErrFrameNotManaged
	}

	p.lock.Acquire()
	defer p.lock.Release()

	for frame := startFrame; frame <= lastFrame; frame++ {
		if !p.isFree(frame) {
			return ErrDoubleReservation
		}
	}

	for frame := startFrame; frame <= lastFrame; frame++ {
		index, mask := p.bitFor(frame)
		p.bitmap[index] &^= mask
	}
	p.freeCount -= count

	return nil
}

// ReleaseFrame returns a used frame to the pool.
func (p *FramePool) ReleaseFrame(frame mm.Frame) *kernel.Error {
	switch {
	case !p.Contains(frame):
		return ErrFrameNotManaged
	case frame == p.infoFrame:
		return ErrInfoFrameRelease
	}

	p.lock.Acquire()
	defer p.lock.Release()

	if p.isFree(frame) {
		return ErrDoubleFree
	}

	index, mask := p.bitFor(frame)
	p.bitmap[index] |= mask
	p.freeCount++

	return nil
}

// FreeCount returns the number of frames that can still be allocated.
func (p *FramePool) FreeCount() uint32 {
	p.lock.Acquire()
	defer p.lock.Release()

	return p.freeCount
}

// FrameCount returns the number of frames managed by the pool.
func (p *FramePool) FrameCount() uint32 { return p.frameCount }

// BaseFrame returns the first frame managed by the pool.
func (p *FramePool) BaseFrame() mm.Frame { return p.baseFrame }

// InfoFrame returns the frame that hosts the pool bitmap.
func (p *FramePool) InfoFrame() mm.Frame { return p.infoFrame }

// Contains returns true if frame lies inside the range managed by the pool.
func (p *FramePool) Contains(frame mm.Frame) bool {
	return frame >= p.baseFrame && frame-p.baseFrame < mm.Frame(p.frameCount)
}

// IsFree reports whether frame is managed by the pool and currently free.
func (p *FramePool) IsFree(frame mm.Frame) bool {
	if !p.Contains(frame) {
		return false
	}

	p.lock.Acquire()
	defer p.lock.Release()

	return p.isFree(frame)
}

func (p *FramePool) isFree(frame mm.Frame) bool {
	index, mask := p.bitFor(frame)
	return p.bitmap[index]&mask != 0
}

// bitFor returns the bitmap byte index and bit mask for a frame in the pool.
func (p *FramePool) bitFor(frame mm.Frame) (uint32, byte) {
	offset := uint32(frame - p.baseFrame)
	return offset >> 3, 0x80 >> (offset & 7)
}
