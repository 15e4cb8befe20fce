package mm

import (
	"unsafe"

	"github.com/u0733159/MP2/kernel"
)

var (
	// ErrFrameNotMapped is returned when a frame lies outside the physical
	// memory window.
	ErrFrameNotMapped = &kernel.Error{Module: "mm", Message: "frame is not covered by the physical memory window"}
)

// PhysMem is a window onto a contiguous, page-aligned range of physical
// memory. Frame pools are handed a PhysMem and use it to reach the frame that
// hosts their bitmap; they never own the underlying memory.
type PhysMem struct {
	startFrame Frame
	data       []byte
}

// NewPhysMem returns a window whose first byte corresponds to the physical
// address startAddr. Both startAddr and len(data) are truncated to page
// boundaries.
func NewPhysMem(startAddr uintptr, data []byte) *PhysMem {
	startFrame := FrameFromAddress(startAddr + PageSize - 1)
	skip := startFrame.Address() - startAddr
	if skip > uintptr(len(data)) {
		skip = uintptr(len(data))
	}
	data = data[skip:]

	return &PhysMem{
		startFrame: startFrame,
		data:       data[:uintptr(len(data))&^(PageSize-1)],
	}
}

// IdentityMapped returns a window onto size bytes of memory starting at
// startAddr, for use when physical addresses are directly accessible (paging
// disabled or an identity mapping in place). Frame 0 is never part of the
// window since a slice cannot start at the nil address.
func IdentityMapped(startAddr uintptr, size Size) *PhysMem {
	if startAddr < PageSize {
		skip := Size(PageSize - startAddr)
		if size <= skip {
			size = 0
		} else {
			size -= skip
		}
		startAddr = PageSize
	}

	if size == 0 {
		return NewPhysMem(startAddr, nil)
	}

	data := unsafe.Slice((*byte)(unsafe.Pointer(startAddr)), int(size))
	return NewPhysMem(startAddr, data)
}

// StartFrame returns the first frame covered by the window.
func (m *PhysMem) StartFrame() Frame {
	return m.startFrame
}

// FrameCount returns the number of frames covered by the window.
func (m *PhysMem) FrameCount() uint32 {
	return uint32(uintptr(len(m.data)) >> PageShift)
}

// Contains returns true if frame lies inside the window.
func (m *PhysMem) Contains(frame Frame) bool {
	return frame >= m.startFrame && frame-m.startFrame < Frame(m.FrameCount())
}

// FrameBytes returns the PageSize bytes backing frame.
func (m *PhysMem) FrameBytes(frame Frame) ([]byte, *kernel.Error) {
	if !m.Contains(frame) {
		return nil, ErrFrameNotMapped
	}

	offset := uintptr(frame-m.startFrame) << PageShift
	return m.data[offset : offset+PageSize : offset+PageSize], nil
}
