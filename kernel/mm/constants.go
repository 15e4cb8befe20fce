package mm

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a frame number (shift right
	// by PageShift) and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)

	// PageSizeBits is the number of bits that fit in a single page. A frame
	// pool keeps its bitmap in one frame, so it can track at most this many
	// frames.
	PageSizeBits = PageSize * 8
)
