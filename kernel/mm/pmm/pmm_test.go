package pmm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/u0733159/MP2/kernel"
	"github.com/u0733159/MP2/kernel/kfmt"
	"github.com/u0733159/MP2/kernel/mm"
)

// newBootMem returns a window covering the kernel pool, which is the only
// region Init writes to.
func newBootMem() *mm.PhysMem {
	return mm.NewPhysMem(KernelPoolStartFrame.Address(), make([]byte, 2*mm.Mb))
}

func resetPools() {
	kernelPool, processPool, pools = nil, nil, nil
	mm.SetFrameAllocator(nil)
}

func TestInit(t *testing.T) {
	defer func() {
		resetPools()
		kfmt.SetOutputSink(nil)
	}()

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	if err := Init(newBootMem()); err != nil {
		t.Fatal(err)
	}

	kpool, ppool := KernelPool(), ProcessPool()
	if kpool == nil || ppool == nil {
		t.Fatal("expected Init to set up both pools")
	}

	// The kernel pool hosts its own bitmap and donated one frame to the
	// process pool bitmap.
	if exp, got := KernelPoolFrameCount-2, kpool.FreeCount(); got != exp {
		t.Errorf("expected kernel pool free count to be %d; got %d", exp, got)
	}

	if exp, got := KernelPoolStartFrame+1, ppool.InfoFrame(); got != exp {
		t.Errorf("expected process pool info frame to be %d; got %d", exp, got)
	}

	if exp, got := ProcessPoolFrameCount-MemHoleFrameCount, ppool.FreeCount(); got != exp {
		t.Errorf("expected process pool free count to be %d; got %d", exp, got)
	}

	for frame := MemHoleStartFrame; frame < MemHoleStartFrame+mm.Frame(MemHoleFrameCount); frame++ {
		if ppool.IsFree(frame) {
			t.Fatalf("expected memory hole frame %d to be inaccessible", frame)
		}
	}

	if !ppool.IsFree(MemHoleStartFrame-1) || !ppool.IsFree(MemHoleStartFrame+mm.Frame(MemHoleFrameCount)) {
		t.Error("expected frames around the memory hole to be free")
	}

	// mm.AllocFrame is served by the kernel pool
	frame, err := mm.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}
	if exp := KernelPoolStartFrame + 2; frame != exp {
		t.Errorf("expected mm.AllocFrame to return frame %d; got %d", exp, frame)
	}

	output := buf.String()
	for _, exp := range []string{
		"[frame_pool] initialized frame pool: frames 512-1023, info frame 512, free 511\n",
		"[frame_pool] initialized frame pool: frames 1024-8191, info frame 513, free 7168\n",
		"[frame_pool] physical memory pools:\n",
		"free:   6912/7168",
	} {
		if !strings.Contains(output, exp) {
			t.Errorf("expected output to contain %q; got:\n%s", exp, output)
		}
	}
}

func TestInitErrors(t *testing.T) {
	defer resetPools()

	specs := []struct {
		mem    *mm.PhysMem
		expErr *kernel.Error
	}{
		// window does not cover the kernel pool bitmap
		{mm.NewPhysMem(0, make([]byte, mm.PageSize)), mm.ErrFrameNotMapped},
		// window covers the kernel pool bitmap but not the frame
		// donated to the process pool
		{mm.NewPhysMem(KernelPoolStartFrame.Address(), make([]byte, mm.PageSize)), mm.ErrFrameNotMapped},
	}

	for specIndex, spec := range specs {
		if err := Init(spec.mem); err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}

		if KernelPool() != nil || ProcessPool() != nil {
			t.Errorf("[spec %d] expected no pools to be registered after a failed Init", specIndex)
		}
	}
}

func TestReleaseFrame(t *testing.T) {
	defer resetPools()

	if err := Init(newBootMem()); err != nil {
		t.Fatal(err)
	}

	kframe, err := KernelPool().AllocFrame()
	if err != nil {
		t.Fatal(err)
	}

	pframe, err := ProcessPool().AllocFrame()
	if err != nil {
		t.Fatal(err)
	}

	specs := []struct {
		frame  mm.Frame
		expErr *kernel.Error
	}{
		{kframe, nil},
		{pframe, nil},
		{pframe, ErrDoubleFree},
		{KernelPoolStartFrame, ErrInfoFrameRelease},
		{KernelPoolStartFrame - 1, ErrFrameNotManaged},
		{ProcessPoolStartFrame + mm.Frame(ProcessPoolFrameCount), ErrFrameNotManaged},
	}

	for specIndex, spec := range specs {
		if err := ReleaseFrame(spec.frame); err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
	}
}

func TestMustReleaseAndReserve(t *testing.T) {
	defer func() {
		resetPools()
		panicFn = kfmt.Panic
	}()

	var panicErr interface{}
	panicFn = func(e interface{}) {
		panicErr = e
	}

	if err := Init(newBootMem()); err != nil {
		t.Fatal(err)
	}

	frame := ProcessPoolStartFrame + 10

	MustReserve(frame)
	if panicErr != nil {
		t.Fatalf("unexpected panic: %v", panicErr)
	}

	MustReserve(frame)
	if panicErr != ErrDoubleReservation {
		t.Fatalf("expected panic with ErrDoubleReservation; got %v", panicErr)
	}

	panicErr = nil
	MustRelease(frame)
	if panicErr != nil {
		t.Fatalf("unexpected panic: %v", panicErr)
	}

	MustRelease(frame)
	if panicErr != ErrDoubleFree {
		t.Fatalf("expected panic with ErrDoubleFree; got %v", panicErr)
	}

	panicErr = nil
	MustReserve(mm.Frame(0xbadf00d))
	if panicErr != ErrFrameNotManaged {
		t.Fatalf("expected panic with ErrFrameNotManaged; got %v", panicErr)
	}
}
