package main

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/u0733159/MP2/kernel/mm"
	"github.com/u0733159/MP2/kernel/mm/pmm"
)

// freePhysMemFn is mocked by tests.
var freePhysMemFn = freePhysMem

// machine is a set of frame pools booted on top of simulated physical memory.
type machine struct {
	backing []byte
	mem     *mm.PhysMem
	names   []string
	pools   map[string]*pmm.FramePool
}

// boot allocates the simulated memory and creates the pools and holes
// described by cfg in order.
func boot(cfg *Config) (*machine, error) {
	backing, err := allocPhysMem(int(mm.Size(cfg.MemoryMb) * mm.Mb))
	if err != nil {
		return nil, err
	}

	m := &machine{
		backing: backing,
		mem:     mm.NewPhysMem(0, backing),
		pools:   make(map[string]*pmm.FramePool, len(cfg.Pools)),
	}

	if err := m.setup(cfg); err != nil {
		if shutdownErr := m.shutdown(); shutdownErr != nil {
			return nil, errors.Wrapf(err, "%s; after setup failure", shutdownErr)
		}
		return nil, err
	}

	return m, nil
}

func (m *machine) setup(cfg *Config) error {
	for _, pc := range cfg.Pools {
		infoFrame := mm.Frame(pc.InfoFrame)
		if pc.InfoFrom != "" {
			src, err := m.pool(pc.InfoFrom)
			if err != nil {
				return errors.Wrapf(err, "pool %q", pc.Name)
			}

			frame, kerr := src.AllocFrame()
			if kerr != nil {
				return errors.Wrapf(kerr, "pool %q: allocating info frame from pool %q", pc.Name, pc.InfoFrom)
			}
			infoFrame = frame
		}

		pool, kerr := pmm.NewFramePool(m.mem, mm.Frame(pc.BaseFrame), pc.FrameCount, infoFrame)
		if kerr != nil {
			return errors.Wrapf(kerr, "pool %q", pc.Name)
		}

		m.names = append(m.names, pc.Name)
		m.pools[pc.Name] = pool
	}

	for i, h := range cfg.Holes {
		pool, err := m.pool(h.Pool)
		if err != nil {
			return errors.Wrapf(err, "hole %d", i)
		}

		if kerr := pool.MarkRangeInaccessible(mm.Frame(h.StartFrame), h.Count); kerr != nil {
			return errors.Wrapf(kerr, "pool %q: reserving frames %d-%d", h.Pool, h.StartFrame, h.StartFrame+uint64(h.Count)-1)
		}
	}

	return nil
}

// pool returns the named pool.
func (m *machine) pool(name string) (*pmm.FramePool, error) {
	pool, ok := m.pools[name]
	if !ok {
		return nil, errors.Errorf("unknown pool %q", name)
	}
	return pool, nil
}

// shutdown releases the simulated physical memory. The machine's pools must
// not be used afterwards.
func (m *machine) shutdown() error {
	return freePhysMemFn(m.backing)
}

// drainReport summarizes a drain run.
type drainReport struct {
	Allocated  uint32
	FirstFrame mm.Frame
	LastFrame  mm.Frame
}

// drain allocates every free frame in pool, checks that frames are handed out
// in ascending order and that the pool then reports exhaustion, and finally
// releases everything it allocated.
func drain(pool *pmm.FramePool) (report drainReport, err error) {
	var (
		expCount  = pool.FreeCount()
		allocated = make([]mm.Frame, 0, expCount)
	)

	defer func() {
		for _, frame := range allocated {
			if kerr := pool.ReleaseFrame(frame); kerr != nil && err == nil {
				err = errors.Wrapf(kerr, "releasing frame %d", frame)
			}
		}
	}()

	for {
		frame, kerr := pool.AllocFrame()
		if kerr == pmm.ErrPoolExhausted {
			break
		}
		if kerr != nil {
			return report, errors.Wrap(kerr, "allocating frame")
		}

		if !frame.Valid() || !pool.Contains(frame) {
			return report, errors.Errorf("allocator returned frame %d outside the pool", frame)
		}
		if pool.IsFree(frame) {
			return report, errors.Errorf("frame %d still marked free after allocation", frame)
		}

		if n := len(allocated); n != 0 && frame <= allocated[n-1] {
			return report, errors.Errorf("frame %d handed out after frame %d", frame, allocated[n-1])
		}
		allocated = append(allocated, frame)
	}

	if uint32(len(allocated)) != expCount {
		return report, errors.Errorf("expected %d allocations before exhaustion; got %d", expCount, len(allocated))
	}

	report.Allocated = uint32(len(allocated))
	if len(allocated) != 0 {
		report.FirstFrame = allocated[0]
		report.LastFrame = allocated[len(allocated)-1]
	}
	return report, nil
}

// churn runs workers goroutines that each allocate and release a frame rounds
// times, verifying that no frame is ever held by two workers at once and that
// the free count is restored once all workers are done.
func churn(pool *pmm.FramePool, workers, rounds int) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		held     = make(map[mm.Frame]int)
		firstErr error
		expFree  = pool.FreeCount()
	)

	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	wg.Add(workers)
	for worker := 0; worker < workers; worker++ {
		go func(worker int) {
			defer wg.Done()
			for round := 0; round < rounds; round++ {
				frame, kerr := pool.AllocFrame()
				if kerr == pmm.ErrPoolExhausted {
					continue
				}
				if kerr != nil {
					fail(errors.Wrapf(kerr, "worker %d: allocating frame", worker))
					return
				}

				mu.Lock()
				owner, taken := held[frame]
				held[frame] = worker
				mu.Unlock()
				if taken {
					fail(errors.Errorf("frame %d handed to worker %d while held by worker %d", frame, worker, owner))
					return
				}

				mu.Lock()
				delete(held, frame)
				mu.Unlock()

				if kerr = pool.ReleaseFrame(frame); kerr != nil {
					fail(errors.Wrapf(kerr, "worker %d: releasing frame %d", worker, frame))
					return
				}
			}
		}(worker)
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}

	if got := pool.FreeCount(); got != expFree {
		return errors.Errorf("expected free count %d after churn; got %d", expFree, got)
	}
	return nil
}
