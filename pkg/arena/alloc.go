package arena

import (
	"github.com/flier/arenafly/internal/debug"
	"github.com/flier/arenafly/pkg/opt"
)

// AllocAligned runs the six-step allocation algorithm: arena selection
// by NUMA/exclusivity/size, falling back to reserving a new arena,
// finally falling back to a direct OS allocation. It returns opt.None
// if every path fails.
//
// reqArenaID, when opt.Some, restricts the search to exactly that arena
// ("if a specific arena was requested, try only that arena"); negative
// numaNode means "no NUMA preference".
func (r *Registry) AllocAligned(size, align int64, commit, allowLarge bool, reqArenaID opt.Option[int], numaNode int) opt.Option[Alloc] {
	if size <= 0 {
		return opt.None[Alloc]()
	}

	// Step 1: arena path globally disabled, unless a specific arena was
	// requested. Step 2: too small to be worth an arena.
	arenaPathEnabled := !r.cfg.DisallowArenaAlloc || reqArenaID.IsSome()
	bigEnough := size >= BlockSize/2

	if arenaPathEnabled && bigEnough {
		needed := int((size + BlockSize - 1) / BlockSize) // step 3

		if a, ok := r.tryAllocFromRegistry(needed, commit, allowLarge, reqArenaID, numaNode); ok {
			return opt.Some(a)
		}

		// Step 5: no existing arena could serve the request; try reserving
		// a new one and retry restricted to it.
		if d, ok := r.reserveNewArena(size, allowLarge, reqArenaID); ok {
			if a, ok := r.tryAllocFromRegistry(needed, commit, allowLarge, opt.Some(d.Index), numaNode); ok {
				return opt.Some(a)
			}
		}
	}

	// Step 6: direct OS fallback.
	if r.cfg.DisallowOSAlloc {
		debug.Log(nil, "arena.AllocAligned", "no arena available and OS fallback disallowed for %d bytes", size)
		return opt.None[Alloc]()
	}
	return r.allocFromOS(size, align, commit, allowLarge)
}

// tryAllocFromRegistry walks the registry in two NUMA passes: same-node
// (or NUMA-agnostic) arenas first, then, only when a specific NUMA node
// was requested, cross-node arenas as a fallback. Exclusive arenas are
// skipped unless named by reqArenaID; large arenas are skipped when
// allowLarge is false.
func (r *Registry) tryAllocFromRegistry(needed int, commit, allowLarge bool, reqArenaID opt.Option[int], numaNode int) (Alloc, bool) {
	filterByNUMA := reqArenaID.IsNone() && numaNode >= 0

	pass := func(wantSameNode bool) (Alloc, bool) {
		n := r.Len()
		for i := 0; i < n; i++ {
			d := r.At(i)
			if d == nil || !d.suitableFor(reqArenaID, allowLarge) {
				continue
			}
			if filterByNUMA {
				sameNode := d.NUMANode == numaNode || d.NUMANode < 0
				if sameNode != wantSameNode {
					continue
				}
			}
			if _, ptr, memid, ok := d.tryClaim(needed, commit, r.os); ok {
				return Alloc{Ptr: ptr, MemID: memid}, true
			}
		}
		return Alloc{}, false
	}

	if a, ok := pass(true); ok {
		return a, true
	}
	if filterByNUMA {
		if a, ok := pass(false); ok {
			return a, true
		}
	}
	return Alloc{}, false
}

func (r *Registry) allocFromOS(size, align int64, commit, allowLarge bool) opt.Option[Alloc] {
	ptr, zero, committed, ok := r.os.AllocAligned(size, align, commit, allowLarge)
	if !ok {
		debug.Log(nil, "arena.allocFromOS", "OS allocation of %d bytes failed", size)
		return opt.None[Alloc]()
	}

	debug.Log(nil, "arena.allocFromOS", "OS allocation of %d bytes at %v", size, ptr)

	return opt.Some(Alloc{
		Ptr: ptr,
		MemID: MemID{
			Kind:               MemOS,
			InitiallyZero:      zero,
			InitiallyCommitted: committed,
		},
	})
}
