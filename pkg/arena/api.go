package arena

import (
	"github.com/flier/arenafly/pkg/opt"
	"github.com/flier/arenafly/pkg/res"
	"github.com/flier/arenafly/pkg/xunsafe"
)

// hugePageSize is the size of one huge OS page this package reserves:
// 1 GiB, pinned to a single NUMA node.
const hugePageSize = 1 << 30

// Area describes an arena's backing region, returned by [Registry.Area]
// as an introspection call over a registered arena.
type Area struct {
	Base xunsafe.Addr[byte]
	Size int64
}

// ReserveOSMemory reserves size bytes of OS memory and registers it as a
// new, non-exclusive arena.
func (r *Registry) ReserveOSMemory(size int64, commit, allowLarge bool) res.Result[struct{}] {
	if _, err := r.reserveOSMemory(size, commit, allowLarge, false, false); err != nil {
		return res.Err[struct{}](err)
	}
	return res.Ok(struct{}{})
}

// ReserveOSMemoryEx is [Registry.ReserveOSMemory] with control over
// exclusivity, returning the new arena's id.
func (r *Registry) ReserveOSMemoryEx(size int64, commit, allowLarge, exclusive bool) res.Result[int] {
	id, err := r.reserveOSMemory(size, commit, allowLarge, exclusive, false)
	if err != nil {
		return res.Err[int](err)
	}
	return res.Ok(id)
}

func (r *Registry) reserveOSMemory(size int64, commit, allowLarge, exclusive, pinned bool) (int, error) {
	ptr, zero, committed, ok := r.os.AllocAligned(size, BlockSize, commit, allowLarge)
	if !ok {
		return 0, ErrOutOfMemory
	}

	memid, ok := r.manageOSMemoryEx2(ptr, size, committed, allowLarge, zero, -1, exclusive, pinned)
	if !ok {
		r.os.Free(ptr, size)
		return 0, ErrOutOfMemory
	}

	r.totalReserved.Add(size)
	return memid.ArenaIndex, nil
}

// ManageOSMemory wraps externally owned memory the caller already
// allocated as a new, non-exclusive arena. It reports whether
// registration succeeded.
func (r *Registry) ManageOSMemory(ptr xunsafe.Addr[byte], size int64, committed, large, zero bool, numaNode int) bool {
	_, ok := r.manageOSMemoryEx2(ptr, size, committed, large, zero, numaNode, false, false)
	return ok
}

// ManageOSMemoryEx is [Registry.ManageOSMemory] with control over
// exclusivity, returning the new arena's id.
func (r *Registry) ManageOSMemoryEx(ptr xunsafe.Addr[byte], size int64, committed, large, zero bool, numaNode int, exclusive bool) res.Result[int] {
	memid, ok := r.manageOSMemoryEx2(ptr, size, committed, large, zero, numaNode, exclusive, false)
	if !ok {
		return res.Err[int](ErrOutOfMemory)
	}
	return res.Ok(memid.ArenaIndex)
}

// ReserveHugeOSPagesAt reserves pages 1 GiB huge pages pinned to
// numaNode, waiting at most timeoutMS milliseconds. The returned value
// is the number of bytes actually reserved, which may be less than
// pages*1GiB if the deadline expired early — callers compare against
// the requested size rather than relying on a distinct error for that
// case, matching upstream.
//
// A sticky counter suppresses retrying the underlying huge-page syscall
// for the next 8 requests after an observed failure, since repeatedly
// probing for an unavailable resource under memory pressure only adds
// latency.
func (r *Registry) ReserveHugeOSPagesAt(pages int, numaNode int, timeoutMS int64) res.Result[int64] {
	if r.hugePageFailures.Load() > 0 {
		r.hugePageFailures.Add(-1)
		return res.Err[int64](ErrHugePageUnavailable)
	}

	size := int64(pages) * hugePageSize
	ptr, reserved, ok := r.os.AllocHugeOSPages(size, numaNode, timeoutMS)
	if !ok {
		r.hugePageFailures.Store(hugePageFailureSuppression)
		return res.Err[int64](ErrHugePageUnavailable)
	}

	if _, ok := r.manageOSMemoryEx2(ptr, reserved, true, true, true, numaNode, false, true); !ok {
		r.os.Free(ptr, reserved)
		return res.Err[int64](ErrOutOfMemory)
	}
	r.totalReserved.Add(reserved)

	return res.Ok(reserved)
}

// ReserveHugeOSPagesInterleave splits pages huge pages evenly across
// numaNodes, reserving one arena per node. It returns the
// total bytes reserved across all nodes it succeeded on; a partial
// failure still returns the partial total as Ok, since huge pages are
// inherently best-effort.
func (r *Registry) ReserveHugeOSPagesInterleave(pages int, numaNodes []int, timeoutMS int64) res.Result[int64] {
	if len(numaNodes) == 0 {
		return res.Err[int64](ErrOutOfMemory)
	}

	perNode := pages / len(numaNodes)
	remainder := pages % len(numaNodes)

	var total int64
	for i, node := range numaNodes {
		n := perNode
		if i < remainder {
			n++
		}
		if n == 0 {
			continue
		}
		result := r.ReserveHugeOSPagesAt(n, node, timeoutMS)
		if result.IsOk() {
			total += result.Unwrap()
		}
	}

	if total == 0 {
		return res.Err[int64](ErrHugePageUnavailable)
	}
	return res.Ok(total)
}

// Area returns the backing region of arena id, if registered.
func (r *Registry) Area(id int) opt.Option[Area] {
	d := r.At(id)
	if d == nil {
		return opt.None[Area]()
	}
	return opt.Some(Area{Base: d.Start, Size: int64(d.Blocks) * BlockSize})
}

// UnsafeDestroyAll tears the registry down: every arena's memory is
// returned to the OS and every slot is cleared. This is the library
// -unload escape hatch — it is unsafe to call while any other goroutine
// might still be allocating from or freeing to this registry.
func (r *Registry) UnsafeDestroyAll() {
	n := r.Len()
	for i := 0; i < n; i++ {
		d := r.slots[i].Swap(nil)
		if d == nil {
			continue
		}
		r.os.Free(d.Start, int64(d.Blocks)*BlockSize)
	}
	r.count.Store(0)
	r.abandonedCount.Store(0)
	r.nonArenaAbandoned.Store(0)
	r.totalReserved.Store(0)
}
