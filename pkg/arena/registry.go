package arena

import (
	"sync/atomic"

	"github.com/flier/arenafly/internal/debug"
	"github.com/flier/arenafly/internal/xsync"
	"github.com/flier/arenafly/pkg/opt"
	"github.com/flier/arenafly/pkg/osprim"
	"github.com/flier/arenafly/pkg/xunsafe"
)

// purgeEMAAlpha weights the exponential moving average
// [Registry.purgeBytesEMA] tracks: each purged range's byte count moves
// the average a fifth of the way toward it, smoothing the per-sweep
// noise scenario 3's repeated free/realloc churn would otherwise
// produce.
const purgeEMAAlpha = 0.2

// MaxArenas bounds the registry's fixed-capacity, append-only slot
// array. [Registry.reserveNewArena] additionally stops 4 slots short of
// this to leave room for callers that reserve arenas directly via
// [Registry.ReserveOSMemoryEx].
const MaxArenas = 4096

// hugePageFailureSuppression is N in the sticky HugePageUnavailable
// counter: once a huge-page reservation fails, the next N huge-page
// requests fail with ErrHugePageUnavailable without retrying the OS.
const hugePageFailureSuppression = 8

// Registry is the process-wide (or, for tests, per-test) set of arenas
// plus the bookkeeping the allocation, purge and abandoned-segment paths
// share. The zero Registry is not valid; construct one with
// [NewRegistry].
//
// Every operation is a method on an explicit *Registry rather than a
// package-level global, so concurrent tests can each own an isolated
// instance. A single process-wide default is still provided (default.go) as
// a convenience wrapper for callers that don't need an isolated
// Registry.
type Registry struct {
	os  osprim.Primitives
	cfg Config

	slots [MaxArenas]atomic.Pointer[Descriptor]
	count atomic.Uint64

	purgeGuard atomic.Bool

	abandonedCount    atomic.Int64
	nonArenaAbandoned atomic.Int64

	meta metaArena

	totalReserved atomic.Int64

	hugePageFailures atomic.Int32

	// purgeBytesEMA tracks a running average of bytes reclaimed per purge
	// call, for introspection (see [Registry.Snapshot]); accumulated with
	// a bitwise CAS-loop since floats have no native atomic add.
	purgeBytesEMA xsync.AtomicFloat64

	preloading atomic.Bool

	// warn, if set, receives every diagnostic this registry would
	// otherwise only send to debug.Log (InvalidArena, DoubleFree, ...).
	// Intended to be set once before the registry is shared across
	// goroutines (e.g. immediately after [NewRegistry]); tests use it to
	// observe the error taxonomy without parsing log output.
	warn func(error)
}

// OnWarning registers f to be called, in addition to the usual
// debug.Log trace line, whenever the arena subsystem detects one of its
// non-fatal conditions (InvalidArena, DoubleFree, ...). f must be set
// before the registry is used concurrently.
func (r *Registry) OnWarning(f func(error)) { r.warn = f }

func (r *Registry) emitWarning(err error) {
	debug.Log(nil, "arena.warn", "%s", err)
	if r.warn != nil {
		r.warn(err)
	}
}

// NewRegistry constructs an empty Registry over the given OS primitive
// implementation and configuration. The registry starts in "preloading"
// state (arena reservation is disabled during preloading); call
// [Registry.MarkInitDone] once the embedding allocator has finished its
// own bootstrap.
func NewRegistry(os osprim.Primitives, cfg Config) *Registry {
	r := &Registry{os: os, cfg: cfg}
	r.preloading.Store(true)
	return r
}

// MarkInitDone clears the preloading flag, permitting
// [Registry.reserveNewArena] to run and the purge engine to defer
// instead of purging immediately.
func (r *Registry) MarkInitDone() { r.preloading.Store(false) }

// Preloading reports whether this registry still considers itself in
// its bootstrap window.
func (r *Registry) Preloading() bool { return r.preloading.Load() }

// Len reports the number of arenas currently registered.
func (r *Registry) Len() int { return int(r.count.Load()) }

// At returns the descriptor at index i, or nil if i is out of the
// registry's current bounds. Safe to call concurrently with
// registration: slots are only ever written once, so a non-nil load is
// always fully initialized (append-only growth).
func (r *Registry) At(i int) *Descriptor {
	if i < 0 || uint64(i) >= r.count.Load() {
		return nil
	}
	return r.slots[i].Load()
}

// register appends d to the registry, assigning it the next slot via a
// fetch-add with rollback on overflow: if the increment exceeds
// capacity, the slot is rolled back with fetch_sub and creation fails.
func (r *Registry) register(d *Descriptor) bool {
	idx := r.count.Add(1) - 1
	if idx >= MaxArenas {
		r.count.Add(^uint64(0)) // fetch_sub(1)
		return false
	}
	d.Index = int(idx)
	r.slots[idx].Store(d)
	debug.Log(nil, "arena.registry.register", "arena %d registered, %d blocks, numa=%d", d.Index, d.Blocks, d.NUMANode)
	return true
}

// manageOSMemoryEx2 wraps a region of OS-backed memory the caller
// already owns as a new arena and registers it. The first arena ever
// registered carves its bitmap storage out of the registry's static
// meta-arena (see static.go); every later arena uses the ordinary Go
// heap, since Go has no bootstrap-recursion hazard to avoid once the
// process is past its very first allocation.
func (r *Registry) manageOSMemoryEx2(ptr xunsafe.Addr[byte], size int64, committed, large, zero bool, numaNode int, exclusive, pinned bool) (MemID, bool) {
	var meta *metaArena
	if r.count.Load() == 0 {
		meta = &r.meta
	}

	alwaysCommitted := pinned
	d := newDescriptor(ptr, size, MemID{Kind: MemOS}, descriptorOpts{
		NUMANode:           numaNode,
		Exclusive:          exclusive,
		Large:              large,
		Pinned:             pinned,
		AlwaysCommitted:    alwaysCommitted,
		InitiallyZero:      zero,
		InitiallyCommitted: committed,
	}, meta)

	if !r.register(d) {
		return MemID{}, false
	}

	return MemID{Kind: MemArena, ArenaIndex: d.Index, BitIndex: 0, Exclusive: exclusive, Pinned: pinned}, true
}

// reserveNewArena is the best-effort helper behind [Registry.AllocAligned]'s
// new-arena fallback: it is a no-op during preloading or when the caller
// already targeted a specific arena, is capped at MaxArenas-4 existing
// arenas, and scales its target size per the exponential rule once the
// registry holds between 8 and 128 arenas.
func (r *Registry) reserveNewArena(reqSize int64, allowLarge bool, reqArenaID opt.Option[int]) (*Descriptor, bool) {
	if r.preloading.Load() || reqArenaID.IsSome() {
		return nil, false
	}
	count := int(r.count.Load())
	if count >= MaxArenas-4 {
		return nil, false
	}

	target := r.cfg.ArenaReserve
	if !r.os.HasVirtualReserve() {
		target /= 4
	}
	target = roundUp(target, BlockSize)

	if count >= 8 && count <= 128 {
		target <<= uint(count / 8) // 2^(count/8)
	}
	if needed := roundUp(reqSize, BlockSize); target < needed {
		target = needed
	}

	if maxReserve := r.cfg.MaxTotalReserve; maxReserve > 0 {
		remaining := maxReserve - r.totalReserved.Load()
		if remaining < reqSize {
			return nil, false
		}
		if target > remaining {
			target = roundUp(remaining, BlockSize)
			if target > remaining {
				target -= BlockSize
			}
		}
	}

	commit := false
	switch r.cfg.ArenaEagerCommit {
	case CommitAlways:
		commit = true
	case CommitIfOvercommit:
		commit = r.os.HasOvercommit()
	}

	ptr, zero, committed, ok := r.os.AllocAligned(target, BlockSize, commit, allowLarge)
	if !ok {
		return nil, false
	}

	memid, ok := r.manageOSMemoryEx2(ptr, target, committed, allowLarge, zero, -1, false, false)
	if !ok {
		r.os.Free(ptr, target)
		return nil, false
	}

	r.totalReserved.Add(target)
	debug.Log(nil, "arena.registry.reserveNewArena", "reserved %d bytes (%d arenas total)", target, r.count.Load())

	return r.At(memid.ArenaIndex), true
}

// observePurge folds size bytes into the purge-bytes exponential moving
// average.
func (r *Registry) observePurge(size int64) {
	for {
		old := r.purgeBytesEMA.Load()
		next := float64(size)
		if old != 0 {
			next = old + purgeEMAAlpha*(float64(size)-old)
		}
		if r.purgeBytesEMA.BitwiseCompareAndSwap(old, next) {
			return
		}
	}
}

func roundUp(n, align int64) int64 {
	if align <= 0 {
		return n
	}
	return (n + align - 1) / align * align
}
