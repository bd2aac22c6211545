// Package osprim is the OS primitive interface the arena subsystem is
// built against (spec §6.2): a thin, pluggable seam so the arena core
// never imports an OS package directly.
//
// Two implementations are wired into this repository: osprim/unix,
// backed by golang.org/x/sys/unix for real reserve/commit/decommit/
// purge/NUMA syscalls on Linux, and osprim/simos, a pure-Go in-process
// fake used by every test so the property tests in pkg/arena never need
// root or real huge pages.
package osprim

import "github.com/flier/arenafly/pkg/xunsafe"

// Primitives is the seam the arena core depends on. Every method reports
// success as a boolean rather than an error: the arena subsystem never
// propagates OS-level error detail, only "did this work" (spec §7).
type Primitives interface {
	// Alloc reserves size bytes of page-granular anonymous memory. zero
	// reports whether the OS guarantees the pages are zero-filled.
	Alloc(size int64) (ptr xunsafe.Addr[byte], zero bool, ok bool)

	// AllocAligned reserves size bytes aligned to align, optionally
	// eagerly committing and optionally permitting large/huge pages.
	AllocAligned(size, align int64, commit, allowLarge bool) (ptr xunsafe.Addr[byte], zero, committed bool, ok bool)

	// AllocAlignedAtOffset reserves size bytes such that ptr+offset is
	// aligned to align.
	AllocAlignedAtOffset(size, align, offset int64, commit, allowLarge bool) (ptr xunsafe.Addr[byte], zero, committed bool, ok bool)

	// Free releases memory previously obtained from Alloc/AllocAligned.
	Free(ptr xunsafe.Addr[byte], size int64)

	// Commit makes pages accessible. zero reports whether the committed
	// range is guaranteed to read as zero.
	Commit(ptr xunsafe.Addr[byte], size int64) (zero, ok bool)

	// Decommit returns pages to the OS, making them inaccessible until
	// re-committed. needsRecommit reports whether a future access must
	// call Commit again before touching the range.
	Decommit(ptr xunsafe.Addr[byte], size int64) (needsRecommit, ok bool)

	// Purge reclaims physical pages per whatever policy the implementation
	// is configured with (decommit or reset semantics); needsRecommit
	// mirrors Decommit's.
	Purge(ptr xunsafe.Addr[byte], size int64) (needsRecommit bool)

	// Protect toggles page accessibility without releasing physical pages;
	// used at Config.Secure>=2 to mark freed arena ranges PROT_NONE.
	Protect(ptr xunsafe.Addr[byte], size int64, accessible bool) bool

	// HasOvercommit reports whether the OS will hand out more virtual
	// memory than it can back with RAM+swap.
	HasOvercommit() bool

	// HasVirtualReserve reports whether the OS supports reserving address
	// space without committing it.
	HasVirtualReserve() bool

	// NUMANode reports the calling thread's current NUMA affinity, or -1
	// if unknown/not applicable.
	NUMANode() int

	// NUMANodeCount reports the number of NUMA nodes visible to the
	// process.
	NUMANodeCount() int

	// ClockNowMS returns a monotonic clock reading in milliseconds.
	ClockNowMS() int64

	// AllocHugeOSPages attempts to reserve pages huge (1 GiB) pages pinned
	// to numaNode, waiting at most timeoutMS milliseconds. reserved may be
	// less than requested if the deadline expires first.
	AllocHugeOSPages(size int64, numaNode int, timeoutMS int64) (ptr xunsafe.Addr[byte], reserved int64, ok bool)
}
