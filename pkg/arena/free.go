package arena

import (
	"github.com/flier/arenafly/pkg/xunsafe"
)

// blocksFor returns the number of blocks a size-byte range spans.
func blocksFor(size int64) int { return int((size + BlockSize - 1) / BlockSize) }

// Free releases a previously allocated range. It never panics and never
// returns an error: the InvalidArena and DoubleFree conditions are
// reported through [Registry.emitWarning] and otherwise ignored,
// matching the "never raises exceptions" propagation rule.
func (r *Registry) Free(ptr xunsafe.Addr[byte], size, committedSize int64, memid MemID) {
	switch memid.Kind {
	case MemOS:
		// The OS free path re-credits the full size as decommitted
		// regardless of how much of it was actually committed; a
		// fine-grained statistics layer would adjust its running total by
		// -committedSize first to avoid double-crediting the gap. No such
		// layer exists here, so there is nothing to adjust — only the OS
		// call itself remains.
		r.os.Free(ptr, size)

	case MemArena:
		r.freeArena(ptr, size, committedSize, memid)

	case MemExternal, MemStatic, MemNone:
		// no-op for the arena subsystem.
	}

	r.TryPurgeAll(false, false) // opportunistic, non-forced, single-arena sweep
}

func (r *Registry) freeArena(ptr xunsafe.Addr[byte], size, committedSize int64, memid MemID) {
	d := r.At(memid.ArenaIndex)
	blocks := blocksFor(size)

	if d == nil || memid.BitIndex < 0 || memid.BitIndex+blocks > d.Blocks {
		r.emitWarning(&InvalidArenaError{ArenaIndex: memid.ArenaIndex, BitIndex: memid.BitIndex, Reason: "out of registered bounds"})
		return
	}

	if !d.Pinned {
		if committedSize < size && d.committed != nil {
			d.committed.UnclaimAcross(memid.BitIndex, blocks)
			if r.cfg.Secure >= 2 {
				r.os.Protect(ptr, size, false)
			}
		}
		r.schedulePurge(d, memid.BitIndex, blocks)
	}

	if allPreviouslySet := d.inuse.UnclaimAcross(memid.BitIndex, blocks); !allPreviouslySet {
		r.emitWarning(&DoubleFreeError{Block: Block{ArenaIndex: memid.ArenaIndex, BitIndex: memid.BitIndex, Count: blocks}})
	}
}
