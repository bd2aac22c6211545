package arena

import (
	"math/bits"

	"github.com/flier/arenafly/internal/debug"
	"github.com/flier/arenafly/internal/xsync"
	"github.com/flier/arenafly/pkg/arena/bitmap"
)

// drainScratch pools the scratch slices [Registry.DrainAbandoned] scans
// into, since a reclaiming thread typically calls it in a loop and would
// otherwise allocate a fresh slice on every pass.
var drainScratch = xsync.Pool[[]Block]{
	New:   func() *[]Block { s := make([]Block, 0, 16); return &s },
	Reset: func(s *[]Block) { *s = (*s)[:0] },
}

// Cursor is the scan position [Registry.ClearAbandonedNext] resumes
// from: the arena to start at and the bit offset within it, with the
// start arena randomized per heap via [NewCursor] to spread scan load
// across concurrently reclaiming threads instead of every thread
// starting from arena 0.
type Cursor struct {
	startArena int
	bitOffset  int
}

// NewCursor builds a randomized starting cursor from an explicit seed.
// The seed is supplied by the caller rather than read from a package
// global RNG, so concurrent reclaiming threads scanning with
// independently-seeded cursors stay isolated in tests.
func NewCursor(seed uint64) Cursor { return Cursor{startArena: int(seed)} }

// MarkAbandoned records block as abandoned: its owning thread exited
// while it still held live allocations. It does not reclaim the block —
// [ClearAbandoned]/[ClearAbandonedNext] do that.
func (r *Registry) MarkAbandoned(block Block) {
	d := r.At(block.ArenaIndex)
	if d == nil {
		return
	}
	d.abandoned.ClaimAcross(block.BitIndex, block.Count)
	r.abandonedCount.Add(1)
	debug.Log(nil, "arena.MarkAbandoned", "%s", block)
}

// ClearAbandoned is the inverse of MarkAbandoned: a one-phase reclaim
// that unmarks block and reports whether it had actually been
// abandoned. A caller that gets true back is expected to immediately
// take ownership (record its own thread id) since the block no longer
// appears abandoned to anyone else.
func (r *Registry) ClearAbandoned(block Block) bool {
	d := r.At(block.ArenaIndex)
	if d == nil {
		return false
	}
	if allPreviouslySet := d.abandoned.UnclaimAcross(block.BitIndex, block.Count); allPreviouslySet {
		r.abandonedCount.Add(-1)
		return true
	}
	return false
}

// MarkAbandonedExternal records a non-arena segment (one whose MemID is
// not MemArena) as abandoned, for the I4 global count.
func (r *Registry) MarkAbandonedExternal() {
	r.nonArenaAbandoned.Add(1)
	r.abandonedCount.Add(1)
}

// ClearAbandonedExternal reclaims one previously marked non-arena
// abandoned segment, reporting whether one was available.
func (r *Registry) ClearAbandonedExternal() bool {
	for {
		cur := r.nonArenaAbandoned.Load()
		if cur == 0 {
			return false
		}
		if r.nonArenaAbandoned.CompareAndSwap(cur, cur-1) {
			r.abandonedCount.Add(-1)
			return true
		}
	}
}

// AbandonedCount reports the I4 invariant's running total: arena blocks
// marked abandoned plus non-arena segments marked abandoned.
func (r *Registry) AbandonedCount() int64 { return r.abandonedCount.Load() }

// ClearAbandonedNext is the two-phase reclaim: it scans the registry
// starting at cur for a set bit in some arena's abandoned bitmap,
// attempts to atomically unclaim it, and on success returns the segment
// without granting ownership (the caller must still explicitly claim it,
// e.g. by recording a thread id). The scan wraps once around the
// registry; a false ok means nothing is currently abandoned.
func (r *Registry) ClearAbandonedNext(cur Cursor) (Block, Cursor, bool) {
	n := r.Len()
	if n == 0 {
		return Block{}, cur, false
	}
	start := ((cur.startArena % n) + n) % n

	for i := 0; i < n; i++ {
		arenaIdx := (start + i) % n
		d := r.At(arenaIdx)
		if d == nil {
			continue
		}

		from := 0
		if i == 0 {
			from = cur.bitOffset
		}

		if block, ok := r.scanAbandoned(d, from); ok {
			next := Cursor{startArena: arenaIdx, bitOffset: block.BitIndex + 1}
			return block, next, true
		}
	}

	// Wrap back to the bits of the starting arena below the cursor's offset.
	if cur.bitOffset > 0 {
		if d := r.At(start); d != nil {
			if block, ok := r.scanAbandoned(d, 0); ok {
				return block, Cursor{startArena: start, bitOffset: block.BitIndex + 1}, true
			}
		}
	}

	return Block{}, Cursor{startArena: start}, false
}

// DrainAbandoned reclaims up to max abandoned segments in one call by
// repeatedly calling [Registry.ClearAbandonedNext], returning the
// reclaimed blocks and the cursor to resume from. It stops early, with
// fewer than max blocks, once the scan wraps without finding another one.
func (r *Registry) DrainAbandoned(cur Cursor, max int) ([]Block, Cursor) {
	scratch := drainScratch.Get()
	defer drainScratch.Put(scratch)

	for len(*scratch) < max {
		block, next, ok := r.ClearAbandonedNext(cur)
		if !ok {
			break
		}
		*scratch = append(*scratch, block)
		cur = next
	}

	out := make([]Block, len(*scratch))
	copy(out, *scratch)
	return out, cur
}

// scanAbandoned finds and reclaims the first abandoned bit at or after
// bit index from within d, retrying past any bit another reclaimer races
// it for.
func (r *Registry) scanAbandoned(d *Descriptor, from int) (Block, bool) {
	if from < 0 {
		from = 0
	}
	startField := from / bitmap.WordBits

	for f := startField; f < d.Fields; f++ {
		word := d.abandoned.Word(f)
		if f == startField && from%bitmap.WordBits != 0 {
			word &^= (uint64(1) << uint(from%bitmap.WordBits)) - 1
		}

		for word != 0 {
			bit := bits.TrailingZeros64(word)
			idx := f*bitmap.WordBits + bit
			if idx >= d.Blocks {
				break
			}

			if d.abandoned.UnclaimAcross(idx, 1) {
				r.abandonedCount.Add(-1)
				return Block{ArenaIndex: d.Index, BitIndex: idx, Count: 1}, true
			}
			// lost the race to another reclaimer; keep scanning.
			word &^= uint64(1) << uint(bit)
		}
	}
	return Block{}, false
}
