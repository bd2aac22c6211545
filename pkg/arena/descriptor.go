package arena

import (
	"sync/atomic"

	"github.com/flier/arenafly/internal/debug"
	"github.com/flier/arenafly/pkg/arena/bitmap"
	"github.com/flier/arenafly/pkg/opt"
	"github.com/flier/arenafly/pkg/osprim"
	"github.com/flier/arenafly/pkg/xunsafe"
)

// Descriptor owns one contiguous arena region and the five atomic
// bitmaps that track its blocks. Everything but Index is immutable
// after [newDescriptor] returns; all mutable state is atomic, so a
// *Descriptor may be shared and read from any goroutine without further
// synchronization.
type Descriptor struct {
	// Index is this descriptor's slot in its [Registry], assigned once at
	// registration and never reused.
	Index int

	Start    xunsafe.Addr[byte]
	Blocks   int
	Fields   int
	NUMANode int
	Exclusive bool
	Large    bool
	Pinned   bool
	MetaID   MemID

	// inuse and abandoned always exist. dirty exists only for arenas
	// registered as initially zero. committed and purge are nil for pinned
	// arenas: pinned memory is always committed and is never a purge
	// candidate.
	inuse     *bitmap.Bitmap
	dirty     *bitmap.Bitmap
	committed *bitmap.Bitmap
	purge     *bitmap.Bitmap
	abandoned *bitmap.Bitmap

	searchIdx   atomic.Uint64 // relaxed hint: field index of the last successful claim
	purgeExpire atomic.Int64  // monotonic ms deadline; 0 = nothing scheduled
}

// descriptorOpts configures [newDescriptor]; it exists only to keep that
// constructor's signature from growing an unreadable run of bool
// parameters.
type descriptorOpts struct {
	NUMANode          int
	Exclusive         bool
	Large             bool
	Pinned            bool
	AlwaysCommitted   bool
	InitiallyZero     bool
	InitiallyCommitted bool
}

// newDescriptor constructs a Descriptor for a region of size bytes. meta,
// if non-nil, is tried first for the bitmap backing storage (see
// metaArena.allocWords); it falls back to the ordinary Go heap
// ([bitmap.New]) once meta is exhausted or absent, which is always safe
// since the Go heap has no bootstrap-recursion hazard to avoid.
func newDescriptor(start xunsafe.Addr[byte], size int64, metaID MemID, opts descriptorOpts, meta *metaArena) *Descriptor {
	blocks := int((size + BlockSize - 1) / BlockSize)

	newBitmap := func(n int) *bitmap.Bitmap {
		if meta != nil {
			if words, ok := meta.allocWords(bitmap.WordsFor(n)); ok {
				return bitmap.Wrap(words)
			}
		}
		return bitmap.New(n)
	}

	d := &Descriptor{
		Start:     start,
		Blocks:    blocks,
		NUMANode:  opts.NUMANode,
		Exclusive: opts.Exclusive,
		Large:     opts.Large,
		Pinned:    opts.Pinned,
		MetaID:    metaID,
		inuse:     newBitmap(blocks),
		abandoned: newBitmap(blocks),
	}
	d.Fields = d.inuse.Fields()

	// I7: tail bits beyond Blocks in the last field are permanently inuse.
	if tail := d.inuse.Bits() - blocks; tail > 0 {
		d.inuse.ClaimAcross(blocks, tail)
	}

	if opts.InitiallyZero {
		d.dirty = newBitmap(blocks)
	}

	if !opts.Pinned && !opts.AlwaysCommitted {
		d.committed = newBitmap(blocks)
		if opts.InitiallyCommitted {
			d.committed.ClaimAcross(0, blocks)
		}
		d.purge = newBitmap(blocks)
	}

	return d
}

// alwaysCommitted reports whether this arena has no committed bitmap at
// all, meaning every block is implicitly always resident.
func (d *Descriptor) alwaysCommitted() bool { return d.committed == nil }

// suitableFor reports whether this arena may be considered for a
// request naming reqID (opt.None means "any arena") and allowLarge: an
// explicit id bypasses the exclusive/large filters entirely, since
// naming an arena is itself authorization to use it.
func (d *Descriptor) suitableFor(reqID opt.Option[int], allowLarge bool) bool {
	if reqID.IsSome() {
		return d.Index == reqID.Unwrap()
	}
	if d.Exclusive {
		return false
	}
	if d.Large && !allowLarge {
		return false
	}
	return true
}

// tryClaim attempts to claim a run of `needed` contiguous blocks: find a
// free run, claim it, commit it if requested, and construct the MemID
// the caller will later free against. It returns the starting bit
// index, the pointer it corresponds to, the constructed MemID, and
// whether the claim succeeded.
func (d *Descriptor) tryClaim(needed int, wantCommit bool, os osprim.Primitives) (idx int, ptr xunsafe.Addr[byte], memid MemID, ok bool) {
	hint := int(d.searchIdx.Load())
	idx, found := d.inuse.TryFindAndClaimAcross(hint, needed)
	if !found {
		return 0, 0, MemID{}, false
	}
	d.searchIdx.Store(uint64(idx / bitmap.WordBits))

	ptr = d.Start.Add(idx * BlockSize)
	size := int64(needed) * BlockSize

	// Step 4: a pending purge must not decommit memory that is now inuse;
	// safe because we hold inuse over this exact range.
	if d.purge != nil {
		d.purge.UnclaimAcross(idx, needed)
	}

	memid = MemID{
		Kind:       MemArena,
		ArenaIndex: d.Index,
		BitIndex:   idx,
		Exclusive:  d.Exclusive,
		Pinned:     d.Pinned,
	}

	// Step 5: dirty tracking determines whether this range is guaranteed
	// zero on first touch.
	if d.dirty != nil {
		if anyPreviouslyDirty, _ := d.dirty.ClaimAcross(idx, needed); !anyPreviouslyDirty {
			memid.InitiallyZero = true
		}
	}

	// Step 6: three-way commit policy. A mixed range — some blocks already
	// committed, some not — still needs the OS commit call for the blocks
	// that were clear, so the branch is keyed on allPreviouslySet rather
	// than anyPreviouslySet.
	switch {
	case d.alwaysCommitted():
		memid.InitiallyCommitted = true
	case wantCommit:
		if _, allPreviouslyCommitted := d.committed.ClaimAcross(idx, needed); !allPreviouslyCommitted {
			zeroed, committedOK := os.Commit(ptr, size)
			memid.InitiallyCommitted = committedOK
			if committedOK && zeroed {
				memid.InitiallyZero = true
			}
		} else {
			memid.InitiallyCommitted = true
		}
	default:
		memid.InitiallyCommitted = d.committed.IsClaimedAcross(idx, needed)
	}

	debug.Log(nil, "arena.descriptor.tryClaim", "arena %d claimed %s", d.Index, Block{d.Index, idx, needed})

	return idx, ptr, memid, true
}
