//go:build go1.23

// Package bitmap implements a word-partitioned atomic bitmap with
// cross-word claim/unclaim/find primitives over contiguous runs of bits.
//
// It is the lock-free core the arena subsystem sub-allocates blocks from:
// every bit tracks one block of one of an arena's inuse/dirty/committed/
// purge/abandoned planes. Operations are value-passing over a slice of
// atomic words, not methods on a long-lived object with internal locking,
// so a Bitmap can be embedded directly in an arena descriptor and shared
// across goroutines with no additional synchronization.
package bitmap

import (
	"math/bits"
	"sync/atomic"

	"github.com/flier/arenafly/internal/debug"
)

// WordBits is the width, in bits, of one bitmap word.
const WordBits = 64

// Bitmap is a fixed-size, word-partitioned bitmap of atomically updated
// uint64 words.
//
// The zero Bitmap has zero capacity; use [New] to allocate one sized to
// hold at least n bits.
type Bitmap struct {
	fields []atomic.Uint64
}

// New allocates a Bitmap with room for at least n bits, all initially clear.
func New(n int) *Bitmap {
	return &Bitmap{fields: make([]atomic.Uint64, fieldsFor(n))}
}

// Wrap constructs a Bitmap directly over caller-provided word storage
// instead of allocating its own, so a Bitmap can be carved out of memory
// the caller already owns (e.g. a bump-allocated static buffer). The
// caller must ensure words is zeroed and is not aliased by anything
// else for the lifetime of the returned Bitmap.
func Wrap(words []atomic.Uint64) *Bitmap {
	return &Bitmap{fields: words}
}

// WordsFor returns the number of machine words needed to hold n bits,
// the same computation [New] uses internally; callers that pre-allocate
// storage for [Wrap] use this to size it.
func WordsFor(n int) int { return fieldsFor(n) }

func fieldsFor(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + WordBits - 1) / WordBits
}

// Fields returns the number of machine words backing this bitmap.
func (b *Bitmap) Fields() int { return len(b.fields) }

// Bits returns the total addressable bit capacity, i.e. Fields()*WordBits.
// This may be larger than the logical bit count a caller cares about; see
// [Bitmap.ClaimAcross] used to permanently mark the tail as claimed.
func (b *Bitmap) Bits() int { return len(b.fields) * WordBits }

// Word returns the current value of word i, for callers that need to
// scan for runs of set bits directly (the purge sweep's maximal-run
// walk) rather than test individual positions one at a time.
func (b *Bitmap) Word(i int) uint64 { return b.fields[i].Load() }

// PopCount returns the number of set bits across the whole bitmap.
func (b *Bitmap) PopCount() int {
	n := 0
	for i := range b.fields {
		n += bits.OnesCount64(b.fields[i].Load())
	}
	return n
}

type wordMask struct {
	word int
	mask uint64
}

// spans decomposes the bit range [start, start+run) into the sequence of
// (word index, bit mask) pairs that cover it.
func spans(start, run int) []wordMask {
	if run <= 0 {
		return nil
	}

	spans := make([]wordMask, 0, run/WordBits+2)
	end := start + run
	for pos := start; pos < end; {
		word := pos / WordBits
		bit := pos % WordBits
		n := min(WordBits-bit, end-pos)

		var mask uint64
		if n == WordBits {
			mask = ^uint64(0)
		} else {
			mask = ((uint64(1) << n) - 1) << bit
		}

		spans = append(spans, wordMask{word, mask})
		pos += n
	}
	return spans
}

// IsClaimedAcross reports whether every bit in [bitIndex, bitIndex+run) is
// set.
func (b *Bitmap) IsClaimedAcross(bitIndex, run int) bool {
	for _, wm := range spans(bitIndex, run) {
		if b.fields[wm.word].Load()&wm.mask != wm.mask {
			return false
		}
	}
	return true
}

// ClaimAcross forces every bit in [bitIndex, bitIndex+run) to be set,
// regardless of their previous state, and reports whether any of them
// were already set and whether all of them were already set.
//
// This is used for planes where overlap is expected and informative (e.g.
// detecting that a freshly-committed range partially overlaps an
// already-committed one), as opposed to [Bitmap.TryFindAndClaimAcross],
// which requires exclusivity. Callers that only care whether the whole
// range needs further work (e.g. an OS commit call) should test
// !allPreviouslySet rather than !anyPreviouslySet: a mixed range — some
// bits already set, some not — still needs that work done for the bits
// that were clear.
func (b *Bitmap) ClaimAcross(bitIndex, run int) (anyPreviouslySet, allPreviouslySet bool) {
	allPreviouslySet = true
	for _, wm := range spans(bitIndex, run) {
		old := b.fields[wm.word].Or(wm.mask)
		if old&wm.mask != 0 {
			anyPreviouslySet = true
		}
		if old&wm.mask != wm.mask {
			allPreviouslySet = false
		}
	}
	return anyPreviouslySet, allPreviouslySet
}

// UnclaimAcross clears every bit in [bitIndex, bitIndex+run), and reports
// whether all of them were previously set. A false return indicates a
// double-free: some bit in the range was already clear.
func (b *Bitmap) UnclaimAcross(bitIndex, run int) (allPreviouslySet bool) {
	allPreviouslySet = true
	for _, wm := range spans(bitIndex, run) {
		old := b.fields[wm.word].And(^wm.mask)
		if old&wm.mask != wm.mask {
			allPreviouslySet = false
		}
	}
	return allPreviouslySet
}

// TryClaimOne attempts to atomically set every bit in [bitIndex, bitIndex+run)
// from clear to set, as a single all-or-nothing operation. It reports
// whether the claim succeeded.
//
// On conflict (some bit in the range was already set), any bits this call
// had already claimed are rolled back before returning false, so a failed
// call leaves the bitmap exactly as it found it.
func (b *Bitmap) TryClaimOne(bitIndex, run int) bool {
	wms := spans(bitIndex, run)
	claimed := wms[:0:0]

	for _, wm := range wms {
		for {
			old := b.fields[wm.word].Load()
			if old&wm.mask != 0 {
				b.rollback(claimed)
				return false
			}
			if b.fields[wm.word].CompareAndSwap(old, old|wm.mask) {
				claimed = append(claimed, wm)
				break
			}
		}
	}
	return true
}

func (b *Bitmap) rollback(claimed []wordMask) {
	for _, wm := range claimed {
		b.fields[wm.word].And(^wm.mask)
	}
}

// TryFindAndClaimAcross scans forward from startFieldHint (in units of
// whole words, wrapping around the bitmap), looking for the first run of
// run cleared bits. On success, it atomically claims them as a whole and
// returns the starting bit index. On failure — no run of that length is
// free — it returns (0, false).
//
// Spurious failures are possible under concurrent modification of the
// range being examined; callers are expected to retry or fall through to
// an alternative bitmap (e.g. a different arena) rather than treat a
// single failure as proof no space exists anywhere.
func (b *Bitmap) TryFindAndClaimAcross(startFieldHint, run int) (bitIndex int, ok bool) {
	nFields := len(b.fields)
	if nFields == 0 || run <= 0 {
		return 0, false
	}

	total := nFields * WordBits
	startFieldHint = ((startFieldHint % nFields) + nFields) % nFields

	for i := 0; i < nFields; i++ {
		field := (startFieldHint + i) % nFields
		base := field * WordBits

		for bit := 0; bit < WordBits; bit++ {
			start := base + bit
			if start+run > total {
				break
			}
			if b.TryClaimOne(start, run) {
				debug.Log(nil, "bitmap.find", "claimed [%d, %d)", start, start+run)
				return start, true
			}
		}
	}
	return 0, false
}
