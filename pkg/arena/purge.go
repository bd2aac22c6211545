package arena

import (
	"math/bits"

	"github.com/flier/arenafly/internal/debug"
	"github.com/flier/arenafly/pkg/arena/bitmap"
)

// schedulePurge is the deferred-purge scheduling for a just-freed
// range: purging is skipped entirely when disabled, done
// immediately while preloading or when the delay is zero, and otherwise
// deferred to a CAS-tracked per-arena deadline that is set once and
// nudged forward by delay/10 on every subsequent free that targets the
// same arena before the sweep fires.
func (r *Registry) schedulePurge(d *Descriptor, bitIndex, blocks int) {
	if d.purge == nil { // pinned: never purged
		return
	}
	if r.cfg.PurgeDelayMS < 0 { // purging disabled
		return
	}

	delay := r.cfg.PurgeDelayMS * r.cfg.ArenaPurgeMult

	if r.preloading.Load() || r.cfg.PurgeDelayMS == 0 {
		r.purgeRange(d, bitIndex, blocks)
		return
	}

	now := r.os.ClockNowMS()
	for {
		cur := d.purgeExpire.Load()
		var next int64
		if cur == 0 {
			next = now + delay
		} else {
			next = cur + delay/10
		}
		if d.purgeExpire.CompareAndSwap(cur, next) {
			break
		}
	}
	d.purge.ClaimAcross(bitIndex, blocks)

	debug.Log(nil, "arena.schedulePurge", "arena %d scheduled purge of %s", d.Index, Block{d.Index, bitIndex, blocks})
}

// TryPurgeAll is the global sweep over every registered arena,
// serialized by a single-writer try-lock so contending sweepers back off
// rather than block, force bypasses each arena's deadline check, and
// visitAll controls whether the sweep continues past the first arena it
// actually purges (the opportunistic single-arena sweep [Free] runs
// passes visitAll=false; [Registry.CollectGarbage] passes true).
//
// It reports whether this call actually acquired the sweep lock; a false
// return means another goroutine is already sweeping and this call did
// nothing.
func (r *Registry) TryPurgeAll(force, visitAll bool) bool {
	if !r.purgeGuard.CompareAndSwap(false, true) {
		return false
	}
	defer r.purgeGuard.Store(false)

	now := r.os.ClockNowMS()

	for i := 0; i < r.Len(); i++ {
		d := r.At(i)
		if d == nil || d.Pinned || d.purge == nil {
			continue
		}

		expire := d.purgeExpire.Load()
		if expire == 0 {
			continue
		}
		if !force && now < expire {
			continue
		}
		if !d.purgeExpire.CompareAndSwap(expire, 0) {
			continue // another sweeper already consumed this deadline
		}

		if needsReschedule := r.purgeArena(d); needsReschedule {
			r.rearm(d, now)
		}

		if !visitAll {
			break
		}
	}

	return true
}

// rearm schedules a fresh deadline after a sweep left some range
// un-purged (a concurrent allocator re-claimed part of it mid-sweep).
func (r *Registry) rearm(d *Descriptor, now int64) {
	delay := r.cfg.PurgeDelayMS * r.cfg.ArenaPurgeMult
	if delay <= 0 {
		delay = r.cfg.PurgeDelayMS
	}
	d.purgeExpire.CompareAndSwap(0, now+delay)
}

// purgeArena walks every maximal run of set bits in d's purge bitmap and
// attempts to purge each one. It reports whether any run could not be
// fully purged (because a concurrent allocation claimed part of it),
// meaning the arena should be re-armed with a fresh deadline.
func (r *Registry) purgeArena(d *Descriptor) (needsReschedule bool) {
	for f := 0; f < d.Fields; f++ {
		base := f * bitmap.WordBits
		word := d.purge.Word(f)

		for word != 0 {
			start := bits.TrailingZeros64(word)
			run := bits.TrailingZeros64(^(word >> start))

			if !r.purgeRun(d, base+start, run) {
				needsReschedule = true
			}

			var mask uint64
			if run >= bitmap.WordBits-start {
				mask = ^uint64(0) << start
			} else {
				mask = ((uint64(1) << run) - 1) << start
			}
			word &^= mask
		}
	}
	return needsReschedule
}

// purgeRun re-acquires inuse over [bitIndex, bitIndex+run) before
// purging it — the purger never touches live memory — shrinking the run
// on conflict until a claim succeeds or the run reaches zero. It
// reports whether the whole requested range was purged.
func (r *Registry) purgeRun(d *Descriptor, bitIndex, run int) bool {
	for n := run; n > 0; n-- {
		if d.inuse.TryClaimOne(bitIndex, n) {
			r.purgeClaimedRange(d, bitIndex, n)
			d.inuse.UnclaimAcross(bitIndex, n)
			return n == run
		}
	}
	return false
}

// purgeClaimedRange purges [bitIndex, bitIndex+run), which the caller
// already holds inuse over. A concurrent allocator may have un-marked
// part of the range from purge in the meantime (a claim clears
// overlapping purge bits), so this re-reads the purge bitmap and only
// purges the sub-runs still marked.
func (r *Registry) purgeClaimedRange(d *Descriptor, bitIndex, run int) {
	i := 0
	for i < run {
		if !d.purge.IsClaimedAcross(bitIndex+i, 1) {
			i++
			continue
		}
		start := i
		for i < run && d.purge.IsClaimedAcross(bitIndex+i, 1) {
			i++
		}
		r.purgeRange(d, bitIndex+start, i-start)
	}
}

// purgeRange calls the OS purge primitive on exactly [bitIndex,
// bitIndex+run) and clears its purge and (if the primitive requested a
// re-commit) committed bits.
func (r *Registry) purgeRange(d *Descriptor, bitIndex, run int) {
	ptr := d.Start.Add(bitIndex * BlockSize)
	size := int64(run) * BlockSize

	var needsRecommit bool
	if r.cfg.PurgeDecommits {
		needsRecommit, _ = r.os.Decommit(ptr, size)
	} else {
		needsRecommit = r.os.Purge(ptr, size)
	}

	d.purge.UnclaimAcross(bitIndex, run)
	if needsRecommit && d.committed != nil {
		d.committed.UnclaimAcross(bitIndex, run)
	}
	r.observePurge(size)

	debug.Log(nil, "arena.purgeRange", "arena %d purged %s, needsRecommit=%t", d.Index, Block{d.Index, bitIndex, run}, needsRecommit)
}

// CollectGarbage is the external poke to the purge engine: a
// whole-registry sweep that ignores each arena's deadline when force is
// true.
func (r *Registry) CollectGarbage(force bool) bool {
	return r.TryPurgeAll(force, true)
}
