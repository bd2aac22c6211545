package arena_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flier/arenafly/pkg/arena"
	"github.com/flier/arenafly/pkg/opt"
	"github.com/flier/arenafly/pkg/osprim/simos"
)

// TestDoubleFreeDetection exercises double-free detection: freeing the same
// allocation twice reports DoubleFree and leaves state unchanged rather
// than corrupting the bitmap or panicking.
func TestDoubleFreeDetection(t *testing.T) {
	os := simos.New()
	r := arena.NewRegistry(os, arena.DefaultConfig())
	r.MarkInitDone()

	id := r.ReserveOSMemoryEx(arena.BlockSize, true, false, false)
	require.True(t, id.IsOk())

	a := r.AllocAligned(arena.BlockSize, arena.BlockSize, true, false, opt.None[int](), -1)
	require.True(t, a.IsSome())
	alloc := a.Unwrap()

	var warnings []error
	r.OnWarning(func(err error) { warnings = append(warnings, err) })

	r.Free(alloc.Ptr, arena.BlockSize, arena.BlockSize, alloc.MemID)
	assert.Empty(t, warnings, "first free should not warn")
	assert.Equal(t, 0, r.Snapshot().InuseBlocks)

	r.Free(alloc.Ptr, arena.BlockSize, arena.BlockSize, alloc.MemID)
	require.Len(t, warnings, 1)

	var dfe *arena.DoubleFreeError
	assert.ErrorAs(t, warnings[0], &dfe)
	assert.Equal(t, alloc.MemID.ArenaIndex, dfe.Block.ArenaIndex)
	assert.Equal(t, alloc.MemID.BitIndex, dfe.Block.BitIndex)

	kind, ok := arena.Classify(warnings[0])
	assert.True(t, ok)
	assert.Equal(t, "DoubleFree", kind)

	// The second free must not have further changed the inuse count.
	assert.Equal(t, 0, r.Snapshot().InuseBlocks)
}

// TestInvalidArenaFree exercises the InvalidArena taxonomy member: a
// MemID naming an out-of-range arena index is diagnosed and ignored.
func TestInvalidArenaFree(t *testing.T) {
	os := simos.New()
	r := arena.NewRegistry(os, arena.DefaultConfig())
	r.MarkInitDone()

	var warnings []error
	r.OnWarning(func(err error) { warnings = append(warnings, err) })

	bogus := arena.MemID{Kind: arena.MemArena, ArenaIndex: 42, BitIndex: 0}

	require.NotPanics(t, func() {
		r.Free(0, arena.BlockSize, arena.BlockSize, bogus)
	})

	require.Len(t, warnings, 1)
	var iae *arena.InvalidArenaError
	assert.ErrorAs(t, warnings[0], &iae)

	kind, ok := arena.Classify(warnings[0])
	assert.True(t, ok)
	assert.Equal(t, "InvalidArena", kind)
}

// TestFreeOSMemIDIsANoOpForArenaBookkeeping covers the Os/External/
// Static/None branches of Free: none of them touch any arena
// bitmap or emit a warning.
func TestFreeOSMemIDIsANoOpForArenaBookkeeping(t *testing.T) {
	os := simos.New()
	r := arena.NewRegistry(os, arena.DefaultConfig())
	r.MarkInitDone()

	var warnings []error
	r.OnWarning(func(err error) { warnings = append(warnings, err) })

	a := r.AllocAligned(4<<20, 4<<20, true, false, opt.None[int](), -1)
	require.True(t, a.IsSome())
	alloc := a.Unwrap()
	require.Equal(t, arena.MemOS, alloc.MemID.Kind)

	require.NotPanics(t, func() {
		r.Free(alloc.Ptr, 4<<20, 4<<20, alloc.MemID)
	})
	assert.Empty(t, warnings)

	for _, kind := range []arena.MemKind{arena.MemExternal, arena.MemStatic, arena.MemNone} {
		require.NotPanics(t, func() {
			r.Free(0, 4<<20, 4<<20, arena.MemID{Kind: kind})
		})
	}
	assert.Empty(t, warnings)
}
