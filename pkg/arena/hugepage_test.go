package arena_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flier/arenafly/pkg/arena"
	"github.com/flier/arenafly/pkg/osprim/simos"
	"github.com/flier/arenafly/pkg/xunsafe"
)

// TestHugePageUnavailableStickyCounter exercises the sticky huge-page-failure counter: the
// HugePageUnavailable taxonomy member of §7: a single underlying
// failure suppresses the next N=8 huge-page requests without retrying
// the OS primitive, and the request after those N is allowed through
// again.
func TestHugePageUnavailableStickyCounter(t *testing.T) {
	os := simos.New()

	calls := 0
	os.AllocHugeOSPagesFunc = func(size int64, numaNode int, timeoutMS int64) (xunsafe.Addr[byte], int64, bool) {
		calls++
		if calls == 1 {
			return 0, 0, false // first real attempt fails
		}
		ptr, _, _, ok := os.AllocAligned(size, 1<<30, true, true)
		return ptr, size, ok
	}

	r := arena.NewRegistry(os, arena.DefaultConfig())
	r.MarkInitDone()

	first := r.ReserveHugeOSPagesAt(1, 0, 1000)
	require.True(t, first.IsErr())
	assert.ErrorIs(t, first.UnwrapErr(), arena.ErrHugePageUnavailable)
	assert.Equal(t, 1, calls, "the first request must reach the OS primitive")

	kind, ok := arena.Classify(first.UnwrapErr())
	assert.True(t, ok)
	assert.Equal(t, "HugePageUnavailable", kind)

	// The next 8 requests are suppressed without touching the OS.
	for i := 0; i < 8; i++ {
		suppressed := r.ReserveHugeOSPagesAt(1, 0, 1000)
		require.True(t, suppressed.IsErr())
	}
	assert.Equal(t, 1, calls, "suppressed requests must not call the OS primitive again")

	// The counter is now exhausted: the next request reaches the OS
	// primitive again and, per the mock, succeeds.
	next := r.ReserveHugeOSPagesAt(1, 0, 1000)
	require.True(t, next.IsOk())
	assert.Equal(t, 2, calls)
}

// TestReserveHugeOSPagesInterleave covers the multi-node split of
// pages are divided across the given NUMA nodes, one arena
// reserved per node that succeeds.
func TestReserveHugeOSPagesInterleave(t *testing.T) {
	os := simos.New()
	os.NodeCount = 2
	r := arena.NewRegistry(os, arena.DefaultConfig())
	r.MarkInitDone()

	total := r.ReserveHugeOSPagesInterleave(4, []int{0, 1}, 1000)
	require.True(t, total.IsOk())
	assert.Equal(t, int64(4)<<30, total.Unwrap())
	assert.Equal(t, 2, r.Snapshot().Arenas)
}
