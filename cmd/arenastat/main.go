// Command arenastat is a small introspection demo for the arena
// subsystem: it reserves a demo arena, drives an alloc/free cycle and a
// deliberate double free through it, then prints a snapshot of the
// registry's bookkeeping. It exists to exercise [arena.ConfigFromFlags],
// [arena.Registry.Snapshot] and [arena.Registry.NUMADistribution] end to
// end, the way a teacher's cmd/ tool would double as a smoke test for a
// library package.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/flier/arenafly/pkg/arena"
	"github.com/flier/arenafly/pkg/opt"
)

func main() {
	flag.Parse()
	cfg := arena.ConfigFromFlags()

	r := arena.NewDefaultRegistry(cfg)

	if err := reserveAndTouch(r); err != nil {
		fmt.Fprintln(os.Stderr, "arenastat:", err)
		os.Exit(1)
	}

	printSnapshot(r)
}

// reserveAndTouch reserves a small demo arena and drives a couple of
// alloc/free cycles through it, returning any error the reservation
// path reported.
func reserveAndTouch(r *arena.Registry) error {
	const demoSize = 4 * arena.BlockSize

	id := r.ReserveOSMemoryEx(demoSize, true, false, false)
	if id.IsErr() {
		return id.UnwrapErr()
	}

	a1 := r.AllocAligned(arena.BlockSize, arena.BlockSize, true, false, opt.None[int](), -1)
	if a1.IsNone() {
		return fmt.Errorf("demo allocation failed")
	}
	alloc := a1.Unwrap()
	r.Free(alloc.Ptr, arena.BlockSize, arena.BlockSize, alloc.MemID)

	// Drive a double-free through Classify so the demo prints the
	// taxonomy bucket a real embedder's warning channel would observe.
	var lastWarning error
	r.OnWarning(func(err error) { lastWarning = err })
	r.Free(alloc.Ptr, arena.BlockSize, arena.BlockSize, alloc.MemID)
	if lastWarning != nil {
		if kind, ok := arena.Classify(lastWarning); ok {
			fmt.Printf("observed %s: %v\n", kind, lastWarning)
		}
	}

	return nil
}

func printSnapshot(r *arena.Registry) {
	stats := r.Snapshot()
	fmt.Printf("arenas=%d reserved=%d inuse_blocks=%d abandoned=%d huge_page_retries=%d purge_bytes_ema=%.0f\n",
		stats.Arenas, stats.TotalReserved, stats.InuseBlocks, stats.AbandonedCount, stats.HugePageRetries, stats.PurgeBytesEMA)

	for pair := range numaPairs(r) {
		node, count := pair.Unpack()
		fmt.Printf("  numa node %d: %d arena(s)\n", node, count)
	}
}

func numaPairs(r *arena.Registry) func(yield func(arena.NodeCount) bool) {
	return func(yield func(arena.NodeCount) bool) {
		for _, pair := range r.NUMADistribution() {
			if !yield(pair) {
				return
			}
		}
	}
}
