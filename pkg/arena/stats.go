//go:build go1.23

package arena

import (
	"iter"

	"github.com/flier/arenafly/internal/iterhelpers"
	"github.com/flier/arenafly/pkg/tuple"
)

// All returns a range-over-func iterator over every currently registered
// arena descriptor, skipping slots not yet populated (there should not
// be any for indices below [Registry.Len], but a concurrent register
// racing this read could momentarily observe one). Built from
// [iterhelpers.Range] and [iterhelpers.Filter]/[iterhelpers.Map] instead
// of a hand-rolled loop.
func (r *Registry) All() iter.Seq[*Descriptor] {
	indices := iterhelpers.Range(0, r.Len())
	descs := iterhelpers.Map(indices, r.At)
	return iterhelpers.Filter(descs, func(d *Descriptor) bool { return d != nil })
}

// NodeCount pairs a NUMA node id with the number of registered arenas
// pinned to it, as returned by [Registry.NUMADistribution].
type NodeCount = tuple.Tuple2[int, int]

// NUMADistribution summarizes how registered arenas are spread across
// NUMA nodes: one (node, count) pair per node that owns at least one
// arena, in ascending node order. Arenas with no NUMA affinity
// (NUMANode < 0) are not counted.
func (r *Registry) NUMADistribution() []NodeCount {
	counts := make(map[int]int)
	for d := range r.All() {
		if d.NUMANode >= 0 {
			counts[d.NUMANode]++
		}
	}

	nodes := make([]int, 0, len(counts))
	for node := range counts {
		nodes = append(nodes, node)
	}
	sortInts(nodes)

	out := make([]NodeCount, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, tuple.New2(node, counts[node]))
	}
	return out
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Stats is a point-in-time snapshot of registry-wide bookkeeping,
// intended for introspection tools like cmd/arenastat rather than the
// hot allocation path.
type Stats struct {
	Arenas          int
	TotalReserved   int64
	InuseBlocks     int
	AbandonedCount  int64
	HugePageRetries int32
	PurgeBytesEMA   float64
}

// Snapshot computes a [Stats] value by folding over [Registry.All] with
// [iterhelpers.Fold], rather than a hand-rolled accumulator loop.
func (r *Registry) Snapshot() Stats {
	// The tail bits past Blocks in each arena's last field are permanently
	// set (I7) and are not blocks, so they are left out of InuseBlocks.
	inuse := iterhelpers.Fold(r.All(), 0, func(acc int, d *Descriptor) int {
		return acc + d.inuse.PopCount() - (d.inuse.Bits() - d.Blocks)
	})

	return Stats{
		Arenas:          r.Len(),
		TotalReserved:   r.totalReserved.Load(),
		InuseBlocks:     inuse,
		AbandonedCount:  r.abandonedCount.Load(),
		HugePageRetries: r.hugePageFailures.Load(),
		PurgeBytesEMA:   r.purgeBytesEMA.Load(),
	}
}
