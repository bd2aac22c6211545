// Package simos is a pure Go, in-process fake of [osprim.Primitives].
//
// Every test in this repository exercises the arena subsystem against
// Simos instead of real syscalls, so property tests (spec §8) never need
// root privileges or real huge pages. Grounded on the teacher's pattern
// of swapping two implementations behind one interface via a build tag
// (internal/debug's debug/nodbg split): here the swap is an explicit
// constructor choice instead, since both implementations need to coexist
// in the same test binary.
package simos

import (
	"sync"
	"time"
	"unsafe"

	"github.com/flier/arenafly/pkg/xunsafe"
)

type region struct {
	buf       []byte
	committed bool
}

// Simos fakes the OS primitive interface with real Go-heap-backed
// memory. Decommit simulates MADV_DONTNEED by zeroing the range (a
// future commit is guaranteed zero, matching real decommit semantics).
// Purge forwards to Decommit regardless of the caller's policy: Simos
// models the needsRecommit contract, not the RSS-timing difference
// between MADV_DONTNEED and MADV_FREE, which has no observable effect
// on a Go-heap-backed fake.
type Simos struct {
	Overcommit        bool
	VirtualReserveOK  bool
	NodeCount         int
	Node              int

	// AllocHugeOSPagesFunc, when non-nil, overrides AllocHugeOSPages
	// entirely. Tests use this to simulate huge-page unavailability
	// (spec §8 scenario 5) without touching the real OS.
	AllocHugeOSPagesFunc func(size int64, numaNode int, timeoutMS int64) (xunsafe.Addr[byte], int64, bool)

	mu      sync.Mutex
	regions map[xunsafe.Addr[byte]]*region
	start   time.Time
}

// New returns a ready-to-use Simos with overcommit and virtual reserve
// both enabled and a single NUMA node, the common case for unit tests.
func New() *Simos {
	return &Simos{
		Overcommit:       true,
		VirtualReserveOK: true,
		NodeCount:        1,
		regions:          make(map[xunsafe.Addr[byte]]*region),
		start:            time.Now(),
	}
}

func (s *Simos) Alloc(size int64) (xunsafe.Addr[byte], bool, bool) {
	ptr, zero, _, ok := s.AllocAligned(size, 1, true, false)
	return ptr, zero, ok
}

func (s *Simos) AllocAligned(size, align int64, commit, allowLarge bool) (xunsafe.Addr[byte], bool, bool, bool) {
	return s.AllocAlignedAtOffset(size, align, 0, commit, allowLarge)
}

func (s *Simos) AllocAlignedAtOffset(size, align, offset int64, commit, _ bool) (ptr xunsafe.Addr[byte], zero, committed, ok bool) {
	if size <= 0 || align <= 0 {
		return 0, false, false, false
	}

	buf := make([]byte, size+align) // make's backing array is always zeroed
	base := xunsafe.AddrOf(&buf[0])
	pad := base.ByteAdd(int(offset)).Padding(int(align))
	p := base.ByteAdd(pad)

	s.mu.Lock()
	s.regions[p] = &region{buf: buf, committed: commit}
	s.mu.Unlock()

	return p, true, commit, true
}

func (s *Simos) Free(ptr xunsafe.Addr[byte], _ int64) {
	s.mu.Lock()
	delete(s.regions, ptr)
	s.mu.Unlock()
}

func (s *Simos) Commit(ptr xunsafe.Addr[byte], size int64) (zero, ok bool) {
	r := s.region(ptr)
	if r == nil {
		return false, false
	}
	wasCommitted := r.committed
	r.committed = true
	// A decommitted-then-recommitted range reads zero, since Decommit
	// already zeroed it; a never-committed range starts zero too (the
	// backing slice was zeroed on allocation and never touched).
	return !wasCommitted, true
}

func (s *Simos) Decommit(ptr xunsafe.Addr[byte], size int64) (needsRecommit, ok bool) {
	r := s.region(ptr)
	if r == nil {
		return false, false
	}
	clear(s.slice(ptr, size))
	r.committed = false
	return true, true
}

func (s *Simos) Purge(ptr xunsafe.Addr[byte], size int64) (needsRecommit bool) {
	needsRecommit, _ = s.Decommit(ptr, size)
	return needsRecommit
}

func (s *Simos) Protect(ptr xunsafe.Addr[byte], size int64, _ bool) bool {
	return s.region(ptr) != nil
}

func (s *Simos) HasOvercommit() bool      { return s.Overcommit }
func (s *Simos) HasVirtualReserve() bool  { return s.VirtualReserveOK }
func (s *Simos) NUMANode() int            { return s.Node }
func (s *Simos) NUMANodeCount() int       { return s.NodeCount }
func (s *Simos) ClockNowMS() int64        { return time.Since(s.start).Milliseconds() }

func (s *Simos) AllocHugeOSPages(size int64, numaNode int, timeoutMS int64) (xunsafe.Addr[byte], int64, bool) {
	if s.AllocHugeOSPagesFunc != nil {
		return s.AllocHugeOSPagesFunc(size, numaNode, timeoutMS)
	}
	ptr, _, _, ok := s.AllocAligned(size, 1<<30, true, true)
	return ptr, size, ok
}

func (s *Simos) region(ptr xunsafe.Addr[byte]) *region {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regions[ptr]
}

// slice returns the n bytes at ptr as a Go slice backed by the fake's
// region storage, for tests that want to inspect written/zeroed bytes
// directly.
func (s *Simos) slice(ptr xunsafe.Addr[byte], n int64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), int(n))
}

// Slice exposes the region bytes at ptr for test assertions (e.g.
// checking spec §8 P5, the zero guarantee).
func (s *Simos) Slice(ptr xunsafe.Addr[byte], n int64) []byte { return s.slice(ptr, n) }
