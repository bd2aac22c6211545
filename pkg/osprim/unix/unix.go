//go:build linux

// Package unix implements [osprim.Primitives] over golang.org/x/sys/unix:
// mmap/munmap/mprotect/madvise for reserve/commit/decommit/purge/protect,
// sysfs parsing for NUMA node enumeration, and MAP_HUGETLB for huge-page
// reservation.
//
// This is the one third-party domain dependency this repository adds
// beyond the teacher's own stack: golang.org/x/sys/unix, the same
// package the xyproto-vibe67 pack repo uses for raw syscall plumbing
// (its filewatcher_unix.go), generalized here from inotify watching to
// memory-mapping primitives.
package unix

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/flier/arenafly/pkg/untrust"
	"github.com/flier/arenafly/pkg/xunsafe"
)

// OS implements osprim.Primitives against real Linux syscalls.
type OS struct{}

// New returns an OS primitive implementation backed by real mmap/madvise
// syscalls. It must only be used on linux.
func New() OS { return OS{} }

func (OS) Alloc(size int64) (xunsafe.Addr[byte], bool, bool) {
	ptr, zero, _, ok := OS{}.AllocAligned(size, int64(os.Getpagesize()), true, false)
	return ptr, zero, ok
}

func (o OS) AllocAligned(size, align int64, commit, allowLarge bool) (xunsafe.Addr[byte], bool, bool, bool) {
	return o.AllocAlignedAtOffset(size, align, 0, commit, allowLarge)
}

func (OS) AllocAlignedAtOffset(size, align, offset int64, commit, allowLarge bool) (xunsafe.Addr[byte], bool, bool, bool) {
	prot := unix.PROT_NONE
	if commit {
		prot = unix.PROT_READ | unix.PROT_WRITE
	}
	flags := unix.MAP_PRIVATE | unix.MAP_ANONYMOUS
	if allowLarge {
		flags |= unix.MAP_HUGETLB
	}

	// Over-allocate so that (ptr+offset) can be rounded up to align within
	// the mapping, then trim the unused head/tail via separate unmaps.
	total := size + align
	b, err := unix.Mmap(-1, 0, int(total), prot, flags)
	if err != nil {
		if allowLarge {
			// Huge pages unavailable: fall back to ordinary pages.
			return OS{}.AllocAlignedAtOffset(size, align, offset, commit, false)
		}
		return 0, false, false, false
	}

	base := xunsafe.AddrOf(&b[0])
	pad := base.ByteAdd(int(offset)).Padding(int(align))
	ptr := base.ByteAdd(pad)

	if pad > 0 {
		_ = unix.Munmap(b[:pad])
	}
	tailStart := pad + int(size)
	if tailStart < len(b) {
		_ = unix.Munmap(b[tailStart:])
	}

	return ptr, commit, commit, true
}

func (OS) Free(ptr xunsafe.Addr[byte], size int64) {
	b := addrToSlice(ptr, size)
	_ = unix.Munmap(b)
}

func (OS) Commit(ptr xunsafe.Addr[byte], size int64) (zero, ok bool) {
	b := addrToSlice(ptr, size)
	if err := unix.Mprotect(b, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return false, false
	}
	// A freshly committed mapping that was never written reads as zero;
	// the caller (arena core) only relies on this when it also observes
	// no prior dirty bit for the range.
	return true, true
}

func (OS) Decommit(ptr xunsafe.Addr[byte], size int64) (needsRecommit, ok bool) {
	b := addrToSlice(ptr, size)
	if err := unix.Madvise(b, unix.MADV_DONTNEED); err != nil {
		return false, false
	}
	if err := unix.Mprotect(b, unix.PROT_NONE); err != nil {
		return true, false
	}
	return true, true
}

func (o OS) Purge(ptr xunsafe.Addr[byte], size int64) bool {
	b := addrToSlice(ptr, size)
	// MADV_FREE (reset): cheap, lazy, pages keep RSS until pressure; no
	// re-commit required. Callers configured for decommit semantics
	// instead go through Decommit, not Purge.
	if err := unix.Madvise(b, unix.MADV_FREE); err != nil {
		needsRecommit, _ := o.Decommit(ptr, size)
		return needsRecommit
	}
	return false
}

func (OS) Protect(ptr xunsafe.Addr[byte], size int64, accessible bool) bool {
	prot := unix.PROT_NONE
	if accessible {
		prot = unix.PROT_READ | unix.PROT_WRITE
	}
	return unix.Mprotect(addrToSlice(ptr, size), prot) == nil
}

func (OS) HasOvercommit() bool {
	data, err := os.ReadFile("/proc/sys/vm/overcommit_memory")
	if err != nil {
		return true
	}
	mode, err := strconv.Atoi(string(bytes.TrimSpace(data)))
	return err != nil || mode != 2
}

func (OS) HasVirtualReserve() bool { return true }

func (OS) NUMANode() int {
	var cpu, node int
	if _, _, errno := unix.Syscall(unix.SYS_GETCPU, uintptr(unsafe.Pointer(&cpu)), uintptr(unsafe.Pointer(&node)), 0); errno != 0 {
		return -1
	}
	return node
}

// NUMANodeCount parses /sys/devices/system/node/online, treating the
// sysfs text as untrusted input the way the teacher's pkg/untrust
// treats any externally supplied byte buffer: the kernel's reported
// range could in principle be malformed, so this never indexes past
// what it has actually validated.
func (OS) NUMANodeCount() int {
	data, err := os.ReadFile(filepath.Join("/sys/devices/system/node", "online"))
	if err != nil {
		return 1
	}

	n, ok := parseNodeRange(untrust.Input(bytes.TrimSpace(data)))
	if !ok || n < 1 {
		return 1
	}
	return n
}

// parseNodeRange parses a sysfs range list like "0-3" or "0,2-3" and
// returns one past the largest node id named (4 for both examples),
// which is the node count when the ids are contiguous.
func parseNodeRange(in untrust.Input) (int, bool) {
	r := untrust.NewReader(in)
	var ids []int

	for !r.AtEnd() {
		tok, err := readToken(r, ',')
		if err != nil {
			return 0, false
		}
		lo, hi, ok := splitRange(tok)
		if !ok {
			return 0, false
		}
		ids = append(ids, lo, hi)
	}
	if len(ids) == 0 {
		return 0, false
	}

	sort.Ints(ids)
	return ids[len(ids)-1] + 1, true
}

func readToken(r *untrust.Reader, sep byte) (untrust.Input, error) {
	start := r.Clone()
	n := 0
	for !r.AtEnd() && !r.Peek(sep) {
		if _, err := r.ReadByte(); err != nil {
			return nil, err
		}
		n++
	}
	if !r.AtEnd() {
		_ = r.Skip(1)
	}
	return start.ReadBytes(n)
}

func splitRange(tok untrust.Input) (lo, hi int, ok bool) {
	s := string(tok.AsSliceLessSafe())
	if i := indexByte(s, '-'); i >= 0 {
		a, err1 := strconv.Atoi(s[:i])
		b, err2 := strconv.Atoi(s[i+1:])
		if err1 != nil || err2 != nil {
			return 0, 0, false
		}
		return a, b, true
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, 0, false
	}
	return v, v, true
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func (OS) ClockNowMS() int64 { return time.Now().UnixMilli() }

// AllocHugeOSPages attempts a single huge-page-backed mapping of size
// bytes within timeoutMS. The sticky failure-suppression counter of
// spec §7 (HugePageUnavailable, N=8) is arena-package state
// (Registry.hugePageFailures), not this primitive's — a stateless OS
// seam is easier to reason about and to fake in tests than one with its
// own hidden retry memory.
func (o OS) AllocHugeOSPages(size int64, numaNode int, _ int64) (xunsafe.Addr[byte], int64, bool) {
	ptr, _, _, ok := o.AllocAlignedAtOffset(size, 1<<30, 0, true, true)
	if !ok {
		return 0, 0, false
	}
	if numaNode >= 0 {
		_ = bindNUMA(ptr, size, numaNode)
	}
	return ptr, size, true
}

func bindNUMA(ptr xunsafe.Addr[byte], size int64, node int) error {
	mask := uint64(1) << uint(node)
	_, _, errno := unix.Syscall6(unix.SYS_MBIND, uintptr(ptr), uintptr(size),
		2 /* MPOL_BIND */, uintptr(unsafe.Pointer(&mask)), 64, 0)
	if errno != 0 {
		return fmt.Errorf("mbind: %w", errno)
	}
	return nil
}

func addrToSlice(ptr xunsafe.Addr[byte], size int64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), int(size))
}
