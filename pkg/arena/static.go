package arena

import (
	"sync/atomic"
	"unsafe"

	"github.com/flier/arenafly/internal/debug"
	"github.com/flier/arenafly/pkg/xunsafe"
)

// staticMetaArenaSize is the capacity, in bytes, of the static
// meta-arena that backs the first registered arena's bitmap words;
// bitmaps that do not fit fall back to the Go heap.
const staticMetaArenaSize = 20 * 1024

// metaArena is a bump-pointer allocator over a single fixed-size
// buffer, used to allocate the bitmap words of the first arena's
// descriptor so that reserving the very first arena never has to
// recurse into the OS primitive interface for its own bookkeeping
// memory. The Descriptor structs themselves live on the Go heap.
//
// Unlike a general-purpose growable-region bump allocator, this one has
// a single fixed-capacity buffer with no further growth: once
// exhausted, callers (newDescriptor's newBitmap closure) fall back to
// the ordinary Go heap via [bitmap.New] instead. There is nothing for
// the Go garbage collector to trace here — bitmap words are plain
// scalar data, not Go pointers — so this carries no GC shape metadata.
type metaArena struct {
	buf [staticMetaArenaSize]byte
	top atomic.Uint64
}

// alloc bump-allocates n bytes aligned to align (a power of two) from the
// static buffer. It reports ok=false if the buffer is exhausted, in which
// case the caller falls back to the Go heap.
func (m *metaArena) alloc(n, align int) (xunsafe.Addr[byte], bool) {
	base := xunsafe.AddrOf(&m.buf[0])

	for {
		cur := m.top.Load()
		start := base.Add(int(cur)).RoundUpTo(align).Sub(base)
		end := start + n
		if end > len(m.buf) {
			return 0, false
		}

		if m.top.CompareAndSwap(cur, uint64(end)) {
			debug.Log(nil, "arena.static.alloc", "bump [%d, %d) of %d", start, end, len(m.buf))
			return base.Add(start), true
		}
	}
}

// used reports how many bytes of the static buffer have been claimed; it
// is relaxed and intended for diagnostics only.
func (m *metaArena) used() int { return int(m.top.Load()) }

// allocWords bump-allocates storage for n atomic.Uint64 words from the
// static buffer, for use as a [bitmap.Bitmap]'s backing store via
// [bitmap.Wrap]. atomic.Uint64 holds no pointers, so placing it inside
// the static buffer's plain byte array is safe for the garbage
// collector: unlike a *Descriptor (which holds pointer fields and must
// always live on the regular Go heap), bitmap words are scalar data the
// collector never needs to trace through this buffer.
func (m *metaArena) allocWords(n int) ([]atomic.Uint64, bool) {
	const wordSize = 8
	addr, ok := m.alloc(n*wordSize, wordSize)
	if !ok {
		return nil, false
	}
	return unsafe.Slice((*atomic.Uint64)(unsafe.Pointer(uintptr(addr))), n), true
}
