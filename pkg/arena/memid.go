// Package arena implements the arena subsystem of a mimalloc-style
// allocator: a shared, cross-thread, lock-free pool of large OS memory
// regions ("arenas") carved into fixed-size blocks and sub-allocated as
// backing storage for the rest of the allocator.
//
// Only the narrow surface the rest of an allocator would consume is
// exposed: [AllocAligned] and [Free], plus the reservation and
// introspection entrypoints. The per-thread heap and size-class free
// lists are out of scope; this package only hands out and reclaims
// whole blocks.
package arena

import (
	"fmt"

	"github.com/flier/arenafly/pkg/xunsafe"
)

// BlockSize is the fixed size of one arena block, matching the backing
// allocator's segment alignment.
const BlockSize = 64 << 20 // 64 MiB

// MemKind tags the provenance of a [MemID].
type MemKind int

const (
	// MemNone is the sentinel "no memory" kind.
	MemNone MemKind = iota
	// MemArena means the memory was sub-allocated from an [Descriptor].
	MemArena
	// MemOS means the memory was allocated directly from the OS, bypassing
	// the arena pool (fallback path).
	MemOS
	// MemStatic means the memory was bump-allocated from the static
	// meta-arena (see static.go).
	MemStatic
	// MemExternal means the memory is owned by the caller and was merely
	// registered via ManageOSMemory.
	MemExternal
)

func (k MemKind) String() string {
	switch k {
	case MemArena:
		return "Arena"
	case MemOS:
		return "Os"
	case MemStatic:
		return "Static"
	case MemExternal:
		return "External"
	default:
		return "None"
	}
}

// MemID is a tagged record of the provenance of a handed-out allocation,
// returned alongside every pointer from [AllocAligned] and required to
// free it again via [Free].
//
// This is an explicit tagged struct rather than a pointer-stuffed word:
// provenance is a field access away rather than a bit-unpacking
// exercise, and a caller can never construct an ill-typed MemID by
// accident.
type MemID struct {
	Kind MemKind

	// ArenaIndex and BitIndex are valid only when Kind == MemArena: the
	// index of the owning arena in the registry, and the starting bit
	// (block) index within that arena's bitmaps.
	ArenaIndex int
	BitIndex   int

	// Exclusive records whether the owning arena is exclusive (only valid
	// when Kind == MemArena); duplicated from the arena descriptor so a
	// caller can inspect it without a registry lookup.
	Exclusive bool

	// InitiallyZero reports whether the first access of these bytes is
	// guaranteed to observe zero.
	InitiallyZero bool
	// InitiallyCommitted reports whether the backing pages are already
	// resident; a caller must commit before touching the range otherwise.
	InitiallyCommitted bool
	// Pinned reports whether the backing pages can never be decommitted
	// (huge-page-backed arenas).
	Pinned bool
}

// NoneID is the zero MemID: Kind == MemNone.
var NoneID = MemID{Kind: MemNone}

func (m MemID) String() string {
	switch m.Kind {
	case MemArena:
		return fmt.Sprintf("Arena{arena:%d, bit:%d, exclusive:%t}", m.ArenaIndex, m.BitIndex, m.Exclusive)
	case MemOS:
		return fmt.Sprintf("Os{zero:%t, committed:%t}", m.InitiallyZero, m.InitiallyCommitted)
	case MemStatic:
		return "Static{}"
	case MemExternal:
		return "External{}"
	default:
		return "None"
	}
}

// Block identifies a contiguous run of blocks inside one arena: the unit
// the allocation path claims, frees and purges.
type Block struct {
	ArenaIndex int
	BitIndex   int
	Count      int
}

func (b Block) String() string {
	return fmt.Sprintf("Block{arena:%d, bit:%d, n:%d}", b.ArenaIndex, b.BitIndex, b.Count)
}

// Alloc is the successful result of [Registry.AllocAligned]: a pointer and
// the [MemID] describing how to free it again.
type Alloc struct {
	Ptr   xunsafe.Addr[byte]
	MemID MemID
}
