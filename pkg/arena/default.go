package arena

import (
	"sync"

	"github.com/flier/arenafly/pkg/opt"
	"github.com/flier/arenafly/pkg/xunsafe"
)

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide [Registry] the package-level
// convenience wrappers below operate on. It is built lazily, over the
// platform's real [osprim.Primitives] implementation (osprim/unix on
// linux, osprim/simos elsewhere — see default_linux.go/default_other.go)
// and [DefaultConfig]. Tests should construct their own [Registry] via
// [NewRegistry] instead of touching this one.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultReg = NewRegistry(defaultPrimitives(), DefaultConfig())
		defaultReg.MarkInitDone()
	})
	return defaultReg
}

// NewDefaultRegistry builds a fresh [Registry] over the platform's real
// [osprim.Primitives] implementation (the same choice [Default] makes)
// but with a caller-supplied [Config] instead of [DefaultConfig] — for
// embedders such as cmd/arenastat that want real OS primitives driven by
// [ConfigFromFlags] rather than the package-level singleton.
func NewDefaultRegistry(cfg Config) *Registry {
	r := NewRegistry(defaultPrimitives(), cfg)
	r.MarkInitDone()
	return r
}

// AllocAligned, Free and the rest of the package-level functions below
// are thin wrappers over Default(), giving embedders a free-function
// surface when they don't need an isolated Registry.

func AllocAligned(size, align int64, commit, allowLarge bool, reqArenaID opt.Option[int], numaNode int) opt.Option[Alloc] {
	return Default().AllocAligned(size, align, commit, allowLarge, reqArenaID, numaNode)
}

func Free(ptr xunsafe.Addr[byte], size, committedSize int64, memid MemID) {
	Default().Free(ptr, size, committedSize, memid)
}

func CollectGarbage(force bool) bool { return Default().CollectGarbage(force) }
