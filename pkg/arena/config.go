package arena

import (
	"flag"
	"strconv"
	"sync"
)

// CommitEagerness controls how aggressively [Registry.reserveNewArena]
// commits a freshly reserved arena's pages up front.
type CommitEagerness int

const (
	// CommitNever never eagerly commits a new arena.
	CommitNever CommitEagerness = iota
	// CommitAlways always eagerly commits a new arena.
	CommitAlways
	// CommitIfOvercommit eagerly commits only when the OS primitive
	// interface reports overcommit is available.
	CommitIfOvercommit
)

// Config holds the process-wide tunables recognized by the arena core.
// The zero Config is not valid; use [DefaultConfig].
type Config struct {
	// ArenaReserve is the default size, in bytes, of a freshly reserved
	// arena before the exponential scaling rule in reserveNewArena applies.
	ArenaReserve int64

	// ArenaEagerCommit controls commit eagerness for freshly reserved
	// arenas.
	ArenaEagerCommit CommitEagerness

	// PurgeDelayMS is the base deferred-purge delay, in milliseconds.
	// Negative disables purging entirely; zero purges immediately on free.
	PurgeDelayMS int64

	// ArenaPurgeMult multiplies PurgeDelayMS for whole-arena purges (as
	// opposed to per-segment purges, which are out of scope here but the
	// multiplier is still honored by [Free]).
	ArenaPurgeMult int64

	// PurgeDecommits selects the purge policy: true decommits (MADV_DONTNEED
	// style, immediate RSS reduction, needs re-commit before reuse), false
	// resets (MADV_FREE style, lazy, no re-commit required).
	PurgeDecommits bool

	// AllowLargeOSPages permits arenas to be reserved with large/huge OS
	// pages when the primitive interface supports it.
	AllowLargeOSPages bool

	// DisallowArenaAlloc forces every allocation straight to the OS,
	// bypassing the arena pool entirely.
	DisallowArenaAlloc bool

	// DisallowOSAlloc forbids the direct-OS fallback path: if no arena can
	// serve a request, the allocation fails rather than falling back.
	DisallowOSAlloc bool

	// DestroyOnExit enables [Registry.UnsafeDestroyAll] to run automatically
	// on library unload. The core never calls this itself; it is read by
	// embedders that wire their own exit hook.
	DestroyOnExit bool

	// Secure gates when freed arena pages are additionally marked
	// inaccessible (PROT_NONE) rather than merely scheduled for purge.
	// Secure >= 2 enables it.
	Secure int

	// MaxTotalReserve caps the sum of all arena reservations, in bytes.
	// Zero means unbounded (see DESIGN.md, Open Question).
	MaxTotalReserve int64
}

// DefaultConfig returns the arena core's default tunables: eager commit
// only when the OS reports overcommit, a 10 second base purge delay,
// decommit-on-purge, and both allocation paths enabled.
func DefaultConfig() Config {
	return Config{
		ArenaReserve:      1 << 30, // 1 GiB
		ArenaEagerCommit:  CommitIfOvercommit,
		PurgeDelayMS:      10_000,
		ArenaPurgeMult:    10,
		PurgeDecommits:    true,
		AllowLargeOSPages: false,
		Secure:            0,
		MaxTotalReserve:   0,
	}
}

// Flags for the command-line demo (cmd/arenastat): process flags bound
// directly into a Config, without an init func.
//
// flagFunc registers a flag.Func callback that parses into a freshly
// allocated *T and returns that pointer, so the flag var is
// self-contained instead of needing a package-level zero value plus a
// separate Set call. Inlined here rather than kept as its own package
// since these three flags are its only call site.
func flagFunc[T any](name, usage string, parse func(string) (T, error)) *T {
	v := new(T)
	flag.Func(name, usage, func(s string) (err error) {
		*v, err = parse(s)
		return err
	})
	return v
}

var (
	flagArenaReserve = flagFunc("arena-reserve", "default arena reservation size in bytes", parseInt64)
	flagPurgeDelayMS = flagFunc("purge-delay-ms", "deferred purge delay in milliseconds (<0 disables)", parseInt64)
	flagSecure       = flagFunc("secure", "secure level (>=2 marks freed arena pages PROT_NONE)", parseInt)
)

func parseInt64(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }
func parseInt(s string) (int, error)     { v, err := strconv.Atoi(s); return v, err }

// parsedFlags reports which flags were explicitly set on the command
// line, computed once on first use (flag.Parse must have already run).
var parsedFlags = sync.OnceValue(func() map[string]struct{} {
	m := make(map[string]struct{})
	flag.Visit(func(f *flag.Flag) { m[f.Name] = struct{}{} })
	return m
})

func flagParsed(name string) bool {
	if !flag.Parsed() {
		return false
	}
	_, ok := parsedFlags()[name]
	return ok
}

// ConfigFromFlags builds a Config from [DefaultConfig] overridden by any
// of the flags above that were explicitly parsed on the command line.
func ConfigFromFlags() Config {
	cfg := DefaultConfig()
	if flagParsed("arena-reserve") {
		cfg.ArenaReserve = *flagArenaReserve
	}
	if flagParsed("purge-delay-ms") {
		cfg.PurgeDelayMS = *flagPurgeDelayMS
	}
	if flagParsed("secure") {
		cfg.Secure = *flagSecure
	}
	return cfg
}
