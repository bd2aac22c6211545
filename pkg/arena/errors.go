package arena

import (
	"errors"
	"fmt"

	"github.com/flier/arenafly/pkg/xerrors"
)

// The arena subsystem's error taxonomy. It never panics and never
// aborts the process on any of these; they are logged through
// [github.com/flier/arenafly/internal/debug.Log] as warnings and the
// caller observes a null pointer, a false boolean, or (for tests) one of
// these sentinels via [github.com/flier/arenafly/pkg/xerrors.AsA].

// ErrOutOfMemory is reported when no arena could serve a request and the
// OS fallback also failed (or is disallowed).
var ErrOutOfMemory = errors.New("arena: out of memory")

// ErrTimeoutExpired names the TimeoutExpired taxonomy member for
// [Classify]. No operation in this package returns it: a huge-page
// reservation cut short by its deadline returns Ok with fewer bytes than
// requested (see [Registry.ReserveHugeOSPagesAt]).
var ErrTimeoutExpired = errors.New("arena: huge page reservation timed out")

// ErrHugePageUnavailable is reported when the OS primitive cannot provide
// a huge-page reservation, or when the sticky failure counter suppresses
// the request. No ordinary-page reservation is made in its place.
var ErrHugePageUnavailable = errors.New("arena: huge pages unavailable")

// InvalidArenaError is reported by [Free] when a MemID names an arena
// index or bit index outside the registry's current bounds.
type InvalidArenaError struct {
	ArenaIndex int
	BitIndex   int
	Reason     string
}

func (e *InvalidArenaError) Error() string {
	return fmt.Sprintf("arena: invalid memid {arena:%d, bit:%d}: %s", e.ArenaIndex, e.BitIndex, e.Reason)
}

// DoubleFreeError is reported by [Free] when unclaiming the inuse bitmap
// over a range observes that some bit in the range was already clear.
type DoubleFreeError struct {
	Block Block
}

func (e *DoubleFreeError) Error() string {
	return fmt.Sprintf("arena: double free of %s", e.Block)
}

// Classify reports which named taxonomy bucket err falls into, using
// [xerrors.AsA] instead of a chain of type switches. Callers that only
// care about the sentinel errors (ErrOutOfMemory, ErrTimeoutExpired,
// ErrHugePageUnavailable) can compare those directly; Classify exists
// for callers (e.g. cmd/arenastat) that want a single switch over every
// taxonomy member including the two typed errors.
func Classify(err error) (kind string, ok bool) {
	switch {
	case errors.Is(err, ErrOutOfMemory):
		return "OutOfMemory", true
	case errors.Is(err, ErrTimeoutExpired):
		return "TimeoutExpired", true
	case errors.Is(err, ErrHugePageUnavailable):
		return "HugePageUnavailable", true
	}

	if _, ok := xerrors.AsA[*InvalidArenaError](err); ok {
		return "InvalidArena", true
	}
	if _, ok := xerrors.AsA[*DoubleFreeError](err); ok {
		return "DoubleFree", true
	}

	return "", false
}
