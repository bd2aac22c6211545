//go:build !linux

package arena

import (
	"github.com/flier/arenafly/pkg/osprim"
	"github.com/flier/arenafly/pkg/osprim/simos"
)

// defaultPrimitives falls back to the in-process fake on platforms this
// repository has no real OS primitive implementation for; the public
// surface still works end to end, it just never touches real huge
// pages or NUMA affinity off Linux.
func defaultPrimitives() osprim.Primitives { return simos.New() }
