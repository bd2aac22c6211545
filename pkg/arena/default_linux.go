//go:build linux

package arena

import (
	"github.com/flier/arenafly/pkg/osprim"
	unixprim "github.com/flier/arenafly/pkg/osprim/unix"
)

func defaultPrimitives() osprim.Primitives { return unixprim.New() }
