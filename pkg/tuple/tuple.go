// Package tuple provides a pair type.
//
// This is a deliberately small vendoring of the teacher's much larger
// pkg/tuple (which goes up to Tuple7): the arena subsystem only ever
// pairs a NUMA node with a count, so Tuple2 is the only arity kept.
package tuple

import "fmt"

// Tuple2 is a pair of values of possibly different types.
type Tuple2[T0, T1 any] struct {
	V0 T0
	V1 T1
}

// New2 constructs a Tuple2 from its two values.
func New2[T0, T1 any](v0 T0, v1 T1) Tuple2[T0, T1] {
	return Tuple2[T0, T1]{v0, v1}
}

// Unpack returns the tuple's two values.
func (t Tuple2[T0, T1]) Unpack() (T0, T1) { return t.V0, t.V1 }

func (t Tuple2[T0, T1]) String() string { return fmt.Sprintf("(%v, %v)", t.V0, t.V1) }
