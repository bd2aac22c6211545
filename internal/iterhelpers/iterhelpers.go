//go:build go1.23

// Package iterhelpers provides the handful of iter.Seq combinators the
// arena registry's stats walk needs.
//
// This is a deliberately small vendoring of the teacher's pkg/xiter,
// which carries several dozen combinators (Map2, FlatMap, MapWhile,
// Filter2, ...) over both iter.Seq and iter.Seq2: [Registry.All] and
// [Registry.Snapshot] only ever range, map, filter and fold a single
// sequence, so those four are all this package keeps.
package iterhelpers

import "iter"

// Integer is any Go integer type, the constraint [Range] needs.
type Integer interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 | ~int | ~uint | ~uintptr
}

// Range returns a sequence of numbers from start (inclusive) to stop (exclusive).
func Range[T Integer](start, stop T) iter.Seq[T] {
	return func(yield func(T) bool) {
		for i := start; i < stop; i++ {
			if !yield(i) {
				break
			}
		}
	}
}

// Map calls f on each element of x, yielding the results.
func Map[T, O any](x iter.Seq[T], f func(T) O) iter.Seq[O] {
	return func(yield func(O) bool) {
		for v := range x {
			if !yield(f(v)) {
				break
			}
		}
	}
}

// Filter yields only the elements of x for which f reports true.
func Filter[T any](x iter.Seq[T], f func(T) bool) iter.Seq[T] {
	return func(yield func(T) bool) {
		for v := range x {
			if !f(v) {
				continue
			}
			if !yield(v) {
				break
			}
		}
	}
}

// Fold folds every element of x into an accumulator via f, returning the final result.
func Fold[T, B any](x iter.Seq[T], init B, f func(B, T) B) B {
	acc := init
	for v := range x {
		acc = f(acc, v)
	}
	return acc
}
