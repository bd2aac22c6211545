//go:build go1.23

package iterhelpers_test

import (
	"fmt"
	"slices"
	"testing"

	. "github.com/flier/arenafly/internal/iterhelpers"
)

func ExampleRange() {
	s := Range(1, 5)
	fmt.Println(slices.Collect(s))

	// Output:
	// [1 2 3 4]
}

func TestMapFilterFold(t *testing.T) {
	s := Range(0, 6)
	doubled := Map(s, func(n int) int { return n * 2 })
	even := Filter(doubled, func(n int) bool { return n%4 == 0 })
	sum := Fold(even, 0, func(acc, n int) int { return acc + n })

	if got, want := slices.Collect(even), []int{0, 4, 8}; !slices.Equal(got, want) {
		t.Fatalf("Filter(Map(Range)) = %v, want %v", got, want)
	}
	if sum != 12 {
		t.Fatalf("Fold = %d, want 12", sum)
	}
}
