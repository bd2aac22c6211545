package opt_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	. "github.com/flier/arenafly/pkg/opt"
)

func TestOption(t *testing.T) {
	Convey("Given a new option", t, func() {
		some := Some(123)

		Convey("It should have some value", func() {
			So(some.IsSome(), ShouldBeTrue)
			So(some.IsNone(), ShouldBeFalse)
			So(some.String(), ShouldEqual, "Some(123)")
			So(some.Unwrap(), ShouldEqual, 123)
		})

		none := None[int]()

		Convey("It should have no value", func() {
			So(none.IsSome(), ShouldBeFalse)
			So(none.IsNone(), ShouldBeTrue)
			So(none.String(), ShouldEqual, "None")
			So(func() { none.Unwrap() }, ShouldPanic)
		})
	})
}
