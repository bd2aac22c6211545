package res_test

import (
	"io"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	. "github.com/flier/arenafly/pkg/res"
)

func TestResult(t *testing.T) {
	Convey("Given a new result", t, func() {
		ok := Ok(123)

		Convey("It should be ok", func() {
			So(ok.IsOk(), ShouldBeTrue)
			So(ok.IsErr(), ShouldBeFalse)
			So(ok.String(), ShouldEqual, "Ok(123)")
			So(ok.Unwrap(), ShouldEqual, 123)
			So(func() { _ = ok.UnwrapErr() }, ShouldPanic)
		})

		err := Err[int](io.EOF)

		Convey("It should be err", func() {
			So(err.IsOk(), ShouldBeFalse)
			So(err.IsErr(), ShouldBeTrue)
			So(err.String(), ShouldEqual, "Err(EOF)")
			So(func() { err.Unwrap() }, ShouldPanic)
			So(err.UnwrapErr(), ShouldEqual, io.EOF)
		})
	})
}
