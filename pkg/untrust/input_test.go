//go:build go1.20

package untrust_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/flier/arenafly/pkg/untrust"
)

func TestInput(t *testing.T) {
	Convey("Given some input", t, func() {
		Convey("When input has content", func() {
			foo := untrust.Input([]byte("foo"))
			So(foo.AsSliceLessSafe(), ShouldResemble, []byte("foo"))
		})

		Convey("When input is nil", func() {
			var nilInput untrust.Input
			So(nilInput.AsSliceLessSafe(), ShouldBeNil)
		})
	})
}

func TestReadBytes(t *testing.T) {
	Convey("Given some input", t, func() {
		input := untrust.Input([]byte("foo"))
		r := untrust.NewReader(input)

		Convey("Then read bytes", func() {
			buf, err := r.ReadBytes(2)
			So(err, ShouldBeNil)
			So(string(buf.AsSliceLessSafe()), ShouldEqual, "fo")

			So(r.Skip(1), ShouldBeNil)
			So(r.AtEnd(), ShouldBeTrue)
		})

		Convey("Then read too many bytes", func() {
			_, err := r.ReadBytes(12)
			So(err, ShouldWrap, untrust.ErrEndOfInput)
		})

		Convey("Then read negative bytes", func() {
			_, err := r.ReadBytes(-1)
			So(err, ShouldWrap, untrust.ErrEndOfInput)
		})

		Convey("Then clone and read independently", func() {
			b, err := r.ReadByte()
			So(err, ShouldBeNil)
			So(b, ShouldEqual, 'f')

			cr := r.Clone()
			rest, err := cr.ReadBytes(2)
			So(err, ShouldBeNil)
			So(string(rest.AsSliceLessSafe()), ShouldEqual, "oo")
			So(cr.AtEnd(), ShouldBeTrue)

			So(r.AtEnd(), ShouldBeFalse)
		})
	})
}
