//go:build go1.20

package xunsafe_test

import (
	"fmt"
	"testing"
	"unsafe"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/flier/arenafly/pkg/xunsafe"
)

func TestAddr(t *testing.T) {
	Convey("Given address operations", t, func() {
		Convey("When getting address of various types", func() {
			Convey("And getting address of int", func() {
				i := 42
				addr := xunsafe.AddrOf(&i)
				So(uintptr(addr), ShouldEqual, uintptr(unsafe.Pointer(&i)))
			})

			Convey("And getting address of struct", func() {
				type TestStruct struct {
					ID   int
					Name string
				}
				ts := TestStruct{ID: 1, Name: "test"}
				addrStruct := xunsafe.AddrOf(&ts)
				So(uintptr(addrStruct), ShouldEqual, uintptr(unsafe.Pointer(&ts)))
			})
		})

		Convey("When performing address arithmetic", func() {
			Convey("Given an array and base address", func() {
				arr := [5]int{1, 2, 3, 4, 5}
				baseAddr := xunsafe.AddrOf(unsafe.SliceData(arr[:]))

				Convey("And adding offset to get address of arr[2]", func() {
					addr2 := baseAddr.Add(2)
					So(addr2, ShouldEqual, baseAddr.ByteAdd(2*int(unsafe.Sizeof(int(0)))))
				})

				Convey("And subtracting addresses", func() {
					addr4 := baseAddr.Add(4)
					addr2 := baseAddr.Add(2)
					diff := addr4.Sub(addr2)
					So(diff, ShouldEqual, 2)
				})

				Convey("And subtracting same address", func() {
					addr2 := baseAddr.Add(2)
					sameDiff := addr2.Sub(addr2)
					So(sameDiff, ShouldEqual, 0)
				})
			})
		})

		Convey("When calculating padding", func() {
			addr := xunsafe.Addr[int](8)

			Convey("And calculating padding for 8-byte alignment", func() {
				So(addr.Padding(8), ShouldEqual, 0)
			})

			Convey("And calculating padding for 16-byte alignment", func() {
				So(addr.Padding(16), ShouldEqual, 8)
			})
		})

		Convey("When rounding addresses", func() {
			addr := xunsafe.Addr[int](9)

			Convey("And rounding up to 8-byte alignment", func() {
				So(addr.RoundUpTo(8), ShouldEqual, xunsafe.Addr[int](16))
			})

			Convey("And rounding up to 16-byte alignment", func() {
				So(addr.RoundUpTo(16), ShouldEqual, xunsafe.Addr[int](16))
			})
		})

		Convey("When formatting addresses", func() {
			Convey("And formatting with %v", func() {
				addr := xunsafe.Addr[int](0x12345678)
				So(fmt.Sprintf("%v", addr), ShouldContainSubstring, "0x12345678")
			})

			Convey("And formatting zero address", func() {
				zeroAddr := xunsafe.Addr[int](0)
				So(fmt.Sprintf("%v", zeroAddr), ShouldContainSubstring, "0x0")
			})
		})
	})
}
