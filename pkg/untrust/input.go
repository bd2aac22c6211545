// Package untrust provides a panic-free cursor for parsing externally
// supplied byte buffers, the way [pkg/osprim/unix] parses sysfs text.
//
// This is a deliberately small vendoring of the teacher's pkg/untrust:
// the NUMA sysfs parser this subsystem uses only ever constructs an
// Input, reads it byte-at-a-time or token-at-a-time through a Reader,
// and takes the result back out as a slice, so Input.Empty/Len/Clone,
// Reader.ReadBytesToEnd/SkipToEnd, and the ReadAll/ReadAllOptional/
// ReadPartial helpers are dropped.
package untrust

// Input is a wrapper around []byte that helps in writing panic-free code.
type Input []byte

// AsSliceLessSafe accesses the input as a slice so it can be processed
// by functions that are not written using the Input/Reader framework.
func (i Input) AsSliceLessSafe() []byte { return i }
