package backends

import "unsafe"

// AsBytes reinterprets a flat slice of a fixed-size numeric type as its raw bytes.
// The returned slice aliases flat; it becomes invalid if flat is garbage collected.
func AsBytes[T any](flat []T) []byte {
	if len(flat) == 0 {
		return nil
	}
	var t T
	return unsafe.Slice((*byte)(unsafe.Pointer(&flat[0])), len(flat)*int(unsafe.Sizeof(t)))
}

// AsSlice reinterprets raw bytes as a flat slice of a fixed-size numeric type.
// The byte length must be a multiple of the element size.
func AsSlice[T any](raw []byte) []T {
	if len(raw) == 0 {
		return nil
	}
	var t T
	return unsafe.Slice((*T)(unsafe.Pointer(&raw[0])), len(raw)/int(unsafe.Sizeof(t)))
}
