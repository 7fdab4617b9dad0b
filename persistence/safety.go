package persistence

import (
	"fmt"
	"runtime"
	"unsafe"
)

// The index artifact stores float32 payloads as raw little-endian bytes via
// unsafe slice views. Validate the platform once at startup rather than on
// every encode.
func init() {
	arch := runtime.GOARCH
	if arch != "amd64" && arch != "arm64" {
		panic(fmt.Sprintf("persistence: unsupported architecture %s (amd64/arm64 only)", arch))
	}
	if !isLittleEndian() {
		panic("persistence: big-endian systems are not supported")
	}
}

func isLittleEndian() bool {
	var test uint16 = 0x0001
	return *(*byte)(unsafe.Pointer(&test)) == 1
}
