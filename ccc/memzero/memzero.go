// Package memzero wipes sensitive byte slices such as KDF output and private
// scalars once they are no longer needed. Wiping is best-effort: the Go runtime
// may already have copied the data elsewhere.
package memzero

import (
	"crypto/subtle"
	"runtime"
)

// Zero overwrites b with zeros.
//
//go:noinline
func Zero(b []byte) {
	if len(b) == 0 {
		return
	}
	zero := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zero)
	runtime.KeepAlive(&b)
}
