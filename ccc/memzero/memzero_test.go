package memzero

import "testing"

func TestZero(t *testing.T) {
	b := []byte{1, 2, 3, 4, 5}
	Zero(b)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d not wiped: %d", i, v)
		}
	}

	// empty and nil slices are no-ops
	Zero(nil)
	Zero([]byte{})
}
