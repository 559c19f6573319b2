package crypto

import "testing"

func TestBytesToHashPadsAndTruncates(t *testing.T) {
	h := BytesToHash([]byte{1, 2, 3})
	if h[HashLength-1] != 3 || h[HashLength-2] != 2 || h[HashLength-3] != 1 {
		t.Fatalf("expected right-aligned bytes, got %x", h)
	}

	long := make([]byte, HashLength+4)
	for i := range long {
		long[i] = byte(i)
	}
	h2 := BytesToHash(long)
	if h2.Bytes()[0] != long[4] {
		t.Fatalf("expected truncation from the left")
	}
}

func TestHIsDeterministicAndPositional(t *testing.T) {
	a, b := []byte("a"), []byte("b")
	h1 := H(a, b)
	h2 := H(a, b)
	if h1 != h2 {
		t.Fatalf("H must be deterministic")
	}
	if H(a, b) == H(b, a) {
		t.Fatalf("H must not be symmetric in general")
	}
}

func TestZeroHash(t *testing.T) {
	var h Hash
	if !h.IsZero() {
		t.Fatalf("zero value must report IsZero")
	}
	if H(nil, nil).IsZero() {
		t.Fatalf("H(nil,nil) is extremely unlikely to be zero")
	}
}
