package bitmap

import "testing"

func TestScanFindsRunAndSetRestoresOnClear(t *testing.T) {
	b := New(64)

	start := b.ScanAndSet(5)
	if start != 0 {
		t.Fatalf("expected first scan to start at 0, got %d", start)
	}
	for i := 0; i < 5; i++ {
		if !b.Test(i) {
			t.Fatalf("bit %d should be set", i)
		}
	}

	// Property 1 from spec.md §8: alloc then free restores the bitmap
	// to its pre-allocation pattern byte-for-byte.
	before := append([]byte(nil), b.Bytes()...)
	b.SetRange(10, 3)
	b.ClearRange(10, 3)
	after := b.Bytes()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("byte %d: before %08b after %08b", i, before[i], after[i])
		}
	}
}

func TestScanSkipsAllocatedBytes(t *testing.T) {
	b := New(32)
	b.SetRange(0, 16)

	start := b.Scan(4)
	if start != 16 {
		t.Fatalf("expected scan to resume after full bytes, got %d", start)
	}
}

func TestScanFailsWhenNoRoom(t *testing.T) {
	b := New(8)
	b.SetRange(0, 6)

	if got := b.Scan(4); got != -1 {
		t.Fatalf("expected -1 for an impossible run, got %d", got)
	}
	if got := b.Scan(2); got != 6 {
		t.Fatalf("expected the 2-bit gap at 6, got %d", got)
	}
}

func TestClearRangeIsIdempotent(t *testing.T) {
	b := New(16)
	b.SetRange(0, 16)
	b.ClearRange(0, 16)
	b.ClearRange(0, 16)
	if got := b.Scan(16); got != 0 {
		t.Fatalf("expected whole bitmap free again, got start %d", got)
	}
}
