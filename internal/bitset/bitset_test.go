package bitset

import (
	"sync"
	"testing"
)

func TestClaimAcrossSingleField(t *testing.T) {
	b := New(128)
	at, ok := b.TryFindAndClaimAcross(10, 0)
	if !ok || at != 0 {
		t.Fatalf("expected claim at 0, got %v %v", at, ok)
	}
	if !b.IsClaimedAcross(10, 0) {
		t.Fatalf("expected bits 0..10 claimed")
	}
	if b.IsSet(10) {
		t.Fatalf("bit 10 should still be clear")
	}
}

func TestClaimAcrossWordBoundary(t *testing.T) {
	b := New(128)
	if !b.ClaimAcross(8, 60) {
		t.Fatalf("expected straddling claim to succeed")
	}
	for i := int64(60); i < 68; i++ {
		if !b.IsSet(i) {
			t.Fatalf("bit %v should be set", i)
		}
	}
	if b.IsSet(59) || b.IsSet(68) {
		t.Fatalf("claim leaked outside its span")
	}
}

func TestClaimAcrossConflictRollsBack(t *testing.T) {
	b := New(128)
	if !b.ClaimAcross(4, 62) {
		t.Fatalf("setup claim failed")
	}
	if b.ClaimAcross(8, 60) {
		t.Fatalf("overlapping claim should fail")
	}
	// Bits 60,61 must not have been left claimed by the rolled-back attempt.
	if b.IsSet(60) || b.IsSet(61) {
		t.Fatalf("failed claim leaked a partial reservation")
	}
}

func TestUnclaimAcross(t *testing.T) {
	b := New(64)
	b.ClaimAcross(16, 8)
	b.UnclaimAcross(16, 8)
	if b.IsClaimedAcross(16, 8) {
		t.Fatalf("expected bits to be cleared")
	}
}

func TestTryFindAndClaimAcrossExhaustion(t *testing.T) {
	b := New(16)
	for i := 0; i < 16; i += 4 {
		if _, ok := b.TryFindAndClaimAcross(4, 0); !ok {
			t.Fatalf("expected claim %d to succeed", i)
		}
	}
	if _, ok := b.TryFindAndClaimAcross(1, 0); ok {
		t.Fatalf("expected bitmap to be fully claimed")
	}
}

func TestPopCount(t *testing.T) {
	b := New(200)
	b.SetAcross(1, 0)
	b.SetAcross(1, 63)
	b.SetAcross(1, 64)
	b.SetAcross(1, 199)
	if n := b.PopCount(); n != 4 {
		t.Fatalf("expected 4, got %v", n)
	}
}

func TestClaimAcrossConcurrentNoDoubleClaim(t *testing.T) {
	b := New(4096)
	var wg sync.WaitGroup
	claims := make(chan int64, 4096/8)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 32; i++ {
				if at, ok := b.TryFindAndClaimAcross(8, int64(i)); ok {
					claims <- at
				}
			}
		}()
	}
	wg.Wait()
	close(claims)
	seen := make(map[int64]bool)
	for at := range claims {
		for i := int64(0); i < 8; i++ {
			if seen[at+i] {
				t.Fatalf("bit %v claimed twice", at+i)
			}
			seen[at+i] = true
		}
	}
}
