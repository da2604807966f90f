package lease

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTryAcquireRelease(t *testing.T) {
	tr := NewTracker()

	if !tr.TryAcquire("/profiles/a") {
		t.Fatal("first acquire should succeed")
	}
	if tr.TryAcquire("/profiles/a") {
		t.Fatal("second acquire of a held key should fail")
	}
	if !tr.TryAcquire("/profiles/b") {
		t.Fatal("acquire of a different key should succeed")
	}
	if !tr.Held("/profiles/a") || tr.Len() != 2 {
		t.Errorf("expected 2 held leases, got %d", tr.Len())
	}

	tr.Release("/profiles/a")
	if tr.Held("/profiles/a") {
		t.Error("released key still held")
	}
	if !tr.TryAcquire("/profiles/a") {
		t.Error("acquire after release should succeed")
	}
}

func TestReleaseIdempotent(t *testing.T) {
	tr := NewTracker()
	tr.Release("/never/held")

	tr.TryAcquire("/p")
	tr.Release("/p")
	tr.Release("/p")

	if tr.Len() != 0 {
		t.Errorf("expected no held leases, got %d", tr.Len())
	}
}

func TestSnapshotSorted(t *testing.T) {
	tr := NewTracker()
	for _, k := range []string{"c", "a", "b"} {
		tr.TryAcquire(k)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, tr.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentAcquireExactlyOneWins(t *testing.T) {
	keys := []string{"/p/0", "/p/1", "/p/2", "/p/3"}

	for round := 0; round < 50; round++ {
		tr := NewTracker()
		wins := make([]atomic.Int32, len(keys))

		var wg sync.WaitGroup
		start := make(chan struct{})
		for g := 0; g < 32; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				<-start
				i := g % len(keys)
				if tr.TryAcquire(keys[i]) {
					wins[i].Add(1)
				}
			}(g)
		}
		close(start)
		wg.Wait()

		for i := range keys {
			if got := wins[i].Load(); got != 1 {
				t.Fatalf("round %d: key %s acquired %d times, want exactly 1", round, keys[i], got)
			}
		}
	}
}
