package task

import (
	"fmt"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"
)

// TestThreadFairness mirrors spec.md §8 end-to-end scenario 1: three
// equal-priority threads each append their name to a shared,
// mutex-protected string 100 times; afterward every name appears
// exactly 100 times and the result is 300 characters long.
//
// errgroup.Group fans the fleet out and joins it, the same
// spawn-then-Wait shape node_parallel_lookup_test.go uses in the
// teacher repo for parallel lookups (SPEC_FULL.md domain stack).
func TestThreadFairness(t *testing.T) {
	s := New()
	s.Start()

	var mu sync.Mutex
	var out []byte

	names := []byte{'a', 'b', 'c'}
	var eg errgroup.Group
	for _, n := range names {
		n := n
		eg.Go(func() error {
			done := make(chan struct{})
			s.Spawn(string(n), 3, func(self *TCB) {
				defer close(done)
				for i := 0; i < 100; i++ {
					mu.Lock()
					out = append(out, n)
					mu.Unlock()
					s.Yield(self)
				}
			})
			<-done
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatalf("errgroup: %v", err)
	}

	if len(out) != 300 {
		t.Fatalf("expected 300 appends, got %d", len(out))
	}
	counts := map[byte]int{}
	for _, b := range out {
		counts[b]++
	}
	for _, n := range names {
		if counts[n] != 100 {
			t.Fatalf("thread %q appended %d times, want 100", n, counts[n])
		}
	}
}

// TestPIDAllocationMonotonic exercises alloc_pid: PIDs never repeat and
// strictly increase across spawns (spec.md §4.2).
func TestPIDAllocationMonotonic(t *testing.T) {
	s := New()
	s.Start()

	last := s.idle.PID
	for i := 0; i < 5; i++ {
		done := make(chan struct{})
		tk := s.Spawn(fmt.Sprintf("t%d", i), 1, func(self *TCB) {
			close(done)
		})
		<-done
		if tk.PID <= last {
			t.Fatalf("PID %d did not increase past previous %d", tk.PID, last)
		}
		last = tk.PID
	}
}

// TestSentinelVerifyPanics exercises the stack-overflow sentinel check
// (spec.md §3, §7): corruption of the magic value is detected at the
// next verify() call (invoked internally by every suspension point) and
// is a fatal panic, never a recoverable error.
func TestSentinelVerifyPanics(t *testing.T) {
	tcb := newTCB("probe", 1, func(*TCB) {})
	tcb.verify() // untouched sentinel must not panic

	tcb.magic = 0xDEAD
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on corrupted stack sentinel")
		}
	}()
	tcb.verify()
}

// TestSleepWakesAfterTicks exercises sys_milisleep/sys_sleep (spec.md
// §4.2): a sleeping task is returned to ready only once its requested
// tick count has elapsed.
func TestSleepWakesAfterTicks(t *testing.T) {
	s := New()
	s.Start()

	woke := make(chan struct{})
	s.Spawn("sleeper", 1, func(self *TCB) {
		s.Sleep(self, 3)
		close(woke)
	})

	for i := 0; i < 3; i++ {
		s.advanceClock()
	}
	<-woke
}
