// Package ksync implements the kernel's synchronization primitives: a
// FIFO counting semaphore, a recursive mutex built on top of it, a
// condition variable, and a bounded byte ring buffer built on top of
// those two. All four share the waiter-list discipline described in
// spec.md §3 ("All three use the same waiter-list discipline; waiters
// are PCBs").
//
// Grounded on kernel/sync.c and device/ioqueue.c in the original
// implementation; the sem_wait/sem_post/lock_acquire/lock_release/
// cond_wait/cond_signal algorithms are carried exactly, with the
// original's intr_disable()/intr_set_status() critical sections
// replaced by a plain sync.Mutex guarding each primitive's own state
// (there is only ever one goroutine making scheduling progress at a
// time per task.Scheduler, so this is the same single-CPU mutual
// exclusion the original gets from masking interrupts).
package ksync

import (
	"fmt"
	"sync"

	"github.com/elinor-voss/protokernel/task"
)

// Semaphore is a non-negative counter plus a FIFO waiter list. Grounded
// on sem_t / sem_wait / sem_post in kernel/sync.c.
type Semaphore struct {
	sched *task.Scheduler

	mu      sync.Mutex // stands in for intr_disable/intr_set_status
	value   int
	waiters []*task.TCB
}

// NewSemaphore creates a semaphore with the given initial value.
func NewSemaphore(s *task.Scheduler, value int) *Semaphore {
	if value < 0 {
		panic("ksync: negative initial semaphore value")
	}
	return &Semaphore{sched: s, value: value}
}

// Wait is the atomic P operation: it blocks the calling task until the
// count is positive, then decrements it. The caller is identified via
// the scheduler's notion of the current task, matching the original's
// use of running_thread() instead of an explicit parameter.
func (s *Semaphore) Wait() {
	t := s.sched.Current()
	s.mu.Lock()
	for s.value == 0 {
		s.waiters = append(s.waiters, t)
		s.mu.Unlock()
		s.sched.Block(task.Blocked)
		s.mu.Lock()
	}
	s.value--
	s.mu.Unlock()
}

// Post is the atomic V operation: wake the longest-waiting blocked task
// (if any) and increment the count. Safe to call from a producer
// goroutine that is not itself a scheduled task (e.g. a device ISR),
// since it never blocks.
func (s *Semaphore) Post() {
	s.mu.Lock()
	if len(s.waiters) > 0 {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.sched.Unblock(w)
	}
	s.value++
	s.mu.Unlock()
}

// Value reports the current count, for tests and debug tooling only.
func (s *Semaphore) Value() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Mutex is a recursive lock built on a semaphore initialized to 1, plus
// a holder pointer and a reentrancy counter. Grounded on lock_t /
// lock_acquire / lock_release in kernel/sync.c.
type Mutex struct {
	sched *task.Scheduler
	sem   *Semaphore

	mu      sync.Mutex
	holder  *task.TCB
	repeats int
}

// NewMutex creates an unheld recursive mutex.
func NewMutex(s *task.Scheduler) *Mutex {
	return &Mutex{sched: s, sem: NewSemaphore(s, 1)}
}

// Acquire takes the lock. If the calling task already holds it, it
// just increments the reentrancy count instead of deadlocking on its
// own semaphore wait.
func (m *Mutex) Acquire() {
	t := m.sched.Current()
	m.mu.Lock()
	if m.holder == t {
		m.repeats++
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.sem.Wait()

	m.mu.Lock()
	m.holder = t
	m.repeats = 1
	m.mu.Unlock()
}

// Release gives up one level of the lock. Releasing by a task that is
// not the current holder is a fatal invariant violation (spec.md §4.3).
func (m *Mutex) Release() {
	t := m.sched.Current()
	m.mu.Lock()
	if m.holder != t {
		m.mu.Unlock()
		panic(fmt.Sprintf("ksync: mutex released by non-holder %q", taskName(t)))
	}
	if m.repeats > 1 {
		m.repeats--
		m.mu.Unlock()
		return
	}
	m.holder = nil
	m.repeats = 0
	m.mu.Unlock()

	m.sem.Post()
}

// Holder returns the task currently holding the lock, or nil.
func (m *Mutex) Holder() *task.TCB {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holder
}

func taskName(t *task.TCB) string {
	if t == nil {
		return "<nil>"
	}
	return t.Name
}

// CondVar is a condition variable tied to one mutex, with its own FIFO
// waiter list. Grounded on cond_t / cond_wait / cond_signal (modelled
// in device/ioqueue.c's cond_sender/cond_recver usage).
type CondVar struct {
	sched *task.Scheduler
	mu    *Mutex

	wl      sync.Mutex
	waiters []*task.TCB
}

// NewCondVar creates a condition variable associated with mu. mu must
// be held by every caller of Wait/Signal, exactly as the original
// requires (cond_wait/cond_signal both assume lock_acquire already
// happened).
func NewCondVar(s *task.Scheduler, mu *Mutex) *CondVar {
	return &CondVar{sched: s, mu: mu}
}

// Wait releases the associated mutex, blocks until Signal wakes this
// task, then reacquires the mutex before returning.
func (cv *CondVar) Wait() {
	t := cv.sched.Current()
	cv.wl.Lock()
	cv.waiters = append(cv.waiters, t)
	cv.wl.Unlock()

	cv.mu.Release()
	cv.sched.Block(task.Waiting)
	cv.mu.Acquire()
}

// Signal wakes the longest-waiting task, if any. The caller must hold
// the associated mutex; the woken task re-contends for it inside Wait.
func (cv *CondVar) Signal() {
	cv.wl.Lock()
	var w *task.TCB
	if len(cv.waiters) > 0 {
		w = cv.waiters[0]
		cv.waiters = cv.waiters[1:]
	}
	cv.wl.Unlock()
	if w != nil {
		cv.sched.Unblock(w)
	}
}

// Broadcast wakes every waiting task. Not used by the original's
// ioqueue (which only ever needs to wake one side), but useful for
// devio's console writers; kept minimal and built from Signal.
func (cv *CondVar) Broadcast() {
	for {
		cv.wl.Lock()
		empty := len(cv.waiters) == 0
		cv.wl.Unlock()
		if empty {
			return
		}
		cv.Signal()
	}
}
