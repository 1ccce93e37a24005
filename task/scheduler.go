package task

import (
	"sync"
	"time"
)

// Scheduler is the single-CPU round-robin scheduler: a ready queue, an
// all-task list, PID allocation, and the tick/sleep bookkeeping that
// drives preemption. Exactly one Scheduler exists per booted kernel
// (spec.md §9 "Global mutable state").
//
// mu plays the role of "interrupts disabled": every section that
// touches the ready queue or a TCB's status holds it, matching the
// original's cli/sti discipline (spec.md §5, §9).
type Scheduler struct {
	mu      sync.Mutex
	ready   queue
	all     []*TCB
	current *TCB
	idle    *TCB

	pidMu   sync.Mutex
	nextPID uint32

	sleepMu  sync.Mutex
	sleeping map[*TCB]uint64
	clock    uint64
	stopTick chan struct{}
}

// New creates a scheduler with its idle task already running. Callers
// must call Start to begin the first task.
func New() *Scheduler {
	s := &Scheduler{sleeping: make(map[*TCB]uint64)}
	s.idle = newTCB("idle", 10, func(t *TCB) {
		for {
			s.Block(Hanging)
		}
	})
	s.idle.PID = s.allocPID()
	s.all = append(s.all, s.idle)
	go s.run(s.idle)
	return s
}

func (s *Scheduler) allocPID() uint32 {
	s.pidMu.Lock()
	defer s.pidMu.Unlock()
	pid := s.nextPID
	s.nextPID++
	return pid
}

// Spawn creates a new task (thread_start) and places it on the ready
// queue. The task's goroutine parks immediately, waiting for the
// scheduler to grant it the CPU for the first time.
func (s *Scheduler) Spawn(name string, priority int, fn func(*TCB)) *TCB {
	t := newTCB(name, priority, fn)
	t.PID = s.allocPID()

	s.mu.Lock()
	s.all = append(s.all, t)
	s.ready.pushBack(t)
	s.mu.Unlock()

	go s.run(t)
	return t
}

func (s *Scheduler) run(t *TCB) {
	<-t.runnable
	t.fn(t)
	s.exit(t)
}

func (s *Scheduler) exit(t *TCB) {
	s.mu.Lock()
	t.status = Died
	s.scheduleLocked()
	s.mu.Unlock()
	close(t.exited)
}

// Start hands the CPU to the first ready task, blocking the calling
// goroutine (the "boot thread") until the scheduler itself has a
// current task.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.scheduleLocked()
	s.mu.Unlock()
}

// Current returns the task the scheduler believes is running. Safe to
// call from any goroutine; it is informational only, since in this
// cooperative model only the current task's own goroutine is making
// progress anyway.
func (s *Scheduler) Current() *TCB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Yield implements thread_yield: move the running task to the tail of
// the ready queue and hand the CPU to the next ready task.
func (s *Scheduler) Yield(t *TCB) {
	t.verify()
	s.mu.Lock()
	s.scheduleLocked()
	s.mu.Unlock()
	<-t.runnable
}

// Block implements thread_block: mark t with the given non-ready status
// (BLOCKED, WAITING or HANGING) and hand the CPU to the next ready
// task. Callers must already hold whatever invariant (e.g. having
// pushed themselves onto a waiter list) needs to survive across the
// block/unblock pair — mirroring the original's "interrupts disabled
// across append-to-waiters-then-block".
func (s *Scheduler) Block(status Status) {
	t := s.Current()
	t.verify()
	s.mu.Lock()
	t.status = status
	s.scheduleLocked()
	s.mu.Unlock()
	<-t.runnable
}

// Unblock implements thread_unblock: push t to the FRONT of the ready
// queue and mark it READY. Panics if t is already on the ready queue,
// matching the original's ASSERT.
func (s *Scheduler) Unblock(t *TCB) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready.contains(t) {
		panic("task: thread_unblock on a task already ready")
	}
	t.status = Ready
	s.ready.pushFront(t)
}

// TickCheck is the cooperative stand-in for a timer interrupt firing
// mid-task: a running task calls it at a safe point (typically once per
// loop iteration of any unbounded work) and the scheduler decrements
// its remaining tick budget, rescheduling if it has hit zero. A literal
// hardware timer cannot be modelled without the ability to suspend a
// goroutine from the outside, so this package asks cooperating code to
// call in instead — every blocking primitive in ksync already does,
// which is the only other place spec.md requires a suspension point.
func (s *Scheduler) TickCheck(t *TCB) {
	t.verify()
	s.mu.Lock()
	t.ticks--
	if t.ticks > 0 {
		s.mu.Unlock()
		return
	}
	s.scheduleLocked()
	s.mu.Unlock()
	<-t.runnable
}

// scheduleLocked implements schedule() from spec.md §4.2. Caller must
// hold s.mu.
func (s *Scheduler) scheduleLocked() {
	if cur := s.current; cur != nil && cur.status == Running {
		cur.status = Ready
		cur.ticks = cur.Priority
		s.ready.pushBack(cur)
	}

	if s.ready.empty() {
		// The idle task is never left sitting in the ready queue (it is
		// only ever dispatched straight off this fallback), so there is
		// nothing to deduplicate: every time the real ready queue runs
		// dry, idle is unconditionally resurrected to fill the gap,
		// whatever status its last run left it in (including its
		// self-inflicted Hanging on block). This is what "blocks itself
		// each iteration and executes sti;hlt on wake" degenerates to
		// without a real timer interrupt to do the waking.
		s.idle.status = Ready
		s.ready.pushFront(s.idle)
	}

	next := s.ready.popFront()
	next.status = Running
	next.elapsed++
	s.current = next
	next.runnable <- struct{}{}
}

// StartTimer begins the simulated PIT: every period, the global tick
// counter advances and any sleeping task whose wake time has arrived is
// unblocked. Call Stop to halt it.
func (s *Scheduler) StartTimer(period time.Duration) {
	s.stopTick = make(chan struct{})
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.advanceClock()
			case <-s.stopTick:
				return
			}
		}
	}()
}

// Stop halts the simulated timer.
func (s *Scheduler) Stop() {
	if s.stopTick != nil {
		close(s.stopTick)
	}
}

func (s *Scheduler) advanceClock() {
	s.sleepMu.Lock()
	s.clock++
	now := s.clock
	var woken []*TCB
	for t, wakeAt := range s.sleeping {
		if now >= wakeAt {
			woken = append(woken, t)
			delete(s.sleeping, t)
		}
	}
	s.sleepMu.Unlock()

	for _, t := range woken {
		s.Unblock(t)
	}
}

// Sleep implements sys_milisleep/sys_sleep: the calling task blocks
// until at least ticks timer ticks have elapsed, per spec.md §4.2 and
// §5 ("sleeps are timeout-shaped yields").
func (s *Scheduler) Sleep(t *TCB, ticks uint64) {
	s.sleepMu.Lock()
	s.sleeping[t] = s.clock + ticks
	s.sleepMu.Unlock()
	s.Block(Waiting)
}

// AllTasks returns a snapshot of every task the scheduler knows about.
func (s *Scheduler) AllTasks() []*TCB {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*TCB, len(s.all))
	copy(out, s.all)
	return out
}
