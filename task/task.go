// Package task implements the kernel's thread and process model: the
// task control block, the ready queue, and a cooperative round-robin
// scheduler. A real kernel preempts a task mid-instruction off a timer
// interrupt and resumes it by restoring saved registers; a goroutine
// cannot be suspended from the outside, so here a "context switch" is a
// baton handed between goroutines over a channel, and preemption on
// tick-exhaustion happens at explicit checkpoints (TickCheck) a running
// task calls, the same way every blocking call in this package already
// is one. See Scheduler for the full algorithm.
package task

import (
	"fmt"

	"github.com/elinor-voss/protokernel/mm"
)

// Status mirrors enum task_status from the original kernel/thread.h.
type Status int

const (
	Running Status = iota
	Ready
	Blocked
	Waiting
	Hanging
	Died
)

func (s Status) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Ready:
		return "READY"
	case Blocked:
		return "BLOCKED"
	case Waiting:
		return "WAITING"
	case Hanging:
		return "HANGING"
	case Died:
		return "DIED"
	default:
		return "UNKNOWN"
	}
}

// stackMagic is the sentinel value written at PCB creation and checked
// at every context switch; corruption panics (spec.md §3, §7).
const stackMagic = 0x12345678

// MaxFDs is the number of per-task file-descriptor slots; 0, 1 and 2 are
// reserved for stdin/stdout/stderr.
const MaxFDs = 32

// TCB is the task/process control block. One exists per kernel thread
// or user process.
type TCB struct {
	Name     string
	PID      uint32
	Priority int // initial tick budget
	Space    *mm.Space // nil => kernel thread sharing the master address space

	// FDTable maps a task-local descriptor to an index into the global
	// open-file table; -1 marks a free slot. Populated by the proc
	// package, declared here because it belongs to the PCB's lifetime.
	FDTable [MaxFDs]int32

	status  Status
	ticks   int
	elapsed int
	magic   uint32

	fn func(*TCB)

	// runnable is the baton: exactly one TCB's runnable channel has a
	// pending send at a time, and that TCB's goroutine is the one
	// making progress.
	runnable chan struct{}
	exited   chan struct{}
}

func newTCB(name string, priority int, fn func(*TCB)) *TCB {
	t := &TCB{
		Name:     name,
		Priority: priority,
		status:   Ready,
		ticks:    priority,
		magic:    stackMagic,
		fn:       fn,
		runnable: make(chan struct{}, 1),
		exited:   make(chan struct{}),
	}
	for i := range t.FDTable {
		t.FDTable[i] = -1
	}
	return t
}

// Status returns the task's current scheduling state.
func (t *TCB) Status() Status { return t.status }

// verify panics if the stack-overflow sentinel has been corrupted, the
// one failure mode spec.md §4.2 says is "detected only at context
// switch".
func (t *TCB) verify() {
	if t.magic != stackMagic {
		panic(fmt.Sprintf("task: stack overflow sentinel corrupted on %q", t.Name))
	}
}
