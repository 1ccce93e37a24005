// Package proc bootstraps a user process the way process_start does in
// user/process.c: give it its own address space, its own user stack,
// and an entry point to jump to. A real kernel builds an interrupt
// stack frame and executes "movl %esp; jmp intr_exit" to drop into ring
// 3; a goroutine cannot change CPU privilege rings, so here "jumping to
// user mode" means simply running the process's entry function on its
// own TCB goroutine with Space already pointing at the fresh address
// space process_start would have installed. The scheduler and the
// syscall gate only ever see a TCB with a non-nil Space, which is
// exactly the distinction spec.md draws between kernel threads and user
// processes.
package proc

import (
	"github.com/elinor-voss/protokernel/mm"
	"github.com/elinor-voss/protokernel/task"
)

// userStackPages is the number of pages process_start reserves for the
// initial user stack, grounded on its single
// get_a_page(PF_USER, USER_STACK_TOP - PG_SIZE) call.
const userStackPages = 1

// Start creates a new process named name: a fresh user address space
// from mgr, a mapped user stack at the top of that space, and a TCB
// scheduled to run entry. entry receives the TCB so it can read its PID
// or FDTable, and the Space so it can pass it to syscall.Gate.Dispatch
// by way of the TCB it's already attached to.
//
// Grounded on process_start's sequence: allocate the address space
// (get_a_page/page dir setup happens inside mgr.NewUserSpace), carve out
// the top-of-space user stack, then hand control to the entry point.
func Start(sched *task.Scheduler, mgr *mm.Manager, name string, priority int, entry func(t *task.TCB)) (*task.TCB, error) {
	sp := mgr.NewUserSpace(name)

	stackVA := mm.UserStackTop - mm.PageSize*userStackPages
	if _, ok := mgr.AllocPageAt(sp, stackVA); !ok {
		return nil, ErrNoStackPage
	}

	t := sched.Spawn(name, priority, func(t *task.TCB) {
		t.Space = sp
		entry(t)
	})
	return t, nil
}
